package fallback

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Config holds the orchestration settings. It is passed in explicitly and
// never read from process-wide state.
type Config struct {
	// Priority lists model identifiers, most preferred first
	Priority []string

	// MaxAttempts is the per-candidate attempt budget (K)
	MaxAttempts int

	// Backoff is the delay schedule between transient retries
	Backoff Backoff

	// DiscoverModels filters the priority list through the provider's
	// enabled-model listing before each run
	DiscoverModels bool
}

// DefaultConfig returns defaults for everything except the priority list.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:    3,
		Backoff:        DefaultBackoff(),
		DiscoverModels: true,
	}
}

// Validate checks the retry budget and backoff schedule. The priority list is
// checked per run so that callers may supply their own.
func (c Config) Validate() error {
	if c.MaxAttempts < 1 {
		return fmt.Errorf("max attempts must be at least 1, got %d", c.MaxAttempts)
	}
	if err := c.Backoff.Validate(); err != nil {
		return err
	}
	return nil
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithModelLister enables enabled-set filtering through lister.
func WithModelLister(lister ModelLister) Option {
	return func(o *Orchestrator) {
		o.lister = lister
	}
}

// WithMetrics attaches a metrics sink.
func WithMetrics(metrics Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = metrics
	}
}

// Orchestrator drives candidates through the executor one at a time.
type Orchestrator struct {
	config   Config
	executor *Executor
	lister   ModelLister
	metrics  Metrics
	logger   *zap.Logger
}

// New creates an orchestrator.
func New(cfg Config, invoker Invoker, logger *zap.Logger, opts ...Option) (*Orchestrator, error) {
	if invoker == nil {
		return nil, fmt.Errorf("fallback: invoker is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("fallback: invalid config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	o := &Orchestrator{
		config: cfg,
		logger: logger,
	}
	for _, opt := range opts {
		opt(o)
	}

	o.executor = NewExecutor(invoker, cfg.MaxAttempts, cfg.Backoff, logger)
	o.executor.metrics = o.metrics

	return o, nil
}

// Config returns the orchestrator's configuration.
func (o *Orchestrator) Config() Config {
	return o.config
}

// Run orchestrates one request over the configured priority list.
func (o *Orchestrator) Run(ctx context.Context, payload Payload) (*Result, error) {
	return o.RunWithPriority(ctx, o.config.Priority, payload)
}

// RunWithPriority orchestrates one request over the given priority list.
//
// The returned error is ErrConfiguration when priority is empty (no provider
// call is made) or the context error when the caller abandoned the run; in
// the latter case the partial result is returned alongside it. Otherwise the
// result is either succeeded or exhausted.
func (o *Orchestrator) RunWithPriority(ctx context.Context, priority []string, payload Payload) (*Result, error) {
	candidates, err := o.Candidates(ctx, priority)
	if err != nil {
		return nil, err
	}
	return o.coordinate(ctx, candidates, payload.clone())
}

// Candidates resolves the ordered candidate list for priority, consulting the
// model lister when discovery is enabled. A listing failure degrades to the
// unfiltered priority list.
func (o *Orchestrator) Candidates(ctx context.Context, priority []string) ([]Candidate, error) {
	if len(dedupe(priority)) == 0 {
		return nil, ErrConfiguration
	}

	if !o.config.DiscoverModels || o.lister == nil {
		return SelectCandidates(priority, nil, false)
	}

	enabled, err := o.lister.ListEnabledModels(ctx)
	if err != nil {
		o.logger.Warn("model listing failed, trying priority list unfiltered", zap.Error(err))
		return SelectCandidates(priority, nil, false)
	}

	candidates, err := SelectCandidates(priority, enabled, true)
	if err != nil {
		return nil, err
	}

	o.logger.Debug("candidates selected",
		zap.Strings("priority", priority),
		zap.Int("enabled", len(enabled)),
		zap.Int("candidates", len(candidates)))

	return candidates, nil
}

type state int

const (
	stateIdle state = iota
	stateTrying
	stateSucceeded
	stateExhausted
)

// coordinate is the fallback state machine: Idle -> TryingCandidate ->
// (Succeeded | Exhausted). Fatal failures jump straight to Exhausted.
func (o *Orchestrator) coordinate(ctx context.Context, candidates []Candidate, payload Payload) (*Result, error) {
	result := &Result{
		Outcome:  OutcomeExhausted,
		Attempts: make([]AttemptRecord, 0, len(candidates)*o.config.MaxAttempts),
	}

	current := stateIdle
	next := 0

	for {
		switch current {
		case stateIdle:
			if err := ctx.Err(); err != nil {
				return result, err
			}
			current = stateTrying

		case stateTrying:
			if next >= len(candidates) {
				current = stateExhausted
				continue
			}

			candidate := candidates[next]
			next++

			outcome := o.executor.Execute(ctx, candidate, payload)
			result.Attempts = append(result.Attempts, outcome.Attempts...)

			if outcome.Err != nil {
				o.logger.Info("orchestration cancelled",
					zap.String("candidate", candidate.ID),
					zap.Int("attempts", len(result.Attempts)),
					zap.Error(outcome.Err))
				return result, outcome.Err
			}

			switch outcome.Classification {
			case Unclassified:
				result.Text = outcome.Text
				result.Candidate = candidate.ID
				current = stateSucceeded

			case Fatal:
				o.logger.Error("fatal provider failure, aborting remaining candidates",
					zap.String("candidate", candidate.ID),
					zap.Int("skipped", len(candidates)-next),
					zap.Error(lastError(outcome.Attempts)))
				current = stateExhausted

			default:
				if next < len(candidates) {
					o.logger.Info("falling back to next candidate",
						zap.String("from", candidate.ID),
						zap.String("to", candidates[next].ID),
						zap.Stringer("reason", outcome.Classification))
				}
			}

		case stateSucceeded:
			result.Outcome = OutcomeSucceeded
			o.observe(result)
			return result, nil

		case stateExhausted:
			result.Outcome = OutcomeExhausted
			report := o.observe(result)
			o.logger.Warn("all candidates exhausted",
				zap.String("verdict", string(report.Verdict)),
				zap.String("summary", report.Summary()))
			return result, nil
		}
	}
}

func (o *Orchestrator) observe(result *Result) *Report {
	report := result.Report()
	if o.metrics != nil {
		o.metrics.ObserveOutcome(report)
	}
	return report
}

func lastError(attempts []AttemptRecord) error {
	if len(attempts) == 0 {
		return nil
	}
	return attempts[len(attempts)-1].Err
}
