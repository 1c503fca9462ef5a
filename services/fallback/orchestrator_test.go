package fallback

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNew(t *testing.T) {
	t.Run("requires invoker", func(t *testing.T) {
		_, err := New(testConfig("m1"), nil, zap.NewNop())
		assert.Error(t, err)
	})

	t.Run("rejects zero attempts", func(t *testing.T) {
		cfg := testConfig("m1")
		cfg.MaxAttempts = 0
		_, err := New(cfg, newScriptedInvoker(nil), zap.NewNop())
		assert.Error(t, err)
	})

	t.Run("rejects bad backoff", func(t *testing.T) {
		cfg := testConfig("m1")
		cfg.Backoff.Multiplier = 0.1
		_, err := New(cfg, newScriptedInvoker(nil), zap.NewNop())
		assert.Error(t, err)
	})

	t.Run("nil logger allowed", func(t *testing.T) {
		o, err := New(testConfig("m1"), newScriptedInvoker(nil), nil)
		require.NoError(t, err)
		assert.Equal(t, 3, o.Config().MaxAttempts)
	})
}

// Scenario A: M1 always rate limited, M2 succeeds on its first attempt.
func TestRun_FallsBackAfterTransientExhaustion(t *testing.T) {
	invoker := newScriptedInvoker(map[string][]step{
		"m1": {{err: rateLimited()}},
		"m2": {{text: "bullish flag"}},
	})
	lister := &staticLister{models: []string{"m1", "m2"}}
	cfg := testConfig("m1", "m2")
	cfg.DiscoverModels = true
	o, sleeper := newTestOrchestrator(cfg, invoker, WithModelLister(lister))

	result, err := o.Run(context.Background(), testPayload())
	require.NoError(t, err)

	assert.Equal(t, OutcomeSucceeded, result.Outcome)
	assert.Equal(t, "m2", result.Candidate)
	assert.Equal(t, "bullish flag", result.Text)
	require.Len(t, result.Attempts, cfg.MaxAttempts+1)

	for i := 0; i < cfg.MaxAttempts; i++ {
		a := result.Attempts[i]
		assert.Equal(t, "m1", a.Candidate)
		assert.Equal(t, i+1, a.Attempt)
		assert.Equal(t, Transient, a.Classification)
		assert.False(t, a.Succeeded())
	}

	last := result.Attempts[cfg.MaxAttempts]
	assert.Equal(t, "m2", last.Candidate)
	assert.Equal(t, 1, last.Attempt)
	assert.True(t, last.Succeeded())
	assert.Equal(t, time.Duration(0), last.Wait)

	// Only the two retries on m1 wait; moving to m2 is immediate.
	assert.Len(t, sleeper.waits, cfg.MaxAttempts-1)
	assert.Equal(t, 1, lister.calls)
}

// Scenario B: a single unavailable candidate is tried exactly once.
func TestRun_UnavailableIsNotRetried(t *testing.T) {
	invoker := newScriptedInvoker(map[string][]step{
		"m1": {{err: notFound()}},
	})
	o, sleeper := newTestOrchestrator(testConfig("m1"), invoker)

	result, err := o.Run(context.Background(), testPayload())
	require.NoError(t, err)

	assert.Equal(t, OutcomeExhausted, result.Outcome)
	require.Len(t, result.Attempts, 1)
	assert.Equal(t, Unavailable, result.Attempts[0].Classification)
	assert.Empty(t, sleeper.waits)

	report := result.Report()
	assert.Equal(t, VerdictMisconfigured, report.Verdict)
}

// Scenario C: a fatal failure on M1 means M2 is never invoked.
func TestRun_FatalAbortsRemainingCandidates(t *testing.T) {
	invoker := newScriptedInvoker(map[string][]step{
		"m1": {{err: badRequest()}},
		"m2": {{text: "never"}},
	})
	o, _ := newTestOrchestrator(testConfig("m1", "m2"), invoker)

	result, err := o.Run(context.Background(), testPayload())
	require.NoError(t, err)

	assert.Equal(t, OutcomeExhausted, result.Outcome)
	require.Len(t, result.Attempts, 1)
	assert.Equal(t, Fatal, result.Attempts[0].Classification)
	assert.Equal(t, []string{"m1"}, invoker.calls)

	report := result.Report()
	assert.Equal(t, VerdictRejected, report.Verdict)
	require.Len(t, report.Candidates, 1)
	assert.Contains(t, report.Candidates[0].LastError, "invalid argument")
}

// Scenario D: a failed listing leaves the priority list untouched.
func TestRun_ListingFailureDegradesToPriorityList(t *testing.T) {
	invoker := newScriptedInvoker(map[string][]step{
		"m1": {{err: notFound()}},
		"m2": {{text: "ok"}},
	})
	lister := &staticLister{err: errors.New("listing failed")}
	cfg := testConfig("m1", "m2")
	cfg.DiscoverModels = true
	o, _ := newTestOrchestrator(cfg, invoker, WithModelLister(lister))

	candidates, err := o.Candidates(context.Background(), cfg.Priority)
	require.NoError(t, err)
	assert.Equal(t, []string{"m1", "m2"}, ids(candidates))

	result, err := o.Run(context.Background(), testPayload())
	require.NoError(t, err)
	assert.True(t, result.Succeeded())
	assert.Equal(t, "m2", result.Candidate)
	assert.Equal(t, []string{"m1", "m2"}, invoker.calls)
}

// Scenario E: an empty priority list fails before any provider call.
func TestRun_EmptyPriorityIsConfigurationError(t *testing.T) {
	invoker := newScriptedInvoker(nil)
	lister := &staticLister{models: []string{"m1"}}
	cfg := testConfig()
	cfg.DiscoverModels = true
	o, _ := newTestOrchestrator(cfg, invoker, WithModelLister(lister))

	result, err := o.Run(context.Background(), testPayload())
	assert.ErrorIs(t, err, ErrConfiguration)
	assert.Nil(t, result)
	assert.Equal(t, 0, invoker.callCount())
	assert.Equal(t, 0, lister.calls)
}

func TestRun_RetryBudgetLaw(t *testing.T) {
	for _, k := range []int{1, 2, 5} {
		invoker := newScriptedInvoker(map[string][]step{
			"m1": {{err: rateLimited()}},
			"m2": {{err: rateLimited()}},
		})
		cfg := testConfig("m1", "m2")
		cfg.MaxAttempts = k
		o, sleeper := newTestOrchestrator(cfg, invoker)

		result, err := o.Run(context.Background(), testPayload())
		require.NoError(t, err)

		assert.Equal(t, OutcomeExhausted, result.Outcome)
		assert.Len(t, result.Attempts, 2*k, "K=%d", k)
		assert.Len(t, sleeper.waits, 2*(k-1), "K=%d", k)

		report := result.Report()
		assert.Equal(t, VerdictRateLimited, report.Verdict)
		for _, c := range report.Candidates {
			assert.Equal(t, k, c.Attempts)
			assert.Equal(t, Transient, c.Final)
		}
	}
}

func TestRun_MonotonicBackoffLaw(t *testing.T) {
	invoker := newScriptedInvoker(map[string][]step{
		"m1": {
			{err: rateLimited()},
			{err: &providerErr{status: 429, msg: "too many requests", hint: 9 * time.Second}},
			{err: rateLimited()},
			{err: rateLimited()},
			{err: rateLimited()},
		},
	})
	cfg := testConfig("m1")
	cfg.MaxAttempts = 5
	cfg.Backoff = Backoff{Initial: time.Second, Max: 20 * time.Second, Multiplier: 1.5}
	o, sleeper := newTestOrchestrator(cfg, invoker)

	result, err := o.Run(context.Background(), testPayload())
	require.NoError(t, err)
	require.Len(t, result.Attempts, 5)

	assert.Equal(t, time.Duration(0), result.Attempts[0].Wait)
	for i := 1; i < len(result.Attempts); i++ {
		assert.GreaterOrEqual(t, result.Attempts[i].Wait, result.Attempts[i-1].Wait)
		assert.GreaterOrEqual(t, result.Attempts[i].Wait, cfg.Backoff.Initial)
	}
	assert.Equal(t, 9*time.Second, result.Attempts[2].Wait)
	assert.Equal(t, sleeper.waits, []time.Duration{
		result.Attempts[1].Wait,
		result.Attempts[2].Wait,
		result.Attempts[3].Wait,
		result.Attempts[4].Wait,
	})
}

func TestRun_TransientThenSuccessOnSameCandidate(t *testing.T) {
	invoker := newScriptedInvoker(map[string][]step{
		"m1": {{err: rateLimited()}, {text: "recovered"}},
		"m2": {{text: "unused"}},
	})
	o, sleeper := newTestOrchestrator(testConfig("m1", "m2"), invoker)

	result, err := o.Run(context.Background(), testPayload())
	require.NoError(t, err)

	assert.True(t, result.Succeeded())
	assert.Equal(t, "m1", result.Candidate)
	assert.Len(t, result.Attempts, 2)
	assert.Equal(t, []time.Duration{DefaultBackoff().Initial}, sleeper.waits)
	assert.Equal(t, []string{"m1", "m1"}, invoker.calls)
}

func TestRun_EmptyTextIsNeverASuccess(t *testing.T) {
	invoker := newScriptedInvoker(map[string][]step{
		"m1": {{text: "   "}},
		"m2": {{text: "unused"}},
	})
	o, _ := newTestOrchestrator(testConfig("m1", "m2"), invoker)

	result, err := o.Run(context.Background(), testPayload())
	require.NoError(t, err)

	assert.Equal(t, OutcomeExhausted, result.Outcome)
	require.Len(t, result.Attempts, 1)
	assert.ErrorIs(t, result.Attempts[0].Err, ErrEmptyResponse)
	assert.Empty(t, result.Text)
}

func TestRun_PayloadReplayedUnchanged(t *testing.T) {
	invoker := newScriptedInvoker(map[string][]step{
		"m1": {{err: rateLimited()}},
		"m2": {{err: notFound()}},
		"m3": {{text: "done"}},
	})
	o, _ := newTestOrchestrator(testConfig("m1", "m2", "m3"), invoker)

	payload := testPayload()
	result, err := o.Run(context.Background(), payload)
	require.NoError(t, err)
	require.True(t, result.Succeeded())

	require.Len(t, invoker.payloads, 5)
	for _, p := range invoker.payloads {
		assert.Equal(t, payload, p)
	}
}

func TestRun_CancelledDuringBackoff(t *testing.T) {
	invoker := newScriptedInvoker(map[string][]step{
		"m1": {{err: rateLimited()}},
		"m2": {{text: "unused"}},
	})
	o, _ := newTestOrchestrator(testConfig("m1", "m2"), invoker)

	ctx, cancel := context.WithCancel(context.Background())
	o.executor.sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}

	result, err := o.Run(ctx, testPayload())
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, result)
	assert.Len(t, result.Attempts, 1)
	assert.Equal(t, 1, invoker.callCount())
}

func TestRun_CancelledBeforeStart(t *testing.T) {
	invoker := newScriptedInvoker(map[string][]step{"m1": {{text: "unused"}}})
	o, _ := newTestOrchestrator(testConfig("m1"), invoker)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := o.Run(ctx, testPayload())
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, result)
	assert.Empty(t, result.Attempts)
	assert.Equal(t, 0, invoker.callCount())
	assert.Equal(t, VerdictIncomplete, result.Report().Verdict)
}

func TestRun_UsesFirstEnabledModelWhenNoOverlap(t *testing.T) {
	invoker := newScriptedInvoker(map[string][]step{
		"m9": {{text: "from m9"}},
	})
	lister := &staticLister{models: []string{"m9", "m8"}}
	cfg := testConfig("m1", "m2")
	cfg.DiscoverModels = true
	o, _ := newTestOrchestrator(cfg, invoker, WithModelLister(lister))

	result, err := o.Run(context.Background(), testPayload())
	require.NoError(t, err)
	assert.Equal(t, "m9", result.Candidate)
	assert.Equal(t, []string{"m9"}, invoker.calls)
}

func TestRunWithPriority_OverridesConfiguredList(t *testing.T) {
	invoker := newScriptedInvoker(map[string][]step{
		"custom": {{text: "custom answer"}},
	})
	o, _ := newTestOrchestrator(testConfig("m1"), invoker)

	result, err := o.RunWithPriority(context.Background(), []string{"custom"}, testPayload())
	require.NoError(t, err)
	assert.Equal(t, "custom", result.Candidate)
}

func TestRun_ReportsMetrics(t *testing.T) {
	invoker := newScriptedInvoker(map[string][]step{
		"m1": {{err: notFound()}},
		"m2": {{text: "ok"}},
	})
	metrics := &countingMetrics{}
	o, _ := newTestOrchestrator(testConfig("m1", "m2"), invoker, WithMetrics(metrics))

	_, err := o.Run(context.Background(), testPayload())
	require.NoError(t, err)

	assert.Len(t, metrics.attempts, 2)
	require.Len(t, metrics.reports, 1)
	assert.Equal(t, VerdictSucceeded, metrics.reports[0].Verdict)
}

func TestRun_ResultLaws(t *testing.T) {
	scripts := []map[string][]step{
		{"m1": {{err: rateLimited()}}, "m2": {{err: notFound()}}},
		{"m1": {{err: badRequest()}}},
		{"m1": {{err: notFound()}}, "m2": {{text: "ok"}}},
		{"m1": {{err: rateLimited()}, {err: rateLimited()}, {text: "third time"}}},
	}

	for _, script := range scripts {
		o, _ := newTestOrchestrator(testConfig("m1", "m2"), newScriptedInvoker(script))
		result, err := o.Run(context.Background(), testPayload())
		require.NoError(t, err)
		require.NotEmpty(t, result.Attempts)

		if result.Succeeded() {
			assert.NotEmpty(t, result.Text)
			assert.True(t, result.Attempts[len(result.Attempts)-1].Succeeded())
		} else {
			assert.Empty(t, result.Text)
			assert.Empty(t, result.Candidate)
		}
	}
}
