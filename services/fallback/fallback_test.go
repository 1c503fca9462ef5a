package fallback

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// providerErr mimics a provider error carrying status, code and retry hint.
type providerErr struct {
	status int
	code   string
	msg    string
	hint   time.Duration
}

func (e *providerErr) Error() string            { return e.msg }
func (e *providerErr) HTTPStatus() int          { return e.status }
func (e *providerErr) ErrorCode() string        { return e.code }
func (e *providerErr) RetryAfter() time.Duration { return e.hint }

func rateLimited() error {
	return &providerErr{status: 429, code: "RESOURCE_EXHAUSTED", msg: "Resource has been exhausted (e.g. check quota)."}
}

func notFound() error {
	return &providerErr{status: 404, code: "NOT_FOUND", msg: "models/gemini-x is not found for API version v1beta"}
}

func badRequest() error {
	return &providerErr{status: 400, code: "INVALID_ARGUMENT", msg: "Request contains an invalid argument."}
}

type step struct {
	text string
	err  error
}

// scriptedInvoker replays a per-candidate script; the last step repeats.
type scriptedInvoker struct {
	mu       sync.Mutex
	scripts  map[string][]step
	calls    []string
	payloads []Payload
}

func newScriptedInvoker(scripts map[string][]step) *scriptedInvoker {
	return &scriptedInvoker{scripts: scripts}
}

func (s *scriptedInvoker) Invoke(ctx context.Context, candidateID string, payload Payload) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls = append(s.calls, candidateID)
	s.payloads = append(s.payloads, payload)

	steps := s.scripts[candidateID]
	if len(steps) == 0 {
		return "", notFound()
	}
	current := steps[0]
	if len(steps) > 1 {
		s.scripts[candidateID] = steps[1:]
	}
	return current.text, current.err
}

func (s *scriptedInvoker) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

type recordingSleeper struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (r *recordingSleeper) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.waits = append(r.waits, d)
	r.mu.Unlock()
	return ctx.Err()
}

type staticLister struct {
	models []string
	err    error
	calls  int
}

func (l *staticLister) ListEnabledModels(ctx context.Context) ([]string, error) {
	l.calls++
	return l.models, l.err
}

type countingMetrics struct {
	mu       sync.Mutex
	attempts []AttemptRecord
	reports  []*Report
}

func (m *countingMetrics) ObserveAttempt(record AttemptRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts = append(m.attempts, record)
}

func (m *countingMetrics) ObserveOutcome(report *Report) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reports = append(m.reports, report)
}

func testConfig(priority ...string) Config {
	cfg := DefaultConfig()
	cfg.Priority = priority
	cfg.DiscoverModels = false
	return cfg
}

func newTestOrchestrator(cfg Config, invoker Invoker, opts ...Option) (*Orchestrator, *recordingSleeper) {
	o, err := New(cfg, invoker, zap.NewNop(), opts...)
	if err != nil {
		panic(fmt.Sprintf("newTestOrchestrator: %v", err))
	}
	sleeper := &recordingSleeper{}
	o.executor.sleep = sleeper.sleep
	return o, sleeper
}

func testPayload() Payload {
	return Payload{
		Prompt: "Describe the chart",
		Attachments: []Attachment{
			{MimeType: "image/png", Data: []byte{0x89, 'P', 'N', 'G'}},
		},
		Options: GenerationOptions{
			Temperature: 0,
			Extra:       map[string]any{"top_k": 1},
		},
	}
}
