package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/formpilot/internal/browser/dom"
	"github.com/xkilldash9x/formpilot/internal/browser/htmldom"
	"github.com/xkilldash9x/formpilot/internal/fill/strategy"
	"github.com/xkilldash9x/formpilot/internal/scenario"
)

func testOptions() Options {
	opts := DefaultOptions()
	opts.QuiescenceTimeout = 150 * time.Millisecond
	opts.RerunYield = time.Millisecond
	opts.Retry = RetryOptions{InitialInterval: time.Millisecond, MaxInterval: 5 * time.Millisecond, Multiplier: 2}
	return opts
}

func newTestEngine(t *testing.T, opts Options, reg *strategy.Registry, logger *zap.Logger, options ...Option) *Engine {
	t.Helper()
	if logger == nil {
		logger = zaptest.NewLogger(t)
	}
	e, err := New(opts, reg, logger, options...)
	require.NoError(t, err)
	return e
}

func mustDoc(t *testing.T, page string) *htmldom.Document {
	t.Helper()
	d, err := htmldom.ParseString(page)
	require.NoError(t, err)
	return d
}

func record(t *testing.T, doc string) *scenario.Record {
	t.Helper()
	rec, err := scenario.Parse([]byte(doc), scenario.DefaultOptions())
	require.NoError(t, err)
	return rec
}

func wait(t *testing.T, r *Run) *Report {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	rep, err := r.Wait(ctx)
	require.NoError(t, err, "run did not terminate")
	return rep
}

// eventLog collects run events.
type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) sink(ev Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) outcomes(key string) []strategy.Outcome {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []strategy.Outcome
	for _, ev := range l.events {
		if ev.Type == EventOutcome && ev.Key == key {
			out = append(out, ev.Outcome)
		}
	}
	return out
}

// chanTree hands the test control over change notifications.
type chanTree struct {
	*htmldom.Document
	changes chan struct{}
}

func (c *chanTree) Observe(context.Context) (<-chan struct{}, error) { return c.changes, nil }

var _ dom.Tree = (*chanTree)(nil)

// funcStrategy claims one key without an element and runs fn.
type funcStrategy struct {
	strategy.Base
	key string
	fn  func(ctx context.Context) (strategy.Outcome, error)
}

func (f *funcStrategy) Name() string { return "func" }

func (f *funcStrategy) Matches(key string, _ dom.Element, _ strategy.Data) bool { return key == f.key }

func (f *funcStrategy) Execute(ctx context.Context, _ strategy.Env, _ dom.Element, _ any, _ string, _ strategy.Data) (strategy.Outcome, error) {
	return f.fn(ctx)
}
