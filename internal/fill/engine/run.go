// internal/fill/engine/run.go
package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	orderedmap "github.com/wk8/go-ordered-map/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/formpilot/internal/browser/dom"
	"github.com/xkilldash9x/formpilot/internal/fill/locator"
	"github.com/xkilldash9x/formpilot/internal/fill/strategy"
)

// orphanTimeout bounds the final tree query of a run.
const orphanTimeout = 5 * time.Second

// Run is one execution of the fill loop. It is not reusable once done.
type Run struct {
	id      string
	engine  *Engine
	tree    dom.Tree
	loc     *locator.Locator
	data    strategy.Data
	logger  *zap.Logger
	cancel  context.CancelFunc
	span    trace.Span
	limiter *rate.Limiter

	// -- Scan-owned state --
	// Only the in-flight scan touches these; the coordinator reads them while no scan runs.
	pending     *orderedmap.OrderedMap[string, any]
	covered     map[string]bool
	touched     []string
	composites  map[string]*strategy.CompositeState
	retries     map[string]*retryState
	actionDelay time.Duration

	abort atomic.Bool
	done  chan struct{}

	// -- Shared view, guarded by mu --
	mu           sync.Mutex
	state        State
	report       Report
	pendingCount int
}

// scanResult is what one scan tells the coordinator.
type scanResult struct {
	activity bool
	aborted  bool
}

// ID returns the run identifier.
func (r *Run) ID() string { return r.id }

// Abort requests termination. The request is cooperative: it is honored at the next tree
// change, quiescence expiry or scan start, and never interrupts an in-flight strategy call.
// It returns ErrRunFinished when the report is already final.
func (r *Run) Abort() error {
	select {
	case <-r.done:
		return ErrRunFinished
	default:
	}
	if r.abort.CompareAndSwap(false, true) {
		r.logger.Info("Abort requested.")
	}
	return nil
}

// Done is closed once the report is final.
func (r *Run) Done() <-chan struct{} { return r.done }

// Wait blocks until the run is done or ctx ends.
func (r *Run) Wait(ctx context.Context) (*Report, error) {
	select {
	case <-r.done:
		return r.Report(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Report returns a copy of the report. Before termination it is a partial view with an empty reason.
func (r *Run) Report() *Report {
	r.mu.Lock()
	defer r.mu.Unlock()
	rep := r.report
	rep.Entries = append([]Entry(nil), r.report.Entries...)
	rep.Untouched = append([]string{}, r.report.Untouched...)
	rep.Pending = append([]string{}, r.report.Pending...)
	rep.Abandoned = append([]string{}, r.report.Abandoned...)
	if rep.Entries == nil {
		rep.Entries = []Entry{}
	}
	return &rep
}

// Status returns a cheap snapshot of the run.
func (r *Run) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Status{
		RunID:   r.id,
		State:   r.state,
		Scans:   r.report.Scans,
		Filled:  r.report.Filled,
		Pending: r.pendingCount,
		Reason:  r.report.Reason,
	}
}

func (r *Run) setState(s State) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

// -- Coordinator --

// coordinate is the single consumer of every loop event. It owns the busy and rerun flags
// and the quiescence timer; scans run one at a time on a worker goroutine.
func (r *Run) coordinate(ctx context.Context, changes <-chan struct{}) {
	quiet := time.NewTimer(r.engine.Options().QuiescenceTimeout)
	defer quiet.Stop()

	scanDone := make(chan scanResult, 1)
	var followUp <-chan time.Time
	var busy, rerun, expired bool

	startScan := func() {
		busy = true
		r.setState(StateScanning)
		go func() { scanDone <- r.scan(ctx) }()
	}
	rearm := func() {
		quiet.Reset(r.engine.Options().QuiescenceTimeout)
		expired = false
	}
	finish := func(reason Reason) {
		if busy {
			<-scanDone
			busy = false
		}
		r.finish(ctx, reason)
	}

	startScan()
	for {
		select {
		case <-ctx.Done():
			finish(ReasonAborted)
			return

		case _, ok := <-changes:
			if !ok {
				changes = nil
				continue
			}
			if r.abort.Load() {
				finish(ReasonAborted)
				return
			}
			rearm()
			switch {
			case busy:
				rerun = true
			case followUp != nil:
				// Already scheduled.
			default:
				startScan()
			}

		case res := <-scanDone:
			busy = false
			if res.activity {
				rearm()
			}
			switch {
			case res.aborted:
				finish(ReasonAborted)
				return
			case r.pending.Len() == 0:
				finish(ReasonExhausted)
				return
			case expired:
				finish(ReasonQuiescence)
				return
			case rerun:
				rerun = false
				followUp = time.After(r.engine.Options().RerunYield)
			}
			r.setState(StateWaiting)

		case <-followUp:
			followUp = nil
			if r.abort.Load() {
				finish(ReasonAborted)
				return
			}
			startScan()

		case <-quiet.C:
			if r.abort.Load() {
				finish(ReasonAborted)
				return
			}
			if busy {
				// Decided once the scan reports whether it produced activity.
				expired = true
				continue
			}
			finish(ReasonQuiescence)
			return
		}
	}
}

// finish stops observing, computes the orphan diagnostic and seals the report.
func (r *Run) finish(ctx context.Context, reason Reason) {
	opts := r.engine.Options()

	octx, cancel := context.WithTimeout(context.WithoutCancel(ctx), orphanTimeout)
	orphans, err := r.orphans(octx, opts)
	cancel()
	if err != nil {
		r.logger.Warn("Could not compute orphan fields.", zap.Error(err))
	}
	r.cancel()

	pending := make([]string, 0, r.pending.Len())
	for p := r.pending.Oldest(); p != nil; p = p.Next() {
		pending = append(pending, p.Key)
	}

	r.mu.Lock()
	r.state = StateDone
	r.report.Reason = reason
	r.report.Untouched = orphans
	r.report.Pending = pending
	r.report.FinishedAt = time.Now().UTC()
	r.pendingCount = len(pending)
	filled, scans := r.report.Filled, r.report.Scans
	r.mu.Unlock()

	bg := context.WithoutCancel(ctx)
	r.engine.metrics.run(bg, reason)
	r.span.SetAttributes(
		attribute.String("run.reason", string(reason)),
		attribute.Int("run.filled", filled),
		attribute.Int("run.scans", scans),
	)
	r.span.End()

	r.logger.Info("Fill run finished.",
		zap.String("reason", string(reason)),
		zap.Int("filled", filled),
		zap.Int("pending", len(pending)),
		zap.Int("untouched", len(orphans)),
		zap.Int("scans", scans))
	r.engine.emit(Event{RunID: r.id, Type: EventDone, At: time.Now().UTC(), Reason: reason})
	close(r.done)
}

// -- strategy.Env --

var _ strategy.Env = (*Run)(nil)

func (r *Run) Locate(ctx context.Context, key string) (dom.Element, bool, error) {
	return r.loc.Locate(ctx, key)
}

func (r *Run) Tree() dom.Tree { return r.tree }

func (r *Run) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Run) Logger() *zap.Logger { return r.logger }

func (r *Run) Composite(key string) *strategy.CompositeState {
	st, ok := r.composites[key]
	if !ok {
		st = &strategy.CompositeState{}
		r.composites[key] = st
	}
	return st
}
