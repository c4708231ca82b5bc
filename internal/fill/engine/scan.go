// internal/fill/engine/scan.go
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xkilldash9x/formpilot/internal/browser/dom"
	"github.com/xkilldash9x/formpilot/internal/fill/strategy"
)

// retryState spaces the re-attempts of one failing key.
type retryState struct {
	bo       *backoff.ExponentialBackOff
	failures int
	next     time.Time
}

func newBackOff(o RetryOptions) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	if o.InitialInterval > 0 {
		b.InitialInterval = o.InitialInterval
	}
	if o.MaxInterval > 0 {
		b.MaxInterval = o.MaxInterval
	}
	if o.Multiplier >= 1 {
		b.Multiplier = o.Multiplier
	}
	// Never give up on time alone; the failure cap decides abandonment.
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// scan visits every pending key once, in insertion order.
func (r *Run) scan(ctx context.Context) scanResult {
	opts := r.engine.Options()

	r.mu.Lock()
	r.report.Scans++
	num := r.report.Scans
	r.mu.Unlock()

	ctx, span := r.engine.tracer.Start(ctx, "fill.scan", trace.WithAttributes(attribute.Int("scan", num)))
	defer span.End()
	started := time.Now()
	r.engine.emit(Event{RunID: r.id, Type: EventScanStarted, At: started.UTC(), Scan: num})

	if opts.ActionDelay != r.actionDelay {
		r.limiter.SetLimit(limitFor(opts.ActionDelay))
		r.actionDelay = opts.ActionDelay
	}

	var res scanResult
	if r.abort.Load() {
		res.aborted = true
		return res
	}

	resolved := 0
	for p := r.pending.Oldest(); p != nil; {
		next := p.Next()
		if ctx.Err() != nil || r.abort.Load() {
			res.aborted = true
			break
		}
		key, value := p.Key, p.Value
		if r.due(key) {
			s, out, err := r.handle(ctx, key, value)
			if r.record(ctx, key, s, out, err, opts) {
				res.activity = true
			}
			if out.Resolved() {
				resolved++
			}
		}
		p = next
	}

	r.mu.Lock()
	r.pendingCount = r.pending.Len()
	r.mu.Unlock()

	elapsed := time.Since(started)
	r.engine.metrics.scan(ctx, elapsed)
	span.SetAttributes(
		attribute.Int("scan.resolved", resolved),
		attribute.Int("scan.pending", r.pending.Len()),
		attribute.Bool("scan.activity", res.activity),
	)
	r.engine.emit(Event{RunID: r.id, Type: EventScanDone, At: time.Now().UTC(), Scan: num})
	r.diag(opts, "Scan finished.",
		zap.Int("scan", num),
		zap.Int("resolved", resolved),
		zap.Int("pending", r.pending.Len()),
		zap.Duration("elapsed", elapsed))
	return res
}

// handle locates, resolves and executes one key. Panics inside a strategy are downgraded
// to FAILED; nothing escapes the loop.
func (r *Run) handle(ctx context.Context, key string, value any) (s strategy.Strategy, out strategy.Outcome, err error) {
	defer func() {
		if p := recover(); p != nil {
			out, err = strategy.Failed, fmt.Errorf("strategy panicked: %v", p)
		}
	}()

	reg := r.engine.registry
	var el dom.Element

	// Composite strategies claim their key before any lookup and locate their own controls.
	if s = reg.Resolve(key, nil, r.data); s == nil {
		var found bool
		el, found, err = r.loc.Locate(ctx, key)
		if err != nil {
			return nil, strategy.Failed, err
		}
		if !found {
			return nil, strategy.NotYetPresent, nil
		}
		if s = reg.Resolve(key, el, r.data); s == nil {
			return nil, strategy.Failed, fmt.Errorf("%w: <%s> of kind %q", ErrNoStrategy, el.Tag(), el.Kind())
		}
	}

	if err := r.limiter.Wait(ctx); err != nil {
		return s, strategy.Failed, err
	}
	out, err = s.Execute(ctx, r, el, value, key, r.data)
	if err != nil {
		out = strategy.Failed
	}
	return s, out, err
}

// record applies an outcome to the pending set and the report. It returns true when the
// outcome counts as activity.
func (r *Run) record(ctx context.Context, key string, s strategy.Strategy, out strategy.Outcome, err error, opts Options) bool {
	name := ""
	if s != nil {
		name = s.Name()
	}
	r.engine.metrics.outcome(ctx, out, name)

	ev := Event{RunID: r.id, Type: EventOutcome, At: time.Now().UTC(), Key: key, Outcome: out}
	if err != nil {
		ev.Error = err.Error()
	}
	r.engine.emit(ev)

	switch {
	case out.Resolved():
		r.pending.Delete(key)
		delete(r.retries, key)
		r.touched = append(r.touched, key)
		r.covered[key] = true
		for _, k := range s.Covers(key) {
			r.covered[k] = true
		}

		r.mu.Lock()
		r.report.Entries = append(r.report.Entries, Entry{Key: key, Outcome: out, Strategy: name, At: ev.At})
		if out == strategy.Filled {
			r.report.Filled++
		}
		r.mu.Unlock()

		r.diag(opts, "Field resolved.", zap.String("key", key), zap.String("outcome", out.String()), zap.String("strategy", name))
		return true

	case out == strategy.InProgress:
		r.diag(opts, "Field in progress.", zap.String("key", key), zap.String("strategy", name))
		return true

	case out == strategy.NotYetPresent:
		if opts.Verbose {
			r.logger.Debug("Field not present yet.", zap.String("key", key))
		}
		return false
	}

	r.fail(key, err, opts)
	return false
}

// fail schedules the next attempt of a key or abandons it once the cap is reached.
func (r *Run) fail(key string, err error, opts Options) {
	st, seen := r.retries[key]
	if !seen {
		st = &retryState{bo: newBackOff(opts.Retry)}
		r.retries[key] = st
	}
	st.failures++

	switch {
	case errors.Is(err, ErrNoStrategy) && !seen:
		r.logger.Warn("Configuration gap: no strategy applies to the control.", zap.String("key", key), zap.Error(err))
	case !seen:
		r.logger.Warn("Field could not be filled.", zap.String("key", key), zap.Error(err))
	default:
		r.diag(opts, "Field failed again.", zap.String("key", key), zap.Int("failures", st.failures), zap.Error(err))
	}

	if opts.MaxFailures > 0 && st.failures >= opts.MaxFailures {
		r.pending.Delete(key)
		delete(r.retries, key)
		r.mu.Lock()
		r.report.Abandoned = append(r.report.Abandoned, key)
		r.mu.Unlock()
		r.logger.Warn("Field abandoned after repeated failures.", zap.String("key", key), zap.Int("failures", st.failures))
		return
	}
	st.next = time.Now().Add(st.bo.NextBackOff())
}

// due reports whether a key's backoff window has elapsed.
func (r *Run) due(key string) bool {
	st, ok := r.retries[key]
	return !ok || !time.Now().Before(st.next)
}

// diag logs per-key diagnostics at info when verbose, debug otherwise.
func (r *Run) diag(opts Options, msg string, fields ...zap.Field) {
	if opts.Verbose {
		r.logger.Info(msg, fields...)
		return
	}
	r.logger.Debug(msg, fields...)
}
