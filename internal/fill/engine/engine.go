// internal/fill/engine/engine.go
//
// Package engine reconciles normalized scenario data against a mutating element tree.
// One Engine holds configuration; every Start creates an independent Run that owns
// its pending set and terminates exactly once.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	orderedmap "github.com/wk8/go-ordered-map/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/formpilot/internal/browser/dom"
	"github.com/xkilldash9x/formpilot/internal/fill/locator"
	"github.com/xkilldash9x/formpilot/internal/fill/normalize"
	"github.com/xkilldash9x/formpilot/internal/fill/strategy"
	"github.com/xkilldash9x/formpilot/internal/scenario"
)

const instrumentationName = "github.com/xkilldash9x/formpilot/internal/fill/engine"

var (
	// ErrNoStrategy marks a present control no registered strategy claims.
	ErrNoStrategy = errors.New("no strategy applies to the control")
	// ErrRunFinished is returned when acting on a run whose report is final.
	ErrRunFinished = errors.New("fill run already finished")
)

// Engine starts fill runs.
type Engine struct {
	opts     atomic.Pointer[Options]
	registry *strategy.Registry
	logger   *zap.Logger
	tracer   trace.Tracer
	meter    metric.Meter
	sink     EventSink
	metrics  *instruments
}

// Option configures an Engine.
type Option func(*Engine)

// WithTracer overrides the global tracer provider.
func WithTracer(tp trace.TracerProvider) Option {
	return func(e *Engine) { e.tracer = tp.Tracer(instrumentationName) }
}

// WithMeter overrides the global meter provider.
func WithMeter(mp metric.MeterProvider) Option {
	return func(e *Engine) { e.meter = mp.Meter(instrumentationName) }
}

// WithEventSink forwards run events to sink.
func WithEventSink(sink EventSink) Option {
	return func(e *Engine) { e.sink = sink }
}

// New creates an engine. A nil registry selects the builtin composites and generic strategies.
func New(opts Options, registry *strategy.Registry, logger *zap.Logger, options ...Option) (*Engine, error) {
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("invalid engine options: %w", err)
	}
	if registry == nil {
		reg, err := strategy.DefaultRegistry(strategy.BuiltinComposites(), strategy.DefaultCompositeOptions())
		if err != nil {
			return nil, fmt.Errorf("failed to build default registry: %w", err)
		}
		registry = reg
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	e := &Engine{
		registry: registry,
		logger:   logger.Named("engine"),
		tracer:   otel.Tracer(instrumentationName),
		meter:    otel.Meter(instrumentationName),
	}
	for _, o := range options {
		o(e)
	}
	e.metrics = newInstruments(e.meter, e.logger)
	e.opts.Store(&opts)
	return e, nil
}

// Options returns the current configuration.
func (e *Engine) Options() Options { return *e.opts.Load() }

// UpdateOptions replaces the configuration. Running loops observe the change at their next
// checkpoint; the key attribute and normalization conventions only apply to new runs.
func (e *Engine) UpdateOptions(opts Options) error {
	if err := opts.Validate(); err != nil {
		return err
	}
	e.opts.Store(&opts)
	e.logger.Info("Engine options updated.",
		zap.Bool("verbose", opts.Verbose),
		zap.Duration("quiescence_timeout", opts.QuiescenceTimeout),
		zap.Duration("action_delay", opts.ActionDelay))
	return nil
}

// Registry returns the strategy registry runs resolve against.
func (e *Engine) Registry() *strategy.Registry { return e.registry }

// Start normalizes the record, subscribes to the tree and launches the loop. It returns
// immediately; completion is signalled through the Run. Malformed input fails here and
// no scan is ever started for it.
func (e *Engine) Start(ctx context.Context, tree dom.Tree, rec *scenario.Record) (*Run, error) {
	if tree == nil {
		return nil, errors.New("no element tree to fill")
	}
	opts := e.Options()

	norm, err := normalize.Normalize(rec, e.registry, opts.Normalize)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	runCtx, cancel := context.WithCancel(ctx)
	runCtx, span := e.tracer.Start(runCtx, "fill.run", trace.WithAttributes(
		attribute.String("run.id", id),
		attribute.Int("run.fields", len(norm.Fields)),
	))

	changes, err := tree.Observe(runCtx)
	if err != nil {
		span.End()
		cancel()
		return nil, fmt.Errorf("failed to observe element tree: %w", err)
	}

	pending := orderedmap.New[string, any]()
	for _, f := range norm.Fields {
		pending.Set(f.Key, f.Value)
	}

	r := &Run{
		id:         id,
		engine:     e,
		tree:       tree,
		loc:        locator.New(tree, opts.KeyAttribute),
		data:       norm.Context,
		pending:    pending,
		covered:    make(map[string]bool),
		composites: make(map[string]*strategy.CompositeState),
		retries:    make(map[string]*retryState),
		limiter:    rate.NewLimiter(limitFor(opts.ActionDelay), 1),
		logger:     e.logger.With(zap.String("run_id", id)),
		cancel:     cancel,
		span:       span,
		done:       make(chan struct{}),
		state:      StateIdle,
		report: Report{
			RunID:     id,
			Entries:   []Entry{},
			Untouched: []string{},
			Pending:   []string{},
			Abandoned: []string{},
			StartedAt: time.Now().UTC(),
		},
		pendingCount: pending.Len(),
	}
	r.actionDelay = opts.ActionDelay

	r.logger.Info("Fill run started.",
		zap.Int("fields", len(norm.Fields)),
		zap.Int("dropped", len(norm.Dropped)),
		zap.Duration("quiescence_timeout", opts.QuiescenceTimeout))

	go r.coordinate(runCtx, changes)
	return r, nil
}

func (e *Engine) emit(ev Event) {
	if e.sink != nil {
		e.sink(ev)
	}
}

func limitFor(delay time.Duration) rate.Limit {
	if delay <= 0 {
		return rate.Inf
	}
	return rate.Every(delay)
}
