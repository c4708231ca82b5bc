// internal/fill/engine/metrics.go
package engine

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"

	"github.com/xkilldash9x/formpilot/internal/fill/strategy"
)

type instruments struct {
	outcomes     metric.Int64Counter
	runs         metric.Int64Counter
	scanDuration metric.Float64Histogram
}

// newInstruments registers the engine metrics. A failing registration degrades to a no-op
// instrument; metrics never stop a run.
func newInstruments(m metric.Meter, logger *zap.Logger) *instruments {
	ins := &instruments{}
	var err error

	if ins.outcomes, err = m.Int64Counter("formpilot.fill.outcomes",
		metric.WithDescription("Strategy outcomes per attempted key."),
		metric.WithUnit("{attempt}")); err != nil {
		logger.Warn("Failed to register outcome counter.", zap.Error(err))
		ins.outcomes = noop.Int64Counter{}
	}
	if ins.runs, err = m.Int64Counter("formpilot.fill.runs",
		metric.WithDescription("Finished fill runs by termination reason."),
		metric.WithUnit("{run}")); err != nil {
		logger.Warn("Failed to register run counter.", zap.Error(err))
		ins.runs = noop.Int64Counter{}
	}
	if ins.scanDuration, err = m.Float64Histogram("formpilot.fill.scan.duration",
		metric.WithDescription("Duration of one scan cycle."),
		metric.WithUnit("s")); err != nil {
		logger.Warn("Failed to register scan histogram.", zap.Error(err))
		ins.scanDuration = noop.Float64Histogram{}
	}
	return ins
}

func (i *instruments) outcome(ctx context.Context, o strategy.Outcome, strategyName string) {
	i.outcomes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", string(o)),
		attribute.String("strategy", strategyName),
	))
}

func (i *instruments) scan(ctx context.Context, d time.Duration) {
	i.scanDuration.Record(ctx, d.Seconds())
}

func (i *instruments) run(ctx context.Context, reason Reason) {
	i.runs.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", string(reason))))
}
