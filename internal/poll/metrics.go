package poll

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/thebtf/jules-command/pkg/models"
)

const meterName = "github.com/thebtf/jules-command/internal/poll"

// metrics holds the poll instruments. With no SDK installed they are no-ops.
type metrics struct {
	cycles   metric.Int64Counter
	polls    metric.Int64Counter
	stalls   metric.Int64Counter
	prSyncs  metric.Int64Counter
	duration metric.Float64Histogram
}

func newMetrics(meter metric.Meter) (*metrics, error) {
	if meter == nil {
		meter = otel.Meter(meterName)
	}

	cycles, err := meter.Int64Counter("jules.poll.cycles",
		metric.WithDescription("Completed poll cycles"))
	if err != nil {
		return nil, err
	}
	polls, err := meter.Int64Counter("jules.poll.sessions",
		metric.WithDescription("Session polls by outcome"))
	if err != nil {
		return nil, err
	}
	stalls, err := meter.Int64Counter("jules.poll.stalls",
		metric.WithDescription("Stalls detected by rule"))
	if err != nil {
		return nil, err
	}
	prSyncs, err := meter.Int64Counter("jules.poll.pr_syncs",
		metric.WithDescription("Pull request syncs by outcome"))
	if err != nil {
		return nil, err
	}
	duration, err := meter.Float64Histogram("jules.poll.cycle.duration",
		metric.WithDescription("Poll cycle wall time"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	return &metrics{
		cycles:   cycles,
		polls:    polls,
		stalls:   stalls,
		prSyncs:  prSyncs,
		duration: duration,
	}, nil
}

func (m *metrics) sessionPolled(ctx context.Context, res models.PollResult) {
	outcome := "updated"
	if !res.Updated {
		outcome = "error"
	}
	m.polls.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	if res.Stall != nil {
		m.stalls.Add(ctx, 1, metric.WithAttributes(attribute.String("rule", res.Stall.RuleID)))
	}
}

func (m *metrics) prSynced(ctx context.Context, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.prSyncs.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *metrics) cycleDone(ctx context.Context, d time.Duration) {
	m.cycles.Add(ctx, 1)
	m.duration.Record(ctx, d.Seconds())
}
