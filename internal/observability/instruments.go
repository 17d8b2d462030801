package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Instruments holds the supervisor's domain metrics.
type Instruments struct {
	jobsProcessed  metric.Int64Counter
	engineRestarts metric.Int64Counter
	jobDuration    metric.Float64Histogram
}

// NewInstruments registers the supervisor's metrics on the global meter provider.
func NewInstruments() (*Instruments, error) {
	meter := otel.Meter("comfyguard-supervisor")

	jobs, err := meter.Int64Counter("comfyguard.jobs.processed",
		metric.WithDescription("Jobs processed, partitioned by terminal state"),
	)
	if err != nil {
		return nil, fmt.Errorf("register jobs counter: %w", err)
	}

	restarts, err := meter.Int64Counter("comfyguard.engine.restarts",
		metric.WithDescription("Engine restarts, partitioned by trigger (manual, crash, health)"),
	)
	if err != nil {
		return nil, fmt.Errorf("register restarts counter: %w", err)
	}

	duration, err := meter.Float64Histogram("comfyguard.job.duration_seconds",
		metric.WithDescription("Wall-clock time from job submission to terminal state"),
	)
	if err != nil {
		return nil, fmt.Errorf("register duration histogram: %w", err)
	}

	return &Instruments{
		jobsProcessed:  jobs,
		engineRestarts: restarts,
		jobDuration:    duration,
	}, nil
}

// RecordJob records one finished job with its terminal state and duration.
func (i *Instruments) RecordJob(ctx context.Context, state string, seconds float64) {
	if i == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("state", state))
	i.jobsProcessed.Add(ctx, 1, attrs)
	i.jobDuration.Record(ctx, seconds, attrs)
}

// RecordRestart records one engine restart with the trigger that caused it.
func (i *Instruments) RecordRestart(ctx context.Context, trigger string) {
	if i == nil {
		return
	}
	i.engineRestarts.Add(ctx, 1, metric.WithAttributes(attribute.String("trigger", trigger)))
}
