package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "reviewforge"

// Metrics holds all ReviewForge metric instruments. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	TasksSubmitted metric.Int64Counter
	TasksFinished  metric.Int64Counter
	ReviewTimeouts metric.Int64Counter
	TaskDuration   metric.Float64Histogram
	ReviewLatency  metric.Float64Histogram
	ConsensusScore metric.Float64Histogram
	RevisionCycles metric.Int64Histogram
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.TasksSubmitted, err = meter.Int64Counter("reviewforge.tasks.submitted",
		metric.WithDescription("Number of tasks submitted"))
	if err != nil {
		return nil, err
	}

	m.TasksFinished, err = meter.Int64Counter("reviewforge.tasks.finished",
		metric.WithDescription("Number of tasks reaching a terminal state"))
	if err != nil {
		return nil, err
	}

	m.ReviewTimeouts, err = meter.Int64Counter("reviewforge.reviews.timeouts",
		metric.WithDescription("Number of reviewers that did not respond in time"))
	if err != nil {
		return nil, err
	}

	m.TaskDuration, err = meter.Float64Histogram("reviewforge.task.duration_seconds",
		metric.WithDescription("Time from handoff to terminal state"))
	if err != nil {
		return nil, err
	}

	m.ReviewLatency, err = meter.Float64Histogram("reviewforge.review.latency_ms",
		metric.WithDescription("Latency of a single review call"))
	if err != nil {
		return nil, err
	}

	m.ConsensusScore, err = meter.Float64Histogram("reviewforge.consensus.score",
		metric.WithDescription("Combined consensus score per review cycle"))
	if err != nil {
		return nil, err
	}

	m.RevisionCycles, err = meter.Int64Histogram("reviewforge.task.revision_cycles",
		metric.WithDescription("Review cycles used by a finished department task"))
	if err != nil {
		return nil, err
	}

	return m, nil
}

// TaskSubmitted counts a submission by task type.
func (m *Metrics) TaskSubmitted(ctx context.Context, taskType string) {
	if m == nil {
		return
	}
	m.TasksSubmitted.Add(ctx, 1, metric.WithAttributes(attribute.String("task.type", taskType)))
}

// TaskFinished counts a terminal transition and records its duration.
func (m *Metrics) TaskFinished(ctx context.Context, taskType, state, kind string, seconds float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("task.type", taskType),
		attribute.String("task.state", state),
		attribute.String("error.kind", kind),
	)
	m.TasksFinished.Add(ctx, 1, attrs)
	m.TaskDuration.Record(ctx, seconds, attrs)
}

// ReviewObserved records one reviewer's latency, or a timeout.
func (m *Metrics) ReviewObserved(ctx context.Context, reviewerID string, latencyMS float64, timedOut bool) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("reviewer.id", reviewerID))
	if timedOut {
		m.ReviewTimeouts.Add(ctx, 1, attrs)
		return
	}
	m.ReviewLatency.Record(ctx, latencyMS, attrs)
}

// ConsensusReached records the combined score of one cycle.
func (m *Metrics) ConsensusReached(ctx context.Context, decision string, score float64) {
	if m == nil {
		return
	}
	m.ConsensusScore.Record(ctx, score, metric.WithAttributes(attribute.String("consensus.decision", decision)))
}

// CyclesUsed records how many review cycles a task consumed.
func (m *Metrics) CyclesUsed(ctx context.Context, cycles int) {
	if m == nil {
		return
	}
	m.RevisionCycles.Record(ctx, int64(cycles))
}
