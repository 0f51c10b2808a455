package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "reviewforge"

// StartTaskSpan starts a span for a task's handler execution.
func StartTaskSpan(ctx context.Context, taskID, taskType, actorID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "task",
		trace.WithAttributes(
			attribute.String("task.id", taskID),
			attribute.String("task.type", taskType),
			attribute.String("actor.id", actorID),
		),
	)
}

// StartCycleSpan starts a span for one review cycle.
func StartCycleSpan(ctx context.Context, taskID, revisionID string, cycle int) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "review_cycle",
		trace.WithAttributes(
			attribute.String("task.id", taskID),
			attribute.String("revision.id", revisionID),
			attribute.Int("cycle", cycle),
		),
	)
}

// StartReviewSpan starts a span for a single reviewer call.
func StartReviewSpan(ctx context.Context, reviewerID, revisionID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "review",
		trace.WithAttributes(
			attribute.String("reviewer.id", reviewerID),
			attribute.String("revision.id", revisionID),
		),
	)
}

// StartDiffSpan starts a span for a diff computation.
func StartDiffSpan(ctx context.Context, granularity string, beforeLen, afterLen int) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "diff",
		trace.WithAttributes(
			attribute.String("diff.granularity", granularity),
			attribute.Int("diff.before_len", beforeLen),
			attribute.Int("diff.after_len", afterLen),
		),
	)
}
