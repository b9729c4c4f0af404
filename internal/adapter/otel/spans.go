package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "forgeflow"

// StartTaskSpan starts a span covering one task lifecycle operation.
func StartTaskSpan(ctx context.Context, op, taskID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, op,
		trace.WithAttributes(
			attribute.String("task.id", taskID),
		),
	)
}

// StartStagingSpan starts a span for a stage or commit operation.
func StartStagingSpan(ctx context.Context, op string, fileCount int) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, op,
		trace.WithAttributes(
			attribute.Int("staging.files", fileCount),
		),
	)
}

// StartWorktreeSpan starts a span for a worktree operation.
func StartWorktreeSpan(ctx context.Context, op, specName string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, op,
		trace.WithAttributes(
			attribute.String("worktree.spec", specName),
		),
	)
}
