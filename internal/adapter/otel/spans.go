package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "worklift"

// StartExecutionSpan starts a span for one execution process.
func StartExecutionSpan(ctx context.Context, executionID, attemptID, reason string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "execution",
		trace.WithAttributes(
			attribute.String("execution.id", executionID),
			attribute.String("attempt.id", attemptID),
			attribute.String("execution.reason", reason),
		),
	)
}

// StartGitOpSpan starts a span for a git coordination operation.
func StartGitOpSpan(ctx context.Context, op, attemptID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "gitop",
		trace.WithAttributes(
			attribute.String("gitop.name", op),
			attribute.String("attempt.id", attemptID),
		),
	)
}
