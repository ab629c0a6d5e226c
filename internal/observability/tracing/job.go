package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerJobs = "kantoor/jobs"

// StartJobSpan opens an internal root span for background work such as a
// scheduled sync tick. Call the returned func with the job's error.
func StartJobSpan(ctx context.Context, job, runID string) (context.Context, func(error)) {
	ctx, span := otel.Tracer(tracerJobs).Start(ctx, "job "+job,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("kantoor.job", job),
			attribute.String("kantoor.job.run_id", runID),
		),
	)
	return ctx, func(err error) {
		if err != nil {
			if safeErr := SafeError(err); safeErr != nil {
				span.RecordError(safeErr)
			}
			span.SetStatus(codes.Error, "job failed")
		}
		span.End()
	}
}
