package tracing

import (
	"context"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys recorded on run and worker spans.
const (
	AttrTarget     = attribute.Key("rwrk.target")
	AttrWorkers    = attribute.Key("rwrk.workers")
	AttrRequested  = attribute.Key("rwrk.requested")
	AttrWorker     = attribute.Key("rwrk.worker")
	AttrStartID    = attribute.Key("rwrk.start_id")
	AttrCompleted  = attribute.Key("rwrk.completed")
	AttrSuccessful = attribute.Key("rwrk.successful")
	AttrBytes      = attribute.Key("rwrk.bytes")
	AttrOutcome    = attribute.Key("rwrk.outcome")
)

// StartRunSpan starts the root span covering one benchmark run.
func StartRunSpan(ctx context.Context, tracer trace.Tracer, target string, workers int, requested uint64) (context.Context, trace.Span) {
	return tracer.Start(ctx, "rwrk run",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			AttrTarget.String(target),
			AttrWorkers.Int(workers),
			AttrRequested.Int64(int64(requested)),
		),
	)
}

// StartWorkerSpan starts a span for one worker's slice of the run.
func StartWorkerSpan(ctx context.Context, tracer trace.Tracer, worker int, count, startID uint64) (context.Context, trace.Span) {
	return tracer.Start(ctx, "rwrk worker",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			AttrWorker.Int(worker),
			AttrRequested.Int64(int64(count)),
			AttrStartID.Int64(int64(startID)),
		),
	)
}

// EndSpan finishes a span, recording error status if applicable.
func EndSpan(span trace.Span, err error, attrs ...attribute.KeyValue) {
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// InjectHTTPHeaders injects W3C trace context into HTTP headers.
func InjectHTTPHeaders(ctx context.Context, headers http.Header) {
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(headers))
}
