// Package tracing wires OpenTelemetry span export for a run and W3C trace
// context injection into outgoing requests.
package tracing

import (
	"cmp"
	"context"
	"fmt"
	"os"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/torosent/rwrk/internal/config"
)

const (
	instrumentationName = "github.com/torosent/rwrk"
	defaultServiceName  = "rwrk"
	defaultProtocol     = "grpc"
)

type exporterFunc func(ctx context.Context, endpoint string, insecure bool) (sdktrace.SpanExporter, error)

// exporters holds one OTLP span exporter constructor per supported protocol.
var exporters = map[string]exporterFunc{
	"grpc": grpcExporter,
	"http": httpExporter,
}

// Provider owns the span pipeline of one run. The zero value is a disabled
// provider whose tracer records nothing.
type Provider struct {
	tp        *sdktrace.TracerProvider
	propagate bool
}

// Init builds the span pipeline described by cfg. Tracing is off unless an
// endpoint is configured directly or through OTEL_EXPORTER_OTLP_ENDPOINT.
func Init(ctx context.Context, cfg config.TracingConfig) (*Provider, error) {
	if !cfg.Enabled() {
		return &Provider{}, nil
	}

	sampler, err := samplerFor(cfg.SampleRate)
	if err != nil {
		return nil, err
	}

	protocol := cmp.Or(strings.ToLower(strings.TrimSpace(cfg.Protocol)), defaultProtocol)
	newExporter, ok := exporters[protocol]
	if !ok {
		return nil, fmt.Errorf("unsupported OTLP protocol %q: use \"grpc\" or \"http\"", protocol)
	}
	endpoint := cmp.Or(strings.TrimSpace(cfg.Endpoint), os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	exporter, err := newExporter(ctx, endpoint, cfg.Insecure)
	if err != nil {
		return nil, fmt.Errorf("tracing exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithTelemetrySDK(),
		resource.WithAttributes(semconv.ServiceName(serviceName(cfg))),
	)
	if err != nil {
		_ = exporter.Shutdown(ctx)
		return nil, fmt.Errorf("tracing resource: %w", err)
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &Provider{
		tp: sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exporter),
			sdktrace.WithResource(res),
			sdktrace.WithSampler(sdktrace.ParentBased(sampler)),
		),
		propagate: cfg.ShouldPropagate(),
	}, nil
}

func serviceName(cfg config.TracingConfig) string {
	return cmp.Or(strings.TrimSpace(cfg.ServiceName), os.Getenv("OTEL_SERVICE_NAME"), defaultServiceName)
}

// samplerFor keeps every run span at 1, none at 0 and a trace-ID ratio in between.
func samplerFor(rate float64) (sdktrace.Sampler, error) {
	switch {
	case rate < 0 || rate > 1:
		return nil, fmt.Errorf("tracing sample_rate must be between 0.0 and 1.0, got %g", rate)
	case rate == 0:
		return sdktrace.NeverSample(), nil
	case rate == 1:
		return sdktrace.AlwaysSample(), nil
	default:
		return sdktrace.TraceIDRatioBased(rate), nil
	}
}

func grpcExporter(ctx context.Context, endpoint string, plaintext bool) (sdktrace.SpanExporter, error) {
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(endpoint)}
	if strings.Contains(endpoint, "://") {
		opts = []otlptracegrpc.Option{otlptracegrpc.WithEndpointURL(endpoint)}
	}
	if plaintext {
		opts = append(opts,
			otlptracegrpc.WithInsecure(),
			otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		)
	}
	return otlptracegrpc.New(ctx, opts...)
}

func httpExporter(ctx context.Context, endpoint string, plaintext bool) (sdktrace.SpanExporter, error) {
	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(endpoint)}
	if strings.Contains(endpoint, "://") {
		opts = []otlptracehttp.Option{otlptracehttp.WithEndpointURL(endpoint)}
	}
	if plaintext {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	return otlptracehttp.New(ctx, opts...)
}

// Tracer returns the run's tracer, or a no-op tracer when tracing is off.
func (p *Provider) Tracer() trace.Tracer {
	if p == nil || p.tp == nil {
		return noop.NewTracerProvider().Tracer(instrumentationName)
	}
	return p.tp.Tracer(instrumentationName)
}

// ShouldPropagate reports whether outgoing requests carry trace headers.
func (p *Provider) ShouldPropagate() bool {
	return p != nil && p.propagate
}

// Shutdown flushes buffered spans. It is a no-op for a disabled provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil || p.tp == nil {
		return nil
	}
	return p.tp.Shutdown(ctx)
}
