package runner

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/torosent/rwrk/internal/metrics"
)

// Executor issues a single HTTP request. *http.Client satisfies it.
// Implementations must be safe for concurrent use.
type Executor interface {
	Do(req *http.Request) (*http.Response, error)
}

// RequestBuilder constructs the request for one identifier.
type RequestBuilder interface {
	Build(ctx context.Context, id uint64) (*http.Request, error)
}

// FailureLogger is told about requests that failed before a status code was
// counted. Implementations must be safe for concurrent use.
type FailureLogger interface {
	LogFailure(worker int, id uint64, kind metrics.FailureKind, err error)
}

// Options configure the Runner.
type Options struct {
	Target        string         // label for logs and spans
	Workers       int            // number of worker goroutines
	Total         uint64         // requests to distribute across workers
	Budget        time.Duration  // wall-clock limit; 0 trips immediately
	Executor      Executor       // request executor (required)
	Builder       RequestBuilder // request constructor (required)
	RaceInFlight  bool           // abandon in-flight requests when the budget expires
	Tracer        trace.Tracer   // optional; defaults to a no-op tracer
	Logger        *slog.Logger   // optional; defaults to discarding
	FailureLogger FailureLogger  // optional
}

func (o *Options) normalize() {
	if o.Workers <= 0 {
		o.Workers = 1
	}
	if o.Budget < 0 {
		o.Budget = 0
	}
	if o.Tracer == nil {
		o.Tracer = noop.NewTracerProvider().Tracer("")
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.DiscardHandler)
	}
}

func (o Options) validate() error {
	var errs []error
	if o.Executor == nil {
		errs = append(errs, errors.New("executor is required"))
	}
	if o.Builder == nil {
		errs = append(errs, errors.New("request builder is required"))
	}
	return errors.Join(errs...)
}
