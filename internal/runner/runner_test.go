package runner_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"testing/iotest"
	"time"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/torosent/rwrk/internal/config"
	"github.com/torosent/rwrk/internal/httpclient"
	"github.com/torosent/rwrk/internal/metrics"
	"github.com/torosent/rwrk/internal/runner"
)

// fakeBuilder builds GET http://fake/<id> and records every identifier it saw.
type fakeBuilder struct {
	mu      sync.Mutex
	seen    map[uint64]int
	failIDs func(id uint64) bool
}

func (b *fakeBuilder) Build(ctx context.Context, id uint64) (*http.Request, error) {
	b.mu.Lock()
	if b.seen == nil {
		b.seen = make(map[uint64]int)
	}
	b.seen[id]++
	b.mu.Unlock()

	if b.failIDs != nil && b.failIDs(id) {
		return nil, errors.New("cannot build request")
	}
	return http.NewRequestWithContext(ctx, http.MethodGet, "http://fake/"+strconv.FormatUint(id, 10), http.NoBody)
}

type executorFunc func(*http.Request) (*http.Response, error)

func (f executorFunc) Do(req *http.Request) (*http.Response, error) { return f(req) }

func requestID(t *testing.T, req *http.Request) uint64 {
	id, err := strconv.ParseUint(strings.TrimPrefix(req.URL.Path, "/"), 10, 64)
	if err != nil {
		t.Errorf("unexpected request path %q", req.URL.Path)
	}
	return id
}

func respond(status int, body []byte) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(bytes.NewReader(body)),
	}
}

func newRunner(t *testing.T, opt runner.Options) *runner.Runner {
	t.Helper()
	r, err := runner.New(opt)
	if err != nil {
		t.Fatalf("runner.New() error = %v", err)
	}
	return r
}

func TestRunCompletesEveryTask(t *testing.T) {
	const total, bodySize = 1000, 64
	body := bytes.Repeat([]byte("x"), bodySize)
	builder := &fakeBuilder{}

	r := newRunner(t, runner.Options{
		Workers: 8,
		Total:   total,
		Budget:  time.Minute,
		Builder: builder,
		Executor: executorFunc(func(*http.Request) (*http.Response, error) {
			return respond(http.StatusOK, body), nil
		}),
		RaceInFlight: true,
	})
	stats := r.Run(context.Background()).Stats()

	if stats.Completed != total || stats.Successful != total {
		t.Fatalf("completed/successful = %d/%d, want %d/%d", stats.Completed, stats.Successful, total, total)
	}
	if stats.Bytes != total*bodySize {
		t.Errorf("bytes = %d, want %d", stats.Bytes, total*bodySize)
	}
	if stats.ShortFall {
		t.Error("ShortFall = true for a complete run")
	}
	if stats.Errors != 0 {
		t.Errorf("Errors = %d, want 0", stats.Errors)
	}

	if len(builder.seen) != total {
		t.Fatalf("saw %d distinct identifiers, want %d", len(builder.seen), total)
	}
	for id := uint64(0); id < total; id++ {
		if builder.seen[id] != 1 {
			t.Fatalf("identifier %d built %d times", id, builder.seen[id])
		}
	}
}

func TestRunCountsNon2xxAsUnsuccessful(t *testing.T) {
	const total, k = 100, 7

	r := newRunner(t, runner.Options{
		Workers: 3,
		Total:   total,
		Budget:  time.Minute,
		Builder: &fakeBuilder{},
		Executor: executorFunc(func(req *http.Request) (*http.Response, error) {
			if (requestID(t, req)+1)%k == 0 {
				return respond(http.StatusServiceUnavailable, nil), nil
			}
			return respond(http.StatusOK, []byte("ok")), nil
		}),
	})
	stats := r.Run(context.Background()).Stats()

	if stats.Completed != total {
		t.Fatalf("completed = %d, want %d", stats.Completed, total)
	}
	if want := uint64(total - total/k); stats.Successful != want {
		t.Errorf("successful = %d, want %d", stats.Successful, want)
	}
	if stats.Errors != total/k {
		t.Errorf("errors = %d, want %d", stats.Errors, total/k)
	}
}

func TestRunZeroBudget(t *testing.T) {
	var calls atomic.Int64
	r := newRunner(t, runner.Options{
		Workers: 4,
		Total:   100,
		Budget:  0,
		Builder: &fakeBuilder{},
		Executor: executorFunc(func(*http.Request) (*http.Response, error) {
			calls.Add(1)
			return respond(http.StatusOK, nil), nil
		}),
	})

	done := make(chan runner.Result, 1)
	go func() { done <- r.Run(context.Background()) }()

	var res runner.Result
	select {
	case res = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("run with zero budget did not terminate")
	}

	stats := res.Stats()
	if stats.Completed > 100 {
		t.Fatalf("completed = %d exceeds total", stats.Completed)
	}
	if stats.Completed != 0 || calls.Load() != 0 {
		t.Errorf("completed = %d, executor calls = %d; want none", stats.Completed, calls.Load())
	}
	if !stats.ShortFall {
		t.Error("ShortFall = false for a run that completed nothing")
	}
	for _, w := range res.Workers {
		if w.Outcome != runner.OutcomeCancelled {
			t.Errorf("worker %d outcome = %v, want cancelled", w.Slice.Worker, w.Outcome)
		}
	}
}

func TestRunZeroTotal(t *testing.T) {
	r := newRunner(t, runner.Options{
		Workers: 4,
		Total:   0,
		Budget:  time.Minute,
		Builder: &fakeBuilder{},
		Executor: executorFunc(func(*http.Request) (*http.Response, error) {
			t.Error("executor called with zero total")
			return respond(http.StatusOK, nil), nil
		}),
	})
	res := r.Run(context.Background())
	stats := res.Stats()

	if stats.Completed != 0 || stats.Successful != 0 || stats.Bytes != 0 {
		t.Errorf("expected zero aggregate, got %+v", stats)
	}
	if stats.ShortFall {
		t.Error("ShortFall = true with nothing requested")
	}
	if len(res.Workers) != 4 {
		t.Fatalf("got %d worker results, want 4", len(res.Workers))
	}
	for _, w := range res.Workers {
		if w.Outcome != runner.OutcomeExhausted {
			t.Errorf("worker %d outcome = %v, want exhausted", w.Slice.Worker, w.Outcome)
		}
	}
}

func TestRunBodyFailureDiscardsBytes(t *testing.T) {
	r := newRunner(t, runner.Options{
		Workers: 2,
		Total:   10,
		Budget:  time.Minute,
		Builder: &fakeBuilder{},
		Executor: executorFunc(func(*http.Request) (*http.Response, error) {
			body := io.MultiReader(strings.NewReader("partial"), iotest.ErrReader(io.ErrUnexpectedEOF))
			return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(body)}, nil
		}),
	})
	stats := r.Run(context.Background()).Stats()

	if stats.Completed != 10 {
		t.Errorf("completed = %d, want 10", stats.Completed)
	}
	if stats.Successful != 0 {
		t.Errorf("successful = %d, want 0", stats.Successful)
	}
	if stats.Bytes != 0 {
		t.Errorf("bytes = %d, want 0", stats.Bytes)
	}
	if stats.Failures[metrics.FailureBody.String()] != 10 {
		t.Errorf("failures = %v", stats.Failures)
	}
}

func TestRunTransportFailureCounted(t *testing.T) {
	r := newRunner(t, runner.Options{
		Workers: 3,
		Total:   30,
		Budget:  time.Minute,
		Builder: &fakeBuilder{},
		Executor: executorFunc(func(*http.Request) (*http.Response, error) {
			return nil, errors.New("connection refused")
		}),
	})
	stats := r.Run(context.Background()).Stats()

	if stats.Completed != 30 || stats.Successful != 0 {
		t.Errorf("completed/successful = %d/%d, want 30/0", stats.Completed, stats.Successful)
	}
	if stats.Failures["transport"] != 30 {
		t.Errorf("failures = %v", stats.Failures)
	}
}

func TestRunBuildFailureCounted(t *testing.T) {
	var calls atomic.Int64
	r := newRunner(t, runner.Options{
		Workers: 2,
		Total:   20,
		Budget:  time.Minute,
		Builder: &fakeBuilder{failIDs: func(id uint64) bool { return id%2 == 1 }},
		Executor: executorFunc(func(*http.Request) (*http.Response, error) {
			calls.Add(1)
			return respond(http.StatusOK, nil), nil
		}),
	})
	stats := r.Run(context.Background()).Stats()

	if stats.Completed != 20 {
		t.Errorf("completed = %d, want 20", stats.Completed)
	}
	if stats.Successful != 10 || calls.Load() != 10 {
		t.Errorf("successful = %d, executor calls = %d; want 10", stats.Successful, calls.Load())
	}
	if stats.Failures["build"] != 10 {
		t.Errorf("failures = %v", stats.Failures)
	}
}

func TestRunWorkerPanicIsFaulted(t *testing.T) {
	r := newRunner(t, runner.Options{
		Workers: 2,
		Total:   10,
		Budget:  time.Minute,
		Builder: &fakeBuilder{},
		Executor: executorFunc(func(req *http.Request) (*http.Response, error) {
			if requestID(t, req) == 3 {
				panic("executor exploded")
			}
			return respond(http.StatusOK, []byte("ok")), nil
		}),
	})
	res := r.Run(context.Background())
	stats := res.Stats()

	if res.Workers[0].Outcome != runner.OutcomeFaulted {
		t.Fatalf("worker 0 outcome = %v, want faulted", res.Workers[0].Outcome)
	}
	if res.Workers[0].Err == nil {
		t.Error("faulted worker carries no error")
	}
	if res.Workers[1].Outcome != runner.OutcomeExhausted {
		t.Errorf("worker 1 outcome = %v, want exhausted", res.Workers[1].Outcome)
	}
	if stats.Completed != 5 || stats.Successful != 5 || stats.Bytes != 10 {
		t.Errorf("stats = %d/%d/%d, want only worker 1's 5/5/10", stats.Completed, stats.Successful, stats.Bytes)
	}
	if stats.FaultedWorkers != 1 {
		t.Errorf("FaultedWorkers = %d, want 1", stats.FaultedWorkers)
	}
}

func TestRunDeadlineCancelsInFlightRequests(t *testing.T) {
	r := newRunner(t, runner.Options{
		Workers: 4,
		Total:   1000,
		Budget:  50 * time.Millisecond,
		Builder: &fakeBuilder{},
		Executor: executorFunc(func(req *http.Request) (*http.Response, error) {
			<-req.Context().Done()
			return nil, req.Context().Err()
		}),
		RaceInFlight: true,
	})

	start := time.Now()
	res := r.Run(context.Background())
	elapsed := time.Since(start)

	if elapsed > 2*time.Second {
		t.Fatalf("run took %v, in-flight requests were not cancelled", elapsed)
	}
	stats := res.Stats()
	if stats.Completed != 0 {
		t.Errorf("completed = %d, want 0: cancelled requests must not be counted", stats.Completed)
	}
	if !stats.ShortFall {
		t.Error("ShortFall = false")
	}
	for _, w := range res.Workers {
		if w.Outcome != runner.OutcomeCancelled {
			t.Errorf("worker %d outcome = %v, want cancelled", w.Slice.Worker, w.Outcome)
		}
	}
}

func TestRunWithoutRaceLetsInFlightRequestsFinish(t *testing.T) {
	const latency = 150 * time.Millisecond
	r := newRunner(t, runner.Options{
		Workers: 2,
		Total:   100,
		Budget:  30 * time.Millisecond,
		Builder: &fakeBuilder{},
		Executor: executorFunc(func(req *http.Request) (*http.Response, error) {
			select {
			case <-time.After(latency):
				return respond(http.StatusOK, []byte("ok")), nil
			case <-req.Context().Done():
				return nil, req.Context().Err()
			}
		}),
		RaceInFlight: false,
	})
	stats := r.Run(context.Background()).Stats()

	if stats.Completed == 0 || stats.Completed > 2 {
		t.Fatalf("completed = %d, want the in-flight requests of 2 workers", stats.Completed)
	}
	if stats.Successful != stats.Completed {
		t.Errorf("successful = %d, want %d: in-flight requests must not be cancelled", stats.Successful, stats.Completed)
	}
	if stats.Elapsed < latency {
		t.Errorf("elapsed = %v, want at least one request latency", stats.Elapsed)
	}
}

func TestRunParentCancellationStopsWorkers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := newRunner(t, runner.Options{
		Workers: 2,
		Total:   1_000_000,
		Budget:  time.Hour,
		Builder: &fakeBuilder{},
		Executor: executorFunc(func(*http.Request) (*http.Response, error) {
			time.Sleep(time.Millisecond)
			return respond(http.StatusOK, nil), nil
		}),
		RaceInFlight: true,
	})

	time.AfterFunc(30*time.Millisecond, cancel)
	done := make(chan runner.Result, 1)
	go func() { done <- r.Run(ctx) }()

	select {
	case res := <-done:
		if !res.Stats().ShortFall {
			t.Error("expected a short run after cancellation")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("parent cancellation did not stop the run")
	}
}

type recordingFailureLogger struct {
	mu    sync.Mutex
	kinds map[metrics.FailureKind]int
}

func (l *recordingFailureLogger) LogFailure(_ int, _ uint64, kind metrics.FailureKind, _ error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.kinds == nil {
		l.kinds = make(map[metrics.FailureKind]int)
	}
	l.kinds[kind]++
}

func TestRunReportsFailuresToLogger(t *testing.T) {
	logger := &recordingFailureLogger{}
	r := newRunner(t, runner.Options{
		Workers: 1,
		Total:   6,
		Budget:  time.Minute,
		Builder: &fakeBuilder{failIDs: func(id uint64) bool { return id == 0 }},
		Executor: executorFunc(func(req *http.Request) (*http.Response, error) {
			switch requestID(t, req) {
			case 1:
				return nil, errors.New("reset")
			case 2:
				return &http.Response{StatusCode: 200, Body: io.NopCloser(iotest.ErrReader(io.ErrUnexpectedEOF))}, nil
			default:
				return respond(http.StatusNotFound, nil), nil
			}
		}),
		FailureLogger: logger,
	})
	stats := r.Run(context.Background()).Stats()

	if stats.Completed != 6 || stats.Successful != 0 {
		t.Errorf("completed/successful = %d/%d, want 6/0", stats.Completed, stats.Successful)
	}
	for _, kind := range []metrics.FailureKind{metrics.FailureBuild, metrics.FailureTransport, metrics.FailureBody} {
		if logger.kinds[kind] != 1 {
			t.Errorf("%s failures logged = %d, want 1", kind, logger.kinds[kind])
		}
	}
}

func TestRunEmitsRunAndWorkerSpans(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	r := newRunner(t, runner.Options{
		Target:  "http://fake/{id}",
		Workers: 3,
		Total:   9,
		Budget:  time.Minute,
		Builder: &fakeBuilder{},
		Executor: executorFunc(func(*http.Request) (*http.Response, error) {
			return respond(http.StatusOK, nil), nil
		}),
		Tracer: tp.Tracer("test"),
	})
	r.Run(context.Background())

	var runSpans, workerSpans int
	for _, span := range exporter.GetSpans() {
		switch span.Name {
		case "rwrk run":
			runSpans++
		case "rwrk worker":
			workerSpans++
		}
	}
	if runSpans != 1 || workerSpans != 3 {
		t.Errorf("got %d run and %d worker spans, want 1 and 3", runSpans, workerSpans)
	}
}

func TestNewRequiresExecutorAndBuilder(t *testing.T) {
	if _, err := runner.New(runner.Options{Builder: &fakeBuilder{}}); err == nil {
		t.Error("expected error without executor")
	}
	if _, err := runner.New(runner.Options{Executor: http.DefaultClient}); err == nil {
		t.Error("expected error without builder")
	}
}

func TestRunAgainstHTTPServer(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if !strings.HasPrefix(r.URL.Path, "/items/") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = io.WriteString(w, "hello world")
	}))
	defer srv.Close()

	cfg := &config.Config{TargetURL: srv.URL + "/items/{id}"}
	builder, err := httpclient.NewRequestBuilder(cfg)
	if err != nil {
		t.Fatalf("NewRequestBuilder() error = %v", err)
	}

	r := newRunner(t, runner.Options{
		Workers:      4,
		Total:        200,
		Budget:       time.Minute,
		Builder:      builder,
		Executor:     httpclient.NewClient(httpclient.PoolOptions{MaxIdleConnsPerHost: 8}),
		RaceInFlight: true,
	})
	stats := r.Run(context.Background()).Stats()

	if stats.Completed != 200 || stats.Successful != 200 {
		t.Fatalf("completed/successful = %d/%d, want 200/200", stats.Completed, stats.Successful)
	}
	if stats.Bytes != 200*uint64(len("hello world")) {
		t.Errorf("bytes = %d", stats.Bytes)
	}
	if hits.Load() != 200 {
		t.Errorf("server saw %d requests, want 200", hits.Load())
	}
	if stats.RequestsPerSec <= 0 {
		t.Error("RequestsPerSec not computed")
	}
}
