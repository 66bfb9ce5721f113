package runner

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/torosent/rwrk/internal/httpclient"
	"github.com/torosent/rwrk/internal/metrics"
)

// Outcome is the reason a worker stopped.
type Outcome int

const (
	// OutcomeExhausted means every assigned task was attempted.
	OutcomeExhausted Outcome = iota + 1
	// OutcomeCancelled means the deadline stopped the worker early.
	OutcomeCancelled
	// OutcomeFaulted means the worker panicked; its stats are discarded.
	OutcomeFaulted
)

func (o Outcome) String() string {
	switch o {
	case OutcomeExhausted:
		return "exhausted"
	case OutcomeCancelled:
		return "cancelled"
	case OutcomeFaulted:
		return "faulted"
	default:
		return "running"
	}
}

var errNoResponse = errors.New("executor returned neither a response nor an error")

type worker struct {
	slice    Slice
	deadline *Deadline
	exec     Executor
	builder  RequestBuilder
	race     bool
	failures FailureLogger
	stats    metrics.WorkerStats
}

// run drives the worker to a terminal outcome. A panic anywhere in the loop
// is converted into OutcomeFaulted with zero stats.
func (w *worker) run(ctx context.Context) (stats metrics.WorkerStats, outcome Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			stats = metrics.WorkerStats{}
			outcome = OutcomeFaulted
			err = fmt.Errorf("worker %d panicked: %v", w.slice.Worker, r)
		}
	}()

	w.stats = metrics.NewWorkerStats()
	outcome = w.loop(ctx)
	return w.stats, outcome, nil
}

func (w *worker) loop(ctx context.Context) Outcome {
	for offset := uint64(0); offset < w.slice.Count; offset++ {
		if w.deadline.Tripped() {
			return OutcomeCancelled
		}
		if !w.do(ctx, w.slice.StartID+offset) {
			return OutcomeCancelled
		}
	}
	return OutcomeExhausted
}

// do performs one task. It returns false when the deadline interrupted the
// request in flight; that request is not counted.
func (w *worker) do(ctx context.Context, id uint64) bool {
	reqCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	start := time.Now()
	req, err := w.builder.Build(reqCtx, id)
	if err != nil {
		w.stats.RecordFailure(metrics.FailureBuild, 0)
		w.logFailure(id, metrics.FailureBuild, err)
		return true
	}

	resp, lost, err := w.issue(req, cancel)
	if lost {
		return false
	}
	if err != nil {
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		w.stats.RecordFailure(metrics.FailureTransport, time.Since(start))
		w.logFailure(id, metrics.FailureTransport, err)
		return true
	}

	n, err := httpclient.DrainBody(resp.Body)
	latency := time.Since(start)
	if err != nil {
		w.stats.RecordBodyFailure(resp.StatusCode, latency)
		w.logFailure(id, metrics.FailureBody, err)
		return true
	}

	w.stats.RecordResponse(resp.StatusCode, n, latency)
	return true
}

// issue sends req. With racing enabled, a deadline trip while the executor is
// busy cancels the request and reports lost. The race is disarmed before the
// body is read, so a response that arrives first is always processed.
func (w *worker) issue(req *http.Request, cancel context.CancelFunc) (resp *http.Response, lost bool, err error) {
	if !w.race {
		resp, err = w.exec.Do(req)
		return resp, false, checkResponse(resp, err)
	}

	stop := context.AfterFunc(w.deadline.Context(), cancel)
	resp, err = w.exec.Do(req)
	if !stop() {
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		return nil, true, nil
	}
	return resp, false, checkResponse(resp, err)
}

func checkResponse(resp *http.Response, err error) error {
	if err == nil && resp == nil {
		return errNoResponse
	}
	return err
}

func (w *worker) logFailure(id uint64, kind metrics.FailureKind, err error) {
	if w.failures != nil {
		w.failures.LogFailure(w.slice.Worker, id, kind, err)
	}
}
