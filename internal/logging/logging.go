// Package logging configures rwrk's structured logger and the sampled
// request-failure log.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/torosent/rwrk/internal/metrics"
)

// ParseLevel maps a --log-level value to a slog level. An empty string means info.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", level)
	}
}

// New returns a text logger writing to w at the given level.
func New(w io.Writer, level string) (*slog.Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})), nil
}

// FailureSampler logs request failures at debug level without flooding the
// output: the first few failures are logged, then at most one per interval.
// Skipped failures are counted and reported with the next logged one.
// Failures outside the logging window are rejected with atomic loads only, so
// workers do not serialize on the sampler's mutex.
type FailureSampler struct {
	logger    *slog.Logger
	first     uint64
	interval  time.Duration
	sometimes *rate.Sometimes

	seen       atomic.Uint64
	nextAt     atomic.Int64 // unix nanos before which no failure is logged
	suppressed atomic.Uint64
}

func NewFailureSampler(logger *slog.Logger, first int, interval time.Duration) *FailureSampler {
	return &FailureSampler{
		logger:    logger,
		first:     uint64(max(first, 0)),
		interval:  interval,
		sometimes: &rate.Sometimes{First: first, Interval: interval},
	}
}

// LogFailure is safe for concurrent use by every worker.
func (s *FailureSampler) LogFailure(worker int, id uint64, kind metrics.FailureKind, err error) {
	if s == nil || s.logger == nil || !s.logger.Enabled(context.Background(), slog.LevelDebug) {
		return
	}
	if !s.candidate() {
		s.suppressed.Add(1)
		return
	}

	logged := false
	s.sometimes.Do(func() {
		logged = true
		s.nextAt.Store(time.Now().Add(s.interval).UnixNano())
		s.logger.Debug("request failed",
			"worker", worker,
			"id", id,
			"kind", kind.String(),
			"error", err,
			"suppressed", s.suppressed.Swap(0),
		)
	})
	if !logged {
		s.suppressed.Add(1)
	}
}

// candidate reports whether a failure may be logged: one of the first few,
// or one arriving after the current interval has run out.
func (s *FailureSampler) candidate() bool {
	if s.seen.Add(1) <= s.first {
		return true
	}
	return s.interval > 0 && time.Now().UnixNano() >= s.nextAt.Load()
}
