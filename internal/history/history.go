// Package history keeps an append-only JSON Lines log of completed runs so a
// run can be compared with the previous one against the same target.
package history

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/oklog/ulid/v2"
	"github.com/tidwall/gjson"

	"github.com/torosent/rwrk/internal/metrics"
)

const (
	lockRetryDelay = 50 * time.Millisecond
	maxRecordSize  = 1 << 20
)

// Record is one line of the history file.
type Record struct {
	ID            string        `json:"id"`
	Timestamp     time.Time     `json:"timestamp"`
	Target        string        `json:"target"`
	Workers       int           `json:"workers"`
	Total         uint64        `json:"total"`
	BudgetSeconds float64       `json:"budget_seconds"`
	RaceInFlight  bool          `json:"race_in_flight"`
	Stats         metrics.Stats `json:"stats"`
}

// Summary is the part of a previous record used for comparison.
type Summary struct {
	ID             string
	Timestamp      time.Time
	Completed      uint64
	RequestsPerSec float64
	SuccessRate    float64
}

// Store appends to and reads from one history file. Access is serialized
// across processes with an advisory lock on a sibling ".lock" file.
type Store struct {
	path string
	lock *flock.Flock
}

func NewStore(path string) *Store {
	return &Store{
		path: path,
		lock: flock.New(path + ".lock"),
	}
}

// Path returns the history file location.
func (s *Store) Path() string {
	return s.path
}

// Append writes rec as a new line, assigning an ID and timestamp if unset.
func (s *Store) Append(ctx context.Context, rec Record) (Record, error) {
	if rec.ID == "" {
		rec.ID = ulid.Make().String()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}

	line, err := json.Marshal(rec)
	if err != nil {
		return rec, fmt.Errorf("encode history record: %w", err)
	}
	line = append(line, '\n')

	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return rec, fmt.Errorf("create history directory: %w", err)
		}
	}

	locked, err := s.lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return rec, fmt.Errorf("lock history file: %w", err)
	}
	if !locked {
		return rec, errors.New("lock history file: not acquired")
	}
	defer func() { _ = s.lock.Unlock() }()

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return rec, fmt.Errorf("open history file: %w", err)
	}
	if _, err := f.Write(line); err != nil {
		_ = f.Close()
		return rec, fmt.Errorf("write history file: %w", err)
	}
	if err := f.Close(); err != nil {
		return rec, fmt.Errorf("close history file: %w", err)
	}
	return rec, nil
}

// Last returns the most recent record for target. The boolean is false when
// the file does not exist or holds no run against target.
func (s *Store) Last(ctx context.Context, target string) (Summary, bool, error) {
	if _, err := os.Stat(s.path); errors.Is(err, os.ErrNotExist) {
		return Summary{}, false, nil
	}

	locked, err := s.lock.TryRLockContext(ctx, lockRetryDelay)
	if err != nil {
		return Summary{}, false, fmt.Errorf("lock history file: %w", err)
	}
	if !locked {
		return Summary{}, false, errors.New("lock history file: not acquired")
	}
	defer func() { _ = s.lock.Unlock() }()

	f, err := os.Open(s.path)
	if err != nil {
		return Summary{}, false, fmt.Errorf("open history file: %w", err)
	}
	defer f.Close()

	var (
		last  Summary
		found bool
	)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxRecordSize)
	for scanner.Scan() {
		line := scanner.Bytes()
		if !gjson.ValidBytes(line) {
			continue
		}
		if gjson.GetBytes(line, "target").String() != target {
			continue
		}
		last = summarize(line)
		found = true
	}
	if err := scanner.Err(); err != nil {
		return Summary{}, false, fmt.Errorf("read history file: %w", err)
	}
	return last, found, nil
}

func summarize(line []byte) Summary {
	fields := gjson.GetManyBytes(line,
		"id",
		"timestamp",
		"stats.completed",
		"stats.requests_per_sec",
		"stats.success_rate",
	)
	return Summary{
		ID:             fields[0].String(),
		Timestamp:      fields[1].Time(),
		Completed:      fields[2].Uint(),
		RequestsPerSec: fields[3].Float(),
		SuccessRate:    fields[4].Float(),
	}
}

// RequestsPerSecChange returns the relative change in throughput from prev to
// current, e.g. 0.1 for a 10% improvement. It is zero when prev had no rate.
func RequestsPerSecChange(prev Summary, current metrics.Stats) float64 {
	if prev.RequestsPerSec <= 0 {
		return 0
	}
	return (current.RequestsPerSec - prev.RequestsPerSec) / prev.RequestsPerSec
}
