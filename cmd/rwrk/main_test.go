package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/torosent/rwrk/internal/config"
)

func startServer(t *testing.T) (*httptest.Server, *atomic.Int64) {
	t.Helper()
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")

	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if strings.HasSuffix(r.URL.Path, "/missing") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = io.WriteString(w, "pong")
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestRunJSONOutput(t *testing.T) {
	srv, hits := startServer(t)

	var stdout, stderr bytes.Buffer
	err := run([]string{
		"-u", srv.URL + "/items/{id}",
		"-n", "40",
		"-w", "4",
		"-t", "30",
		"-l", "error",
		"--json-output",
	}, &stdout, &stderr)
	if err != nil {
		t.Fatalf("run() error = %v\nstderr: %s", err, stderr.String())
	}

	var report struct {
		Requested  uint64 `json:"requested"`
		Completed  uint64 `json:"completed"`
		Successful uint64 `json:"successful"`
		Bytes      uint64 `json:"bytes"`
		ShortFall  bool   `json:"short_fall"`
	}
	if err := json.Unmarshal(stdout.Bytes(), &report); err != nil {
		t.Fatalf("stdout is not JSON: %v\n%s", err, stdout.String())
	}
	if report.Requested != 40 || report.Completed != 40 || report.Successful != 40 {
		t.Errorf("unexpected report %+v", report)
	}
	if report.Bytes != 40*4 {
		t.Errorf("bytes = %d, want 160", report.Bytes)
	}
	if report.ShortFall {
		t.Error("ShortFall = true")
	}
	if hits.Load() != 40 {
		t.Errorf("server saw %d requests, want 40", hits.Load())
	}
}

func TestRunTextOutput(t *testing.T) {
	srv, _ := startServer(t)

	var stdout, stderr bytes.Buffer
	err := run([]string{
		"--url", srv.URL + "/missing",
		"--total-tasks", "10",
		"--workers", "2",
		"--timeout", "30s",
		"--log-level", "error",
	}, &stdout, &stderr)
	if err != nil {
		t.Fatalf("run() error = %v", err)
	}

	out := stdout.String()
	for _, want := range []string{
		"Running 30s test @ " + srv.URL + "/missing",
		"  10 requests in ",
		"  Non-2xx responses: 10",
		"Requests/sec:",
		"Transfer/sec:",
		"404 Not Found: 10",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestRunYAMLOutput(t *testing.T) {
	srv, _ := startServer(t)

	var stdout, stderr bytes.Buffer
	err := run([]string{"-u", srv.URL, "-n", "5", "-w", "1", "-l", "error", "--yaml-output"}, &stdout, &stderr)
	if err != nil {
		t.Fatalf("run() error = %v", err)
	}

	var parsed map[string]interface{}
	if err := yaml.Unmarshal(stdout.Bytes(), &parsed); err != nil {
		t.Fatalf("stdout is not YAML: %v", err)
	}
	if parsed["completed"] != 5 {
		t.Errorf("completed = %v, want 5", parsed["completed"])
	}
}

func TestRunThresholdFailure(t *testing.T) {
	srv, _ := startServer(t)

	var stdout, stderr bytes.Buffer
	err := run([]string{
		"-u", srv.URL,
		"-n", "5",
		"-w", "1",
		"-l", "error",
		"--threshold", "completed > 100",
		"--threshold", "error_rate < 0.5",
		"--threshold", "p99 < 1m",
	}, &stdout, &stderr)
	if err == nil {
		t.Fatal("expected threshold failure")
	}
	if !strings.Contains(stdout.String(), "✗ completed > 100 (actual 5)") {
		t.Errorf("failed threshold not reported:\n%s", stdout.String())
	}
	if !strings.Contains(stdout.String(), "✓ error_rate < 0.5 (actual 0.00%)") {
		t.Errorf("passing threshold not reported:\n%s", stdout.String())
	}
}

func TestRunInvalidThreshold(t *testing.T) {
	srv, _ := startServer(t)
	err := run([]string{"-u", srv.URL, "--threshold", "latency < fast"}, io.Discard, io.Discard)
	if err == nil || !strings.Contains(err.Error(), "threshold") {
		t.Fatalf("run() error = %v, want threshold parse error", err)
	}
}

func TestRunInvalidConfig(t *testing.T) {
	err := run([]string{"-u", "ftp://example.com", "-w", "0"}, io.Discard, io.Discard)

	var verr config.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("run() error = %v, want ValidationError", err)
	}
	if len(verr.Issues()) < 2 {
		t.Errorf("expected scheme and worker issues, got %v", verr.Issues())
	}
}

func TestRunHelp(t *testing.T) {
	if err := run(nil, io.Discard, io.Discard); err != nil {
		t.Fatalf("run(nil) error = %v, want nil", err)
	}
	if err := run([]string{"--help"}, io.Discard, io.Discard); err != nil {
		t.Fatalf("run(--help) error = %v, want nil", err)
	}
}

func TestRunHistoryComparison(t *testing.T) {
	srv, _ := startServer(t)
	historyPath := filepath.Join(t.TempDir(), "history.jsonl")
	args := []string{"-u", srv.URL, "-n", "5", "-w", "1", "-l", "error", "--history", historyPath}

	var first bytes.Buffer
	if err := run(args, &first, io.Discard); err != nil {
		t.Fatalf("first run() error = %v", err)
	}
	if strings.Contains(first.String(), "Previous run") {
		t.Error("first run compared against a missing history")
	}

	var second bytes.Buffer
	if err := run(args, &second, io.Discard); err != nil {
		t.Fatalf("second run() error = %v", err)
	}
	if !strings.Contains(second.String(), "Previous run") {
		t.Errorf("second run did not compare with history:\n%s", second.String())
	}
}

func TestRunZeroTimeout(t *testing.T) {
	srv, hits := startServer(t)

	var stdout bytes.Buffer
	if err := run([]string{"-u", srv.URL, "-n", "100", "-w", "2", "-t", "0", "-l", "error"}, &stdout, io.Discard); err != nil {
		t.Fatalf("run() error = %v", err)
	}
	if hits.Load() != 0 {
		t.Errorf("server saw %d requests with a zero budget", hits.Load())
	}
	if !strings.Contains(stdout.String(), "Completed:         0/100 tasks") {
		t.Errorf("missing shortfall line:\n%s", stdout.String())
	}
}
