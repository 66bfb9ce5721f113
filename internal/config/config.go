package config

import (
	"fmt"
	"net/url"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/torosent/rwrk/internal/placeholders"
)

const (
	DefaultTotal           = 5_000_000
	DefaultTimeout         = 10 * time.Second
	DefaultPoolIdleTimeout = 90 * time.Second
	DefaultLogLevel        = "info"

	// IDPlaceholder is replaced by the per-request identifier in templated URLs.
	IDPlaceholder = placeholders.Token

	workersPerCPU = 48
)

type Config struct {
	TargetURL          string        `mapstructure:"url"`
	Total              int           `mapstructure:"total_tasks"`
	Timeout            time.Duration `mapstructure:"timeout"`
	Workers            int           `mapstructure:"workers"`
	LogLevel           string        `mapstructure:"log_level"`
	PoolMaxIdlePerHost int           `mapstructure:"pool_max_idle_per_host"`
	PoolIdleTimeout    time.Duration `mapstructure:"pool_idle_timeout"`
	RequestTimeout     time.Duration `mapstructure:"request_timeout"`
	RaceInFlight       bool          `mapstructure:"race_in_flight"`
	JSONOutput         bool          `mapstructure:"json_output"`
	YAMLOutput         bool          `mapstructure:"yaml_output"`
	Thresholds         []string      `mapstructure:"thresholds"`
	HistoryFile        string        `mapstructure:"history_file"`
	Tracing            TracingConfig `mapstructure:"tracing"`
	ConfigFile         string        `mapstructure:"-"`
}

type TracingConfig struct {
	Endpoint    string  `mapstructure:"endpoint"`     // OTLP collector address (host:port)
	Protocol    string  `mapstructure:"protocol"`     // "grpc" (default) or "http"
	ServiceName string  `mapstructure:"service_name"` // defaults to OTEL_SERVICE_NAME, then "rwrk"
	SampleRate  float64 `mapstructure:"sample_rate"`  // 0.0..1.0
	Insecure    bool    `mapstructure:"insecure"`
	Propagate   *bool   `mapstructure:"propagate"` // inject traceparent headers; defaults to Enabled()
}

// Enabled reports whether spans should be exported at all.
func (t TracingConfig) Enabled() bool {
	if strings.TrimSpace(t.Endpoint) != "" {
		return true
	}
	return os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") != ""
}

func (t TracingConfig) ShouldPropagate() bool {
	if t.Propagate != nil {
		return *t.Propagate
	}
	return t.Enabled()
}

// DefaultWorkers scales the worker pool with the number of available cores.
func DefaultWorkers() int {
	return runtime.NumCPU() * workersPerCPU
}

// Templated reports whether the target URL carries the identifier placeholder.
func (c Config) Templated() bool {
	return strings.Contains(c.TargetURL, IDPlaceholder)
}

type ValidationError struct {
	issues []string
}

func (e ValidationError) Error() string {
	if len(e.issues) == 0 {
		return "validation failed"
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(e.issues, "; "))
}

func (e ValidationError) Issues() []string {
	return append([]string(nil), e.issues...)
}

func (c Config) Validate() error {
	var issues []string

	if strings.TrimSpace(c.TargetURL) == "" {
		issues = append(issues, "url is required (use --help for usage information)")
	} else if issue := validateTarget(c.TargetURL); issue != "" {
		issues = append(issues, issue)
	}

	if c.Total < 0 {
		issues = append(issues, "total-tasks must be >= 0")
	}
	if c.Timeout < 0 {
		issues = append(issues, "timeout must be >= 0")
	}
	if c.Workers < 1 {
		issues = append(issues, "workers must be >= 1")
	}
	if c.PoolMaxIdlePerHost < 0 {
		issues = append(issues, "pool-max-idle-per-host must be >= 0")
	}
	if c.PoolIdleTimeout < 0 {
		issues = append(issues, "pool-idle-timeout must be >= 0")
	}
	if c.RequestTimeout < 0 {
		issues = append(issues, "request-timeout must be >= 0")
	}
	if c.JSONOutput && c.YAMLOutput {
		issues = append(issues, "json-output and yaml-output are mutually exclusive")
	}

	switch strings.ToLower(strings.TrimSpace(c.LogLevel)) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		issues = append(issues, fmt.Sprintf("log-level %q is not supported (use debug, info, warn or error)", c.LogLevel))
	}

	issues = append(issues, validateTracingConfig(c.Tracing)...)

	if len(issues) > 0 {
		return ValidationError{issues: issues}
	}
	return nil
}

// validateTarget checks the URL with the placeholder expanded to the first
// identifier. Targets that only break for later identifiers are counted as
// failed requests at run time.
func validateTarget(target string) string {
	probe := strings.ReplaceAll(strings.TrimSpace(target), IDPlaceholder, "0")
	u, err := url.Parse(probe)
	if err != nil {
		return fmt.Sprintf("url %q is invalid: %v", target, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Sprintf("url %q must use http or https", target)
	}
	if u.Host == "" {
		return fmt.Sprintf("url %q is missing a host", target)
	}
	return ""
}

func validateTracingConfig(t TracingConfig) []string {
	var issues []string
	if t.SampleRate < 0 || t.SampleRate > 1 {
		issues = append(issues, fmt.Sprintf("tracing: sample_rate must be between 0.0 and 1.0, got %g", t.SampleRate))
	}
	switch strings.ToLower(strings.TrimSpace(t.Protocol)) {
	case "", "grpc", "http":
	default:
		issues = append(issues, fmt.Sprintf("tracing: protocol must be 'grpc' or 'http', got %q", t.Protocol))
	}
	return issues
}
