package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// newFlagCommand creates a cobra command with all flags configured.
func newFlagCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "rwrk",
		Short:         "Process millions of requests within a time budget",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	cmd.SetOut(os.Stdout)
	configureFlags(cmd.Flags())
	return cmd
}

// configureFlags sets up all CLI flags on the provided flag set.
func configureFlags(flags *pflag.FlagSet) {
	// Workload flags
	flags.StringP("url", "u", "", "Target URL (use "+IDPlaceholder+" as a per-request identifier placeholder)")
	flags.IntP("total-tasks", "n", DefaultTotal, "Total number of requests to issue")
	flags.VarP(newSecondsFlag(DefaultTimeout), "timeout", "t", "Time budget for the whole run (seconds or duration, e.g. 10 or 1m)")
	flags.IntP("workers", "w", 0, "Number of concurrent workers (default: 48 per CPU core)")
	flags.Bool("no-race", false, "Only check the deadline between requests instead of racing in-flight requests against it")

	// Transport pool flags
	flags.IntP("pool-max-idle-per-host", "c", 0, "Max idle connections per host (default: 2x workers)")
	flags.VarP(newSecondsFlag(DefaultPoolIdleTimeout), "pool-idle-timeout", "i", "Idle connection timeout (seconds or duration)")
	flags.Var(newSecondsFlag(0), "request-timeout", "Per-request timeout (0 means none)")

	// Output flags
	flags.StringP("log-level", "l", DefaultLogLevel, "Log verbosity: debug, info, warn or error")
	flags.Bool("json-output", false, "Emit the summary as JSON")
	flags.Bool("yaml-output", false, "Emit the summary as YAML")
	flags.StringArray("threshold", nil, "Pass/fail assertion on the summary (repeatable, e.g. 'p99 < 250ms' or 'success_rate >= 0.99')")
	flags.String("history", "", "Append the run summary to this JSON lines file")
	flags.String("config", "", "Path to configuration file (JSON or YAML)")

	// Tracing flags
	flags.String("tracing-endpoint", "", "OTLP collector endpoint (host:port); enables tracing")
	flags.String("tracing-protocol", "grpc", "OTLP protocol: grpc or http")
	flags.String("tracing-service-name", "", "Service name reported on spans")
	flags.Float64("tracing-sample-rate", 1.0, "Trace sampling ratio between 0.0 and 1.0")
	flags.Bool("tracing-insecure", false, "Disable TLS towards the OTLP collector")
	flags.Bool("tracing-propagate", false, "Inject W3C traceparent headers into outgoing requests")
}

// displayHelp prints the help message for a command.
func displayHelp(cmd *cobra.Command) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Usage: %s\n\nFlags:\n", cmd.UseLine())
	fs := cmd.Flags()
	fs.SetOutput(out)
	fs.PrintDefaults()
}

// secondsFlag accepts a bare number of seconds ("10", "0.5") or a Go
// duration string ("1m30s").
type secondsFlag struct {
	value time.Duration
}

func newSecondsFlag(def time.Duration) *secondsFlag {
	return &secondsFlag{value: def}
}

func (s *secondsFlag) String() string {
	return s.value.String()
}

func (s *secondsFlag) Set(raw string) error {
	d, err := parseSeconds(raw)
	if err != nil {
		return err
	}
	s.value = d
	return nil
}

func (s *secondsFlag) Type() string {
	return "seconds"
}

func getSeconds(fs *pflag.FlagSet, name string) (time.Duration, error) {
	flag := fs.Lookup(name)
	if flag == nil {
		return 0, fmt.Errorf("flag %q is not defined", name)
	}
	val, ok := flag.Value.(*secondsFlag)
	if !ok {
		return 0, fmt.Errorf("flag %q is not a seconds flag", name)
	}
	return val.value, nil
}

// applyFlagOverrides copies every flag set on the command line onto cfg,
// taking precedence over file and environment values.
func applyFlagOverrides(cfg *Config, fs *pflag.FlagSet) error {
	var errs []error
	fs.Visit(func(f *pflag.Flag) {
		if err := applyFlag(cfg, fs, f.Name); err != nil {
			errs = append(errs, fmt.Errorf("--%s: %w", f.Name, err))
		}
	})
	return errors.Join(errs...)
}

func applyFlag(cfg *Config, fs *pflag.FlagSet, name string) (err error) {
	switch name {
	case "url":
		cfg.TargetURL, err = fs.GetString(name)
	case "total-tasks":
		cfg.Total, err = fs.GetInt(name)
	case "timeout":
		cfg.Timeout, err = getSeconds(fs, name)
	case "workers":
		cfg.Workers, err = fs.GetInt(name)
	case "no-race":
		var noRace bool
		noRace, err = fs.GetBool(name)
		cfg.RaceInFlight = !noRace
	case "pool-max-idle-per-host":
		cfg.PoolMaxIdlePerHost, err = fs.GetInt(name)
	case "pool-idle-timeout":
		cfg.PoolIdleTimeout, err = getSeconds(fs, name)
	case "request-timeout":
		cfg.RequestTimeout, err = getSeconds(fs, name)
	case "log-level":
		cfg.LogLevel, err = fs.GetString(name)
	case "json-output":
		cfg.JSONOutput, err = fs.GetBool(name)
	case "yaml-output":
		cfg.YAMLOutput, err = fs.GetBool(name)
	case "threshold":
		cfg.Thresholds, err = fs.GetStringArray(name)
	case "history":
		cfg.HistoryFile, err = fs.GetString(name)
	case "tracing-endpoint":
		cfg.Tracing.Endpoint, err = fs.GetString(name)
	case "tracing-protocol":
		cfg.Tracing.Protocol, err = fs.GetString(name)
	case "tracing-service-name":
		cfg.Tracing.ServiceName, err = fs.GetString(name)
	case "tracing-sample-rate":
		cfg.Tracing.SampleRate, err = fs.GetFloat64(name)
	case "tracing-insecure":
		cfg.Tracing.Insecure, err = fs.GetBool(name)
	case "tracing-propagate":
		var propagate bool
		propagate, err = fs.GetBool(name)
		cfg.Tracing.Propagate = &propagate
	}
	return err
}
