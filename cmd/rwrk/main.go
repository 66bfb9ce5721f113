package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/torosent/rwrk/internal/config"
	"github.com/torosent/rwrk/internal/history"
	"github.com/torosent/rwrk/internal/httpclient"
	"github.com/torosent/rwrk/internal/logging"
	"github.com/torosent/rwrk/internal/metrics"
	"github.com/torosent/rwrk/internal/output"
	"github.com/torosent/rwrk/internal/runner"
	"github.com/torosent/rwrk/internal/threshold"
	"github.com/torosent/rwrk/internal/tracing"
)

const (
	failureLogFirst    = 10
	failureLogInterval = time.Second
	shutdownTimeout    = 5 * time.Second
	historyTimeout     = 10 * time.Second
)

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdout, stderr io.Writer) error {
	loader := config.NewLoader()
	cfg, err := loader.Load(args)
	if err != nil {
		if errors.Is(err, config.ErrHelpRequested) {
			return nil
		}
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := logging.New(stderr, cfg.LogLevel)
	if err != nil {
		return err
	}

	thresholds, err := threshold.ParseAll(cfg.Thresholds)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	tp, err := tracing.Init(ctx, cfg.Tracing)
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.Warn("tracing shutdown failed", "error", err)
		}
	}()

	builder, err := httpclient.NewRequestBuilder(cfg)
	if err != nil {
		return err
	}
	client := httpclient.NewClient(httpclient.PoolOptionsFromConfig(cfg))
	defer client.CloseIdleConnections()

	total := uint64(cfg.Total)
	r, err := runner.New(runner.Options{
		Target:        cfg.TargetURL,
		Workers:       cfg.Workers,
		Total:         total,
		Budget:        cfg.Timeout,
		Executor:      client,
		Builder:       builder,
		RaceInFlight:  cfg.RaceInFlight,
		Tracer:        tp.Tracer(),
		Logger:        logger,
		FailureLogger: logging.NewFailureSampler(logger, failureLogFirst, failureLogInterval),
	})
	if err != nil {
		return err
	}

	textOutput := !cfg.JSONOutput && !cfg.YAMLOutput
	if textOutput {
		output.PrintBanner(stdout, cfg.TargetURL, cfg.Timeout, cfg.Workers, total)
	}
	logRunSettings(logger, cfg)

	result := r.Run(ctx)
	stats := result.Stats()

	switch {
	case cfg.JSONOutput:
		if err := output.PrintJSONReport(stdout, stats); err != nil {
			return err
		}
	case cfg.YAMLOutput:
		if err := output.PrintYAMLReport(stdout, stats); err != nil {
			return err
		}
	default:
		output.PrintReport(stdout, stats)
	}

	if cfg.HistoryFile != "" {
		if err := recordHistory(context.WithoutCancel(ctx), cfg, stats, textOutput, stdout, logger); err != nil {
			return err
		}
	}

	if len(thresholds) > 0 {
		results := threshold.Evaluate(thresholds, stats)
		resultsOut := stdout
		if !textOutput {
			resultsOut = stderr
		}
		if !output.PrintThresholdResults(resultsOut, results) {
			return errors.New("one or more thresholds failed")
		}
	}

	return nil
}

func logRunSettings(logger *slog.Logger, cfg *config.Config) {
	logger.Info("starting run",
		"target", cfg.TargetURL,
		"templated", cfg.Templated(),
		"workers", cfg.Workers,
		"tasks", cfg.Total,
		"timeout", cfg.Timeout,
		"race_in_flight", cfg.RaceInFlight,
	)
	logger.Debug("connection pool",
		"max_idle_per_host", cfg.PoolMaxIdlePerHost,
		"idle_timeout", cfg.PoolIdleTimeout,
		"request_timeout", cfg.RequestTimeout,
	)
}

func recordHistory(ctx context.Context, cfg *config.Config, stats metrics.Stats, showComparison bool, stdout io.Writer, logger *slog.Logger) error {
	ctx, cancel := context.WithTimeout(ctx, historyTimeout)
	defer cancel()

	store := history.NewStore(cfg.HistoryFile)
	prev, found, err := store.Last(ctx, cfg.TargetURL)
	if err != nil {
		return fmt.Errorf("history: %w", err)
	}
	if found && showComparison {
		output.PrintComparison(stdout, prev, stats)
	}

	rec, err := store.Append(ctx, history.Record{
		Target:        cfg.TargetURL,
		Workers:       cfg.Workers,
		Total:         uint64(cfg.Total),
		BudgetSeconds: cfg.Timeout.Seconds(),
		RaceInFlight:  cfg.RaceInFlight,
		Stats:         stats,
	})
	if err != nil {
		return fmt.Errorf("history: %w", err)
	}
	logger.Debug("run recorded", "id", rec.ID, "path", store.Path())
	return nil
}
