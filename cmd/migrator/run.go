package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/acme-corp/pg-mongo-migrator/internal/checkpoint"
	"github.com/acme-corp/pg-mongo-migrator/internal/config"
	"github.com/acme-corp/pg-mongo-migrator/internal/ingestion"
	"github.com/acme-corp/pg-mongo-migrator/internal/metrics"
	"github.com/acme-corp/pg-mongo-migrator/internal/migrate"
	"github.com/acme-corp/pg-mongo-migrator/internal/retry"
	"github.com/acme-corp/pg-mongo-migrator/internal/storage"
)

const metricsReportInterval = 30 * time.Second

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Migrate every batch, resuming from the checkpoint if one exists",
	RunE:  runMigration,
}

func init() {
	rootCmd.AddCommand(runCmd)

	flags := runCmd.Flags()
	flags.Int("batch-size", 1000, "rows per batch")
	flags.Int("concurrency", 4, "batches in flight at once")
	flags.Int("max-retries", 3, "attempts per batch, first one included")
	flags.String("metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9090")
	flags.Bool("progress", false, "draw a progress bar on stderr")
	flags.Bool("dry-run", false, "validate config and exit")

	cobra.CheckErr(bindFlag(flags, "concurrency", "concurrency"))
	cobra.CheckErr(bindFlag(flags, "max_retries", "max-retries"))
	cobra.CheckErr(bindFlag(flags, "metrics.addr", "metrics-addr"))
}

func runMigration(cmd *cobra.Command, _ []string) error {
	if err := bindFlag(cmd.Flags(), "batch_size", "batch-size"); err != nil {
		return fatal(err)
	}
	cfg, log, err := setup()
	if err != nil {
		return fatal(err)
	}
	if dryRun, _ := cmd.Flags().GetBool("dry-run"); dryRun {
		fmt.Fprintln(cmd.OutOrStdout(), "Config validation passed.")
		return nil
	}
	runID := uuid.NewString()
	log = log.WithValues("run", runID)

	// Stop admitting batches on Ctrl+C or SIGTERM; batches already running
	// finish and their checkpoint is written before the process exits.
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			log.Info("Received signal, waiting for in-flight batches", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
	}()

	reader, err := ingestion.NewPostgresReader(ctx, ingestion.PostgresOptions{
		DSN:      cfg.SourceDSN(),
		Query:    cfg.Source.Query,
		OrderBy:  cfg.Source.OrderBy,
		MaxConns: int32(cfg.Concurrency + 1),
	})
	if err != nil {
		log.Error(err, "Failed to connect to PostgreSQL")
		return fatal(err)
	}
	defer reader.Close()
	log.Info("Successfully connected to PostgreSQL")

	writer := newWriter(cfg)
	if err := writer.Open(ctx); err != nil {
		log.Error(err, "Failed to open sink", "type", cfg.Sink.Type)
		return fatal(err)
	}
	defer func() {
		if err := writer.Close(context.Background()); err != nil {
			log.Error(err, "Failed to close sink")
		}
	}()
	log.Info("Successfully connected to sink", "type", cfg.Sink.Type)

	store := checkpoint.NewFileStore(cfg.Checkpoint.Path)
	resume, err := store.Load(ctx)
	if err != nil {
		log.Error(err, "Failed to read checkpoint", "path", store.Path())
		return fatal(err)
	}

	collector := metrics.NewCollector()
	collector.SetResume(resume)
	if cfg.Metrics.Addr != "" {
		stop := serveMetrics(cfg.Metrics.Addr, collector.Handler(), log)
		defer stop()
	}
	go reportMetrics(ctx, collector, log)

	observers := migrate.Observers{collector}
	var progress *progressObserver
	if show, _ := cmd.Flags().GetBool("progress"); show {
		progress = newProgressObserver(cmd.ErrOrStderr())
		observers = append(observers, progress)
	}

	runner := &migrate.Runner{
		Reader:    reader,
		BatchSize: int64(cfg.BatchSize),
		Log:       log,
		Scheduler: &migrate.Scheduler{
			Reader:         reader,
			Writer:         writer,
			Store:          store,
			Retry:          retryController(cfg),
			Concurrency:    cfg.Concurrency,
			AttemptTimeout: cfg.AttemptTimeout,
			Observer:       observers,
			Log:            log,
		},
	}
	if progress != nil {
		runner.OnPlan = func(_ int64, batches []ingestion.Batch) { progress.Start(len(batches)) }
	}

	report, err := runner.Run(ctx, runID)
	if progress != nil {
		progress.Finish()
	}
	if err != nil {
		return exitForError(err)
	}

	if snap, err := collector.JSON(); err == nil {
		log.Info("Final metrics", "metrics", snap)
	}
	return exitFor(report)
}

// exitFor maps a finished run to the process exit status.
func exitFor(report *migrate.Report) error {
	err := report.Err()
	switch {
	case err == nil:
		return nil
	case errors.Is(err, migrate.ErrInterrupted):
		return &exitError{code: exitInterrupted, err: err}
	default:
		return &exitError{code: exitFailures, err: err}
	}
}

// exitForError maps a run that could not start to the process exit status.
func exitForError(err error) error {
	if errors.Is(err, migrate.ErrInterrupted) {
		return &exitError{code: exitInterrupted, err: err}
	}
	return fatal(err)
}

func newWriter(cfg *config.Config) storage.Writer {
	switch cfg.Sink.Type {
	case config.SinkJSONFile:
		return storage.NewJSONFileWriter(cfg.Sink.Path)
	default:
		return storage.NewMongoWriter(storage.MongoOptions{
			URI:         cfg.Sink.URI,
			Database:    cfg.Sink.Database,
			Collection:  cfg.Sink.Collection,
			MaxPoolSize: uint64(cfg.Concurrency),
		})
	}
}

func retryController(cfg *config.Config) retry.Controller {
	rc := retry.Controller{MaxAttempts: cfg.MaxAttempts()}
	switch cfg.Backoff.Strategy {
	case config.BackoffExponential:
		rc.NewBackOff = retry.Exponential(cfg.Backoff.Base, cfg.Backoff.Max, cfg.Backoff.Jitter)
	default:
		rc.NewBackOff = retry.Linear(cfg.Backoff.Base)
	}
	return rc
}

// serveMetrics starts the Prometheus endpoint and returns its shutdown func.
func serveMetrics(addr string, handler http.Handler, log logr.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info("Serving metrics", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error(err, "Metrics server stopped")
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

func reportMetrics(ctx context.Context, collector *metrics.Collector, log logr.Logger) {
	ticker := time.NewTicker(metricsReportInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s := collector.Snapshot()
			log.Info("Progress", "completed", s.BatchesCompleted, "skipped", s.BatchesSkipped,
				"failed", s.BatchesFailed, "retries", s.Retries, "records", s.RecordsWritten,
				"recordsPerSecond", fmt.Sprintf("%.1f", s.Throughput))
		}
	}
}
