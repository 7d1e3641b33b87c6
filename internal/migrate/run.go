package migrate

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-logr/logr"

	migerr "github.com/acme-corp/pg-mongo-migrator/internal/errors"
	"github.com/acme-corp/pg-mongo-migrator/internal/ingestion"
)

// Runner is the whole migration: count, plan, schedule.
type Runner struct {
	Reader    ingestion.Reader
	BatchSize int64
	Scheduler *Scheduler
	Log       logr.Logger
	// OnPlan, if set, sees the partition before any batch is dispatched.
	OnPlan func(total int64, batches []ingestion.Batch)
}

// Plan counts the source rows and partitions them. A count failure is fatal
// unless ctx was cancelled, which reports ErrInterrupted.
func (r *Runner) Plan(ctx context.Context) (int64, []ingestion.Batch, error) {
	total, err := r.Reader.Count(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			return 0, nil, fmt.Errorf("count records: %w: %w", ErrInterrupted, err)
		}
		return 0, nil, migerr.NewFatal("count records", err)
	}
	batches, err := Plan(total, r.BatchSize)
	if err != nil {
		return 0, nil, err
	}
	return total, batches, nil
}

// Run executes the migration. The returned error is non-nil when the run
// could not start; batch-level results are in the report.
func (r *Runner) Run(ctx context.Context, runID string) (*Report, error) {
	total, batches, err := r.Plan(ctx)
	if err != nil {
		return nil, err
	}
	r.Log.Info("Total records to migrate", "run", runID, "records", total, "batches", len(batches), "batchSize", r.BatchSize)
	if r.OnPlan != nil {
		r.OnPlan(total, batches)
	}

	report, err := r.Scheduler.Run(ctx, runID, batches)
	if err != nil {
		return nil, migerr.NewFatal("schedule", err)
	}

	switch {
	case report.Success():
		r.Log.Info("Migration completed successfully", "run", runID, "batches", report.Total,
			"records", report.Records, "checkpointCleared", report.Cleared, "duration", report.Duration.String())
	default:
		r.Log.Error(report.Err(), "Migration did not complete", "run", runID,
			"completed", report.Completed, "skipped", report.Skipped, "failed", report.Failed,
			"notStarted", report.NotStarted, "failedBatches", report.FailedIDs)
	}
	return report, nil
}
