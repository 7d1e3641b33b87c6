package migrate

import (
	"context"
	"fmt"
	"time"

	"github.com/go-logr/logr"

	"github.com/acme-corp/pg-mongo-migrator/internal/checkpoint"
	migerr "github.com/acme-corp/pg-mongo-migrator/internal/errors"
	"github.com/acme-corp/pg-mongo-migrator/internal/ingestion"
	"github.com/acme-corp/pg-mongo-migrator/internal/retry"
	"github.com/acme-corp/pg-mongo-migrator/internal/storage"
	"github.com/acme-corp/pg-mongo-migrator/internal/transform"
)

// Migrator moves one batch: fetch, normalize, bulk insert, checkpoint.
type Migrator struct {
	Reader     ingestion.Reader
	Writer     storage.Writer
	Checkpoint checkpoint.Saver
	Retry      retry.Controller
	// AttemptTimeout bounds each fetch+insert attempt. Zero means no bound.
	AttemptTimeout time.Duration
	Observer       Observer
	Log            logr.Logger
}

// Migrate runs the batch to a terminal outcome. Batches below snapshot are
// reported Skipped without touching source or sink.
//
// Cancelling ctx stops further retries but never interrupts an attempt that
// has started, so an insert is not cut off halfway.
func (m *Migrator) Migrate(ctx context.Context, batch ingestion.Batch, snapshot int64) Outcome {
	log := m.Log.WithValues("batch", batch.ID, "offset", batch.Offset, "limit", batch.Limit)
	start := time.Now()

	if batch.ID < snapshot {
		log.V(1).Info("Skipping batch due to checkpoint", "checkpoint", snapshot)
		return m.report(Outcome{Batch: batch, Status: Skipped, Duration: time.Since(start)})
	}

	ioCtx := context.WithoutCancel(ctx)
	records := 0

	rc := m.Retry
	rc.OnRetry = func(attempt int, err error, delay time.Duration) {
		log.Error(err, "Failed to migrate batch", "attempt", attempt, "backoff", delay.String())
		m.report(Outcome{Batch: batch, Status: Retrying, Attempt: attempt, Err: err, Duration: time.Since(start)})
	}

	res := rc.Execute(ctx, func(context.Context) error {
		n, err := m.attempt(ioCtx, batch)
		records = n
		return err
	})

	if res.Err != nil {
		if migerr.IsConfiguration(res.Err) {
			log.Error(res.Err, "Batch failed with a non-retryable error", "attempts", res.Attempts, "severity", "critical")
		} else {
			log.Error(res.Err, "Failed to migrate batch after exhausting retries", "attempts", res.Attempts, "severity", "critical")
		}
		return m.report(Outcome{Batch: batch, Status: Failed, Attempt: res.Attempts, Err: res.Err, Duration: time.Since(start)})
	}

	if err := m.Checkpoint.Save(ioCtx, batch.ID); err != nil {
		err = fmt.Errorf("batch %d: %w: %w", batch.ID, migerr.ErrCheckpoint, err)
		log.Error(err, "Batch data written but checkpoint not saved", "severity", "critical")
		return m.report(Outcome{Batch: batch, Status: Failed, Attempt: res.Attempts, Records: records, Err: err, Duration: time.Since(start)})
	}

	log.Info("Successfully migrated batch", "records", records, "attempts", res.Attempts)
	return m.report(Outcome{Batch: batch, Status: Completed, Attempt: res.Attempts, Records: records, Duration: time.Since(start)})
}

func (m *Migrator) attempt(ctx context.Context, batch ingestion.Batch) (int, error) {
	if m.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.AttemptTimeout)
		defer cancel()
	}

	rows, err := m.Reader.Fetch(ctx, batch.Offset, batch.Limit)
	if err != nil {
		return 0, err
	}
	records, err := transform.Rows(rows)
	if err != nil {
		return 0, err
	}
	if len(records) == 0 {
		return 0, nil
	}
	if err := m.Writer.InsertMany(ctx, records); err != nil {
		return 0, err
	}
	return len(records), nil
}

func (m *Migrator) report(o Outcome) Outcome {
	if m.Observer != nil {
		m.Observer.OnOutcome(o)
	}
	return o
}
