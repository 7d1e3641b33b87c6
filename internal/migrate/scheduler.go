package migrate

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/acme-corp/pg-mongo-migrator/internal/checkpoint"
	"github.com/acme-corp/pg-mongo-migrator/internal/ingestion"
	"github.com/acme-corp/pg-mongo-migrator/internal/retry"
	"github.com/acme-corp/pg-mongo-migrator/internal/storage"
)

// Scheduler dispatches batches to a bounded pool of migrators.
type Scheduler struct {
	Reader ingestion.Reader
	Writer storage.Writer
	Store  checkpoint.Store
	Retry  retry.Controller
	// Concurrency is the number of batches in flight at once.
	Concurrency    int
	AttemptTimeout time.Duration
	Observer       Observer
	Log            logr.Logger
}

// Run migrates batches and returns the aggregated report. The error is
// non-nil only when the run could not start (checkpoint unreadable, bad
// concurrency); per-batch failures are reported through Report.Err.
//
// Cancelling ctx stops admission. Batches already admitted run to their
// terminal outcome.
func (s *Scheduler) Run(ctx context.Context, runID string, batches []ingestion.Batch) (*Report, error) {
	if s.Concurrency <= 0 {
		return nil, fmt.Errorf("scheduler: concurrency must be positive, got %d", s.Concurrency)
	}
	start := time.Now()
	log := s.Log.WithValues("run", runID)

	snapshot, err := s.Store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("scheduler: load checkpoint: %w", err)
	}
	if snapshot > 0 {
		log.Info("Resuming from checkpoint", "checkpoint", snapshot)
	} else {
		log.Info("No checkpoint found, starting from the beginning")
	}

	report := &Report{RunID: runID, Resume: snapshot, Total: len(batches)}
	var mu sync.Mutex
	collect := func(o Outcome) {
		mu.Lock()
		report.add(o)
		mu.Unlock()
	}

	mig := &Migrator{
		Reader:         s.Reader,
		Writer:         s.Writer,
		Checkpoint:     checkpoint.NewWatermark(s.Store, snapshot),
		Retry:          s.Retry,
		AttemptTimeout: s.AttemptTimeout,
		Observer:       s.Observer,
		Log:            log,
	}

	pending := make([]ingestion.Batch, 0, len(batches))
	for _, b := range batches {
		if b.ID < snapshot {
			collect(mig.report(Outcome{Batch: b, Status: Skipped}))
			continue
		}
		pending = append(pending, b)
	}
	if skipped := len(batches) - len(pending); skipped > 0 {
		log.Info("Skipping batches below checkpoint", "skipped", skipped)
	}

	sem := semaphore.NewWeighted(int64(s.Concurrency))
	var g errgroup.Group
	admitted := 0
	for _, b := range pending {
		if ctx.Err() != nil {
			break
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		admitted++
		g.Go(func() error {
			defer sem.Release(1)
			collect(mig.Migrate(ctx, b, snapshot))
			return nil
		})
	}
	_ = g.Wait()
	slices.Sort(report.FailedIDs)

	report.NotStarted = len(pending) - admitted
	if report.NotStarted > 0 {
		log.Info("Run cancelled, batches left for the next run", "notStarted", report.NotStarted)
	}

	if report.Success() {
		if err := s.Store.Clear(context.WithoutCancel(ctx)); err != nil {
			log.Error(err, "Failed to delete checkpoint after a successful run")
		} else {
			report.Cleared = true
		}
	}
	report.Duration = time.Since(start)
	return report, nil
}
