package migrate

import (
	"errors"
	"fmt"
	"time"

	"github.com/acme-corp/pg-mongo-migrator/internal/ingestion"
)

// Status is the tag of an Outcome.
type Status int

const (
	// Completed: the batch is in the sink and the checkpoint accepted it.
	Completed Status = iota
	// Skipped: the batch was below the resume checkpoint. Counts as completed.
	Skipped
	// Retrying: an attempt failed and another one is scheduled.
	Retrying
	// Failed: retries are exhausted or the failure was not retryable.
	Failed
)

func (s Status) String() string {
	switch s {
	case Completed:
		return "completed"
	case Skipped:
		return "skipped"
	case Retrying:
		return "retrying"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Outcome reports one step in the life of a batch migration.
type Outcome struct {
	Batch    ingestion.Batch
	Status   Status
	Attempt  int
	Records  int
	Err      error
	Duration time.Duration
}

// Done reports whether the outcome is terminal.
func (o Outcome) Done() bool { return o.Status != Retrying }

// Observer receives every outcome, including intermediate Retrying ones.
// Implementations must be safe for concurrent use.
type Observer interface {
	OnOutcome(Outcome)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Outcome)

func (f ObserverFunc) OnOutcome(o Outcome) { f(o) }

// Observers fans an outcome out to several observers.
type Observers []Observer

func (s Observers) OnOutcome(o Outcome) {
	for _, obs := range s {
		if obs != nil {
			obs.OnOutcome(o)
		}
	}
}

var (
	// ErrBatchesFailed means the run finished but some batches failed.
	ErrBatchesFailed = errors.New("migration completed with failed batches")
	// ErrInterrupted means the run was cancelled before every batch was admitted.
	ErrInterrupted = errors.New("migration interrupted")
)

// Report aggregates a run.
type Report struct {
	RunID string
	// Resume is the checkpoint loaded at start.
	Resume     int64
	Total      int
	Completed  int
	Skipped    int
	Failed     int
	NotStarted int
	Records    int64
	FailedIDs  []int64
	Cleared    bool
	Duration   time.Duration
}

// Success reports whether every batch completed.
func (r *Report) Success() bool {
	return r.Failed == 0 && r.NotStarted == 0 && r.Completed+r.Skipped == r.Total
}

// Err returns nil for a fully successful run, otherwise ErrInterrupted or
// ErrBatchesFailed with the counts.
func (r *Report) Err() error {
	switch {
	case r.NotStarted > 0:
		return fmt.Errorf("%w: %d of %d batches not started, %d failed", ErrInterrupted, r.NotStarted, r.Total, r.Failed)
	case r.Failed > 0:
		return fmt.Errorf("%w: %d of %d batches failed %v", ErrBatchesFailed, r.Failed, r.Total, r.FailedIDs)
	default:
		return nil
	}
}

func (r *Report) add(o Outcome) {
	switch o.Status {
	case Completed:
		r.Completed++
		r.Records += int64(o.Records)
	case Skipped:
		r.Skipped++
	case Failed:
		r.Failed++
		r.FailedIDs = append(r.FailedIDs, o.Batch.ID)
	}
}
