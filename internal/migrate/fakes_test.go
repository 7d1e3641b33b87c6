package migrate

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"

	"github.com/acme-corp/pg-mongo-migrator/internal/ingestion"
	"github.com/acme-corp/pg-mongo-migrator/internal/retry"
)

// fakeReader serves rows {id, offset+i} for [0, total).
type fakeReader struct {
	total    int64
	countErr error
	// fetch, if set, runs before rows are produced; a non-nil error fails
	// the attempt.
	fetch func(ctx context.Context, offset, limit int64) error
	// value overrides the second column.
	value any

	calls    atomic.Int64
	inFlight atomic.Int64
	maxSeen  atomic.Int64
}

func (r *fakeReader) Count(context.Context) (int64, error) {
	return r.total, r.countErr
}

func (r *fakeReader) Fetch(ctx context.Context, offset, limit int64) (*ingestion.RowSet, error) {
	r.calls.Add(1)
	cur := r.inFlight.Add(1)
	defer r.inFlight.Add(-1)
	for {
		prev := r.maxSeen.Load()
		if cur <= prev || r.maxSeen.CompareAndSwap(prev, cur) {
			break
		}
	}

	if r.fetch != nil {
		if err := r.fetch(ctx, offset, limit); err != nil {
			return nil, err
		}
	}

	rs := &ingestion.RowSet{Columns: []string{"id", "value"}}
	for i := offset; i < offset+limit && i < r.total; i++ {
		v := r.value
		if v == nil {
			v = "row"
		}
		rs.Rows = append(rs.Rows, []any{i, v})
	}
	return rs, nil
}

func (r *fakeReader) Close() {}

// fakeWriter counts inserts per id so tests can detect duplicates. With
// unique set it behaves like a collection with a unique id index written by
// MongoWriter: rows already present are rejected and the rest land.
type fakeWriter struct {
	mu       sync.Mutex
	seen     map[int64]int
	inserts  int
	err      error
	unique   bool
	rejected int
}

func newFakeWriter() *fakeWriter {
	return &fakeWriter{seen: make(map[int64]int)}
}

func (w *fakeWriter) Open(context.Context) error  { return nil }
func (w *fakeWriter) Close(context.Context) error { return nil }

func (w *fakeWriter) InsertMany(_ context.Context, records []ingestion.Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.inserts++
	for _, rec := range records {
		id, _ := rec.Get("id")
		if w.unique && w.seen[id.(int64)] > 0 {
			w.rejected++
			continue
		}
		w.seen[id.(int64)]++
	}
	return nil
}

func (w *fakeWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.seen)
}

func (w *fakeWriter) duplicates() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	d := 0
	for _, n := range w.seen {
		if n > 1 {
			d++
		}
	}
	return d
}

// memStore is a monotonic in-memory checkpoint store.
type memStore struct {
	mu      sync.Mutex
	value   int64
	exists  bool
	cleared bool
	saveErr error
	saves   []int64
}

func (s *memStore) Load(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value, nil
}

func (s *memStore) Save(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saves = append(s.saves, id)
	if !s.exists || id > s.value {
		s.value = id
		s.exists = true
	}
	return nil
}

func (s *memStore) Clear(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.value, s.exists, s.cleared = 0, false, true
	return nil
}

// outcomeLog records every outcome an observer sees.
type outcomeLog struct {
	mu       sync.Mutex
	outcomes []Outcome
}

func (l *outcomeLog) OnOutcome(o Outcome) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.outcomes = append(l.outcomes, o)
}

func (l *outcomeLog) byStatus(s Status) []Outcome {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Outcome
	for _, o := range l.outcomes {
		if o.Status == s {
			out = append(out, o)
		}
	}
	return out
}

type sleepCounter struct {
	n atomic.Int64
}

func (s *sleepCounter) sleep(ctx context.Context, _ time.Duration) error {
	s.n.Add(1)
	return ctx.Err()
}

func testRetry(attempts int, sc *sleepCounter) retry.Controller {
	return retry.Controller{
		MaxAttempts: attempts,
		NewBackOff:  retry.Linear(time.Millisecond),
		Sleep:       sc.sleep,
	}
}

var errReset = errors.New("connection reset by peer")

var discard = logr.Discard()
