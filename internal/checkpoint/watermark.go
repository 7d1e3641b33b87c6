package checkpoint

import (
	"context"
	"sync"
)

// Watermark turns out-of-order batch completions into checkpoint saves.
// Only the highest id k such that every batch in [start, k] has completed is
// ever passed to the store, so a crash never skips an unfinished batch.
type Watermark struct {
	store Saver

	mu   sync.Mutex
	next int64
	done map[int64]struct{}
}

// NewWatermark starts tracking at start; batches below it are treated as
// already complete.
func NewWatermark(store Saver, start int64) *Watermark {
	return &Watermark{
		store: store,
		next:  start,
		done:  make(map[int64]struct{}),
	}
}

// Save marks batchID complete and persists the new low watermark if it moved.
func (w *Watermark) Save(ctx context.Context, batchID int64) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if batchID < w.next {
		return nil
	}
	w.done[batchID] = struct{}{}

	advanced := false
	for {
		if _, ok := w.done[w.next]; !ok {
			break
		}
		delete(w.done, w.next)
		w.next++
		advanced = true
	}
	if !advanced {
		return nil
	}
	return w.store.Save(ctx, w.next-1)
}

// Next returns the lowest batch id not yet known to be complete.
func (w *Watermark) Next() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.next
}

// Pending returns how many completed batches are waiting on a lower one.
func (w *Watermark) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.done)
}
