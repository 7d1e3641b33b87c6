// Package checkpoint persists the resume point of a migration run.
package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

// DefaultPath is the well-known checkpoint location.
const DefaultPath = "checkpoint.txt"

// Saver records that a batch completed.
type Saver interface {
	Save(ctx context.Context, batchID int64) error
}

// Store persists the highest batch id known to be committed to the sink.
// All batches below the stored id are durable in the sink.
type Store interface {
	Saver
	// Load returns the stored id, or 0 when no checkpoint exists.
	Load(ctx context.Context) (int64, error)
	// Clear removes the checkpoint after a fully successful run.
	Clear(ctx context.Context) error
}

// FileStore keeps the checkpoint as a decimal number in a text file. Writes
// go to a temporary file in the same directory and are renamed into place,
// so a reader never sees a partially written value. Save never lowers the
// stored value.
type FileStore struct {
	path string

	mu      sync.Mutex
	read    bool
	exists  bool
	current int64
}

func NewFileStore(path string) *FileStore {
	if path == "" {
		path = DefaultPath
	}
	return &FileStore{path: path}
}

// Path returns the checkpoint file location.
func (s *FileStore) Path() string { return s.path }

func (s *FileStore) Load(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.readLocked(); err != nil {
		return 0, err
	}
	return s.current, nil
}

// Save stores batchID unless a value greater than or equal to it is already
// stored, in which case it is a no-op.
func (s *FileStore) Save(ctx context.Context, batchID int64) error {
	if batchID < 0 {
		return fmt.Errorf("checkpoint: negative batch id %d", batchID)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.readLocked(); err != nil {
		return err
	}
	if s.exists && batchID <= s.current {
		return nil
	}
	if err := writeAtomic(s.path, []byte(strconv.FormatInt(batchID, 10)+"\n")); err != nil {
		return fmt.Errorf("checkpoint: save %d: %w", batchID, err)
	}
	s.current = batchID
	s.exists = true
	return nil
}

func (s *FileStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("checkpoint: clear: %w", err)
	}
	s.read = true
	s.exists = false
	s.current = 0
	return nil
}

// readLocked loads the file once; afterwards the in-memory copy is
// authoritative because every write goes through this store.
func (s *FileStore) readLocked() error {
	if s.read {
		return nil
	}
	data, err := os.ReadFile(s.path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		s.read = true
		return nil
	case err != nil:
		return fmt.Errorf("checkpoint: read %s: %w", s.path, err)
	}

	text := strings.TrimSpace(string(data))
	if text == "" {
		s.read = true
		return nil
	}
	v, err := strconv.ParseInt(text, 10, 64)
	if err != nil || v < 0 {
		return fmt.Errorf("checkpoint: %s holds %q, want a non-negative integer", s.path, text)
	}
	s.current = v
	s.exists = true
	s.read = true
	return nil
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		// no-op after a successful rename
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}
	return nil
}
