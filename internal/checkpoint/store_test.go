package checkpoint

import (
	"context"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *FileStore {
	t.Helper()
	return NewFileStore(filepath.Join(t.TempDir(), "checkpoint.txt"))
}

func TestFileStoreMissingFileLoadsZero(t *testing.T) {
	t.Parallel()

	got, err := newStore(t).Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), got)
}

func TestFileStoreSaveAndReload(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newStore(t)
	require.NoError(t, s.Save(ctx, 7))

	data, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	assert.Equal(t, "7\n", string(data))

	reopened := NewFileStore(s.Path())
	got, err := reopened.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(7), got)
}

func TestFileStoreIsMonotonic(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newStore(t)
	require.NoError(t, s.Save(ctx, 9))
	require.NoError(t, s.Save(ctx, 4))

	got, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(9), got)

	// A fresh store over the same file also refuses to go backwards.
	other := NewFileStore(s.Path())
	require.NoError(t, other.Save(ctx, 2))
	got, err = NewFileStore(s.Path()).Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(9), got)
}

func TestFileStoreConcurrentSavesKeepMaximum(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newStore(t)

	ids := rand.Perm(200)
	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.Save(ctx, int64(id)))
		}()
	}
	wg.Wait()

	got, err := NewFileStore(s.Path()).Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(199), got)

	entries, err := os.ReadDir(filepath.Dir(s.Path()))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary files must not be left behind")
}

func TestFileStoreClear(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newStore(t)
	require.NoError(t, s.Save(ctx, 3))
	require.NoError(t, s.Clear(ctx))

	_, err := os.Stat(s.Path())
	assert.True(t, os.IsNotExist(err))

	got, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), got)

	// Clearing twice is fine, and saving after a clear starts over.
	require.NoError(t, s.Clear(ctx))
	require.NoError(t, s.Save(ctx, 1))
	got, err = s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got)
}

func TestFileStoreRejectsGarbage(t *testing.T) {
	t.Parallel()

	s := newStore(t)
	require.NoError(t, os.WriteFile(s.Path(), []byte("12a"), 0o644))
	_, err := s.Load(context.Background())
	assert.Error(t, err)

	require.Error(t, s.Save(context.Background(), -1))
}

func TestFileStoreWriteFailure(t *testing.T) {
	t.Parallel()

	s := NewFileStore(filepath.Join(t.TempDir(), "missing-dir", "checkpoint.txt"))
	assert.Error(t, s.Save(context.Background(), 1))
}
