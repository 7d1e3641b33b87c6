package migrate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	migerr "github.com/acme-corp/pg-mongo-migrator/internal/errors"
	"github.com/acme-corp/pg-mongo-migrator/internal/ingestion"
)

func TestPlanShortFinalBatch(t *testing.T) {
	t.Parallel()

	batches, err := Plan(95, 10)
	require.NoError(t, err)
	require.Len(t, batches, 10)
	assert.Equal(t, ingestion.Batch{ID: 0, Offset: 0, Limit: 10}, batches[0])
	assert.Equal(t, ingestion.Batch{ID: 9, Offset: 90, Limit: 5}, batches[9])
	assert.Equal(t, int64(95), batches[9].End())
}

func TestPlanEmptySource(t *testing.T) {
	t.Parallel()

	batches, err := Plan(0, 10)
	require.NoError(t, err)
	assert.Empty(t, batches)
}

func TestPlanRejectsBadInput(t *testing.T) {
	t.Parallel()

	_, err := Plan(10, 0)
	assert.True(t, migerr.IsConfiguration(err))
	_, err = Plan(10, -3)
	assert.True(t, migerr.IsConfiguration(err))
	_, err = Plan(-1, 10)
	assert.True(t, migerr.IsConfiguration(err))
}

func TestPlanCoversRangeWithoutGaps(t *testing.T) {
	t.Parallel()

	for total := int64(0); total <= 60; total++ {
		for size := int64(1); size <= 13; size++ {
			batches, err := Plan(total, size)
			require.NoError(t, err)
			require.Len(t, batches, int((total+size-1)/size), "total=%d size=%d", total, size)

			next := int64(0)
			for i, b := range batches {
				assert.Equal(t, int64(i), b.ID)
				assert.Equal(t, next, b.Offset, "gap or overlap at batch %d", i)
				assert.Equal(t, b.ID*size, b.Offset)
				assert.Positive(t, b.Limit)
				next = b.End()
			}
			assert.Equal(t, total, next)
		}
	}
}
