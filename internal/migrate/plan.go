package migrate

import (
	migerr "github.com/acme-corp/pg-mongo-migrator/internal/errors"
	"github.com/acme-corp/pg-mongo-migrator/internal/ingestion"
)

// Plan partitions [0, total) into ceil(total/batchSize) contiguous batches.
// The last batch is short when batchSize does not divide total.
func Plan(total, batchSize int64) ([]ingestion.Batch, error) {
	if batchSize <= 0 {
		return nil, migerr.Configurationf("plan", "batch size must be positive, got %d", batchSize)
	}
	if total < 0 {
		return nil, migerr.Configurationf("plan", "record count must not be negative, got %d", total)
	}

	n := (total + batchSize - 1) / batchSize
	batches := make([]ingestion.Batch, 0, n)
	for id := range n {
		offset := id * batchSize
		batches = append(batches, ingestion.Batch{
			ID:     id,
			Offset: offset,
			Limit:  min(batchSize, total-offset),
		})
	}
	return batches, nil
}
