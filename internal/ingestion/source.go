package ingestion

import (
	"context"
)

// Field is one named value in a Record.
type Field struct {
	Name  string
	Value any
}

// Record represents a single row flowing through the migration, after
// normalization. Field order follows the source's column order, so the
// document written to the sink keeps the same layout as the row.
type Record []Field

// Get returns the value of the named field.
func (r Record) Get(name string) (any, bool) {
	for _, f := range r {
		if f.Name == name {
			return f.Value, true
		}
	}
	return nil, false
}

// Len returns the number of fields in the record.
func (r Record) Len() int { return len(r) }

// Batch is a contiguous slice [Offset, Offset+Limit) of the source result
// set. Identity is purely positional: ID*batchSize == Offset.
type Batch struct {
	ID     int64
	Offset int64
	Limit  int64
}

// End returns the exclusive upper bound of the batch.
func (b Batch) End() int64 { return b.Offset + b.Limit }

// RowSet is the raw result of one page query: column names in select order
// and the driver-native values of every row.
type RowSet struct {
	Columns []string
	Rows    [][]any
}

// Len returns the number of rows fetched.
func (rs *RowSet) Len() int {
	if rs == nil {
		return 0
	}
	return len(rs.Rows)
}

// Reader defines what the migration needs from the relational source.
// Implementations must be safe for concurrent use by every worker.
type Reader interface {
	// Count returns the number of rows matched by the configured query.
	Count(ctx context.Context) (int64, error)

	// Fetch returns up to limit rows starting at offset.
	Fetch(ctx context.Context, offset, limit int64) (*RowSet, error)

	// Close releases pooled connections.
	Close()
}
