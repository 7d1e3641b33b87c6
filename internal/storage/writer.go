package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sync"

	migerr "github.com/acme-corp/pg-mongo-migrator/internal/errors"
	"github.com/acme-corp/pg-mongo-migrator/internal/ingestion"
)

// Writer defines the interface for writing normalized records to the sink.
// Implementations must be safe for concurrent use by every worker.
type Writer interface {
	// Open establishes the sink connection. A failure here is fatal.
	Open(ctx context.Context) error

	// InsertMany writes records as one bulk insert.
	InsertMany(ctx context.Context, records []ingestion.Record) error

	// Close flushes and releases the sink.
	Close(ctx context.Context) error
}

// ---- File-based Writer Implementation ----

// JSONFileWriter writes records as newline-delimited JSON (NDJSON).
// Used for dry runs and local development.
type JSONFileWriter struct {
	path string
	file *os.File
	mu   sync.Mutex
}

func NewJSONFileWriter(path string) *JSONFileWriter {
	return &JSONFileWriter{path: path}
}

func (w *JSONFileWriter) Open(ctx context.Context) error {
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return migerr.NewFatal("jsonfile: open", fmt.Errorf("opening output file: %w", err))
	}
	w.file = f
	return nil
}

// InsertMany encodes the whole batch before writing so a marshal failure
// leaves nothing half-written.
func (w *JSONFileWriter) InsertMany(ctx context.Context, records []ingestion.Record) error {
	var buf bytes.Buffer
	for i, rec := range records {
		data, err := marshalRecord(rec)
		if err != nil {
			return migerr.NewConfiguration("jsonfile: marshal", fmt.Errorf("record %d: %w", i, err))
		}
		buf.Write(data)
		buf.WriteByte('\n')
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return migerr.NewFatal("jsonfile: write", fmt.Errorf("writer for %s is not open", w.path))
	}
	if _, err := w.file.Write(buf.Bytes()); err != nil {
		return migerr.NewTransient("jsonfile: write", err)
	}
	return nil
}

func (w *JSONFileWriter) Close(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	if err := w.file.Sync(); err != nil {
		_ = w.file.Close()
		return err
	}
	err := w.file.Close()
	w.file = nil
	return err
}

// marshalRecord renders a record as a JSON object whose keys keep the
// record's field order.
func marshalRecord(rec ingestion.Record) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range rec {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(f.Name)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(jsonValue(f.Value))
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", f.Name, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// jsonValue replaces floats JSON cannot represent with their Postgres
// spelling.
func jsonValue(v any) any {
	switch x := v.(type) {
	case float64:
		return jsonFloat(x)
	case float32:
		return jsonFloat(float64(x))
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = jsonValue(e)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = jsonValue(e)
		}
		return out
	default:
		return v
	}
}

func jsonFloat(f float64) any {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	default:
		return f
	}
}
