package metrics

import (
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acme-corp/pg-mongo-migrator/internal/ingestion"
	"github.com/acme-corp/pg-mongo-migrator/internal/migrate"
)

func TestCollectorCountsOutcomes(t *testing.T) {
	t.Parallel()

	c := NewCollector()
	b := ingestion.Batch{ID: 1, Offset: 10, Limit: 10}
	c.OnOutcome(migrate.Outcome{Batch: b, Status: migrate.Retrying, Attempt: 1, Err: errors.New("reset")})
	c.OnOutcome(migrate.Outcome{Batch: b, Status: migrate.Completed, Records: 10, Duration: 20 * time.Millisecond})
	c.OnOutcome(migrate.Outcome{Batch: ingestion.Batch{ID: 0}, Status: migrate.Skipped})
	c.OnOutcome(migrate.Outcome{Batch: ingestion.Batch{ID: 2}, Status: migrate.Failed, Duration: 40 * time.Millisecond})
	c.SetResume(1)

	snap := c.Snapshot()
	assert.Equal(t, int64(1), snap.BatchesCompleted)
	assert.Equal(t, int64(1), snap.BatchesSkipped)
	assert.Equal(t, int64(1), snap.BatchesFailed)
	assert.Equal(t, int64(1), snap.Retries)
	assert.Equal(t, int64(10), snap.RecordsWritten)
	assert.Equal(t, "30.00ms", snap.AvgBatchDuration)

	assert.InDelta(t, 1, testutil.ToFloat64(c.batches.WithLabelValues("completed")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(c.batches.WithLabelValues("failed")), 0)
	assert.InDelta(t, 10, testutil.ToFloat64(c.records), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(c.attempts), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(c.resume), 0)
}

func TestCollectorJSON(t *testing.T) {
	t.Parallel()

	c := NewCollector()
	c.OnOutcome(migrate.Outcome{Status: migrate.Completed, Records: 3})

	out, err := c.JSON()
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	assert.EqualValues(t, 3, decoded["records_written"])
}

func TestCollectorHandler(t *testing.T) {
	t.Parallel()

	c := NewCollector()
	c.OnOutcome(migrate.Outcome{Status: migrate.Completed, Records: 5})

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `migrator_batches_total{outcome="completed"} 1`), body)
	assert.Contains(t, body, "migrator_records_written_total 5")
}
