package metrics

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/acme-corp/pg-mongo-migrator/internal/migrate"
)

const metricsNamespace = "migrator"

// Collector gathers run metrics. Counters are kept twice: as atomics for
// the end-of-run summary and as Prometheus series for scraping while the
// run is in progress.
type Collector struct {
	batchesCompleted atomic.Int64
	batchesSkipped   atomic.Int64
	batchesFailed    atomic.Int64
	retries          atomic.Int64
	recordsWritten   atomic.Int64

	batchDuration durationTracker
	startTime     time.Time

	registry  *prometheus.Registry
	batches   *prometheus.CounterVec
	attempts  prometheus.Counter
	records   prometheus.Counter
	durations prometheus.Histogram
	resume    prometheus.Gauge
}

type durationTracker struct {
	total time.Duration
	count int64
	mu    sync.Mutex
}

// NewCollector creates a collector with its own registry.
func NewCollector() *Collector {
	c := &Collector{
		startTime: time.Now(),
		registry:  prometheus.NewRegistry(),
		batches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "batches_total",
				Help:      "Batches that reached a terminal outcome, by outcome",
			},
			[]string{"outcome"},
		),
		attempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "retries_total",
			Help:      "Failed batch attempts that were retried",
		}),
		records: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "records_written_total",
			Help:      "Records inserted into the sink",
		}),
		durations: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "batch_duration_seconds",
			Help:      "Wall time from batch start to terminal outcome",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		resume: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "checkpoint_resume_batch",
			Help:      "Checkpoint the run resumed from",
		}),
	}
	c.registry.MustRegister(c.batches, c.attempts, c.records, c.durations, c.resume)
	return c
}

// OnOutcome implements migrate.Observer.
func (c *Collector) OnOutcome(o migrate.Outcome) {
	switch o.Status {
	case migrate.Retrying:
		c.retries.Add(1)
		c.attempts.Inc()
		return
	case migrate.Completed:
		c.batchesCompleted.Add(1)
		c.recordsWritten.Add(int64(o.Records))
		c.records.Add(float64(o.Records))
	case migrate.Skipped:
		c.batchesSkipped.Add(1)
	case migrate.Failed:
		c.batchesFailed.Add(1)
	}
	c.batches.WithLabelValues(o.Status.String()).Inc()

	if o.Status != migrate.Skipped {
		c.durations.Observe(o.Duration.Seconds())
		c.batchDuration.mu.Lock()
		c.batchDuration.total += o.Duration
		c.batchDuration.count++
		c.batchDuration.mu.Unlock()
	}
}

// SetResume records the checkpoint the run started from.
func (c *Collector) SetResume(batchID int64) {
	c.resume.Set(float64(batchID))
}

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Snapshot represents a point-in-time view of run metrics.
type Snapshot struct {
	BatchesCompleted int64   `json:"batches_completed"`
	BatchesSkipped   int64   `json:"batches_skipped"`
	BatchesFailed    int64   `json:"batches_failed"`
	Retries          int64   `json:"retries"`
	RecordsWritten   int64   `json:"records_written"`
	Uptime           string  `json:"uptime"`
	Throughput       float64 `json:"records_per_second"`
	AvgBatchDuration string  `json:"avg_batch_duration_ms"`
}

// Snapshot returns a consistent view of all metrics.
func (c *Collector) Snapshot() Snapshot {
	elapsed := time.Since(c.startTime)
	written := c.recordsWritten.Load()

	var throughput float64
	if elapsed.Seconds() > 0 {
		throughput = float64(written) / elapsed.Seconds()
	}

	var avg string
	c.batchDuration.mu.Lock()
	if c.batchDuration.count > 0 {
		d := c.batchDuration.total / time.Duration(c.batchDuration.count)
		avg = fmt.Sprintf("%.2fms", float64(d.Microseconds())/1000)
	}
	c.batchDuration.mu.Unlock()

	return Snapshot{
		BatchesCompleted: c.batchesCompleted.Load(),
		BatchesSkipped:   c.batchesSkipped.Load(),
		BatchesFailed:    c.batchesFailed.Load(),
		Retries:          c.retries.Load(),
		RecordsWritten:   written,
		Uptime:           elapsed.Round(time.Second).String(),
		Throughput:       throughput,
		AvgBatchDuration: avg,
	}
}

// JSON returns the snapshot as formatted JSON.
func (c *Collector) JSON() (string, error) {
	data, err := json.MarshalIndent(c.Snapshot(), "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
