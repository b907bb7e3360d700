package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	commonmetrics "github.com/callrelay/callrelay/internal/common/ingest/metrics"
)

// Metrics extends the shared pulsar/postgres counters with the buffer and flush instrumentation of
// the ingester.
type Metrics struct {
	*commonmetrics.Metrics
	flushes         *prometheus.CounterVec
	flushFailures   *prometheus.CounterVec
	batchSize       prometheus.Histogram
	flushDuration   prometheus.Histogram
	recordsStored   prometheus.Counter
	recordsDropped  prometheus.Counter
	bufferedRecords prometheus.Gauge
	deadLettered    prometheus.Counter
}

var m = New(prometheus.DefaultRegisterer)

// Get returns the process wide ingester metrics.
func Get() *Metrics {
	return m
}

func New(reg prometheus.Registerer) *Metrics {
	prefix := commonmetrics.CallIngesterMetricsPrefix
	factory := promauto.With(reg)
	return &Metrics{
		Metrics: commonmetrics.NewMetricsWithRegisterer(prefix, reg),
		flushes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: prefix + "flushes",
			Help: "Number of non-empty flushes grouped by the trigger that requested them",
		}, []string{"trigger"}),
		flushFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: prefix + "flush_failures",
			Help: "Number of flushes whose batch could not be stored, grouped by trigger",
		}, []string{"trigger"}),
		batchSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    prefix + "batch_size",
			Help:    "Number of records drained per flush",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
		flushDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    prefix + "flush_duration_seconds",
			Help:    "Time taken to encode and store one batch",
			Buckets: prometheus.DefBuckets,
		}),
		recordsStored: factory.NewCounter(prometheus.CounterOpts{
			Name: prefix + "records_stored",
			Help: "Number of records written to storage",
		}),
		recordsDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: prefix + "records_dropped",
			Help: "Number of records lost because the batch holding them failed to store",
		}),
		bufferedRecords: factory.NewGauge(prometheus.GaugeOpts{
			Name: prefix + "buffered_records",
			Help: "Number of records currently waiting in the buffer",
		}),
		deadLettered: factory.NewCounter(prometheus.CounterOpts{
			Name: prefix + "records_dead_lettered",
			Help: "Number of records from failed batches written to the dead-letter stream",
		}),
	}
}

func (m *Metrics) RecordFlush(trigger string, batchSize int, durationSeconds float64) {
	m.flushes.WithLabelValues(trigger).Inc()
	m.batchSize.Observe(float64(batchSize))
	m.flushDuration.Observe(durationSeconds)
}

func (m *Metrics) RecordFlushFailure(trigger string, batchSize int) {
	m.flushFailures.WithLabelValues(trigger).Inc()
	m.recordsDropped.Add(float64(batchSize))
}

func (m *Metrics) RecordStored(n int) {
	m.recordsStored.Add(float64(n))
}

func (m *Metrics) SetBuffered(n int) {
	m.bufferedRecords.Set(float64(n))
}

func (m *Metrics) RecordDeadLettered(n int) {
	m.deadLettered.Add(float64(n))
}
