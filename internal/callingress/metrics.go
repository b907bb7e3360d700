package callingress

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	commonmetrics "github.com/callrelay/callrelay/internal/common/ingest/metrics"
)

type outcome string

const (
	outcomeQueued   outcome = "queued"
	outcomeInvalid  outcome = "invalid"
	outcomeRejected outcome = "rejected"
	outcomeFailed   outcome = "publish_failed"
)

type Metrics struct {
	requests       *prometheus.CounterVec
	publishLatency prometheus.Histogram
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	prefix := commonmetrics.CallIngressMetricsPrefix
	factory := promauto.With(reg)
	return &Metrics{
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: prefix + "requests",
			Help: "Number of receive requests grouped by outcome",
		}, []string{"outcome"}),
		publishLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    prefix + "publish_duration_seconds",
			Help:    "Time taken for the broker to persist one record",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

func (m *Metrics) recordRequest(o outcome) {
	m.requests.WithLabelValues(string(o)).Inc()
}

func (m *Metrics) observePublish(seconds float64) {
	m.publishLatency.Observe(seconds)
}
