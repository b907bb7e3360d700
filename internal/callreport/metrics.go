package callreport

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	commonmetrics "github.com/callrelay/callrelay/internal/common/ingest/metrics"
)

type Metrics struct {
	*commonmetrics.Metrics
	cacheHits     prometheus.Counter
	queryDuration prometheus.Histogram
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	prefix := commonmetrics.CallReportMetricsPrefix
	factory := promauto.With(reg)
	return &Metrics{
		Metrics: commonmetrics.NewMetricsWithRegisterer(prefix, reg),
		cacheHits: factory.NewCounter(prometheus.CounterOpts{
			Name: prefix + "cache_hits",
			Help: "Number of summaries served from cache",
		}),
		queryDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    prefix + "query_duration_seconds",
			Help:    "Time taken to compute one summary",
			Buckets: prometheus.DefBuckets,
		}),
	}
}
