package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type (
	DBOperation        string
	PulsarMessageError string
)

const (
	DBOperationRead                   DBOperation        = "read"
	DBOperationInsert                 DBOperation        = "insert"
	DBOperationCreateTempTable        DBOperation        = "create_temp_table"
	PulsarMessageErrorDeserialization PulsarMessageError = "deserialization"
	PulsarMessageErrorProcessing      PulsarMessageError = "processing"
)

const (
	CallIngesterMetricsPrefix = "callrelay_ingester_"
	CallIngressMetricsPrefix  = "callrelay_ingress_"
	CallReportMetricsPrefix   = "callrelay_report_"
)

// Metrics holds the counters every component that talks to pulsar or postgres reports.
type Metrics struct {
	dbErrorsCounter       *prometheus.CounterVec
	pulsarConnectionError prometheus.Counter
	pulsarMessageError    *prometheus.CounterVec
	pulsarAckError        prometheus.Counter
}

// NewMetrics registers a fresh set of counters against the default registry. Each prefix may only be
// registered once per process.
func NewMetrics(prefix string) *Metrics {
	return NewMetricsWithRegisterer(prefix, prometheus.DefaultRegisterer)
}

// NewMetricsWithRegisterer registers the counters against reg. Tests pass a throwaway registry.
func NewMetricsWithRegisterer(prefix string, reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	dbErrorsCounterOpts := prometheus.CounterOpts{
		Name: prefix + "db_errors",
		Help: "Number of database errors grouped by database operation",
	}
	pulsarMessageErrorOpts := prometheus.CounterOpts{
		Name: prefix + "pulsar_message_errors",
		Help: "Number of Pulsar message errors grouped by error type",
	}
	pulsarConnectionErrorOpts := prometheus.CounterOpts{
		Name: prefix + "pulsar_connection_errors",
		Help: "Number of Pulsar connection errors",
	}
	pulsarAckErrorOpts := prometheus.CounterOpts{
		Name: prefix + "pulsar_ack_errors",
		Help: "Number of failed Pulsar acknowledgements",
	}
	return &Metrics{
		dbErrorsCounter:       factory.NewCounterVec(dbErrorsCounterOpts, []string{"operation"}),
		pulsarMessageError:    factory.NewCounterVec(pulsarMessageErrorOpts, []string{"error"}),
		pulsarConnectionError: factory.NewCounter(pulsarConnectionErrorOpts),
		pulsarAckError:        factory.NewCounter(pulsarAckErrorOpts),
	}
}

func (m *Metrics) RecordDBError(operation DBOperation) {
	m.dbErrorsCounter.With(map[string]string{"operation": string(operation)}).Inc()
}

func (m *Metrics) RecordPulsarMessageError(error PulsarMessageError) {
	m.pulsarMessageError.With(map[string]string{"error": string(error)}).Inc()
}

func (m *Metrics) RecordPulsarConnectionError() {
	m.pulsarConnectionError.Inc()
}

func (m *Metrics) RecordPulsarAckError() {
	m.pulsarAckError.Inc()
}
