package callreport

import (
	"net/http"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"k8s.io/utils/clock"

	"github.com/callrelay/callrelay/internal/callreport/configuration"
	"github.com/callrelay/callrelay/internal/callreport/repository"
	"github.com/callrelay/callrelay/internal/common"
	"github.com/callrelay/callrelay/internal/common/app"
	"github.com/callrelay/callrelay/internal/common/database"
	"github.com/callrelay/callrelay/internal/common/health"
	"github.com/callrelay/callrelay/internal/common/logging"
	"github.com/callrelay/callrelay/internal/common/util"
)

// Run serves call record summaries from postgres until a SIGTERM is received.
func Run(config *configuration.CallReportConfiguration) {
	log.WithField(logging.CorrelationId, logging.SystemCorrelationId).Info("Call Report Starting")
	ctx := app.CreateContextWithShutdown()

	db, err := database.OpenSqlDb(ctx, config.Postgres)
	if err != nil {
		panic(errors.WithMessage(err, "Error opening connection to postgres"))
	}
	defer util.CloseResource("postgres", db)

	shutdownMetricServer := common.ServeMetrics(config.MetricsPort)
	defer shutdownMetricServer()

	handler := NewSummaryHandler(
		repository.NewSqlSummaryRepository(db),
		config.CacheTTL,
		config.QueryTimeout,
		clock.RealClock{},
		NewMetrics(prometheus.DefaultRegisterer),
	)
	startupCompleteChecker := health.NewStartupCompleteChecker()
	checker := health.NewMultiChecker(startupCompleteChecker, health.CheckerFunc(db.Ping))
	shutdownHttpServer := common.ServeHttp(config.HttpPort, NewMux(handler, checker))
	defer shutdownHttpServer()
	startupCompleteChecker.MarkComplete()

	<-ctx.Done()
	log.WithField(logging.CorrelationId, logging.SystemCorrelationId).Info("Call Report Stopping")
}

// NewMux routes the summary api and the health check.
func NewMux(summary http.Handler, checker health.Checker) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/api/monitor/summary", summary)
	health.SetupHttpMux(mux, checker)
	return mux
}
