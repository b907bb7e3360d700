package callingress

import (
	"github.com/apache/pulsar-client-go/pulsar"
	"github.com/avast/retry-go"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"k8s.io/utils/clock"

	"github.com/callrelay/callrelay/internal/callingress/configuration"
	"github.com/callrelay/callrelay/internal/common"
	"github.com/callrelay/callrelay/internal/common/app"
	"github.com/callrelay/callrelay/internal/common/health"
	"github.com/callrelay/callrelay/internal/common/logging"
	"github.com/callrelay/callrelay/internal/common/pulsarutils"
	"github.com/callrelay/callrelay/internal/common/util"
)

// Run serves the receive api until a SIGTERM is received. Accepted records are published to the
// call records topic, where the ingester picks them up.
func Run(config *configuration.CallIngressConfiguration) {
	log.WithField(logging.CorrelationId, logging.SystemCorrelationId).Info("Call Ingress Starting")
	ctx := app.CreateContextWithShutdown()

	startupComplete := health.NewStartupCompleteChecker()
	shutdownMetricServer := common.ServeMetrics(config.MetricsPort)
	defer shutdownMetricServer()

	var client pulsar.Client
	var producer pulsar.Producer
	err := retry.Do(
		func() error {
			var err error
			client, err = pulsarutils.NewPulsarClient(&config.Pulsar)
			if err != nil {
				return err
			}
			producer, err = client.CreateProducer(pulsar.ProducerOptions{
				Name:            "callingress-" + util.NewIdentifierSuffix(),
				Topic:           config.Pulsar.CallRecordsTopic,
				SendTimeout:     config.Pulsar.SendTimeout,
				CompressionType: config.CompressionType,
			})
			if err != nil {
				client.Close()
				return errors.WithStack(err)
			}
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(config.StartupAttempts),
		retry.Delay(config.StartupBackoff),
		retry.OnRetry(func(n uint, err error) {
			logging.WithStacktrace(log.WithField("attempt", n+1), err).Warn("Error creating pulsar producer")
		}),
	)
	if err != nil {
		panic(errors.WithMessage(err, "Error creating pulsar producer"))
	}
	defer client.Close()
	defer producer.Close()

	handler := NewReceiveHandler(producer, config.MaxPayloadBytes, clock.RealClock{}, NewMetrics(prometheus.DefaultRegisterer))
	shutdownHttpServer := common.ServeHttp(config.HttpPort, NewMux(handler, startupComplete))
	startupComplete.MarkComplete()

	<-ctx.Done()
	// Stop taking requests before the producer goes away.
	shutdownHttpServer()
	if err := producer.Flush(); err != nil {
		logging.WithStacktrace(log.WithField(logging.CorrelationId, logging.SystemCorrelationId), err).
			Error("Failed to flush pulsar producer")
	}
	log.WithField(logging.CorrelationId, logging.SystemCorrelationId).Info("Call Ingress Stopped")
}
