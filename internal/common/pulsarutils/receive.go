package pulsarutils

import (
	"context"
	"errors"
	"time"

	"github.com/apache/pulsar-client-go/pulsar"
	"github.com/sirupsen/logrus"

	commonmetrics "github.com/callrelay/callrelay/internal/common/ingest/metrics"
	"github.com/callrelay/callrelay/internal/common/logging"
	"github.com/callrelay/callrelay/internal/common/util"
)

var msgLogger = logrus.NewEntry(logrus.StandardLogger())

// Receive pulls messages from consumer onto the returned channel until ctx is cancelled, at which
// point the channel is closed. Receive errors are logged and retried after backoffTime. The channel
// is unbuffered, so a slow reader stops Receive from pulling, and the broker stops delivering once
// the consumer's receiver queue is full.
func Receive(
	ctx context.Context,
	consumer pulsar.Consumer,
	receiveTimeout time.Duration,
	backoffTime time.Duration,
	m *commonmetrics.Metrics,
) <-chan pulsar.Message {
	out := make(chan pulsar.Message)
	go func() {
		defer close(out)

		// Periodically log the number of processed messages.
		logInterval := 60 * time.Second
		lastLogged := time.Now()
		numReceived := 0
		var lastMessageId pulsar.MessageID
		lastPublishTime := time.Now()

		for {
			if time.Since(lastLogged) > logInterval {
				msgLogger.WithFields(
					logrus.Fields{
						"received":      numReceived,
						"interval":      logInterval,
						"lastMessageId": lastMessageId,
						"timeLag":       time.Since(lastPublishTime),
					},
				).Info("message statistics")
				numReceived = 0
				lastLogged = time.Now()
			}

			select {
			case <-ctx.Done():
				msgLogger.Infof("Shutting down pulsar receiver")
				return
			default:
			}

			ctxWithTimeout, cancel := context.WithTimeout(ctx, receiveTimeout)
			msg, err := consumer.Receive(ctxWithTimeout)
			cancel()
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				msgLogger.Debugf("No message received")
				continue
			}
			// If receiving fails, try again in the hope that the problem is transient.
			if err != nil {
				m.RecordPulsarConnectionError()
				logging.
					WithStacktrace(msgLogger, err).
					WithField("lastMessageId", lastMessageId).
					Warnf("Pulsar receive failed; backing off for %s", backoffTime)
				sleep(ctx, backoffTime)
				continue
			}

			numReceived++
			lastPublishTime = msg.PublishTime()
			lastMessageId = msg.ID()
			select {
			case out <- msg:
			case <-ctx.Done():
				msgLogger.Infof("Shutting down pulsar receiver")
				return
			}
		}
	}()
	return out
}

// AckWithRetry acks id on consumer, retrying with backoffTime between attempts until it succeeds
// or ctx is done. One attempt is always made, so messages can still be acked while shutting down.
func AckWithRetry(ctx context.Context, consumer pulsar.Consumer, id pulsar.MessageID, backoffTime time.Duration, m *commonmetrics.Metrics) {
	onError := func(err error) {
		m.RecordPulsarAckError()
		logging.
			WithStacktrace(msgLogger, err).
			WithField("messageId", id).
			Warnf("Pulsar ack failed; backing off for %s", backoffTime)
		sleep(ctx, backoffTime)
	}
	err := consumer.AckID(id)
	if err == nil {
		return
	}
	onError(err)
	util.RetryUntilSuccess(ctx, func() error { return consumer.AckID(id) }, onError)
}

func sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
