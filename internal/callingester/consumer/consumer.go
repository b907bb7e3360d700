package consumer

import (
	"context"
	"strconv"
	"time"

	"github.com/apache/pulsar-client-go/pulsar"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/callrelay/callrelay/internal/callingester/batch"
	"github.com/callrelay/callrelay/internal/callingester/codec"
	"github.com/callrelay/callrelay/internal/callingester/configuration"
	"github.com/callrelay/callrelay/internal/callingester/metrics"
	"github.com/callrelay/callrelay/internal/callingester/model"
	"github.com/callrelay/callrelay/internal/callingester/store"
	commonmetrics "github.com/callrelay/callrelay/internal/common/ingest/metrics"
	"github.com/callrelay/callrelay/internal/common/logging"
	"github.com/callrelay/callrelay/internal/common/pulsarutils"
)

// Consumer moves messages from a pulsar subscription into the flusher's buffer. Messages are
// processed one at a time in delivery order; while a size-triggered flush is running no further
// messages are taken, and the broker stops delivering once the subscription's receiver queue is
// full.
type Consumer struct {
	consumer       pulsar.Consumer
	flusher        *batch.Flusher
	sizeTrigger    *batch.SizeTrigger
	ackPolicy      configuration.AckPolicy
	receiveTimeout time.Duration
	backoffTime    time.Duration
	metrics        *metrics.Metrics
}

func New(
	consumer pulsar.Consumer,
	flusher *batch.Flusher,
	sizeTrigger *batch.SizeTrigger,
	ackPolicy configuration.AckPolicy,
	receiveTimeout time.Duration,
	backoffTime time.Duration,
	m *metrics.Metrics,
) *Consumer {
	c := &Consumer{
		consumer:       consumer,
		flusher:        flusher,
		sizeTrigger:    sizeTrigger,
		ackPolicy:      ackPolicy,
		receiveTimeout: receiveTimeout,
		backoffTime:    backoffTime,
		metrics:        m,
	}
	if ackPolicy == configuration.AckOnStore {
		flusher.OnFlushed(c.settleBatch)
	}
	return c
}

// Run consumes until ctx is done. Invalid messages and storage failures are logged and counted but
// never stop the loop.
func (c *Consumer) Run(ctx context.Context) error {
	log.WithField(logging.CorrelationId, logging.SystemCorrelationId).
		Infof("Consuming with ack policy %s", c.ackPolicy)
	for msg := range pulsarutils.Receive(ctx, c.consumer, c.receiveTimeout, c.backoffTime, c.metrics.Metrics) {
		c.handle(ctx, msg)
	}
	return nil
}

func (c *Consumer) handle(ctx context.Context, msg pulsar.Message) {
	record, err := codec.Decode(msg.Payload())
	if err != nil {
		// Acked regardless so that a poison message cannot block the subscription.
		c.metrics.RecordPulsarMessageError(commonmetrics.PulsarMessageErrorDeserialization)
		logging.WithStacktrace(log.WithField("messageId", msg.ID()), err).Warn("Dropping invalid call record")
		pulsarutils.AckWithRetry(ctx, c.consumer, msg.ID(), c.backoffTime, c.metrics.Metrics)
		return
	}

	logger := log.WithFields(log.Fields{
		logging.CorrelationId: record.ClientCorrelationId,
		"messageId":           msg.ID(),
	})
	buffered := &model.BufferedRecord{
		Record:           record,
		MessageId:        msg.ID(),
		ForwardingTimeMs: forwardingTimeMs(msg, logger),
	}
	size, err := c.append(ctx, buffered)
	if err != nil {
		// Only happens on shutdown. The message is left unacknowledged for redelivery.
		logger.WithError(err).Info("Record not buffered")
		return
	}
	logger.Debugf("Buffered record, buffer size %d", size)

	if err := c.sizeTrigger.Check(ctx, size); err != nil {
		// Already logged and counted by the flusher.
		logger.Debug("Size triggered flush failed")
	}

	if c.ackPolicy == configuration.AckOnBuffer {
		pulsarutils.AckWithRetry(ctx, c.consumer, msg.ID(), c.backoffTime, c.metrics.Metrics)
	}
}

// append adds record to the buffer. If the buffer is at capacity it flushes to make room and tries
// again, so consumption pauses for as long as storage is slow.
func (c *Consumer) append(ctx context.Context, record *model.BufferedRecord) (int, error) {
	for {
		size, err := c.flusher.Append(record)
		if !errors.Is(err, batch.ErrBufferFull) {
			return size, err
		}
		log.WithField("size", size).Warn("Buffer full; pausing consumption until it is flushed")
		// A failed flush still drains the buffer, so the next append has room either way.
		_, _ = c.flusher.RequestFlush(ctx, batch.TriggerSize)
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
	}
}

// settleBatch acknowledges the messages of a stored batch. If the batch failed to store with an
// error that a retry could get past they are negatively acknowledged so that the broker redelivers
// them. Batches that can never be stored are acknowledged and dropped.
func (c *Consumer) settleBatch(ctx context.Context, result batch.FlushResult) {
	redeliver := result.Err != nil && store.IsTransient(result.Err)
	for _, r := range result.Batch {
		if redeliver {
			c.consumer.NackID(r.MessageId)
			continue
		}
		pulsarutils.AckWithRetry(ctx, c.consumer, r.MessageId, c.backoffTime, c.metrics.Metrics)
	}
}

func forwardingTimeMs(msg pulsar.Message, logger *log.Entry) float64 {
	raw, ok := msg.Properties()[codec.PropertyForwardingTimeMs]
	if !ok {
		return 0
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		logger.Warnf("Ignoring invalid %s property %q", codec.PropertyForwardingTimeMs, raw)
		return 0
	}
	return v
}
