package pulsarutils

import (
	"context"
	"testing"
	"time"

	"github.com/apache/pulsar-client-go/pulsar"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"

	commonmetrics "github.com/callrelay/callrelay/internal/common/ingest/metrics"
)

var (
	baseTime, _ = time.Parse("2006-01-02T15:04:05.000Z", "2022-03-01T15:04:05.000Z")
	testMetrics = commonmetrics.NewMetricsWithRegisterer("test_", prometheus.NewRegistry())
)

func TestReceive_DeliversInOrderAndClosesOnCancel(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	messages := []pulsar.Message{
		NewPulsarMessage(1, baseTime, []byte("a")),
		NewPulsarMessage(2, baseTime, []byte("b")),
		NewPulsarMessage(3, baseTime, []byte("c")),
	}
	consumer := NewMockConsumer(messages)
	received := Receive(ctx, consumer, 10*time.Millisecond, time.Millisecond, testMetrics)

	var payloads []string
	for i := 0; i < len(messages); i++ {
		msg := <-received
		payloads = append(payloads, string(msg.Payload()))
	}
	assert.Equal(t, []string{"a", "b", "c"}, payloads)

	cancel()
	select {
	case _, ok := <-received:
		assert.False(t, ok)
	case <-time.After(5 * time.Second):
		t.Fatal("receive channel was not closed")
	}
}

func TestAckWithRetry_RetriesUntilSuccess(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	consumer := NewMockConsumer(nil).WithAckFailures(3)
	AckWithRetry(ctx, consumer, NewMessageId(7), time.Millisecond, testMetrics)

	assert.Equal(t, []pulsar.MessageID{NewMessageId(7)}, consumer.Acked())
}

func TestAckWithRetry_GivesUpOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	consumer := NewMockConsumer(nil).WithAckFailures(1)
	AckWithRetry(ctx, consumer, NewMessageId(7), time.Millisecond, testMetrics)

	assert.Empty(t, consumer.Acked())
}

func TestAckWithRetry_AttemptsOnceAfterCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	consumer := NewMockConsumer(nil)
	AckWithRetry(ctx, consumer, NewMessageId(7), time.Millisecond, testMetrics)

	assert.Equal(t, []pulsar.MessageID{NewMessageId(7)}, consumer.Acked())
}
