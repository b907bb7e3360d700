package consumer

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/apache/pulsar-client-go/pulsar"
	"github.com/jackc/pgerrcode"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/utils/clock"

	"github.com/callrelay/callrelay/internal/callingester/batch"
	"github.com/callrelay/callrelay/internal/callingester/codec"
	"github.com/callrelay/callrelay/internal/callingester/configuration"
	"github.com/callrelay/callrelay/internal/callingester/metrics"
	"github.com/callrelay/callrelay/internal/callingester/model"
	"github.com/callrelay/callrelay/internal/callingester/store"
	"github.com/callrelay/callrelay/internal/common/pulsarutils"
)

var baseTime = time.Date(2023, 4, 1, 10, 15, 0, 0, time.UTC)

type fakeSink struct {
	mu       sync.Mutex
	batches  [][]*model.StoredRow
	failures int
	// SQLSTATE of the failures. Empty fails as if the connection was lost.
	code string
}

func (s *fakeSink) Write(_ context.Context, rows []*model.StoredRow) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures > 0 {
		s.failures--
		return 0, &store.StorageError{BatchSize: len(rows), Code: s.code}
	}
	s.batches = append(s.batches, rows)
	return len(rows), nil
}

func (s *fakeSink) Stored() [][]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]string, len(s.batches))
	for i, b := range s.batches {
		for _, row := range b {
			out[i] = append(out[i], row.ClientCorrelationId)
		}
	}
	return out
}

func payload(t *testing.T, correlationId string) []byte {
	b, err := codec.EncodeRecord(&model.EventRecord{
		OverallCallStatus:   model.CallStatusConnected,
		CustomerName:        "Acme Ltd",
		ClientCorrelationId: correlationId,
		CallType:            model.CallTypeInbound,
		OverallCallDuration: "00:02:00",
		Participants:        []model.Participant{{Address: "a", Type: "agent", Status: "ok", Duration: 120}},
		Timestamp:           baseTime,
		SessionId:           "s-" + correlationId,
	})
	require.NoError(t, err)
	return b
}

func message(t *testing.T, id int, correlationId string) pulsar.Message {
	return pulsarutils.NewPulsarMessageWithProperties(id, baseTime, payload(t, correlationId),
		map[string]string{codec.PropertyForwardingTimeMs: "12.5"})
}

type harness struct {
	consumer *Consumer
	pulsar   *pulsarutils.MockConsumer
	flusher  *batch.Flusher
	sink     *fakeSink
}

func newHarness(messages []pulsar.Message, sink *fakeSink, batchSize, maxBuffered int, policy configuration.AckPolicy) *harness {
	m := metrics.New(prometheus.NewRegistry())
	mockConsumer := pulsarutils.NewMockConsumer(messages)
	flusher := batch.NewFlusher(sink, time.Hour, maxBuffered, 10*time.Second, clock.RealClock{}, m)
	c := New(mockConsumer, flusher, batch.NewSizeTrigger(flusher, batchSize), policy, 10*time.Millisecond, time.Millisecond, m)
	return &harness{consumer: c, pulsar: mockConsumer, flusher: flusher, sink: sink}
}

// run consumes until condition holds, then stops the consumer.
func (h *harness) run(t *testing.T, condition func() bool) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- h.consumer.Run(ctx) }()
	assert.Eventually(t, condition, 5*time.Second, time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("consumer did not stop")
	}
}

func TestRun_InvalidMessageIsAckedAndDropped(t *testing.T) {
	messages := []pulsar.Message{
		message(t, 1, "A"),
		pulsarutils.NewPulsarMessage(2, baseTime, []byte(`{"Customer_Name": "no other fields"}`)),
		message(t, 3, "B"),
	}
	h := newHarness(messages, &fakeSink{}, 2, 0, configuration.AckOnBuffer)
	h.run(t, func() bool { return len(h.pulsar.Acked()) == 3 })

	assert.Equal(t, [][]string{{"A", "B"}}, h.sink.Stored())
	assert.Equal(t, []pulsar.MessageID{
		pulsarutils.NewMessageId(1),
		pulsarutils.NewMessageId(2),
		pulsarutils.NewMessageId(3),
	}, h.pulsar.Acked())
}

func TestRun_RecordWithNulIsDroppedWithoutFailingTheBatch(t *testing.T) {
	withNul, err := codec.EncodeRecord(&model.EventRecord{
		OverallCallStatus:   model.CallStatusConnected,
		CustomerName:        "Acme\x00Ltd",
		ClientCorrelationId: "N",
		CallType:            model.CallTypeInbound,
		OverallCallDuration: "00:02:00",
		Participants:        []model.Participant{{Address: "a\x00b", Type: "agent", Status: "ok", Duration: 1}},
		Timestamp:           baseTime,
		SessionId:           "s-N",
	})
	require.NoError(t, err)
	messages := []pulsar.Message{
		message(t, 1, "A"),
		pulsarutils.NewPulsarMessage(2, baseTime, withNul),
		message(t, 3, "B"),
	}
	h := newHarness(messages, &fakeSink{}, 2, 0, configuration.AckOnBuffer)
	h.run(t, func() bool { return len(h.pulsar.Acked()) == 3 })

	assert.Equal(t, [][]string{{"A", "B"}}, h.sink.Stored())
	assert.Equal(t, 0, h.flusher.Size())
}

func TestRun_AckOnBufferAcksBeforeFlush(t *testing.T) {
	h := newHarness([]pulsar.Message{message(t, 1, "A")}, &fakeSink{}, 10, 0, configuration.AckOnBuffer)
	h.run(t, func() bool { return len(h.pulsar.Acked()) == 1 })

	assert.Empty(t, h.sink.Stored())
	assert.Equal(t, 1, h.flusher.Size())
}

func TestRun_BatchSizeThenShutdownFlush(t *testing.T) {
	var messages []pulsar.Message
	for i := 1; i <= 5; i++ {
		messages = append(messages, message(t, i, fmt.Sprintf("r%d", i)))
	}
	h := newHarness(messages, &fakeSink{}, 3, 0, configuration.AckOnBuffer)
	h.run(t, func() bool { return len(h.pulsar.Acked()) == 5 })

	_, err := h.flusher.RequestFlush(context.Background(), batch.TriggerShutdown)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"r1", "r2", "r3"}, {"r4", "r5"}}, h.sink.Stored())
}

func TestRun_ForwardingTimeIsCarriedToStorage(t *testing.T) {
	h := newHarness([]pulsar.Message{message(t, 1, "A")}, &fakeSink{}, 1, 0, configuration.AckOnBuffer)
	h.run(t, func() bool { return len(h.sink.Stored()) == 1 })

	h.sink.mu.Lock()
	defer h.sink.mu.Unlock()
	assert.Equal(t, 12.5, h.sink.batches[0][0].ProcessingTimeMs)
}

func TestRun_AckOnStore(t *testing.T) {
	messages := []pulsar.Message{
		message(t, 1, "A"),
		message(t, 2, "B"),
		message(t, 3, "C"),
		message(t, 4, "D"),
	}
	// The first batch fails to store and is nacked for redelivery, the second is stored and acked.
	h := newHarness(messages, &fakeSink{failures: 1}, 2, 0, configuration.AckOnStore)
	h.run(t, func() bool { return len(h.pulsar.Acked()) == 2 })

	assert.Equal(t, [][]string{{"C", "D"}}, h.sink.Stored())
	assert.Equal(t, []pulsar.MessageID{pulsarutils.NewMessageId(1), pulsarutils.NewMessageId(2)}, h.pulsar.Nacked())
	assert.Equal(t, []pulsar.MessageID{pulsarutils.NewMessageId(3), pulsarutils.NewMessageId(4)}, h.pulsar.Acked())
}

func TestRun_AckOnStoreDropsBatchThatCanNeverBeStored(t *testing.T) {
	messages := []pulsar.Message{message(t, 1, "A"), message(t, 2, "B")}
	h := newHarness(messages, &fakeSink{failures: 1, code: pgerrcode.CheckViolation}, 2, 0, configuration.AckOnStore)
	h.run(t, func() bool { return len(h.pulsar.Acked()) == 2 })

	assert.Empty(t, h.sink.Stored())
	assert.Empty(t, h.pulsar.Nacked())
}

func TestRun_AckOnStoreDoesNotAckBufferedRecords(t *testing.T) {
	h := newHarness([]pulsar.Message{message(t, 1, "A")}, &fakeSink{}, 10, 0, configuration.AckOnStore)
	h.run(t, func() bool { return h.flusher.Size() == 1 })
	assert.Empty(t, h.pulsar.Acked())

	_, err := h.flusher.RequestFlush(context.Background(), batch.TriggerShutdown)
	require.NoError(t, err)
	assert.Equal(t, []pulsar.MessageID{pulsarutils.NewMessageId(1)}, h.pulsar.Acked())
}

func TestRun_FullBufferFlushesBeforeAppending(t *testing.T) {
	messages := []pulsar.Message{message(t, 1, "A"), message(t, 2, "B"), message(t, 3, "C")}
	h := newHarness(messages, &fakeSink{}, 10, 2, configuration.AckOnBuffer)
	h.run(t, func() bool { return len(h.pulsar.Acked()) == 3 })

	assert.Equal(t, [][]string{{"A", "B"}}, h.sink.Stored())
	assert.Equal(t, 1, h.flusher.Size())
}
