package pulsarutils

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/apache/pulsar-client-go/pulsar"
)

type MockMessageId struct {
	pulsar.MessageID
	id int
}

func NewMessageId(id int) pulsar.MessageID {
	return MockMessageId{id: id}
}

func (m MockMessageId) String() string {
	return fmt.Sprintf("mock:%d", m.id)
}

type MockPulsarMessage struct {
	pulsar.Message
	messageId   pulsar.MessageID
	payload     []byte
	publishTime time.Time
	properties  map[string]string
}

func NewPulsarMessage(id int, publishTime time.Time, payload []byte) MockPulsarMessage {
	return NewPulsarMessageWithProperties(id, publishTime, payload, nil)
}

func NewPulsarMessageWithProperties(id int, publishTime time.Time, payload []byte, properties map[string]string) MockPulsarMessage {
	return MockPulsarMessage{
		messageId:   NewMessageId(id),
		publishTime: publishTime,
		payload:     payload,
		properties:  properties,
	}
}

func (m MockPulsarMessage) ID() pulsar.MessageID {
	return m.messageId
}

func (m MockPulsarMessage) Payload() []byte {
	return m.payload
}

func (m MockPulsarMessage) PublishTime() time.Time {
	return m.publishTime
}

func (m MockPulsarMessage) Properties() map[string]string {
	return m.properties
}

// MockConsumer hands out a fixed list of messages and records acks and nacks. Once the list is
// exhausted Receive blocks until its context is done.
type MockConsumer struct {
	pulsar.Consumer
	mu         sync.Mutex
	messages   []pulsar.Message
	messageIdx int
	acked      []pulsar.MessageID
	nacked     []pulsar.MessageID
	// If set, AckID fails this many times before succeeding.
	ackFailures int
	// Called after every successful ack with the number of acks so far.
	onAck func(acked int)
}

func NewMockConsumer(messages []pulsar.Message) *MockConsumer {
	return &MockConsumer{messages: messages}
}

// WithAckFailures makes the next n calls to AckID fail.
func (c *MockConsumer) WithAckFailures(n int) *MockConsumer {
	c.ackFailures = n
	return c
}

// OnAck registers a callback invoked after each successful ack.
func (c *MockConsumer) OnAck(f func(acked int)) *MockConsumer {
	c.onAck = f
	return c
}

func (c *MockConsumer) Receive(ctx context.Context) (pulsar.Message, error) {
	c.mu.Lock()
	if c.messageIdx < len(c.messages) {
		msg := c.messages[c.messageIdx]
		c.messageIdx++
		c.mu.Unlock()
		return msg, nil
	}
	c.mu.Unlock()
	<-ctx.Done()
	return nil, ctx.Err()
}

func (c *MockConsumer) AckID(id pulsar.MessageID) error {
	c.mu.Lock()
	if c.ackFailures > 0 {
		c.ackFailures--
		c.mu.Unlock()
		return fmt.Errorf("mock ack failure for %s", id)
	}
	c.acked = append(c.acked, id)
	acked := len(c.acked)
	onAck := c.onAck
	c.mu.Unlock()
	if onAck != nil {
		onAck(acked)
	}
	return nil
}

func (c *MockConsumer) NackID(id pulsar.MessageID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nacked = append(c.nacked, id)
}

func (c *MockConsumer) Close() {}

func (c *MockConsumer) Acked() []pulsar.MessageID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]pulsar.MessageID(nil), c.acked...)
}

func (c *MockConsumer) Nacked() []pulsar.MessageID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]pulsar.MessageID(nil), c.nacked...)
}

// MockProducer records every message sent. Send fails with err when it is set.
type MockProducer struct {
	pulsar.Producer
	mu   sync.Mutex
	sent []*pulsar.ProducerMessage
	err  error
}

func NewMockProducer() *MockProducer {
	return &MockProducer{}
}

func (p *MockProducer) FailWith(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

func (p *MockProducer) Send(_ context.Context, msg *pulsar.ProducerMessage) (pulsar.MessageID, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	p.sent = append(p.sent, msg)
	return NewMessageId(len(p.sent)), nil
}

func (p *MockProducer) Flush() error { return nil }

func (p *MockProducer) Close() {}

func (p *MockProducer) Sent() []*pulsar.ProducerMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*pulsar.ProducerMessage(nil), p.sent...)
}
