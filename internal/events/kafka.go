package events

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/kiwari-pos/weighsettle/internal/metrics"
	"github.com/segmentio/kafka-go"
)

const sinkKafka = "kafka"

// messageWriter is the subset of *kafka.Writer used by KafkaPublisher.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes events to a topic keyed by order id, so every event
// of one order lands on the same partition in commit order.
type KafkaPublisher struct {
	writer  messageWriter
	topic   string
	metrics *metrics.Registry
}

// NewKafkaPublisher creates an async publisher. Delivery errors surface in
// the writer's completion callback and are logged there.
func NewKafkaPublisher(brokers []string, topic string, m *metrics.Registry) *KafkaPublisher {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		Async:        true,
		Completion: func(messages []kafka.Message, err error) {
			for range messages {
				m.ObserveEvent(sinkKafka, err)
			}
			if err != nil {
				log.Printf("ERROR: kafka delivery of %d event(s) to %s: %v", len(messages), topic, err)
			}
		},
	}
	return &KafkaPublisher{writer: w, topic: topic, metrics: m}
}

func (p *KafkaPublisher) Publish(ctx context.Context, e Event) {
	msg, err := newMessage(e)
	if err != nil {
		log.Printf("ERROR: marshal event %s: %v", e.Type, err)
		return
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.metrics.ObserveEvent(sinkKafka, err)
		log.Printf("ERROR: publish %s for adjustment %s to %s: %v", e.Type, e.AdjustmentID, p.topic, err)
	}
}

// Close flushes pending messages.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

func newMessage(e Event) (kafka.Message, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return kafka.Message{}, err
	}
	return kafka.Message{
		Key:   []byte(e.OrderID.String()),
		Value: data,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(e.Type)},
			{Key: "event-id", Value: []byte(e.ID.String())},
			{Key: "adjustment-id", Value: []byte(e.AdjustmentID.String())},
			{Key: "content-type", Value: []byte("application/json")},
		},
		Time: e.OccurredAt,
	}, nil
}
