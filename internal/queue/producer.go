// Package queue publishes order lifecycle events to Kafka.
package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
)

// Publisher is what the services depend on; tests swap in a recorder.
type Publisher interface {
	PublishOrderEvent(ctx context.Context, e OrderEvent) error
}

// Producer wraps a Kafka writer.
type Producer struct {
	w *kafka.Writer
}

// NewProducer creates the writer with reliability settings:
// - Hash + key: one order's events land on one partition, in order.
// - RequireAll: wait for ISR acknowledgement.
// - MaxAttempts/timeouts bound retries.
func NewProducer(brokers []string, topic string) *Producer {
	return &Producer{
		w: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			MaxAttempts:  5,
			WriteTimeout: 5 * time.Second,
			ReadTimeout:  5 * time.Second,
			BatchTimeout: 50 * time.Millisecond,
		},
	}
}

// Close releases the writer.
func (p *Producer) Close() error { return p.w.Close() }

// PublishOrderEvent writes one event synchronously, keyed by order
// number.
func (p *Producer) PublishOrderEvent(ctx context.Context, e OrderEvent) error {
	if err := e.Validate(); err != nil {
		return err
	}
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return p.w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(e.OrderNo),
		Value: b,
	})
}
