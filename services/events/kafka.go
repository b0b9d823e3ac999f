package events

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"

	"github.com/trezcool/jotutor/core/payment"
)

// MessageWriter is the part of *kafka.Writer the publisher uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher publishes payment events as JSON, keyed by payment id.
type KafkaPublisher struct {
	writer MessageWriter
}

var _ payment.EventPublisher = (*KafkaPublisher)(nil)

func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{}, // same payment, same partition
		RequiredAcks: kafka.RequireAll,
	}
}

func NewKafkaPublisher(writer MessageWriter) *KafkaPublisher {
	return &KafkaPublisher{writer: writer}
}

func (p *KafkaPublisher) Publish(ctx context.Context, events ...payment.Event) error {
	msgs := make([]kafka.Message, 0, len(events))
	for _, evt := range events {
		value, err := json.Marshal(evt)
		if err != nil {
			return errors.Wrap(err, "encoding event")
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(evt.PaymentID),
			Value: value,
			Headers: []kafka.Header{
				{Key: "type", Value: []byte(evt.Type)},
			},
		})
	}
	return errors.Wrap(p.writer.WriteMessages(ctx, msgs...), "writing events")
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
