// internal/adapter/events/kafka.go

package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"spark/internal/domain/spark"
)

// MessageWriter is the subset of *kafka.Writer used by KafkaBus
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaBus writes every event to a single Kafka topic. The event topic travels
// in the "event" header and the message is keyed by spark ID so all events of
// one spark land on the same partition.
type KafkaBus struct {
	writer MessageWriter
}

// NewKafkaWriter builds the writer used in production
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		RequiredAcks:           kafka.RequireAll,
		Balancer:               &kafka.Hash{},
		BatchTimeout:           50 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}
}

// NewKafkaBus creates a Kafka backed event bus
func NewKafkaBus(writer MessageWriter) *KafkaBus {
	return &KafkaBus{writer: writer}
}

// Publish implements spark.EventBus
func (b *KafkaBus) Publish(ctx context.Context, topic string, payload interface{}) error {
	value, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", topic, err)
	}

	msg := kafka.Message{
		Key:   []byte(messageKey(payload)),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event", Value: []byte(topic)},
		},
	}

	if err := b.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka write: %w", err)
	}
	return nil
}

// Close closes the underlying Kafka writer
func (b *KafkaBus) Close() error {
	return b.writer.Close()
}

func messageKey(payload interface{}) string {
	switch p := payload.(type) {
	case spark.Spark:
		return p.ID
	case *spark.Spark:
		return p.ID
	case spark.MatchedEvent:
		return p.SparkID
	case spark.PartiallyAcceptedEvent:
		return p.SparkID
	}
	return ""
}
