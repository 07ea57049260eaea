// internal/adapter/events/nats.go

package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"

	"spark/internal/domain/spark"
)

// Publisher is the subset of *nats.Conn used by NATSBus
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSBus publishes events as JSON on NATS subjects
type NATSBus struct {
	conn Publisher

	// userPrefix, when set, also delivers each event to
	// <userPrefix>.<userID>.<topic> for every participant
	userPrefix string
}

var _ Publisher = (*nats.Conn)(nil)

// NewNATSBus creates a NATS backed event bus
func NewNATSBus(conn Publisher, userPrefix string) *NATSBus {
	return &NATSBus{conn: conn, userPrefix: userPrefix}
}

// Publish implements spark.EventBus
func (b *NATSBus) Publish(ctx context.Context, topic string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("error marshaling %s event: %w", topic, err)
	}

	if err := b.conn.Publish(topic, data); err != nil {
		return fmt.Errorf("error publishing %s: %w", topic, err)
	}

	if b.userPrefix == "" {
		return nil
	}

	for _, userID := range spark.Participants(payload) {
		if userID == "" {
			continue
		}
		if err := b.conn.Publish(UserSubject(b.userPrefix, userID, topic), data); err != nil {
			return fmt.Errorf("error publishing %s for user %s: %w", topic, userID, err)
		}
	}

	return nil
}

// UserSubject returns the per-user subject for a topic. Use ">" as topic to
// subscribe to every event for a user.
func UserSubject(prefix, userID, topic string) string {
	return fmt.Sprintf("%s.%s.%s", prefix, userID, topic)
}
