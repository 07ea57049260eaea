// internal/adapter/events/bus.go

package events

import (
	"context"
	"errors"
	"sync"

	"spark/internal/domain/spark"
)

// NopBus discards every event
type NopBus struct{}

// Publish implements spark.EventBus
func (NopBus) Publish(ctx context.Context, topic string, payload interface{}) error {
	return nil
}

// MultiBus fans events out to several buses. Every bus is attempted and the
// failures are joined.
type MultiBus struct {
	buses []spark.EventBus
}

// NewMultiBus creates a fan-out bus, skipping nil entries
func NewMultiBus(buses ...spark.EventBus) *MultiBus {
	m := &MultiBus{}
	for _, b := range buses {
		if b != nil {
			m.buses = append(m.buses, b)
		}
	}
	return m
}

// Publish implements spark.EventBus
func (m *MultiBus) Publish(ctx context.Context, topic string, payload interface{}) error {
	var errs []error
	for _, b := range m.buses {
		if err := b.Publish(ctx, topic, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Event is a published topic/payload pair
type Event struct {
	Topic   string
	Payload interface{}
}

// Recorder keeps published events in memory
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// NewRecorder creates an empty recorder
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Publish implements spark.EventBus
func (r *Recorder) Publish(ctx context.Context, topic string, payload interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Event{Topic: topic, Payload: payload})
	return nil
}

// Events returns a copy of every recorded event
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Topic returns the recorded events published on topic
func (r *Recorder) Topic(topic string) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Event
	for _, e := range r.events {
		if e.Topic == topic {
			out = append(out, e)
		}
	}
	return out
}
