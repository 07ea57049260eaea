// internal/domain/spark/ports.go

package spark

import (
	"context"
	"time"
)

// Store persists sparks. It is the only mutable shared resource on the hot path,
// so every read-decide-write sequence goes through CreateGuarded or Update.
type Store interface {
	// Get returns a spark by ID or a NotFound error
	Get(ctx context.Context, id string) (*Spark, error)

	// ListForUser returns sparks involving userID, newest first
	ListForUser(ctx context.Context, userID string, filter ListFilter) ([]Spark, error)

	// CreateGuarded inserts s after check approves the sparks recorded between
	// the same unordered pair since s.CreatedAt-lookback (newest first).
	// Check and insert are serialized per pair.
	CreateGuarded(ctx context.Context, s *Spark, lookback time.Duration, check func(recent []Spark) error) error

	// Update applies mutate to the current state of a spark under a row lock
	// and persists the result. If mutate returns an error nothing is written.
	Update(ctx context.Context, id string, mutate func(s *Spark) error) (*Spark, error)

	// ExpirePending moves pending sparks with expiresAt before now to expired
	// and returns the sparks it changed
	ExpirePending(ctx context.Context, now time.Time) ([]Spark, error)
}

// GeoQuery finds users near a point
type GeoQuery interface {
	// FindNearby returns one row per candidate (closest recent sample),
	// ascending by distance
	FindNearby(ctx context.Context, q NearbyQuery) ([]NearbyUser, error)
}

// BlockList resolves block relationships in both directions
type BlockList interface {
	BlockedPairs(ctx context.Context, userID string) (map[string]struct{}, error)
}

// UserLookup resolves users as fully populated values
type UserLookup interface {
	// GetUser returns a NotFound error when the user does not exist
	GetUser(ctx context.Context, id string) (*User, error)

	// ListUsersWithInterests returns users with a non-empty interest list
	ListUsersWithInterests(ctx context.Context) ([]User, error)
}

// ChatRooms looks up and creates chat rooms
type ChatRooms interface {
	// FindByParticipants returns nil, nil when the pair has no room
	FindByParticipants(ctx context.Context, a, b string) (*ChatRoom, error)

	// CreateRoom stores room and returns the persisted room for the pair,
	// which may be a room created concurrently by another caller
	CreateRoom(ctx context.Context, room ChatRoom) (*ChatRoom, error)
}

// EventBus publishes domain events
type EventBus interface {
	Publish(ctx context.Context, topic string, payload interface{}) error
}
