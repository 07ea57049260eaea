// internal/service/matching/provisioner.go

package matching

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"spark/internal/domain/spark"
	"spark/internal/metrics"
)

// Provisioner creates at most one chat room per unordered pair of users
type Provisioner struct {
	rooms spark.ChatRooms
	now   func() time.Time
}

// NewProvisioner creates a new chat room provisioner
func NewProvisioner(rooms spark.ChatRooms) *Provisioner {
	return &Provisioner{rooms: rooms, now: time.Now}
}

// ProvisionRoom returns the room for the pair, creating it if none exists
func (p *Provisioner) ProvisionRoom(ctx context.Context, userA, userB, sparkID string) (string, error) {
	roomID, _, err := p.provision(ctx, userA, userB, sparkID)
	return roomID, err
}

// provision also reports whether this call created the room. A room created
// concurrently by another caller counts as reused.
func (p *Provisioner) provision(ctx context.Context, userA, userB, sparkID string) (string, bool, error) {
	existing, err := p.rooms.FindByParticipants(ctx, userA, userB)
	if err != nil {
		return "", false, fmt.Errorf("error looking up chat room: %w", err)
	}
	if existing != nil {
		metrics.ChatRoomsProvisioned.WithLabelValues("true").Inc()
		return existing.ID, false, nil
	}

	proposed := uuid.New().String()
	room, err := p.rooms.CreateRoom(ctx, spark.ChatRoom{
		ID:           proposed,
		Participant1: userA,
		Participant2: userB,
		SparkID:      sparkID,
		CreatedAt:    p.now(),
	})
	if err != nil {
		return "", false, fmt.Errorf("error creating chat room: %w", err)
	}

	created := room.ID == proposed
	metrics.ChatRoomsProvisioned.WithLabelValues(fmt.Sprint(!created)).Inc()
	return room.ID, created, nil
}
