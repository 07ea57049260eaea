// internal/adapter/storage/chatroom_store.go

package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"spark/internal/domain/spark"
)

// ChatRoomStore implements spark.ChatRooms on PostgreSQL. Participants are
// stored in sorted order so one unique index covers both directions.
type ChatRoomStore struct {
	db *pgxpool.Pool
}

// NewChatRoomStore creates a new chat room store
func NewChatRoomStore(db *pgxpool.Pool) *ChatRoomStore {
	return &ChatRoomStore{
		db: db,
	}
}

var _ spark.ChatRooms = (*ChatRoomStore)(nil)

// FindByParticipants returns the room of a pair, or nil if there is none
func (s *ChatRoomStore) FindByParticipants(ctx context.Context, a, b string) (*spark.ChatRoom, error) {
	p1, p2 := spark.OrderedPair(a, b)

	var room spark.ChatRoom
	var sparkID *string
	err := s.db.QueryRow(ctx, `
		SELECT id, participant1, participant2, spark_id, created_at
		FROM chat_rooms
		WHERE participant1 = $1 AND participant2 = $2`,
		p1, p2,
	).Scan(&room.ID, &room.Participant1, &room.Participant2, &sparkID, &room.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error scanning chat room: %w", err)
	}
	if sparkID != nil {
		room.SparkID = *sparkID
	}
	return &room, nil
}

// CreateRoom inserts room unless the pair already has one, then returns the
// stored room
func (s *ChatRoomStore) CreateRoom(ctx context.Context, room spark.ChatRoom) (*spark.ChatRoom, error) {
	p1, p2 := spark.OrderedPair(room.Participant1, room.Participant2)

	_, err := s.db.Exec(ctx, `
		INSERT INTO chat_rooms (id, participant1, participant2, spark_id, created_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5)
		ON CONFLICT (participant1, participant2) DO NOTHING`,
		room.ID, p1, p2, room.SparkID, room.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("error executing query: %w", err)
	}

	stored, err := s.FindByParticipants(ctx, p1, p2)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, fmt.Errorf("chat room for %s vanished after insert", spark.PairKey(p1, p2))
	}
	return stored, nil
}
