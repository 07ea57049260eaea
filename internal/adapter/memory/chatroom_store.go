// internal/adapter/memory/chatroom_store.go

package memory

import (
	"context"
	"sync"

	"spark/internal/domain/spark"
)

// ChatRoomStore keeps chat rooms keyed by unordered participant pair
type ChatRoomStore struct {
	mu      sync.Mutex
	rooms   map[string]spark.ChatRoom
	created int
}

// NewChatRoomStore creates an empty chat room store
func NewChatRoomStore() *ChatRoomStore {
	return &ChatRoomStore{rooms: make(map[string]spark.ChatRoom)}
}

// FindByParticipants returns the room for the pair, if any
func (c *ChatRoomStore) FindByParticipants(ctx context.Context, a, b string) (*spark.ChatRoom, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	room, ok := c.rooms[spark.PairKey(a, b)]
	if !ok {
		return nil, nil
	}
	return &room, nil
}

// CreateRoom stores room unless the pair already has one
func (c *ChatRoomStore) CreateRoom(ctx context.Context, room spark.ChatRoom) (*spark.ChatRoom, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := spark.PairKey(room.Participant1, room.Participant2)
	if existing, ok := c.rooms[key]; ok {
		return &existing, nil
	}
	c.rooms[key] = room
	c.created++
	return &room, nil
}

// Created returns how many rooms were actually inserted
func (c *ChatRoomStore) Created() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.created
}
