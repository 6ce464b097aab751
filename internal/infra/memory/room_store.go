package memory

import (
	"context"
	"sort"
	"sync"

	"quiz-room-service/internal/app"
	"quiz-room-service/internal/domain"
)

// RoomStore is an in-memory implementation of app.RoomStore for a single instance.
type RoomStore struct {
	mu    sync.RWMutex
	rooms map[string]*app.Room
}

func NewRoomStore() *RoomStore {
	return &RoomStore{
		rooms: make(map[string]*app.Room),
	}
}

func (s *RoomStore) Claim(_ context.Context, room *app.Room) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.rooms[room.ID()]; ok && !existing.Closed() {
		return domain.ErrRoomExists
	}
	s.rooms[room.ID()] = room
	return nil
}

func (s *RoomStore) Get(id string) (*app.Room, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	room, ok := s.rooms[id]
	return room, ok
}

func (s *RoomStore) Release(_ context.Context, room *app.Room) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if current, ok := s.rooms[room.ID()]; ok && current == room {
		delete(s.rooms, room.ID())
	}
}

// List returns the held rooms ordered by id.
func (s *RoomStore) List() []*app.Room {
	s.mu.RLock()
	rooms := make([]*app.Room, 0, len(s.rooms))
	for _, room := range s.rooms {
		rooms = append(rooms, room)
	}
	s.mu.RUnlock()

	sort.Slice(rooms, func(i, j int) bool { return rooms[i].ID() < rooms[j].ID() })
	return rooms
}

// Refresh is a no-op: in-memory claims do not expire.
func (s *RoomStore) Refresh(context.Context) error { return nil }
