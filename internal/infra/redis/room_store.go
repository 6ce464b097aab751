package redis

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"quiz-room-service/internal/app"
	"quiz-room-service/internal/domain"
)

// RoomStore claims room ids in Redis so that instances sharing one Redis
// never host the same id twice. Room state itself stays in process.
//
// A claim is SET quiz:room:{id} {instance} NX PX ttl; the sweeper refreshes the
// TTL of held ids so a crashed instance's ids become reusable after ttl.
type RoomStore struct {
	client   *redis.Client
	instance string
	ttl      time.Duration

	mu    sync.RWMutex
	rooms map[string]*app.Room
}

func NewRoomStore(client *redis.Client, instance string, ttl time.Duration) *RoomStore {
	return &RoomStore{
		client:   client,
		instance: instance,
		ttl:      ttl,
		rooms:    make(map[string]*app.Room),
	}
}

// releaseScript deletes the key only if this instance still owns it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

func (s *RoomStore) Claim(ctx context.Context, room *app.Room) error {
	if existing, ok := s.Get(room.ID()); ok && !existing.Closed() {
		return domain.ErrRoomExists
	}
	ok, err := s.client.SetNX(ctx, s.key(room.ID()), s.instance, s.ttl).Result()
	if err != nil {
		return fmt.Errorf("claim room %s: %w", room.ID(), err)
	}
	if !ok {
		return domain.ErrRoomExists
	}

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

func (s *RoomStore) Release(ctx context.Context, room *app.Room) {
	s.mu.Lock()
	current, ok := s.rooms[room.ID()]
	if !ok || current != room {
		s.mu.Unlock()
		return
	}
	delete(s.rooms, room.ID())
	s.mu.Unlock()

	// best effort: an unreleased key expires after ttl
	_ = releaseScript.Run(ctx, s.client, []string{s.key(room.ID())}, s.instance).Err()
}

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

// Refresh extends the claim of every room this instance holds.
func (s *RoomStore) Refresh(ctx context.Context) error {
	if s.ttl <= 0 {
		return nil
	}
	rooms := s.List()
	if len(rooms) == 0 {
		return nil
	}
	pipe := s.client.Pipeline()
	for _, room := range rooms {
		pipe.Expire(ctx, s.key(room.ID()), s.ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RoomStore) key(id string) string {
	return "quiz:room:" + id
}
