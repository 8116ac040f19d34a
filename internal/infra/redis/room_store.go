package redis

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"interactive-report-service/internal/app"
)

// RoomStore is a Redis-aware implementation of app.RoomRepository.
// Rooms and their broadcast stay in process; Redis holds a liveness marker per room
// with the local member count, so operators can see which questions are being watched.
type RoomStore struct {
	client *redis.Client
	ttl    time.Duration
	mu     sync.RWMutex
	rooms  map[string]*app.Room
}

func NewRoomStore(client *redis.Client, ttl time.Duration) *RoomStore {
	return &RoomStore{
		client: client,
		ttl:    ttl,
		rooms:  make(map[string]*app.Room),
	}
}

func (s *RoomStore) Join(questionID, sessionID string) *app.Room {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[questionID]
	if !ok {
		room = app.NewRoom(questionID)
		s.rooms[questionID] = room
	}
	members := room.Add(sessionID)
	// best-effort liveness marker
	_ = s.client.Set(context.Background(), s.key(questionID), strconv.Itoa(members), s.ttl).Err()
	return room
}

func (s *RoomStore) Get(questionID string) (*app.Room, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	room, ok := s.rooms[questionID]
	return room, ok
}

func (s *RoomStore) Leave(questionID, sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[questionID]
	if !ok {
		return
	}
	members := room.Remove(sessionID)
	if members > 0 {
		_ = s.client.Set(context.Background(), s.key(questionID), strconv.Itoa(members), s.ttl).Err()
		return
	}
	delete(s.rooms, questionID)
	room.Close()
	_ = s.client.Del(context.Background(), s.key(questionID)).Err()
}

func (s *RoomStore) key(questionID string) string {
	return "report:room:" + questionID
}
