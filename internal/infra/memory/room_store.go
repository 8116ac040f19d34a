package memory

import (
	"sync"

	"interactive-report-service/internal/app"
)

// RoomStore is an in-memory implementation of app.RoomRepository.
type RoomStore struct {
	mu    sync.RWMutex
	rooms map[string]*app.Room
}

func NewRoomStore() *RoomStore {
	return &RoomStore{
		rooms: make(map[string]*app.Room),
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
	room.Add(sessionID)
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
	if room.Remove(sessionID) == 0 {
		delete(s.rooms, questionID)
		room.Close()
	}
}
