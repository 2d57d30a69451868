// internal/room/store.go
package room

import (
	"log"
	"sync"

	"github.com/google/uuid"
)

// Store manages active rooms in memory with thread-safe access.
type Store struct {
	mu    sync.Mutex
	rooms map[uuid.UUID]*Room
}

// NewStore initializes and returns an empty Store.
func NewStore() *Store {
	return &Store{
		rooms: make(map[uuid.UUID]*Room),
	}
}

// Add registers a room. Configure the room's OnEmpty callback before adding
// it so emptied rooms reap themselves.
func (s *Store) Add(r *Room) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.rooms[r.ID]; exists {
		log.Printf("room store: attempted to add room %s which already exists", r.ID)
		return
	}
	s.rooms[r.ID] = r
}

// Delete removes a room by ID, typically via the room's OnEmpty callback.
func (s *Store) Delete(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rooms, id)
}

// Get retrieves a room by ID.
func (s *Store) Get(id uuid.UUID) (*Room, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[id]
	return r, ok
}

// List returns a snapshot copy of all active rooms, safe to iterate while
// other goroutines mutate the store.
func (s *Store) List() map[uuid.UUID]*Room {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[uuid.UUID]*Room, len(s.rooms))
	for k, v := range s.rooms {
		out[k] = v
	}
	return out
}
