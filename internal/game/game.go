// internal/game/game.go
package game

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
)

// OnGameEndFunc handles a finished game: broadcasting results to the room,
// queueing the match record, and releasing the instance.
type OnGameEndFunc func(winnerID uuid.UUID, scores map[uuid.UUID]int, reason string)

// BroadcastFunc sends an event to every player in the game's room.
type BroadcastFunc func(typ string, payload interface{})

// SendToFunc sends an event to a single player.
type SendToFunc func(playerID uuid.UUID, typ string, payload interface{})

// Instance is an authoritative in-memory game. The WS handler routes game
// action messages here after the room lifecycle is handled.
type Instance interface {
	GameID() uuid.UUID

	// HandleAction processes one client action message. Invalid actions
	// produce an error message to the offending player only; they never
	// mutate state.
	HandleAction(playerID uuid.UUID, typ string, payload json.RawMessage)

	// HandleDisconnect and HandleReconnect track player presence so a game
	// can skip or forfeit absent players.
	HandleDisconnect(playerID uuid.UUID)
	HandleReconnect(playerID uuid.UUID)

	// Stop cancels timers and tickers. Called when the instance is released.
	Stop()
}

// Store holds running game instances, keyed by game ID.
type Store struct {
	mu    sync.Mutex
	games map[uuid.UUID]Instance
}

func NewStore() *Store {
	return &Store{
		games: make(map[uuid.UUID]Instance),
	}
}

func (s *Store) Add(g Instance) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.games[g.GameID()] = g
}

func (s *Store) Get(id uuid.UUID) (Instance, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.games[id]
	return g, ok
}

func (s *Store) Delete(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if g, ok := s.games[id]; ok {
		g.Stop()
		delete(s.games, id)
	}
}
