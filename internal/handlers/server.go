// internal/handlers/server.go
package handlers

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/jklund/partyline/internal/cache"
	"github.com/jklund/partyline/internal/game"
	"github.com/jklund/partyline/internal/models"
	"github.com/jklund/partyline/internal/protocol"
	"github.com/jklund/partyline/internal/room"
)

// SessionServer holds the in-memory room and game stores shared by every
// websocket connection.
type SessionServer struct {
	Rooms *room.Store
	Games *game.Store
	Logf  func(f string, v ...interface{})
}

func NewSessionServer() *SessionServer {
	return &SessionServer{
		Rooms: room.NewStore(),
		Games: game.NewStore(),
		Logf:  log.Printf,
	}
}

// NewRoom creates a room wired into the server's stores: emptied rooms reap
// themselves and a finished countdown starts the game.
func (s *SessionServer) NewRoom(mode protocol.GameMode, hostID uuid.UUID) *room.Room {
	r := room.New(mode, hostID)
	r.OnEmpty = func(roomID uuid.UUID) {
		r.Mu.Lock()
		gameID := r.GameID
		r.Mu.Unlock()
		if gameID != uuid.Nil {
			s.Games.Delete(gameID)
		}
		s.Rooms.Delete(roomID)
	}
	r.OnCountdownDone = func(r *room.Room) {
		s.StartGame(r)
	}
	s.Rooms.Add(r)
	return r
}

// StartGame flips the room into the playing phase and spins up the mode's
// authoritative game instance. A no-op if a game is already running.
func (s *SessionServer) StartGame(r *room.Room) {
	r.Mu.Lock()
	if r.Phase == room.PhasePlaying {
		r.Mu.Unlock()
		return
	}
	r.Phase = room.PhasePlaying
	mode := r.Mode
	r.Mu.Unlock()

	players := r.SeatedPlayers()
	if len(players) < 2 {
		s.Logf("room %s: cannot start game with %d players", r.ID, len(players))
		r.Mu.Lock()
		r.Phase = room.PhaseLobby
		r.Mu.Unlock()
		r.BroadcastState()
		return
	}

	var inst game.Instance
	started := protocol.GameStartedPayload{}

	switch mode {
	case protocol.ModePuzzle:
		pg := game.NewPuzzle(players, game.DefaultPairCount, r.Broadcast, r.SendTo, s.gameEndFunc(r))
		started.GameID = pg.GameID()
		started.FirstPlayerID = pg.FirstPlayer()
		started.BoardSize = pg.BoardSize()
		inst = pg
	case protocol.ModeTD:
		tg := game.NewTD(players, r.Broadcast, r.SendTo, s.gameEndFunc(r))
		started.GameID = tg.GameID()
		inst = tg
	default:
		s.Logf("room %s: unknown game mode %q", r.ID, mode)
		return
	}

	r.Mu.Lock()
	r.GameID = started.GameID
	r.Mu.Unlock()
	s.Games.Add(inst)

	r.Broadcast(protocol.TypeGameStarted, started)
	r.BroadcastState()
	s.Logf("room %s: started %s game %s with %d players", r.ID, mode, started.GameID, len(players))

	switch g := inst.(type) {
	case *game.PuzzleGame:
		g.Start()
	case *game.TDGame:
		g.Start()
	}
}

// gameEndFunc builds the end-of-game callback for a room: broadcast results,
// queue the match record for the recorder, release the instance, and reset
// the room back to the lobby phase.
func (s *SessionServer) gameEndFunc(r *room.Room) game.OnGameEndFunc {
	return func(winnerID uuid.UUID, scores map[uuid.UUID]int, reason string) {
		r.Mu.Lock()
		gameID := r.GameID
		r.GameID = uuid.Nil
		r.Phase = room.PhaseLobby
		for id := range r.Ready {
			r.Ready[id] = false
		}
		mode := r.Mode
		r.Mu.Unlock()

		wireScores := make(map[string]int, len(scores))
		for pid, sc := range scores {
			wireScores[pid.String()] = sc
		}
		r.Broadcast(protocol.TypeGameOver, protocol.GameOverPayload{
			GameID:   gameID,
			WinnerID: winnerID,
			Scores:   wireScores,
			Reason:   reason,
		})
		r.BroadcastState()

		result := models.MatchResult{
			MatchID:  gameID,
			RoomID:   r.ID,
			Mode:     string(mode),
			WinnerID: winnerID,
			Scores:   scores,
			Ended:    time.Now().UTC(),
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := cache.PublishMatchResult(ctx, result); err != nil {
			s.Logf("room %s: failed to queue match result %s: %v", r.ID, gameID, err)
		}
		cancel()

		s.Games.Delete(gameID)
		s.Logf("room %s: game %s over, winner %s (%s)", r.ID, gameID, winnerID, reason)
	}
}
