// internal/game/puzzle.go
package game

import (
	"encoding/json"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jklund/partyline/internal/protocol"
)

// DefaultPairCount is the number of symbol pairs on a puzzle board.
const DefaultPairCount = 18

// defaultPuzzleTurnDuration bounds how long a player may sit on their turn.
const defaultPuzzleTurnDuration = 20 * time.Second

// PuzzleGame is the authoritative state for one memory-matching match.
// The board lives only on the server; clients see individual cards solely
// through puzzle_card_flipped events.
type PuzzleGame struct {
	id      uuid.UUID
	players []uuid.UUID // seat order == turn order

	board   []int // symbol per cell, each symbol appearing exactly twice
	matched []bool
	// firstFlip is the index of the current turn's first flipped card, or -1.
	firstFlip int

	current   int // index into players of whose turn it is
	turnID    int
	scores    map[uuid.UUID]int
	connected map[uuid.UUID]bool
	over      bool

	turnDuration time.Duration
	turnTimer    *time.Timer

	mu sync.Mutex

	broadcast BroadcastFunc
	sendTo    SendToFunc
	onEnd     OnGameEndFunc
}

// NewPuzzle builds a shuffled board of pairCount symbol pairs for the given
// players (in seat order).
func NewPuzzle(players []uuid.UUID, pairCount int, broadcast BroadcastFunc, sendTo SendToFunc, onEnd OnGameEndFunc) *PuzzleGame {
	if pairCount <= 0 {
		pairCount = DefaultPairCount
	}
	id, _ := uuid.NewRandom()

	board := make([]int, 0, pairCount*2)
	for s := 0; s < pairCount; s++ {
		board = append(board, s, s)
	}
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	rng.Shuffle(len(board), func(i, j int) {
		board[i], board[j] = board[j], board[i]
	})

	g := &PuzzleGame{
		id:           id,
		players:      append([]uuid.UUID(nil), players...),
		board:        board,
		matched:      make([]bool, len(board)),
		firstFlip:    -1,
		scores:       make(map[uuid.UUID]int, len(players)),
		connected:    make(map[uuid.UUID]bool, len(players)),
		turnDuration: defaultPuzzleTurnDuration,
		broadcast:    broadcast,
		sendTo:       sendTo,
		onEnd:        onEnd,
	}
	for _, p := range players {
		g.scores[p] = 0
		g.connected[p] = true
	}
	return g
}

func (g *PuzzleGame) GameID() uuid.UUID { return g.id }

// BoardSize returns the number of cells on the board.
func (g *PuzzleGame) BoardSize() int { return len(g.board) }

// FirstPlayer returns the opening turn's player.
func (g *PuzzleGame) FirstPlayer() uuid.UUID { return g.players[0] }

// Snapshot reports the revealed board, scores, and current turn so a
// resumed client can redraw mid-game progress.
func (g *PuzzleGame) Snapshot() protocol.BoardSyncPayload {
	g.mu.Lock()
	defer g.mu.Unlock()

	matched := make([]protocol.MatchedCard, 0)
	for i, done := range g.matched {
		if done {
			matched = append(matched, protocol.MatchedCard{Index: i, Symbol: g.board[i]})
		}
	}
	scores := make(map[string]int, len(g.scores))
	for pid, s := range g.scores {
		scores[pid.String()] = s
	}
	return protocol.BoardSyncPayload{
		GameID:          g.id,
		BoardSize:       len(g.board),
		Matched:         matched,
		Scores:          scores,
		CurrentPlayerID: g.players[g.current],
	}
}

// Start announces the opening turn and arms its timer.
func (g *PuzzleGame) Start() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.broadcastTurnUnsafe()
}

// Stop cancels the turn timer.
func (g *PuzzleGame) Stop() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.over = true
	if g.turnTimer != nil {
		g.turnTimer.Stop()
		g.turnTimer = nil
	}
}

// HandleAction processes puzzle_flip_card; anything else is rejected.
func (g *PuzzleGame) HandleAction(playerID uuid.UUID, typ string, payload json.RawMessage) {
	if typ != protocol.TypePuzzleFlipCard {
		g.sendTo(playerID, protocol.TypeError, protocol.ErrorPayload{Message: "unknown action: " + typ})
		return
	}

	var req protocol.FlipCardPayload
	if err := json.Unmarshal(payload, &req); err != nil {
		g.sendTo(playerID, protocol.TypeError, protocol.ErrorPayload{Message: "invalid flip payload"})
		return
	}
	g.FlipCard(playerID, req.CardIndex)
}

// FlipCard adjudicates one card flip. The first flip of a turn reveals a
// card; the second resolves match or no-match. A match keeps the turn, a
// no-match passes it.
func (g *PuzzleGame) FlipCard(playerID uuid.UUID, idx int) {
	g.mu.Lock()

	if g.over {
		g.mu.Unlock()
		return
	}
	if g.players[g.current] != playerID {
		g.mu.Unlock()
		g.sendTo(playerID, protocol.TypeError, protocol.ErrorPayload{Message: "not your turn"})
		return
	}
	if idx < 0 || idx >= len(g.board) || g.matched[idx] || idx == g.firstFlip {
		g.mu.Unlock()
		g.sendTo(playerID, protocol.TypeError, protocol.ErrorPayload{Message: "invalid card index"})
		return
	}

	g.broadcast(protocol.TypePuzzleCardFlipped, protocol.CardFlippedPayload{
		PlayerID:  playerID,
		CardIndex: idx,
		Symbol:    g.board[idx],
	})

	if g.firstFlip < 0 {
		g.firstFlip = idx
		g.mu.Unlock()
		return
	}

	first := g.firstFlip
	g.firstFlip = -1

	if g.board[first] == g.board[idx] {
		g.matched[first] = true
		g.matched[idx] = true
		g.scores[playerID]++

		remaining := 0
		for _, m := range g.matched {
			if !m {
				remaining++
			}
		}

		g.broadcast(protocol.TypePuzzleMatch, protocol.MatchPayload{
			PlayerID:  playerID,
			IndexA:    first,
			IndexB:    idx,
			Score:     g.scores[playerID],
			Remaining: remaining / 2,
		})

		if remaining == 0 {
			g.endUnsafe("board cleared")
			return // endUnsafe released the lock
		}

		// Match keeps the turn; restart its timer.
		g.armTurnTimerUnsafe()
		g.mu.Unlock()
		return
	}

	g.broadcast(protocol.TypePuzzleNoMatch, protocol.MatchPayload{
		PlayerID: playerID,
		IndexA:   first,
		IndexB:   idx,
	})
	g.advanceTurnUnsafe()
	g.mu.Unlock()
}

// HandleDisconnect marks a player absent and passes the turn if it was theirs.
func (g *PuzzleGame) HandleDisconnect(playerID uuid.UUID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.connected[playerID] = false
	if !g.over && g.players[g.current] == playerID {
		g.skipPendingFlipUnsafe()
		g.advanceTurnUnsafe()
	}
}

// HandleReconnect marks a player present again.
func (g *PuzzleGame) HandleReconnect(playerID uuid.UUID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.connected[playerID] = true
}

// skipPendingFlipUnsafe hides a lone first flip when a turn is abandoned.
func (g *PuzzleGame) skipPendingFlipUnsafe() {
	if g.firstFlip < 0 {
		return
	}
	g.broadcast(protocol.TypePuzzleNoMatch, protocol.MatchPayload{
		PlayerID: g.players[g.current],
		IndexA:   g.firstFlip,
		IndexB:   -1,
	})
	g.firstFlip = -1
}

// advanceTurnUnsafe moves to the next connected player. If nobody is
// connected the turn still advances; room reaping handles fully abandoned
// games.
func (g *PuzzleGame) advanceTurnUnsafe() {
	for i := 0; i < len(g.players); i++ {
		g.current = (g.current + 1) % len(g.players)
		if g.connected[g.players[g.current]] {
			break
		}
	}
	g.broadcastTurnUnsafe()
}

func (g *PuzzleGame) broadcastTurnUnsafe() {
	g.turnID++
	g.broadcast(protocol.TypeTurnChange, protocol.TurnChangePayload{
		PlayerID: g.players[g.current],
		TurnID:   g.turnID,
	})
	g.armTurnTimerUnsafe()
}

// armTurnTimerUnsafe schedules a forced turn pass. The captured turnID keeps
// a stale timer from firing after the turn already moved on.
func (g *PuzzleGame) armTurnTimerUnsafe() {
	if g.turnTimer != nil {
		g.turnTimer.Stop()
	}
	turnID := g.turnID
	g.turnTimer = time.AfterFunc(g.turnDuration, func() {
		g.mu.Lock()
		if g.over || g.turnID != turnID {
			g.mu.Unlock()
			return
		}
		log.Printf("puzzle %s: turn %d timed out for player %s", g.id, turnID, g.players[g.current])
		g.skipPendingFlipUnsafe()
		g.advanceTurnUnsafe()
		g.mu.Unlock()
	})
}

// endUnsafe finishes the game and invokes the end callback with the lock
// released. Ties produce a nil winner.
func (g *PuzzleGame) endUnsafe(reason string) {
	g.over = true
	if g.turnTimer != nil {
		g.turnTimer.Stop()
		g.turnTimer = nil
	}

	winner := uuid.Nil
	best := -1
	tied := false
	for _, p := range g.players {
		switch {
		case g.scores[p] > best:
			best = g.scores[p]
			winner = p
			tied = false
		case g.scores[p] == best:
			tied = true
		}
	}
	if tied {
		winner = uuid.Nil
	}

	scores := make(map[uuid.UUID]int, len(g.scores))
	for k, v := range g.scores {
		scores[k] = v
	}
	onEnd := g.onEnd
	g.mu.Unlock()

	if onEnd != nil {
		onEnd(winner, scores, reason)
	}
}
