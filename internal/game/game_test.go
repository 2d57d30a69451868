// internal/game/game_test.go
package game

import (
	"math"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jklund/partyline/internal/protocol"
)

// event is one captured broadcast or direct send.
type event struct {
	typ     string
	payload interface{}
}

// recorder collects events instead of writing them to sockets.
type recorder struct {
	mu           sync.Mutex
	allEvents    []event
	playerEvents map[uuid.UUID][]event
}

func newRecorder() *recorder {
	return &recorder{playerEvents: make(map[uuid.UUID][]event)}
}

func (r *recorder) broadcastFn(typ string, payload interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.allEvents = append(r.allEvents, event{typ, payload})
}

func (r *recorder) sendToFn(playerID uuid.UUID, typ string, payload interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.playerEvents[playerID] = append(r.playerEvents[playerID], event{typ, payload})
}

func (r *recorder) clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.allEvents = nil
	r.playerEvents = make(map[uuid.UUID][]event)
}

// lastOfType returns the most recent broadcast of the given type, or nil.
func (r *recorder) lastOfType(typ string) *event {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.allEvents) - 1; i >= 0; i-- {
		if r.allEvents[i].typ == typ {
			return &r.allEvents[i]
		}
	}
	return nil
}

func (r *recorder) countOfType(typ string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.allEvents {
		if ev.typ == typ {
			n++
		}
	}
	return n
}

func (r *recorder) lastPlayerEvent(playerID uuid.UUID) *event {
	r.mu.Lock()
	defer r.mu.Unlock()
	evs := r.playerEvents[playerID]
	if len(evs) == 0 {
		return nil
	}
	return &evs[len(evs)-1]
}

// endCapture records the OnGameEnd callback invocation.
type endCapture struct {
	mu     sync.Mutex
	called bool
	winner uuid.UUID
	scores map[uuid.UUID]int
	reason string
}

func (e *endCapture) fn(winner uuid.UUID, scores map[uuid.UUID]int, reason string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.called = true
	e.winner = winner
	e.scores = scores
	e.reason = reason
}

func (e *endCapture) snapshot() (bool, uuid.UUID, string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.called, e.winner, e.reason
}

func setupPuzzle(t *testing.T, numPlayers, pairs int) (*PuzzleGame, []uuid.UUID, *recorder, *endCapture) {
	t.Helper()
	players := make([]uuid.UUID, numPlayers)
	for i := range players {
		players[i] = uuid.New()
	}
	rec := newRecorder()
	end := &endCapture{}
	g := NewPuzzle(players, pairs, rec.broadcastFn, rec.sendToFn, end.fn)
	g.Start()
	return g, players, rec, end
}

// pairIndices finds two unmatched board cells holding the same symbol.
func pairIndices(g *PuzzleGame) (int, int) {
	seen := map[int]int{}
	for i, sym := range g.board {
		if g.matched[i] {
			continue
		}
		if j, ok := seen[sym]; ok {
			return j, i
		}
		seen[sym] = i
	}
	return -1, -1
}

// mismatchIndices finds two board cells holding different symbols.
func mismatchIndices(g *PuzzleGame) (int, int) {
	for i := 1; i < len(g.board); i++ {
		if g.board[i] != g.board[0] {
			return 0, i
		}
	}
	return -1, -1
}

func TestPuzzleOpeningTurn(t *testing.T) {
	g, players, rec, _ := setupPuzzle(t, 2, 4)
	defer g.Stop()

	ev := rec.lastOfType(protocol.TypeTurnChange)
	require.NotNil(t, ev, "start should announce the opening turn")
	tc := ev.payload.(protocol.TurnChangePayload)
	assert.Equal(t, players[0], tc.PlayerID)
	assert.Equal(t, 1, tc.TurnID)
}

func TestPuzzleSnapshotShowsProgress(t *testing.T) {
	g, players, _, _ := setupPuzzle(t, 2, 4)
	defer g.Stop()

	snap := g.Snapshot()
	assert.Equal(t, 8, snap.BoardSize)
	assert.Empty(t, snap.Matched)
	assert.Equal(t, players[0], snap.CurrentPlayerID)

	a, b := pairIndices(g)
	require.GreaterOrEqual(t, a, 0)
	g.FlipCard(players[0], a)
	g.FlipCard(players[0], b)

	snap = g.Snapshot()
	require.Len(t, snap.Matched, 2)
	assert.Equal(t, snap.Matched[0].Symbol, snap.Matched[1].Symbol)
	assert.Equal(t, 1, snap.Scores[players[0].String()])
	assert.Equal(t, players[0], snap.CurrentPlayerID)
}

func TestPuzzleMatchKeepsTurn(t *testing.T) {
	g, players, rec, _ := setupPuzzle(t, 2, 4)
	defer g.Stop()
	rec.clear()

	a, b := pairIndices(g)
	require.GreaterOrEqual(t, a, 0)

	g.FlipCard(players[0], a)
	flip := rec.lastOfType(protocol.TypePuzzleCardFlipped)
	require.NotNil(t, flip)
	assert.Equal(t, g.board[a], flip.payload.(protocol.CardFlippedPayload).Symbol)

	g.FlipCard(players[0], b)
	match := rec.lastOfType(protocol.TypePuzzleMatch)
	require.NotNil(t, match, "second flip of a pair should broadcast a match")
	mp := match.payload.(protocol.MatchPayload)
	assert.Equal(t, players[0], mp.PlayerID)
	assert.Equal(t, 1, mp.Score)
	assert.Equal(t, 3, mp.Remaining)

	// A match keeps the turn, so no turn_change is broadcast.
	assert.Equal(t, 0, rec.countOfType(protocol.TypeTurnChange))
}

func TestPuzzleNoMatchPassesTurn(t *testing.T) {
	g, players, rec, _ := setupPuzzle(t, 2, 4)
	defer g.Stop()
	rec.clear()

	a, b := mismatchIndices(g)
	require.GreaterOrEqual(t, a, 0)

	g.FlipCard(players[0], a)
	g.FlipCard(players[0], b)

	require.NotNil(t, rec.lastOfType(protocol.TypePuzzleNoMatch))
	tc := rec.lastOfType(protocol.TypeTurnChange)
	require.NotNil(t, tc, "a failed match should pass the turn")
	assert.Equal(t, players[1], tc.payload.(protocol.TurnChangePayload).PlayerID)
}

func TestPuzzleRejectsOutOfTurnFlip(t *testing.T) {
	g, players, rec, _ := setupPuzzle(t, 2, 4)
	defer g.Stop()

	g.FlipCard(players[1], 0)
	ev := rec.lastPlayerEvent(players[1])
	require.NotNil(t, ev)
	assert.Equal(t, protocol.TypeError, ev.typ)
	assert.Equal(t, 0, rec.countOfType(protocol.TypePuzzleCardFlipped))
}

func TestPuzzleRejectsSameCardTwice(t *testing.T) {
	g, players, rec, _ := setupPuzzle(t, 2, 4)
	defer g.Stop()

	g.FlipCard(players[0], 0)
	g.FlipCard(players[0], 0)
	ev := rec.lastPlayerEvent(players[0])
	require.NotNil(t, ev)
	assert.Equal(t, protocol.TypeError, ev.typ)
}

func TestPuzzleBoardExhaustionEndsGame(t *testing.T) {
	g, players, rec, end := setupPuzzle(t, 2, 2)
	defer g.Stop()

	// Clear all pairs as player A.
	for {
		a, b := pairIndices(g)
		if a < 0 {
			break
		}
		// Mark resolved locally so pairIndices moves on.
		g.FlipCard(players[0], a)
		g.FlipCard(players[0], b)
		g.mu.Lock()
		done := g.over
		g.mu.Unlock()
		if done {
			break
		}
	}

	called, winner, reason := end.snapshot()
	require.True(t, called, "clearing the board should end the game")
	assert.Equal(t, players[0], winner)
	assert.Equal(t, "board cleared", reason)
	assert.NotNil(t, rec.lastOfType(protocol.TypePuzzleMatch))
}

func TestPuzzleTurnTimeoutPassesTurn(t *testing.T) {
	players := []uuid.UUID{uuid.New(), uuid.New()}
	rec := newRecorder()
	end := &endCapture{}
	g := NewPuzzle(players, 4, rec.broadcastFn, rec.sendToFn, end.fn)
	g.turnDuration = 50 * time.Millisecond
	g.Start()
	defer g.Stop()

	time.Sleep(120 * time.Millisecond)

	tc := rec.lastOfType(protocol.TypeTurnChange)
	require.NotNil(t, tc)
	assert.Equal(t, players[1], tc.payload.(protocol.TurnChangePayload).PlayerID)
}

func TestPuzzleDisconnectPassesTurn(t *testing.T) {
	g, players, rec, _ := setupPuzzle(t, 3, 4)
	defer g.Stop()
	rec.clear()

	g.HandleDisconnect(players[0])
	tc := rec.lastOfType(protocol.TypeTurnChange)
	require.NotNil(t, tc)
	assert.Equal(t, players[1], tc.payload.(protocol.TurnChangePayload).PlayerID)

	// Turn passes keep skipping the absent player.
	a, b := mismatchIndices(g)
	g.FlipCard(players[1], a)
	g.FlipCard(players[1], b)
	tc = rec.lastOfType(protocol.TypeTurnChange)
	assert.Equal(t, players[2], tc.payload.(protocol.TurnChangePayload).PlayerID)
}

func setupTD(t *testing.T, numPlayers int) (*TDGame, []uuid.UUID, *recorder, *endCapture) {
	t.Helper()
	players := make([]uuid.UUID, numPlayers)
	for i := range players {
		players[i] = uuid.New()
	}
	rec := newRecorder()
	end := &endCapture{}
	g := NewTD(players, rec.broadcastFn, rec.sendToFn, end.fn)
	return g, players, rec, end
}

func TestTDPlaceTowerDebitsGold(t *testing.T) {
	g, players, rec, _ := setupTD(t, 2)
	defer g.Stop()

	g.PlaceTower(players[0], "arrow", 3, 4)
	ev := rec.lastOfType(protocol.TypeTDTowerPlaced)
	require.NotNil(t, ev)
	tp := ev.payload.(protocol.TowerPayload)
	assert.Equal(t, players[0], tp.PlayerID)
	assert.Equal(t, 1, tp.Level)
	assert.Equal(t, TDStartingGold-50, tp.Gold)

	// Same cell is occupied now.
	g.PlaceTower(players[0], "frost", 3, 4)
	errEv := rec.lastPlayerEvent(players[0])
	require.NotNil(t, errEv)
	assert.Equal(t, protocol.TypeError, errEv.typ)
	assert.Equal(t, 1, rec.countOfType(protocol.TypeTDTowerPlaced))
}

func TestTDPlaceTowerRequiresGold(t *testing.T) {
	g, players, rec, _ := setupTD(t, 2)
	defer g.Stop()

	g.PlaceTower(players[0], "cannon", 0, 0) // 100, leaves 0
	g.PlaceTower(players[0], "cannon", 1, 1)

	ev := rec.lastPlayerEvent(players[0])
	require.NotNil(t, ev)
	assert.Equal(t, protocol.TypeError, ev.typ)
	assert.Equal(t, 1, rec.countOfType(protocol.TypeTDTowerPlaced))
}

func TestTDPlaceTowerOutOfBounds(t *testing.T) {
	g, players, rec, _ := setupTD(t, 2)
	defer g.Stop()

	g.PlaceTower(players[0], "arrow", TDGridWidth, 0)
	assert.Equal(t, 0, rec.countOfType(protocol.TypeTDTowerPlaced))
	ev := rec.lastPlayerEvent(players[0])
	require.NotNil(t, ev)
	assert.Equal(t, protocol.TypeError, ev.typ)
}

func TestTDUpgradeAndSell(t *testing.T) {
	g, players, rec, _ := setupTD(t, 2)
	defer g.Stop()

	g.PlaceTower(players[0], "arrow", 2, 2) // gold 50
	placed := rec.lastOfType(protocol.TypeTDTowerPlaced).payload.(protocol.TowerPayload)

	g.UpgradeTower(players[0], placed.TowerID) // level 2, costs 50, gold 0
	up := rec.lastOfType(protocol.TypeTDTowerUpgraded)
	require.NotNil(t, up)
	upp := up.payload.(protocol.TowerPayload)
	assert.Equal(t, 2, upp.Level)
	assert.Equal(t, 0, upp.Gold)

	g.SellTower(players[0], placed.TowerID) // refund 70% of 100
	sold := rec.lastOfType(protocol.TypeTDTowerSold)
	require.NotNil(t, sold)
	assert.Equal(t, 70, sold.payload.(protocol.TowerPayload).Gold)

	// Cell is free again.
	g.PlaceTower(players[0], "arrow", 2, 2)
	assert.Equal(t, 2, rec.countOfType(protocol.TypeTDTowerPlaced))
}

func TestTDSendEnemiesRaisesIncome(t *testing.T) {
	g, players, rec, _ := setupTD(t, 2)
	defer g.Stop()

	g.SendEnemies(players[0], players[1], "runner", 2) // cost 40, +4 income
	ev := rec.lastOfType(protocol.TypeTDEnemiesSent)
	require.NotNil(t, ev)
	sp := ev.payload.(protocol.SendEnemiesPayload)
	assert.Equal(t, players[1], sp.TargetID)
	assert.Equal(t, 2, sp.Count)

	gold, income, _, ok := g.Snapshot(players[0])
	require.True(t, ok)
	assert.Equal(t, TDStartingGold-40, gold)
	assert.Equal(t, TDStartingIncome+4, income)

	g.tickIncome()
	gold, _, _, _ = g.Snapshot(players[0])
	assert.Equal(t, TDStartingGold-40+TDStartingIncome+4, gold)
	assert.Equal(t, 2, rec.countOfType(protocol.TypeTDIncome))
}

func TestTDSendEnemiesCountCapped(t *testing.T) {
	g, players, rec, _ := setupTD(t, 2)
	defer g.Stop()

	// An enormous count would make cost wrap negative and slip past the
	// gold check. It must be rejected before pricing.
	g.SendEnemies(players[0], players[1], "runner", math.MaxInt/2)
	assert.Equal(t, 0, rec.countOfType(protocol.TypeTDEnemiesSent))
	ev := rec.lastPlayerEvent(players[0])
	require.NotNil(t, ev)
	assert.Equal(t, protocol.TypeError, ev.typ)

	gold, income, _, ok := g.Snapshot(players[0])
	require.True(t, ok)
	assert.Equal(t, TDStartingGold, gold)
	assert.Equal(t, TDStartingIncome, income)

	g.SendEnemies(players[0], players[1], "runner", TDMaxSendCount+1)
	assert.Equal(t, 0, rec.countOfType(protocol.TypeTDEnemiesSent))
}

func TestTDSendEnemiesToSelfRejected(t *testing.T) {
	g, players, rec, _ := setupTD(t, 2)
	defer g.Stop()

	g.SendEnemies(players[0], players[0], "runner", 1)
	assert.Equal(t, 0, rec.countOfType(protocol.TypeTDEnemiesSent))
	ev := rec.lastPlayerEvent(players[0])
	require.NotNil(t, ev)
	assert.Equal(t, protocol.TypeError, ev.typ)
}

func TestTDLeakEliminationAndWin(t *testing.T) {
	g, players, rec, end := setupTD(t, 2)

	g.ReportLeak(players[0], 5)
	lv := rec.lastOfType(protocol.TypeTDLivesUpdate)
	require.NotNil(t, lv)
	assert.Equal(t, TDStartingLives-5, lv.payload.(protocol.LivesPayload).Lives)

	g.ReportLeak(players[0], 50) // clamps to 0 and eliminates
	lv = rec.lastOfType(protocol.TypeTDLivesUpdate)
	assert.Equal(t, 0, lv.payload.(protocol.LivesPayload).Lives)

	out := rec.lastOfType(protocol.TypeTDPlayerOut)
	require.NotNil(t, out)
	assert.Equal(t, players[0], out.payload.(protocol.PlayerEventPayload).PlayerID)

	called, winner, reason := end.snapshot()
	require.True(t, called, "one player standing should end the game")
	assert.Equal(t, players[1], winner)
	assert.Equal(t, "last player standing", reason)
}

func TestTDEliminatedPlayerCannotAct(t *testing.T) {
	g, players, rec, _ := setupTD(t, 3)
	defer g.Stop()

	g.ReportLeak(players[0], TDStartingLives)
	rec.clear()

	g.PlaceTower(players[0], "arrow", 0, 0)
	g.SendEnemies(players[0], players[1], "runner", 1)
	assert.Equal(t, 0, rec.countOfType(protocol.TypeTDTowerPlaced))
	assert.Equal(t, 0, rec.countOfType(protocol.TypeTDEnemiesSent))
}

func TestTDDisconnectPreservesEconomy(t *testing.T) {
	g, players, _, _ := setupTD(t, 2)
	defer g.Stop()

	g.PlaceTower(players[0], "arrow", 1, 1)
	g.HandleDisconnect(players[0])
	g.HandleReconnect(players[0])

	gold, income, lives, ok := g.Snapshot(players[0])
	require.True(t, ok)
	assert.Equal(t, TDStartingGold-50, gold)
	assert.Equal(t, TDStartingIncome, income)
	assert.Equal(t, TDStartingLives, lives)
}

func TestGameStore(t *testing.T) {
	s := NewStore()
	players := []uuid.UUID{uuid.New(), uuid.New()}
	g := NewTD(players, func(string, interface{}) {}, func(uuid.UUID, string, interface{}) {}, nil)

	s.Add(g)
	got, ok := s.Get(g.GameID())
	require.True(t, ok)
	assert.Equal(t, g.GameID(), got.GameID())

	s.Delete(g.GameID())
	_, ok = s.Get(g.GameID())
	assert.False(t, ok)
}
