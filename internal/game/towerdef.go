// internal/game/towerdef.go
package game

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jklund/partyline/internal/protocol"
)

// Tower defense economy constants. Wave simulation runs on the clients; the
// server owns gold, income, lives, and grid occupancy.
const (
	TDStartingGold   = 100
	TDStartingLives  = 20
	TDStartingIncome = 10
	TDGridWidth      = 12
	TDGridHeight     = 12
	TDMaxTowerLevel  = 3
	// TDMaxSendCount bounds one enemy send. Pricing multiplies cost by
	// count, so the bound also keeps the arithmetic far from overflow.
	TDMaxSendCount = 50

	tdIncomeInterval = 10 * time.Second
	// sellRefundPct is the fraction of invested gold returned on sell.
	tdSellRefundPct = 70
)

// towerSpec is the static cost table for one tower kind. Upgrading to level
// N costs baseCost * (N-1).
type towerSpec struct {
	baseCost int
}

// enemySpec prices a cross-player enemy send. Each unit sent permanently
// raises the sender's income by incomeBonus.
type enemySpec struct {
	cost        int
	incomeBonus int
}

var towerSpecs = map[string]towerSpec{
	"arrow":  {baseCost: 50},
	"cannon": {baseCost: 100},
	"frost":  {baseCost: 75},
}

var enemySpecs = map[string]enemySpec{
	"runner": {cost: 20, incomeBonus: 2},
	"swarm":  {cost: 40, incomeBonus: 4},
	"brute":  {cost: 60, incomeBonus: 7},
}

// Tower is one placed tower on a player's grid.
type Tower struct {
	ID    uuid.UUID
	Kind  string
	X, Y  int
	Level int
	// spent tracks total gold invested, for sell refunds.
	spent int
}

type tdPlayer struct {
	gold    int
	income  int
	lives   int
	out     bool
	towers  map[uuid.UUID]*Tower
	grid    map[[2]int]uuid.UUID
	present bool
}

// TDGame is the authoritative economy for one tower defense match.
type TDGame struct {
	id      uuid.UUID
	players map[uuid.UUID]*tdPlayer
	order   []uuid.UUID // seat order, for deterministic iteration
	over    bool

	incomeStop chan struct{}

	mu sync.Mutex

	broadcast BroadcastFunc
	sendTo    SendToFunc
	onEnd     OnGameEndFunc
}

// NewTD sets up starting economies for the given players (in seat order).
func NewTD(players []uuid.UUID, broadcast BroadcastFunc, sendTo SendToFunc, onEnd OnGameEndFunc) *TDGame {
	id, _ := uuid.NewRandom()
	g := &TDGame{
		id:         id,
		players:    make(map[uuid.UUID]*tdPlayer, len(players)),
		order:      append([]uuid.UUID(nil), players...),
		incomeStop: make(chan struct{}),
		broadcast:  broadcast,
		sendTo:     sendTo,
		onEnd:      onEnd,
	}
	for _, p := range players {
		g.players[p] = &tdPlayer{
			gold:    TDStartingGold,
			income:  TDStartingIncome,
			lives:   TDStartingLives,
			towers:  make(map[uuid.UUID]*Tower),
			grid:    make(map[[2]int]uuid.UUID),
			present: true,
		}
	}
	return g
}

func (g *TDGame) GameID() uuid.UUID { return g.id }

// Start launches the income ticker.
func (g *TDGame) Start() {
	go g.incomeLoop()
}

// Stop halts the income ticker.
func (g *TDGame) Stop() {
	g.mu.Lock()
	if g.over {
		g.mu.Unlock()
		return
	}
	g.over = true
	close(g.incomeStop)
	g.mu.Unlock()
}

func (g *TDGame) incomeLoop() {
	ticker := time.NewTicker(tdIncomeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-g.incomeStop:
			return
		case <-ticker.C:
			g.tickIncome()
		}
	}
}

func (g *TDGame) tickIncome() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.over {
		return
	}
	for _, pid := range g.order {
		p := g.players[pid]
		if p.out {
			continue
		}
		p.gold += p.income
		g.broadcast(protocol.TypeTDIncome, protocol.IncomePayload{
			PlayerID: pid,
			Gold:     p.gold,
			Income:   p.income,
		})
	}
}

func (g *TDGame) HandleAction(playerID uuid.UUID, typ string, payload json.RawMessage) {
	switch typ {
	case protocol.TypeTDPlaceTower:
		var req protocol.TowerPayload
		if err := json.Unmarshal(payload, &req); err != nil {
			g.sendError(playerID, "invalid tower payload")
			return
		}
		g.PlaceTower(playerID, req.Kind, req.X, req.Y)
	case protocol.TypeTDUpgradeTower:
		var req protocol.TowerPayload
		if err := json.Unmarshal(payload, &req); err != nil {
			g.sendError(playerID, "invalid tower payload")
			return
		}
		g.UpgradeTower(playerID, req.TowerID)
	case protocol.TypeTDSellTower:
		var req protocol.TowerPayload
		if err := json.Unmarshal(payload, &req); err != nil {
			g.sendError(playerID, "invalid tower payload")
			return
		}
		g.SellTower(playerID, req.TowerID)
	case protocol.TypeTDSendEnemies:
		var req protocol.SendEnemiesPayload
		if err := json.Unmarshal(payload, &req); err != nil {
			g.sendError(playerID, "invalid send payload")
			return
		}
		g.SendEnemies(playerID, req.TargetID, req.Kind, req.Count)
	case protocol.TypeTDEnemyLeaked:
		var req protocol.LivesPayload
		if err := json.Unmarshal(payload, &req); err != nil {
			g.sendError(playerID, "invalid leak payload")
			return
		}
		g.ReportLeak(playerID, req.Leaked)
	default:
		g.sendError(playerID, "unknown action: "+typ)
	}
}

func (g *TDGame) sendError(playerID uuid.UUID, msg string) {
	g.sendTo(playerID, protocol.TypeError, protocol.ErrorPayload{Message: msg})
}

// activePlayerUnsafe returns the player's state, or nil if the game is over
// or the player is eliminated or unknown. Callers hold g.mu.
func (g *TDGame) activePlayerUnsafe(playerID uuid.UUID) *tdPlayer {
	if g.over {
		return nil
	}
	p, ok := g.players[playerID]
	if !ok {
		return nil
	}
	if p.out {
		return nil
	}
	return p
}

// PlaceTower validates cost and occupancy, then debits and broadcasts.
func (g *TDGame) PlaceTower(playerID uuid.UUID, kind string, x, y int) {
	g.mu.Lock()
	p := g.activePlayerUnsafe(playerID)
	if p == nil {
		g.mu.Unlock()
		return
	}
	spec, ok := towerSpecs[kind]
	if !ok {
		g.mu.Unlock()
		g.sendError(playerID, "unknown tower kind: "+kind)
		return
	}
	if x < 0 || x >= TDGridWidth || y < 0 || y >= TDGridHeight {
		g.mu.Unlock()
		g.sendError(playerID, "tower out of bounds")
		return
	}
	cell := [2]int{x, y}
	if _, occupied := p.grid[cell]; occupied {
		g.mu.Unlock()
		g.sendError(playerID, "cell occupied")
		return
	}
	if p.gold < spec.baseCost {
		g.mu.Unlock()
		g.sendError(playerID, "not enough gold")
		return
	}

	p.gold -= spec.baseCost
	tid, _ := uuid.NewRandom()
	t := &Tower{ID: tid, Kind: kind, X: x, Y: y, Level: 1, spent: spec.baseCost}
	p.towers[tid] = t
	p.grid[cell] = tid
	gold := p.gold
	g.mu.Unlock()

	g.broadcast(protocol.TypeTDTowerPlaced, protocol.TowerPayload{
		PlayerID: playerID,
		TowerID:  tid,
		Kind:     kind,
		X:        x,
		Y:        y,
		Level:    1,
		Gold:     gold,
	})
}

// UpgradeTower raises a tower's level; upgrading to level N costs the tower's
// base cost times N-1.
func (g *TDGame) UpgradeTower(playerID, towerID uuid.UUID) {
	g.mu.Lock()
	p := g.activePlayerUnsafe(playerID)
	if p == nil {
		g.mu.Unlock()
		return
	}
	t, ok := p.towers[towerID]
	if !ok {
		g.mu.Unlock()
		g.sendError(playerID, "no such tower")
		return
	}
	if t.Level >= TDMaxTowerLevel {
		g.mu.Unlock()
		g.sendError(playerID, "tower at max level")
		return
	}
	cost := towerSpecs[t.Kind].baseCost * t.Level
	if p.gold < cost {
		g.mu.Unlock()
		g.sendError(playerID, "not enough gold")
		return
	}

	p.gold -= cost
	t.Level++
	t.spent += cost
	snap := *t
	gold := p.gold
	g.mu.Unlock()

	g.broadcast(protocol.TypeTDTowerUpgraded, protocol.TowerPayload{
		PlayerID: playerID,
		TowerID:  towerID,
		Kind:     snap.Kind,
		X:        snap.X,
		Y:        snap.Y,
		Level:    snap.Level,
		Gold:     gold,
	})
}

// SellTower refunds part of the invested gold and frees the cell.
func (g *TDGame) SellTower(playerID, towerID uuid.UUID) {
	g.mu.Lock()
	p := g.activePlayerUnsafe(playerID)
	if p == nil {
		g.mu.Unlock()
		return
	}
	t, ok := p.towers[towerID]
	if !ok {
		g.mu.Unlock()
		g.sendError(playerID, "no such tower")
		return
	}

	refund := t.spent * tdSellRefundPct / 100
	p.gold += refund
	delete(p.towers, towerID)
	delete(p.grid, [2]int{t.X, t.Y})
	gold := p.gold
	g.mu.Unlock()

	g.broadcast(protocol.TypeTDTowerSold, protocol.TowerPayload{
		PlayerID: playerID,
		TowerID:  towerID,
		Kind:     t.Kind,
		X:        t.X,
		Y:        t.Y,
		Gold:     gold,
	})
}

// SendEnemies debits the sender, permanently raises their income, and
// credits the target's pending wave.
func (g *TDGame) SendEnemies(playerID, targetID uuid.UUID, kind string, count int) {
	g.mu.Lock()
	p := g.activePlayerUnsafe(playerID)
	if p == nil {
		g.mu.Unlock()
		return
	}
	if count <= 0 || count > TDMaxSendCount {
		g.mu.Unlock()
		g.sendError(playerID, "invalid enemy count")
		return
	}
	spec, ok := enemySpecs[kind]
	if !ok {
		g.mu.Unlock()
		g.sendError(playerID, "unknown enemy kind: "+kind)
		return
	}
	if targetID == playerID {
		g.mu.Unlock()
		g.sendError(playerID, "cannot send enemies to yourself")
		return
	}
	target, ok := g.players[targetID]
	if !ok || target.out {
		g.mu.Unlock()
		g.sendError(playerID, "invalid target")
		return
	}
	cost := spec.cost * count
	if p.gold < cost {
		g.mu.Unlock()
		g.sendError(playerID, "not enough gold")
		return
	}

	p.gold -= cost
	p.income += spec.incomeBonus * count
	g.mu.Unlock()

	g.broadcast(protocol.TypeTDEnemiesSent, protocol.SendEnemiesPayload{
		PlayerID: playerID,
		TargetID: targetID,
		Kind:     kind,
		Count:    count,
	})
}

// ReportLeak applies a client-reported leak to the reporter's own lives.
// Lives only ever go down; a player at zero is eliminated, and when one
// player remains standing the game ends.
func (g *TDGame) ReportLeak(playerID uuid.UUID, leaked int) {
	g.mu.Lock()
	p := g.activePlayerUnsafe(playerID)
	if p == nil || leaked <= 0 {
		g.mu.Unlock()
		return
	}

	p.lives -= leaked
	if p.lives < 0 {
		p.lives = 0
	}
	lives := p.lives
	g.mu.Unlock()

	g.broadcast(protocol.TypeTDLivesUpdate, protocol.LivesPayload{
		PlayerID: playerID,
		Lives:    lives,
		Leaked:   leaked,
	})

	if lives > 0 {
		return
	}

	g.mu.Lock()
	if g.over || p.out {
		g.mu.Unlock()
		return
	}
	p.out = true
	g.mu.Unlock()

	log.Printf("td %s: player %s eliminated", g.id, playerID)
	g.broadcast(protocol.TypeTDPlayerOut, protocol.PlayerEventPayload{PlayerID: playerID})
	g.checkWin()
}

// checkWin ends the game when at most one player is still standing.
func (g *TDGame) checkWin() {
	g.mu.Lock()
	if g.over {
		g.mu.Unlock()
		return
	}

	alive := make([]uuid.UUID, 0, len(g.order))
	for _, pid := range g.order {
		if !g.players[pid].out {
			alive = append(alive, pid)
		}
	}
	if len(alive) > 1 {
		g.mu.Unlock()
		return
	}

	g.over = true
	close(g.incomeStop)

	winner := uuid.Nil
	if len(alive) == 1 {
		winner = alive[0]
	}
	scores := make(map[uuid.UUID]int, len(g.order))
	for _, pid := range g.order {
		scores[pid] = g.players[pid].lives
	}
	onEnd := g.onEnd
	g.mu.Unlock()

	if onEnd != nil {
		onEnd(winner, scores, "last player standing")
	}
}

// HandleDisconnect keeps the player's economy running; towers and income
// survive a dropped socket so a resumed client picks up where it left off.
func (g *TDGame) HandleDisconnect(playerID uuid.UUID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if p, ok := g.players[playerID]; ok {
		p.present = false
	}
}

func (g *TDGame) HandleReconnect(playerID uuid.UUID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if p, ok := g.players[playerID]; ok {
		p.present = true
	}
}

// Snapshot returns a player's current economy, for resume flows.
func (g *TDGame) Snapshot(playerID uuid.UUID) (gold, income, lives int, ok bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, found := g.players[playerID]
	if !found {
		return 0, 0, 0, false
	}
	return p.gold, p.income, p.lives, true
}
