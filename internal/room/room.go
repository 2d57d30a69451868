// internal/room/room.go
package room

import (
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jklund/partyline/internal/protocol"
)

// Room phases, broadcast verbatim in room_state payloads.
const (
	PhaseLobby     = "lobby"
	PhaseCountdown = "countdown"
	PhasePlaying   = "playing"
)

// CountdownSeconds is the pre-game countdown started once every seat is ready.
const CountdownSeconds = 5

// Room is the server-side authority for one multiplayer session: seats,
// ready states, the pre-game countdown, and the wholesale room_state
// broadcast that clients mirror.
type Room struct {
	ID     uuid.UUID
	Mode   protocol.GameMode
	HostID uuid.UUID

	// Conns holds the live connections, keyed by player ID.
	Conns map[uuid.UUID]*Conn
	// Ready holds per-player ready flags. Entries survive a disconnect so a
	// resumed seat keeps its ready state.
	Ready map[uuid.UUID]bool
	// Seats assigns a stable seat index per player, kept across reconnects.
	Seats    map[uuid.UUID]int
	nextSeat int

	Phase  string
	GameID uuid.UUID

	CountdownTimer *time.Timer

	// OnEmpty is called after the last connection leaves, typically wired to
	// store deletion by whoever created the room.
	OnEmpty func(roomID uuid.UUID)

	// OnCountdownDone fires when the countdown completes with all players
	// still ready; the handler layer uses it to spin up the game instance.
	OnCountdownDone func(r *Room)

	// Mu guards all mutable state above. Methods suffixed Unsafe assume the
	// caller holds it.
	Mu sync.Mutex
}

// Conn is a single player's live presence in a room.
type Conn struct {
	PlayerID uuid.UUID
	Username string
	Cancel   func()
	OutChan  chan []byte
}

// Write pushes pre-encoded wire bytes onto the connection's outbound channel
// without blocking. Full or closed channels drop the message; the write pump
// and liveness handling deal with truly dead peers.
func (c *Conn) Write(data []byte) {
	select {
	case c.OutChan <- data:
	default:
		log.Printf("room: OutChan for player %s full or closed, dropped message", c.PlayerID)
	}
}

// WriteMsg encodes a type + payload and pushes it to this connection.
func (c *Conn) WriteMsg(typ string, payload interface{}) {
	data, err := protocol.Encode(typ, payload)
	if err != nil {
		log.Printf("room: encode %s for player %s: %v", typ, c.PlayerID, err)
		return
	}
	c.Write(data)
}

// WriteError sends a non-fatal application error to this connection only.
func (c *Conn) WriteError(msg string) {
	c.WriteMsg(protocol.TypeError, protocol.ErrorPayload{Message: msg})
}

// New creates a room hosted by hostID in the lobby phase.
func New(mode protocol.GameMode, hostID uuid.UUID) *Room {
	id, _ := uuid.NewRandom()
	return &Room{
		ID:     id,
		Mode:   mode,
		HostID: hostID,
		Conns:  make(map[uuid.UUID]*Conn),
		Ready:  make(map[uuid.UUID]bool),
		Seats:  make(map[uuid.UUID]int),
		Phase:  PhaseLobby,
	}
}

// Join seats a new or returning player. Resumed seats keep their index and
// ready flag; fresh joins get the next free seat and start unready. An
// existing live connection for the same player is displaced. Returns the
// seat index and whether this was a resume.
func (r *Room) Join(conn *Conn) (seat int, resumed bool) {
	r.Mu.Lock()

	if old, ok := r.Conns[conn.PlayerID]; ok && old != conn {
		// Replaced connection: stop its pumps before the new one takes over.
		close(old.OutChan)
		if old.Cancel != nil {
			old.Cancel()
		}
	}

	seat, resumed = r.Seats[conn.PlayerID]
	if !resumed {
		seat = r.nextSeat
		r.nextSeat++
		r.Seats[conn.PlayerID] = seat
		r.Ready[conn.PlayerID] = false
	}
	r.Conns[conn.PlayerID] = conn

	joinPayload := protocol.PlayerEventPayload{
		PlayerID: conn.PlayerID,
		Username: conn.Username,
	}
	r.broadcastUnsafe(protocol.TypePlayerJoined, joinPayload)
	r.broadcastStateUnsafe()

	r.Mu.Unlock()
	return seat, resumed
}

// Leave removes a player's connection. With keepSeat the seat and ready flag
// survive for the reconnect window; otherwise the seat is forfeited. Fires
// OnEmpty when the last connection is gone. A connection that was already
// displaced by a newer Join is a no-op: the seat belongs to the new socket.
func (r *Room) Leave(leaving *Conn, keepSeat bool) {
	playerID := leaving.PlayerID
	r.Mu.Lock()

	conn, ok := r.Conns[playerID]
	if ok && conn != leaving {
		r.Mu.Unlock()
		return
	}
	if !ok {
		if !keepSeat {
			delete(r.Seats, playerID)
			delete(r.Ready, playerID)
		}
		r.Mu.Unlock()
		return
	}

	delete(r.Conns, playerID)
	if !keepSeat {
		delete(r.Seats, playerID)
		delete(r.Ready, playerID)
	}

	go func(ch chan []byte, cancel func()) {
		defer func() {
			if rec := recover(); rec != nil {
				log.Printf("room %s: recovered closing OutChan for %s: %v", r.ID, playerID, rec)
			}
		}()
		close(ch)
		if cancel != nil {
			cancel()
		}
	}(conn.OutChan, conn.Cancel)

	r.cancelCountdownUnsafe()

	r.broadcastUnsafe(protocol.TypePlayerLeft, protocol.PlayerEventPayload{
		PlayerID: playerID,
		Username: conn.Username,
	})
	r.broadcastStateUnsafe()

	isEmpty := len(r.Conns) == 0
	onEmpty := r.OnEmpty
	r.Mu.Unlock()

	if isEmpty && onEmpty != nil {
		log.Printf("room %s is empty, reaping", r.ID)
		onEmpty(r.ID)
	}
}

// MarkReady flags a player ready and starts the countdown once everyone is.
func (r *Room) MarkReady(playerID uuid.UUID) {
	r.Mu.Lock()
	defer r.Mu.Unlock()

	conn, ok := r.Conns[playerID]
	if !ok || r.Ready[playerID] {
		return
	}
	r.Ready[playerID] = true

	r.broadcastUnsafe(protocol.TypePlayerReady, protocol.PlayerEventPayload{
		PlayerID: playerID,
		Username: conn.Username,
		IsReady:  true,
	})
	r.broadcastStateUnsafe()

	if r.allReadyUnsafe() {
		r.startCountdownUnsafe(CountdownSeconds)
	}
}

// MarkUnready clears a player's ready flag and cancels any countdown.
func (r *Room) MarkUnready(playerID uuid.UUID) {
	r.Mu.Lock()
	defer r.Mu.Unlock()

	conn, ok := r.Conns[playerID]
	if !ok || !r.Ready[playerID] {
		return
	}
	r.Ready[playerID] = false

	r.broadcastUnsafe(protocol.TypePlayerReady, protocol.PlayerEventPayload{
		PlayerID: playerID,
		Username: conn.Username,
		IsReady:  false,
	})
	r.cancelCountdownUnsafe()
	r.broadcastStateUnsafe()
}

// allReadyUnsafe requires at least 2 live connections, all flagged ready.
func (r *Room) allReadyUnsafe() bool {
	if len(r.Conns) < 2 {
		return false
	}
	for id := range r.Conns {
		if !r.Ready[id] {
			return false
		}
	}
	return true
}

// AllReady reports whether the countdown precondition holds.
func (r *Room) AllReady() bool {
	r.Mu.Lock()
	defer r.Mu.Unlock()
	return r.allReadyUnsafe()
}

// startCountdownUnsafe arms the pre-game countdown. A stale-timer guard
// ensures a cancelled-then-restarted countdown fires at most once.
func (r *Room) startCountdownUnsafe(seconds int) {
	if r.Phase != PhaseLobby || r.CountdownTimer != nil {
		return
	}
	r.Phase = PhaseCountdown
	r.broadcastUnsafe(protocol.TypeCountdown, protocol.CountdownPayload{Seconds: seconds})
	r.broadcastStateUnsafe()

	var timer *time.Timer
	timer = time.AfterFunc(time.Duration(seconds)*time.Second, func() {
		r.Mu.Lock()
		if r.CountdownTimer != timer {
			r.Mu.Unlock()
			return
		}
		r.CountdownTimer = nil
		done := r.OnCountdownDone
		r.Mu.Unlock()
		if done != nil {
			done(r)
		}
	})
	r.CountdownTimer = timer
}

// cancelCountdownUnsafe stops a pending countdown and drops back to lobby.
func (r *Room) cancelCountdownUnsafe() {
	if r.CountdownTimer == nil {
		return
	}
	r.CountdownTimer.Stop()
	r.CountdownTimer = nil
	if r.Phase == PhaseCountdown {
		r.Phase = PhaseLobby
	}
	r.broadcastUnsafe(protocol.TypeCountdownCancel, nil)
}

// CancelCountdown stops a pending countdown (public, acquires lock).
func (r *Room) CancelCountdown() {
	r.Mu.Lock()
	defer r.Mu.Unlock()
	r.cancelCountdownUnsafe()
	r.broadcastStateUnsafe()
}

// broadcastUnsafe sends a mode-prefixed message to every live connection.
// Conn.Write never blocks, so holding the lock here is safe.
func (r *Room) broadcastUnsafe(typ string, payload interface{}) {
	data, err := protocol.Encode(protocol.PrefixType(r.Mode, typ), payload)
	if err != nil {
		log.Printf("room %s: encode %s: %v", r.ID, typ, err)
		return
	}
	for _, conn := range r.Conns {
		conn.Write(data)
	}
}

// Broadcast sends a mode-prefixed message to every live connection.
func (r *Room) Broadcast(typ string, payload interface{}) {
	r.Mu.Lock()
	defer r.Mu.Unlock()
	r.broadcastUnsafe(typ, payload)
}

// SendTo sends a mode-prefixed message to one player, if connected.
func (r *Room) SendTo(playerID uuid.UUID, typ string, payload interface{}) {
	r.Mu.Lock()
	conn, ok := r.Conns[playerID]
	r.Mu.Unlock()
	if ok {
		conn.WriteMsg(protocol.PrefixType(r.Mode, typ), payload)
	}
}

// broadcastStateUnsafe pushes the authoritative wholesale snapshot. Clients
// replace their mirror with it entirely.
func (r *Room) broadcastStateUnsafe() {
	r.broadcastUnsafe(protocol.TypeRoomState, r.statePayloadUnsafe())
}

// BroadcastState pushes the authoritative snapshot (public, acquires lock).
func (r *Room) BroadcastState() {
	r.Mu.Lock()
	defer r.Mu.Unlock()
	r.broadcastStateUnsafe()
}

func (r *Room) statePayloadUnsafe() protocol.RoomStatePayload {
	players := make([]protocol.RoomPlayer, 0, len(r.Seats))
	for id, seat := range r.Seats {
		username := ""
		conn, connected := r.Conns[id]
		if connected {
			username = conn.Username
		}
		players = append(players, protocol.RoomPlayer{
			ID:        id,
			Username:  username,
			Seat:      seat,
			IsHost:    id == r.HostID,
			IsReady:   r.Ready[id],
			Connected: connected,
		})
	}
	return protocol.RoomStatePayload{
		RoomID:  r.ID,
		Mode:    r.Mode,
		HostID:  r.HostID,
		Phase:   r.Phase,
		GameID:  r.GameID,
		Players: players,
	}
}

// StatePayload returns the authoritative snapshot (public, acquires lock).
func (r *Room) StatePayload() protocol.RoomStatePayload {
	r.Mu.Lock()
	defer r.Mu.Unlock()
	return r.statePayloadUnsafe()
}

// SeatedPlayers returns the seated player IDs in seat order, regardless of
// connection state. Used to build game instances.
func (r *Room) SeatedPlayers() []uuid.UUID {
	r.Mu.Lock()
	defer r.Mu.Unlock()

	ids := make([]uuid.UUID, 0, len(r.Seats))
	for id := range r.Seats {
		ids = append(ids, id)
	}
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && r.Seats[ids[j]] < r.Seats[ids[j-1]]; j-- {
			ids[j], ids[j-1] = ids[j-1], ids[j]
		}
	}
	return ids
}

// Chat relays a chat line from a seated player to the whole room.
func (r *Room) Chat(playerID uuid.UUID, msg string) {
	r.Mu.Lock()
	defer r.Mu.Unlock()

	conn, ok := r.Conns[playerID]
	if !ok || msg == "" {
		return
	}
	r.broadcastUnsafe(protocol.TypeChat, protocol.ChatPayload{
		PlayerID: playerID,
		Username: conn.Username,
		Message:  msg,
		Sent:     time.Now().Unix(),
	})
}
