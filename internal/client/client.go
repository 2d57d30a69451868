// Package client implements the session-protocol socket client: one live
// connection with reconnect-and-backoff, a liveness watchdog, an outbound
// queue for actions issued mid-connect, and a dispatcher that folds server
// events into a local state mirror.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/jklund/partyline/internal/protocol"
)

// State is the coarse connection/session phase visible to the UI.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateLobby        State = "lobby"
	StateCountdown    State = "countdown"
	StatePlaying      State = "playing"
	StateEnded        State = "ended"
)

const (
	baseReconnectDelay = time.Second
	maxReconnectDelay  = 15 * time.Second

	// DefaultLivenessTimeout comfortably exceeds the server's heartbeat
	// interval so latency spikes don't read as dead sockets.
	DefaultLivenessTimeout = 60 * time.Second

	DefaultMaxReconnectAttempts = 5

	dialTimeout = 10 * time.Second
)

var (
	ErrClosed           = errors.New("client: closed")
	ErrNotConnected     = errors.New("client: not connected")
	ErrAlreadyConnected = errors.New("client: already connected")
	ErrRetriesExhausted = errors.New("client: reconnect attempts exhausted")
	ErrNotInRoom        = errors.New("client: not in a room")
)

// ReconnectDelay returns the backoff before the Nth reconnect attempt:
// 1s, 2s, 4s, 8s, then capped at 15s.
func ReconnectDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 5 {
		return maxReconnectDelay
	}
	d := baseReconnectDelay << uint(attempt-1)
	if d > maxReconnectDelay {
		d = maxReconnectDelay
	}
	return d
}

// Config configures a Client. Zero-value fields get defaults from New.
type Config struct {
	// URL is the session websocket endpoint, e.g. "ws://host/session/ws".
	URL string

	MaxReconnectAttempts int
	LivenessTimeout      time.Duration

	Transport Transport
	Clock     Clock
	Logger    *logrus.Logger

	// OnEvent, if set, receives every inbound message after the state
	// mirror has been updated. It runs on the read loop goroutine and must
	// not call back into the Client.
	OnEvent func(typ string, payload json.RawMessage)

	// OnStateChange, if set, observes every phase transition. Same
	// reentrancy restriction as OnEvent.
	OnStateChange func(s State)
}

// Client owns at most one open socket at a time. All mutable state is
// guarded by mu; socket reads run on a dedicated goroutine per connection,
// with an epoch counter shutting out callbacks from replaced connections.
type Client struct {
	cfg Config

	mu     sync.Mutex
	closed bool
	state  State

	conn  Conn
	epoch int

	ctx    context.Context
	cancel context.CancelFunc

	// queue buffers encoded actions issued while connecting, flushed FIFO
	// exactly once right after the socket opens.
	queue [][]byte

	attempts       int
	reconnectTimer Timer
	livenessTimer  Timer

	reconnectToken string
	playerID       uuid.UUID
	mode           protocol.GameMode
	roomState      protocol.RoomStatePayload
	lastErr        string
}

// New builds a Client. Missing Config fields are defaulted to the real
// transport, the runtime clock, and the standard timeouts.
func New(cfg Config) *Client {
	if cfg.MaxReconnectAttempts == 0 {
		cfg.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if cfg.LivenessTimeout == 0 {
		cfg.LivenessTimeout = DefaultLivenessTimeout
	}
	if cfg.Transport == nil {
		cfg.Transport = NewWebsocketTransport()
	}
	if cfg.Clock == nil {
		cfg.Clock = NewRealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	return &Client{
		cfg:   cfg,
		state: StateDisconnected,
	}
}

// Connect dials the session endpoint. The initial dial does not retry;
// reconnects only happen once the server has issued a reconnect token.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.state != StateDisconnected {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.lastErr = ""
	c.setStateLocked(StateConnecting)
	c.mu.Unlock()

	return c.dial(true)
}

// dial opens a socket, flushes the outbound queue, and starts the read
// loop. On redials a failure schedules the next backoff attempt.
func (c *Client) dial(initial bool) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	target := c.cfg.URL
	if c.reconnectToken != "" {
		target += "?resume=" + url.QueryEscape(c.reconnectToken)
	}
	ctx := c.ctx
	c.mu.Unlock()

	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	conn, err := c.cfg.Transport.Dial(dialCtx, target)
	cancel()
	if err != nil {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.closed {
			return ErrClosed
		}
		if initial || c.reconnectToken == "" {
			c.lastErr = err.Error()
			c.setStateLocked(StateDisconnected)
			return err
		}
		c.cfg.Logger.Warnf("client: redial failed: %v", err)
		c.scheduleReconnectLocked()
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return ErrClosed
	}
	c.conn = conn
	c.epoch++
	epoch := c.epoch
	c.attempts = 0

	// Flush actions queued while connecting, in FIFO order, before the
	// read loop can deliver any inbound message.
	for _, data := range c.queue {
		if err := conn.Write(c.ctx, data); err != nil {
			c.cfg.Logger.Warnf("client: flush write failed: %v", err)
			break
		}
	}
	c.queue = nil

	c.setStateLocked(StateConnected)
	c.armLivenessLocked()
	loopCtx := c.ctx
	c.mu.Unlock()

	go c.readLoop(loopCtx, conn, epoch)
	return nil
}

// readLoop delivers inbound messages until the connection drops.
func (c *Client) readLoop(ctx context.Context, conn Conn, epoch int) {
	for {
		data, err := conn.Read(ctx)
		if err != nil {
			c.handleDrop(epoch, err)
			return
		}
		c.dispatch(data)
	}
}

// handleDrop runs the reconnect-or-surface-terminal-error decision for a
// dropped socket. Stale epochs (a replaced connection's read loop) are
// ignored so only one socket is ever live.
func (c *Client) handleDrop(epoch int, cause error) {
	c.mu.Lock()
	if c.closed || epoch != c.epoch {
		c.mu.Unlock()
		return
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.stopLivenessLocked()

	if c.reconnectToken == "" {
		// Never joined a room, nothing to resume.
		c.lastErr = cause.Error()
		c.setStateLocked(StateDisconnected)
		c.mu.Unlock()
		return
	}

	c.cfg.Logger.Warnf("client: connection dropped: %v", cause)
	c.scheduleReconnectLocked()
	c.mu.Unlock()
}

// scheduleReconnectLocked arms the next backoff attempt, or goes terminal
// once the ceiling is exceeded. Caller holds mu.
func (c *Client) scheduleReconnectLocked() {
	c.attempts++
	if c.attempts > c.cfg.MaxReconnectAttempts {
		c.lastErr = ErrRetriesExhausted.Error()
		c.setStateLocked(StateDisconnected)
		return
	}

	c.setStateLocked(StateConnecting)
	delay := ReconnectDelay(c.attempts)
	c.cfg.Logger.Infof("client: reconnect attempt %d/%d in %v", c.attempts, c.cfg.MaxReconnectAttempts, delay)
	c.reconnectTimer = c.cfg.Clock.AfterFunc(delay, func() {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return
		}
		c.reconnectTimer = nil
		c.mu.Unlock()
		c.dial(false)
	})
}

// armLivenessLocked resets the heartbeat watchdog. Caller holds mu.
func (c *Client) armLivenessLocked() {
	if c.livenessTimer != nil {
		c.livenessTimer.Stop()
	}
	epoch := c.epoch
	c.livenessTimer = c.cfg.Clock.AfterFunc(c.cfg.LivenessTimeout, func() {
		c.livenessExpired(epoch)
	})
}

func (c *Client) stopLivenessLocked() {
	if c.livenessTimer != nil {
		c.livenessTimer.Stop()
		c.livenessTimer = nil
	}
}

// livenessExpired force-closes a silent socket; the read loop then takes the
// normal drop path.
func (c *Client) livenessExpired(epoch int) {
	c.mu.Lock()
	if c.closed || epoch != c.epoch || c.conn == nil {
		c.mu.Unlock()
		return
	}
	c.cfg.Logger.Warnf("client: no heartbeat within %v, closing socket", c.cfg.LivenessTimeout)
	conn := c.conn
	c.mu.Unlock()
	conn.Close()
}

// dispatch folds one inbound message into the state mirror, then forwards it
// to the OnEvent hook.
func (c *Client) dispatch(data []byte) {
	var env protocol.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		c.cfg.Logger.Warnf("client: invalid message: %v", err)
		return
	}
	_, action := protocol.StripPrefix(env.Type)

	switch action {
	case protocol.TypePing:
		c.handlePing()
	case protocol.TypeConnected:
		var p protocol.ConnectedPayload
		if err := json.Unmarshal(env.Payload, &p); err == nil {
			c.mu.Lock()
			c.playerID = p.PlayerID
			c.mu.Unlock()
		}
	case protocol.TypeJoinedRoom:
		var p protocol.JoinedRoomPayload
		if err := json.Unmarshal(env.Payload, &p); err == nil {
			c.mu.Lock()
			c.reconnectToken = p.ReconnectToken
			c.setStateLocked(StateLobby)
			c.mu.Unlock()
		}
	case protocol.TypeRoomState:
		var p protocol.RoomStatePayload
		if err := json.Unmarshal(env.Payload, &p); err == nil {
			c.applyRoomState(p)
		}
	case protocol.TypeCountdown:
		c.setState(StateCountdown)
	case protocol.TypeCountdownCancel:
		c.setState(StateLobby)
	case protocol.TypeGameStarted:
		c.setState(StatePlaying)
	case protocol.TypeGameOver:
		c.setState(StateEnded)
	case protocol.TypeError:
		var p protocol.ErrorPayload
		if err := json.Unmarshal(env.Payload, &p); err == nil {
			c.mu.Lock()
			c.lastErr = p.Message
			c.mu.Unlock()
		}
	}

	if c.cfg.OnEvent != nil {
		c.cfg.OnEvent(env.Type, env.Payload)
	}
}

// handlePing resets the liveness deadline and answers with exactly one pong.
func (c *Client) handlePing() {
	pong, err := protocol.Encode(protocol.TypePong, nil)
	if err != nil {
		return
	}
	c.mu.Lock()
	c.armLivenessLocked()
	conn := c.conn
	ctx := c.ctx
	c.mu.Unlock()
	if conn != nil {
		if err := conn.Write(ctx, pong); err != nil {
			c.cfg.Logger.Warnf("client: pong write failed: %v", err)
		}
	}
}

// applyRoomState replaces the local mirror wholesale. The server is the sole
// source of truth; nothing is merged.
func (c *Client) applyRoomState(p protocol.RoomStatePayload) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.roomState = p
	c.mode = p.Mode
	if c.state == StateEnded || c.state == StateDisconnected {
		return
	}
	switch p.Phase {
	case "lobby":
		c.setStateLocked(StateLobby)
	case "countdown":
		c.setStateLocked(StateCountdown)
	case "playing":
		c.setStateLocked(StatePlaying)
	}
}

// Send encodes and transmits an action. While connecting, the action is
// queued in arrival order instead of being dropped.
func (c *Client) Send(typ string, payload interface{}) error {
	data, err := protocol.Encode(typ, payload)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.state == StateConnecting {
		c.queue = append(c.queue, data)
		return nil
	}
	if c.conn == nil || c.state == StateDisconnected {
		return ErrNotConnected
	}
	return c.conn.Write(c.ctx, data)
}

// CreateRoom asks the server for a new room in the given mode.
func (c *Client) CreateRoom(mode protocol.GameMode) error {
	c.mu.Lock()
	c.mode = mode
	c.mu.Unlock()
	return c.Send(protocol.PrefixType(mode, protocol.TypeCreateRoom), nil)
}

// JoinRoom joins an existing room by ID.
func (c *Client) JoinRoom(mode protocol.GameMode, roomID uuid.UUID) error {
	c.mu.Lock()
	c.mode = mode
	c.mu.Unlock()
	return c.Send(protocol.PrefixType(mode, protocol.TypeJoinRoom), map[string]interface{}{
		"room_id": roomID,
	})
}

func (c *Client) roomType(typ string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.mode.Valid() {
		return "", ErrNotInRoom
	}
	return protocol.PrefixType(c.mode, typ), nil
}

func (c *Client) sendRoom(typ string, payload interface{}) error {
	wireType, err := c.roomType(typ)
	if err != nil {
		return err
	}
	return c.Send(wireType, payload)
}

func (c *Client) Ready() error   { return c.sendRoom(protocol.TypeReady, nil) }
func (c *Client) Unready() error { return c.sendRoom(protocol.TypeUnready, nil) }

func (c *Client) LeaveRoom() error {
	return c.sendRoom(protocol.TypeLeaveRoom, nil)
}

func (c *Client) Chat(message string) error {
	return c.sendRoom(protocol.TypeChat, map[string]string{"message": message})
}

// StartGame force-starts the game; the server only honors it from the host.
func (c *Client) StartGame() error {
	return c.sendRoom("start_game", nil)
}

// FlipCard plays a puzzle card flip.
func (c *Client) FlipCard(cardIndex int) error {
	return c.Send(protocol.TypePuzzleFlipCard, protocol.FlipCardPayload{CardIndex: cardIndex})
}

// PlaceTower, UpgradeTower, SellTower, and SendEnemies drive the tower
// defense economy.
func (c *Client) PlaceTower(kind string, x, y int) error {
	return c.Send(protocol.TypeTDPlaceTower, protocol.TowerPayload{Kind: kind, X: x, Y: y})
}

func (c *Client) UpgradeTower(towerID uuid.UUID) error {
	return c.Send(protocol.TypeTDUpgradeTower, protocol.TowerPayload{TowerID: towerID})
}

func (c *Client) SellTower(towerID uuid.UUID) error {
	return c.Send(protocol.TypeTDSellTower, protocol.TowerPayload{TowerID: towerID})
}

func (c *Client) SendEnemies(targetID uuid.UUID, kind string, count int) error {
	return c.Send(protocol.TypeTDSendEnemies, protocol.SendEnemiesPayload{
		TargetID: targetID, Kind: kind, Count: count,
	})
}

func (c *Client) ReportLeak(leaked int) error {
	return c.Send(protocol.TypeTDEnemyLeaked, protocol.LivesPayload{Leaked: leaked})
}

// Close tears the client down: all pending timers are stopped and the socket
// is force-closed. Safe to call more than once.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	c.stopLivenessLocked()
	conn := c.conn
	c.conn = nil
	cancel := c.cancel
	c.setStateLocked(StateDisconnected)
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	if cancel != nil {
		cancel()
	}
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	c.setStateLocked(s)
	c.mu.Unlock()
}

func (c *Client) setStateLocked(s State) {
	if c.state == s {
		return
	}
	c.state = s
	if c.cfg.OnStateChange != nil {
		c.cfg.OnStateChange(s)
	}
}

// State returns the current connection/session phase.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Room returns the latest authoritative room snapshot.
func (c *Client) Room() protocol.RoomStatePayload {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roomState
}

// PlayerID returns the identity assigned in the connected handshake.
func (c *Client) PlayerID() uuid.UUID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.playerID
}

// Err returns the last surfaced error string, terminal or application-level.
func (c *Client) Err() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// ReconnectToken returns the resume credential issued on join, if any.
func (c *Client) ReconnectToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reconnectToken
}
