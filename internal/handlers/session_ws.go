// internal/handlers/session_ws.go
package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/jklund/partyline/internal/auth"
	"github.com/jklund/partyline/internal/cache"
	"github.com/jklund/partyline/internal/database"
	"github.com/jklund/partyline/internal/game"
	"github.com/jklund/partyline/internal/protocol"
	"github.com/jklund/partyline/internal/room"
)

// Subprotocol spoken on the session endpoint.
const sessionSubprotocol = "partyline"

// heartbeatInterval is how often the write pump pings the peer. Clients
// treat a silent socket as dead after 60s, so this keeps healthy links warm.
const heartbeatInterval = 30 * time.Second

// session tracks one socket's identity and current room membership.
type session struct {
	playerID uuid.UUID
	username string
	conn     *room.Conn
	room     *room.Room
}

// SessionWSHandler runs the whole session protocol on a single websocket
// endpoint: handshake, optional seat resume, room lifecycle messages, and
// game action forwarding.
func SessionWSHandler(logger *logrus.Logger, s *SessionServer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		remoteAddr := r.RemoteAddr

		// Authenticate before the upgrade so a fresh guest cookie can still
		// be set on the handshake response.
		playerID, err := EnsureGuestUser(w, r)
		if err != nil {
			logger.Warnf("session auth failed for %s: %v", remoteAddr, err)
			http.Error(w, "authentication failed", http.StatusForbidden)
			return
		}

		username := "Guest"
		if u, err := database.GetUserByID(r.Context(), playerID); err == nil {
			username = u.Username
		}

		c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			Subprotocols:   []string{sessionSubprotocol},
			OriginPatterns: []string{"*"}, // Adjust in production
		})
		if err != nil {
			logger.Warnf("websocket accept error from %s: %v", remoteAddr, err)
			return
		}
		defer c.Close(websocket.StatusInternalError, "handler finished")

		if c.Subprotocol() != sessionSubprotocol {
			c.Close(BadSubprotocolError, "client must speak the partyline subprotocol")
			return
		}

		ctx, cancel := context.WithCancel(r.Context())
		sess := &session{
			playerID: playerID,
			username: username,
			conn: &room.Conn{
				PlayerID: playerID,
				Username: username,
				Cancel:   cancel,
				OutChan:  make(chan []byte, 32),
			},
		}

		go sessionWritePump(ctx, c, sess.conn, logger)

		logger.Infof("player %v (%s) connected", playerID, remoteAddr)

		// The connected handshake is always the first message on the wire;
		// resume traffic follows it.
		rm, resumeErr := s.resolveResume(ctx, sess, r.URL.Query().Get("resume"), logger)
		sess.conn.WriteMsg(protocol.TypeConnected, protocol.ConnectedPayload{
			PlayerID: playerID,
			Resumed:  rm != nil,
		})
		if resumeErr != "" {
			sess.conn.WriteError(resumeErr)
		}
		if rm != nil {
			s.completeResume(sess, rm, logger)
		}

		sessionReadPump(ctx, c, s, sess, logger)

		// ---- Cleanup after the read pump exits ----
		logger.Infof("player %v read pump exited, cleaning up", playerID)
		s.dropSession(sess, logger)
	}
}

// resolveResume validates a reconnect token and consumes the Redis seat
// reservation created when the seat's previous socket dropped. It performs
// no writes; the caller sequences the handshake messages.
func (s *SessionServer) resolveResume(ctx context.Context, sess *session, token string, logger *logrus.Logger) (*room.Room, string) {
	if token == "" {
		return nil, ""
	}

	claims, err := auth.VerifyReconnectToken(token)
	if err != nil {
		logger.Warnf("player %v: invalid reconnect token: %v", sess.playerID, err)
		return nil, "reconnect token invalid or expired"
	}
	if claims.PlayerID != sess.playerID {
		logger.Warnf("player %v presented reconnect token for player %v", sess.playerID, claims.PlayerID)
		return nil, "reconnect token does not match this session"
	}

	if _, err := cache.TakeSeat(ctx, claims.RoomID, claims.PlayerID); err != nil {
		logger.Warnf("player %v: seat reservation gone for room %v: %v", sess.playerID, claims.RoomID, err)
		return nil, "seat reservation expired"
	}

	rm, ok := s.Rooms.Get(claims.RoomID)
	if !ok {
		return nil, "room no longer exists"
	}
	return rm, ""
}

// completeResume rejoins the held seat and catches the client up on room and
// game state.
func (s *SessionServer) completeResume(sess *session, rm *room.Room, logger *logrus.Logger) {
	seat, resumed := rm.Join(sess.conn)
	sess.room = rm
	s.sendJoinedRoom(sess, rm, seat, resumed)

	rm.Mu.Lock()
	gameID := rm.GameID
	rm.Mu.Unlock()
	if inst, ok := s.Games.Get(gameID); ok {
		inst.HandleReconnect(sess.playerID)
		if pg, ok := inst.(*game.PuzzleGame); ok {
			rm.SendTo(sess.playerID, protocol.TypePuzzleBoardSync, pg.Snapshot())
		}
		if tg, ok := inst.(*game.TDGame); ok {
			if gold, income, lives, ok := tg.Snapshot(sess.playerID); ok {
				rm.SendTo(sess.playerID, protocol.TypeTDIncome, protocol.IncomePayload{
					PlayerID: sess.playerID, Gold: gold, Income: income,
				})
				rm.SendTo(sess.playerID, protocol.TypeTDLivesUpdate, protocol.LivesPayload{
					PlayerID: sess.playerID, Lives: lives,
				})
			}
		}
	}

	logger.Infof("player %v resumed seat %d in room %v", sess.playerID, seat, rm.ID)
}

// dropSession handles a socket going away. Mid-game seats are held for the
// reconnect window; lobby seats are forfeited immediately.
func (s *SessionServer) dropSession(sess *session, logger *logrus.Logger) {
	rm := sess.room
	if rm == nil {
		if sess.conn.Cancel != nil {
			sess.conn.Cancel()
		}
		return
	}

	rm.Mu.Lock()
	playing := rm.Phase == room.PhasePlaying
	seat := rm.Seats[sess.playerID]
	gameID := rm.GameID
	rm.Mu.Unlock()

	if playing {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := cache.ReserveSeat(ctx, rm.ID, sess.playerID, seat); err != nil {
			logger.Warnf("player %v: failed to reserve seat in room %v: %v", sess.playerID, rm.ID, err)
		}
		cancel()
		if inst, ok := s.Games.Get(gameID); ok {
			inst.HandleDisconnect(sess.playerID)
		}
	}

	rm.Leave(sess.conn, playing)
}

// sessionReadPump reads and dispatches messages until the socket closes.
func sessionReadPump(ctx context.Context, c *websocket.Conn, s *SessionServer, sess *session, logger *logrus.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		typ, msg, err := c.Read(ctx)
		if err != nil {
			closeStatus := websocket.CloseStatus(err)
			if closeStatus == websocket.StatusNormalClosure || closeStatus == websocket.StatusGoingAway {
				logger.Infof("player %v: websocket closed normally", sess.playerID)
			} else if !strings.Contains(err.Error(), "context canceled") {
				logger.Warnf("player %v: read error: %v (close status %d)", sess.playerID, err, closeStatus)
			}
			return
		}
		if typ != websocket.MessageText {
			logger.Warnf("player %v: ignoring non-text message type %d", sess.playerID, typ)
			continue
		}

		var env protocol.Envelope
		if err := json.Unmarshal(msg, &env); err != nil {
			logger.Warnf("player %v: invalid json: %v", sess.playerID, err)
			sess.conn.WriteError("invalid JSON format")
			continue
		}

		handleSessionMessage(ctx, s, sess, env, logger)
	}
}

// handleSessionMessage interprets one inbound envelope. Room lifecycle types
// arrive mode-prefixed; connection-level types do not.
func handleSessionMessage(ctx context.Context, s *SessionServer, sess *session, env protocol.Envelope, logger *logrus.Logger) {
	mode, action := protocol.StripPrefix(env.Type)

	switch action {
	case protocol.TypePing:
		// Exactly one pong per ping.
		sess.conn.WriteMsg(protocol.TypePong, nil)
		return
	case protocol.TypePong:
		return
	}

	switch action {
	case protocol.TypeCreateRoom:
		if !mode.Valid() {
			sess.conn.WriteError("create_room requires a game mode prefix")
			return
		}
		if sess.room != nil {
			sess.conn.WriteError("already in a room")
			return
		}
		rm := s.NewRoom(mode, sess.playerID)
		seat, _ := rm.Join(sess.conn)
		sess.room = rm
		s.sendJoinedRoom(sess, rm, seat, false)
		logger.Infof("player %v created %s room %v", sess.playerID, mode, rm.ID)

	case protocol.TypeJoinRoom:
		if sess.room != nil {
			sess.conn.WriteError("already in a room")
			return
		}
		var req struct {
			RoomID uuid.UUID `json:"room_id"`
		}
		if err := json.Unmarshal(env.Payload, &req); err != nil {
			sess.conn.WriteError("join_room requires a room_id")
			return
		}
		rm, ok := s.Rooms.Get(req.RoomID)
		if !ok {
			sess.conn.WriteError("room does not exist")
			return
		}
		rm.Mu.Lock()
		joinable := rm.Phase == room.PhaseLobby
		rm.Mu.Unlock()
		if !joinable {
			sess.conn.WriteError("room is already playing")
			return
		}
		seat, resumed := rm.Join(sess.conn)
		sess.room = rm
		s.sendJoinedRoom(sess, rm, seat, resumed)

	case protocol.TypeLeaveRoom:
		rm := sess.room
		if rm == nil {
			sess.conn.WriteError("not in a room")
			return
		}
		sess.room = nil
		cache.ReleaseSeat(ctx, rm.ID, sess.playerID)
		rm.Leave(sess.conn, false)

	case protocol.TypeReady:
		if sess.room == nil {
			sess.conn.WriteError("not in a room")
			return
		}
		sess.room.MarkReady(sess.playerID)

	case protocol.TypeUnready:
		if sess.room == nil {
			sess.conn.WriteError("not in a room")
			return
		}
		sess.room.MarkUnready(sess.playerID)

	case protocol.TypeChat:
		if sess.room == nil {
			sess.conn.WriteError("not in a room")
			return
		}
		var req struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(env.Payload, &req); err != nil || req.Message == "" {
			sess.conn.WriteError("chat requires a message")
			return
		}
		sess.room.Chat(sess.playerID, req.Message)

	case "start_game":
		rm := sess.room
		if rm == nil {
			sess.conn.WriteError("not in a room")
			return
		}
		rm.Mu.Lock()
		isHost := rm.HostID == sess.playerID
		rm.Mu.Unlock()
		if !isHost {
			sess.conn.WriteError("only the host can force start")
			return
		}
		if !rm.AllReady() {
			sess.conn.WriteError("not all players are ready")
			return
		}
		rm.CancelCountdown()
		s.StartGame(rm)

	default:
		s.forwardGameAction(sess, env)
	}
}

// forwardGameAction routes a mode-prefixed action to the room's running game
// instance.
func (s *SessionServer) forwardGameAction(sess *session, env protocol.Envelope) {
	rm := sess.room
	if rm == nil {
		sess.conn.WriteError(fmt.Sprintf("unknown action type: %s", env.Type))
		return
	}
	rm.Mu.Lock()
	gameID := rm.GameID
	rm.Mu.Unlock()

	inst, ok := s.Games.Get(gameID)
	if !ok {
		sess.conn.WriteError("no game in progress")
		return
	}
	inst.HandleAction(sess.playerID, env.Type, env.Payload)
}

// sendJoinedRoom confirms the seat and hands over a fresh reconnect token.
func (s *SessionServer) sendJoinedRoom(sess *session, rm *room.Room, seat int, resumed bool) {
	token, err := auth.CreateReconnectToken(auth.ReconnectClaims{
		PlayerID: sess.playerID,
		RoomID:   rm.ID,
		Seat:     seat,
	})
	if err != nil {
		s.Logf("player %v: failed to mint reconnect token: %v", sess.playerID, err)
	}
	sess.conn.WriteMsg(protocol.PrefixType(rm.Mode, protocol.TypeJoinedRoom), protocol.JoinedRoomPayload{
		RoomID:         rm.ID,
		PlayerID:       sess.playerID,
		Seat:           seat,
		ReconnectToken: token,
		Resumed:        resumed,
	})
}

// sessionWritePump drains the outbound channel onto the socket and keeps the
// link warm with periodic pings.
func sessionWritePump(ctx context.Context, c *websocket.Conn, conn *room.Conn, logger *logrus.Logger) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	defer c.Close(websocket.StatusGoingAway, "write pump stopping")

	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-conn.OutChan:
			if !ok {
				return
			}
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := c.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				logger.Warnf("player %v: websocket write failed: %v", conn.PlayerID, err)
				return
			}
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
			err := c.Ping(pingCtx)
			cancel()
			if err != nil {
				logger.Warnf("player %v: ping failed, assuming disconnect: %v", conn.PlayerID, err)
				return
			}
		}
	}
}
