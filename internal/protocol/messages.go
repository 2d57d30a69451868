// Package protocol defines the JSON-over-WebSocket message bus shared by the
// session server and the session client. Every message carries a "type"
// discriminator; payload fields vary per type.
package protocol

import (
	"encoding/json"

	"github.com/google/uuid"
)

// Message type constants. Room/game lifecycle types are prefixed per game
// mode ("puzzle_"/"td_") by PrefixType; connection-level types are shared.
const (
	// Connection handshake and heartbeat.
	TypeConnected = "connected"
	TypePing      = "ping"
	TypePong      = "pong"
	TypeError     = "error"

	// Room lifecycle (mode-prefixed on the wire).
	TypeCreateRoom   = "create_room"
	TypeJoinRoom     = "join_room"
	TypeLeaveRoom    = "leave_room"
	TypeJoinedRoom   = "joined_room"
	TypeRoomState    = "room_state"
	TypePlayerJoined = "player_joined"
	TypePlayerLeft   = "player_left"
	TypePlayerReady  = "player_ready"
	TypeReady        = "ready"
	TypeUnready      = "unready"
	TypeChat         = "chat"

	// Game lifecycle (mode-prefixed on the wire).
	TypeCountdown       = "countdown"
	TypeCountdownCancel = "countdown_cancel"
	TypeGameStarted     = "game_started"
	TypeTurnChange      = "turn_change"
	TypeGameOver        = "game_over"

	// Puzzle (memory matching) actions and events.
	TypePuzzleFlipCard    = "puzzle_flip_card"
	TypePuzzleCardFlipped = "puzzle_card_flipped"
	TypePuzzleMatch       = "puzzle_match"
	TypePuzzleNoMatch     = "puzzle_no_match"
	TypePuzzleBoardSync   = "puzzle_board_sync"

	// Tower defense actions and events.
	TypeTDPlaceTower    = "td_place_tower"
	TypeTDUpgradeTower  = "td_upgrade_tower"
	TypeTDSellTower     = "td_sell_tower"
	TypeTDSendEnemies   = "td_send_enemies"
	TypeTDTowerPlaced   = "td_tower_placed"
	TypeTDTowerUpgraded = "td_tower_upgraded"
	TypeTDTowerSold     = "td_tower_sold"
	TypeTDEnemiesSent   = "td_enemies_sent"
	TypeTDEnemyLeaked   = "td_enemy_leaked"
	TypeTDLivesUpdate   = "td_lives_update"
	TypeTDIncome        = "td_income"
	TypeTDPlayerOut     = "td_player_out"
)

// GameMode identifies which game variant a room hosts.
type GameMode string

const (
	ModePuzzle GameMode = "puzzle"
	ModeTD     GameMode = "td"
)

// Valid reports whether m is a recognized game mode.
func (m GameMode) Valid() bool {
	return m == ModePuzzle || m == ModeTD
}

// PrefixType applies the room's game-mode prefix to a lifecycle message type,
// e.g. PrefixType(ModePuzzle, TypeRoomState) == "puzzle_room_state".
// Types that already carry a mode prefix (puzzle_*, td_*) and connection-level
// types (connected, ping, pong, error) pass through unchanged.
func PrefixType(mode GameMode, typ string) string {
	switch typ {
	case TypeConnected, TypePing, TypePong, TypeError:
		return typ
	}
	if (len(typ) > 7 && typ[:7] == "puzzle_") || (len(typ) > 3 && typ[:3] == "td_") {
		return typ
	}
	return string(mode) + "_" + typ
}

// StripPrefix removes a leading "puzzle_" or "td_" from a wire type, returning
// the bare lifecycle type and the mode it carried. Types without a mode prefix
// are returned unchanged with an empty mode.
func StripPrefix(typ string) (GameMode, string) {
	if len(typ) > 7 && typ[:7] == "puzzle_" {
		return ModePuzzle, typ[7:]
	}
	if len(typ) > 3 && typ[:3] == "td_" {
		return ModeTD, typ[3:]
	}
	return "", typ
}

// Envelope is the wire format for every message: a type discriminator plus
// raw payload fields kept unparsed until the dispatcher knows the type.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Encode marshals a type + payload pair into wire bytes.
func Encode(typ string, payload interface{}) ([]byte, error) {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		raw = b
	}
	return json.Marshal(Envelope{Type: typ, Payload: raw})
}

// ConnectedPayload is the server's first message after a successful upgrade.
type ConnectedPayload struct {
	PlayerID       uuid.UUID `json:"player_id"`
	ReconnectToken string    `json:"reconnect_token,omitempty"`
	Resumed        bool      `json:"resumed"`
}

// ErrorPayload carries a non-fatal, user-visible application error.
type ErrorPayload struct {
	Message string `json:"message"`
}

// JoinedRoomPayload confirms a seat in a room and carries the reconnect
// token that lets a dropped client resume that seat.
type JoinedRoomPayload struct {
	RoomID         uuid.UUID `json:"room_id"`
	PlayerID       uuid.UUID `json:"player_id"`
	Seat           int       `json:"seat"`
	ReconnectToken string    `json:"reconnect_token"`
	Resumed        bool      `json:"resumed"`
}

// RoomPlayer describes one seat inside a RoomStatePayload.
type RoomPlayer struct {
	ID        uuid.UUID `json:"id"`
	Username  string    `json:"username"`
	Seat      int       `json:"seat"`
	IsHost    bool      `json:"is_host"`
	IsReady   bool      `json:"is_ready"`
	Connected bool      `json:"connected"`
}

// RoomStatePayload is the authoritative, wholesale room snapshot. Clients
// replace their local mirror with it entirely; no merging.
type RoomStatePayload struct {
	RoomID  uuid.UUID    `json:"room_id"`
	Mode    GameMode     `json:"mode"`
	HostID  uuid.UUID    `json:"host_id"`
	Phase   string       `json:"phase"`
	GameID  uuid.UUID    `json:"game_id,omitempty"`
	Players []RoomPlayer `json:"players"`
}

// PlayerEventPayload is shared by player_joined / player_left / player_ready.
type PlayerEventPayload struct {
	PlayerID uuid.UUID `json:"player_id"`
	Username string    `json:"username,omitempty"`
	IsReady  bool      `json:"is_ready,omitempty"`
}

// CountdownPayload announces a pre-game countdown.
type CountdownPayload struct {
	Seconds int `json:"seconds"`
}

// GameStartedPayload announces a started game and its opening turn.
type GameStartedPayload struct {
	GameID        uuid.UUID `json:"game_id"`
	FirstPlayerID uuid.UUID `json:"first_player_id,omitempty"`
	BoardSize     int       `json:"board_size,omitempty"`
}

// TurnChangePayload announces the next player to act (puzzle mode).
type TurnChangePayload struct {
	PlayerID uuid.UUID `json:"player_id"`
	TurnID   int       `json:"turn_id"`
}

// GameOverPayload announces the final result.
type GameOverPayload struct {
	GameID   uuid.UUID      `json:"game_id"`
	WinnerID uuid.UUID      `json:"winner_id,omitempty"`
	Scores   map[string]int `json:"scores,omitempty"`
	Reason   string         `json:"reason,omitempty"`
}

// ChatPayload relays a room chat line.
type ChatPayload struct {
	PlayerID uuid.UUID `json:"player_id"`
	Username string    `json:"username"`
	Message  string    `json:"message"`
	Sent     int64     `json:"ts"`
}

// FlipCardPayload is the puzzle flip action (client to server).
type FlipCardPayload struct {
	CardIndex int `json:"card_index"`
}

// CardFlippedPayload reveals a flipped card to the room.
type CardFlippedPayload struct {
	PlayerID  uuid.UUID `json:"player_id"`
	CardIndex int       `json:"card_index"`
	Symbol    int       `json:"symbol"`
}

// MatchPayload reports the result of a second flip. For puzzle_match the pair
// stays revealed and the flipper scores; for puzzle_no_match both indices are
// hidden again and the turn passes.
type MatchPayload struct {
	PlayerID  uuid.UUID `json:"player_id"`
	IndexA    int       `json:"index_a"`
	IndexB    int       `json:"index_b"`
	Score     int       `json:"score,omitempty"`
	Remaining int       `json:"remaining,omitempty"`
}

// MatchedCard pairs a board index with its revealed symbol.
type MatchedCard struct {
	Index  int `json:"index"`
	Symbol int `json:"symbol"`
}

// BoardSyncPayload catches a resumed client up on puzzle progress: every
// matched card stays revealed, plus scores and whose turn it is.
type BoardSyncPayload struct {
	GameID          uuid.UUID      `json:"game_id"`
	BoardSize       int            `json:"board_size"`
	Matched         []MatchedCard  `json:"matched"`
	Scores          map[string]int `json:"scores"`
	CurrentPlayerID uuid.UUID      `json:"current_player_id"`
}

// TowerPayload covers td_place_tower / td_upgrade_tower / td_sell_tower and
// their broadcast counterparts.
type TowerPayload struct {
	PlayerID uuid.UUID `json:"player_id,omitempty"`
	TowerID  uuid.UUID `json:"tower_id,omitempty"`
	Kind     string    `json:"kind,omitempty"`
	X        int       `json:"x"`
	Y        int       `json:"y"`
	Level    int       `json:"level,omitempty"`
	Gold     int       `json:"gold,omitempty"`
}

// SendEnemiesPayload is the cross-player enemy send: the sender pays gold,
// the target's pending wave grows.
type SendEnemiesPayload struct {
	PlayerID uuid.UUID `json:"player_id,omitempty"`
	TargetID uuid.UUID `json:"target_id"`
	Kind     string    `json:"kind"`
	Count    int       `json:"count"`
}

// IncomePayload reports a player's balance after an income tick.
type IncomePayload struct {
	PlayerID uuid.UUID `json:"player_id"`
	Gold     int       `json:"gold"`
	Income   int       `json:"income"`
}

// LivesPayload reports a player's lives after a leak.
type LivesPayload struct {
	PlayerID uuid.UUID `json:"player_id"`
	Lives    int       `json:"lives"`
	Leaked   int       `json:"leaked,omitempty"`
}
