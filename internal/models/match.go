package models

import (
	"time"

	"github.com/google/uuid"
)

// MatchResult is the finished-game record pushed onto the Redis result queue
// by the game server and drained into Postgres by cmd/recorder.
type MatchResult struct {
	MatchID  uuid.UUID         `json:"match_id"`
	RoomID   uuid.UUID         `json:"room_id"`
	Mode     string            `json:"mode"`
	WinnerID uuid.UUID         `json:"winner_id"`
	Scores   map[uuid.UUID]int `json:"scores"`
	Ended    time.Time         `json:"ended"`
}
