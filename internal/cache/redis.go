// internal/cache/redis.go
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jklund/partyline/internal/models"
	"github.com/redis/go-redis/v9"
)

// Rdb is the global Redis client. Connect it once at application startup.
var Rdb *redis.Client

// DefaultQueueName is the Redis list (queue) of finished-match results
// drained by cmd/recorder.
var DefaultQueueName = "partyline_matches"

// seatTTL mirrors the reconnect token lifetime: once it lapses, the seat is
// forfeit and a reconnect attempt is rejected.
const seatTTL = 5 * time.Minute

// ConnectRedis initializes the global Redis client with environment variables:
//   - REDIS_ADDR (default "localhost:6379")
//   - REDIS_DB (optional, default 0)
func ConnectRedis() error {
	addr := getEnv("REDIS_ADDR", "localhost:6379")
	dbIdx := getEnvInt("REDIS_DB", 0)

	Rdb = redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   dbIdx,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := Rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}
	return nil
}

func seatKey(roomID, playerID uuid.UUID) string {
	return fmt.Sprintf("partyline:seat:%s:%s", roomID, playerID)
}

// ReserveSeat records a held seat for a disconnected player so the seat
// survives the socket drop. The reservation expires with the reconnect token.
func ReserveSeat(ctx context.Context, roomID, playerID uuid.UUID, seat int) error {
	if Rdb == nil {
		return nil // cache disabled; in-memory seat state still applies
	}
	return Rdb.Set(ctx, seatKey(roomID, playerID), seat, seatTTL).Err()
}

// TakeSeat consumes a seat reservation, returning the seat index or an error
// if no live reservation exists.
func TakeSeat(ctx context.Context, roomID, playerID uuid.UUID) (int, error) {
	if Rdb == nil {
		return 0, fmt.Errorf("seat cache disabled")
	}
	val, err := Rdb.GetDel(ctx, seatKey(roomID, playerID)).Result()
	if err != nil {
		return 0, fmt.Errorf("no held seat for player %s in room %s: %w", playerID, roomID, err)
	}
	seat, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("corrupt seat reservation: %w", err)
	}
	return seat, nil
}

// ReleaseSeat drops a reservation, e.g. when the player leaves for good.
func ReleaseSeat(ctx context.Context, roomID, playerID uuid.UUID) {
	if Rdb == nil {
		return
	}
	Rdb.Del(ctx, seatKey(roomID, playerID))
}

// PublishMatchResult serializes the result to JSON and pushes it onto the
// result queue. This does not block game logic beyond a quick network send.
func PublishMatchResult(ctx context.Context, result models.MatchResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal MatchResult: %w", err)
	}

	queueName := getEnv("RECORDER_QUEUE_NAME", DefaultQueueName)
	if err := Rdb.RPush(ctx, queueName, data).Err(); err != nil {
		return fmt.Errorf("failed to RPush to Redis list '%s': %w", queueName, err)
	}
	return nil
}

// getEnv is a helper to read an environment variable or return a default value.
func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

// getEnvInt is a helper to parse an environment variable as integer, else a default value.
func getEnvInt(key string, def int) int {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}
