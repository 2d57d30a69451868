// Package recorder is the asynchronous match-history service: it pops
// finished match results from a Redis queue, persists them to PostgreSQL,
// and applies ladder rating updates.
package recorder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"

	"github.com/jklund/partyline/internal/cache"
	"github.com/jklund/partyline/internal/database"
	"github.com/jklund/partyline/internal/models"
	"github.com/jklund/partyline/internal/rating"
)

// Service encapsulates the Redis + DB logic for recording match results.
type Service struct {
	redisClient *redis.Client
	queueName   string
	batchSize   int
	flushDelay  time.Duration

	batchMu sync.Mutex
	batch   []models.MatchResult

	ctx      context.Context
	cancelFn context.CancelFunc
}

// NewService constructs a Service from environment variables or defaults.
func NewService() *Service {
	batchSize := getEnvInt("RECORDER_BATCH_SIZE", 20)
	flushMs := getEnvInt("RECORDER_FLUSH_MS", 500)

	redisAddr := getEnv("REDIS_ADDR", "localhost:6379")
	rdb := redis.NewClient(&redis.Options{
		Addr: redisAddr,
	})

	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		redisClient: rdb,
		queueName:   getEnv("RECORDER_QUEUE_NAME", cache.DefaultQueueName),
		batchSize:   batchSize,
		flushDelay:  time.Duration(flushMs) * time.Millisecond,
		batch:       make([]models.MatchResult, 0, batchSize),
		ctx:         ctx,
		cancelFn:    cancel,
	}
}

// Run connects to the database and processes the queue until Stop is called.
func (s *Service) Run() {
	database.ConnectDB()

	go s.readRedisLoop()

	log.Println("partyline-recorder service started.")
	<-s.ctx.Done()
	s.flushBatchToDB()
	log.Println("partyline-recorder shutting down.")
}

// Stop gracefully stops the service.
func (s *Service) Stop() {
	s.cancelFn()
}

// readRedisLoop continuously uses BLPop to retrieve match results from the
// Redis queue.
func (s *Service) readRedisLoop() {
	ticker := time.NewTicker(s.flushDelay)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return

		case <-ticker.C:
			s.flushBatchToDB()

		default:
			// BLPop with a short timeout so context cancellation is handled.
			res, err := s.redisClient.BLPop(s.ctx, 3*time.Second, s.queueName).Result()
			if err != nil && !errors.Is(err, redis.Nil) {
				if s.ctx.Err() != nil {
					return
				}
				log.Printf("[ERROR] BLPop: %v\n", err)
				continue
			}
			if len(res) < 2 {
				continue
			}

			var result models.MatchResult
			if err := json.Unmarshal([]byte(res[1]), &result); err != nil {
				log.Printf("invalid match result: %v\n", err)
				continue
			}
			s.appendToBatch(result)
		}
	}
}

func (s *Service) appendToBatch(result models.MatchResult) {
	s.batchMu.Lock()
	s.batch = append(s.batch, result)
	full := len(s.batch) >= s.batchSize
	s.batchMu.Unlock()
	if full {
		s.flushBatchToDB()
	}
}

// flushBatchToDB persists the current batch in a single transaction, then
// applies rating updates per match.
func (s *Service) flushBatchToDB() {
	s.batchMu.Lock()
	if len(s.batch) == 0 {
		s.batchMu.Unlock()
		return
	}
	batchCopy := make([]models.MatchResult, len(s.batch))
	copy(batchCopy, s.batch)
	s.batch = s.batch[:0]
	s.batchMu.Unlock()

	ctx := context.Background()
	err := pgx.BeginTxFunc(ctx, database.DB, pgx.TxOptions{}, func(tx pgx.Tx) error {
		for _, m := range batchCopy {
			if err := database.InsertMatchTx(ctx, tx, m); err != nil {
				return fmt.Errorf("insert match %s: %w", m.MatchID, err)
			}
		}
		return nil
	})
	if err != nil {
		log.Printf("[ERROR] flushBatchToDB: %v\n", err)
		return
	}
	log.Printf("Flushed %d match results to DB.\n", len(batchCopy))

	for _, m := range batchCopy {
		if err := s.applyRatings(ctx, m); err != nil {
			log.Printf("[ERROR] rating update for match %s: %v\n", m.MatchID, err)
		}
	}
}

// applyRatings loads the match's participants, rates the outcome, and stores
// the new ladder ratings.
func (s *Service) applyRatings(ctx context.Context, m models.MatchResult) error {
	ids := ParticipantIDs(m)
	if len(ids) < 2 {
		return nil
	}

	users := make([]models.User, 0, len(ids))
	winnerIdx := -1
	for _, id := range ids {
		u, err := database.GetUserByID(ctx, id)
		if err != nil {
			return fmt.Errorf("load user %s: %w", id, err)
		}
		if id == m.WinnerID {
			winnerIdx = len(users)
		}
		users = append(users, *u)
	}

	updated := rating.UpdateGroup(users, winnerIdx)
	for i, u := range updated {
		if u.Rating == users[i].Rating {
			continue
		}
		if err := database.SaveUserRating(ctx, u.ID, u.Rating); err != nil {
			return fmt.Errorf("save rating for %s: %w", u.ID, err)
		}
	}
	return nil
}

// ParticipantIDs returns a match's players in a stable order.
func ParticipantIDs(m models.MatchResult) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(m.Scores))
	for id := range m.Scores {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids
}

func getEnv(key, defVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defVal
}

func getEnvInt(key string, defVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defVal
	}
	return i
}
