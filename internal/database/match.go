package database

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jklund/partyline/internal/models"
)

// InsertMatchTx persists one finished match inside the caller's transaction.
// Scores are stored as a JSONB column keyed by player id.
func InsertMatchTx(ctx context.Context, tx pgx.Tx, m models.MatchResult) error {
	scores, err := json.Marshal(m.Scores)
	if err != nil {
		return fmt.Errorf("marshal scores: %w", err)
	}

	q := `
	INSERT INTO matches (id, room_id, mode, winner_id, scores, ended_at)
	VALUES ($1, $2, $3, $4, $5, $6)
	ON CONFLICT (id) DO NOTHING
	`
	_, err = tx.Exec(ctx, q, m.MatchID, m.RoomID, m.Mode, m.WinnerID, scores, m.Ended)
	return err
}

// InsertMatch persists one finished match in its own transaction.
func InsertMatch(ctx context.Context, m models.MatchResult) error {
	return pgx.BeginTxFunc(ctx, DB, pgx.TxOptions{}, func(tx pgx.Tx) error {
		return InsertMatchTx(ctx, tx, m)
	})
}
