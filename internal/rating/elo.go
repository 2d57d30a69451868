// internal/rating/elo.go
package rating

import (
	"math"

	"github.com/jklund/partyline/internal/models"
)

const (
	// DefaultRating is the baseline rating for a new account.
	DefaultRating = 1200
	// KFactor controls how far a single match can move a rating.
	KFactor = 32.0
)

// Expected returns the expected score in [0..1] for a player rated ra
// against a player rated rb.
func Expected(ra, rb float64) float64 {
	return 1.0 / (1.0 + math.Pow(10, (rb-ra)/400.0))
}

// Update applies one match outcome to a rating. score is 1 for a win,
// 0.5 for a draw, 0 for a loss.
func Update(rating int, oppRating int, score float64) int {
	exp := Expected(float64(rating), float64(oppRating))
	return int(math.Round(float64(rating) + KFactor*(score-exp)))
}

// UpdateGroup rates a finished multiplayer match. Each player is treated as
// having played the average of the others; the winner scores 1, everyone
// else 0. A nil winner (draw or abandoned game) scores everyone 0.5.
// Ephemeral guest accounts pass through unchanged.
func UpdateGroup(users []models.User, winnerIdx int) []models.User {
	if len(users) < 2 {
		return users
	}

	var total float64
	for i := range users {
		total += float64(users[i].Rating)
	}

	updated := make([]models.User, len(users))
	for i, u := range users {
		if u.IsEphemeral {
			updated[i] = u
			continue
		}
		oppAvg := (total - float64(u.Rating)) / float64(len(users)-1)
		score := 0.5
		if winnerIdx >= 0 {
			if i == winnerIdx {
				score = 1
			} else {
				score = 0
			}
		}
		u.Rating = Update(u.Rating, int(math.Round(oppAvg)), score)
		updated[i] = u
	}
	return updated
}
