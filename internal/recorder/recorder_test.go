// internal/recorder/recorder_test.go
package recorder

import (
	"testing"

	"github.com/google/uuid"

	"github.com/jklund/partyline/internal/models"
)

func TestParticipantIDsStableOrder(t *testing.T) {
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	m := models.MatchResult{
		Scores: map[uuid.UUID]int{a: 3, b: 1, c: 0},
	}

	first := ParticipantIDs(m)
	if len(first) != 3 {
		t.Fatalf("expected 3 participants, got %d", len(first))
	}
	for i := 0; i < 10; i++ {
		again := ParticipantIDs(m)
		for j := range first {
			if first[j] != again[j] {
				t.Fatalf("participant order not stable: %v vs %v", first, again)
			}
		}
	}
	for i := 1; i < len(first); i++ {
		if first[i-1].String() >= first[i].String() {
			t.Fatalf("participants not sorted: %v", first)
		}
	}
}

// A full queue-to-DB test needs running Redis and Postgres instances.
func TestRecorderEndToEnd(t *testing.T) {
	t.Skip("requires live Redis + Postgres")
}
