package rating

import (
	"testing"

	"github.com/jklund/partyline/internal/models"
)

func TestUpdateWinLoss(t *testing.T) {
	w := Update(1200, 1200, 1)
	l := Update(1200, 1200, 0)
	if w <= 1200 {
		t.Errorf("winner's rating should have gone up, got %d", w)
	}
	if l >= 1200 {
		t.Errorf("loser's rating should have gone down, got %d", l)
	}
	if w-1200 != 1200-l {
		t.Errorf("equal-rated win/loss should be symmetric, got +%d / -%d", w-1200, 1200-l)
	}
}

func TestUpdateUpsetMovesMore(t *testing.T) {
	underdog := Update(1100, 1400, 1)
	favorite := Update(1400, 1100, 1)
	if underdog-1100 <= favorite-1400 {
		t.Errorf("an upset should pay more: underdog +%d, favorite +%d", underdog-1100, favorite-1400)
	}
}

func TestUpdateGroup(t *testing.T) {
	users := []models.User{
		{Username: "a", Rating: 1200},
		{Username: "b", Rating: 1200},
		{Username: "c", Rating: 1200},
	}
	updated := UpdateGroup(users, 0)
	if updated[0].Rating <= 1200 {
		t.Errorf("winner should gain rating, got %d", updated[0].Rating)
	}
	if updated[1].Rating >= 1200 || updated[2].Rating >= 1200 {
		t.Errorf("losers should lose rating, got %d and %d", updated[1].Rating, updated[2].Rating)
	}
}

func TestUpdateGroupDraw(t *testing.T) {
	users := []models.User{
		{Username: "a", Rating: 1200},
		{Username: "b", Rating: 1200},
	}
	updated := UpdateGroup(users, -1)
	if updated[0].Rating != 1200 || updated[1].Rating != 1200 {
		t.Errorf("equal-rated draw should not move ratings, got %d and %d", updated[0].Rating, updated[1].Rating)
	}
}

func TestUpdateGroupSkipsGuests(t *testing.T) {
	users := []models.User{
		{Username: "guest", Rating: 1200, IsEphemeral: true},
		{Username: "b", Rating: 1200},
	}
	updated := UpdateGroup(users, 1)
	if updated[0].Rating != 1200 {
		t.Errorf("guest rating should be untouched, got %d", updated[0].Rating)
	}
}
