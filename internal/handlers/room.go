package handlers

import (
	"encoding/json"
	"net/http"
	"sort"

	"github.com/google/uuid"
)

// roomSummary is the public listing entry for one active room.
type roomSummary struct {
	ID      uuid.UUID `json:"id"`
	Mode    string    `json:"mode"`
	Phase   string    `json:"phase"`
	Players int       `json:"players"`
	Seats   int       `json:"seats"`
}

// ListRoomsHandler returns a snapshot of all active rooms, for the lobby
// browser. Rooms mid-game are listed but not joinable.
func ListRoomsHandler(s *SessionServer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rooms := s.Rooms.List()
		out := make([]roomSummary, 0, len(rooms))
		for _, rm := range rooms {
			rm.Mu.Lock()
			out = append(out, roomSummary{
				ID:      rm.ID,
				Mode:    string(rm.Mode),
				Phase:   rm.Phase,
				Players: len(rm.Conns),
				Seats:   len(rm.Seats),
			})
			rm.Mu.Unlock()
		}
		sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(out); err != nil {
			http.Error(w, "failed to write response", http.StatusInternalServerError)
		}
	}
}
