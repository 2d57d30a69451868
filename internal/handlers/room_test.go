// internal/handlers/room_test.go
package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jklund/partyline/internal/protocol"
	"github.com/jklund/partyline/internal/room"
)

func testRoomConn(username string) *room.Conn {
	return &room.Conn{
		PlayerID: uuid.New(),
		Username: username,
		OutChan:  make(chan []byte, 64),
	}
}

func TestListRoomsHandler(t *testing.T) {
	s := NewSessionServer()

	host := testRoomConn("alice")
	r := s.NewRoom(protocol.ModePuzzle, host.PlayerID)
	r.Join(host)

	req := httptest.NewRequest("GET", "/rooms", nil)
	w := httptest.NewRecorder()
	ListRoomsHandler(s).ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var listing []roomSummary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listing))
	require.Len(t, listing, 1)
	assert.Equal(t, r.ID, listing[0].ID)
	assert.Equal(t, "puzzle", listing[0].Mode)
	assert.Equal(t, room.PhaseLobby, listing[0].Phase)
	assert.Equal(t, 1, listing[0].Players)
}

func TestStartGameCreatesInstance(t *testing.T) {
	s := NewSessionServer()

	host := testRoomConn("alice")
	r := s.NewRoom(protocol.ModePuzzle, host.PlayerID)
	r.Join(host)
	other := testRoomConn("bob")
	r.Join(other)

	s.StartGame(r)

	r.Mu.Lock()
	phase := r.Phase
	gameID := r.GameID
	r.Mu.Unlock()
	assert.Equal(t, room.PhasePlaying, phase)
	require.NotEqual(t, uuid.Nil, gameID)

	inst, ok := s.Games.Get(gameID)
	require.True(t, ok)
	assert.Equal(t, gameID, inst.GameID())
	inst.Stop()

	// Both players saw the start announcement.
	found := false
drain:
	for {
		select {
		case data := <-other.OutChan:
			var env protocol.Envelope
			require.NoError(t, json.Unmarshal(data, &env))
			if env.Type == "puzzle_game_started" {
				found = true
				var p protocol.GameStartedPayload
				require.NoError(t, json.Unmarshal(env.Payload, &p))
				assert.Equal(t, gameID, p.GameID)
				assert.Equal(t, 36, p.BoardSize)
			}
		default:
			break drain
		}
	}
	assert.True(t, found, "game start should be broadcast to the room")
}

func TestStartGameRequiresTwoPlayers(t *testing.T) {
	s := NewSessionServer()

	host := testRoomConn("alice")
	r := s.NewRoom(protocol.ModeTD, host.PlayerID)
	r.Join(host)

	s.StartGame(r)

	r.Mu.Lock()
	defer r.Mu.Unlock()
	assert.Equal(t, room.PhaseLobby, r.Phase)
	assert.Equal(t, uuid.Nil, r.GameID)
}

func TestEmptyRoomIsReaped(t *testing.T) {
	s := NewSessionServer()

	host := testRoomConn("alice")
	r := s.NewRoom(protocol.ModePuzzle, host.PlayerID)
	r.Join(host)
	require.Len(t, s.Rooms.List(), 1)

	r.Leave(host, false)
	assert.Empty(t, s.Rooms.List(), "last leave should reap the room")
}
