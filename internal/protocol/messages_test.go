// internal/protocol/messages_test.go
package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrefixType(t *testing.T) {
	assert.Equal(t, "puzzle_room_state", PrefixType(ModePuzzle, TypeRoomState))
	assert.Equal(t, "td_create_room", PrefixType(ModeTD, TypeCreateRoom))

	// Connection-level types are never prefixed.
	assert.Equal(t, "ping", PrefixType(ModePuzzle, TypePing))
	assert.Equal(t, "error", PrefixType(ModeTD, TypeError))

	// Already-prefixed types pass through.
	assert.Equal(t, TypePuzzleFlipCard, PrefixType(ModePuzzle, TypePuzzleFlipCard))
	assert.Equal(t, TypeTDPlaceTower, PrefixType(ModeTD, TypeTDPlaceTower))
}

func TestStripPrefix(t *testing.T) {
	mode, typ := StripPrefix("puzzle_joined_room")
	assert.Equal(t, ModePuzzle, mode)
	assert.Equal(t, TypeJoinedRoom, typ)

	mode, typ = StripPrefix("td_game_over")
	assert.Equal(t, ModeTD, mode)
	assert.Equal(t, TypeGameOver, typ)

	mode, typ = StripPrefix("pong")
	assert.Equal(t, GameMode(""), mode)
	assert.Equal(t, TypePong, typ)
}

func TestEncodeRoundTrip(t *testing.T) {
	data, err := Encode("puzzle_countdown", CountdownPayload{Seconds: 5})
	require.NoError(t, err)

	var env Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	assert.Equal(t, "puzzle_countdown", env.Type)

	var p CountdownPayload
	require.NoError(t, json.Unmarshal(env.Payload, &p))
	assert.Equal(t, 5, p.Seconds)
}

func TestEncodeNilPayload(t *testing.T) {
	data, err := Encode(TypePong, nil)
	require.NoError(t, err)

	var env Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	assert.Equal(t, TypePong, env.Type)
	assert.Empty(t, env.Payload)
}

func TestGameModeValid(t *testing.T) {
	assert.True(t, ModePuzzle.Valid())
	assert.True(t, ModeTD.Valid())
	assert.False(t, GameMode("chess").Valid())
	assert.False(t, GameMode("").Valid())
}
