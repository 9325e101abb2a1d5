package router

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/diceparlor/engine/internal/protocol"
)

// recordingSink records the handler names invoked, in order, plus the last
// payload of the handlers the tests inspect.
type recordingSink struct {
	calls []string

	rolled       protocol.Rolled
	roomState    protocol.RoomState
	errPayload   protocol.ErrorPayload
	disconnected protocol.PlayerDisconnected
}

func (s *recordingSink) record(name string) { s.calls = append(s.calls, name) }

func (s *recordingSink) HandleWelcome(protocol.Welcome)             { s.record("welcome") }
func (s *recordingSink) HandleAuthenticated(protocol.Authenticated) { s.record("authenticated") }
func (s *recordingSink) HandleHeartbeatAck()                        { s.record("heartbeat_ack") }
func (s *recordingSink) HandleError(p protocol.ErrorPayload) {
	s.errPayload = p
	s.record("error")
}
func (s *recordingSink) HandleRoomState(p protocol.RoomState) {
	s.roomState = p
	s.record("room_state")
}
func (s *recordingSink) HandleRoomList(protocol.RoomList)           { s.record("room_list") }
func (s *recordingSink) HandlePlayerJoined(protocol.PlayerJoined)   { s.record("player_joined") }
func (s *recordingSink) HandlePlayerLeft(protocol.PlayerLeft)       { s.record("player_left") }
func (s *recordingSink) HandlePlayerSelected(protocol.PlayerSelected) {
	s.record("player_selected")
}
func (s *recordingSink) HandlePlayerReadyChanged(protocol.PlayerReadyChanged) {
	s.record("player_ready_changed")
}
func (s *recordingSink) HandleLobbyUpdated(protocol.LobbyUpdated) { s.record("lobby_updated") }
func (s *recordingSink) HandleTurnChanged(protocol.TurnChanged)   { s.record("turn_changed") }
func (s *recordingSink) HandleRolled(p protocol.Rolled) {
	s.rolled = p
	s.record("rolled")
}
func (s *recordingSink) HandleRoundResult(protocol.RoundResult) { s.record("round_result") }
func (s *recordingSink) HandleGameOver(protocol.GameOver)       { s.record("game_over") }
func (s *recordingSink) HandlePlayerDisconnected(p protocol.PlayerDisconnected) {
	s.disconnected = p
	s.record("player_disconnected")
}
func (s *recordingSink) HandlePlayerRejoined(protocol.PlayerRejoined) {
	s.record("player_rejoined")
}
func (s *recordingSink) HandlePlayerAutoEnabled(protocol.PlayerAutoEnabled) {
	s.record("player_auto_enabled")
}
func (s *recordingSink) HandleChatMessage(protocol.ChatMessage) { s.record("chat_message") }

func TestDispatchRoutesToTypedHandler(t *testing.T) {
	sink := &recordingSink{}
	r := New(sink)

	r.Dispatch([]byte(`{"type":"games.rolled","room_id":"r1","player_id":"u1","roll":4}`))
	r.Dispatch([]byte(`{"type":"system.heartbeat_ack"}`))
	r.Dispatch([]byte(`{"type":"games.player_disconnected","room_id":"r1","user_id":"u2","timeout_at":"2025-03-01T12:00:30Z"}`))

	require.Equal(t, []string{"rolled", "heartbeat_ack", "player_disconnected"}, sink.calls)
	require.Equal(t, "u1", sink.rolled.PlayerID)
	require.Equal(t, 4, sink.rolled.Roll)
	require.Equal(t, "u2", sink.disconnected.UserID)
}

func TestDispatchPreservesArrivalOrder(t *testing.T) {
	sink := &recordingSink{}
	r := New(sink)

	frames := []string{
		`{"type":"games.player_joined","room_id":"r1","player":{"id":"a"}}`,
		`{"type":"games.player_selected","room_id":"r1","player":{"id":"a"}}`,
		`{"type":"games.turn_changed","room_id":"r1","current_turn":"a","round":1}`,
		`{"type":"games.rolled","room_id":"r1","player_id":"a","roll":6}`,
	}
	for _, f := range frames {
		r.Dispatch([]byte(f))
	}

	require.Equal(t, []string{"player_joined", "player_selected", "turn_changed", "rolled"}, sink.calls)
}

func TestDispatchDropsMalformedFrames(t *testing.T) {
	sink := &recordingSink{}
	r := New(sink)

	r.Dispatch([]byte(`{"type":"games.rolled"`))
	r.Dispatch([]byte(``))
	r.Dispatch([]byte(`{"room_id":"r1"}`))

	require.Empty(t, sink.calls)
}

func TestDispatchIgnoresUnknownTypes(t *testing.T) {
	sink := &recordingSink{}
	r := New(sink)

	r.Dispatch([]byte(`{"type":"games.confetti","density":9}`))
	require.Empty(t, sink.calls)

	// Traffic keeps flowing after an unknown type.
	r.Dispatch([]byte(`{"type":"system.heartbeat_ack"}`))
	require.Equal(t, []string{"heartbeat_ack"}, sink.calls)
}

func TestDispatchErrorPayload(t *testing.T) {
	sink := &recordingSink{}
	r := New(sink)

	r.Dispatch([]byte(`{"type":"system.error","code":"wrong_password","message":"invalid room password"}`))

	require.Equal(t, []string{"error"}, sink.calls)
	require.Equal(t, protocol.ErrCodeWrongPassword, sink.errPayload.Code)
	require.Equal(t, "invalid room password", sink.errPayload.Message)
}
