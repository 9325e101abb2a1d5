// Package router dispatches inbound wire frames to typed handlers. It is pure
// dispatch: it parses, decodes and forwards, and holds no state of its own.
package router

import (
	"github.com/rs/zerolog/log"

	"github.com/diceparlor/engine/internal/protocol"
)

// Sink receives decoded inbound messages. The engine implements it; tests use
// recording fakes.
type Sink interface {
	HandleWelcome(protocol.Welcome)
	HandleAuthenticated(protocol.Authenticated)
	HandleHeartbeatAck()
	HandleError(protocol.ErrorPayload)
	HandleRoomState(protocol.RoomState)
	HandleRoomList(protocol.RoomList)
	HandlePlayerJoined(protocol.PlayerJoined)
	HandlePlayerLeft(protocol.PlayerLeft)
	HandlePlayerSelected(protocol.PlayerSelected)
	HandlePlayerReadyChanged(protocol.PlayerReadyChanged)
	HandleLobbyUpdated(protocol.LobbyUpdated)
	HandleTurnChanged(protocol.TurnChanged)
	HandleRolled(protocol.Rolled)
	HandleRoundResult(protocol.RoundResult)
	HandleGameOver(protocol.GameOver)
	HandlePlayerDisconnected(protocol.PlayerDisconnected)
	HandlePlayerRejoined(protocol.PlayerRejoined)
	HandlePlayerAutoEnabled(protocol.PlayerAutoEnabled)
	HandleChatMessage(protocol.ChatMessage)
}

// Router routes raw frames to a Sink.
type Router struct {
	sink Sink
}

func New(sink Sink) *Router {
	return &Router{sink: sink}
}

// Dispatch parses one frame and invokes the matching handler. Malformed frames
// are dropped with a logged error; unknown types are logged at warn level and
// ignored so new server message types never break old clients.
func (r *Router) Dispatch(raw []byte) {
	msg, err := protocol.Parse(raw)
	if err != nil {
		log.Error().Err(err).Msg("dropping malformed message")
		return
	}

	switch msg.Type {
	case protocol.TypeWelcome:
		decodeInto(msg, r.sink.HandleWelcome)
	case protocol.TypeAuthenticated:
		decodeInto(msg, r.sink.HandleAuthenticated)
	case protocol.TypeHeartbeatAck:
		r.sink.HandleHeartbeatAck()
	case protocol.TypeError:
		decodeInto(msg, r.sink.HandleError)
	case protocol.TypeRoomState:
		decodeInto(msg, r.sink.HandleRoomState)
	case protocol.TypeRoomList:
		decodeInto(msg, r.sink.HandleRoomList)
	case protocol.TypePlayerJoined:
		decodeInto(msg, r.sink.HandlePlayerJoined)
	case protocol.TypePlayerLeft:
		decodeInto(msg, r.sink.HandlePlayerLeft)
	case protocol.TypePlayerSelected:
		decodeInto(msg, r.sink.HandlePlayerSelected)
	case protocol.TypePlayerReadyChanged:
		decodeInto(msg, r.sink.HandlePlayerReadyChanged)
	case protocol.TypeLobbyUpdated:
		decodeInto(msg, r.sink.HandleLobbyUpdated)
	case protocol.TypeTurnChanged:
		decodeInto(msg, r.sink.HandleTurnChanged)
	case protocol.TypeRolled:
		decodeInto(msg, r.sink.HandleRolled)
	case protocol.TypeRoundResult:
		decodeInto(msg, r.sink.HandleRoundResult)
	case protocol.TypeGameOver:
		decodeInto(msg, r.sink.HandleGameOver)
	case protocol.TypePlayerDisconnected:
		decodeInto(msg, r.sink.HandlePlayerDisconnected)
	case protocol.TypePlayerRejoined:
		decodeInto(msg, r.sink.HandlePlayerRejoined)
	case protocol.TypePlayerAutoEnabled:
		decodeInto(msg, r.sink.HandlePlayerAutoEnabled)
	case protocol.TypeChatMessage:
		decodeInto(msg, r.sink.HandleChatMessage)
	default:
		log.Warn().Str("type", string(msg.Type)).Msg("unknown message type, ignoring")
	}
}

func decodeInto[T any](msg *protocol.Message, handle func(T)) {
	var payload T
	if err := msg.Decode(&payload); err != nil {
		log.Error().Err(err).Str("type", string(msg.Type)).Msg("dropping undecodable message")
		return
	}
	handle(payload)
}
