package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageType identifies a wire message. Every frame is a JSON object with a
// "type" field; the remaining fields are the payload.
type MessageType string

// System-level framing shared across games.
const (
	TypeWelcome       MessageType = "system.welcome"
	TypeAuthenticate  MessageType = "system.authenticate"
	TypeAuthenticated MessageType = "system.authenticated"
	TypeHeartbeat     MessageType = "system.heartbeat"
	TypeHeartbeatAck  MessageType = "system.heartbeat_ack"
	TypeError         MessageType = "system.error"
)

// Inbound room and gameplay events.
const (
	TypeRoomState          MessageType = "games.room_state"
	TypeRoomList           MessageType = "games.room_list"
	TypePlayerJoined       MessageType = "games.player_joined"
	TypePlayerLeft         MessageType = "games.player_left"
	TypePlayerSelected     MessageType = "games.player_selected"
	TypePlayerReadyChanged MessageType = "games.player_ready_changed"
	TypeLobbyUpdated       MessageType = "games.lobby_updated"
	TypeTurnChanged        MessageType = "games.turn_changed"
	TypeRolled             MessageType = "games.rolled"
	TypeRoundResult        MessageType = "games.round_result"
	TypeGameOver           MessageType = "games.game_over"
	TypePlayerDisconnected MessageType = "games.player_disconnected"
	TypePlayerRejoined     MessageType = "games.player_rejoined"
	TypePlayerAutoEnabled  MessageType = "games.player_auto_enabled"
	TypeChatMessage        MessageType = "games.chat_message"
)

// Well-known server error codes that route to dedicated recovery paths.
const (
	ErrCodeAlreadyInRoom = "already_in_room"
	ErrCodeWrongPassword = "wrong_password"
	ErrCodeUserBanned    = "user_banned"
)

// Message is a parsed wire frame. Raw holds the full frame so the payload can
// be decoded once the type is known.
type Message struct {
	Type MessageType
	Raw  json.RawMessage
}

// Parse extracts the message type from a raw frame. The payload is decoded
// lazily via Decode so unknown types cost nothing beyond the envelope pass.
func Parse(raw []byte) (*Message, error) {
	var envelope struct {
		Type MessageType `json:"type"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("unmarshal message envelope: %w", err)
	}
	if envelope.Type == "" {
		return nil, fmt.Errorf("message has no type field")
	}
	return &Message{Type: envelope.Type, Raw: json.RawMessage(raw)}, nil
}

// Decode unmarshals the full frame into a payload struct.
func (m *Message) Decode(v any) error {
	if err := json.Unmarshal(m.Raw, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", m.Type, err)
	}
	return nil
}

// Identity is the local user's identity, supplied by the session at engine
// construction. It is never derived from the wire.
type Identity struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	AvatarID string `json:"avatar_id"`
}

// RoomStatus is the server-side lifecycle phase of a room.
type RoomStatus string

const (
	StatusWaiting    RoomStatus = "waiting"
	StatusInProgress RoomStatus = "in_progress"
	StatusFinished   RoomStatus = "finished"
)

// Player is one participant entry inside a room snapshot.
type Player struct {
	ID           string `json:"id"`
	Username     string `json:"username"`
	Score        int    `json:"score"`
	IsReady      bool   `json:"is_ready"`
	IsAutoPlayed bool   `json:"is_auto_played"`
}

// Room is a full authoritative room snapshot. It replaces prior state
// wholesale whenever received.
type Room struct {
	RoomID          string     `json:"room_id"`
	RoomName        string     `json:"room_name"`
	HostID          string     `json:"host_id"`
	MaxPlayers      int        `json:"max_players"`
	AllowSpectators bool       `json:"allow_spectators"`
	HasPassword     bool       `json:"has_password"`
	Stake           int        `json:"stake"`
	Status          RoomStatus `json:"status"`
	Players         []Player   `json:"players"`
	Lobby           []Player   `json:"lobby"`
	Spectators      []Player   `json:"spectators"`
	BannedUsers     []string   `json:"banned_users"`
	CurrentTurn     string     `json:"current_turn"`
	Round           int        `json:"round"`
	TurnDeadline    *time.Time `json:"turn_deadline,omitempty"`
}

// RoomSummary is one entry in the lobby-mode room directory.
type RoomSummary struct {
	RoomID      string     `json:"room_id"`
	RoomName    string     `json:"room_name"`
	HostName    string     `json:"host_name"`
	PlayerCount int        `json:"player_count"`
	MaxPlayers  int        `json:"max_players"`
	HasPassword bool       `json:"has_password"`
	Stake       int        `json:"stake"`
	Status      RoomStatus `json:"status"`
}

// Inbound payloads. Each struct mirrors the flat frame shape: the type field
// plus payload fields at the top level.

type Welcome struct {
	ServerTime time.Time `json:"server_time"`
}

type Authenticated struct {
	UserID string `json:"user_id"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type RoomState struct {
	Room Room `json:"room"`
}

type RoomList struct {
	Rooms []RoomSummary `json:"rooms"`
}

type PlayerJoined struct {
	RoomID  string `json:"room_id"`
	Player  Player `json:"player"`
	Channel string `json:"channel"` // "lobby" or "spectators"
}

type PlayerLeft struct {
	RoomID string `json:"room_id"`
	UserID string `json:"user_id"`
}

type PlayerSelected struct {
	RoomID string `json:"room_id"`
	Player Player `json:"player"`
}

type PlayerReadyChanged struct {
	RoomID  string `json:"room_id"`
	UserID  string `json:"user_id"`
	IsReady bool   `json:"is_ready"`
}

type LobbyUpdated struct {
	RoomID string   `json:"room_id"`
	Lobby  []Player `json:"lobby"`
}

type TurnChanged struct {
	RoomID      string     `json:"room_id"`
	CurrentTurn string     `json:"current_turn"`
	Round       int        `json:"round"`
	Deadline    *time.Time `json:"deadline,omitempty"`
}

type Rolled struct {
	RoomID   string `json:"room_id"`
	PlayerID string `json:"player_id"`
	Roll     int    `json:"roll"`
	IsAuto   bool   `json:"is_auto"`
}

type RoundResult struct {
	RoomID       string         `json:"room_id"`
	Round        int            `json:"round"`
	Rolls        map[string]int `json:"rolls"`
	WinnerID     string         `json:"winner_id"`
	IsTiebreaker bool           `json:"is_tiebreaker"`
	Scores       map[string]int `json:"scores"`
}

type GameOver struct {
	RoomID   string         `json:"room_id"`
	WinnerID string         `json:"winner_id"`
	Scores   map[string]int `json:"scores"`
}

type PlayerDisconnected struct {
	RoomID    string    `json:"room_id"`
	UserID    string    `json:"user_id"`
	TimeoutAt time.Time `json:"timeout_at"`
}

type PlayerRejoined struct {
	RoomID string `json:"room_id"`
	UserID string `json:"user_id"`
}

type PlayerAutoEnabled struct {
	RoomID string `json:"room_id"`
	UserID string `json:"user_id"`
}

type ChatMessage struct {
	ID        string    `json:"id"`
	RoomID    string    `json:"room_id"`
	UserID    string    `json:"user_id"`
	Username  string    `json:"username"`
	Content   string    `json:"content"`
	Channel   string    `json:"channel"` // "lobby", "players" or "spectators"
	IsSystem  bool      `json:"is_system"`
	Timestamp time.Time `json:"timestamp"`
}
