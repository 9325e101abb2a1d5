package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Outbound command types. Commands follow games.command.<verb> naming and
// carry a room_id once the client has joined a room.
const (
	TypeCmdCreateRoom   MessageType = "games.command.create_room"
	TypeCmdJoinRoom     MessageType = "games.command.join_room"
	TypeCmdRejoinRoom   MessageType = "games.command.rejoin_room"
	TypeCmdLeaveRoom    MessageType = "games.command.leave_room"
	TypeCmdListRooms    MessageType = "games.command.list_rooms"
	TypeCmdGetRoomState MessageType = "games.command.get_room_state"
	TypeCmdReady        MessageType = "games.command.ready"
	TypeCmdRoll         MessageType = "games.command.roll"
	TypeCmdAutoRoll     MessageType = "games.command.auto_roll"
	TypeCmdVoteKick     MessageType = "games.command.vote_kick_disconnected"
	TypeCmdSendChat     MessageType = "games.command.send_chat"
	TypeCmdKickUser     MessageType = "games.command.kick_user"
	TypeCmdBanUser      MessageType = "games.command.ban_user"
)

// Encode marshals an outbound command to a wire frame.
func Encode(cmd any) ([]byte, error) {
	data, err := json.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("marshal command: %w", err)
	}
	return data, nil
}

// AuthenticateCommand carries the local identity immediately after connect.
type AuthenticateCommand struct {
	Type     MessageType `json:"type"`
	UserID   string      `json:"user_id"`
	Username string      `json:"username"`
	AvatarID string      `json:"avatar_id"`
}

func Authenticate(id Identity) AuthenticateCommand {
	return AuthenticateCommand{
		Type:     TypeAuthenticate,
		UserID:   id.UserID,
		Username: id.Username,
		AvatarID: id.AvatarID,
	}
}

// HeartbeatCommand is the liveness probe sent on a fixed interval.
type HeartbeatCommand struct {
	Type MessageType `json:"type"`
}

func Heartbeat() HeartbeatCommand {
	return HeartbeatCommand{Type: TypeHeartbeat}
}

type CreateRoomCommand struct {
	Type            MessageType `json:"type"`
	CommandID       string      `json:"command_id"`
	RoomName        string      `json:"room_name"`
	MaxPlayers      int         `json:"max_players"`
	AllowSpectators bool        `json:"allow_spectators"`
	Password        string      `json:"password,omitempty"`
	Stake           int         `json:"stake,omitempty"`
}

func CreateRoom(name string, maxPlayers int, allowSpectators bool, password string, stake int) CreateRoomCommand {
	return CreateRoomCommand{
		Type:            TypeCmdCreateRoom,
		CommandID:       uuid.New().String(),
		RoomName:        name,
		MaxPlayers:      maxPlayers,
		AllowSpectators: allowSpectators,
		Password:        password,
		Stake:           stake,
	}
}

type JoinRoomCommand struct {
	Type        MessageType `json:"type"`
	CommandID   string      `json:"command_id"`
	RoomID      string      `json:"room_id"`
	Password    string      `json:"password,omitempty"`
	AsSpectator bool        `json:"as_spectator,omitempty"`
}

func JoinRoom(roomID, password string, asSpectator bool) JoinRoomCommand {
	return JoinRoomCommand{
		Type:        TypeCmdJoinRoom,
		CommandID:   uuid.New().String(),
		RoomID:      roomID,
		Password:    password,
		AsSpectator: asSpectator,
	}
}

type RoomCommand struct {
	Type   MessageType `json:"type"`
	RoomID string      `json:"room_id"`
}

func RejoinRoom(roomID string) RoomCommand {
	return RoomCommand{Type: TypeCmdRejoinRoom, RoomID: roomID}
}

func LeaveRoom(roomID string) RoomCommand {
	return RoomCommand{Type: TypeCmdLeaveRoom, RoomID: roomID}
}

func GetRoomState(roomID string) RoomCommand {
	return RoomCommand{Type: TypeCmdGetRoomState, RoomID: roomID}
}

type ListRoomsCommand struct {
	Type MessageType `json:"type"`
}

func ListRooms() ListRoomsCommand {
	return ListRoomsCommand{Type: TypeCmdListRooms}
}

type ReadyCommand struct {
	Type    MessageType `json:"type"`
	RoomID  string      `json:"room_id"`
	IsReady bool        `json:"is_ready"`
	IsAuto  bool        `json:"is_auto,omitempty"`
}

func Ready(roomID string, isReady, isAuto bool) ReadyCommand {
	return ReadyCommand{Type: TypeCmdReady, RoomID: roomID, IsReady: isReady, IsAuto: isAuto}
}

type RollCommand struct {
	Type   MessageType `json:"type"`
	RoomID string      `json:"room_id"`
	IsAuto bool        `json:"is_auto,omitempty"`
}

func Roll(roomID string, isAuto bool) RollCommand {
	return RollCommand{Type: TypeCmdRoll, RoomID: roomID, IsAuto: isAuto}
}

// AutoRollCommand requests a roll on behalf of an auto-played user whose turn
// is stalled.
type AutoRollCommand struct {
	Type   MessageType `json:"type"`
	RoomID string      `json:"room_id"`
	UserID string      `json:"user_id"`
}

func AutoRoll(roomID, userID string) AutoRollCommand {
	return AutoRollCommand{Type: TypeCmdAutoRoll, RoomID: roomID, UserID: userID}
}

type TargetUserCommand struct {
	Type     MessageType `json:"type"`
	RoomID   string      `json:"room_id"`
	TargetID string      `json:"target_id"`
}

func VoteKickDisconnected(roomID, targetID string) TargetUserCommand {
	return TargetUserCommand{Type: TypeCmdVoteKick, RoomID: roomID, TargetID: targetID}
}

func KickUser(roomID, targetID string) TargetUserCommand {
	return TargetUserCommand{Type: TypeCmdKickUser, RoomID: roomID, TargetID: targetID}
}

func BanUser(roomID, targetID string) TargetUserCommand {
	return TargetUserCommand{Type: TypeCmdBanUser, RoomID: roomID, TargetID: targetID}
}

type SendChatCommand struct {
	Type    MessageType `json:"type"`
	RoomID  string      `json:"room_id"`
	Channel string      `json:"channel"`
	Content string      `json:"content"`
}

func SendChat(roomID, channel, content string) SendChatCommand {
	return SendChatCommand{Type: TypeCmdSendChat, RoomID: roomID, Channel: channel, Content: content}
}
