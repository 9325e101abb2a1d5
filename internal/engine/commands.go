package engine

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/diceparlor/engine/internal/protocol"
)

// Outbound commands: presentation → command encoder → transport. Delivery is
// best-effort; a closed socket drops the frame inside the transport with a
// logged warning.

// CreateRoomOptions describe a room creation request.
type CreateRoomOptions struct {
	RoomName        string
	MaxPlayers      int
	AllowSpectators bool
	Password        string
	Stake           int
}

// CreateRoom creates a room. A non-zero stake is gated on the balance check
// before the command is sent.
func (e *Engine) CreateRoom(ctx context.Context, opts CreateRoomOptions) error {
	if err := e.checkBalance(ctx, opts.Stake); err != nil {
		return err
	}
	e.send(protocol.CreateRoom(opts.RoomName, opts.MaxPlayers, opts.AllowSpectators, opts.Password, opts.Stake))
	return nil
}

// JoinRoom joins a room, optionally as spectator. stake is the room's entry
// stake; non-zero stakes are gated on the balance check.
func (e *Engine) JoinRoom(ctx context.Context, roomID, password string, asSpectator bool, stake int) error {
	if err := e.checkBalance(ctx, stake); err != nil {
		return err
	}
	e.mu.Lock()
	e.leaving = false
	e.mu.Unlock()
	e.send(protocol.JoinRoom(roomID, password, asSpectator))
	return nil
}

// LeaveRoom leaves the current room and discards all per-room state.
func (e *Engine) LeaveRoom() {
	e.mu.Lock()
	e.leaving = true
	e.mu.Unlock()
	e.send(protocol.LeaveRoom(e.roomID()))

	e.turn.Cancel()
	e.ready.Cancel()
	e.reveals.Flush()
	e.tracker.Reset()
	e.store.Reset()
}

// ListRooms requests the lobby-mode room directory.
func (e *Engine) ListRooms() {
	e.send(protocol.ListRooms())
}

// Ready toggles the local ready flag. Acting cancels the ready countdown.
func (e *Engine) Ready(isReady bool) error {
	if !e.store.Roles().IsPlayer {
		return ErrNotPlayer
	}
	e.ready.Cancel()
	e.send(protocol.Ready(e.roomID(), isReady, false))
	return nil
}

// Roll rolls on the local player's turn. Acting cancels the turn countdown.
func (e *Engine) Roll() error {
	roles := e.store.Roles()
	if !roles.IsPlayer {
		return ErrNotPlayer
	}
	e.turn.Cancel()
	e.send(protocol.Roll(e.roomID(), false))
	return nil
}

// VoteKickDisconnected casts a vote to remove a disconnected player whose
// grace window elapsed. At most one vote per target per disconnect episode.
func (e *Engine) VoteKickDisconnected(targetID string) error {
	if !e.CanKickDisconnected(targetID) {
		return ErrVoteNotAllowed
	}
	if !e.tracker.RecordVote(targetID) {
		return ErrVoteNotAllowed
	}
	log.Info().Str("target_id", targetID).Msg("voting to kick disconnected player")
	e.send(protocol.VoteKickDisconnected(e.roomID(), targetID))
	return nil
}

// SendChat sends a chat message on the given channel.
func (e *Engine) SendChat(channel, content string) {
	if content == "" {
		return
	}
	e.send(protocol.SendChat(e.roomID(), channel, content))
}

// KickUser is the admin command to remove a user from the room.
func (e *Engine) KickUser(targetID string) error {
	if !e.store.Roles().IsAdmin {
		return ErrNotAdmin
	}
	e.send(protocol.KickUser(e.roomID(), targetID))
	return nil
}

// BanUser is the admin command to ban a user from the room.
func (e *Engine) BanUser(targetID string) error {
	if !e.store.Roles().IsAdmin {
		return ErrNotAdmin
	}
	e.send(protocol.BanUser(e.roomID(), targetID))
	return nil
}

// checkBalance gates paid flows on the REST balance check. A zero stake needs
// no check; a missing API client fails open with a warning so free-play
// deployments work without the REST side channel.
func (e *Engine) checkBalance(ctx context.Context, stake int) error {
	if stake <= 0 {
		return nil
	}
	if e.api == nil {
		log.Warn().Int("stake", stake).Msg("no API client configured, skipping balance check")
		return nil
	}
	user, err := e.api.FetchUser(ctx)
	if err != nil {
		return fmt.Errorf("balance check failed: %w", err)
	}
	if user.Balance < stake {
		log.Info().Int("balance", user.Balance).Int("stake", stake).Msg("insufficient balance")
		return ErrInsufficientBalance
	}
	return nil
}
