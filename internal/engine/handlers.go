package engine

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/diceparlor/engine/internal/protocol"
	"github.com/diceparlor/engine/internal/reveal"
	"github.com/diceparlor/engine/internal/timer"
)

// The engine implements router.Sink. Handlers run on the read-loop goroutine
// in socket-arrival order; the store has no other writer.

func (e *Engine) HandleWelcome(protocol.Welcome) {
	e.mu.Lock()
	if e.authSent {
		e.mu.Unlock()
		return
	}
	e.authSent = true
	e.mu.Unlock()
	log.Debug().Msg("welcome received, authenticating")
	e.send(protocol.Authenticate(e.identity))
}

// HandleAuthenticated is the sole fork point between lobby and room modes.
// Nothing room-related is requested before this point; commands sent before
// authentication are undefined server-side.
func (e *Engine) HandleAuthenticated(ev protocol.Authenticated) {
	e.mu.Lock()
	e.authenticated = true
	e.mu.Unlock()
	log.Info().Str("user_id", ev.UserID).Msg("authenticated")

	if e.cfg.Mode == ModeRoom && e.roomID() != "" {
		e.send(protocol.RejoinRoom(e.roomID()))
		return
	}
	e.send(protocol.ListRooms())
}

func (e *Engine) HandleHeartbeatAck() {
	e.transport.AckHeartbeat()
}

func (e *Engine) HandleError(ev protocol.ErrorPayload) {
	switch ev.Code {
	case protocol.ErrCodeAlreadyInRoom:
		// Not an error worth surfacing: we are in the room already, so just
		// resynchronize from the authoritative state.
		log.Debug().Msg("already in room, requesting state")
		e.send(protocol.GetRoomState(e.roomID()))
	case protocol.ErrCodeWrongPassword:
		log.Info().Msg("join rejected, wrong password")
		if e.cb.OnError != nil {
			e.cb.OnError(ev.Code, ev.Message)
		}
	case protocol.ErrCodeUserBanned:
		e.markRemoved("banned")
	default:
		log.Warn().Str("code", ev.Code).Str("message", ev.Message).Msg("server error")
		if e.cb.OnError != nil {
			e.cb.OnError(ev.Code, ev.Message)
		}
	}
}

// HandleRoomState applies a full authoritative snapshot. Pending reveals are
// abandoned first, so no in-flight reveal completion can write stale gameplay
// state on top of the snapshot: it already encodes the end state those reveals
// were leading to.
func (e *Engine) HandleRoomState(ev protocol.RoomState) {
	if removed, _ := e.store.Removed(); removed {
		return
	}
	e.reveals.Flush()
	e.store.ApplySnapshot(ev.Room)

	// The snapshot is also authoritative for the auto-played set, in both
	// directions: a user it shows as not auto-played drops out of the set.
	auto := make([]string, 0, len(ev.Room.Players))
	for _, p := range ev.Room.Players {
		if p.IsAutoPlayed {
			auto = append(auto, p.ID)
		}
	}
	e.tracker.SyncAutoPlayed(auto)

	e.reconcileTimers()
	e.notifyRoomUpdated()
}

func (e *Engine) HandleRoomList(ev protocol.RoomList) {
	if e.cb.OnRoomList != nil {
		e.cb.OnRoomList(ev.Rooms)
	}
}

func (e *Engine) HandlePlayerJoined(ev protocol.PlayerJoined) {
	e.store.ApplyPlayerJoined(ev)
	e.notifyRoomUpdated()
}

func (e *Engine) HandlePlayerLeft(ev protocol.PlayerLeft) {
	if ev.UserID == e.identity.UserID {
		e.mu.Lock()
		leaving := e.leaving
		e.mu.Unlock()
		if !leaving {
			// We did not leave: the room removed us.
			e.store.ApplyPlayerLeft(ev)
			e.markRemoved("kicked")
			return
		}
	}

	hostLeft := e.store.ApplyPlayerLeft(ev)
	e.tracker.MarkLeft(ev.UserID)
	if hostLeft {
		e.roomClosed()
		return
	}
	if !e.store.PlayersFull() {
		e.ready.Cancel()
	}
	e.notifyRoomUpdated()
}

// HandlePlayerSelected moves a player from the lobby into the game. Once the
// table is full the ready countdown starts for the local player.
func (e *Engine) HandlePlayerSelected(ev protocol.PlayerSelected) {
	e.store.ApplyPlayerSelected(ev)
	e.reconcileReadyTimer()
	e.notifyRoomUpdated()
}

func (e *Engine) HandlePlayerReadyChanged(ev protocol.PlayerReadyChanged) {
	e.store.ApplyReadyChanged(ev)
	if ev.UserID == e.identity.UserID && ev.IsReady {
		e.ready.Cancel()
	}
	e.notifyRoomUpdated()
}

func (e *Engine) HandleLobbyUpdated(ev protocol.LobbyUpdated) {
	e.store.ApplyLobbyUpdated(ev)
	e.notifyRoomUpdated()
}

func (e *Engine) HandleTurnChanged(ev protocol.TurnChanged) {
	prev, _ := e.store.Room()
	if prev.CurrentTurn != "" && prev.CurrentTurn != ev.CurrentTurn {
		e.tracker.ReleaseAutoRoll(prev.CurrentTurn)
	}

	e.store.ApplyTurnChanged(ev)
	e.reconcileTimers()
	e.notifyRoomUpdated()
}

func (e *Engine) HandleRolled(ev protocol.Rolled) {
	e.tracker.ReleaseAutoRoll(ev.PlayerID)
	if ev.PlayerID == e.identity.UserID {
		e.turn.Cancel()
	}
	e.reveals.Enqueue(reveal.Item{Kind: reveal.KindRoll, Roll: &ev})
}

func (e *Engine) HandleRoundResult(ev protocol.RoundResult) {
	e.reveals.Enqueue(reveal.Item{Kind: reveal.KindRoundResult, Round: &ev})
}

func (e *Engine) HandleGameOver(ev protocol.GameOver) {
	e.turn.Cancel()
	e.ready.Cancel()
	e.reveals.Enqueue(reveal.Item{Kind: reveal.KindGameOver, GameOver: &ev})
}

func (e *Engine) HandlePlayerDisconnected(ev protocol.PlayerDisconnected) {
	e.tracker.MarkDisconnected(ev.UserID, ev.TimeoutAt)
	e.notifyRoomUpdated()
}

func (e *Engine) HandlePlayerRejoined(ev protocol.PlayerRejoined) {
	e.tracker.MarkRejoined(ev.UserID)
	e.store.SetAutoPlayed(ev.UserID, false)
	e.notifyRoomUpdated()
}

// HandlePlayerAutoEnabled moves the user into the auto-played set. Their turn
// timer is suppressed from here on; if it is currently their turn, an
// auto-roll is issued on their behalf after the debounce delay.
func (e *Engine) HandlePlayerAutoEnabled(ev protocol.PlayerAutoEnabled) {
	e.tracker.MarkAutoEnabled(ev.UserID)
	e.store.SetAutoPlayed(ev.UserID, true)

	if ev.UserID == e.identity.UserID {
		e.turn.Cancel()
	} else if r, ok := e.store.Room(); ok && r.CurrentTurn == ev.UserID {
		e.scheduleAutoRoll(ev.UserID, r.Round)
	}
	e.notifyRoomUpdated()
}

func (e *Engine) HandleChatMessage(ev protocol.ChatMessage) {
	if !e.store.AddChat(ev) {
		return
	}
	if e.cb.OnChat != nil {
		e.cb.OnChat(ev)
	}
}

// reconcileTimers aligns the turn and ready timers with the current snapshot.
// Called after any message that can move the turn or fill the table.
func (e *Engine) reconcileTimers() {
	r, ok := e.store.Room()
	if !ok {
		return
	}

	switch r.Status {
	case protocol.StatusWaiting:
		e.turn.Cancel()
		e.reconcileReadyTimer()
	case protocol.StatusInProgress:
		localTurn := r.CurrentTurn == e.identity.UserID
		if localTurn && !e.tracker.IsAutoPlayed(e.identity.UserID) {
			e.turn.Start(r.TurnDeadline)
		} else {
			e.turn.Cancel()
		}
		if !localTurn && r.CurrentTurn != "" && e.tracker.IsAutoPlayed(r.CurrentTurn) {
			e.scheduleAutoRoll(r.CurrentTurn, r.Round)
		}
	default:
		e.turn.Cancel()
		e.ready.Cancel()
	}
}

// reconcileReadyTimer starts or stops the ready countdown to match the current
// snapshot: it runs only while the table is full and the local player is an
// active, not-yet-ready participant. Any state contradicting that cancels a
// running countdown rather than merely declining to start one.
func (e *Engine) reconcileReadyTimer() {
	roles := e.store.Roles()
	eligible := e.store.PlayersFull() && !e.store.LocalReady() &&
		roles.IsPlayer && !roles.IsSpectator
	if !eligible {
		e.ready.Cancel()
		return
	}
	if e.ready.State() != timer.StateRunning {
		e.ready.Start(nil)
	}
}

// scheduleAutoRoll issues one roll on an auto-played user's behalf after the
// debounce delay. The in-flight claim guarantees at most one request per user
// per turn, even when several handlers observe the same stalled turn.
func (e *Engine) scheduleAutoRoll(userID string, round int) {
	turnKey := fmt.Sprintf("%d/%s", round, userID)
	if !e.tracker.ClaimAutoRoll(userID, turnKey) {
		return
	}
	log.Debug().Str("user_id", userID).Int("round", round).Msg("scheduling auto-roll")

	t := e.clock.NewTimer(e.cfg.AutoRollDebounce)
	go func() {
		<-t.Chan()
		r, ok := e.store.Room()
		if !ok || r.CurrentTurn != userID || !e.tracker.IsAutoPlayed(userID) {
			return
		}
		if removed, _ := e.store.Removed(); removed {
			return
		}
		e.send(protocol.AutoRoll(r.RoomID, userID))
	}()
}

// roomClosed handles the host leaving: the room is considered closed
// regardless of any other field.
func (e *Engine) roomClosed() {
	e.turn.Cancel()
	e.ready.Cancel()
	e.reveals.Flush()
	e.tracker.Reset()
	if e.cb.OnRoomClosed != nil {
		e.cb.OnRoomClosed()
	}
}
