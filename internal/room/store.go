// Package room holds the canonical in-memory mirror of server room state. A
// full snapshot always replaces state wholesale; incremental events mutate the
// smallest relevant substructure in between. A later snapshot wins over any
// incremental drift.
package room

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/diceparlor/engine/internal/protocol"
)

// maxChatMessages bounds each chat channel's ring buffer.
const maxChatMessages = 100

// Roles are derived from identity membership in the snapshot collections.
// They are never stored independently of membership.
type Roles struct {
	IsPlayer    bool
	IsSpectator bool
	IsAdmin     bool
}

// RoundHistoryEntry is one finished round, kept for the end-of-match recap.
// Entries are append-only and never mutated once pushed.
type RoundHistoryEntry struct {
	Round        int
	Rolls        map[string]int
	WinnerID     string
	IsTiebreaker bool
}

// Store mirrors one room. It is mutated only by the message handlers and read
// by everything else.
type Store struct {
	identity protocol.Identity

	mu        sync.RWMutex
	room      protocol.Room
	hasRoom   bool
	roles     Roles
	closed    bool
	removed   bool
	removedBy string

	lastRolls map[string]int
	history   []RoundHistoryEntry
	chat      map[string][]protocol.ChatMessage
	muted     map[string]bool
}

// NewStore creates an empty store for the given local identity.
func NewStore(identity protocol.Identity) *Store {
	return &Store{
		identity:  identity,
		lastRolls: make(map[string]int),
		chat:      make(map[string][]protocol.ChatMessage),
		muted:     make(map[string]bool),
	}
}

// ApplySnapshot replaces the room state wholesale and recomputes roles.
func (s *Store) ApplySnapshot(r protocol.Room) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.room = r
	s.hasRoom = true
	s.recomputeRolesLocked()
	log.Debug().
		Str("room_id", r.RoomID).
		Str("status", string(r.Status)).
		Int("players", len(r.Players)).
		Msg("applied room snapshot")
}

// ApplyPlayerJoined appends the player to the lobby or spectators channel.
// Idempotent against duplicate delivery: joining a collection the player is
// already in is a no-op.
func (s *Store) ApplyPlayerJoined(ev protocol.PlayerJoined) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.roomMatchesLocked(ev.RoomID) {
		return
	}
	switch ev.Channel {
	case "spectators":
		s.room.Spectators = appendIfAbsent(s.room.Spectators, ev.Player)
	default:
		s.room.Lobby = appendIfAbsent(s.room.Lobby, ev.Player)
	}
	s.recomputeRolesLocked()
}

// ApplyPlayerLeft removes the player from all collections. If the host left,
// the room is considered closed regardless of any other field; the return
// value reports that.
func (s *Store) ApplyPlayerLeft(ev protocol.PlayerLeft) (hostLeft bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.roomMatchesLocked(ev.RoomID) {
		return false
	}
	s.room.Players = removeByID(s.room.Players, ev.UserID)
	s.room.Lobby = removeByID(s.room.Lobby, ev.UserID)
	s.room.Spectators = removeByID(s.room.Spectators, ev.UserID)
	delete(s.lastRolls, ev.UserID)
	s.recomputeRolesLocked()

	if ev.UserID == s.room.HostID {
		s.closed = true
		log.Info().Str("room_id", s.room.RoomID).Msg("host left, room closed")
		return true
	}
	return false
}

// ApplyPlayerSelected moves the player from the lobby to the active players.
// No-op if already selected.
func (s *Store) ApplyPlayerSelected(ev protocol.PlayerSelected) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.roomMatchesLocked(ev.RoomID) {
		return
	}
	if indexByID(s.room.Players, ev.Player.ID) >= 0 {
		return
	}
	s.room.Lobby = removeByID(s.room.Lobby, ev.Player.ID)
	s.room.Players = append(s.room.Players, ev.Player)
	s.recomputeRolesLocked()
}

// ApplyReadyChanged flips the ready flag on the matching entry only.
func (s *Store) ApplyReadyChanged(ev protocol.PlayerReadyChanged) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.roomMatchesLocked(ev.RoomID) {
		return
	}
	if i := indexByID(s.room.Players, ev.UserID); i >= 0 {
		s.room.Players[i].IsReady = ev.IsReady
	}
}

// ApplyLobbyUpdated replaces the lobby wholesale. Narrower than a snapshot.
func (s *Store) ApplyLobbyUpdated(ev protocol.LobbyUpdated) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.roomMatchesLocked(ev.RoomID) {
		return
	}
	s.room.Lobby = ev.Lobby
	s.recomputeRolesLocked()
}

// ApplyTurnChanged updates the turn cursor and round counter.
func (s *Store) ApplyTurnChanged(ev protocol.TurnChanged) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.roomMatchesLocked(ev.RoomID) {
		return
	}
	s.room.CurrentTurn = ev.CurrentTurn
	if ev.Round > 0 {
		s.room.Round = ev.Round
	}
	s.room.TurnDeadline = ev.Deadline
}

// ApplyRolled records the revealed dice face for the current round.
func (s *Store) ApplyRolled(ev protocol.Rolled) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.roomMatchesLocked(ev.RoomID) {
		return
	}
	s.lastRolls[ev.PlayerID] = ev.Roll
}

// ApplyRoundResult appends the round to the history, applies scores and resets
// the board for the next round.
func (s *Store) ApplyRoundResult(ev protocol.RoundResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.roomMatchesLocked(ev.RoomID) {
		return
	}
	rolls := make(map[string]int, len(ev.Rolls))
	for id, roll := range ev.Rolls {
		rolls[id] = roll
	}
	s.history = append(s.history, RoundHistoryEntry{
		Round:        ev.Round,
		Rolls:        rolls,
		WinnerID:     ev.WinnerID,
		IsTiebreaker: ev.IsTiebreaker,
	})
	for id, score := range ev.Scores {
		if i := indexByID(s.room.Players, id); i >= 0 {
			s.room.Players[i].Score = score
		}
	}
	s.lastRolls = make(map[string]int)
}

// ApplyGameOver marks the room finished and applies final scores.
func (s *Store) ApplyGameOver(ev protocol.GameOver) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.roomMatchesLocked(ev.RoomID) {
		return
	}
	s.room.Status = protocol.StatusFinished
	for id, score := range ev.Scores {
		if i := indexByID(s.room.Players, id); i >= 0 {
			s.room.Players[i].Score = score
		}
	}
}

// SetAutoPlayed flips the auto-played flag on the matching player entry.
func (s *Store) SetAutoPlayed(userID string, auto bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := indexByID(s.room.Players, userID); i >= 0 {
		s.room.Players[i].IsAutoPlayed = auto
	}
}

// AddChat appends a message to its channel ring buffer. Messages from locally
// muted users are dropped; the return value reports whether it was stored.
func (s *Store) AddChat(msg protocol.ChatMessage) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !msg.IsSystem && s.muted[msg.UserID] {
		return false
	}
	buf := append(s.chat[msg.Channel], msg)
	if len(buf) > maxChatMessages {
		buf = buf[len(buf)-maxChatMessages:]
	}
	s.chat[msg.Channel] = buf
	return true
}

// ChatHistory returns a copy of one channel's buffered messages.
func (s *Store) ChatHistory(channel string) []protocol.ChatMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]protocol.ChatMessage, len(s.chat[channel]))
	copy(out, s.chat[channel])
	return out
}

// Mute suppresses future chat from the user locally.
func (s *Store) Mute(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.muted[userID] = true
}

// Unmute reverses Mute.
func (s *Store) Unmute(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.muted, userID)
}

// MarkRemoved records the terminal removed-from-room state (ban/kick of the
// local identity). One-way: never reversed by a later message.
func (s *Store) MarkRemoved(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.removed {
		return
	}
	s.removed = true
	s.removedBy = reason
	log.Info().Str("reason", reason).Msg("removed from room")
}

// Removed reports the terminal removed state and its reason.
func (s *Store) Removed() (bool, string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.removed, s.removedBy
}

// Closed reports whether the room was closed (host left).
func (s *Store) Closed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

// Roles returns the derived role flags for the local identity.
func (s *Store) Roles() Roles {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.roles
}

// Room returns a copy of the current snapshot; ok is false before the first
// room_state arrives.
func (s *Store) Room() (r protocol.Room, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.room, s.hasRoom
}

// LastRoll returns the revealed roll for a player in the current round.
func (s *Store) LastRoll(playerID string) (int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	roll, ok := s.lastRolls[playerID]
	return roll, ok
}

// History returns a copy of the round history.
func (s *Store) History() []RoundHistoryEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]RoundHistoryEntry, len(s.history))
	copy(out, s.history)
	return out
}

// PlayersFull reports whether the active player list reached max_players.
func (s *Store) PlayersFull() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hasRoom && s.room.MaxPlayers > 0 && len(s.room.Players) == s.room.MaxPlayers
}

// LocalReady reports the ready flag on the local player entry.
func (s *Store) LocalReady() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i := indexByID(s.room.Players, s.identity.UserID); i >= 0 {
		return s.room.Players[i].IsReady
	}
	return false
}

// Reset discards all per-room state. The next room entry starts from a fresh
// snapshot; nothing is rolled back field by field.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.room = protocol.Room{}
	s.hasRoom = false
	s.roles = Roles{}
	s.closed = false
	s.removed = false
	s.removedBy = ""
	s.lastRolls = make(map[string]int)
	s.history = nil
	s.chat = make(map[string][]protocol.ChatMessage)
}

func (s *Store) roomMatchesLocked(roomID string) bool {
	if !s.hasRoom || s.removed {
		return false
	}
	return roomID == "" || roomID == s.room.RoomID
}

func (s *Store) recomputeRolesLocked() {
	id := s.identity.UserID
	s.roles = Roles{
		IsPlayer:    indexByID(s.room.Players, id) >= 0 || indexByID(s.room.Lobby, id) >= 0,
		IsSpectator: indexByID(s.room.Spectators, id) >= 0,
		IsAdmin:     s.room.HostID == id,
	}
}

func indexByID(players []protocol.Player, id string) int {
	for i, p := range players {
		if p.ID == id {
			return i
		}
	}
	return -1
}

func appendIfAbsent(players []protocol.Player, p protocol.Player) []protocol.Player {
	if indexByID(players, p.ID) >= 0 {
		return players
	}
	return append(players, p)
}

func removeByID(players []protocol.Player, id string) []protocol.Player {
	if i := indexByID(players, id); i >= 0 {
		return append(players[:i], players[i+1:]...)
	}
	return players
}
