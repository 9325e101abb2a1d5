// Package disconnect tracks per-player reconnection grace windows, vote-kick
// eligibility, and the auto-played set.
package disconnect

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// tickInterval drives the displayed grace countdown. Purely local: remaining
// time is recomputed from the recorded deadline, never re-requested from the
// server.
const tickInterval = time.Second

// Tracker follows each tracked user through
// Connected → Disconnected(timeoutAt) → {Reconnected, AutoPlayed, Kicked}.
// Invariant: a user is in at most one of the disconnect records and the
// auto-played set at a time.
type Tracker struct {
	clock   clockwork.Clock
	localID string
	onTick  func(userID string, remaining time.Duration)

	mu       sync.Mutex
	records  map[string]time.Time // userID -> grace deadline
	voted    map[string]bool      // targets voted for in the current episode
	auto     map[string]bool      // auto-played users
	inFlight map[string]string    // userID -> turn key of a pending auto-roll
	stopCh   chan struct{}
}

// NewTracker creates a tracker for the given local identity. onTick receives
// display updates for each disconnected user once per second; it may be nil.
func NewTracker(clock clockwork.Clock, localID string, onTick func(string, time.Duration)) *Tracker {
	return &Tracker{
		clock:    clock,
		localID:  localID,
		onTick:   onTick,
		records:  make(map[string]time.Time),
		voted:    make(map[string]bool),
		auto:     make(map[string]bool),
		inFlight: make(map[string]string),
	}
}

// StartTicker begins the once-per-second display clock. No-op if running.
func (t *Tracker) StartTicker() {
	t.mu.Lock()
	if t.stopCh != nil {
		t.mu.Unlock()
		return
	}
	stopCh := make(chan struct{})
	t.stopCh = stopCh
	t.mu.Unlock()

	go t.tickLoop(stopCh)
}

// StopTicker stops the display clock. Idempotent.
func (t *Tracker) StopTicker() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopCh != nil {
		close(t.stopCh)
		t.stopCh = nil
	}
}

func (t *Tracker) tickLoop(stopCh chan struct{}) {
	ticker := t.clock.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stopCh:
			return
		case <-ticker.Chan():
			t.mu.Lock()
			now := t.clock.Now()
			type entry struct {
				userID    string
				remaining time.Duration
			}
			entries := make([]entry, 0, len(t.records))
			for userID, deadline := range t.records {
				remaining := deadline.Sub(now)
				if remaining < 0 {
					remaining = 0
				}
				entries = append(entries, entry{userID, remaining})
			}
			onTick := t.onTick
			t.mu.Unlock()
			if onTick != nil {
				for _, e := range entries {
					onTick(e.userID, e.remaining)
				}
			}
		}
	}
}

// MarkDisconnected opens a disconnect episode with the given grace deadline.
func (t *Tracker) MarkDisconnected(userID string, timeoutAt time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.auto, userID)
	t.records[userID] = timeoutAt
	log.Debug().Str("user_id", userID).Time("timeout_at", timeoutAt).Msg("player disconnected")
}

// MarkRejoined closes the episode: the record, the episode's votes and any
// pending auto-roll for the user are cleared.
func (t *Tracker) MarkRejoined(userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.clearEpisodeLocked(userID)
}

// MarkLeft removes the user entirely, auto-played set included.
func (t *Tracker) MarkLeft(userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.clearEpisodeLocked(userID)
	delete(t.auto, userID)
}

// MarkAutoEnabled moves the user out of the disconnect records and into the
// auto-played set.
func (t *Tracker) MarkAutoEnabled(userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.clearEpisodeLocked(userID)
	t.auto[userID] = true
	log.Debug().Str("user_id", userID).Msg("player auto-play enabled")
}

// SyncAutoPlayed replaces the auto-played set wholesale with the given users.
// Called on full snapshots, which are authoritative for the set in both
// directions. Users entering the set have their disconnect episode closed;
// users leaving it have any pending auto-roll claim dropped.
func (t *Tracker) SyncAutoPlayed(userIDs []string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	next := make(map[string]bool, len(userIDs))
	for _, id := range userIDs {
		next[id] = true
		if !t.auto[id] {
			t.clearEpisodeLocked(id)
		}
	}
	for id := range t.auto {
		if !next[id] {
			delete(t.inFlight, id)
		}
	}
	t.auto = next
}

func (t *Tracker) clearEpisodeLocked(userID string) {
	delete(t.records, userID)
	delete(t.voted, userID)
	delete(t.inFlight, userID)
}

// IsAutoPlayed reports whether the user's moves are made automatically.
func (t *Tracker) IsAutoPlayed(userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.auto[userID]
}

// IsDisconnected reports whether the user is inside a disconnect episode.
func (t *Tracker) IsDisconnected(userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.records[userID]
	return ok
}

// Remaining returns the grace time left for a disconnected user.
func (t *Tracker) Remaining(userID string) (time.Duration, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	deadline, ok := t.records[userID]
	if !ok {
		return 0, false
	}
	remaining := deadline.Sub(t.clock.Now())
	if remaining < 0 {
		remaining = 0
	}
	return remaining, true
}

// CanKickDisconnected reports vote-kick eligibility: the local identity is an
// active player, the target is someone else, no vote was cast this episode,
// the game is in progress, and the grace window has fully elapsed.
func (t *Tracker) CanKickDisconnected(targetID string, localIsActivePlayer, gameInProgress bool) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !localIsActivePlayer || !gameInProgress {
		return false
	}
	if targetID == t.localID || t.voted[targetID] {
		return false
	}
	deadline, ok := t.records[targetID]
	if !ok {
		return false
	}
	return !deadline.After(t.clock.Now())
}

// RecordVote marks a vote for the target in the current episode. Returns false
// if there is no open episode or a vote was already cast; a second attempt in
// the same episode is a no-op.
func (t *Tracker) RecordVote(targetID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.records[targetID]; !ok {
		return false
	}
	if t.voted[targetID] {
		return false
	}
	t.voted[targetID] = true
	return true
}

// ClaimAutoRoll reserves the single pending auto-roll slot for the user on the
// given turn. Returns false if a request for that turn is already in flight.
func (t *Tracker) ClaimAutoRoll(userID, turnKey string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.inFlight[userID] == turnKey {
		return false
	}
	t.inFlight[userID] = turnKey
	return true
}

// ReleaseAutoRoll clears the pending auto-roll slot, called once the roll
// event for the user arrives or the turn moves on.
func (t *Tracker) ReleaseAutoRoll(userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.inFlight, userID)
}

// Reset drops all tracked state. Used when leaving a room.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.records = make(map[string]time.Time)
	t.voted = make(map[string]bool)
	t.auto = make(map[string]bool)
	t.inFlight = make(map[string]string)
}
