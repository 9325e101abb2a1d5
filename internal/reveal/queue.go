// Package reveal serializes the visual reveal of gameplay events. Network
// events can arrive faster than their animations play; the queue guarantees
// reveals run in arrival order without dropping any event, except that a full
// room snapshot flushes everything pending (the snapshot already encodes the
// end state those reveals were leading to).
package reveal

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/diceparlor/engine/internal/protocol"
)

// Kind discriminates queued reveal items.
type Kind int

const (
	KindRoll Kind = iota
	KindRoundResult
	KindGameOver
)

// Item is one queued reveal. Exactly one payload pointer is set, matching Kind.
type Item struct {
	Kind     Kind
	Roll     *protocol.Rolled
	Round    *protocol.RoundResult
	GameOver *protocol.GameOver
}

// Config holds reveal pacing.
type Config struct {
	// RevealDuration is the fixed length of a dice-roll reveal.
	RevealDuration time.Duration
	// ResultPause is the extra time to read a decided round result (or the
	// final game-over screen) before the next queued item runs.
	ResultPause time.Duration
}

// Queue is the FIFO of pending reveals gated by a single in-progress flag. A
// new item runs immediately only if the queue is empty and nothing is playing.
type Queue struct {
	clock clockwork.Clock
	cfg   Config
	apply func(Item)

	mu         sync.Mutex
	items      []Item
	inProgress bool
	gen        int
}

// NewQueue creates a queue. apply is the visual application callback, invoked
// once per item in strict arrival order.
func NewQueue(clock clockwork.Clock, cfg Config, apply func(Item)) *Queue {
	return &Queue{clock: clock, cfg: cfg, apply: apply}
}

// Enqueue adds an item, running it immediately when nothing is pending.
func (q *Queue) Enqueue(item Item) {
	q.mu.Lock()
	if q.inProgress || len(q.items) > 0 {
		q.items = append(q.items, item)
		q.mu.Unlock()
		return
	}
	q.startLocked(item)
}

// Flush abandons all pending reveals. Called when an authoritative snapshot
// arrives mid-animation; anything still playing is silently dropped.
func (q *Queue) Flush() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.inProgress || len(q.items) > 0 {
		log.Debug().Int("pending", len(q.items)).Msg("flushing reveal queue")
	}
	q.items = nil
	q.inProgress = false
	q.gen++
}

// Pending returns the number of queued (not yet started) items.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// startLocked begins a reveal and releases the lock. The apply callback runs
// outside the lock; completion is scheduled on the clock.
func (q *Queue) startLocked(item Item) {
	q.inProgress = true
	gen := q.gen
	delay := q.delayFor(item)
	q.mu.Unlock()

	q.apply(item)

	timer := q.clock.NewTimer(delay)
	go func() {
		<-timer.Chan()
		q.complete(gen)
	}()
}

// complete finishes the current reveal and starts the queue head, unless a
// flush invalidated this run.
func (q *Queue) complete(gen int) {
	q.mu.Lock()
	if gen != q.gen {
		q.mu.Unlock()
		return
	}
	q.inProgress = false
	if len(q.items) == 0 {
		q.mu.Unlock()
		return
	}
	next := q.items[0]
	q.items = q.items[1:]
	q.startLocked(next)
}

func (q *Queue) delayFor(item Item) time.Duration {
	switch item.Kind {
	case KindRoll:
		return q.cfg.RevealDuration
	case KindRoundResult:
		if item.Round != nil && item.Round.WinnerID != "" {
			return q.cfg.ResultPause
		}
		return 0
	case KindGameOver:
		return q.cfg.ResultPause
	default:
		return 0
	}
}
