// Package timer implements the countdown-to-deadline driving auto-actions:
// the turn timer's auto-roll and the ready timer's auto-ready.
package timer

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// State is the countdown lifecycle: Idle → Running → {Fired, Cancelled}.
type State int

const (
	StateIdle State = iota
	StateRunning
	StateFired
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateFired:
		return "fired"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Config holds the countdown's fallback duration and tick granularity.
type Config struct {
	// Duration is used when Start receives no server deadline.
	Duration time.Duration
	// TickInterval is the progress-update granularity.
	TickInterval time.Duration
}

// Countdown runs one countdown at a time. Start always replaces any prior
// run, so at most one ticker is alive per instance. When the remaining time
// crosses zero the fire callback runs exactly once.
type Countdown struct {
	clock  clockwork.Clock
	cfg    Config
	onTick func(remaining time.Duration)
	onFire func()

	mu       sync.Mutex
	state    State
	deadline time.Time
	gen      int
	stopCh   chan struct{}
}

// New creates an idle countdown. onTick and onFire may be nil.
func New(clock clockwork.Clock, cfg Config, onTick func(time.Duration), onFire func()) *Countdown {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 250 * time.Millisecond
	}
	return &Countdown{clock: clock, cfg: cfg, onTick: onTick, onFire: onFire}
}

// Start begins (or restarts) the countdown. A server-supplied absolute
// deadline is preferred over the configured duration so remaining time does
// not compound client/server clock drift across reconnects.
func (c *Countdown) Start(deadline *time.Time) {
	c.mu.Lock()
	c.cancelLocked(StateIdle)
	c.gen++
	gen := c.gen
	if deadline != nil {
		c.deadline = *deadline
	} else {
		c.deadline = c.clock.Now().Add(c.cfg.Duration)
	}
	dl := c.deadline
	c.state = StateRunning
	stopCh := make(chan struct{})
	c.stopCh = stopCh
	// Create the ticker before returning so "at most one interval alive"
	// holds at Start return and clock waiters are well-defined for callers.
	ticker := c.clock.NewTicker(c.cfg.TickInterval)
	c.mu.Unlock()

	log.Debug().Time("deadline", dl).Msg("countdown started")
	go c.run(gen, dl, stopCh, ticker)
}

// Cancel stops the countdown and resets remaining time. Idempotent; a
// cancelled countdown never fires.
func (c *Countdown) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelLocked(StateCancelled)
}

// State returns the current lifecycle state.
func (c *Countdown) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Remaining returns the time left on a running countdown, clamped at zero.
func (c *Countdown) Remaining() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateRunning {
		return 0
	}
	remaining := c.deadline.Sub(c.clock.Now())
	if remaining < 0 {
		return 0
	}
	return remaining
}

func (c *Countdown) cancelLocked(next State) {
	if c.stopCh != nil {
		close(c.stopCh)
		c.stopCh = nil
	}
	if c.state == StateRunning {
		c.state = next
	}
}

func (c *Countdown) run(gen int, deadline time.Time, stopCh chan struct{}, ticker clockwork.Ticker) {
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.Chan():
			remaining := deadline.Sub(c.clock.Now())
			if remaining > 0 {
				if c.onTick != nil {
					c.onTick(remaining)
				}
				continue
			}
			c.fire(gen)
			return
		}
	}
}

// fire transitions to Fired and runs the auto-action, guarded so a stale run
// replaced by a newer Start can never fire.
func (c *Countdown) fire(gen int) {
	c.mu.Lock()
	if gen != c.gen || c.state != StateRunning {
		c.mu.Unlock()
		return
	}
	c.state = StateFired
	c.stopCh = nil
	c.mu.Unlock()

	if c.onTick != nil {
		c.onTick(0)
	}
	if c.onFire != nil {
		c.onFire()
	}
}
