package timer

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

func waitFired(t *testing.T, fired <-chan struct{}) {
	t.Helper()
	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("countdown did not fire")
	}
}

func requireNotFired(t *testing.T, fired <-chan struct{}) {
	t.Helper()
	select {
	case <-fired:
		t.Fatal("countdown fired unexpectedly")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestFiresExactlyOnce(t *testing.T) {
	clock := clockwork.NewFakeClock()
	fired := make(chan struct{}, 4)
	c := New(clock, Config{Duration: 10 * time.Second, TickInterval: time.Second}, nil, func() {
		fired <- struct{}{}
	})

	c.Start(nil)
	clock.BlockUntil(1)
	clock.Advance(10 * time.Second)

	waitFired(t, fired)
	require.Equal(t, StateFired, c.State())

	clock.Advance(30 * time.Second)
	requireNotFired(t, fired)
}

func TestNeverFiresAfterCancel(t *testing.T) {
	clock := clockwork.NewFakeClock()
	fired := make(chan struct{}, 1)
	c := New(clock, Config{Duration: 5 * time.Second, TickInterval: time.Second}, nil, func() {
		fired <- struct{}{}
	})

	c.Start(nil)
	clock.BlockUntil(1)
	c.Cancel()
	require.Equal(t, StateCancelled, c.State())
	require.Equal(t, time.Duration(0), c.Remaining())

	clock.Advance(time.Minute)
	requireNotFired(t, fired)

	// Cancel is idempotent.
	c.Cancel()
	require.Equal(t, StateCancelled, c.State())
}

func TestStartReplacesPriorRun(t *testing.T) {
	clock := clockwork.NewFakeClock()
	fired := make(chan struct{}, 4)
	c := New(clock, Config{Duration: 10 * time.Second, TickInterval: time.Second}, nil, func() {
		fired <- struct{}{}
	})

	c.Start(nil)
	clock.BlockUntil(1)
	c.Start(nil) // replaces; at most one ticker alive
	clock.BlockUntil(1)

	clock.Advance(10 * time.Second)
	waitFired(t, fired)

	clock.Advance(time.Minute)
	requireNotFired(t, fired)
}

func TestServerDeadlinePreferredOverDuration(t *testing.T) {
	clock := clockwork.NewFakeClock()
	fired := make(chan struct{}, 1)
	c := New(clock, Config{Duration: time.Hour, TickInterval: time.Second}, nil, func() {
		fired <- struct{}{}
	})

	deadline := clock.Now().Add(3 * time.Second)
	c.Start(&deadline)
	clock.BlockUntil(1)
	clock.Advance(3 * time.Second)

	waitFired(t, fired)
}

func TestTickReportsRemaining(t *testing.T) {
	clock := clockwork.NewFakeClock()
	ticks := make(chan time.Duration, 16)
	c := New(clock, Config{Duration: 10 * time.Second, TickInterval: time.Second}, func(remaining time.Duration) {
		ticks <- remaining
	}, nil)

	c.Start(nil)
	clock.BlockUntil(1)
	clock.Advance(time.Second)

	select {
	case remaining := <-ticks:
		require.Equal(t, 9*time.Second, remaining)
	case <-time.After(2 * time.Second):
		t.Fatal("no tick observed")
	}
	c.Cancel()
}
