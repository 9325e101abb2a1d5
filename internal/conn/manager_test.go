package conn

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

func TestReconnectDelayGrowsExponentially(t *testing.T) {
	base := time.Second
	require.Equal(t, time.Second, ReconnectDelay(base, 1))
	require.Equal(t, 2*time.Second, ReconnectDelay(base, 2))
	require.Equal(t, 4*time.Second, ReconnectDelay(base, 3))
	require.Equal(t, 32*time.Second, ReconnectDelay(base, 6))

	// Out-of-range attempts clamp to the first delay.
	require.Equal(t, time.Second, ReconnectDelay(base, 0))
}

func TestSendWhileDisconnectedDropsFrame(t *testing.T) {
	m := NewManager(DefaultConfig("ws://localhost:1"), clockwork.NewRealClock(), Callbacks{})
	require.Equal(t, StateDisconnected, m.State())

	// Must not panic and must not change state.
	m.Send([]byte(`{"type":"games.command.roll"}`))
	require.Equal(t, StateDisconnected, m.State())
}

func TestStateString(t *testing.T) {
	require.Equal(t, "disconnected", StateDisconnected.String())
	require.Equal(t, "connecting", StateConnecting.String())
	require.Equal(t, "connected", StateConnected.String())
	require.Equal(t, "reconnecting", StateReconnecting.String())
}

// echoServer upgrades each request and echoes text frames back.
func echoServer(t *testing.T) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		for {
			mt, payload, err := ws.ReadMessage()
			if err != nil {
				return
			}
			if err := ws.WriteMessage(mt, payload); err != nil {
				return
			}
		}
	}))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestConnectSendReceive(t *testing.T) {
	srv := echoServer(t)
	defer srv.Close()

	states := make(chan State, 8)
	messages := make(chan []byte, 8)

	cfg := DefaultConfig(wsURL(srv))
	cfg.HeartbeatInterval = 0 // no heartbeat traffic in this test
	m := NewManager(cfg, clockwork.NewRealClock(), Callbacks{
		OnState:   func(s State) { states <- s },
		OnMessage: func(p []byte) { messages <- p },
	})
	defer m.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Connect(ctx)

	requireState(t, states, StateConnecting)
	requireState(t, states, StateConnected)

	m.Send([]byte("hello"))
	select {
	case got := <-messages:
		require.Equal(t, "hello", string(got))
	case <-time.After(2 * time.Second):
		t.Fatal("echo not received")
	}

	m.Close()
	requireState(t, states, StateDisconnected)
}

func TestConnectIsIdempotentWhileActive(t *testing.T) {
	srv := echoServer(t)
	defer srv.Close()

	states := make(chan State, 8)
	cfg := DefaultConfig(wsURL(srv))
	cfg.HeartbeatInterval = 0
	m := NewManager(cfg, clockwork.NewRealClock(), Callbacks{
		OnState: func(s State) { states <- s },
	})
	defer m.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Connect(ctx)
	requireState(t, states, StateConnecting)
	requireState(t, states, StateConnected)

	// Second call is a no-op: no extra transitions arrive.
	m.Connect(ctx)
	select {
	case s := <-states:
		t.Fatalf("unexpected state transition %v", s)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestReconnectExhaustionIsFatal(t *testing.T) {
	states := make(chan State, 16)
	fatal := make(chan error, 1)

	cfg := DefaultConfig("ws://127.0.0.1:1") // nothing listens here
	cfg.BaseReconnectDelay = time.Millisecond
	cfg.MaxReconnectAttempts = 2
	m := NewManager(cfg, clockwork.NewRealClock(), Callbacks{
		OnState: func(s State) { states <- s },
		OnFatal: func(err error) { fatal <- err },
	})
	defer m.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Connect(ctx)

	select {
	case err := <-fatal:
		require.ErrorIs(t, err, ErrRetriesExhausted)
	case <-time.After(5 * time.Second):
		t.Fatal("exhaustion never reported")
	}
	require.Equal(t, StateDisconnected, m.State())
}

func requireState(t *testing.T, states <-chan State, want State) {
	t.Helper()
	select {
	case got := <-states:
		require.Equal(t, want, got)
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for state %v", want)
	}
}
