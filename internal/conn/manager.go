package conn

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// ErrRetriesExhausted is reported through OnFatal once reconnection attempts
// exceed Config.MaxReconnectAttempts. It is the one unrecoverable failure mode
// of the connection layer.
var ErrRetriesExhausted = errors.New("reconnect attempts exhausted")

// Config holds configuration for a managed WebSocket connection.
type Config struct {
	URL                  string
	BaseReconnectDelay   time.Duration
	MaxReconnectAttempts int
	HeartbeatInterval    time.Duration
	HeartbeatTimeout     time.Duration
	WriteTimeout         time.Duration
	MaxMessageSize       int64

	// HeartbeatFrame is the encoded heartbeat message. The manager stays
	// protocol-agnostic: the caller supplies the frame and acknowledges
	// heartbeats via AckHeartbeat when the matching ack arrives.
	HeartbeatFrame []byte
}

// DefaultConfig returns the default connection configuration.
func DefaultConfig(url string) Config {
	return Config{
		URL:                  url,
		BaseReconnectDelay:   time.Second,
		MaxReconnectAttempts: 6,
		HeartbeatInterval:    25 * time.Second,
		HeartbeatTimeout:     10 * time.Second,
		WriteTimeout:         10 * time.Second,
		MaxMessageSize:       64 * 1024,
	}
}

// Callbacks are invoked by the manager as the connection evolves. OnMessage is
// called from a single goroutine in socket-arrival order. Nil callbacks are
// allowed.
type Callbacks struct {
	OnState   func(State)
	OnMessage func([]byte)
	OnFatal   func(error)
}

// Manager owns one WebSocket connection: dialing, reconnection with
// exponential backoff, the heartbeat, and writes. It is the only component
// that mutates the connection State.
type Manager struct {
	cfg   Config
	clock clockwork.Clock
	cb    Callbacks

	dialer *websocket.Dialer

	mu      sync.Mutex
	conn    *websocket.Conn
	state   State
	attempt int
	closed  bool
	ctx     context.Context
	stopCh  chan struct{} // per-connection; closed when the socket goes down

	writeMu sync.Mutex

	hbMu    sync.Mutex
	hbTimer clockwork.Timer
}

// NewManager creates a connection manager. It does not dial until Connect.
func NewManager(cfg Config, clock clockwork.Clock, cb Callbacks) *Manager {
	return &Manager{
		cfg:    cfg,
		clock:  clock,
		cb:     cb,
		dialer: websocket.DefaultDialer,
		state:  StateDisconnected,
	}
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Connect opens the WebSocket if no connection attempt is in flight. The
// context bounds the lifetime of the connection and all reconnect attempts.
func (m *Manager) Connect(ctx context.Context) {
	m.mu.Lock()
	if m.state != StateDisconnected || m.closed {
		m.mu.Unlock()
		log.Debug().Str("state", m.state.String()).Msg("connect ignored, already active")
		return
	}
	m.ctx = ctx
	m.setStateLocked(StateConnecting)
	m.mu.Unlock()

	go m.dial()
}

// Close tears the connection down and stops all reconnection. It is safe to
// call more than once.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	conn := m.conn
	m.conn = nil
	if m.stopCh != nil {
		close(m.stopCh)
		m.stopCh = nil
	}
	m.setStateLocked(StateDisconnected)
	m.mu.Unlock()

	m.clearHeartbeatTimeout()
	if conn != nil {
		conn.Close()
	}
	log.Info().Msg("connection closed")
}

// Send writes one frame. If the socket is not open the frame is dropped with
// a logged warning; the manager never queues or retries commands, because a
// stale command delivered after reconnect could be semantically wrong.
func (m *Manager) Send(payload []byte) {
	m.mu.Lock()
	conn := m.conn
	state := m.state
	m.mu.Unlock()

	if conn == nil || state != StateConnected {
		log.Warn().
			Str("state", state.String()).
			Int("len", len(payload)).
			Msg("send dropped, socket not open")
		return
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(m.cfg.WriteTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		log.Error().Err(err).Msg("failed to write message")
		conn.Close()
	}
}

// AckHeartbeat cancels the outstanding heartbeat timeout. Called when the
// heartbeat ack message arrives.
func (m *Manager) AckHeartbeat() {
	m.clearHeartbeatTimeout()
}

func (m *Manager) dial() {
	m.mu.Lock()
	ctx := m.ctx
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return
	}

	conn, _, err := m.dialer.DialContext(ctx, m.cfg.URL, nil)
	if err != nil {
		log.Error().Err(err).Str("url", m.cfg.URL).Msg("dial failed")
		m.scheduleReconnect()
		return
	}

	conn.SetReadLimit(m.cfg.MaxMessageSize)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		conn.Close()
		return
	}
	m.conn = conn
	m.attempt = 0
	stopCh := make(chan struct{})
	m.stopCh = stopCh
	m.setStateLocked(StateConnected)
	m.mu.Unlock()

	log.Info().Str("url", m.cfg.URL).Msg("connected")

	go m.readLoop(conn)
	go m.heartbeatLoop(stopCh)
}

// readLoop delivers inbound frames in arrival order until the socket fails.
func (m *Manager) readLoop(conn *websocket.Conn) {
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Error().Err(err).Msg("unexpected close")
			}
			break
		}
		if m.cb.OnMessage != nil {
			m.cb.OnMessage(payload)
		}
	}
	m.handleSocketDown(conn)
}

// handleSocketDown cleans up after a socket failure and schedules a reconnect
// unless the manager was closed on purpose.
func (m *Manager) handleSocketDown(conn *websocket.Conn) {
	conn.Close()
	m.clearHeartbeatTimeout()

	m.mu.Lock()
	if m.conn != conn {
		// A newer connection already replaced this one, or Close ran.
		m.mu.Unlock()
		return
	}
	m.conn = nil
	if m.stopCh != nil {
		close(m.stopCh)
		m.stopCh = nil
	}
	closed := m.closed
	m.mu.Unlock()

	if closed {
		return
	}
	log.Warn().Msg("socket down, scheduling reconnect")
	m.scheduleReconnect()
}

// scheduleReconnect applies exponential backoff gated by MaxReconnectAttempts.
func (m *Manager) scheduleReconnect() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.attempt++
	attempt := m.attempt
	if attempt > m.cfg.MaxReconnectAttempts {
		m.setStateLocked(StateDisconnected)
		m.mu.Unlock()
		log.Error().Int("attempts", attempt-1).Msg("reconnect attempts exhausted")
		if m.cb.OnFatal != nil {
			m.cb.OnFatal(ErrRetriesExhausted)
		}
		return
	}
	m.setStateLocked(StateReconnecting)
	ctx := m.ctx
	m.mu.Unlock()

	delay := ReconnectDelay(m.cfg.BaseReconnectDelay, attempt)
	log.Info().Int("attempt", attempt).Dur("delay", delay).Msg("reconnecting")

	timer := m.clock.NewTimer(delay)
	go func() {
		defer stopAndDrainTimer(timer)
		select {
		case <-timer.Chan():
			m.dial()
		case <-ctx.Done():
		}
	}()
}

// ReconnectDelay computes the backoff delay for the given 1-based attempt:
// base * 2^(attempt-1), uncapped.
func ReconnectDelay(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return base << (attempt - 1)
}

// heartbeatLoop sends the heartbeat frame on a fixed interval and arms a
// timeout per beat. A missed ack force-closes the socket so the failure funnels
// into the ordinary reconnect path.
func (m *Manager) heartbeatLoop(stopCh chan struct{}) {
	if m.cfg.HeartbeatInterval <= 0 || m.cfg.HeartbeatFrame == nil {
		return
	}
	ticker := m.clock.NewTicker(m.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.Chan():
			m.Send(m.cfg.HeartbeatFrame)
			m.armHeartbeatTimeout(stopCh)
		}
	}
}

func (m *Manager) armHeartbeatTimeout(stopCh chan struct{}) {
	m.hbMu.Lock()
	if m.hbTimer != nil {
		stopAndDrainTimer(m.hbTimer)
	}
	timer := m.clock.NewTimer(m.cfg.HeartbeatTimeout)
	m.hbTimer = timer
	m.hbMu.Unlock()

	go func() {
		select {
		case <-timer.Chan():
			log.Warn().Msg("heartbeat ack timed out, force-closing socket")
			m.forceClose()
		case <-stopCh:
			stopAndDrainTimer(timer)
		}
	}()
}

func (m *Manager) clearHeartbeatTimeout() {
	m.hbMu.Lock()
	defer m.hbMu.Unlock()
	if m.hbTimer != nil {
		stopAndDrainTimer(m.hbTimer)
		m.hbTimer = nil
	}
}

// forceClose closes the current socket without marking the manager closed, so
// the read loop observes the failure and reconnects.
func (m *Manager) forceClose() {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

// setStateLocked transitions the state and notifies the observer. The callback
// runs with the manager lock held so transitions are delivered in order; it
// must not call back into the Manager.
func (m *Manager) setStateLocked(s State) {
	if m.state == s {
		return
	}
	old := m.state
	m.state = s
	log.Debug().Str("from", old.String()).Str("to", s.String()).Msg("connection state changed")
	if m.cb.OnState != nil {
		m.cb.OnState(s)
	}
}

// stopAndDrainTimer safely stops a timer and drains its channel so a fired
// timer cannot leak a goroutine waiting on it.
func stopAndDrainTimer(timer clockwork.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.Chan():
		default:
		}
	}
}
