// Package engine is the client-side synchronization engine that keeps a
// widget consistent with a server-authoritative room over one WebSocket. It
// composes the connection manager, message router, room state store, turn and
// ready timers, disconnect tracker and reveal queue, and exposes outbound
// commands plus state-change notifications at the presentation boundary.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/diceparlor/engine/internal/conn"
	"github.com/diceparlor/engine/internal/disconnect"
	"github.com/diceparlor/engine/internal/protocol"
	"github.com/diceparlor/engine/internal/rest"
	"github.com/diceparlor/engine/internal/reveal"
	"github.com/diceparlor/engine/internal/room"
	"github.com/diceparlor/engine/internal/router"
	"github.com/diceparlor/engine/internal/timer"
)

var (
	// ErrNotPlayer is returned for commands requiring an active player role.
	ErrNotPlayer = errors.New("local identity is not an active player")
	// ErrNotAdmin is returned for admin commands without the admin role.
	ErrNotAdmin = errors.New("local identity is not the room admin")
	// ErrVoteNotAllowed is returned when vote-kick preconditions do not hold.
	ErrVoteNotAllowed = errors.New("vote-kick not allowed")
	// ErrInsufficientBalance is returned when the balance check fails a paid
	// join or create flow.
	ErrInsufficientBalance = errors.New("insufficient balance")
)

// Transport is the connection surface the engine depends on. *conn.Manager
// implements it; tests use a recording fake.
type Transport interface {
	Connect(ctx context.Context)
	Close()
	Send(payload []byte)
	AckHeartbeat()
	State() conn.State
}

// Callbacks are the presentation boundary: state-change notifications flowing
// outward. All fields are optional.
type Callbacks struct {
	OnConnectionState     func(conn.State)
	OnRoomUpdated         func()
	OnRoomList            func([]protocol.RoomSummary)
	OnReveal              func(reveal.Item)
	OnChat                func(protocol.ChatMessage)
	OnTurnCountdown       func(remaining time.Duration)
	OnReadyCountdown      func(remaining time.Duration)
	OnDisconnectCountdown func(userID string, remaining time.Duration)
	OnRoomClosed          func()
	OnRemoved             func(reason string)
	OnReturnToLobby       func()
	OnError               func(code, message string)
	OnFatal               func(error)
}

// Engine is one widget's synchronization engine. Construct fresh per room
// join; Stop tears everything down.
type Engine struct {
	cfg      Config
	identity protocol.Identity
	clock    clockwork.Clock
	cb       Callbacks

	transport Transport
	routes    *router.Router
	store     *room.Store
	tracker   *disconnect.Tracker
	turn      *timer.Countdown
	ready     *timer.Countdown
	reveals   *reveal.Queue
	api       *rest.Client

	mu            sync.Mutex
	ctx           context.Context
	cancel        context.CancelFunc
	authSent      bool
	authenticated bool
	leaving       bool
}

// New creates an engine backed by a real connection manager.
func New(cfg Config, identity protocol.Identity, clock clockwork.Clock, cb Callbacks) (*Engine, error) {
	e, err := newEngine(cfg, identity, clock, cb, nil)
	if err != nil {
		return nil, err
	}

	heartbeat, err := protocol.Encode(protocol.Heartbeat())
	if err != nil {
		return nil, err
	}
	connCfg := conn.DefaultConfig(cfg.ServerURL)
	connCfg.BaseReconnectDelay = cfg.ReconnectBaseDelay
	connCfg.MaxReconnectAttempts = cfg.MaxReconnectAttempts
	connCfg.HeartbeatInterval = cfg.HeartbeatInterval
	connCfg.HeartbeatTimeout = cfg.HeartbeatTimeout
	connCfg.HeartbeatFrame = heartbeat

	e.transport = conn.NewManager(connCfg, clock, conn.Callbacks{
		OnState:   e.handleConnectionState,
		OnMessage: e.routes.Dispatch,
		OnFatal:   e.handleFatal,
	})
	return e, nil
}

// newEngine wires everything except the transport, which tests inject.
func newEngine(cfg Config, identity protocol.Identity, clock clockwork.Clock, cb Callbacks, transport Transport) (*Engine, error) {
	if cfg.ServerURL == "" && transport == nil {
		return nil, fmt.Errorf("server URL is required")
	}
	if identity.UserID == "" {
		return nil, fmt.Errorf("identity is required")
	}

	e := &Engine{
		cfg:       cfg,
		identity:  identity,
		clock:     clock,
		cb:        cb,
		transport: transport,
		store:     room.NewStore(identity),
	}
	e.routes = router.New(e)
	e.tracker = disconnect.NewTracker(clock, identity.UserID, func(userID string, remaining time.Duration) {
		if e.cb.OnDisconnectCountdown != nil {
			e.cb.OnDisconnectCountdown(userID, remaining)
		}
	})
	e.turn = timer.New(clock,
		timer.Config{Duration: cfg.TurnDuration},
		cb.OnTurnCountdown,
		e.autoRoll,
	)
	e.ready = timer.New(clock,
		timer.Config{Duration: cfg.ReadyDuration},
		cb.OnReadyCountdown,
		e.autoReady,
	)
	e.reveals = reveal.NewQueue(clock,
		reveal.Config{RevealDuration: cfg.RevealDuration, ResultPause: cfg.ResultPause},
		e.applyReveal,
	)
	if cfg.APIBaseURL != "" {
		e.api = rest.NewClient(cfg.APIBaseURL)
	}
	return e, nil
}

// Start connects and begins synchronizing. The context bounds the engine's
// lifetime, reconnect attempts included.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	e.ctx, e.cancel = context.WithCancel(ctx)
	ctx = e.ctx
	e.mu.Unlock()

	log.Info().
		Str("mode", string(e.cfg.Mode)).
		Str("user_id", e.identity.UserID).
		Msg("engine starting")
	e.tracker.StartTicker()
	e.transport.Connect(ctx)
}

// Stop cancels all timers, flushes pending reveals and tears down the socket.
// Partially applied state is discarded; the next room entry starts from a
// fresh snapshot.
func (e *Engine) Stop() {
	e.mu.Lock()
	if e.cancel != nil {
		e.cancel()
	}
	e.mu.Unlock()

	e.turn.Cancel()
	e.ready.Cancel()
	e.tracker.StopTicker()
	e.reveals.Flush()
	e.transport.Close()
	log.Info().Msg("engine stopped")
}

// ConnectionState returns the transport's lifecycle state.
func (e *Engine) ConnectionState() conn.State {
	return e.transport.State()
}

// Room returns a copy of the current room snapshot.
func (e *Engine) Room() (protocol.Room, bool) {
	return e.store.Room()
}

// Roles returns the local identity's derived role flags.
func (e *Engine) Roles() room.Roles {
	return e.store.Roles()
}

// History returns the append-only round history for the end-of-match recap.
func (e *Engine) History() []room.RoundHistoryEntry {
	return e.store.History()
}

// ChatHistory returns one channel's buffered chat messages.
func (e *Engine) ChatHistory(channel string) []protocol.ChatMessage {
	return e.store.ChatHistory(channel)
}

// CanKickDisconnected reports vote-kick eligibility for the target.
func (e *Engine) CanKickDisconnected(targetID string) bool {
	roles := e.store.Roles()
	r, ok := e.store.Room()
	playing := ok && r.Status == protocol.StatusInProgress
	return e.tracker.CanKickDisconnected(targetID, roles.IsPlayer && !roles.IsSpectator, playing)
}

// Mute suppresses chat from a user locally.
func (e *Engine) Mute(userID string) { e.store.Mute(userID) }

// Unmute reverses Mute.
func (e *Engine) Unmute(userID string) { e.store.Unmute(userID) }

func (e *Engine) handleConnectionState(s conn.State) {
	if s != conn.StateConnected {
		// Every (re)connect starts a fresh handshake.
		e.mu.Lock()
		e.authSent = false
		e.authenticated = false
		e.mu.Unlock()
	}
	if e.cb.OnConnectionState != nil {
		e.cb.OnConnectionState(s)
	}
}

func (e *Engine) handleFatal(err error) {
	log.Error().Err(err).Msg("engine connectivity lost for good")
	if e.cb.OnFatal != nil {
		e.cb.OnFatal(err)
	}
}

// send encodes and writes one command. Delivery is best-effort: a closed
// socket drops the frame with a warning inside the transport.
func (e *Engine) send(cmd any) {
	payload, err := protocol.Encode(cmd)
	if err != nil {
		log.Error().Err(err).Msg("failed to encode command")
		return
	}
	e.transport.Send(payload)
}

// roomID returns the active room id: the snapshot's when present, the
// configured one before the first snapshot arrives.
func (e *Engine) roomID() string {
	if r, ok := e.store.Room(); ok {
		return r.RoomID
	}
	return e.cfg.RoomID
}

// markRemoved enters the terminal removed state: ban or kick of the local
// identity. One-way; schedules the return to the lobby after a fixed delay.
func (e *Engine) markRemoved(reason string) {
	if removed, _ := e.store.Removed(); removed {
		return
	}
	e.store.MarkRemoved(reason)
	e.turn.Cancel()
	e.ready.Cancel()
	e.reveals.Flush()
	e.tracker.Reset()
	if e.cb.OnRemoved != nil {
		e.cb.OnRemoved(reason)
	}

	t := e.clock.NewTimer(e.cfg.ReturnToLobbyDelay)
	go func() {
		<-t.Chan()
		if e.cb.OnReturnToLobby != nil {
			e.cb.OnReturnToLobby()
		}
	}()
}

// autoRoll is the turn timer's auto-action: the local player ran out of time.
func (e *Engine) autoRoll() {
	log.Info().Msg("turn timer expired, auto-rolling")
	e.send(protocol.Roll(e.roomID(), true))
}

// autoReady is the ready timer's auto-action.
func (e *Engine) autoReady() {
	log.Info().Msg("ready timer expired, auto-readying")
	e.send(protocol.Ready(e.roomID(), true, true))
}

// applyReveal is the reveal queue's visual application callback. Gameplay
// state is applied here, at reveal time, so the board never runs ahead of the
// animation; an authoritative snapshot bypasses this path entirely.
func (e *Engine) applyReveal(item reveal.Item) {
	switch item.Kind {
	case reveal.KindRoll:
		e.store.ApplyRolled(*item.Roll)
	case reveal.KindRoundResult:
		e.store.ApplyRoundResult(*item.Round)
	case reveal.KindGameOver:
		e.store.ApplyGameOver(*item.GameOver)
	}
	if e.cb.OnReveal != nil {
		e.cb.OnReveal(item)
	}
	if e.cb.OnRoomUpdated != nil {
		e.cb.OnRoomUpdated()
	}
}

func (e *Engine) notifyRoomUpdated() {
	if e.cb.OnRoomUpdated != nil {
		e.cb.OnRoomUpdated()
	}
}
