package wa

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// Terminal session outcomes reported on Done.
var (
	// ErrLoggedOut means the device was explicitly logged out; the stored
	// credentials are revoked and reconnecting is pointless.
	ErrLoggedOut = errors.New("session logged out")
	// ErrReconnectExhausted means the bounded reconnection budget is
	// spent after an unintentional disconnect.
	ErrReconnectExhausted = errors.New("max reconnection attempts reached")
)

// State is a snapshot of the connection state. It lives only for the
// process lifetime; a fresh process always starts at attempt 0.
type State struct {
	Connected            bool
	LastConnectedAt      time.Time
	ReconnectAttempts    int
	MaxReconnectAttempts int
}

// ManagerConfig wires a Manager to its collaborators.
type ManagerConfig struct {
	Dialer               Dialer
	Store                *CredentialStore
	ReconnectDelay       time.Duration
	MaxReconnectAttempts int
	// OnMessage is invoked for every inbound message event, each on its
	// own goroutine so a slow delivery never blocks the session's event
	// processing.
	OnMessage func(ctx context.Context, ev MessageEvent)
}

// Manager owns the session lifecycle: it establishes the session, observes
// connection events, drives bounded fixed-delay reconnection, and forwards
// inbound messages. State is mutated only on the manager's own
// event-handling path.
type Manager struct {
	cfg ManagerConfig

	mu      sync.Mutex
	state   State
	session Session
	timer   *time.Timer
	stopped bool

	ctx  context.Context
	done chan error
	once sync.Once
}

func NewManager(cfg ManagerConfig) *Manager {
	return &Manager{
		cfg:   cfg,
		state: State{MaxReconnectAttempts: cfg.MaxReconnectAttempts},
		done:  make(chan error, 1),
	}
}

// SetOnMessage installs the inbound-message hook. Must be called before
// Start; the manager implements relay's Sender, so the pipeline that needs
// this hook is constructed after the manager.
func (m *Manager) SetOnMessage(fn func(ctx context.Context, ev MessageEvent)) {
	m.cfg.OnMessage = fn
}

// Start begins session establishment. It returns immediately; terminal
// outcomes are reported on Done.
func (m *Manager) Start(ctx context.Context) {
	m.ctx = ctx
	go m.connect()
}

// Done reports the terminal outcome of the session: ErrLoggedOut,
// ErrReconnectExhausted, or a credential-store failure.
func (m *Manager) Done() <-chan error {
	return m.done
}

// Stop tears down the session and cancels any pending reconnection. A
// stopped manager reports nothing on Done.
func (m *Manager) Stop() {
	m.mu.Lock()
	m.stopped = true
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	session := m.session
	m.session = nil
	m.state.Connected = false
	m.mu.Unlock()

	if session != nil {
		session.Close()
	}
}

// Connected reports whether the session is currently open. Readers on other
// goroutines may observe a slightly stale value; at worst that skips one
// reply attempt.
func (m *Manager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Connected
}

// CurrentState returns a snapshot of the connection state.
func (m *Manager) CurrentState() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// SendText sends a text message through the active session.
func (m *Manager) SendText(ctx context.Context, to, body string) error {
	m.mu.Lock()
	session := m.session
	m.mu.Unlock()
	if session == nil {
		return errors.New("no active session")
	}
	return session.SendText(ctx, to, body)
}

// connect opens a new session with the persisted credentials. Any setup
// failure, credential loading included, is treated as a close event and
// follows the same retry policy.
func (m *Manager) connect() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	creds, err := m.cfg.Store.Load()
	if err != nil {
		slog.Error("failed to load credentials", "error", err)
		m.handleClose(ConnectionUpdate{Connection: "close", Error: err.Error()})
		return
	}

	handlers := EventHandlers{
		OnConnection:  m.onConnection,
		OnCredentials: m.onCredentials,
		OnMessage:     m.onMessage,
	}
	session, err := m.cfg.Dialer.Dial(m.ctx, creds, handlers)
	if err != nil {
		slog.Error("failed to establish session", "error", err)
		m.handleClose(ConnectionUpdate{Connection: "close", Error: err.Error()})
		return
	}

	m.mu.Lock()
	m.session = session
	m.mu.Unlock()
	slog.Info("session establishment started, waiting for connection")
}

func (m *Manager) onConnection(update ConnectionUpdate) {
	if update.QR != "" {
		slog.Info("scan QR code to pair device", "qr", update.QR)
	}

	switch update.Connection {
	case "open":
		m.mu.Lock()
		m.state.Connected = true
		m.state.LastConnectedAt = time.Now()
		m.state.ReconnectAttempts = 0
		m.mu.Unlock()
		slog.Info("connection established")
	case "close":
		m.handleClose(update)
	case "connecting":
		slog.Debug("connecting", "status", update.StatusCode)
	}
}

// handleClose applies the reconnection policy: an explicit logout is
// terminal; otherwise reconnect after a fixed delay until the attempt
// budget is exhausted.
func (m *Manager) handleClose(update ConnectionUpdate) {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.state.Connected = false
	session := m.session
	m.session = nil

	if update.LoggedOut() {
		m.mu.Unlock()
		if session != nil {
			session.Close()
		}
		slog.Error("session logged out, not reconnecting", "error", update.Error)
		m.finish(ErrLoggedOut)
		return
	}

	if m.state.ReconnectAttempts >= m.state.MaxReconnectAttempts {
		m.mu.Unlock()
		if session != nil {
			session.Close()
		}
		slog.Error("max reconnection attempts reached",
			"attempts", m.cfg.MaxReconnectAttempts, "error", update.Error)
		m.finish(ErrReconnectExhausted)
		return
	}

	m.state.ReconnectAttempts++
	attempt := m.state.ReconnectAttempts
	// Only one reconnection timer may be outstanding; scheduling a new
	// one replaces any pending timer.
	if m.timer != nil {
		m.timer.Stop()
	}
	m.timer = time.AfterFunc(m.cfg.ReconnectDelay, m.connect)
	m.mu.Unlock()

	if session != nil {
		session.Close()
	}
	slog.Warn("connection closed, reconnecting",
		"attempt", attempt, "max", m.cfg.MaxReconnectAttempts,
		"delay", m.cfg.ReconnectDelay, "error", update.Error)
}

// onCredentials writes the refreshed credential blob through to the store
// on every occurrence. Connection state is unaffected.
func (m *Manager) onCredentials(creds json.RawMessage) {
	if err := m.cfg.Store.Save(creds); err != nil {
		slog.Error("failed to persist credentials", "error", err)
		return
	}
	slog.Debug("credentials persisted")
}

// onMessage forwards an inbound event to the pipeline on its own goroutine.
// Messages are processed regardless of the tracked connection state: the
// transport contract says none arrive while disconnected, but a straggler
// is still relayed.
func (m *Manager) onMessage(ev MessageEvent) {
	if m.cfg.OnMessage == nil {
		return
	}
	go m.cfg.OnMessage(m.ctx, ev)
}

func (m *Manager) finish(err error) {
	m.once.Do(func() { m.done <- err })
}
