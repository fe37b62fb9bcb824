// Package wsclient maintains a resilient WebSocket connection to a delivery
// channel: automatic reconnection up to a ceiling, heartbeats while connected,
// and lifecycle callbacks for the composing component.
package wsclient

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Status is the observable connection state.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusReconnecting Status = "reconnecting"
	StatusError        Status = "error"
)

// ErrInvalidURL marks a manager that was constructed with an unusable URL.
var ErrInvalidURL = errors.New("invalid websocket url")

// Config holds connection tunables. Zero values fall back to defaults.
type Config struct {
	URL                  string
	ReconnectInterval    time.Duration // default 5s
	MaxReconnectAttempts int           // default 4
	HeartbeatInterval    time.Duration // default 25s, 0 keeps the default; negative disables
	HandshakeTimeout     time.Duration // default 10s
}

// Callbacks are invoked from the manager's own goroutines. Handlers must not
// block; all fields are optional.
type Callbacks struct {
	OnConnect    func()
	OnDisconnect func(err error)
	OnError      func(err error)
	OnMessage    func(payload []byte)
}

// Manager owns one logical connection and its reconnect lifecycle. At most one
// reconnect timer is outstanding at any time; a manual Disconnect cancels it.
type Manager struct {
	cfg    Config
	cb     Callbacks
	logger *zap.Logger

	mu             sync.Mutex
	writeMu        sync.Mutex
	conn           *websocket.Conn
	status         Status
	attempts       int
	gen            int
	reconnectTimer *time.Timer
	manualClose    bool
	urlErr         error
}

// NewManager constructs a manager. An empty or malformed URL puts the manager
// straight into the error state instead of panicking later.
func NewManager(cfg Config, cb Callbacks, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = 5 * time.Second
	}
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = 4
	}
	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = 25 * time.Second
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}

	m := &Manager{cfg: cfg, cb: cb, logger: logger, status: StatusDisconnected}
	if err := validateURL(cfg.URL); err != nil {
		m.status = StatusError
		m.urlErr = err
	}
	return m
}

func validateURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("%w: empty", ErrInvalidURL)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
		return fmt.Errorf("%w: %s", ErrInvalidURL, raw)
	}
	return nil
}

// Status returns the current connection state.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Connect establishes the connection. It also clears a terminal error state,
// acting as the manual reconnect escape hatch.
func (m *Manager) Connect() error {
	m.mu.Lock()
	if m.urlErr != nil {
		m.mu.Unlock()
		return m.urlErr
	}
	if m.status == StatusConnected || m.status == StatusConnecting {
		m.mu.Unlock()
		return nil
	}
	m.cancelReconnectLocked()
	m.manualClose = false
	m.attempts = 0
	m.status = StatusConnecting
	m.mu.Unlock()

	return m.dial()
}

func (m *Manager) dial() error {
	dialer := websocket.Dialer{HandshakeTimeout: m.cfg.HandshakeTimeout}
	conn, _, err := dialer.Dial(m.cfg.URL, nil)
	if err != nil {
		m.logger.Warn("dial failed", zap.Error(err))
		m.afterFailure(err)
		return err
	}

	m.mu.Lock()
	if m.manualClose {
		// Disconnect raced the handshake; the manual close wins.
		m.mu.Unlock()
		_ = conn.Close()
		return nil
	}
	m.conn = conn
	m.status = StatusConnected
	m.attempts = 0
	m.gen++
	gen := m.gen
	m.mu.Unlock()

	m.logger.Info("connected", zap.String("url", m.cfg.URL))
	if m.cb.OnConnect != nil {
		m.cb.OnConnect()
	}
	go m.readLoop(conn, gen)
	if m.cfg.HeartbeatInterval > 0 {
		go m.heartbeatLoop(gen)
	}
	return nil
}

// Send marshals v and writes it as a text frame. It is a no-op returning false
// whenever the connection is not established; it never queues.
func (m *Manager) Send(v any) bool {
	m.mu.Lock()
	conn := m.conn
	connected := m.status == StatusConnected
	m.mu.Unlock()
	if !connected || conn == nil {
		return false
	}

	payload, err := json.Marshal(v)
	if err != nil {
		m.logger.Error("encode frame", zap.Error(err))
		return false
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		m.logger.Warn("write failed", zap.Error(err))
		return false
	}
	framesSentTotal.Inc()
	return true
}

// Disconnect closes the connection and cancels any pending reconnect timer.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.manualClose = true
	m.cancelReconnectLocked()
	conn := m.conn
	m.conn = nil
	m.status = StatusDisconnected
	m.mu.Unlock()

	if conn != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		_ = conn.Close()
	}
}

func (m *Manager) readLoop(conn *websocket.Conn, gen int) {
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			m.handleClosed(gen, err)
			return
		}
		framesReceivedTotal.Inc()
		if m.cb.OnMessage != nil {
			m.cb.OnMessage(payload)
		}
	}
}

func (m *Manager) heartbeatLoop(gen int) {
	ticker := time.NewTicker(m.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for range ticker.C {
		m.mu.Lock()
		stale := m.gen != gen || m.status != StatusConnected
		m.mu.Unlock()
		if stale {
			return
		}
		if !m.Send(map[string]any{"type": "ping", "timestamp": time.Now().UnixMilli()}) {
			return
		}
	}
}

// handleClosed reacts to a connection loss observed by the read loop.
func (m *Manager) handleClosed(gen int, cause error) {
	m.mu.Lock()
	if m.gen != gen {
		// A newer connection superseded this one.
		m.mu.Unlock()
		return
	}
	if m.conn != nil {
		_ = m.conn.Close()
		m.conn = nil
	}
	manual := m.manualClose
	m.status = StatusDisconnected
	m.mu.Unlock()

	if m.cb.OnDisconnect != nil {
		m.cb.OnDisconnect(cause)
	}
	if manual {
		return
	}
	m.afterFailure(cause)
}

// afterFailure schedules the next reconnect attempt or lands in the terminal
// error state once the ceiling is reached.
func (m *Manager) afterFailure(cause error) {
	m.mu.Lock()
	if m.manualClose {
		m.mu.Unlock()
		return
	}
	if m.attempts >= m.cfg.MaxReconnectAttempts {
		m.status = StatusError
		m.mu.Unlock()
		m.logger.Error("reconnect attempts exhausted", zap.Error(cause),
			zap.Int("attempts", m.cfg.MaxReconnectAttempts))
		if m.cb.OnError != nil {
			m.cb.OnError(cause)
		}
		return
	}
	if m.reconnectTimer != nil {
		// A reconnect is already pending; attempts stay serialized.
		m.mu.Unlock()
		return
	}
	m.attempts++
	attempt := m.attempts
	m.status = StatusReconnecting
	reconnectsTotal.Inc()
	m.reconnectTimer = time.AfterFunc(m.cfg.ReconnectInterval, func() {
		m.mu.Lock()
		m.reconnectTimer = nil
		if m.manualClose || m.status != StatusReconnecting {
			m.mu.Unlock()
			return
		}
		m.status = StatusConnecting
		m.mu.Unlock()
		_ = m.dial()
	})
	m.mu.Unlock()

	m.logger.Info("reconnect scheduled",
		zap.Int("attempt", attempt),
		zap.Duration("interval", m.cfg.ReconnectInterval))
}

func (m *Manager) cancelReconnectLocked() {
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
}
