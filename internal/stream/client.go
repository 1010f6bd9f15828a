package stream

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/frankfan814-art/division-autoGpt-sub000/internal/logging"
	"github.com/frankfan814-art/division-autoGpt-sub000/internal/metrics"
)

// State is the connection state. It changes only in response to transport
// events and the reconnect timer.
type State string

const (
	StateIdle         State = "idle"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateDisconnected State = "disconnected"
	StateError        State = "error"
)

func (s State) metricValue() int {
	switch s {
	case StateConnecting:
		return 1
	case StateConnected:
		return 2
	case StateDisconnected:
		return 3
	case StateError:
		return 4
	default:
		return 0
	}
}

// Default connection tunables.
const (
	DefaultHeartbeatInterval    = 3 * time.Second
	DefaultBackoffBase          = 1 * time.Second
	DefaultBackoffCap           = 10 * time.Second
	DefaultMaxReconnectAttempts = 5
	DefaultDialTimeout          = 10 * time.Second
)

var (
	// ErrNotConnected is returned when the connection is not open in time.
	ErrNotConnected = errors.New("not connected")

	// ErrConnectionExhausted is returned once automatic reconnection gave up.
	ErrConnectionExhausted = errors.New("cannot reach server, please reload")
)

// Backoff returns the reconnect delay before attempt n (zero based):
// min(base * 2^n, ceiling).
func Backoff(n int, base, ceiling time.Duration) time.Duration {
	if n < 0 {
		n = 0
	}
	d := base
	for i := 0; i < n; i++ {
		if d >= ceiling {
			return ceiling
		}
		d *= 2
	}
	if d > ceiling {
		return ceiling
	}
	return d
}

// Option configures a ConnectionManager.
type Option func(*ConnectionManager)

// WithDialer sets the transport dialer. Defaults to a WebSocketDialer.
func WithDialer(d Dialer) Option {
	return func(m *ConnectionManager) {
		m.dialer = d
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(m *ConnectionManager) {
		m.logger = l
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *ConnectionManager) {
		m.metrics = mt
	}
}

// WithHeartbeatInterval sets how often a ping is sent while connected.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(m *ConnectionManager) {
		m.heartbeatInterval = d
	}
}

// WithBackoff sets the reconnect base delay and cap.
func WithBackoff(base, ceiling time.Duration) Option {
	return func(m *ConnectionManager) {
		m.backoffBase = base
		m.backoffCap = ceiling
	}
}

// WithMaxReconnectAttempts sets how many automatic reconnects are tried
// before the manager enters the terminal error state.
func WithMaxReconnectAttempts(n int) Option {
	return func(m *ConnectionManager) {
		m.maxAttempts = n
	}
}

// WithDialTimeout bounds a single dial.
func WithDialTimeout(d time.Duration) Option {
	return func(m *ConnectionManager) {
		m.dialTimeout = d
	}
}

type stateListener struct {
	id uint64
	fn func(State)
}

// ConnectionManager owns exactly one Transport at a time. It dials, keeps the
// connection alive with a heartbeat, reconnects with exponential backoff and
// dispatches inbound messages to subscribers.
type ConnectionManager struct {
	url               string
	dialer            Dialer
	logger            *logging.Logger
	metrics           *metrics.Metrics
	heartbeatInterval time.Duration
	backoffBase       time.Duration
	backoffCap        time.Duration
	maxAttempts       int
	dialTimeout       time.Duration

	dispatcher *Dispatcher

	// mu protects everything below
	mu             sync.Mutex
	state          State
	transport      Transport
	attempts       int
	gen            uint64
	reconnectTimer *time.Timer
	heartbeatStop  chan struct{}
	dialCancel     context.CancelFunc

	listenersMu    sync.Mutex
	listeners      []stateListener
	nextListenerID uint64
}

// NewConnectionManager creates an idle manager for url. Nothing is dialed
// until Connect is called.
func NewConnectionManager(url string, opts ...Option) *ConnectionManager {
	m := &ConnectionManager{
		url:               url,
		dialer:            &WebSocketDialer{},
		heartbeatInterval: DefaultHeartbeatInterval,
		backoffBase:       DefaultBackoffBase,
		backoffCap:        DefaultBackoffCap,
		maxAttempts:       DefaultMaxReconnectAttempts,
		dialTimeout:       DefaultDialTimeout,
		state:             StateIdle,
	}

	for _, opt := range opts {
		opt(m)
	}

	if m.logger == nil {
		m.logger = logging.Default()
	}
	m.logger = m.logger.With("component", "connection")
	m.dispatcher = NewDispatcher(m.logger, m.metrics)
	m.metrics.SetConnectionState(StateIdle.metricValue())

	return m
}

// URL returns the server URL.
func (m *ConnectionManager) URL() string {
	return m.url
}

// State returns the current connection state.
func (m *ConnectionManager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IsConnected reports whether the transport is open.
func (m *ConnectionManager) IsConnected() bool {
	return m.State() == StateConnected
}

// Attempts returns the number of automatic reconnects since the last
// successful open.
func (m *ConnectionManager) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

// Subscribe registers handler for inbound messages with the given event.
func (m *ConnectionManager) Subscribe(event string, handler Handler) func() {
	return m.dispatcher.Subscribe(event, handler)
}

// OnStateChange registers fn to be called after every state transition.
// fn runs on the goroutine that caused the transition and must not block.
func (m *ConnectionManager) OnStateChange(fn func(State)) func() {
	m.listenersMu.Lock()
	m.nextListenerID++
	id := m.nextListenerID
	m.listeners = append(m.listeners, stateListener{id: id, fn: fn})
	m.listenersMu.Unlock()

	return func() {
		m.listenersMu.Lock()
		defer m.listenersMu.Unlock()
		for i, l := range m.listeners {
			if l.id == id {
				m.listeners = append(m.listeners[:i:i], m.listeners[i+1:]...)
				return
			}
		}
	}
}

// Connect starts dialing in the background. It is a no-op while connecting
// or connected. From the terminal error state it resets the attempt counter.
func (m *ConnectionManager) Connect() {
	m.mu.Lock()
	switch m.state {
	case StateConnecting, StateConnected:
		state := m.state
		m.mu.Unlock()
		m.logger.Debug("connect ignored", "state", state)
		return
	case StateError, StateIdle:
		m.attempts = 0
	}
	m.stopReconnectLocked()
	m.beginDialLocked()
	m.mu.Unlock()

	m.notifyState(StateConnecting)
}

// Disconnect cancels pending timers, closes the transport and returns to idle.
func (m *ConnectionManager) Disconnect() {
	m.mu.Lock()
	m.gen++
	m.stopReconnectLocked()
	m.stopHeartbeatLocked()
	if m.dialCancel != nil {
		m.dialCancel()
		m.dialCancel = nil
	}
	t := m.transport
	m.transport = nil
	prev := m.state
	m.state = StateIdle
	m.attempts = 0
	m.mu.Unlock()

	if t != nil {
		_ = t.Close()
	}
	if prev != StateIdle {
		m.logger.Info("disconnected")
		m.notifyState(StateIdle)
	}
}

// Send serializes v and writes it when the transport is open. Delivery is
// best effort: nothing is queued, and false means the message was dropped.
func (m *ConnectionManager) Send(v any) bool {
	m.mu.Lock()
	t := m.transport
	state := m.state
	m.mu.Unlock()

	if t == nil || state != StateConnected {
		m.logger.Warn("send skipped: connection not open", "state", state)
		m.metrics.ObserveSent(false)
		return false
	}

	data, err := json.Marshal(v)
	if err != nil {
		m.logger.Warn("send skipped: failed to marshal message", "error", err)
		m.metrics.ObserveSent(false)
		return false
	}

	if err := t.WriteMessage(data); err != nil {
		m.logger.Warn("send failed", "error", err)
		m.metrics.ObserveSent(false)
		return false
	}

	m.metrics.ObserveSent(true)
	return true
}

// beginDialLocked moves to connecting and dials on a new generation.
func (m *ConnectionManager) beginDialLocked() {
	m.gen++
	gen := m.gen
	m.state = StateConnecting
	ctx, cancel := context.WithTimeout(context.Background(), m.dialTimeout)
	m.dialCancel = cancel
	go m.dial(ctx, cancel, gen)
}

func (m *ConnectionManager) dial(ctx context.Context, cancel context.CancelFunc, gen uint64) {
	t, err := m.dialer.Dial(ctx, m.url)
	cancel()
	if err != nil {
		m.handleClosed(gen, err)
		return
	}

	m.mu.Lock()
	if gen != m.gen || m.state != StateConnecting {
		m.mu.Unlock()
		_ = t.Close()
		return
	}
	m.transport = t
	m.state = StateConnected
	m.attempts = 0
	m.dialCancel = nil
	m.startHeartbeatLocked()
	m.mu.Unlock()

	m.logger.Info("connected", "url", m.url)
	m.Send(ConnectMessage())
	go m.readLoop(gen, t)
	m.notifyState(StateConnected)
}

func (m *ConnectionManager) readLoop(gen uint64, t Transport) {
	for {
		data, err := t.ReadMessage()
		if err != nil {
			m.handleClosed(gen, err)
			return
		}
		if !m.isCurrent(gen) {
			return
		}
		m.handleMessage(data)
	}
}

func (m *ConnectionManager) isCurrent(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return gen == m.gen
}

func (m *ConnectionManager) handleMessage(data []byte) {
	msg, err := ParseMessage(data)
	if err != nil {
		m.logger.Warn("dropping malformed message", "error", err)
		m.metrics.ObserveDropped("parse_error")
		return
	}
	if isInternal(msg.Event) {
		m.logger.Debug("keep-alive reply", "event", msg.Event)
		return
	}
	m.dispatcher.Dispatch(msg)
}

// handleClosed runs for dial failures and read errors. Callbacks from a
// superseded generation are ignored.
func (m *ConnectionManager) handleClosed(gen uint64, cause error) {
	m.mu.Lock()
	if gen != m.gen || (m.state != StateConnecting && m.state != StateConnected) {
		m.mu.Unlock()
		return
	}
	m.stopHeartbeatLocked()
	m.dialCancel = nil
	t := m.transport
	m.transport = nil

	if m.attempts >= m.maxAttempts {
		m.state = StateError
		attempts := m.attempts
		m.mu.Unlock()

		if t != nil {
			_ = t.Close()
		}
		m.logger.Error("reconnect attempts exhausted", "attempts", attempts, "error", cause)
		m.notifyState(StateError)
		return
	}

	delay := Backoff(m.attempts, m.backoffBase, m.backoffCap)
	m.attempts++
	attempt := m.attempts
	m.state = StateDisconnected
	m.reconnectTimer = time.AfterFunc(delay, func() { m.reconnect(gen) })
	m.mu.Unlock()

	if t != nil {
		_ = t.Close()
	}
	m.metrics.ObserveReconnect()
	m.logger.Warn("connection lost, reconnecting", "attempt", attempt, "delay", delay.String(), "error", cause)
	m.notifyState(StateDisconnected)
}

func (m *ConnectionManager) reconnect(gen uint64) {
	m.mu.Lock()
	if gen != m.gen || m.state != StateDisconnected {
		m.mu.Unlock()
		return
	}
	m.reconnectTimer = nil
	m.beginDialLocked()
	m.mu.Unlock()

	m.notifyState(StateConnecting)
}

func (m *ConnectionManager) stopReconnectLocked() {
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
}

func (m *ConnectionManager) startHeartbeatLocked() {
	m.stopHeartbeatLocked()
	if m.heartbeatInterval <= 0 {
		return
	}
	stop := make(chan struct{})
	m.heartbeatStop = stop
	interval := m.heartbeatInterval

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				m.Send(PingMessage())
			}
		}
	}()
}

func (m *ConnectionManager) stopHeartbeatLocked() {
	if m.heartbeatStop != nil {
		close(m.heartbeatStop)
		m.heartbeatStop = nil
	}
}

func (m *ConnectionManager) notifyState(s State) {
	m.metrics.SetConnectionState(s.metricValue())

	m.listenersMu.Lock()
	listeners := make([]stateListener, len(m.listeners))
	copy(listeners, m.listeners)
	m.listenersMu.Unlock()

	for _, l := range listeners {
		l.fn(s)
	}
}
