// Package session wires the connection manager to the client-side session
// state: inbound events mutate the task cache, progress record, step history
// and approval countdown, and every change is published as an immutable
// Snapshot for the UI layer.
package session

import (
	"slices"
	"sync"
	"time"

	"github.com/frankfan814-art/division-autoGpt-sub000/internal/approval"
	"github.com/frankfan814-art/division-autoGpt-sub000/internal/logging"
	"github.com/frankfan814-art/division-autoGpt-sub000/internal/metrics"
	"github.com/frankfan814-art/division-autoGpt-sub000/internal/state"
	"github.com/frankfan814-art/division-autoGpt-sub000/internal/stream"
)

// Connection is the part of *stream.ConnectionManager the syncer depends on.
type Connection interface {
	Connect()
	Disconnect()
	State() stream.State
	Send(v any) bool
	Subscribe(event string, handler stream.Handler) func()
	OnStateChange(fn func(stream.State)) func()
}

// Snapshot is a consistent view of the current session.
type Snapshot struct {
	// Version increases with every published change.
	Version uint64 `json:"version"`

	SessionID  string       `json:"session_id"`
	Connection stream.State `json:"connection"`
	// ConnectionLost is set once automatic reconnection gave up.
	ConnectionLost bool `json:"connection_lost,omitempty"`

	Progress  state.Progress       `json:"progress"`
	Tasks     []state.Task         `json:"tasks"`
	History   []state.HistoryEntry `json:"history"`
	Countdown *approval.View       `json:"countdown,omitempty"`
	LastError string               `json:"last_error,omitempty"`
}

// Record converts the snapshot into its persisted form.
func (s Snapshot) Record() *state.SessionRecord {
	return &state.SessionRecord{
		SessionID: s.SessionID,
		Progress:  s.Progress,
		Tasks:     s.Tasks,
		History:   s.History,
		LastError: s.LastError,
	}
}

// Option configures a Syncer.
type Option func(*Syncer)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Syncer) {
		s.logger = l
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Syncer) {
		s.metrics = m
	}
}

// WithCountdown sets the auto-approve window and tick.
func WithCountdown(duration, tick time.Duration) Option {
	return func(s *Syncer) {
		s.countdownDuration = duration
		s.countdownTick = tick
	}
}

// WithHistoryCapacity sets how many step events are kept.
func WithHistoryCapacity(n int) Option {
	return func(s *Syncer) {
		s.historyCapacity = n
	}
}

// WithMaxSessions bounds how many session task lists are cached.
func WithMaxSessions(n int) Option {
	return func(s *Syncer) {
		s.maxSessions = n
	}
}

// Syncer is the composition root between the connection and session state.
// Every mutation runs under one mutex; snapshots are published after it is
// released.
type Syncer struct {
	conn    Connection
	logger  *logging.Logger
	metrics *metrics.Metrics

	countdownDuration time.Duration
	countdownTick     time.Duration
	historyCapacity   int
	maxSessions       int
	now               func() time.Time

	cache     *state.TaskCache
	history   *state.StepHistory
	countdown *approval.Countdown
	store     *state.Observable[Snapshot]

	mu        sync.Mutex
	version   uint64
	progress  state.Progress
	lastError string
	connState stream.State
	connLost  bool
	started   bool
	// decided holds pending tasks that already got a decision, explicit or
	// automatic. The countdown is never re-armed for them.
	decided map[string]bool
	unsubs    []func()
}

// NewSyncer creates a syncer over conn. Nothing happens until Start.
func NewSyncer(conn Connection, opts ...Option) *Syncer {
	s := &Syncer{
		conn:              conn,
		countdownDuration: approval.DefaultDuration,
		countdownTick:     approval.DefaultTick,
		historyCapacity:   state.DefaultHistoryCapacity,
		maxSessions:       state.DefaultMaxSessions,
		now:               time.Now,
		connState:         stream.StateIdle,
		decided:           make(map[string]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logging.Default()
	}
	s.logger = s.logger.With("component", "syncer")

	s.cache = state.NewTaskCache(s.maxSessions)
	s.history = state.NewStepHistory(s.historyCapacity)
	s.countdown = approval.New(s.autoApprove,
		approval.WithDuration(s.countdownDuration),
		approval.WithTick(s.countdownTick),
		approval.WithMetrics(s.metrics),
		approval.OnTick(func(approval.View) { s.publish() }),
	)
	s.store = state.NewObservable(Snapshot{Connection: stream.StateIdle})
	return s
}

// Start registers event handlers and connects.
func (s *Syncer) Start() {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.unsubs = append(s.unsubs, s.conn.OnStateChange(s.onConnectionState))
	for event, h := range s.handlers() {
		s.unsubs = append(s.unsubs, s.conn.Subscribe(event, s.wrap(event, h)))
	}
	s.mu.Unlock()

	s.conn.Connect()
	s.publish()
}

// Close unsubscribes every handler, cancels the countdown and disconnects.
func (s *Syncer) Close() {
	s.mu.Lock()
	unsubs := s.unsubs
	s.unsubs = nil
	s.started = false
	s.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
	s.countdown.Cancel()
	s.conn.Disconnect()
}

// SetSession switches the current session. Timers and transient state of the
// previous session are discarded; cached task lists are kept.
func (s *Syncer) SetSession(id string) {
	s.mu.Lock()
	prev := s.cache.CurrentSession()
	s.cache.SetCurrentSession(id)
	s.countdown.Cancel()
	clear(s.decided)
	s.history.Clear()
	s.progress = state.Progress{}
	s.lastError = ""
	connected := s.conn.State() == stream.StateConnected
	s.mu.Unlock()

	s.logger.Info("session selected", "session", id, "previous", prev)
	if connected && id != "" {
		s.conn.Send(SubscribeMessage{Event: EventSubscribe, SessionID: id})
	}
	s.publish()
}

// SessionID returns the current session id.
func (s *Syncer) SessionID() string {
	return s.cache.CurrentSession()
}

// LoadTasks replaces the current session's task list, e.g. from a REST fetch.
func (s *Syncer) LoadTasks(tasks []state.Task) {
	s.mu.Lock()
	if !s.cache.ReplaceTasks(tasks) {
		s.mu.Unlock()
		s.logger.Warn("tasks loaded without a session, dropping", "count", len(tasks))
		return
	}
	s.evaluateCountdownLocked()
	s.mu.Unlock()

	s.publish()
}

// Send forwards v to the connection.
func (s *Syncer) Send(v any) bool {
	return s.conn.Send(v)
}

// SendFeedback sends free-form feedback. An empty message is not sent.
func (s *Syncer) SendFeedback(fb Feedback) bool {
	if fb.Message == "" {
		s.logger.Warn("feedback skipped: empty message")
		return false
	}
	return s.conn.Send(FeedbackMessage{Event: EventFeedback, Data: fb})
}

func (s *Syncer) StartSession() bool  { return s.control(EventStart) }
func (s *Syncer) PauseSession() bool  { return s.control(EventPause) }
func (s *Syncer) ResumeSession() bool { return s.control(EventResume) }
func (s *Syncer) StopSession() bool   { return s.control(EventStop) }

func (s *Syncer) control(event string) bool {
	id := s.cache.CurrentSession()
	if id == "" {
		s.logger.Warn("control skipped: no session selected", "event", event)
		return false
	}
	return s.conn.Send(ControlMessage{Event: event, SessionID: id})
}

// Approve sends an explicit decision for the pending task. The countdown is
// cancelled first, whatever the outcome of the send, and does not restart for
// the tasks pending at this point.
func (s *Syncer) Approve(d Decision) bool {
	defer s.publish()

	s.mu.Lock()
	s.countdown.Cancel()
	for _, t := range s.cache.PendingApproval() {
		s.decided[t.TaskID] = true
	}
	id := s.cache.CurrentSession()
	s.mu.Unlock()

	if id == "" {
		s.logger.Warn("decision skipped: no session selected", "action", d.Action)
		return false
	}
	return s.conn.Send(ApproveMessage{
		Event:        EventApproveTask,
		SessionID:    id,
		Action:       d.Action,
		Feedback:     d.Feedback,
		SelectedIdea: d.SelectedIdea,
	})
}

// Snapshot returns the latest published snapshot.
func (s *Syncer) Snapshot() Snapshot {
	return s.store.Snapshot()
}

// Subscribe registers fn for every published snapshot. Notifications may
// arrive from timer and reader goroutines; fn must not block.
func (s *Syncer) Subscribe(fn func(Snapshot)) func() {
	return s.store.Subscribe(fn)
}

// Tasks exposes the current session's cache for queries.
func (s *Syncer) Tasks() *state.TaskCache {
	return s.cache
}

func (s *Syncer) onConnectionState(notified stream.State) {
	current := s.conn.State()

	s.mu.Lock()
	s.connState = current
	switch current {
	case stream.StateError:
		s.connLost = true
	case stream.StateConnected:
		s.connLost = false
	}
	id := s.cache.CurrentSession()
	s.mu.Unlock()

	if notified == stream.StateConnected && current == stream.StateConnected && id != "" {
		s.logger.Debug("resubscribing", "session", id)
		s.conn.Send(SubscribeMessage{Event: EventSubscribe, SessionID: id})
	}
	s.publish()
}

// autoApprove runs when the countdown for taskID reaches zero. It loses to
// an explicit decision taken before it acquired the lock.
func (s *Syncer) autoApprove(taskID string) {
	s.mu.Lock()
	id := s.cache.CurrentSession()
	task, ok := s.cache.Task(taskID)
	skip := id == "" || !ok || task.Status != state.TaskStatusPendingApproval || s.decided[taskID]
	if !skip {
		s.decided[taskID] = true
	}
	s.mu.Unlock()

	if skip {
		s.logger.Debug("auto-approve skipped", "task", taskID)
		s.publish()
		return
	}

	s.logger.Info("auto-approving task", "session", id, "task", taskID)
	if s.conn.Send(ApproveMessage{Event: EventApproveTask, SessionID: id, Action: ActionApprove}) {
		s.metrics.ObserveAutoApproval()
	}
	s.publish()
}

// evaluateCountdownLocked keeps a countdown running only while exactly one
// task is pending approval, it does not need an explicit selection and no
// decision was taken for it yet.
func (s *Syncer) evaluateCountdownLocked() {
	pending := s.cache.PendingApproval()
	for taskID := range s.decided {
		if !slices.ContainsFunc(pending, func(t state.Task) bool { return t.TaskID == taskID }) {
			delete(s.decided, taskID)
		}
	}

	if len(pending) == 1 && !pending[0].RequiresSelection() && !s.decided[pending[0].TaskID] {
		if s.countdown.Ensure(pending[0].TaskID) {
			s.logger.Debug("approval countdown started", "task", pending[0].TaskID)
		}
		return
	}
	s.countdown.Cancel()
}

func (s *Syncer) publish() {
	s.mu.Lock()
	s.version++
	snap := Snapshot{
		Version:        s.version,
		SessionID:      s.cache.CurrentSession(),
		Connection:     s.connState,
		ConnectionLost: s.connLost,
		Progress:       s.progress,
		Tasks:          s.cache.Tasks(),
		History:        s.history.Entries(),
		LastError:      s.lastError,
	}
	if view, ok := s.countdown.Status(); ok {
		snap.Countdown = &view
	}
	s.mu.Unlock()

	s.store.Update(func(old Snapshot) (Snapshot, bool) {
		return snap, snap.Version > old.Version
	})
}
