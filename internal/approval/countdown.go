// Package approval implements the auto-approve countdown for a task that is
// waiting on a user decision.
package approval

import (
	"sync"
	"time"

	"github.com/frankfan814-art/division-autoGpt-sub000/internal/metrics"
)

// Default countdown tunables.
const (
	DefaultDuration = 10 * time.Second
	DefaultTick     = 1 * time.Second
)

// View is the countdown as shown to the user.
type View struct {
	TaskID           string `json:"task_id"`
	RemainingSeconds int    `json:"remaining_seconds"`
}

// Option configures a Countdown.
type Option func(*Countdown)

// WithDuration sets how long a task may stay pending before it is approved.
func WithDuration(d time.Duration) Option {
	return func(c *Countdown) {
		c.duration = d
	}
}

// WithTick sets how often OnTick is reported.
func WithTick(d time.Duration) Option {
	return func(c *Countdown) {
		c.tick = d
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Countdown) {
		c.metrics = m
	}
}

// OnTick registers fn to receive the remaining time once per tick.
func OnTick(fn func(View)) Option {
	return func(c *Countdown) {
		c.onTick = fn
	}
}

// Countdown runs at most one timer at a time. Every Start and Cancel bumps a
// generation so callbacks from a replaced timer are ignored.
type Countdown struct {
	duration time.Duration
	tick     time.Duration
	onExpire func(taskID string)
	onTick   func(View)
	metrics  *metrics.Metrics
	now      func() time.Time

	mu       sync.Mutex
	gen      uint64
	taskID   string
	deadline time.Time
	expiry   *time.Timer
	ticker   *time.Timer
}

// New creates an idle countdown that calls onExpire when a started countdown
// reaches zero.
func New(onExpire func(taskID string), opts ...Option) *Countdown {
	c := &Countdown{
		duration: DefaultDuration,
		tick:     DefaultTick,
		onExpire: onExpire,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start begins a countdown for taskID, replacing any running one.
func (c *Countdown) Start(taskID string) {
	c.mu.Lock()
	c.stopLocked()
	c.gen++
	gen := c.gen
	c.taskID = taskID
	c.deadline = c.now().Add(c.duration)
	c.expiry = time.AfterFunc(c.duration, func() { c.expire(gen) })
	c.scheduleTickLocked(gen)
	c.mu.Unlock()

	c.metrics.SetCountdownActive(true)
}

// Ensure starts a countdown for taskID unless one is already running for it.
// It reports whether a new countdown was started.
func (c *Countdown) Ensure(taskID string) bool {
	c.mu.Lock()
	running := c.taskID == taskID && c.expiry != nil
	c.mu.Unlock()
	if running {
		return false
	}
	c.Start(taskID)
	return true
}

// Cancel stops the countdown. No expiry fires after Cancel returns.
func (c *Countdown) Cancel() {
	c.mu.Lock()
	active := c.expiry != nil
	c.stopLocked()
	c.gen++
	c.mu.Unlock()

	if active {
		c.metrics.SetCountdownActive(false)
	}
}

// Status returns the running countdown, if any.
func (c *Countdown) Status() (View, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.expiry == nil {
		return View{}, false
	}
	return c.viewLocked(), true
}

func (c *Countdown) viewLocked() View {
	remaining := c.deadline.Sub(c.now())
	secs := int((remaining + time.Second - 1) / time.Second)
	if secs < 0 {
		secs = 0
	}
	return View{TaskID: c.taskID, RemainingSeconds: secs}
}

func (c *Countdown) scheduleTickLocked(gen uint64) {
	if c.tick <= 0 || c.onTick == nil {
		return
	}
	c.ticker = time.AfterFunc(c.tick, func() { c.onTickFired(gen) })
}

func (c *Countdown) onTickFired(gen uint64) {
	c.mu.Lock()
	if gen != c.gen || c.expiry == nil {
		c.mu.Unlock()
		return
	}
	view := c.viewLocked()
	if view.RemainingSeconds > 0 {
		c.scheduleTickLocked(gen)
	}
	c.mu.Unlock()

	c.onTick(view)
}

func (c *Countdown) expire(gen uint64) {
	c.mu.Lock()
	if gen != c.gen || c.expiry == nil {
		c.mu.Unlock()
		return
	}
	taskID := c.taskID
	c.stopLocked()
	c.gen++
	c.mu.Unlock()

	c.metrics.SetCountdownActive(false)
	if c.onExpire != nil {
		c.onExpire(taskID)
	}
}

func (c *Countdown) stopLocked() {
	if c.expiry != nil {
		c.expiry.Stop()
		c.expiry = nil
	}
	if c.ticker != nil {
		c.ticker.Stop()
		c.ticker = nil
	}
	c.taskID = ""
	c.deadline = time.Time{}
}
