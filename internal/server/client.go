package server

import (
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/frankfan814-art/division-autoGpt-sub000/internal/logging"
)

const writeWait = 5 * time.Second

// client is one websocket connection. Reads happen on the serve goroutine;
// writes may come from any session run and are serialized by writeMu.
type client struct {
	id     string
	srv    *Server
	conn   *websocket.Conn
	logger *logging.Logger

	writeMu sync.Mutex

	mu   sync.Mutex
	runs map[*run]struct{}
}

func newClient(srv *Server, conn *websocket.Conn) *client {
	id := uuid.NewString()
	return &client{
		id:     id,
		srv:    srv,
		conn:   conn,
		logger: srv.logger.With("client", id[:8]),
		runs:   make(map[*run]struct{}),
	}
}

// send writes one frame. Write failures are logged; the read loop notices
// the broken connection and cleans up.
func (c *client) send(event string, v any) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteJSON(v); err != nil {
		c.logger.Debug("write failed", "event", event, "error", err)
		return
	}
	c.srv.metrics.sent.WithLabelValues(event).Inc()
}

func (c *client) close() {
	c.writeMu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
		time.Now().Add(writeWait))
	c.writeMu.Unlock()
	_ = c.conn.Close()
}

// serve reads frames until the connection fails.
func (c *client) serve() {
	defer func() {
		c.mu.Lock()
		runs := make([]*run, 0, len(c.runs))
		for r := range c.runs {
			runs = append(runs, r)
		}
		c.runs = map[*run]struct{}{}
		c.mu.Unlock()
		for _, r := range runs {
			r.unsubscribe(c)
		}
		_ = c.conn.Close()
	}()

	c.logger.Debug("client connected")
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) &&
				!errors.Is(err, websocket.ErrCloseSent) {
				c.logger.Debug("read ended", "error", err)
			}
			return
		}
		c.handle(data)
	}
}

func (c *client) handle(data []byte) {
	var msg inbound
	if err := json.Unmarshal(data, &msg); err != nil {
		c.send("error", errorReply("invalid JSON"))
		return
	}
	c.srv.metrics.received.WithLabelValues(metricEvent(msg.Event)).Inc()

	switch msg.Event {
	case "connect":
		c.send("connected", eventFrame{Event: "connected"})
		return
	case "ping":
		c.send("pong", eventFrame{Event: "pong"})
		return
	case "feedback":
		c.handleFeedback(msg)
		return
	}

	if !knownControl(msg.Event) {
		c.send("error", errorReply("unknown event: "+msg.Event))
		return
	}
	if msg.SessionID == "" {
		c.send("error", errorReply("session_id is required"))
		return
	}
	r := c.srv.runFor(msg.SessionID)

	var err error
	switch msg.Event {
	case "subscribe":
		c.subscribe(r)
		return
	case "start":
		c.subscribe(r)
		err = r.start()
	case "pause":
		err = r.pause()
	case "resume":
		err = r.resume()
	case "stop":
		err = r.stop()
	case "approve_task":
		err = r.decide(decision{action: msg.Action, feedback: msg.Feedback, selectedIdea: msg.SelectedIdea})
	}
	if err != nil {
		c.send("error", errorReply(err.Error()))
	}
}

func (c *client) subscribe(r *run) {
	c.mu.Lock()
	c.runs[r] = struct{}{}
	c.mu.Unlock()
	progress := r.subscribe(c)
	c.send("subscribed", subscribedFrame{Event: "subscribed", SessionID: r.id, Data: progress})
}

func (c *client) handleFeedback(msg inbound) {
	var fb feedbackData
	if len(msg.Data) > 0 {
		if err := json.Unmarshal(msg.Data, &fb); err != nil {
			c.send("error", errorReply("invalid feedback payload"))
			return
		}
	}
	if strings.TrimSpace(fb.Message) == "" {
		c.send("error", errorReply("feedback message is required"))
		return
	}
	c.logger.Info("feedback received", "scope", fb.Scope, "length", len(fb.Message))
	c.send("feedback_received", dataFrame{Event: "feedback_received", Data: fb})
}

func knownControl(event string) bool {
	switch event {
	case "subscribe", "start", "pause", "resume", "stop", "approve_task":
		return true
	}
	return false
}

// metricEvent bounds label cardinality to the protocol's event names.
func metricEvent(event string) string {
	switch event {
	case "connect", "ping", "feedback":
		return event
	}
	if knownControl(event) {
		return event
	}
	return "unknown"
}
