package testutil

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

// Frame is one decoded server frame.
type Frame map[string]any

// Event returns the frame's event name.
func (f Frame) Event() string {
	s, _ := f["event"].(string)
	return s
}

// Message returns the message of an error frame.
func (f Frame) Message() string {
	s, _ := f["message"].(string)
	return s
}

// Task returns the task object of a task_* frame.
func (f Frame) Task() map[string]any {
	m, _ := f["task"].(map[string]any)
	return m
}

// Data returns the data object of a frame.
func (f Frame) Data() map[string]any {
	m, _ := f["data"].(map[string]any)
	return m
}

// WSClient is a raw protocol client for driving a backend in tests.
type WSClient struct {
	t    *testing.T
	conn *websocket.Conn
}

// WebSocketURL converts an httptest server URL to its /ws endpoint.
func WebSocketURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

// DialWS connects to url and closes the connection when the test ends.
func DialWS(t *testing.T, url string) *WSClient {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err, "dial %s", url)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return &WSClient{t: t, conn: conn}
}

// Send writes v as one JSON frame.
func (c *WSClient) Send(v any) {
	c.t.Helper()
	require.NoError(c.t, c.conn.WriteJSON(v))
}

// SendEvent writes a frame with the given event, session id and extra fields.
func (c *WSClient) SendEvent(event, sessionID string, extra map[string]any) {
	c.t.Helper()
	frame := map[string]any{"event": event}
	if sessionID != "" {
		frame["session_id"] = sessionID
	}
	for k, v := range extra {
		frame[k] = v
	}
	c.Send(frame)
}

// Read returns the next frame, failing the test after DefaultEventTimeout.
func (c *WSClient) Read() Frame {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(DefaultEventTimeout)))
	_, data, err := c.conn.ReadMessage()
	require.NoError(c.t, err, "read frame")
	var f Frame
	require.NoError(c.t, json.Unmarshal(data, &f), "decode frame %s", data)
	return f
}

// ReadUntil reads frames until one has the given event. It returns every
// frame read, the matching one last.
func (c *WSClient) ReadUntil(event string) []Frame {
	c.t.Helper()
	var frames []Frame
	for {
		f := c.Read()
		frames = append(frames, f)
		if f.Event() == event {
			return frames
		}
	}
}

// Close closes the underlying connection.
func (c *WSClient) Close() {
	_ = c.conn.Close()
}
