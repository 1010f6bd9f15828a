package stream

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Transport is a duplex, message-oriented connection carrying JSON text frames.
// ReadMessage blocks until a frame arrives or the connection fails; a read
// error means the connection is closed.
type Transport interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close() error
}

// Dialer opens Transports.
type Dialer interface {
	Dial(ctx context.Context, url string) (Transport, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context, url string) (Transport, error)

// Dial calls f.
func (f DialerFunc) Dial(ctx context.Context, url string) (Transport, error) {
	return f(ctx, url)
}

// WebSocketDialer dials gorilla/websocket connections.
type WebSocketDialer struct {
	// HandshakeTimeout bounds the opening handshake. Zero uses 10s.
	HandshakeTimeout time.Duration

	// Header is sent with the upgrade request.
	Header http.Header
}

// Dial opens a websocket connection to url.
func (d *WebSocketDialer) Dial(ctx context.Context, url string) (Transport, error) {
	timeout := d.HandshakeTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: timeout,
	}

	conn, resp, err := dialer.DialContext(ctx, url, d.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to dial %s (status %d): %w", url, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("failed to dial %s: %w", url, err)
	}
	return &wsTransport{conn: conn}, nil
}

// wsTransport serializes writes; gorilla connections allow one concurrent
// reader and one concurrent writer.
type wsTransport struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (t *wsTransport) ReadMessage() ([]byte, error) {
	for {
		msgType, data, err := t.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if msgType == websocket.TextMessage {
			return data, nil
		}
		// binary frames are not part of the protocol
	}
}

func (t *wsTransport) WriteMessage(data []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if err := t.conn.SetWriteDeadline(time.Now().Add(10 * time.Second)); err != nil {
		return err
	}
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

func (t *wsTransport) Close() error {
	t.writeMu.Lock()
	_ = t.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client closing"),
		time.Now().Add(time.Second),
	)
	t.writeMu.Unlock()
	return t.conn.Close()
}
