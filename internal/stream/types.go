// Package stream owns the single persistent connection between a novelsync
// client and the writing backend: the wire envelope, the event dispatcher,
// the transport abstraction and the reconnecting connection manager.
package stream

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Internal protocol events. The manager sends connect/ping itself and consumes
// pong/connected replies without forwarding them to subscribers.
const (
	EventConnect   = "connect"
	EventPing      = "ping"
	EventPong      = "pong"
	EventConnected = "connected"
)

// ErrMissingEvent is returned by ParseMessage for frames without an event name.
var ErrMissingEvent = errors.New("message has no event field")

// Message is one inbound frame. Every frame carries a top-level "event";
// the remaining payload shape depends on it and is decoded on demand.
type Message struct {
	// Event is the routing key.
	Event string `json:"event"`

	// Raw holds the complete frame as received.
	Raw json.RawMessage `json:"-"`
}

// ParseMessage extracts the event name from a raw JSON frame.
func ParseMessage(data []byte) (*Message, error) {
	var head struct {
		Event string `json:"event"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("failed to unmarshal message: %w", err)
	}
	if head.Event == "" {
		return nil, ErrMissingEvent
	}
	raw := make(json.RawMessage, len(data))
	copy(raw, data)
	return &Message{Event: head.Event, Raw: raw}, nil
}

// Decode unmarshals the full frame into v.
func (m *Message) Decode(v any) error {
	if err := json.Unmarshal(m.Raw, v); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", m.Event, err)
	}
	return nil
}

// isInternal reports whether the event is a keep-alive reply owned by the manager.
func isInternal(event string) bool {
	return event == EventPong || event == EventConnected
}

// Envelope is the minimal outbound frame used for payload-free events.
type Envelope struct {
	Event string `json:"event"`
}

// ConnectMessage is the handshake sent once per successful open.
func ConnectMessage() Envelope {
	return Envelope{Event: EventConnect}
}

// PingMessage is the heartbeat frame.
func PingMessage() Envelope {
	return Envelope{Event: EventPing}
}
