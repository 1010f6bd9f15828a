package state

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// DefaultHistoryCapacity is how many step events the history keeps.
const DefaultHistoryCapacity = 10

// HistoryEntry is a step event stamped with the time it was dispatched.
type HistoryEntry struct {
	Event     StepEvent
	Timestamp time.Time
}

type historyEntryJSON struct {
	Timestamp time.Time       `json:"timestamp"`
	Event     json.RawMessage `json:"event"`
}

func (e HistoryEntry) MarshalJSON() ([]byte, error) {
	raw, err := json.Marshal(e.Event)
	if err != nil {
		return nil, err
	}
	return json.Marshal(historyEntryJSON{Timestamp: e.Timestamp, Event: raw})
}

func (e *HistoryEntry) UnmarshalJSON(data []byte) error {
	var aux historyEntryJSON
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	ev, err := DecodeStepEvent(aux.Event)
	if err != nil {
		return fmt.Errorf("history entry: %w", err)
	}
	e.Event = ev
	e.Timestamp = aux.Timestamp
	return nil
}

// StepHistory is a bounded, newest-first log of step events.
type StepHistory struct {
	mu       sync.Mutex
	entries  []HistoryEntry
	capacity int
	now      func() time.Time
}

// NewStepHistory creates a history holding at most capacity entries.
func NewStepHistory(capacity int) *StepHistory {
	if capacity <= 0 {
		capacity = DefaultHistoryCapacity
	}
	return &StepHistory{capacity: capacity, now: time.Now}
}

// Append stamps ev with the current time and places it at the front,
// dropping the oldest entries beyond capacity.
func (h *StepHistory) Append(ev StepEvent) HistoryEntry {
	h.mu.Lock()
	defer h.mu.Unlock()

	entry := HistoryEntry{Event: ev, Timestamp: h.now()}
	next := make([]HistoryEntry, 0, min(len(h.entries)+1, h.capacity))
	next = append(next, entry)
	for _, e := range h.entries {
		if len(next) == h.capacity {
			break
		}
		next = append(next, e)
	}
	h.entries = next
	return entry
}

// Entries returns a copy of the log, newest first.
func (h *StepHistory) Entries() []HistoryEntry {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]HistoryEntry(nil), h.entries...)
}

func (h *StepHistory) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries)
}

func (h *StepHistory) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = nil
}
