package server

import (
	"encoding/json"
	"sync"
)

// EventBuffer keeps the most recent client-reported events.
type EventBuffer struct {
	mu       sync.Mutex
	items    []json.RawMessage
	capacity int
}

func NewEventBuffer(capacity int) *EventBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &EventBuffer{capacity: capacity}
}

// Add appends ev, dropping the oldest entry once full.
func (b *EventBuffer) Add(ev json.RawMessage) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.items) == b.capacity {
		copy(b.items, b.items[1:])
		b.items = b.items[:len(b.items)-1]
	}
	b.items = append(b.items, ev)
}

func (b *EventBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}

// Events returns a copy of the buffered events, oldest first.
func (b *EventBuffer) Events() []json.RawMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]json.RawMessage, len(b.items))
	copy(out, b.items)
	return out
}
