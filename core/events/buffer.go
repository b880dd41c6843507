package events

import (
	"sync"

	"packchain/core/types"
)

// Payload is implemented by events that expose their canonical attribute
// form.
type Payload interface {
	Event
	Event() *types.Event
}

// Buffer collects events until the caller decides whether they happened.
// The executor flushes it after a successful commit and resets it otherwise.
type Buffer struct {
	mu     sync.Mutex
	events []Event
}

// Emit implements the Emitter interface.
func (b *Buffer) Emit(evt Event) {
	if evt == nil {
		return
	}
	b.mu.Lock()
	b.events = append(b.events, evt)
	b.mu.Unlock()
}

// Len returns the number of pending events.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events)
}

// Reset drops every pending event.
func (b *Buffer) Reset() {
	b.mu.Lock()
	b.events = nil
	b.mu.Unlock()
}

// Flush forwards pending events to dst in emission order and returns them.
func (b *Buffer) Flush(dst Emitter) []Event {
	b.mu.Lock()
	pending := b.events
	b.events = nil
	b.mu.Unlock()
	if dst != nil {
		for _, evt := range pending {
			dst.Emit(evt)
		}
	}
	return pending
}

// Multi fans every event out to each emitter in order.
type Multi []Emitter

// Emit implements the Emitter interface.
func (m Multi) Emit(evt Event) {
	for _, emitter := range m {
		if emitter != nil {
			emitter.Emit(evt)
		}
	}
}

// Canonical converts events to their attribute form, skipping events that do
// not provide one.
func Canonical(list []Event) []types.Event {
	out := make([]types.Event, 0, len(list))
	for _, evt := range list {
		payload, ok := evt.(Payload)
		if !ok {
			continue
		}
		if canonical := payload.Event(); canonical != nil {
			out = append(out, *canonical)
		}
	}
	return out
}
