package agentloop

import (
	"sync"
	"time"
)

// EventKind identifies a loop lifecycle event.
type EventKind string

const (
	EventStateChange    EventKind = "state_change"
	EventRoundStart     EventKind = "round_start"
	EventUsage          EventKind = "usage"
	EventIterationLimit EventKind = "iteration_limit"
	EventError          EventKind = "error"
	EventCleared        EventKind = "cleared"
)

// LoopEvent is a lifecycle notification from a Session. Timeline content
// is delivered separately through Subscribe.
type LoopEvent struct {
	Kind      EventKind              `json:"kind"`
	Timestamp time.Time              `json:"timestamp"`
	SessionID string                 `json:"session_id"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// EventEmitter delivers loop events on a buffered channel.
type EventEmitter struct {
	sessionID string
	ch        chan LoopEvent
	closed    bool
	mu        sync.Mutex
}

// NewEventEmitter creates an emitter with the given buffer size.
func NewEventEmitter(sessionID string, bufferSize int) *EventEmitter {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &EventEmitter{
		sessionID: sessionID,
		ch:        make(chan LoopEvent, bufferSize),
	}
}

// Emit sends an event. It never blocks: events are dropped when the buffer
// is full or the emitter is closed.
func (e *EventEmitter) Emit(kind EventKind, data map[string]interface{}) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	select {
	case e.ch <- LoopEvent{Kind: kind, Timestamp: time.Now(), SessionID: e.sessionID, Data: data}:
	default:
	}
}

// Events returns the read-only event channel.
func (e *EventEmitter) Events() <-chan LoopEvent {
	return e.ch
}

// Close closes the channel. Safe to call more than once.
func (e *EventEmitter) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.closed {
		e.closed = true
		close(e.ch)
	}
}
