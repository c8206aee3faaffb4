package history

import "sync"

// History is an append-only conversation log. Committed turns are copied on
// the way in and on the way out, so no caller can mutate them afterwards.
type History struct {
	mu    sync.RWMutex
	turns []Turn
}

// New creates an empty History.
func New() *History {
	return &History{}
}

// Append commits a turn.
func (h *History) Append(t Turn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.turns = append(h.turns, t.Clone())
}

// Snapshot returns a deep copy of every committed turn in order.
func (h *History) Snapshot() []Turn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Turn, len(h.turns))
	for i, t := range h.turns {
		out[i] = t.Clone()
	}
	return out
}

// Len returns the number of committed turns.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.turns)
}

// Last returns the most recent turn, if any.
func (h *History) Last() (Turn, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.turns) == 0 {
		return Turn{}, false
	}
	return h.turns[len(h.turns)-1].Clone(), true
}

// Reset drops every turn. Only an explicit new conversation calls this.
func (h *History) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.turns = nil
}
