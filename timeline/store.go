package timeline

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// ChangeKind identifies what happened to the store.
type ChangeKind string

const (
	ChangeAdded   ChangeKind = "added"
	ChangeUpdated ChangeKind = "updated"
	ChangeReset   ChangeKind = "reset"
)

// Change is delivered to subscribers after every mutation.
type Change struct {
	Kind  ChangeKind
	Event Event
}

// Store is an append/patch-only event log. Append order is render order.
type Store struct {
	mu     sync.RWMutex
	events []Event
	index  map[string]int
	subs   map[int]chan Change
	nextID int
	now    func() time.Time
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		index: make(map[string]int),
		subs:  make(map[int]chan Change),
		now:   time.Now,
	}
}

// Add appends an event, assigning an id when none is supplied, and returns
// the id.
func (s *Store) Add(e Event) string {
	s.mu.Lock()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now()
	}
	if _, dup := s.index[e.ID]; dup {
		// Ids are unique for the life of an event; a duplicate gets a fresh one.
		e.ID = uuid.NewString()
	}
	s.index[e.ID] = len(s.events)
	s.events = append(s.events, e)
	s.mu.Unlock()

	s.publish(Change{Kind: ChangeAdded, Event: e})
	return e.ID
}

// Update applies a patch to the event with the given id. Unknown ids are a
// no-op and report false.
func (s *Store) Update(id string, p Patch) bool {
	s.mu.Lock()
	i, ok := s.index[id]
	if !ok {
		s.mu.Unlock()
		return false
	}
	p.apply(&s.events[i])
	updated := s.events[i]
	s.mu.Unlock()

	s.publish(Change{Kind: ChangeUpdated, Event: updated})
	return true
}

// Get returns the event with the given id.
func (s *Store) Get(id string) (Event, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.index[id]
	if !ok {
		return Event{}, false
	}
	return s.events[i], true
}

// Events returns a copy of the log in render order.
func (s *Store) Events() []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

// Len returns the number of events.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

// Reset clears the log.
func (s *Store) Reset() {
	s.mu.Lock()
	s.events = nil
	s.index = make(map[string]int)
	s.mu.Unlock()

	s.publish(Change{Kind: ChangeReset})
}

// Subscribe returns a channel of changes and a cancel func. Delivery never
// blocks the writer: when a subscriber's buffer is full the change is
// dropped for that subscriber.
func (s *Store) Subscribe(buffer int) (<-chan Change, func()) {
	if buffer <= 0 {
		buffer = 256
	}
	ch := make(chan Change, buffer)

	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = ch
	s.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

func (s *Store) publish(c Change) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.subs {
		select {
		case ch <- c:
		default:
		}
	}
}
