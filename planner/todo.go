// Package planner keeps the agent's working plan: a to-do store and a parser
// for markdown checklists written to the artifacts directory.
package planner

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"strconv"
	"sync"
	"time"
)

// Status is the lifecycle state of a to-do.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
)

// ErrTodoNotFound is returned when an id has no to-do.
var ErrTodoNotFound = errors.New("to-do not found")

// ParseStatus validates a status string. Empty yields def.
func ParseStatus(s string, def Status) (Status, error) {
	switch Status(s) {
	case "":
		return def, nil
	case StatusPending, StatusInProgress, StatusCompleted:
		return Status(s), nil
	}
	return "", fmt.Errorf("invalid status %q: want pending, in_progress or completed", s)
}

// Todo is one tracked work item.
type Todo struct {
	ID          string     `json:"id"`
	Content     string     `json:"content"`
	Status      Status     `json:"status"`
	CreatedAt   time.Time  `json:"createdAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// Summary counts to-dos per status.
type Summary struct {
	Pending    int `json:"pending"`
	InProgress int `json:"in_progress"`
	Completed  int `json:"completed"`
}

// Listing is the result of List.
type Listing struct {
	Todos   []Todo  `json:"todos"`
	Total   int     `json:"total"`
	Summary Summary `json:"summary"`
}

// Store holds to-dos for one conversation.
type Store struct {
	mu    sync.Mutex
	todos map[string]*Todo
	order []string
	now   func() time.Time
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		todos: make(map[string]*Todo),
		now:   time.Now,
	}
}

const idAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

func (s *Store) newID() string {
	suffix := make([]byte, 5)
	for i := range suffix {
		suffix[i] = idAlphabet[rand.IntN(len(idAlphabet))]
	}
	return "todo_" + strconv.FormatInt(s.now().UnixMilli(), 10) + "_" + string(suffix)
}

// Create adds a to-do.
func (s *Store) Create(content string, status Status) Todo {
	s.mu.Lock()
	defer s.mu.Unlock()

	if status == "" {
		status = StatusPending
	}
	id := s.newID()
	for s.todos[id] != nil {
		id = s.newID()
	}
	t := &Todo{ID: id, Content: content, Status: status, CreatedAt: s.now()}
	if status == StatusCompleted {
		done := t.CreatedAt
		t.CompletedAt = &done
	}
	s.todos[id] = t
	s.order = append(s.order, id)
	return *t
}

// Update changes the status and, when non-empty, the content of a to-do.
// It returns the previous and the updated to-do.
func (s *Store) Update(id string, status Status, content string) (before, after Todo, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.todos[id]
	if !ok {
		return Todo{}, Todo{}, fmt.Errorf("%w: %s", ErrTodoNotFound, id)
	}
	before = *t
	if status != "" {
		t.Status = status
	}
	if content != "" {
		t.Content = content
	}
	if status == StatusCompleted {
		done := s.now()
		t.CompletedAt = &done
	}
	return before, *t, nil
}

// List returns to-dos in creation order, filtered by status. An empty filter
// or "all" returns everything. The summary always counts the whole store.
func (s *Store) List(filter string) Listing {
	s.mu.Lock()
	defer s.mu.Unlock()

	l := Listing{Todos: []Todo{}}
	for _, id := range s.order {
		t := s.todos[id]
		switch t.Status {
		case StatusPending:
			l.Summary.Pending++
		case StatusInProgress:
			l.Summary.InProgress++
		case StatusCompleted:
			l.Summary.Completed++
		}
		if filter == "" || filter == "all" || string(t.Status) == filter {
			l.Todos = append(l.Todos, *t)
		}
	}
	l.Total = len(l.Todos)
	return l
}

// Delete removes a to-do and reports whether it existed.
func (s *Store) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.todos[id]; !ok {
		return false
	}
	delete(s.todos, id)
	if i := slices.Index(s.order, id); i >= 0 {
		s.order = slices.Delete(s.order, i, i+1)
	}
	return true
}

// Reset removes every to-do.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.todos = make(map[string]*Todo)
	s.order = nil
}
