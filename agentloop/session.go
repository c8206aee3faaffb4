package agentloop

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/martinemde/mercury/history"
	"github.com/martinemde/mercury/timeline"
	"github.com/martinemde/mercury/tools"
	"github.com/martinemde/mercury/unifiedllm"
)

// ErrBusy is returned by SendMessage while another send is in flight.
var ErrBusy = errors.New("agent loop is busy")

// MaxIterationsNotice is appended to the timeline when the round cap stops
// a send.
const MaxIterationsNotice = "[System: Max tool call iterations reached]"

// State is the loop's position in its state machine.
type State string

const (
	StateIdle             State = "idle"
	StateSending          State = "sending"
	StateStreaming        State = "streaming"
	StateDispatchingTools State = "dispatching_tools"
)

// StreamClient opens a streamed model call. *unifiedllm.Client satisfies it.
type StreamClient interface {
	Stream(ctx context.Context, req unifiedllm.Request) (<-chan unifiedllm.StreamEvent, error)
}

// ToolDispatcher executes one tool call. *tools.Dispatcher satisfies it.
type ToolDispatcher interface {
	Execute(ctx context.Context, name string, args json.RawMessage) tools.Result
}

// Config holds the per-session model settings.
type Config struct {
	Provider          string   `json:"provider,omitempty"`
	Model             string   `json:"model,omitempty"`
	SystemInstruction string   `json:"system_instruction,omitempty"`
	MaxIterations     int      `json:"max_iterations"`
	Temperature       *float64 `json:"temperature,omitempty"`
	ThinkingBudget    int      `json:"thinking_budget"`
	MaxTokens         int      `json:"max_tokens,omitempty"`
}

// DefaultConfig returns the defaults used when New is given none.
func DefaultConfig() Config {
	temp := DefaultTemperature
	return Config{
		SystemInstruction: SystemInstruction,
		MaxIterations:     DefaultMaxIterations,
		Temperature:       &temp,
		ThinkingBudget:    DefaultThinkingBudget,
	}
}

// Option configures a Session.
type Option func(*Session)

// WithConfig replaces the session config. A zero MaxIterations keeps the
// default.
func WithConfig(cfg Config) Option {
	return func(s *Session) {
		if cfg.MaxIterations <= 0 {
			cfg.MaxIterations = DefaultMaxIterations
		}
		s.cfg = cfg
	}
}

// WithTools replaces the tool definitions sent with each request.
func WithTools(defs []unifiedllm.ToolDefinition) Option {
	return func(s *Session) { s.tools = defs }
}

// WithLogger sets the session logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) { s.logger = l }
}

// Session owns one conversation: its history, its timeline and the loop
// that drives the model. A Session runs one send at a time.
type Session struct {
	id         string
	client     StreamClient
	dispatcher ToolDispatcher
	cfg        Config
	tools      []unifiedllm.ToolDefinition
	history    *history.History
	timeline   *timeline.Store
	emitter    *EventEmitter
	logger     *slog.Logger

	mu      sync.Mutex
	state   State
	loading bool
}

// New creates an idle session.
func New(client StreamClient, dispatcher ToolDispatcher, opts ...Option) *Session {
	id := uuid.NewString()
	s := &Session{
		id:         id,
		client:     client,
		dispatcher: dispatcher,
		cfg:        DefaultConfig(),
		tools:      ToolDefinitions(),
		history:    history.New(),
		timeline:   timeline.NewStore(),
		emitter:    NewEventEmitter(id, 256),
		state:      StateIdle,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("session", id[:8])
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Config returns the session config.
func (s *Session) Config() Config { return s.cfg }

// State returns the current loop state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IsLoading reports whether a send is in flight.
func (s *Session) IsLoading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading
}

// Timeline returns a copy of the timeline in render order.
func (s *Session) Timeline() []timeline.Event {
	return s.timeline.Events()
}

// History returns a copy of the committed conversation.
func (s *Session) History() []history.Turn {
	return s.history.Snapshot()
}

// Subscribe streams timeline changes. Call cancel to stop.
func (s *Session) Subscribe(buffer int) (<-chan timeline.Change, func()) {
	return s.timeline.Subscribe(buffer)
}

// Events returns the loop lifecycle event channel.
func (s *Session) Events() <-chan LoopEvent {
	return s.emitter.Events()
}

// Close stops lifecycle event delivery.
func (s *Session) Close() {
	s.emitter.Close()
}

// ClearConversation empties history and timeline together. It is a no-op
// while a send is in flight.
func (s *Session) ClearConversation() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loading {
		s.logger.Warn("clear ignored while a send is in flight")
		return
	}
	s.history.Reset()
	s.timeline.Reset()
	s.emitter.Emit(EventCleared, nil)
}

// SendMessage runs the loop for one user message and returns once the loop
// is idle again. Blank messages are ignored. Model failures are reported on
// the timeline, not returned.
func (s *Session) SendMessage(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	s.mu.Lock()
	if s.loading {
		s.mu.Unlock()
		return ErrBusy
	}
	s.loading = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.loading = false
		s.mu.Unlock()
		s.setState(StateIdle)
	}()

	s.timeline.Add(timeline.UserMessage(text))
	s.history.Append(history.UserText(text))

	if err := s.run(ctx); err != nil {
		s.logger.Error("agent loop failed", "error", err)
		s.timeline.Add(timeline.AgentText("Error: " + err.Error()))
		s.emitter.Emit(EventError, map[string]interface{}{"error": err.Error()})
	}
	return nil
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	prev := s.state
	s.state = st
	s.mu.Unlock()
	if prev != st {
		s.emitter.Emit(EventStateChange, map[string]interface{}{"from": string(prev), "to": string(st)})
	}
}
