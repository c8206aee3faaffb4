package unifiedllm

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/martinemde/mercury/history"
)

// scriptedAdapter replays fixed events and records each request.
type scriptedAdapter struct {
	name   string
	events []StreamEvent
	// openErrs are returned by successive Stream calls before succeeding.
	openErrs []error

	mu       sync.Mutex
	requests []Request
}

func (s *scriptedAdapter) Name() string { return s.name }

func (s *scriptedAdapter) Stream(ctx context.Context, req Request) (<-chan StreamEvent, error) {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	if len(s.openErrs) > 0 {
		err := s.openErrs[0]
		s.openErrs = s.openErrs[1:]
		s.mu.Unlock()
		return nil, err
	}
	s.mu.Unlock()

	ch := make(chan StreamEvent, len(s.events))
	for _, e := range s.events {
		ch <- e
	}
	close(ch)
	return ch, nil
}

func (s *scriptedAdapter) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

func drain(ch <-chan StreamEvent) []StreamEvent {
	var out []StreamEvent
	for ev := range ch {
		out = append(out, ev)
	}
	return out
}

func fastRetry() RetryPolicy {
	return RetryPolicy{MaxRetries: 2, BaseDelay: 0.001, BackoffMultiplier: 1, MaxDelay: 0.001}
}

func TestClientProviderRouting(t *testing.T) {
	gemini := &scriptedAdapter{name: "gemini", events: []StreamEvent{Finish("stop", nil)}}
	claude := &scriptedAdapter{name: "anthropic", events: []StreamEvent{Finish("stop", nil)}}
	client := NewClient(
		WithProvider("gemini", gemini),
		WithProvider("anthropic", claude),
		WithDefaultProvider("gemini"),
	)

	if _, err := client.Stream(context.Background(), Request{}); err != nil {
		t.Fatal(err)
	}
	if gemini.calls() != 1 || gemini.requests[0].Model != "gemini-flash-latest" {
		t.Errorf("default routing: calls=%d requests=%+v", gemini.calls(), gemini.requests)
	}

	if _, err := client.Stream(context.Background(), Request{Model: "sonnet"}); err != nil {
		t.Fatal(err)
	}
	if claude.calls() != 1 || claude.requests[0].Model != "claude-sonnet-4-5" || claude.requests[0].Provider != "anthropic" {
		t.Errorf("model routing: %+v", claude.requests)
	}

	if _, err := client.Stream(context.Background(), Request{Provider: "openai"}); err == nil {
		t.Error("expected error for unregistered provider")
	}
}

func TestClientNoProvider(t *testing.T) {
	_, err := NewClient().Stream(context.Background(), Request{})
	if _, ok := err.(*ConfigurationError); !ok {
		t.Errorf("err = %T %v", err, err)
	}
}

func TestClientAutoSingleProviderDefault(t *testing.T) {
	client := NewClient(WithProvider("anthropic", &scriptedAdapter{name: "anthropic"}))
	if client.DefaultProvider() != "anthropic" {
		t.Errorf("default = %q", client.DefaultProvider())
	}
}

func TestClientRegisterProvider(t *testing.T) {
	client := NewClient()
	client.RegisterProvider("gemini", &scriptedAdapter{name: "gemini"})
	client.RegisterProvider("openai", &scriptedAdapter{name: "openai"})
	if client.DefaultProvider() != "gemini" {
		t.Errorf("first registered should be default, got %q", client.DefaultProvider())
	}
	if len(client.Providers()) != 2 {
		t.Errorf("providers = %v", client.Providers())
	}
}

func TestClientRetriesStreamOpen(t *testing.T) {
	adapter := &scriptedAdapter{
		name:     "gemini",
		openErrs: []error{ErrorFromStatusCode(503, "overloaded", "gemini", nil, nil)},
		events:   []StreamEvent{Chunk(history.TextFragment("ok")), Finish("stop", nil)},
	}
	client := NewClient(WithProvider("gemini", adapter), WithRetryPolicy(fastRetry()))

	ch, err := client.Stream(context.Background(), Request{})
	if err != nil {
		t.Fatal(err)
	}
	events := drain(ch)
	if adapter.calls() != 2 {
		t.Errorf("calls = %d, want 2", adapter.calls())
	}
	if len(events) != 2 || events[0].Fragments[0].Text != "ok" {
		t.Errorf("events = %+v", events)
	}
}

func TestClientDoesNotRetryAuthFailure(t *testing.T) {
	adapter := &scriptedAdapter{
		name:     "gemini",
		openErrs: []error{ErrorFromStatusCode(401, "bad key", "gemini", nil, nil)},
	}
	client := NewClient(WithProvider("gemini", adapter), WithRetryPolicy(fastRetry()))
	if _, err := client.Stream(context.Background(), Request{}); err == nil {
		t.Fatal("expected error")
	}
	if adapter.calls() != 1 {
		t.Errorf("calls = %d, want 1", adapter.calls())
	}
}

func TestClientStreamMiddlewareOrder(t *testing.T) {
	var order []string
	mw := func(name string) StreamMiddleware {
		return func(ctx context.Context, req Request, next func(context.Context, Request) (<-chan StreamEvent, error)) (<-chan StreamEvent, error) {
			order = append(order, name)
			return next(ctx, req)
		}
	}
	client := NewClient(
		WithProvider("gemini", &scriptedAdapter{name: "gemini", events: []StreamEvent{Finish("stop", nil)}}),
		WithStreamMiddleware(mw("outer"), mw("inner")),
	)
	ch, err := client.Stream(context.Background(), Request{})
	if err != nil {
		t.Fatal(err)
	}
	drain(ch)
	if strings.Join(order, ",") != "outer,inner" {
		t.Errorf("order = %v", order)
	}
}

func TestLoggingMiddlewarePassesEventsThrough(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	events := []StreamEvent{
		{Type: StreamStart},
		Chunk(history.ThoughtFragment("hmm", history.Token("sig"))),
		Chunk(history.TextFragment("hello")),
		Finish("stop", &Usage{InputTokens: 3, OutputTokens: 4}),
	}
	client := NewClient(
		WithProvider("gemini", &scriptedAdapter{name: "gemini", events: events}),
		WithStreamMiddleware(LoggingMiddleware(logger)),
	)
	ch, err := client.Stream(context.Background(), Request{})
	if err != nil {
		t.Fatal(err)
	}
	got := drain(ch)
	if len(got) != len(events) {
		t.Fatalf("got %d events, want %d", len(got), len(events))
	}
	if string(got[1].Fragments[0].Token) != "sig" {
		t.Errorf("token altered: %q", got[1].Fragments[0].Token)
	}
	if !strings.Contains(buf.String(), "model stream finished") || !strings.Contains(buf.String(), "fragments=2") {
		t.Errorf("log = %s", buf.String())
	}
}

func TestDefaultModel(t *testing.T) {
	for provider, want := range map[string]string{
		"gemini":    "gemini-flash-latest",
		"anthropic": "claude-sonnet-4-5",
		"openai":    "gpt-4o-mini",
		"unknown":   "",
	} {
		if got := DefaultModel(provider); got != want {
			t.Errorf("DefaultModel(%q) = %q, want %q", provider, got, want)
		}
	}
	if ResolveModel("haiku") != "claude-haiku-4-5" || ResolveModel("custom-model") != "custom-model" {
		t.Error("ResolveModel mismatch")
	}
	if len(ListModels("gemini")) != 2 || len(ListModels("")) != len(Models) {
		t.Error("ListModels mismatch")
	}
}

func TestUsageAdd(t *testing.T) {
	u := Usage{InputTokens: 1, OutputTokens: 2, TotalTokens: 3}.Add(Usage{InputTokens: 10, OutputTokens: 20, TotalTokens: 30, ReasoningTokens: 5})
	if u != (Usage{InputTokens: 11, OutputTokens: 22, TotalTokens: 33, ReasoningTokens: 5}) {
		t.Errorf("usage = %+v", u)
	}
}

type closingAdapter struct {
	scriptedAdapter
	err error
}

func (c *closingAdapter) Close() error { return c.err }

func TestClientCloseJoinsErrors(t *testing.T) {
	boom := errors.New("boom")
	client := NewClient(
		WithProvider("gemini", &closingAdapter{scriptedAdapter: scriptedAdapter{name: "gemini"}, err: boom}),
		WithProvider("anthropic", &closingAdapter{scriptedAdapter: scriptedAdapter{name: "anthropic"}}),
		WithProvider("openai", &scriptedAdapter{name: "openai"}),
	)
	err := client.Close()
	if !errors.Is(err, boom) || !strings.Contains(err.Error(), "close gemini") {
		t.Errorf("Close() = %v", err)
	}
}
