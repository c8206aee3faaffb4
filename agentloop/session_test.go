package agentloop

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/martinemde/mercury/history"
	"github.com/martinemde/mercury/planner"
	"github.com/martinemde/mercury/sandbox"
	"github.com/martinemde/mercury/sourcecontrol"
	"github.com/martinemde/mercury/timeline"
	"github.com/martinemde/mercury/tools"
	"github.com/martinemde/mercury/toolset"
	"github.com/martinemde/mercury/unifiedllm"
	"github.com/martinemde/mercury/websearch"
)

// round is one scripted model reply.
type round struct {
	openErr error
	events  []unifiedllm.StreamEvent
}

// scriptedClient replays rounds in order and records every request.
type scriptedClient struct {
	mu       sync.Mutex
	rounds   []round
	repeat   *round
	requests []unifiedllm.Request
}

func (c *scriptedClient) Stream(ctx context.Context, req unifiedllm.Request) (<-chan unifiedllm.StreamEvent, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests = append(c.requests, req)

	var r round
	switch {
	case len(c.rounds) > 0:
		r = c.rounds[0]
		c.rounds = c.rounds[1:]
	case c.repeat != nil:
		r = *c.repeat
	default:
		return nil, errors.New("script exhausted")
	}
	if r.openErr != nil {
		return nil, r.openErr
	}
	ch := make(chan unifiedllm.StreamEvent, len(r.events))
	for _, ev := range r.events {
		ch <- ev
	}
	close(ch)
	return ch, nil
}

func (c *scriptedClient) sent() []unifiedllm.Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]unifiedllm.Request(nil), c.requests...)
}

type dispatchCall struct {
	name string
	args string
}

// fakeDispatcher records calls and answers through respond.
type fakeDispatcher struct {
	mu      sync.Mutex
	calls   []dispatchCall
	respond func(name string, args json.RawMessage) tools.Result
}

func (d *fakeDispatcher) Execute(_ context.Context, name string, args json.RawMessage) tools.Result {
	d.mu.Lock()
	d.calls = append(d.calls, dispatchCall{name: name, args: string(args)})
	d.mu.Unlock()
	if d.respond == nil {
		return tools.OK(map[string]any{"ok": true})
	}
	return d.respond(name, args)
}

func textRound(parts ...string) round {
	frags := make([]history.Fragment, len(parts))
	for i, p := range parts {
		frags[i] = history.TextFragment(p)
	}
	return round{events: []unifiedllm.StreamEvent{
		{Type: unifiedllm.StreamStart},
		unifiedllm.Chunk(frags...),
		unifiedllm.Finish("stop", &unifiedllm.Usage{InputTokens: 10, OutputTokens: 2}),
	}}
}

func callRound(calls ...history.Fragment) round {
	return round{events: []unifiedllm.StreamEvent{
		unifiedllm.Chunk(calls...),
		unifiedllm.Finish("tool_calls", nil),
	}}
}

func call(id, name, args string) history.Fragment {
	return history.ToolCallFragment(id, name, json.RawMessage(args), nil)
}

func kinds(events []timeline.Event) string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = string(e.Kind)
	}
	return strings.Join(out, ",")
}

func newSession(client StreamClient, d ToolDispatcher, opts ...Option) *Session {
	s := New(client, d, opts...)
	return s
}

func TestListFilesRoundTrip(t *testing.T) {
	client := &scriptedClient{rounds: []round{
		callRound(call("c1", "file_listFiles", `{"path":"/"}`)),
		textRound("Done."),
	}}
	d := &fakeDispatcher{}
	s := newSession(client, d)

	if err := s.SendMessage(context.Background(), "list files"); err != nil {
		t.Fatal(err)
	}

	events := s.Timeline()
	if got := kinds(events); got != "user_message,tool_call,agent_text" {
		t.Fatalf("timeline = %s", got)
	}
	if events[1].State != timeline.ToolSuccess || events[1].ToolName != "file_listFiles" {
		t.Errorf("tool event = %+v", events[1])
	}
	if events[2].Content != "Done." {
		t.Errorf("final text = %q", events[2].Content)
	}

	turns := s.History()
	if len(turns) != 4 {
		t.Fatalf("history has %d turns, want 4", len(turns))
	}
	wantRoles := []history.Role{history.RoleUser, history.RoleModel, history.RoleUser, history.RoleModel}
	for i, r := range wantRoles {
		if turns[i].Role != r {
			t.Errorf("turn %d role = %s, want %s", i, turns[i].Role, r)
		}
	}
	if res := turns[2].Fragments[0].Result; res == nil || res.ID != "c1" || res.Name != "file_listFiles" {
		t.Errorf("result fragment = %+v", turns[2].Fragments[0])
	}
	if s.IsLoading() || s.State() != StateIdle {
		t.Errorf("loading=%v state=%s after send", s.IsLoading(), s.State())
	}
}

func TestEditMissFailsToolButContinues(t *testing.T) {
	rt := sandbox.NewRuntime(sandbox.WithArtifactsDir(t.TempDir()), sandbox.WithRequireProjectRoot(true))
	ts := toolset.New(rt, planner.NewStore(), websearch.NewService(), sourcecontrol.New(), toolset.Options{Mode: tools.ModeLive})
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "main.go"), []byte("package main\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	b, err := sandbox.NewLocalBackend(root)
	if err != nil {
		t.Fatal(err)
	}
	rt.Attach(b)
	rt.SetProjectRoot(root)

	client := &scriptedClient{rounds: []round{
		callRound(call("c1", "file_editFile", `{"path":"main.go","oldContent":"package lib","newContent":"package x"}`)),
		textRound("The file does not contain that text."),
	}}
	s := newSession(client, ts.Dispatcher)
	if err := s.SendMessage(context.Background(), "rename the package"); err != nil {
		t.Fatal(err)
	}

	events := s.Timeline()
	if got := kinds(events); got != "user_message,tool_call,agent_text" {
		t.Fatalf("timeline = %s", got)
	}
	if events[1].State != timeline.ToolError || !strings.Contains(events[1].Result, sandbox.OldContentNotFound) {
		t.Errorf("tool event = %+v", events[1])
	}
	resp, ok := s.History()[2].Fragments[0].Result.Response.(tools.Result)
	if !ok || resp.Error != sandbox.OldContentNotFound {
		t.Errorf("model-visible payload = %#v", s.History()[2].Fragments[0].Result.Response)
	}
	if len(client.sent()) != 2 {
		t.Errorf("loop stopped after the failed tool")
	}
}

func TestUnknownToolIsReportedToModel(t *testing.T) {
	client := &scriptedClient{rounds: []round{
		callRound(call("c1", "file_teleport", `{}`)),
		textRound("That tool does not exist."),
	}}
	s := newSession(client, tools.NewDispatcher(tools.NewRegistry()))
	if err := s.SendMessage(context.Background(), "teleport"); err != nil {
		t.Fatal(err)
	}

	events := s.Timeline()
	if events[1].State != timeline.ToolError || !strings.Contains(events[1].Result, tools.UnknownToolMessage) {
		t.Errorf("tool event = %+v", events[1])
	}
	if last := events[len(events)-1]; last.Content != "That tool does not exist." {
		t.Errorf("loop did not continue: %+v", last)
	}
}

func TestStreamErrorKeepsPartialThought(t *testing.T) {
	client := &scriptedClient{rounds: []round{{events: []unifiedllm.StreamEvent{
		unifiedllm.Chunk(history.ThoughtFragment("Considering the", nil)),
		unifiedllm.Failure(errors.New("connection reset")),
	}}}}
	d := &fakeDispatcher{}
	s := newSession(client, d)

	if err := s.SendMessage(context.Background(), "hello"); err != nil {
		t.Fatal(err)
	}

	events := s.Timeline()
	if got := kinds(events); got != "user_message,agent_thought,agent_text" {
		t.Fatalf("timeline = %s", got)
	}
	if events[1].Content != "Considering the" {
		t.Errorf("partial thought = %q", events[1].Content)
	}
	if events[2].Content != "Error: connection reset" {
		t.Errorf("error event = %q", events[2].Content)
	}
	if s.IsLoading() {
		t.Error("still loading after stream failure")
	}
	if n := len(s.History()); n != 1 {
		t.Errorf("history has %d turns, want only the user turn", n)
	}
	if len(d.calls) != 0 {
		t.Errorf("dispatcher called %d times", len(d.calls))
	}
}

func TestStreamErrorFailsPendingToolCalls(t *testing.T) {
	client := &scriptedClient{rounds: []round{{events: []unifiedllm.StreamEvent{
		unifiedllm.Chunk(call("c1", "file_listFiles", `{}`)),
		unifiedllm.Failure(errors.New("boom")),
	}}}}
	d := &fakeDispatcher{}
	s := newSession(client, d)

	if err := s.SendMessage(context.Background(), "list"); err != nil {
		t.Fatal(err)
	}

	events := s.Timeline()
	if got := kinds(events); got != "user_message,tool_call,agent_text" {
		t.Fatalf("timeline = %s", got)
	}
	if events[1].State != timeline.ToolError || !strings.Contains(events[1].Result, "boom") {
		t.Errorf("tool event = %+v", events[1])
	}
	if len(d.calls) != 0 || len(s.History()) != 1 {
		t.Errorf("dispatched %d calls, history %d turns", len(d.calls), len(s.History()))
	}
}

func TestNamelessToolCallIsReportedToModel(t *testing.T) {
	client := &scriptedClient{rounds: []round{
		callRound(call("c1", "", `{}`)),
		textRound("recovered"),
	}}
	s := newSession(client, tools.NewDispatcher(tools.NewRegistry()))
	if err := s.SendMessage(context.Background(), "go"); err != nil {
		t.Fatal(err)
	}

	events := s.Timeline()
	if got := kinds(events); got != "user_message,tool_call,agent_text" {
		t.Fatalf("timeline = %s", got)
	}
	if events[1].State != timeline.ToolError || !strings.Contains(events[1].Result, tools.UnknownToolMessage) {
		t.Errorf("tool event = %+v", events[1])
	}
	if events[2].Content != "recovered" {
		t.Errorf("final text = %q", events[2].Content)
	}
	if n := len(client.sent()); n != 2 {
		t.Errorf("model called %d times, want 2", n)
	}
	turns := s.History()
	if len(turns) != 4 {
		t.Fatalf("history has %d turns, want 4", len(turns))
	}
	if res := turns[2].Fragments[0].Result; res == nil || res.ID != "c1" {
		t.Errorf("result fragment = %+v", turns[2].Fragments[0])
	}
}

func TestEmptyModelTurnKeepsAlternation(t *testing.T) {
	client := &scriptedClient{rounds: []round{
		{events: []unifiedllm.StreamEvent{unifiedllm.Finish("stop", nil)}},
		textRound("hi"),
	}}
	s := newSession(client, &fakeDispatcher{})
	for _, msg := range []string{"first", "second"} {
		if err := s.SendMessage(context.Background(), msg); err != nil {
			t.Fatal(err)
		}
	}

	turns := s.History()
	want := []history.Role{history.RoleUser, history.RoleModel, history.RoleUser, history.RoleModel}
	if len(turns) != len(want) {
		t.Fatalf("history has %d turns, want %d", len(turns), len(want))
	}
	for i, r := range want {
		if turns[i].Role != r {
			t.Errorf("turn %d role = %s, want %s", i, turns[i].Role, r)
		}
	}
	if len(turns[1].Fragments) != 0 {
		t.Errorf("empty reply committed fragments: %+v", turns[1].Fragments)
	}
	if got := kinds(s.Timeline()); got != "user_message,user_message,agent_text" {
		t.Errorf("timeline = %s", got)
	}
}

func TestStreamOpenErrorIsReported(t *testing.T) {
	client := &scriptedClient{rounds: []round{{openErr: &unifiedllm.AuthenticationError{ProviderError: unifiedllm.ProviderError{SDKError: unifiedllm.SDKError{Message: "bad key"}}}}}}
	s := newSession(client, &fakeDispatcher{})
	if err := s.SendMessage(context.Background(), "hello"); err != nil {
		t.Fatal(err)
	}
	events := s.Timeline()
	last := events[len(events)-1]
	if last.Kind != timeline.KindAgentText || !strings.HasPrefix(last.Content, "Error: ") {
		t.Errorf("last event = %+v", last)
	}
}

func TestTextFragmentsConcatenateIntoOneEvent(t *testing.T) {
	client := &scriptedClient{rounds: []round{{events: []unifiedllm.StreamEvent{
		unifiedllm.Chunk(history.TextFragment("Hel")),
		unifiedllm.Chunk(history.TextFragment("lo, "), history.TextFragment("")),
		unifiedllm.Chunk(history.TextFragment("world.")),
		unifiedllm.Finish("stop", nil),
	}}}}
	s := newSession(client, &fakeDispatcher{})
	if err := s.SendMessage(context.Background(), "greet"); err != nil {
		t.Fatal(err)
	}

	var texts []timeline.Event
	for _, e := range s.Timeline() {
		if e.Kind == timeline.KindAgentText {
			texts = append(texts, e)
		}
	}
	if len(texts) != 1 || texts[0].Content != "Hello, world." {
		t.Errorf("agent text events = %+v", texts)
	}
}

func TestEachTurnStartsFreshEvents(t *testing.T) {
	client := &scriptedClient{rounds: []round{
		{events: []unifiedllm.StreamEvent{
			unifiedllm.Chunk(history.ThoughtFragment("plan", nil), history.TextFragment("Looking.")),
			unifiedllm.Chunk(call("c1", "file_readFile", `{"path":"a"}`)),
		}},
		{events: []unifiedllm.StreamEvent{
			unifiedllm.Chunk(history.ThoughtFragment("more", nil), history.TextFragment("Found it.")),
		}},
	}}
	s := newSession(client, &fakeDispatcher{})
	if err := s.SendMessage(context.Background(), "read a"); err != nil {
		t.Fatal(err)
	}
	want := "user_message,agent_thought,agent_text,tool_call,agent_thought,agent_text"
	if got := kinds(s.Timeline()); got != want {
		t.Errorf("timeline = %s, want %s", got, want)
	}
}

func TestResultsCommittedInIssueOrder(t *testing.T) {
	client := &scriptedClient{rounds: []round{
		callRound(
			call("a", "file_readFile", `{"path":"one"}`),
			call("b", "terminal_bash", `{"command":"ls"}`),
			call("c", "file_readFile", `{"path":"two"}`),
		),
		textRound("ok"),
	}}
	d := &fakeDispatcher{respond: func(name string, args json.RawMessage) tools.Result {
		if name == "terminal_bash" {
			time.Sleep(5 * time.Millisecond)
			return tools.Fail("exit status 1")
		}
		return tools.OK(string(args))
	}}
	s := newSession(client, d)
	if err := s.SendMessage(context.Background(), "go"); err != nil {
		t.Fatal(err)
	}

	if len(d.calls) != 3 || d.calls[0].args != `{"path":"one"}` || d.calls[1].name != "terminal_bash" || d.calls[2].args != `{"path":"two"}` {
		t.Fatalf("dispatch order = %+v", d.calls)
	}

	turns := s.History()
	if len(turns) != 4 {
		t.Fatalf("history has %d turns", len(turns))
	}
	results := turns[2]
	if results.Role != history.RoleUser || len(results.Fragments) != 3 {
		t.Fatalf("result turn = %+v", results)
	}
	for i, id := range []string{"a", "b", "c"} {
		if got := results.Fragments[i].Result.ID; got != id {
			t.Errorf("result %d id = %s, want %s", i, got, id)
		}
	}
	if results.Fragments[0].Result.Response != `{"path":"one"}` {
		t.Errorf("payload should be the data, got %#v", results.Fragments[0].Result.Response)
	}
}

func TestTokensReplayedVerbatim(t *testing.T) {
	sig := history.Token{0x00, 0xff, 0x10, 0x78}
	callSig := history.Token("call-signature")
	client := &scriptedClient{rounds: []round{
		{events: []unifiedllm.StreamEvent{
			unifiedllm.Chunk(history.ThoughtFragment("thinking", sig)),
			unifiedllm.Chunk(history.ToolCallFragment("c1", "file_readFile", json.RawMessage(`{"path":"x"}`), callSig)),
		}},
		textRound("first"),
		textRound("second"),
	}}
	s := newSession(client, &fakeDispatcher{})
	ctx := context.Background()
	if err := s.SendMessage(ctx, "one"); err != nil {
		t.Fatal(err)
	}
	if err := s.SendMessage(ctx, "two"); err != nil {
		t.Fatal(err)
	}

	reqs := client.sent()
	if len(reqs) != 3 {
		t.Fatalf("requests = %d", len(reqs))
	}
	for _, req := range reqs[1:] {
		model := req.Turns[1]
		if string(model.Fragments[0].Token) != string(sig) {
			t.Errorf("thought token = %x", model.Fragments[0].Token)
		}
		if string(model.Fragments[1].Token) != string(callSig) {
			t.Errorf("call token = %q", model.Fragments[1].Token)
		}
	}
}

func TestMaxIterationsStopsLoop(t *testing.T) {
	loop := callRound(call("c", "file_readFile", `{"path":"a"}`))
	client := &scriptedClient{repeat: &loop}
	d := &fakeDispatcher{}
	cfg := DefaultConfig()
	cfg.MaxIterations = 3
	s := newSession(client, d, WithConfig(cfg))

	if err := s.SendMessage(context.Background(), "loop forever"); err != nil {
		t.Fatal(err)
	}

	if n := len(client.sent()); n != 3 {
		t.Errorf("model called %d times, want 3", n)
	}
	if len(d.calls) != 3 {
		t.Errorf("dispatched %d calls, want 3", len(d.calls))
	}
	events := s.Timeline()
	if last := events[len(events)-1]; last.Kind != timeline.KindAgentText || last.Content != MaxIterationsNotice {
		t.Errorf("last event = %+v", last)
	}
	if n := len(s.History()); n != 7 {
		t.Errorf("history has %d turns, want 7", n)
	}
	if s.IsLoading() {
		t.Error("still loading")
	}
}

func TestDefaultMaxIterations(t *testing.T) {
	s := New(&scriptedClient{}, &fakeDispatcher{}, WithConfig(Config{}))
	if s.Config().MaxIterations != DefaultMaxIterations {
		t.Errorf("max iterations = %d", s.Config().MaxIterations)
	}
}

// gatedClient holds its stream open until release is closed.
type gatedClient struct {
	release chan struct{}
}

func (c *gatedClient) Stream(ctx context.Context, _ unifiedllm.Request) (<-chan unifiedllm.StreamEvent, error) {
	ch := make(chan unifiedllm.StreamEvent)
	go func() {
		defer close(ch)
		<-c.release
		ch <- unifiedllm.Chunk(history.TextFragment("late"))
	}()
	return ch, nil
}

func TestSendWhileLoadingIsRejected(t *testing.T) {
	client := &gatedClient{release: make(chan struct{})}
	s := newSession(client, &fakeDispatcher{})

	done := make(chan error, 1)
	go func() { done <- s.SendMessage(context.Background(), "first") }()

	deadline := time.Now().Add(2 * time.Second)
	for !s.IsLoading() {
		if time.Now().After(deadline) {
			t.Fatal("send never started")
		}
		time.Sleep(time.Millisecond)
	}

	if err := s.SendMessage(context.Background(), "second"); !errors.Is(err, ErrBusy) {
		t.Errorf("concurrent send err = %v", err)
	}
	s.ClearConversation()
	if s.timeline.Len() == 0 {
		t.Error("clear must be ignored while loading")
	}

	close(client.release)
	if err := <-done; err != nil {
		t.Fatal(err)
	}
	if got := kinds(s.Timeline()); got != "user_message,agent_text" {
		t.Errorf("timeline = %s", got)
	}
}

func TestClearConversation(t *testing.T) {
	client := &scriptedClient{rounds: []round{textRound("hi"), textRound("again")}}
	s := newSession(client, &fakeDispatcher{})
	ctx := context.Background()
	if err := s.SendMessage(ctx, "hello"); err != nil {
		t.Fatal(err)
	}
	s.ClearConversation()
	if len(s.Timeline()) != 0 || len(s.History()) != 0 {
		t.Fatalf("not cleared: %d events, %d turns", len(s.Timeline()), len(s.History()))
	}
	if err := s.SendMessage(ctx, "fresh"); err != nil {
		t.Fatal(err)
	}
	if turns := client.sent()[1].Turns; len(turns) != 1 || turns[0].Text() != "fresh" {
		t.Errorf("second request turns = %+v", turns)
	}
}

func TestBlankMessageIgnored(t *testing.T) {
	client := &scriptedClient{}
	s := newSession(client, &fakeDispatcher{})
	if err := s.SendMessage(context.Background(), "  \n\t"); err != nil {
		t.Fatal(err)
	}
	if len(s.Timeline()) != 0 || len(client.sent()) != 0 {
		t.Error("blank message reached the loop")
	}
}

func TestPlanUpdates(t *testing.T) {
	client := &scriptedClient{rounds: []round{
		callRound(
			call("t1", "planner_updateTodo", `{"id":"todo_1","status":"in_progress"}`),
			call("t2", "planner_writeArtifact", `{"name":"plan.md","content":"- [x] scaffold\n- [ ] write tests\n- [ ] ship"}`),
			call("t3", "planner_updateTodo", `{"id":"todo_1","status":"completed"}`),
		),
		textRound("Planned."),
	}}
	statuses := []planner.Status{planner.StatusInProgress, planner.StatusCompleted}
	d := &fakeDispatcher{respond: func(name string, _ json.RawMessage) tools.Result {
		if name == "planner_writeArtifact" {
			return tools.OK(map[string]any{"name": "plan.md"})
		}
		st := statuses[0]
		statuses = statuses[1:]
		return tools.OK(planner.TodoChange{Todo: planner.Todo{ID: "todo_1", Content: "Write tests", Status: st}})
	}}
	s := newSession(client, d)
	if err := s.SendMessage(context.Background(), "plan it"); err != nil {
		t.Fatal(err)
	}

	var plans []timeline.Event
	for _, e := range s.Timeline() {
		if e.Kind == timeline.KindPlanUpdate {
			plans = append(plans, e)
		}
	}
	if len(plans) != 3 {
		t.Fatalf("plan updates = %+v", plans)
	}
	want := []struct {
		step   string
		status timeline.PlanStatus
	}{
		{"Write tests", timeline.PlanActive},
		{"write tests", timeline.PlanActive},
		{"Write tests", timeline.PlanCompleted},
	}
	for i, w := range want {
		if plans[i].Step != w.step || plans[i].Status != w.status {
			t.Errorf("plan %d = %q/%s, want %q/%s", i, plans[i].Step, plans[i].Status, w.step, w.status)
		}
	}
}

func TestFailedPlannerCallEmitsNoPlanUpdate(t *testing.T) {
	if evs := planUpdates(history.ToolCall{Name: "planner_updateTodo"}, tools.Fail("to-do not found")); len(evs) != 0 {
		t.Errorf("events = %+v", evs)
	}
	done := planUpdates(
		history.ToolCall{Name: "planner_writeArtifact", Args: json.RawMessage(`{"content":"- [x] a\n- [x] b"}`)},
		tools.OK(nil),
	)
	if len(done) != 1 || done[0].Step != "All 2 tasks complete" || done[0].Status != timeline.PlanCompleted {
		t.Errorf("completed checklist = %+v", done)
	}
}

func TestLoopEvents(t *testing.T) {
	client := &scriptedClient{rounds: []round{textRound("hi")}}
	s := newSession(client, &fakeDispatcher{})
	if err := s.SendMessage(context.Background(), "hello"); err != nil {
		t.Fatal(err)
	}
	s.Close()

	var (
		states []string
		usage  bool
	)
	for ev := range s.Events() {
		if ev.SessionID != s.ID() {
			t.Errorf("event session = %s", ev.SessionID)
		}
		switch ev.Kind {
		case EventStateChange:
			states = append(states, ev.Data["to"].(string))
		case EventUsage:
			usage = ev.Data["input_tokens"] == 10
		}
	}
	if got := strings.Join(states, ","); got != "sending,streaming,idle" {
		t.Errorf("states = %s", got)
	}
	if !usage {
		t.Error("usage event missing")
	}
}
