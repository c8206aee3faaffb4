package unifiedllm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/martinemde/mercury/history"
)

type sseEvent struct {
	name string
	data string
}

func newAnthropicServer(t *testing.T, events []sseEvent) (*httptest.Server, func() []string) {
	t.Helper()
	var (
		mu     sync.Mutex
		bodies []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		bodies = append(bodies, string(b))
		mu.Unlock()
		if r.Header.Get("X-Api-Key") != "test-key" {
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, `{"type":"error","error":{"type":"authentication_error","message":"invalid x-api-key"}}`)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, ev := range events {
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.name, ev.data)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, func() []string {
		mu.Lock()
		defer mu.Unlock()
		return append([]string(nil), bodies...)
	}
}

var thinkingToolStream = []sseEvent{
	{"message_start", `{"type":"message_start","message":{"id":"msg_1","type":"message","role":"assistant","model":"claude-sonnet-4-5","content":[],"stop_reason":null,"stop_sequence":null,"usage":{"input_tokens":25,"output_tokens":1}}}`},
	{"content_block_start", `{"type":"content_block_start","index":0,"content_block":{"type":"thinking","thinking":"","signature":""}}`},
	{"content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"thinking_delta","thinking":"Need the "}}`},
	{"content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"thinking_delta","thinking":"file."}}`},
	{"content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"signature_delta","signature":"EqQBsig=="}}`},
	{"content_block_stop", `{"type":"content_block_stop","index":0}`},
	{"content_block_start", `{"type":"content_block_start","index":1,"content_block":{"type":"text","text":""}}`},
	{"content_block_delta", `{"type":"content_block_delta","index":1,"delta":{"type":"text_delta","text":"Reading."}}`},
	{"content_block_stop", `{"type":"content_block_stop","index":1}`},
	{"content_block_start", `{"type":"content_block_start","index":2,"content_block":{"type":"tool_use","id":"toolu_01","name":"file_read","input":{}}}`},
	{"content_block_delta", `{"type":"content_block_delta","index":2,"delta":{"type":"input_json_delta","partial_json":"{\"path\":"}}`},
	{"content_block_delta", `{"type":"content_block_delta","index":2,"delta":{"type":"input_json_delta","partial_json":"\"main.go\"}"}}`},
	{"content_block_stop", `{"type":"content_block_stop","index":2}`},
	{"message_delta", `{"type":"message_delta","delta":{"stop_reason":"tool_use","stop_sequence":null},"usage":{"output_tokens":42}}`},
	{"message_stop", `{"type":"message_stop"}`},
}

func TestAnthropicStreamFragments(t *testing.T) {
	srv, _ := newAnthropicServer(t, thinkingToolStream)
	a, err := NewAnthropicAdapter("test-key", WithAnthropicBaseURL(srv.URL))
	if err != nil {
		t.Fatal(err)
	}

	ch, err := a.Stream(context.Background(), Request{Model: "claude-sonnet-4-5", Turns: []history.Turn{history.UserText("read main.go")}, ThinkingBudget: 2048})
	if err != nil {
		t.Fatal(err)
	}
	var (
		frags  []history.Fragment
		finish StreamEvent
	)
	for ev := range ch {
		switch ev.Type {
		case StreamChunk:
			frags = append(frags, ev.Fragments...)
		case StreamFinish:
			finish = ev
		case StreamError:
			t.Fatal(ev.Error)
		}
	}

	kinds := make([]string, len(frags))
	for i, f := range frags {
		kinds[i] = string(f.Kind)
	}
	if got := strings.Join(kinds, ","); got != "thought,thought,thought,text,tool_call" {
		t.Fatalf("kinds = %s", got)
	}
	if frags[0].Text != "Need the " || frags[1].Text != "file." {
		t.Errorf("thinking deltas = %q %q", frags[0].Text, frags[1].Text)
	}
	if frags[2].Text != "" || string(frags[2].Token) != "EqQBsig==" {
		t.Errorf("signature fragment = %+v", frags[2])
	}
	if frags[4].Call.ID != "toolu_01" || string(frags[4].Call.Args) != `{"path":"main.go"}` {
		t.Errorf("tool call = %+v", frags[4].Call)
	}
	if finish.FinishReason.Reason != "tool_calls" || finish.Usage.InputTokens != 25 || finish.Usage.OutputTokens != 42 {
		t.Errorf("finish = %+v usage = %+v", finish.FinishReason, finish.Usage)
	}
}

func TestAnthropicReplaysSignedThinking(t *testing.T) {
	srv, bodies := newAnthropicServer(t, thinkingToolStream)
	a, err := NewAnthropicAdapter("test-key", WithAnthropicBaseURL(srv.URL))
	if err != nil {
		t.Fatal(err)
	}

	turns := []history.Turn{
		history.UserText("read main.go"),
		history.ModelTurn([]history.Fragment{
			history.ThoughtFragment("Need the ", nil),
			history.ThoughtFragment("file.", nil),
			history.ThoughtFragment("", history.Token("EqQBsig==")),
			history.TextFragment("Reading."),
			history.ToolCallFragment("toolu_01", "file_read", json.RawMessage(`{"path":"main.go"}`), nil),
		}),
		history.ToolResults([]history.Fragment{
			history.ToolResultFragment("toolu_01", "file_read", map[string]any{"success": true, "data": "package main"}),
		}),
	}
	ch, err := a.Stream(context.Background(), Request{Model: "claude-sonnet-4-5", Turns: turns, ThinkingBudget: 2048})
	if err != nil {
		t.Fatal(err)
	}
	drain(ch)

	var req struct {
		Messages []struct {
			Role    string           `json:"role"`
			Content []map[string]any `json:"content"`
		} `json:"messages"`
		Thinking map[string]any `json:"thinking"`
	}
	if err := json.Unmarshal([]byte(bodies()[0]), &req); err != nil {
		t.Fatal(err)
	}
	if len(req.Messages) != 3 {
		t.Fatalf("messages = %+v", req.Messages)
	}
	assistant := req.Messages[1].Content
	if len(assistant) != 3 {
		t.Fatalf("assistant blocks = %+v", assistant)
	}
	if assistant[0]["type"] != "thinking" || assistant[0]["thinking"] != "Need the file." || assistant[0]["signature"] != "EqQBsig==" {
		t.Errorf("thinking block = %+v", assistant[0])
	}
	if assistant[2]["type"] != "tool_use" || assistant[2]["id"] != "toolu_01" {
		t.Errorf("tool_use block = %+v", assistant[2])
	}
	result := req.Messages[2].Content[0]
	if result["type"] != "tool_result" || result["tool_use_id"] != "toolu_01" {
		t.Errorf("tool_result block = %+v", result)
	}
	if req.Thinking["type"] != "enabled" {
		t.Errorf("thinking config = %+v", req.Thinking)
	}
}

func TestAnthropicParamsThinkingAndTemperature(t *testing.T) {
	temp := 0.7
	p, err := anthropicParams(Request{Model: "claude-sonnet-4-5", Temperature: &temp, ThinkingBudget: 32768})
	if err != nil {
		t.Fatal(err)
	}
	if p.MaxTokens <= 32768 {
		t.Errorf("max tokens %d must exceed the thinking budget", p.MaxTokens)
	}
	if p.Temperature.Valid() {
		t.Error("temperature must be omitted with extended thinking")
	}

	p, _ = anthropicParams(Request{Model: "claude-sonnet-4-5", Temperature: &temp})
	if !p.Temperature.Valid() || p.MaxTokens != anthropicDefaultMaxTokens {
		t.Errorf("params = %+v", p)
	}
}

func TestAnthropicMessagesDropsUnsignedThinking(t *testing.T) {
	msgs, err := anthropicMessages([]history.Turn{
		history.ModelTurn([]history.Fragment{
			history.ThoughtFragment("from another provider", nil),
			history.TextFragment("answer"),
		}),
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || len(msgs[0].Content) != 1 || msgs[0].Content[0].OfText == nil {
		t.Errorf("messages = %+v", msgs)
	}
}

func TestAnthropicMessagesMergeAroundEmptyTurn(t *testing.T) {
	msgs, err := anthropicMessages([]history.Turn{
		history.UserText("first"),
		history.ModelTurn(nil),
		history.UserText("second"),
		history.ModelTurn([]history.Fragment{history.TextFragment("hi")}),
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 {
		t.Fatalf("messages = %+v", msgs)
	}
	if msgs[0].Role != anthropic.MessageParamRoleUser || len(msgs[0].Content) != 2 {
		t.Errorf("first message = %+v", msgs[0])
	}
	if msgs[1].Role != anthropic.MessageParamRoleAssistant {
		t.Errorf("second message role = %s", msgs[1].Role)
	}
}

func TestAnthropicAuthError(t *testing.T) {
	srv, _ := newAnthropicServer(t, nil)
	a, err := NewAnthropicAdapter("wrong", WithAnthropicBaseURL(srv.URL))
	if err != nil {
		t.Fatal(err)
	}
	_, err = a.Stream(context.Background(), Request{Model: "claude-sonnet-4-5", Turns: []history.Turn{history.UserText("hi")}})
	if _, ok := err.(*AuthenticationError); !ok {
		t.Errorf("err = %T %v", err, err)
	}
}

func TestToolResultContentFlagsFailures(t *testing.T) {
	content, isErr, err := toolResultContent(failing{})
	if err != nil || !isErr || content != `{"error":"boom"}` {
		t.Errorf("content=%q isErr=%v err=%v", content, isErr, err)
	}
}

type failing struct{}

func (failing) Failed() bool { return true }
func (failing) MarshalJSON() ([]byte, error) {
	return []byte(`{"error":"boom"}`), nil
}
