package unifiedllm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"google.golang.org/genai"

	"github.com/martinemde/mercury/history"
)

// geminiServer serves canned SSE bodies for streamGenerateContent and keeps
// the request bodies it received.
type geminiServer struct {
	*httptest.Server
	mu     sync.Mutex
	bodies []string
}

func newGeminiServer(t *testing.T, status int, chunks ...string) *geminiServer {
	t.Helper()
	gs := &geminiServer{}
	gs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gs.mu.Lock()
		gs.bodies = append(gs.bodies, string(b))
		gs.mu.Unlock()
		if !strings.Contains(r.URL.Path, "streamGenerateContent") {
			http.NotFound(w, r)
			return
		}
		if status != http.StatusOK {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			fmt.Fprintf(w, `{"error":{"code":%d,"message":"quota exhausted","status":"RESOURCE_EXHAUSTED"}}`, status)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, c := range chunks {
			fmt.Fprintf(w, "data: %s\n\n", c)
		}
	}))
	t.Cleanup(gs.Close)
	return gs
}

func newTestGemini(t *testing.T, url string) *GeminiAdapter {
	t.Helper()
	a, err := NewGeminiAdapter(context.Background(), "test-key", WithGeminiBaseURL(url))
	if err != nil {
		t.Fatal(err)
	}
	return a
}

func TestGeminiStreamFragmentsInOrder(t *testing.T) {
	srv := newGeminiServer(t, http.StatusOK,
		`{"candidates":[{"content":{"role":"model","parts":[{"text":"Planning the read","thought":true,"thoughtSignature":"c2lnLXRob3VnaHQ="}]}}]}`,
		`{"candidates":[{"content":{"role":"model","parts":[{"text":"Let me "}]}}]}`,
		`{"candidates":[{"content":{"role":"model","parts":[{"text":"check."},{"functionCall":{"name":"file_read","args":{"path":"main.go"}},"thoughtSignature":"c2lnLWNhbGw="}]},"finishReason":"STOP"}],"usageMetadata":{"promptTokenCount":12,"candidatesTokenCount":8,"totalTokenCount":20}}`,
	)
	a := newTestGemini(t, srv.URL)

	ch, err := a.Stream(context.Background(), Request{Model: "gemini-flash-latest", Turns: []history.Turn{history.UserText("read main.go")}})
	if err != nil {
		t.Fatal(err)
	}
	var frags []history.Fragment
	var finish StreamEvent
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

	if len(frags) != 4 {
		t.Fatalf("fragments = %+v", frags)
	}
	if frags[0].Kind != history.FragmentThought || string(frags[0].Token) != "sig-thought" {
		t.Errorf("thought = %+v", frags[0])
	}
	if frags[1].Text != "Let me " || frags[2].Text != "check." {
		t.Errorf("text fragments = %+v %+v", frags[1], frags[2])
	}
	if frags[3].Call.Name != "file_read" || string(frags[3].Token) != "sig-call" {
		t.Errorf("call = %+v", frags[3])
	}
	var args map[string]string
	if err := json.Unmarshal(frags[3].Call.Args, &args); err != nil || args["path"] != "main.go" {
		t.Errorf("args = %s", frags[3].Call.Args)
	}
	if finish.FinishReason == nil || finish.FinishReason.Reason != "tool_calls" {
		t.Errorf("finish = %+v", finish.FinishReason)
	}
	if finish.Usage == nil || finish.Usage.TotalTokens != 20 {
		t.Errorf("usage = %+v", finish.Usage)
	}
}

func TestGeminiReplaysTokensVerbatim(t *testing.T) {
	srv := newGeminiServer(t, http.StatusOK, `{"candidates":[{"content":{"role":"model","parts":[{"text":"done"}]},"finishReason":"STOP"}]}`)
	a := newTestGemini(t, srv.URL)

	tok := history.Token{0x00, 0xff, 0x10, 'x'}
	turns := []history.Turn{
		history.UserText("go"),
		history.ModelTurn([]history.Fragment{
			history.ThoughtFragment("thinking", tok),
			history.ToolCallFragment("", "file_read", json.RawMessage(`{"path":"a"}`), tok),
		}),
		history.ToolResults([]history.Fragment{history.ToolResultFragment("", "file_read", map[string]any{"success": true})}),
	}
	ch, err := a.Stream(context.Background(), Request{Model: "gemini-flash-latest", Turns: turns})
	if err != nil {
		t.Fatal(err)
	}
	drain(ch)

	srv.mu.Lock()
	body := srv.bodies[0]
	srv.mu.Unlock()
	want := `"thoughtSignature":"AP8QeA=="`
	if strings.Count(body, want) != 2 {
		t.Errorf("request body does not carry the token twice: %s", body)
	}
	if !strings.Contains(body, `"functionResponse"`) {
		t.Errorf("missing function response: %s", body)
	}
}

func TestGeminiOpenErrorIsClassified(t *testing.T) {
	srv := newGeminiServer(t, http.StatusTooManyRequests)
	a := newTestGemini(t, srv.URL)

	_, err := a.Stream(context.Background(), Request{Model: "gemini-flash-latest", Turns: []history.Turn{history.UserText("hi")}})
	var rl *RateLimitError
	if !errors.As(err, &rl) {
		t.Fatalf("err = %T %v", err, err)
	}
	if !IsRetryable(err) {
		t.Error("429 should be retryable")
	}
}

func TestGeminiContentsOnePartPerFragment(t *testing.T) {
	contents, err := geminiContents([]history.Turn{
		history.ModelTurn([]history.Fragment{
			history.TextFragment("a"),
			history.TextFragment("b"),
		}),
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(contents) != 1 || contents[0].Role != genai.RoleModel || len(contents[0].Parts) != 2 {
		t.Errorf("contents = %+v", contents[0])
	}
}

func TestGeminiContentsSkipEmptyTurns(t *testing.T) {
	contents, err := geminiContents([]history.Turn{
		history.UserText("first"),
		history.ModelTurn(nil),
		history.UserText("second"),
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(contents) != 2 || contents[0].Role != genai.RoleUser || contents[1].Role != genai.RoleUser {
		t.Errorf("contents = %+v", contents)
	}
}

func TestGeminiSchema(t *testing.T) {
	s := geminiSchema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path":  map[string]any{"type": "string", "description": "file path"},
			"items": map[string]any{"type": "array", "items": map[string]any{"type": "string", "enum": []any{"a", "b"}}},
		},
		"required": []string{"path"},
	})
	if s.Type != genai.TypeObject || s.Properties["path"].Type != genai.TypeString || s.Properties["path"].Description != "file path" {
		t.Errorf("schema = %+v", s)
	}
	if s.Properties["items"].Items == nil || len(s.Properties["items"].Items.Enum) != 2 {
		t.Errorf("array schema = %+v", s.Properties["items"])
	}
	if len(s.Required) != 1 || s.Required[0] != "path" {
		t.Errorf("required = %v", s.Required)
	}
}

func TestResponseMap(t *testing.T) {
	type payload struct {
		Success bool   `json:"success"`
		Data    string `json:"data"`
	}
	if m := responseMap(payload{true, "x"}); m["success"] != true || m["data"] != "x" {
		t.Errorf("struct payload = %v", m)
	}
	if m := responseMap([]int{1, 2}); m["result"] == nil {
		t.Errorf("array payload = %v", m)
	}
}
