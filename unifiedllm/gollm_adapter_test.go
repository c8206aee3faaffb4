package unifiedllm

import (
	"testing"

	"github.com/martinemde/mercury/history"
)

func TestGollmFragmentsFunctionCallTags(t *testing.T) {
	text := `Reading it now.
<function_call>{"name":"file_read","arguments":{"path":"main.go"}}</function_call>
<function_call>{"name":"terminal_bash","arguments":"{\"command\":\"ls\"}"}</function_call>`

	frags := gollmFragments(text)
	if len(frags) != 3 {
		t.Fatalf("fragments = %+v", frags)
	}
	if frags[0].Kind != history.FragmentText || frags[0].Text != "Reading it now." {
		t.Errorf("text fragment = %+v", frags[0])
	}
	if frags[1].Call.Name != "file_read" || string(frags[1].Call.Args) != `{"path":"main.go"}` {
		t.Errorf("first call = %+v", frags[1].Call)
	}
	if frags[2].Call.Name != "terminal_bash" || string(frags[2].Call.Args) != `{"command":"ls"}` {
		t.Errorf("string-encoded args not decoded: %s", frags[2].Call.Args)
	}
	if frags[1].Call.ID == "" || frags[1].Call.ID == frags[2].Call.ID {
		t.Errorf("call ids = %q, %q", frags[1].Call.ID, frags[2].Call.ID)
	}
}

func TestGollmFragmentsJSONArray(t *testing.T) {
	frags := gollmFragments(`Sure. [{"name":"planner_listTodos","arguments":null}]`)
	if len(frags) != 2 {
		t.Fatalf("fragments = %+v", frags)
	}
	if frags[1].Call.Name != "planner_listTodos" || string(frags[1].Call.Args) != "{}" {
		t.Errorf("call = %+v", frags[1].Call)
	}
}

func TestGollmFragmentsPlainText(t *testing.T) {
	frags := gollmFragments("  just an answer  ")
	if len(frags) != 1 || frags[0].Text != "just an answer" {
		t.Errorf("fragments = %+v", frags)
	}
}

func TestEstimateUsage(t *testing.T) {
	req := Request{System: "abcd", Turns: []history.Turn{history.UserText("12345678")}}
	u := estimateUsage(req, "wxyz")
	if u.InputTokens != 3 || u.OutputTokens != 1 || u.TotalTokens != 4 {
		t.Errorf("usage = %+v", u)
	}
}
