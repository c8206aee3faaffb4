package history

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestAppendAndSnapshotPreserveOrder(t *testing.T) {
	h := New()
	h.Append(UserText("list files"))
	h.Append(ModelTurn([]Fragment{
		ThoughtFragment("look around", Token("sig-1")),
		ToolCallFragment("c1", "file_listFiles", json.RawMessage(`{"path":"/"}`), nil),
	}))

	snap := h.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("expected 2 turns, got %d", len(snap))
	}
	if snap[0].Role != RoleUser || snap[0].Text() != "list files" {
		t.Errorf("unexpected first turn: %+v", snap[0])
	}
	if snap[1].Role != RoleModel {
		t.Errorf("expected model role, got %q", snap[1].Role)
	}
	if got := snap[1].Fragments[0].Kind; got != FragmentThought {
		t.Errorf("expected thought first, got %q", got)
	}
	calls := snap[1].ToolCalls()
	if len(calls) != 1 || calls[0].Name != "file_listFiles" {
		t.Errorf("unexpected calls: %+v", calls)
	}
}

func TestTokenSurvivesRoundTripsByteIdentical(t *testing.T) {
	raw := []byte{0x00, 0xff, 0x10, 'a', 0x80}
	h := New()
	h.Append(ModelTurn([]Fragment{
		ThoughtFragment("t", Token(raw)),
		ToolCallFragment("c1", "terminal_bash", json.RawMessage(`{"command":"ls"}`), Token(raw)),
	}))

	for i := 0; i < 3; i++ {
		snap := h.Snapshot()
		for _, f := range snap[0].Fragments {
			if !bytes.Equal(f.Token, raw) {
				t.Fatalf("round %d: token changed: %v", i, f.Token)
			}
		}
		// Mutating a snapshot must not leak into the log.
		snap[0].Fragments[0].Token[0] = 0x42
		snap[0].Fragments[1].Call.Args[0] = 'X'
	}

	last, ok := h.Last()
	if !ok {
		t.Fatal("expected a last turn")
	}
	if string(last.Fragments[1].Call.Args) != `{"command":"ls"}` {
		t.Errorf("args mutated through snapshot: %s", last.Fragments[1].Call.Args)
	}
}

func TestAppendCopiesCallerTurn(t *testing.T) {
	frags := []Fragment{ThoughtFragment("x", Token("abc"))}
	h := New()
	h.Append(ModelTurn(frags))

	frags[0].Text = "changed"
	frags[0].Token[0] = 'z'

	got := h.Snapshot()[0].Fragments[0]
	if got.Text != "x" || string(got.Token) != "abc" {
		t.Errorf("committed fragment mutated: %+v", got)
	}
}

func TestNilTokenStaysNil(t *testing.T) {
	f := TextFragment("hi").Clone()
	if f.Token != nil {
		t.Errorf("expected nil token, got %v", f.Token)
	}
	if !f.Token.Empty() {
		t.Error("expected empty token")
	}
}

func TestReset(t *testing.T) {
	h := New()
	h.Append(UserText("a"))
	h.Reset()
	if h.Len() != 0 {
		t.Errorf("expected empty history, got %d", h.Len())
	}
	if _, ok := h.Last(); ok {
		t.Error("expected no last turn")
	}
}
