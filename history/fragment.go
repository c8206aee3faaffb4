// Package history holds the model-facing transcript: an append-only list of
// role-attributed turns, each an ordered sequence of fragments.
package history

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Role identifies who produced a turn.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// FragmentKind is the discriminator tag for Fragment.
type FragmentKind string

const (
	FragmentText       FragmentKind = "text"
	FragmentThought    FragmentKind = "thought"
	FragmentToolCall   FragmentKind = "tool_call"
	FragmentToolResult FragmentKind = "tool_result"
)

// Token is provider-issued continuation metadata bound to the fragment that
// carried it. It is stored and re-sent byte for byte and never interpreted.
type Token []byte

// Clone returns an independent copy of the token. A nil token stays nil.
func (t Token) Clone() Token {
	if t == nil {
		return nil
	}
	return bytes.Clone(t)
}

// Empty reports whether no token is present.
func (t Token) Empty() bool { return len(t) == 0 }

// ToolCall is a model-issued request to run a tool.
type ToolCall struct {
	ID   string          `json:"id,omitempty"`
	Name string          `json:"name"`
	Args json.RawMessage `json:"args,omitempty"`
}

// ToolResult carries a tool outcome back to the model.
type ToolResult struct {
	ID       string `json:"id,omitempty"`
	Name     string `json:"name"`
	Response any    `json:"response"`
}

// Fragment is a tagged union representing one unit of a turn.
type Fragment struct {
	Kind   FragmentKind `json:"kind"`
	Text   string       `json:"text,omitempty"`
	Token  Token        `json:"token,omitempty"`
	Call   *ToolCall    `json:"call,omitempty"`
	Result *ToolResult  `json:"result,omitempty"`
}

// TextFragment creates a plain text fragment.
func TextFragment(text string) Fragment {
	return Fragment{Kind: FragmentText, Text: text}
}

// ThoughtFragment creates a reasoning fragment with an optional token.
func ThoughtFragment(text string, tok Token) Fragment {
	return Fragment{Kind: FragmentThought, Text: text, Token: tok}
}

// ToolCallFragment creates a tool-call request fragment with an optional token.
func ToolCallFragment(id, name string, args json.RawMessage, tok Token) Fragment {
	return Fragment{
		Kind:  FragmentToolCall,
		Token: tok,
		Call:  &ToolCall{ID: id, Name: name, Args: args},
	}
}

// ToolResultFragment creates a tool-call result fragment.
func ToolResultFragment(id, name string, response any) Fragment {
	return Fragment{
		Kind:   FragmentToolResult,
		Result: &ToolResult{ID: id, Name: name, Response: response},
	}
}

// Clone returns a deep copy of the fragment. Tokens and call arguments are
// copied byte for byte; result payloads are shared since they are treated
// as immutable once built.
func (f Fragment) Clone() Fragment {
	out := f
	out.Token = f.Token.Clone()
	if f.Call != nil {
		call := *f.Call
		if f.Call.Args != nil {
			call.Args = bytes.Clone(f.Call.Args)
		}
		out.Call = &call
	}
	if f.Result != nil {
		res := *f.Result
		out.Result = &res
	}
	return out
}

// Turn is one role-attributed group of fragments.
type Turn struct {
	Role      Role       `json:"role"`
	Fragments []Fragment `json:"fragments"`
}

// UserText creates a user turn holding a single text fragment.
func UserText(text string) Turn {
	return Turn{Role: RoleUser, Fragments: []Fragment{TextFragment(text)}}
}

// ModelTurn creates a model turn from streamed fragments in arrival order.
func ModelTurn(fragments []Fragment) Turn {
	return Turn{Role: RoleModel, Fragments: fragments}
}

// ToolResults creates the user-role turn that batches one round of results.
func ToolResults(fragments []Fragment) Turn {
	return Turn{Role: RoleUser, Fragments: fragments}
}

// Clone returns a deep copy of the turn.
func (t Turn) Clone() Turn {
	out := Turn{Role: t.Role}
	if t.Fragments != nil {
		out.Fragments = make([]Fragment, len(t.Fragments))
		for i, f := range t.Fragments {
			out.Fragments[i] = f.Clone()
		}
	}
	return out
}

// Text returns the concatenation of the turn's text fragments.
func (t Turn) Text() string {
	var sb strings.Builder
	for _, f := range t.Fragments {
		if f.Kind == FragmentText {
			sb.WriteString(f.Text)
		}
	}
	return sb.String()
}

// ToolCalls returns the tool-call requests of the turn in order.
func (t Turn) ToolCalls() []ToolCall {
	var calls []ToolCall
	for _, f := range t.Fragments {
		if f.Kind == FragmentToolCall && f.Call != nil {
			calls = append(calls, *f.Call)
		}
	}
	return calls
}
