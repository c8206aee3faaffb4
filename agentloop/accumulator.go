package agentloop

import (
	"strings"

	"github.com/martinemde/mercury/history"
	"github.com/martinemde/mercury/timeline"
)

// pendingCall is a tool call awaiting dispatch.
type pendingCall struct {
	eventID string
	call    history.ToolCall
}

// accumulator gathers one streamed model turn. It is created when the
// stream opens and dropped when it ends, so every turn starts new thought
// and text events.
type accumulator struct {
	store *timeline.Store

	thoughtID string
	thought   strings.Builder
	textID    string
	text      strings.Builder

	fragments []history.Fragment
	calls     []pendingCall
}

func newAccumulator(store *timeline.Store) *accumulator {
	return &accumulator{store: store}
}

// add records one fragment in arrival order. The fragment is kept as
// received, token included.
func (a *accumulator) add(f history.Fragment) {
	switch f.Kind {
	case history.FragmentThought:
		if f.Text != "" {
			if a.thoughtID == "" {
				a.thoughtID = a.store.Add(timeline.AgentThought(""))
			}
			a.thought.WriteString(f.Text)
			a.store.Update(a.thoughtID, timeline.SetContent(a.thought.String()))
		}
	case history.FragmentText:
		if f.Text != "" {
			if a.textID == "" {
				a.textID = a.store.Add(timeline.AgentText(""))
			}
			a.text.WriteString(f.Text)
			a.store.Update(a.textID, timeline.SetContent(a.text.String()))
		}
	case history.FragmentToolCall:
		if f.Call == nil {
			return
		}
		id := a.store.Add(timeline.ToolCall(f.Call.Name, f.Call.Args))
		a.calls = append(a.calls, pendingCall{eventID: id, call: *f.Call})
	default:
		return
	}
	a.fragments = append(a.fragments, f)
}
