package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/martinemde/mercury/timeline"
)

// renderer prints timeline changes as a plain transcript. Streaming events
// are printed incrementally: only the content added since the last change
// is written.
type renderer struct {
	w       io.Writer
	printed map[string]int
	open    string
}

func newRenderer(w io.Writer) *renderer {
	return &renderer{w: w, printed: make(map[string]int)}
}

func (r *renderer) handle(c timeline.Change) {
	if c.Kind == timeline.ChangeReset {
		r.endLine()
		r.printed = make(map[string]int)
		fmt.Fprintln(r.w, "-- conversation cleared --")
		return
	}

	e := c.Event
	switch e.Kind {
	case timeline.KindUserMessage:
	case timeline.KindAgentThought, timeline.KindAgentText:
		r.stream(e)
	case timeline.KindToolCall:
		r.endLine()
		if c.Kind == timeline.ChangeAdded {
			fmt.Fprintf(r.w, "→ %s %s\n", e.ToolName, compact(string(e.Args), 120))
			return
		}
		mark := "✓"
		if e.State == timeline.ToolError {
			mark = "✗"
		}
		fmt.Fprintf(r.w, "%s %s %s\n", mark, e.ToolName, compact(e.Result, 160))
	case timeline.KindPlanUpdate:
		r.endLine()
		fmt.Fprintf(r.w, "▸ plan: %s (%s)\n", e.Step, e.Status)
	}
}

func (r *renderer) stream(e timeline.Event) {
	done := r.printed[e.ID]
	if len(e.Content) <= done {
		return
	}
	if r.open != e.ID {
		r.endLine()
		r.open = e.ID
		if e.Kind == timeline.KindAgentThought {
			fmt.Fprint(r.w, "· ")
		}
	}
	fmt.Fprint(r.w, e.Content[done:])
	r.printed[e.ID] = len(e.Content)
}

// endLine terminates an open streamed line.
func (r *renderer) endLine() {
	if r.open != "" {
		fmt.Fprintln(r.w)
		r.open = ""
	}
}

func compact(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > max {
		return s[:max] + "…"
	}
	return s
}
