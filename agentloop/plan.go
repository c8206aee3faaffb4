package agentloop

import (
	"encoding/json"
	"fmt"

	"github.com/martinemde/mercury/history"
	"github.com/martinemde/mercury/planner"
	"github.com/martinemde/mercury/timeline"
	"github.com/martinemde/mercury/tools"
)

// planUpdates derives PlanUpdate events from a successful planner call:
// a to-do moving to in_progress or completed, or a checklist artifact
// being written.
func planUpdates(call history.ToolCall, res tools.Result) []timeline.Event {
	name, ok := tools.ParseName(call.Name)
	if !ok {
		return nil
	}
	switch name {
	case tools.PlannerCreateTodo, tools.PlannerUpdateTodo:
		var change planner.TodoChange
		if !decode(res.Data, &change) || change.Todo.Content == "" {
			return nil
		}
		switch change.Todo.Status {
		case planner.StatusInProgress:
			return []timeline.Event{timeline.PlanUpdate(change.Todo.Content, timeline.PlanActive)}
		case planner.StatusCompleted:
			return []timeline.Event{timeline.PlanUpdate(change.Todo.Content, timeline.PlanCompleted)}
		}
	case tools.PlannerWriteArtifact:
		var args struct {
			Content string `json:"content"`
		}
		if json.Unmarshal(call.Args, &args) != nil {
			return nil
		}
		cl := planner.ParseChecklist(args.Content)
		switch {
		case cl.Total == 0:
		case cl.CurrentTask != "":
			return []timeline.Event{timeline.PlanUpdate(cl.CurrentTask, timeline.PlanActive)}
		default:
			return []timeline.Event{timeline.PlanUpdate(fmt.Sprintf("All %d tasks complete", cl.Total), timeline.PlanCompleted)}
		}
	}
	return nil
}

// decode copies v into out through JSON, so both typed and map payloads
// are accepted.
func decode(v any, out any) bool {
	b, err := json.Marshal(v)
	if err != nil {
		return false
	}
	return json.Unmarshal(b, out) == nil
}
