// Package timeline keeps the ordered, display-facing log of agent activity.
// Events have stable ids so streaming content and tool state can be patched
// in place without relying on position.
package timeline

import (
	"encoding/json"
	"time"
)

// Kind identifies the variant of an Event.
type Kind string

const (
	KindUserMessage  Kind = "user_message"
	KindAgentThought Kind = "agent_thought"
	KindAgentText    Kind = "agent_text"
	KindToolCall     Kind = "tool_call"
	KindPlanUpdate   Kind = "plan_update"
)

// ToolState is the lifecycle of a ToolCall event.
type ToolState string

const (
	ToolRunning ToolState = "running"
	ToolSuccess ToolState = "success"
	ToolError   ToolState = "error"
)

// PlanStatus is the status of a PlanUpdate event.
type PlanStatus string

const (
	PlanActive    PlanStatus = "active"
	PlanCompleted PlanStatus = "completed"
)

// Event is one renderable unit of agent activity. Which fields are
// meaningful depends on Kind.
type Event struct {
	ID        string          `json:"id"`
	Kind      Kind            `json:"kind"`
	Content   string          `json:"content,omitempty"`
	ToolName  string          `json:"tool_name,omitempty"`
	Args      json.RawMessage `json:"args,omitempty"`
	State     ToolState       `json:"state,omitempty"`
	Result    string          `json:"result,omitempty"`
	Step      string          `json:"step,omitempty"`
	Status    PlanStatus      `json:"status,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// UserMessage creates a user message event.
func UserMessage(content string) Event {
	return Event{Kind: KindUserMessage, Content: content}
}

// AgentThought creates a reasoning event.
func AgentThought(content string) Event {
	return Event{Kind: KindAgentThought, Content: content}
}

// AgentText creates a model text event.
func AgentText(content string) Event {
	return Event{Kind: KindAgentText, Content: content}
}

// ToolCall creates a running tool call event.
func ToolCall(name string, args json.RawMessage) Event {
	return Event{Kind: KindToolCall, ToolName: name, Args: args, State: ToolRunning}
}

// PlanUpdate creates a plan progress event.
func PlanUpdate(step string, status PlanStatus) Event {
	return Event{Kind: KindPlanUpdate, Step: step, Status: status}
}

// Patch lists the fields to overwrite on an existing event. Nil fields are
// left untouched.
type Patch struct {
	Content *string
	State   *ToolState
	Result  *string
	Status  *PlanStatus
}

// SetContent is a Patch that replaces Content.
func SetContent(content string) Patch {
	return Patch{Content: &content}
}

// Finish is a Patch that moves a tool call to its final state.
func Finish(state ToolState, result string) Patch {
	return Patch{State: &state, Result: &result}
}

func (p Patch) apply(e *Event) {
	if p.Content != nil {
		e.Content = *p.Content
	}
	if p.State != nil {
		e.State = *p.State
	}
	if p.Result != nil {
		e.Result = *p.Result
	}
	if p.Status != nil {
		e.Status = *p.Status
	}
}
