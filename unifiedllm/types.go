package unifiedllm

import (
	"github.com/martinemde/mercury/history"
)

// ToolDefinition describes a callable tool to the model.
type ToolDefinition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// Request is one streamed model call built from a history snapshot.
type Request struct {
	Provider string
	Model    string
	System   string
	Turns    []history.Turn
	Tools    []ToolDefinition

	Temperature *float64
	// ThinkingBudget enables reasoning output when positive.
	ThinkingBudget int
	MaxTokens      int
}

// FinishReason describes why generation stopped.
type FinishReason struct {
	Reason string `json:"reason"` // "stop", "length", "tool_calls", "content_filter", "other"
	Raw    string `json:"raw,omitempty"`
}

// Usage tracks token consumption of one call.
type Usage struct {
	InputTokens     int `json:"input_tokens"`
	OutputTokens    int `json:"output_tokens"`
	TotalTokens     int `json:"total_tokens"`
	ReasoningTokens int `json:"reasoning_tokens,omitempty"`
}

// Add returns the sum of u and other.
func (u Usage) Add(other Usage) Usage {
	return Usage{
		InputTokens:     u.InputTokens + other.InputTokens,
		OutputTokens:    u.OutputTokens + other.OutputTokens,
		TotalTokens:     u.TotalTokens + other.TotalTokens,
		ReasoningTokens: u.ReasoningTokens + other.ReasoningTokens,
	}
}

// StreamEventType identifies the kind of stream event.
type StreamEventType string

const (
	StreamStart  StreamEventType = "stream_start"
	StreamChunk  StreamEventType = "chunk"
	StreamFinish StreamEventType = "finish"
	StreamError  StreamEventType = "error"
)

// StreamEvent is one event of a streamed model turn. Chunk events carry
// fragments in arrival order; tokens on them are provider-issued and must be
// kept verbatim.
type StreamEvent struct {
	Type         StreamEventType
	Fragments    []history.Fragment
	FinishReason *FinishReason
	Usage        *Usage
	Error        error
}

// Chunk creates a chunk event.
func Chunk(frags ...history.Fragment) StreamEvent {
	return StreamEvent{Type: StreamChunk, Fragments: frags}
}

// Finish creates a finish event.
func Finish(reason string, usage *Usage) StreamEvent {
	return StreamEvent{Type: StreamFinish, FinishReason: &FinishReason{Reason: reason, Raw: reason}, Usage: usage}
}

// Failure creates an error event.
func Failure(err error) StreamEvent {
	return StreamEvent{Type: StreamError, Error: err}
}
