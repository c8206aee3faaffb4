// Package tools dispatches model tool calls to executors and normalizes
// every outcome to Result.
package tools

import (
	"encoding/json"
	"fmt"
)

// Result is the uniform outcome of a tool execution.
type Result struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// OK creates a successful Result carrying data.
func OK(data any) Result {
	return Result{Success: true, Data: data}
}

// Fail creates a failed Result with a message.
func Fail(msg string) Result {
	return Result{Success: false, Error: msg}
}

// Failf creates a failed Result with a formatted message.
func Failf(format string, args ...any) Result {
	return Fail(fmt.Sprintf(format, args...))
}

// FromError converts err into a failed Result, or wraps data when err is nil.
func FromError(data any, err error) Result {
	if err != nil {
		return Fail(err.Error())
	}
	return OK(data)
}

// Failed reports whether the result counts as a failure: success is false or
// an error message is present.
func (r Result) Failed() bool {
	return !r.Success || r.Error != ""
}

// Payload is what the model sees: the data when present, otherwise the whole
// result so failures carry their error text.
func (r Result) Payload() any {
	if r.Failed() || r.Data == nil {
		return r
	}
	return r.Data
}

// JSON serializes the result for display.
func (r Result) JSON() string {
	b, err := json.Marshal(r)
	if err != nil {
		return fmt.Sprintf(`{"success":false,"error":%q}`, "unserializable result: "+err.Error())
	}
	return string(b)
}
