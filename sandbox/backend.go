// Package sandbox is the capability facade between tool executors and the
// execution environment: a filesystem/shell backend and an optional browser.
// Every operation returns a normalized tools.Result.
package sandbox

import (
	"context"
	"time"
)

// Entry is one file or directory reported by a backend listing.
type Entry struct {
	Name  string
	Path  string
	IsDir bool
	Size  int64
}

// ExecResult holds the outcome of a shell command.
type ExecResult struct {
	Stdout     string
	Stderr     string
	ExitCode   int
	TimedOut   bool
	DurationMs int64
}

// RunOptions configures a shell command.
type RunOptions struct {
	Dir     string
	Timeout time.Duration
	Env     map[string]string
}

// GrepOptions configures a content search.
type GrepOptions struct {
	Includes        []string
	CaseInsensitive bool
}

// Backend is the execution environment the facade drives. Paths passed in are
// already scoped by the facade.
type Backend interface {
	ReadFile(ctx context.Context, path string) (string, error)
	WriteFile(ctx context.Context, path, content string) error
	Remove(ctx context.Context, path string) error
	List(ctx context.Context, path string, depth int) ([]Entry, error)
	Run(ctx context.Context, command string, opts RunOptions) (*ExecResult, error)
	// Grep returns raw "file:line:content" lines.
	Grep(ctx context.Context, pattern, path string, opts GrepOptions) (string, error)
	Glob(ctx context.Context, pattern, dir string) ([]string, error)
	Close() error
}
