package tools

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"
)

// LatencyFunc returns the artificial delay for a mock call.
type LatencyFunc func(Name) time.Duration

// NoLatency disables mock delays.
func NoLatency(Name) time.Duration { return 0 }

const maxMockLatency = 4500 * time.Millisecond

// DefaultLatency mirrors a live sandbox: web calls are slowest, shell calls
// vary widely, the rest land between 0.8s and 3s.
func DefaultLatency(n Name) time.Duration {
	var ms float64
	switch {
	case n.Namespace() == NamespaceWeb:
		ms = 1500 + rand.Float64()*2000
	case n == TerminalBash:
		ms = 1000 + rand.Float64()*3000
	default:
		ms = 800 + rand.Float64()*2200
	}
	return min(time.Duration(ms)*time.Millisecond, maxMockLatency)
}

type mockFunc func(args Args) any

// NewMockRegistry builds a registry of deterministic demonstration executors.
// Tools holding real local state (the to-do store) are not part of it.
func NewMockRegistry(latency LatencyFunc) *Registry {
	if latency == nil {
		latency = NoLatency
	}
	r := NewRegistry()
	for name, fn := range mockTable {
		r.Register(name, mockExecutor(name, fn, latency))
	}
	return r
}

func mockExecutor(name Name, fn mockFunc, latency LatencyFunc) Executor {
	return func(ctx context.Context, args Args) Result {
		if d := latency(name); d > 0 {
			timer := time.NewTimer(d)
			defer timer.Stop()
			select {
			case <-ctx.Done():
				return Fail(ctx.Err().Error())
			case <-timer.C:
			}
		}
		return OK(fn(args))
	}
}

var mockTable = map[Name]mockFunc{
	FileRead: func(a Args) any {
		path := a.StringOr("path", "")
		from, to := 1, 10
		if s, ok := a.Int("startLine"); ok {
			if e, ok := a.Int("endLine"); ok {
				from, to = s, e
			}
		}
		return map[string]any{
			"path": path,
			"content": fmt.Sprintf("// File: %s\n// This is mock content for demonstration.\n\n"+
				"package main\n\nfunc main() {\n\tprintln(\"hello world\")\n}\n", path),
			"lines": map[string]int{"from": from, "to": to},
			"size":  256,
		}
	},
	FileWrite: func(a Args) any {
		path := a.StringOr("path", "")
		content, _ := a.String("content")
		return map[string]any{
			"path":         path,
			"bytesWritten": len(content),
			"message":      "File created at " + path,
		}
	},
	FileEdit: func(a Args) any {
		path := a.StringOr("path", "")
		return map[string]any{
			"path":         path,
			"replacements": 1,
			"message":      "Replaced content in " + path,
		}
	},
	FileDelete: func(a Args) any {
		path := a.StringOr("path", "")
		return map[string]any{"path": path, "message": "Deleted " + path}
	},
	FileList: func(a Args) any {
		return map[string]any{
			"path": a.StringOr("path", "."),
			"entries": []map[string]any{
				{"name": "main.go", "type": "file", "size": 2048},
				{"name": "go.mod", "type": "file", "size": 512},
				{"name": "internal", "type": "directory", "children": 5},
				{"name": "README.md", "type": "file", "size": 1024},
				{"name": "cmd", "type": "directory", "children": 3},
			},
			"total": 5,
		}
	},
	TerminalBash: func(a Args) any {
		command, _ := a.String("command")
		lower := strings.ToLower(command)
		out := map[string]any{"stderr": "", "exitCode": 0}
		switch {
		case strings.Contains(lower, "go test"):
			out["stdout"] = "ok  \texample.com/app\t0.412s"
			out["duration"] = 2300
		case strings.Contains(lower, "go build"), strings.Contains(lower, "make"):
			out["stdout"] = ""
			out["duration"] = 500
		case strings.Contains(lower, "git"):
			out["stdout"] = "On branch main\nYour branch is up to date.\n\nnothing to commit, working tree clean"
			out["duration"] = 150
		default:
			out["stdout"] = fmt.Sprintf("$ %s\n[Command executed successfully]", command)
			out["duration"] = 100
		}
		return out
	},
	TerminalGrep: func(a Args) any {
		pattern, _ := a.String("pattern")
		return map[string]any{
			"pattern": pattern,
			"matches": []map[string]any{
				{"file": "main.go", "line": 15, "content": "\tresult := " + pattern},
				{"file": "internal/util/helpers.go", "line": 42, "content": "\t// " + pattern + " implementation"},
				{"file": "internal/ui/button.go", "line": 8, "content": "\t" + pattern + " bool"},
			},
			"totalMatches":  3,
			"filesSearched": 24,
		}
	},
	TerminalGlob: func(a Args) any {
		pattern, _ := a.String("pattern")
		return map[string]any{
			"pattern": pattern,
			"matches": []string{
				"main.go",
				"internal/ui/button.go",
				"internal/ui/input.go",
				"internal/auth/auth.go",
				"internal/util/helpers.go",
			},
			"total": 5,
		}
	},
	WebSearch: func(a Args) any {
		query, _ := a.String("query")
		total, ok := a.Int("numResults")
		if !ok || total <= 0 {
			total = 3
		}
		slug := strings.Join(strings.Fields(query), "-")
		return map[string]any{
			"query": query,
			"results": []map[string]string{
				{
					"title":   query + " - Official Documentation",
					"url":     "https://docs.example.com/" + slug,
					"snippet": "Learn everything about " + query + ". Comprehensive guide with examples.",
				},
				{
					"title":   "How to use " + query + " - Stack Overflow",
					"url":     "https://stackoverflow.com/questions/example",
					"snippet": "Top-rated answer explaining " + query + " with code examples.",
				},
				{
					"title":   query + " Tutorial",
					"url":     "https://medium.com/example",
					"snippet": "A step-by-step tutorial on implementing " + query + " in your project.",
				},
			},
			"totalResults": total,
		}
	},
	WebFetch: func(a Args) any {
		url, _ := a.String("url")
		return map[string]any{
			"url":         url,
			"status":      200,
			"contentType": "text/html",
			"content":     "Content from " + url + "\n\nThis is mock content representing the fetched page.",
			"headers": map[string]string{
				"content-type":  "text/html; charset=utf-8",
				"cache-control": "max-age=3600",
			},
		}
	},
	WebAnswer: func(a Args) any {
		query, _ := a.String("query")
		return map[string]any{
			"query":  query,
			"answer": "This is a mock answer to: " + query,
			"citations": []map[string]string{
				{"title": query + " - Official Documentation", "url": "https://docs.example.com/"},
			},
		}
	},
	PlannerReadArtifact: func(a Args) any {
		name := a.StringOr("name", "task.md")
		return map[string]any{
			"name":    name,
			"content": "# Task\n\n- [x] Explore the project\n- [/] Implement the change\n- [ ] Verify\n",
		}
	},
	PlannerWriteArtifact: func(a Args) any {
		name := a.StringOr("name", "task.md")
		content, _ := a.String("content")
		return map[string]any{
			"name":         name,
			"bytesWritten": len(content),
			"message":      "Artifact saved: " + name,
		}
	},
	GitHubListRepos: func(Args) any {
		return map[string]any{
			"repos": []map[string]any{
				{"fullName": "octocat/hello-world", "name": "hello-world", "private": false, "defaultBranch": "main"},
				{"fullName": "octocat/spoon-knife", "name": "spoon-knife", "private": false, "defaultBranch": "main"},
			},
			"total": 2,
		}
	},
	GitHubHydrateRepo: func(a Args) any {
		full := a.StringOr("fullName", "octocat/hello-world")
		_, name, _ := strings.Cut(full, "/")
		return map[string]any{
			"repo":        full,
			"projectRoot": "/home/user/" + name,
			"phase":       "complete",
		}
	},
	GitHubCreatePullRequest: func(a Args) any {
		title, _ := a.String("title")
		return map[string]any{
			"number": 1,
			"url":    "https://github.com/octocat/hello-world/pull/1",
			"title":  title,
		}
	},
	BrowserNavigate: func(a Args) any {
		url, _ := a.String("url")
		return map[string]any{"url": url, "title": "Mock Page"}
	},
	BrowserClick: func(a Args) any {
		x, _ := a.Float("x")
		y, _ := a.Float("y")
		return map[string]any{"x": x, "y": y, "button": a.StringOr("button", "left")}
	},
	BrowserType: func(a Args) any {
		text, _ := a.String("text")
		return map[string]any{"typed": len(text)}
	},
	BrowserPress: func(a Args) any {
		return map[string]any{"key": a.StringOr("key", "")}
	},
	BrowserScroll: func(a Args) any {
		dx, _ := a.Float("dx")
		dy, _ := a.Float("dy")
		return map[string]any{"dx": dx, "dy": dy}
	},
	BrowserScreenshot: func(a Args) any {
		name := a.StringOr("name", "screenshot.png")
		return map[string]any{"path": "artifacts/" + name, "bytes": 0}
	},
}
