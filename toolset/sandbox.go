package toolset

import (
	"context"
	"time"

	"github.com/martinemde/mercury/sandbox"
	"github.com/martinemde/mercury/tools"
)

// bindSandbox registers the file_, terminal_, artifact and browser_ tools
// against the runtime facade.
func bindSandbox(r *tools.Registry, rt *sandbox.Runtime) {
	r.Register(tools.FileRead, func(ctx context.Context, a tools.Args) tools.Result {
		p, err := a.Require("path")
		if err != nil {
			return tools.Fail(err.Error())
		}
		start, _ := a.Int("startLine")
		end, _ := a.Int("endLine")
		return rt.ReadFile(ctx, p, start, end)
	})
	r.Register(tools.FileWrite, func(ctx context.Context, a tools.Args) tools.Result {
		p, err := a.Require("path")
		if err != nil {
			return tools.Fail(err.Error())
		}
		content, _ := a.String("content")
		return rt.WriteFile(ctx, p, content)
	})
	r.Register(tools.FileEdit, func(ctx context.Context, a tools.Args) tools.Result {
		p, err := a.Require("path")
		if err != nil {
			return tools.Fail(err.Error())
		}
		oldContent, err := a.Require("oldContent")
		if err != nil {
			return tools.Fail(err.Error())
		}
		newContent, _ := a.String("newContent")
		return rt.EditFile(ctx, p, oldContent, newContent)
	})
	r.Register(tools.FileDelete, func(ctx context.Context, a tools.Args) tools.Result {
		p, err := a.Require("path")
		if err != nil {
			return tools.Fail(err.Error())
		}
		return rt.DeleteFile(ctx, p)
	})
	r.Register(tools.FileList, func(ctx context.Context, a tools.Args) tools.Result {
		recursive, _ := a.Bool("recursive")
		return rt.ListFiles(ctx, a.StringOr("path", "."), recursive, a.StringOr("pattern", ""))
	})

	r.Register(tools.TerminalBash, func(ctx context.Context, a tools.Args) tools.Result {
		command, err := a.Require("command")
		if err != nil {
			return tools.Fail(err.Error())
		}
		ms, _ := a.Int("timeout")
		return rt.RunCommand(ctx, command, a.StringOr("cwd", ""), time.Duration(ms)*time.Millisecond)
	})
	r.Register(tools.TerminalGrep, func(ctx context.Context, a tools.Args) tools.Result {
		pattern, err := a.Require("pattern")
		if err != nil {
			return tools.Fail(err.Error())
		}
		caseSensitive, ok := a.Bool("caseSensitive")
		if !ok {
			caseSensitive = true
		}
		return rt.Grep(ctx, pattern, a.StringOr("path", "."), a.Strings("includes"), caseSensitive)
	})
	r.Register(tools.TerminalGlob, func(ctx context.Context, a tools.Args) tools.Result {
		pattern, err := a.Require("pattern")
		if err != nil {
			return tools.Fail(err.Error())
		}
		return rt.Glob(ctx, pattern, a.StringOr("cwd", ""))
	})

	r.Register(tools.PlannerReadArtifact, func(ctx context.Context, a tools.Args) tools.Result {
		name, err := a.Require("name")
		if err != nil {
			return tools.Fail(err.Error())
		}
		return rt.ReadArtifact(ctx, name)
	})
	r.Register(tools.PlannerWriteArtifact, func(ctx context.Context, a tools.Args) tools.Result {
		name, err := a.Require("name")
		if err != nil {
			return tools.Fail(err.Error())
		}
		content, _ := a.String("content")
		return rt.WriteArtifact(ctx, name, content)
	})

	r.Register(tools.BrowserNavigate, func(ctx context.Context, a tools.Args) tools.Result {
		u, err := a.Require("url")
		if err != nil {
			return tools.Fail(err.Error())
		}
		return rt.Navigate(ctx, u)
	})
	r.Register(tools.BrowserClick, func(ctx context.Context, a tools.Args) tools.Result {
		x, okX := a.Float("x")
		y, okY := a.Float("y")
		if !okX || !okY {
			return tools.Fail("x and y are required")
		}
		double, _ := a.Bool("double")
		return rt.Click(ctx, x, y, a.StringOr("button", "left"), double)
	})
	r.Register(tools.BrowserType, func(ctx context.Context, a tools.Args) tools.Result {
		text, err := a.Require("text")
		if err != nil {
			return tools.Fail(err.Error())
		}
		return rt.Type(ctx, text)
	})
	r.Register(tools.BrowserPress, func(ctx context.Context, a tools.Args) tools.Result {
		key, err := a.Require("key")
		if err != nil {
			return tools.Fail(err.Error())
		}
		return rt.Press(ctx, key)
	})
	r.Register(tools.BrowserScroll, func(ctx context.Context, a tools.Args) tools.Result {
		dx, _ := a.Float("dx")
		dy, _ := a.Float("dy")
		return rt.Scroll(ctx, dx, dy)
	})
	r.Register(tools.BrowserScreenshot, func(ctx context.Context, a tools.Args) tools.Result {
		fullPage, _ := a.Bool("fullPage")
		return rt.Screenshot(ctx, a.StringOr("name", ""), fullPage)
	})
}
