package sandbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/martinemde/mercury/tools"
)

const (
	// DefaultCommandTimeout applies when a call supplies none.
	DefaultCommandTimeout = 30 * time.Second

	maxGrepMatches = 50
	maxGlobMatches = 100
	maxCommandLog  = 200
)

// CommandEntry records one command run through the facade.
type CommandEntry struct {
	Command  string    `json:"command"`
	Stdout   string    `json:"stdout"`
	Stderr   string    `json:"stderr"`
	ExitCode int       `json:"exitCode"`
	Cwd      string    `json:"cwd,omitempty"`
	At       time.Time `json:"at"`
}

// Runtime is the capability facade. Readiness is evaluated on every call.
type Runtime struct {
	mu          sync.RWMutex
	backend     Backend
	browser     Browser
	root        string
	artifacts   string
	requireRoot bool

	policy         *CommandPolicy
	outputLimit    int
	commandTimeout time.Duration

	logMu      sync.Mutex
	commandLog []CommandEntry

	logger *slog.Logger
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithArtifactsDir sets the planning documents directory that stays
// reachable outside the project root.
func WithArtifactsDir(dir string) Option {
	return func(r *Runtime) { r.artifacts = cleanDir(dir) }
}

// WithRequireProjectRoot makes readiness depend on an attached project root.
func WithRequireProjectRoot(require bool) Option {
	return func(r *Runtime) { r.requireRoot = require }
}

// WithPolicy sets the command policy.
func WithPolicy(p *CommandPolicy) Option {
	return func(r *Runtime) { r.policy = p }
}

// WithOutputLimit sets the per-stream output budget of commands.
func WithOutputLimit(n int) Option {
	return func(r *Runtime) { r.outputLimit = n }
}

// WithCommandTimeout sets the default command timeout.
func WithCommandTimeout(d time.Duration) Option {
	return func(r *Runtime) { r.commandTimeout = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runtime) { r.logger = l }
}

// NewRuntime creates a detached facade.
func NewRuntime(opts ...Option) *Runtime {
	r := &Runtime{
		policy:         NewCommandPolicy(nil),
		outputLimit:    DefaultOutputLimit,
		commandTimeout: DefaultCommandTimeout,
		logger:         slog.Default(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

func cleanDir(dir string) string {
	if dir == "" {
		return ""
	}
	return path.Clean(dir)
}

// Attach connects a backend.
func (r *Runtime) Attach(b Backend) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backend = b
}

// Detach disconnects and closes the backend and browser.
func (r *Runtime) Detach() error {
	r.mu.Lock()
	b, br := r.backend, r.browser
	r.backend, r.browser = nil, nil
	r.mu.Unlock()

	var errs []error
	if b != nil {
		errs = append(errs, b.Close())
	}
	if br != nil {
		errs = append(errs, br.Close())
	}
	return errors.Join(errs...)
}

// AttachBrowser connects the browser collaborator.
func (r *Runtime) AttachBrowser(b Browser) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.browser = b
}

// SetProjectRoot sets the directory tool paths are scoped to.
func (r *Runtime) SetProjectRoot(root string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.root = cleanDir(root)
}

// ProjectRoot returns the active project root.
func (r *Runtime) ProjectRoot() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.root
}

// ArtifactsDir returns the artifacts directory.
func (r *Runtime) ArtifactsDir() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.artifacts
}

// IsReady reports whether a backend is attached and, when required, a
// project root is set.
func (r *Runtime) IsReady() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.backend != nil && (!r.requireRoot || r.root != "")
}

// session captures the backend and scope for one call.
func (r *Runtime) session() (Backend, scope, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.backend == nil || (r.requireRoot && r.root == "") {
		return nil, scope{}, ErrNotReady
	}
	return r.backend, scope{root: r.root, artifacts: r.artifacts}, nil
}

// failure turns an error into the normalized result.
func (r *Runtime) failure(op string, err error) tools.Result {
	if errors.Is(err, ErrNotReady) {
		return tools.Fail(tools.NotReadyMessage)
	}
	if errors.Is(err, ErrAccessDenied) {
		r.logger.Warn("sandbox path denied", "op", op, "error", err)
	}
	return tools.Fail(err.Error())
}

// LineRange is an inclusive 1-based line span.
type LineRange struct {
	From int `json:"from"`
	To   int `json:"to"`
}

// FileContent is the data of ReadFile.
type FileContent struct {
	Path       string    `json:"path"`
	Content    string    `json:"content"`
	Lines      LineRange `json:"lines"`
	TotalLines int       `json:"totalLines"`
}

// ReadFile reads a file, optionally sliced to lines start..end (1-based,
// inclusive). Zero means unbounded.
func (r *Runtime) ReadFile(ctx context.Context, p string, start, end int) tools.Result {
	b, sc, err := r.session()
	if err != nil {
		return r.failure("readFile", err)
	}
	full, err := sc.resolve(p)
	if err != nil {
		return r.failure("readFile", err)
	}
	content, err := b.ReadFile(ctx, full)
	if err != nil {
		return r.failure("readFile", err)
	}

	lines := strings.Split(content, "\n")
	total := len(lines)
	if start <= 0 && end <= 0 {
		return tools.OK(FileContent{Path: p, Content: content, Lines: LineRange{1, total}, TotalLines: total})
	}
	from := max(start, 1)
	to := end
	if to <= 0 || to > total {
		to = total
	}
	sliced := ""
	if from <= to {
		sliced = strings.Join(lines[from-1:to], "\n")
	}
	return tools.OK(FileContent{Path: p, Content: sliced, Lines: LineRange{from, to}, TotalLines: total})
}

// FileWritten is the data of WriteFile.
type FileWritten struct {
	Path         string `json:"path"`
	BytesWritten int    `json:"bytesWritten"`
	Message      string `json:"message"`
}

// WriteFile creates or overwrites a file.
func (r *Runtime) WriteFile(ctx context.Context, p, content string) tools.Result {
	b, sc, err := r.session()
	if err != nil {
		return r.failure("writeFile", err)
	}
	full, err := sc.resolve(p)
	if err != nil {
		return r.failure("writeFile", err)
	}
	if err := b.WriteFile(ctx, full, content); err != nil {
		return r.failure("writeFile", err)
	}
	return tools.OK(FileWritten{Path: p, BytesWritten: len(content), Message: "File created at " + p})
}

// OldContentNotFound is the failure of an edit whose target text is absent.
const OldContentNotFound = "Old content not found in file"

// FileEdited is the data of EditFile.
type FileEdited struct {
	Path         string `json:"path"`
	Replacements int    `json:"replacements"`
	Message      string `json:"message"`
}

// EditFile replaces the first exact occurrence of oldContent.
func (r *Runtime) EditFile(ctx context.Context, p, oldContent, newContent string) tools.Result {
	b, sc, err := r.session()
	if err != nil {
		return r.failure("editFile", err)
	}
	full, err := sc.resolve(p)
	if err != nil {
		return r.failure("editFile", err)
	}
	existing, err := b.ReadFile(ctx, full)
	if err != nil {
		return r.failure("editFile", err)
	}
	if oldContent == "" || !strings.Contains(existing, oldContent) {
		return tools.Fail(OldContentNotFound)
	}
	updated := strings.Replace(existing, oldContent, newContent, 1)
	if err := b.WriteFile(ctx, full, updated); err != nil {
		return r.failure("editFile", err)
	}
	return tools.OK(FileEdited{Path: p, Replacements: 1, Message: "Replaced content in " + p})
}

// FileDeleted is the data of DeleteFile.
type FileDeleted struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// DeleteFile removes a file or directory. The project root itself cannot be
// removed.
func (r *Runtime) DeleteFile(ctx context.Context, p string) tools.Result {
	b, sc, err := r.session()
	if err != nil {
		return r.failure("deleteFile", err)
	}
	full, err := sc.resolve(p)
	if err != nil {
		return r.failure("deleteFile", err)
	}
	if sc.root != "" && full == sc.root {
		return tools.Fail("refusing to delete the project root")
	}
	if err := b.Remove(ctx, full); err != nil {
		return r.failure("deleteFile", err)
	}
	return tools.OK(FileDeleted{Path: p, Message: "Deleted " + p})
}

// ListEntry is one row of ListFiles.
type ListEntry struct {
	Name string `json:"name"`
	Type string `json:"type"`
	Size int64  `json:"size"`
	Path string `json:"path"`
}

// Listing is the data of ListFiles.
type Listing struct {
	Path    string      `json:"path"`
	Entries []ListEntry `json:"entries"`
	Total   int         `json:"total"`
}

// ListFiles lists a directory, ten levels deep when recursive. A pattern
// filters entries by name.
func (r *Runtime) ListFiles(ctx context.Context, p string, recursive bool, pattern string) tools.Result {
	b, sc, err := r.session()
	if err != nil {
		return r.failure("listFiles", err)
	}
	full, err := sc.resolve(p)
	if err != nil {
		return r.failure("listFiles", err)
	}
	if pattern != "" && !doublestar.ValidatePattern(pattern) {
		return tools.Failf("invalid pattern %q", pattern)
	}
	depth := 1
	if recursive {
		depth = 10
	}
	entries, err := b.List(ctx, full, depth)
	if err != nil {
		return r.failure("listFiles", err)
	}

	out := Listing{Path: p, Entries: []ListEntry{}}
	for _, e := range entries {
		if pattern != "" {
			if ok, _ := doublestar.Match(pattern, e.Name); !ok {
				continue
			}
		}
		typ := "file"
		if e.IsDir {
			typ = "directory"
		}
		out.Entries = append(out.Entries, ListEntry{Name: e.Name, Type: typ, Size: e.Size, Path: e.Path})
	}
	out.Total = len(out.Entries)
	return tools.OK(out)
}

// Walk lists the project root depth levels deep.
func (r *Runtime) Walk(ctx context.Context, depth int) ([]Entry, error) {
	b, sc, err := r.session()
	if err != nil {
		return nil, err
	}
	root, err := sc.resolve("")
	if err != nil {
		return nil, err
	}
	return b.List(ctx, root, depth)
}

// CommandOutput is the data of RunCommand.
type CommandOutput struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exitCode"`
	TimedOut bool   `json:"timedOut,omitempty"`
}

// RunCommand runs a shell command in the project root or in cwd beneath it.
// A non-zero exit code is still a successful call; the model reads it.
func (r *Runtime) RunCommand(ctx context.Context, command, cwd string, timeout time.Duration) tools.Result {
	b, sc, err := r.session()
	if err != nil {
		return r.failure("runCommand", err)
	}
	if strings.TrimSpace(command) == "" {
		return tools.Fail("command is required")
	}
	if err := r.policy.Check(command); err != nil {
		r.record(command, "", err.Error(), 1, cwd)
		return tools.Fail(err.Error())
	}

	dir := sc.root
	if cwd != "" {
		if dir, err = sc.resolve(cwd); err != nil {
			return r.failure("runCommand", err)
		}
	}
	if timeout <= 0 {
		timeout = r.commandTimeout
	}

	res, err := b.Run(ctx, command, RunOptions{Dir: dir, Timeout: timeout})
	if err != nil {
		r.record(command, "", err.Error(), 1, cwd)
		return r.failure("runCommand", err)
	}

	out := CommandOutput{
		Stdout:   TrimOutput(res.Stdout, r.outputLimit),
		Stderr:   TrimOutput(res.Stderr, r.outputLimit),
		ExitCode: res.ExitCode,
		TimedOut: res.TimedOut,
	}
	if len(out.Stdout) != len(res.Stdout) || len(out.Stderr) != len(res.Stderr) {
		r.logger.Debug("command output truncated", "stdout", len(res.Stdout), "stderr", len(res.Stderr))
	}
	r.record(command, out.Stdout, out.Stderr, out.ExitCode, cwd)

	if res.TimedOut {
		return tools.Result{
			Success: false,
			Data:    out,
			Error:   fmt.Sprintf("command timed out after %dms", timeout.Milliseconds()),
		}
	}
	return tools.OK(out)
}

// Exec runs an internal command on the backend. It needs no project root and
// bypasses the policy and the command log, so callers own what it runs.
func (r *Runtime) Exec(ctx context.Context, command string, opts RunOptions) (*ExecResult, error) {
	r.mu.RLock()
	b := r.backend
	r.mu.RUnlock()
	if b == nil {
		return nil, ErrNotReady
	}
	if opts.Timeout <= 0 {
		opts.Timeout = r.commandTimeout
	}
	return b.Run(ctx, command, opts)
}

func (r *Runtime) record(command, stdout, stderr string, exitCode int, cwd string) {
	r.logMu.Lock()
	defer r.logMu.Unlock()
	r.commandLog = append(r.commandLog, CommandEntry{
		Command:  command,
		Stdout:   stdout,
		Stderr:   stderr,
		ExitCode: exitCode,
		Cwd:      cwd,
		At:       time.Now(),
	})
	if n := len(r.commandLog); n > maxCommandLog {
		r.commandLog = append([]CommandEntry(nil), r.commandLog[n-maxCommandLog:]...)
	}
}

// CommandLog returns the commands run so far, oldest first.
func (r *Runtime) CommandLog() []CommandEntry {
	r.logMu.Lock()
	defer r.logMu.Unlock()
	return append([]CommandEntry(nil), r.commandLog...)
}

// GrepMatch is one content match.
type GrepMatch struct {
	File    string `json:"file"`
	Line    int    `json:"line"`
	Content string `json:"content"`
}

// GrepResult is the data of Grep.
type GrepResult struct {
	Pattern      string      `json:"pattern"`
	Matches      []GrepMatch `json:"matches"`
	TotalMatches int         `json:"totalMatches"`
}

var grepLine = regexp.MustCompile(`^([^:]+):(\d+):(.*)$`)

// Grep searches file contents with a regular expression.
func (r *Runtime) Grep(ctx context.Context, pattern, p string, includes []string, caseSensitive bool) tools.Result {
	b, sc, err := r.session()
	if err != nil {
		return r.failure("grep", err)
	}
	if pattern == "" {
		return tools.Fail("pattern is required")
	}
	full, err := sc.resolve(p)
	if err != nil {
		return r.failure("grep", err)
	}
	raw, err := b.Grep(ctx, pattern, full, GrepOptions{Includes: includes, CaseInsensitive: !caseSensitive})
	if err != nil {
		return r.failure("grep", err)
	}

	var matches []GrepMatch
	for _, line := range strings.Split(raw, "\n") {
		m := grepLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		n, _ := strconv.Atoi(m[2])
		matches = append(matches, GrepMatch{File: relativeTo(m[1], sc.root), Line: n, Content: m[3]})
	}
	res := GrepResult{Pattern: pattern, Matches: []GrepMatch{}, TotalMatches: len(matches)}
	if len(matches) > maxGrepMatches {
		matches = matches[:maxGrepMatches]
	}
	res.Matches = append(res.Matches, matches...)
	return tools.OK(res)
}

// GlobResult is the data of Glob.
type GlobResult struct {
	Pattern string   `json:"pattern"`
	Matches []string `json:"matches"`
	Total   int      `json:"total"`
}

// Glob finds files by pattern under cwd, or the project root.
func (r *Runtime) Glob(ctx context.Context, pattern, cwd string) tools.Result {
	b, sc, err := r.session()
	if err != nil {
		return r.failure("glob", err)
	}
	if pattern == "" {
		return tools.Fail("pattern is required")
	}
	dir, err := sc.resolve(cwd)
	if err != nil {
		return r.failure("glob", err)
	}
	matches, err := b.Glob(ctx, pattern, dir)
	if err != nil {
		return r.failure("glob", err)
	}
	if len(matches) > maxGlobMatches {
		matches = matches[:maxGlobMatches]
	}
	if matches == nil {
		matches = []string{}
	}
	return tools.OK(GlobResult{Pattern: pattern, Matches: matches, Total: len(matches)})
}

func relativeTo(p, root string) string {
	if root == "" || root == "/" {
		return p
	}
	if rest, ok := strings.CutPrefix(p, root+"/"); ok {
		return rest
	}
	return p
}

// Artifact is the data of ReadArtifact.
type Artifact struct {
	Name    string `json:"name"`
	Path    string `json:"path"`
	Content string `json:"content"`
}

// ArtifactWritten is the data of WriteArtifact.
type ArtifactWritten struct {
	Name         string `json:"name"`
	Path         string `json:"path"`
	BytesWritten int    `json:"bytesWritten"`
	Message      string `json:"message"`
}

// ReadArtifact reads a planning document from the artifacts directory.
func (r *Runtime) ReadArtifact(ctx context.Context, name string) tools.Result {
	b, sc, err := r.session()
	if err != nil {
		return r.failure("readArtifact", err)
	}
	full, err := sc.artifact(name)
	if err != nil {
		return r.failure("readArtifact", err)
	}
	content, err := b.ReadFile(ctx, full)
	if err != nil {
		return r.failure("readArtifact", err)
	}
	return tools.OK(Artifact{Name: name, Path: full, Content: content})
}

// WriteArtifact writes a planning document to the artifacts directory.
func (r *Runtime) WriteArtifact(ctx context.Context, name, content string) tools.Result {
	b, sc, err := r.session()
	if err != nil {
		return r.failure("writeArtifact", err)
	}
	full, err := sc.artifact(name)
	if err != nil {
		return r.failure("writeArtifact", err)
	}
	if err := b.WriteFile(ctx, full, content); err != nil {
		return r.failure("writeArtifact", err)
	}
	return tools.OK(ArtifactWritten{
		Name:         name,
		Path:         full,
		BytesWritten: len(content),
		Message:      "Artifact saved: " + name,
	})
}

// browserSession returns the attached browser once the facade is ready.
func (r *Runtime) browserSession() (Browser, scope, Backend, error) {
	b, sc, err := r.session()
	if err != nil {
		return nil, scope{}, nil, err
	}
	r.mu.RLock()
	br := r.browser
	r.mu.RUnlock()
	if br == nil {
		return nil, scope{}, nil, ErrBrowserUnavailable
	}
	return br, sc, b, nil
}

// Navigate opens a URL in the browser.
func (r *Runtime) Navigate(ctx context.Context, url string) tools.Result {
	br, _, _, err := r.browserSession()
	if err != nil {
		return r.failure("navigate", err)
	}
	if url == "" {
		return tools.Fail("url is required")
	}
	info, err := br.Navigate(ctx, url)
	if err != nil {
		return r.failure("navigate", err)
	}
	return tools.OK(info)
}

// Click clicks at a viewport coordinate.
func (r *Runtime) Click(ctx context.Context, x, y float64, button string, double bool) tools.Result {
	br, _, _, err := r.browserSession()
	if err != nil {
		return r.failure("click", err)
	}
	if button == "" {
		button = "left"
	}
	if err := br.Click(ctx, x, y, button, double); err != nil {
		return r.failure("click", err)
	}
	return tools.OK(map[string]any{"x": x, "y": y, "button": button, "double": double})
}

// Type types text into the focused element.
func (r *Runtime) Type(ctx context.Context, text string) tools.Result {
	br, _, _, err := r.browserSession()
	if err != nil {
		return r.failure("type", err)
	}
	if err := br.Type(ctx, text); err != nil {
		return r.failure("type", err)
	}
	return tools.OK(map[string]any{"typed": len([]rune(text))})
}

// Press presses a named key.
func (r *Runtime) Press(ctx context.Context, key string) tools.Result {
	br, _, _, err := r.browserSession()
	if err != nil {
		return r.failure("press", err)
	}
	if key == "" {
		return tools.Fail("key is required")
	}
	if err := br.Press(ctx, key); err != nil {
		return r.failure("press", err)
	}
	return tools.OK(map[string]any{"key": key})
}

// Scroll scrolls the page.
func (r *Runtime) Scroll(ctx context.Context, dx, dy float64) tools.Result {
	br, _, _, err := r.browserSession()
	if err != nil {
		return r.failure("scroll", err)
	}
	if err := br.Scroll(ctx, dx, dy); err != nil {
		return r.failure("scroll", err)
	}
	return tools.OK(map[string]any{"dx": dx, "dy": dy})
}

// Screenshot captures the page as PNG into the artifacts directory.
func (r *Runtime) Screenshot(ctx context.Context, name string, fullPage bool) tools.Result {
	br, sc, b, err := r.browserSession()
	if err != nil {
		return r.failure("screenshot", err)
	}
	if name == "" {
		name = fmt.Sprintf("screenshot-%d.png", time.Now().UnixMilli())
	}
	full, err := sc.artifact(name)
	if err != nil {
		return r.failure("screenshot", err)
	}
	img, err := br.Screenshot(ctx, fullPage)
	if err != nil {
		return r.failure("screenshot", err)
	}
	if err := b.WriteFile(ctx, full, string(img)); err != nil {
		return r.failure("screenshot", err)
	}
	return tools.OK(map[string]any{"path": full, "bytes": len(img)})
}
