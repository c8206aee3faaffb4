package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/bmatcuk/doublestar/v4"
)

// sensitiveEnvSuffixes are case-insensitive suffixes of variables withheld
// from commands.
var sensitiveEnvSuffixes = []string{
	"_API_KEY",
	"_SECRET",
	"_TOKEN",
	"_PASSWORD",
	"_CREDENTIAL",
}

var safeEnvVars = map[string]bool{
	"PATH": true, "HOME": true, "USER": true, "SHELL": true,
	"LANG": true, "TERM": true, "TMPDIR": true,
	"GOPATH": true, "GOROOT": true, "CARGO_HOME": true,
	"NVM_DIR": true, "RUSTUP_HOME": true, "PYENV_ROOT": true,
	"XDG_CONFIG_HOME": true, "XDG_DATA_HOME": true, "XDG_CACHE_HOME": true,
}

func isSensitiveEnvVar(name string) bool {
	upper := strings.ToUpper(name)
	for _, suffix := range sensitiveEnvSuffixes {
		if strings.HasSuffix(upper, suffix) {
			return true
		}
	}
	return false
}

func commandEnvironment(extra map[string]string) []string {
	var env []string
	for _, kv := range os.Environ() {
		name, _, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		if safeEnvVars[name] || !isSensitiveEnvVar(name) {
			env = append(env, kv)
		}
	}
	for k, v := range extra {
		env = append(env, k+"="+v)
	}
	return env
}

// LocalBackend runs the sandbox on this machine, rooted at a working directory.
type LocalBackend struct {
	workDir string
}

// NewLocalBackend creates a backend. An empty workDir uses the process cwd.
func NewLocalBackend(workDir string) (*LocalBackend, error) {
	if workDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("local backend: %w", err)
		}
		workDir = wd
	}
	abs, err := filepath.Abs(workDir)
	if err != nil {
		return nil, fmt.Errorf("local backend: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("local backend: %w", err)
	}
	return &LocalBackend{workDir: abs}, nil
}

// WorkDir returns the directory relative paths resolve against.
func (b *LocalBackend) WorkDir() string { return b.workDir }

func (b *LocalBackend) resolve(path string) string {
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(b.workDir, path)
}

func (b *LocalBackend) ReadFile(_ context.Context, path string) (string, error) {
	data, err := os.ReadFile(b.resolve(path))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (b *LocalBackend) WriteFile(_ context.Context, path, content string) error {
	resolved := b.resolve(path)
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	return os.WriteFile(resolved, []byte(content), 0o644)
}

func (b *LocalBackend) Remove(_ context.Context, path string) error {
	return os.RemoveAll(b.resolve(path))
}

// List walks path down to depth levels. Depth 1 lists direct children.
func (b *LocalBackend) List(ctx context.Context, path string, depth int) ([]Entry, error) {
	root := b.resolve(path)
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", path)
	}
	if depth < 1 {
		depth = 1
	}

	var entries []Entry
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == root {
				return err
			}
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if p == root {
			return nil
		}
		rel, _ := filepath.Rel(root, p)
		level := strings.Count(rel, string(filepath.Separator)) + 1
		if level > depth {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		e := Entry{Name: d.Name(), Path: p, IsDir: d.IsDir()}
		if fi, err := d.Info(); err == nil && !d.IsDir() {
			e.Size = fi.Size()
		}
		entries = append(entries, e)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// Run executes command with bash -c in its own process group so a timeout
// kills every child.
func (b *LocalBackend) Run(ctx context.Context, command string, opts RunOptions) (*ExecResult, error) {
	dir := b.workDir
	if opts.Dir != "" {
		dir = b.resolve(opts.Dir)
	}
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	shell, flag := "/bin/bash", "-c"
	if runtime.GOOS == "windows" {
		shell, flag = "cmd.exe", "/c"
	}
	cmd := exec.CommandContext(ctx, shell, flag, command)
	cmd.Dir = dir
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.Env = commandEnvironment(opts.Env)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	res := &ExecResult{
		Stdout:     stdout.String(),
		Stderr:     stderr.String(),
		DurationMs: time.Since(start).Milliseconds(),
	}
	if err != nil {
		var exitErr *exec.ExitError
		switch {
		case errors.Is(ctx.Err(), context.DeadlineExceeded):
			res.TimedOut = true
			res.ExitCode = -1
		case errors.As(err, &exitErr):
			res.ExitCode = exitErr.ExitCode()
		default:
			return nil, fmt.Errorf("run command: %w", err)
		}
	}
	return res, nil
}

// Grep prefers ripgrep and falls back to grep.
func (b *LocalBackend) Grep(ctx context.Context, pattern, path string, opts GrepOptions) (string, error) {
	target := b.workDir
	if path != "" {
		target = b.resolve(path)
	}

	var cmd *exec.Cmd
	if rg, err := exec.LookPath("rg"); err == nil {
		args := []string{"--line-number", "--no-heading", "--with-filename", "--color", "never"}
		if opts.CaseInsensitive {
			args = append(args, "-i")
		}
		for _, inc := range opts.Includes {
			args = append(args, "--glob", inc)
		}
		args = append(args, "-e", pattern, target)
		cmd = exec.CommandContext(ctx, rg, args...)
	} else {
		args := []string{"-rnH"}
		if opts.CaseInsensitive {
			args = append(args, "-i")
		}
		for _, inc := range opts.Includes {
			args = append(args, "--include="+inc)
		}
		args = append(args, "-e", pattern, target)
		cmd = exec.CommandContext(ctx, "grep", args...)
	}
	cmd.Dir = b.workDir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		// Exit status 1 means no matches for both tools.
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
			return "", nil
		}
		if stdout.Len() == 0 {
			msg := strings.TrimSpace(stderr.String())
			if msg == "" {
				msg = err.Error()
			}
			return "", fmt.Errorf("grep: %s", msg)
		}
	}
	return stdout.String(), nil
}

// Glob matches files under dir. A pattern without a slash matches base names
// at any depth.
func (b *LocalBackend) Glob(_ context.Context, pattern, dir string) ([]string, error) {
	base := b.workDir
	if dir != "" {
		base = b.resolve(dir)
	}
	if !strings.Contains(pattern, "/") {
		pattern = "**/" + pattern
	}
	if !doublestar.ValidatePattern(pattern) {
		return nil, fmt.Errorf("invalid glob pattern %q", pattern)
	}
	matches, err := doublestar.Glob(os.DirFS(base), pattern, doublestar.WithFilesOnly())
	if err != nil {
		return nil, fmt.Errorf("glob: %w", err)
	}
	return matches, nil
}

func (b *LocalBackend) Close() error { return nil }
