package sourcecontrol

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/martinemde/mercury/sandbox"
)

const cloneTimeout = 120 * time.Second

// Phase is a step of repository hydration.
type Phase string

const (
	PhaseIdle        Phase = "idle"
	PhaseConfiguring Phase = "configuring"
	PhaseCloning     Phase = "cloning"
	PhaseIndexing    Phase = "indexing"
	PhaseComplete    Phase = "complete"
)

// HydrationState is reported to the progress callback.
type HydrationState struct {
	Phase    Phase  `json:"phase"`
	Progress int    `json:"progress"`
	Message  string `json:"message"`
}

// Workspace is the sandbox a repository is hydrated into.
type Workspace interface {
	Exec(ctx context.Context, command string, opts sandbox.RunOptions) (*sandbox.ExecResult, error)
	SetProjectRoot(root string)
}

// Hydrated is the outcome of a successful hydration.
type Hydrated struct {
	Repo        string `json:"repo"`
	ProjectRoot string `json:"projectRoot"`
	Branch      string `json:"branch"`
	Phase       Phase  `json:"phase"`
	Listing     string `json:"listing,omitempty"`
}

var gitConfig = []string{
	`git config --global user.email "agent@mercury.dev"`,
	`git config --global user.name "Mercury Agent"`,
	`git config --global init.defaultBranch main`,
	`git config --global credential.helper store`,
}

// Hydration returns the latest hydration state.
func (g *GitHub) Hydration() HydrationState {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.hydration
}

func (g *GitHub) report(phase Phase, progress int, msg string) {
	st := HydrationState{Phase: phase, Progress: progress, Message: msg}
	g.mu.Lock()
	g.hydration = st
	fn := g.onProgress
	g.mu.Unlock()
	g.logger.Info("github hydration", "phase", phase, "progress", progress)
	if fn != nil {
		fn(st)
	}
}

// Hydrate clones fullName into the workspace and makes the clone the
// project root. The access token never appears in returned errors or logs.
func (g *GitHub) Hydrate(ctx context.Context, ws Workspace, fullName string) (Hydrated, error) {
	_, token, err := g.session()
	if err != nil {
		return Hydrated{}, err
	}
	repo, err := g.GetRepo(ctx, fullName)
	if err != nil {
		return Hydrated{}, err
	}

	out, err := g.hydrate(ctx, ws, repo, token)
	if err != nil {
		g.mu.Lock()
		g.hydration = HydrationState{Phase: PhaseIdle}
		g.mu.Unlock()
		msg := scrub(err.Error(), token)
		g.logger.Warn("github hydration failed", "repo", repo.FullName, "error", msg)
		return Hydrated{}, errors.New(msg)
	}
	return out, nil
}

func (g *GitHub) hydrate(ctx context.Context, ws Workspace, repo Repo, token string) (Hydrated, error) {
	g.report(PhaseConfiguring, 10, "Configuring git credentials...")
	for _, cmd := range gitConfig {
		if _, err := run(ctx, ws, cmd, 0); err != nil {
			return Hydrated{}, fmt.Errorf("configure git: %w", err)
		}
	}

	g.report(PhaseCloning, 30, fmt.Sprintf("Cloning %s...", repo.Name))
	target := g.cloneBase + "/" + repo.Name
	cloneURL := fmt.Sprintf("https://x-access-token:%s@%s/%s.git", token, g.cloneHost, repo.FullName)
	if _, err := run(ctx, ws, "rm -rf "+quote(target), 0); err != nil {
		return Hydrated{}, fmt.Errorf("clear target: %w", err)
	}
	if _, err := run(ctx, ws, "git clone "+quote(cloneURL)+" "+quote(target), cloneTimeout); err != nil {
		return Hydrated{}, fmt.Errorf("clone failed: %w", err)
	}

	g.report(PhaseIndexing, 80, "Indexing project structure...")
	listing, err := run(ctx, ws, "ls -la "+quote(target), 0)
	if err != nil {
		return Hydrated{}, fmt.Errorf("index: %w", err)
	}

	ws.SetProjectRoot(target)
	g.SelectRepo(repo)
	g.report(PhaseComplete, 100, "Repository ready!")

	return Hydrated{
		Repo:        repo.FullName,
		ProjectRoot: target,
		Branch:      repo.DefaultBranch,
		Phase:       PhaseComplete,
		Listing:     listing,
	}, nil
}

// run executes a command and treats a non-zero exit as an error carrying
// stderr.
func run(ctx context.Context, ws Workspace, command string, timeout time.Duration) (string, error) {
	res, err := ws.Exec(ctx, command, sandbox.RunOptions{Timeout: timeout})
	if err != nil {
		return "", err
	}
	if res.TimedOut {
		return "", fmt.Errorf("timed out after %s", timeout)
	}
	if res.ExitCode != 0 {
		return "", fmt.Errorf("exit %d: %s", res.ExitCode, strings.TrimSpace(res.Stderr))
	}
	return res.Stdout, nil
}

func scrub(s, token string) string {
	if token == "" {
		return s
	}
	return strings.ReplaceAll(s, token, "***")
}

func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
