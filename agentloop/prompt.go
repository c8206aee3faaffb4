package agentloop

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/martinemde/mercury/tools"
	"github.com/martinemde/mercury/unifiedllm"
)

// SystemInstruction is the persona sent with every request unless the
// config replaces it.
const SystemInstruction = `You are MERCURY, an advanced autonomous software engineering agent.
Your aesthetic is industrial, precise, and utilitarian.
You speak in technical jargon, short sentences, and data-dense logs.
You have access to web search, a sandboxed project file system, a terminal and a planner.
Track multi-step work with planner todos and keep the plan artifact checklist current.
Always prioritize correctness and efficiency.`

const (
	DefaultTemperature    = 0.7
	DefaultMaxIterations  = 10
	DefaultThinkingBudget = 32768
)

const maxProjectDocBytes = 32 * 1024

// projectDocs are the instruction files picked up from the project root.
var projectDocs = []string{"AGENTS.md", "MERCURY.md"}

// ToolDefinitions converts the tool catalogue into model tool definitions.
func ToolDefinitions() []unifiedllm.ToolDefinition {
	catalog := tools.Catalog()
	defs := make([]unifiedllm.ToolDefinition, len(catalog))
	for i, s := range catalog {
		defs[i] = unifiedllm.ToolDefinition{
			Name:        string(s.Name),
			Description: s.Description,
			Parameters:  s.Parameters,
		}
	}
	return defs
}

// BuildSystemPrompt layers the environment block and any project
// instruction files under base. An empty projectRoot yields base alone.
func BuildSystemPrompt(base, projectRoot, model string) string {
	if projectRoot == "" {
		return base
	}
	parts := []string{base, BuildEnvironmentContext(projectRoot, model)}
	if docs := DiscoverProjectDocs(projectRoot); docs != "" {
		parts = append(parts, docs)
	}
	return strings.Join(parts, "\n\n")
}

// BuildEnvironmentContext describes the project root for the model.
func BuildEnvironmentContext(projectRoot, model string) string {
	var sb strings.Builder
	sb.WriteString("<environment>\n")
	fmt.Fprintf(&sb, "Project root: %s\n", projectRoot)
	if branch := gitBranch(projectRoot); branch != "" {
		fmt.Fprintf(&sb, "Git branch: %s\n", branch)
	}
	fmt.Fprintf(&sb, "Platform: %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Fprintf(&sb, "Today's date: %s\n", time.Now().Format("2006-01-02"))
	if model != "" {
		fmt.Fprintf(&sb, "Model: %s\n", model)
	}
	sb.WriteString("</environment>")
	return sb.String()
}

// DiscoverProjectDocs loads the recognized instruction files from the
// project root, capped at 32KB in total.
func DiscoverProjectDocs(projectRoot string) string {
	var (
		docs  []string
		total int
	)
	for _, name := range projectDocs {
		content, err := os.ReadFile(filepath.Join(projectRoot, name))
		if err != nil {
			continue
		}
		remaining := maxProjectDocBytes - total
		if remaining <= 0 {
			docs = append(docs, "[Project instructions truncated at 32KB]")
			break
		}
		text := string(content)
		if len(text) > remaining {
			text = text[:remaining] + "\n[Project instructions truncated at 32KB]"
		}
		docs = append(docs, "# "+name+"\n\n"+text)
		total += len(text)
	}
	return strings.Join(docs, "\n\n---\n\n")
}

func gitBranch(dir string) string {
	cmd := exec.Command("git", "rev-parse", "--abbrev-ref", "HEAD")
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}
