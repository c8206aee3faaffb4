package agentloop

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/martinemde/mercury/tools"
)

func TestToolDefinitionsCoverCatalogue(t *testing.T) {
	defs := ToolDefinitions()
	if len(defs) != len(tools.AllNames) {
		t.Fatalf("definitions = %d, catalogue = %d", len(defs), len(tools.AllNames))
	}
	for i, d := range defs {
		if d.Name != string(tools.AllNames[i]) || d.Parameters == nil {
			t.Errorf("definition %d = %+v", i, d)
		}
	}
}

func TestBuildSystemPrompt(t *testing.T) {
	if got := BuildSystemPrompt(SystemInstruction, "", "gemini-flash-latest"); got != SystemInstruction {
		t.Errorf("prompt without project root = %q", got)
	}

	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "AGENTS.md"), []byte("Run make test before committing."), 0o644); err != nil {
		t.Fatal(err)
	}
	got := BuildSystemPrompt(SystemInstruction, root, "gemini-flash-latest")
	for _, want := range []string{"You are MERCURY", "Project root: " + root, "Model: gemini-flash-latest", "# AGENTS.md", "Run make test"} {
		if !strings.Contains(got, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestDiscoverProjectDocsTruncates(t *testing.T) {
	root := t.TempDir()
	big := strings.Repeat("x", maxProjectDocBytes+10)
	if err := os.WriteFile(filepath.Join(root, "AGENTS.md"), []byte(big), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "MERCURY.md"), []byte("ignored"), 0o644); err != nil {
		t.Fatal(err)
	}
	docs := DiscoverProjectDocs(root)
	if strings.Contains(docs, "ignored") || strings.Count(docs, "[Project instructions truncated at 32KB]") != 2 {
		t.Errorf("unexpected docs tail %q", docs[len(docs)-120:])
	}
}
