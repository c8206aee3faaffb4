package sandbox

import (
	"fmt"
	"path"
	"strings"

	"github.com/mattn/go-shellwords"
)

// DefaultDeniedCommands are programs the agent may never run.
var DefaultDeniedCommands = []string{"sudo", "shutdown", "reboot", "mkfs"}

// CommandPolicy rejects commands whose segments start a denied program.
type CommandPolicy struct {
	denied map[string]bool
}

// NewCommandPolicy builds a policy. A nil list uses DefaultDeniedCommands.
func NewCommandPolicy(denied []string) *CommandPolicy {
	if denied == nil {
		denied = DefaultDeniedCommands
	}
	p := &CommandPolicy{denied: make(map[string]bool, len(denied))}
	for _, d := range denied {
		p.denied[d] = true
	}
	return p
}

// Check parses every segment of a shell line (split on ; & | < >) and
// returns an error for the first denied program.
func (p *CommandPolicy) Check(command string) error {
	if p == nil || len(p.denied) == 0 {
		return nil
	}
	rest := []rune(command)
	for len(rest) > 0 {
		parser := shellwords.NewParser()
		words, err := parser.Parse(string(rest))
		if err != nil {
			return fmt.Errorf("cannot parse command: %w", err)
		}
		if prog := program(words); prog != "" && p.isDenied(prog) {
			return fmt.Errorf("command denied by policy: %s", prog)
		}
		if parser.Position < 0 || parser.Position >= len(rest) {
			break
		}
		rest = []rune(strings.TrimLeft(string(rest[parser.Position:]), ";&|<> \t\n"))
	}
	return nil
}

func (p *CommandPolicy) isDenied(prog string) bool {
	if p.denied[prog] {
		return true
	}
	base := path.Base(prog)
	if p.denied[base] {
		return true
	}
	// mkfs.ext4 and friends
	if i := strings.IndexByte(base, '.'); i > 0 && p.denied[base[:i]] {
		return true
	}
	return false
}

// program returns the first word that is not a variable assignment.
func program(words []string) string {
	for _, w := range words {
		if name, _, ok := strings.Cut(w, "="); ok && name != "" && !strings.ContainsAny(name, "/ ") {
			continue
		}
		return w
	}
	return ""
}
