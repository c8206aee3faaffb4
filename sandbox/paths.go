package sandbox

import (
	"errors"
	"fmt"
	"path"
	"strings"
)

var (
	// ErrNotReady means no backend is attached, or the project root is
	// missing when one is required.
	ErrNotReady = errors.New("sandbox not ready")
	// ErrAccessDenied means a path escapes the project root.
	ErrAccessDenied = errors.New("access denied")
)

// scope resolves tool paths against the project root. Sandbox paths are
// always slash-separated.
type scope struct {
	root      string
	artifacts string
}

func within(p, dir string) bool {
	if dir == "" {
		return false
	}
	if dir == "/" {
		return true
	}
	return p == dir || strings.HasPrefix(p, dir+"/")
}

// resolve maps a tool path onto the sandbox. Relative paths join the root;
// "/" names the root itself; absolute paths must stay under the root or the
// artifacts directory. With no root attached paths pass through cleaned.
func (s scope) resolve(p string) (string, error) {
	p = strings.TrimSpace(p)
	if s.root == "" {
		if p == "" {
			return ".", nil
		}
		return path.Clean(p), nil
	}

	switch p {
	case "", ".", "/", "./":
		return s.root, nil
	}

	if !path.IsAbs(p) {
		joined := path.Join(s.root, p)
		if !within(joined, s.root) {
			return "", fmt.Errorf("%w: %s is outside the project root", ErrAccessDenied, p)
		}
		return joined, nil
	}

	clean := path.Clean(p)
	if within(clean, s.root) || within(clean, s.artifacts) {
		return clean, nil
	}
	return "", fmt.Errorf("%w: %s is outside the project root", ErrAccessDenied, p)
}

// artifact resolves a file name inside the artifacts directory.
func (s scope) artifact(name string) (string, error) {
	if s.artifacts == "" {
		return "", errors.New("no artifacts directory configured")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("artifact name is required")
	}
	var full string
	if path.IsAbs(name) {
		full = path.Clean(name)
	} else {
		full = path.Join(s.artifacts, name)
	}
	if !within(full, s.artifacts) || full == s.artifacts {
		return "", fmt.Errorf("%w: %s is outside the artifacts directory", ErrAccessDenied, name)
	}
	return full, nil
}
