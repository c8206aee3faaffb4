// Package filetree keeps a snapshot of the project tree fresh. It receives the
// dispatcher's refresh signal after side-effecting tools and can also watch a
// local directory for outside changes.
package filetree

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/martinemde/mercury/sandbox"
)

// DefaultDepth is how many levels a refresh lists.
const DefaultDepth = 5

// Lister is the part of the sandbox runtime a Tree reads from.
type Lister interface {
	Walk(ctx context.Context, depth int) ([]sandbox.Entry, error)
	ProjectRoot() string
}

// Node is a file or directory in the snapshot.
type Node struct {
	Name     string  `json:"name"`
	Path     string  `json:"path"`
	IsDir    bool    `json:"isDir"`
	Size     int64   `json:"size,omitempty"`
	Children []*Node `json:"children,omitempty"`
}

// Snapshot is the tree as of the last refresh.
type Snapshot struct {
	Root        *Node     `json:"root"`
	Files       int       `json:"files"`
	Dirs        int       `json:"dirs"`
	Version     int       `json:"version"`
	RefreshedAt time.Time `json:"refreshedAt"`
}

// Tree is the file-tree observer.
type Tree struct {
	lister Lister
	depth  int
	group  singleflight.Group
	logger *slog.Logger

	mu       sync.RWMutex
	snapshot Snapshot
	onChange func(Snapshot)
}

// Option configures a Tree.
type Option func(*Tree)

// WithDepth sets the listing depth.
func WithDepth(d int) Option {
	return func(t *Tree) { t.depth = d }
}

// WithOnChange registers a callback invoked after each refresh.
func WithOnChange(fn func(Snapshot)) Option {
	return func(t *Tree) { t.onChange = fn }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *Tree) { t.logger = l }
}

// New creates a Tree over the lister.
func New(lister Lister, opts ...Option) *Tree {
	t := &Tree{lister: lister, depth: DefaultDepth, logger: slog.Default()}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Refresh re-lists the project. Concurrent calls share one listing.
func (t *Tree) Refresh(ctx context.Context) error {
	_, err, shared := t.group.Do("refresh", func() (any, error) {
		entries, err := t.lister.Walk(ctx, t.depth)
		if err != nil {
			return nil, fmt.Errorf("list project tree: %w", err)
		}
		snap := build(t.lister.ProjectRoot(), entries)

		t.mu.Lock()
		snap.Version = t.snapshot.Version + 1
		snap.RefreshedAt = time.Now()
		t.snapshot = snap
		fn := t.onChange
		t.mu.Unlock()

		t.logger.Debug("file tree refreshed", "files", snap.Files, "dirs", snap.Dirs, "version", snap.Version)
		if fn != nil {
			fn(snap)
		}
		return nil, nil
	})
	if shared {
		t.logger.Debug("file tree refresh coalesced")
	}
	return err
}

// Snapshot returns the last refreshed tree.
func (t *Tree) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.snapshot
}

func build(root string, entries []sandbox.Entry) Snapshot {
	if root == "" {
		root = "."
	}
	top := &Node{Name: path.Base(root), Path: root, IsDir: true}
	nodes := map[string]*Node{root: top}

	sorted := append([]sandbox.Entry(nil), entries...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })

	var snap Snapshot
	for _, e := range sorted {
		n := &Node{Name: e.Name, Path: e.Path, IsDir: e.IsDir, Size: e.Size}
		nodes[e.Path] = n
		parent, ok := nodes[path.Dir(e.Path)]
		if !ok {
			parent = top
		}
		parent.Children = append(parent.Children, n)
		if e.IsDir {
			snap.Dirs++
		} else {
			snap.Files++
		}
	}
	snap.Root = top
	return snap
}

// Render draws the snapshot as an indented listing, directories suffixed
// with a slash.
func (s Snapshot) Render() string {
	if s.Root == nil {
		return ""
	}
	var b strings.Builder
	var walk func(n *Node, depth int)
	walk = func(n *Node, depth int) {
		for _, c := range n.Children {
			b.WriteString(strings.Repeat("  ", depth))
			b.WriteString(c.Name)
			if c.IsDir {
				b.WriteString("/")
			}
			b.WriteString("\n")
			walk(c, depth+1)
		}
	}
	walk(s.Root, 0)
	return b.String()
}
