package filetree

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const watchDebounce = 500 * time.Millisecond

var skipDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	"vendor":       true,
}

// Watch refreshes the tree when files under dir change. It returns once the
// watcher is running and stops when ctx is done.
func (t *Tree) Watch(ctx context.Context, dir string) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	watched := 0
	err = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		if p != dir && skipDirs[d.Name()] {
			return filepath.SkipDir
		}
		if addErr := fsw.Add(p); addErr == nil {
			watched++
		}
		return nil
	})
	if err != nil || watched == 0 {
		fsw.Close()
		if err == nil {
			err = fmt.Errorf("nothing to watch under %s", dir)
		}
		return err
	}

	w := &watcher{tree: t, fsw: fsw}
	go w.loop(ctx)
	t.logger.Info("file tree watcher started", "dir", dir, "watched", watched)
	return nil
}

type watcher struct {
	tree *Tree
	fsw  *fsnotify.Watcher

	mu    sync.Mutex
	timer *time.Timer
}

func (w *watcher) loop(ctx context.Context) {
	defer func() {
		w.fsw.Close()
		w.mu.Lock()
		if w.timer != nil {
			w.timer.Stop()
		}
		w.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if ev.Has(fsnotify.Create) {
				if fi, err := os.Stat(ev.Name); err == nil && fi.IsDir() && !skipDirs[fi.Name()] {
					_ = w.fsw.Add(ev.Name)
				}
			}
			if ev.Has(fsnotify.Chmod) && !ev.Has(fsnotify.Write) {
				continue
			}
			w.schedule(ctx)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.tree.logger.Warn("file tree watcher error", "error", err)
		}
	}
}

// schedule debounces bursts of events into one refresh.
func (w *watcher) schedule(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(watchDebounce, func() {
		if ctx.Err() != nil {
			return
		}
		if err := w.tree.Refresh(ctx); err != nil {
			w.tree.logger.Warn("file tree refresh failed", "error", err)
		}
	})
}
