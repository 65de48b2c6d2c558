package store

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	. "github.com/roelfdiedericks/pagebot/internal/logging"
)

// Watch reloads the store when the file is replaced or edited by another
// process. It blocks until ctx is done.
func (s *FileStore) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory: atomic renames replace the file inode
	dir := filepath.Dir(s.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	L_debug("store: watching for external changes", "dir", dir)

	target := filepath.Clean(s.path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			s.reloadExternal()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			L_warn("store: watcher error", "error", err)
		}
	}
}

// reloadExternal swaps in the on-disk document unless the event was caused by
// our own flush. An unparsable file keeps the in-memory state. The read and
// swap happen under the write lock so no concurrent flush is lost.
func (s *FileStore) reloadExternal() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if time.Now().Before(s.ignoreWatchUntil) {
		return
	}

	doc, err := s.read()
	if err != nil {
		L_warn("store: external change not loaded", "path", s.path, "error", err)
		return
	}

	s.doc = doc
	L_info("store: reloaded after external change", "members", len(doc.Members), "subscribers", len(doc.Subscribers))
}
