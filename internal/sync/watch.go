package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/fsnotify/fsnotify"
)

// snapshot writers tend to produce bursts of events; coalesce them.
const watchDebounce = 100 * time.Millisecond

// WatchSnapshot reloads the page's snapshot file when another process
// writes it. Only relevant while degraded: in shared mode the periodic
// refresh already replaces state from the authoritative store. Blocks
// until the context is canceled.
func (c *Coordinator) WatchSnapshot(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory: the snapshot file may not exist yet, and
	// some editors replace files by rename.
	if err := watcher.Add(c.local.Dir()); err != nil {
		return fmt.Errorf("watch snapshot dir: %w", err)
	}

	target := c.local.PathForPage(c.pageKey)
	c.logger.DebugContext(ctx, "watching snapshot", "path", target)

	var pending *time.Timer
	var debounce <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			if pending != nil {
				pending.Stop()
			}
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("watcher events channel closed")
			}
			if event.Name != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if pending != nil {
				pending.Stop()
			}
			pending = time.NewTimer(watchDebounce)
			debounce = pending.C

		case <-debounce:
			pending = nil
			debounce = nil
			c.reloadSnapshot(ctx)

		case werr, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("watcher errors channel closed")
			}
			c.logger.WarnContext(ctx, "snapshot watcher error", "error", werr)
		}
	}
}

// reloadSnapshot adopts the on-disk snapshot as in-memory state. Shared
// mode and open editing sessions are left alone.
func (c *Coordinator) reloadSnapshot(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.mode != ModeLocal || c.editing {
		return
	}

	c.notes = c.local.Read(ctx, c.pageKey)
	c.gen++
	c.logger.DebugContext(ctx, "snapshot reloaded", "page", c.pageKey, "count", len(c.notes))
}
