package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// WatchDeckFile watches an exported deck file and saves its contents
// locally whenever it changes, driving the normal save path (revision
// increment plus background push). This lets an external editor of the
// deck file feed the sync engine.
//
// Rapid writes are debounced: the file is read only after it has been
// quiet for the debounce interval. A zero debounce uses a 200ms default.
//
// Blocks until ctx is cancelled.
func (e *Engine) WatchDeckFile(ctx context.Context, path string, debounce time.Duration) error {
	if debounce <= 0 {
		debounce = 200 * time.Millisecond
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve deck file path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the parent directory: editors often replace the file via
	// rename, which drops a watch on the file itself.
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("failed to watch deck directory: %w", err)
	}

	e.logger.Printf("Watching deck file: %s", abs)

	ticker := time.NewTicker(debounce)
	defer ticker.Stop()

	var queuedAt time.Time

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			queuedAt = time.Now()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			e.logger.Printf("Warning: watcher error: %v", err)

		case <-ticker.C:
			if queuedAt.IsZero() || time.Since(queuedAt) < debounce {
				continue
			}
			queuedAt = time.Time{}

			data, err := os.ReadFile(abs)
			if err != nil {
				if os.IsNotExist(err) {
					continue
				}
				e.logger.Printf("Warning: failed to read deck file: %v", err)
				continue
			}

			if err := e.SaveLocally(string(data), true); err != nil {
				e.logger.Printf("Warning: failed to save deck file contents: %v", err)
				continue
			}
			e.logger.Printf("Saved deck file change (%d bytes)", len(data))
		}
	}
}
