package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const reloadDebounce = 250 * time.Millisecond

// Watch reloads the catalog file at path whenever it changes and passes each
// valid version to onChange. Edits that fail to parse or validate are logged
// and skipped, so the running tables stay in place. Watch blocks until ctx
// is cancelled.
func Watch(ctx context.Context, path string, logger *slog.Logger, onChange func(*Catalog)) error {
	path = filepath.Clean(path)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("catalog watcher: %w", err)
	}
	defer w.Close()

	// Watch the directory: editors often replace the file instead of writing it.
	if err := w.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(path), err)
	}
	logger.Info("watching catalog for changes", "path", path)

	var debounce <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != path {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
				debounce = time.After(reloadDebounce)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Warn("catalog watcher error", "err", err)
		case <-debounce:
			debounce = nil
			c, err := Load(path)
			if err != nil {
				logger.Error("catalog reload rejected, keeping current tables", "err", err)
				continue
			}
			logger.Info("catalog reloaded", "path", path, "keywords", len(c.Topics.Vocabulary))
			onChange(c)
		}
	}
}
