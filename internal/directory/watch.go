package directory

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the directory from path whenever the file is written or
// replaced, until ctx is done. A file that fails to parse is logged and the
// previous data stays in place.
func (d *Directory) Watch(ctx context.Context, path string, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "directory.Watcher")

	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve directory path: %w", err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	// Watch the parent so editor rename-and-replace saves are seen.
	dir := filepath.Dir(absPath)
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return fmt.Errorf("failed to watch directory %s: %w", dir, err)
	}

	logger.Info("Directory.Watch: watching roster file", "path", absPath)

	go func() {
		defer w.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-w.Events:
				if !ok {
					return
				}
				evPath, _ := filepath.Abs(event.Name)
				if evPath != absPath {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				data, err := LoadFile(absPath)
				if err != nil {
					logger.Error("Directory.Watch: reload failed, keeping previous data", "path", absPath, "error", err)
					continue
				}
				d.Replace(data)
				logger.Info("Directory.Watch: reloaded", "path", absPath, "doctors", len(d.Doctors()))
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				logger.Error("Directory.Watch: fsnotify error", "error", err)
			}
		}
	}()
	return nil
}
