package store

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounce coalesces the write+rename event bursts an atomic save produces.
const debounce = 200 * time.Millisecond

// Watch observes the file provider's data directory and invokes cb after
// sessions.json changes on disk, debounced. It lets the server pick up edits
// made by external tooling and push a refresh to connected clients. Runs
// until ctx is cancelled.
func Watch(ctx context.Context, dataDir string, logger *slog.Logger, cb func()) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := w.Add(dataDir); err != nil {
		return err
	}

	logger.Info("store watcher: started", slog.String("dir", dataDir))

	var timer *time.Timer
	var fire <-chan time.Time

	schedule := func() {
		if timer == nil {
			timer = time.NewTimer(debounce)
			fire = timer.C
		} else {
			timer.Reset(debounce)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			logger.Info("store watcher: stopped")
			return nil

		case <-fire:
			cb()

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != sessionsFile {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				schedule()
			}

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Warn("store watcher: error", slog.String("error", err.Error()))
		}
	}
}
