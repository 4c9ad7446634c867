package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/zeusync/ecsync/internal/core/observability/log"
)

const reloadDebounce = 100 * time.Millisecond

// Watch reloads path whenever it is written and hands every valid result
// to fn. Invalid files are logged and skipped. The parent directory is
// watched so editors that replace the file atomically are seen too. Watch
// blocks until ctx is done.
func Watch(ctx context.Context, path string, logger log.Log, fn func(*Config)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = w.Close() }()

	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if err = w.Add(filepath.Dir(abs)); err != nil {
		return err
	}
	logger.Debug("watching configuration", log.String("path", abs))

	var last time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs || event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			now := time.Now()
			if now.Sub(last) < reloadDebounce {
				continue
			}
			last = now
			c, err := LoadFile(abs)
			if err != nil {
				logger.Warn("configuration reload rejected", log.String("path", abs), log.Error(err))
				continue
			}
			logger.Info("configuration reloaded", log.String("path", abs))
			fn(c)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Warn("configuration watcher error", log.Error(err))
		}
	}
}
