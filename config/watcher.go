package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/bosley/rtstt/logger"
)

const reloadDebounce = 100 * time.Millisecond

// Watch reloads path whenever it changes on disk and hands every valid
// configuration to onChange. Invalid files are logged and ignored. Watch
// blocks until ctx is done.
func Watch(ctx context.Context, path string, log *logger.Logger, onChange func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create config watcher: %w", err)
	}
	defer watcher.Close()

	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve config path: %w", err)
	}

	// Watch the directory so editors that replace the file are still seen
	dir := filepath.Dir(abs)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch config directory: %w", err)
	}

	log = log.Named("config")
	log.Info("Watching configuration file", logger.String("path", abs))

	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			// Editors often write in several steps
			pending = time.After(reloadDebounce)

		case <-pending:
			pending = nil
			reload(abs, log, onChange)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Error("Config watcher error", logger.Error(err))
		}
	}
}

func reload(path string, log *logger.Logger, onChange func(*Config)) {
	cfg, err := Load(path)
	if err != nil {
		log.Error("Failed to reload configuration", logger.Error(err), logger.String("path", path))
		return
	}
	if err := cfg.Validate(); err != nil {
		log.Error("Reloaded configuration is invalid, keeping current settings",
			logger.Error(err), logger.String("path", path))
		return
	}
	log.Info("Configuration reloaded", logger.String("path", path))
	onChange(cfg)
}
