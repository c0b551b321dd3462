package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// debounceDelay coalesces the burst of events editors emit per save.
const debounceDelay = 200 * time.Millisecond

// Watch monitors the configuration file and calls onReload with a
// freshly loaded Config after each change. The watch stops when ctx is
// cancelled. onReload runs on the watcher goroutine; callers needing
// the UI thread must hand the config off themselves.
func Watch(ctx context.Context, path string, log zerolog.Logger, onReload func(*Config)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	// Watch the directory, not the file: editors replace files on save
	// and a file watch dies with the old inode.
	dir := filepath.Dir(path)
	if err := w.Add(dir); err != nil {
		w.Close()
		return err
	}

	target := filepath.Clean(path)

	go func() {
		defer w.Close()

		var debounce *time.Timer
		var fire <-chan time.Time

		for {
			select {
			case <-ctx.Done():
				return

			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if debounce == nil {
					debounce = time.NewTimer(debounceDelay)
					fire = debounce.C
				} else {
					debounce.Reset(debounceDelay)
				}

			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.Warn().Err(err).Msg("config watcher error")

			case <-fire:
				fire = nil
				debounce = nil
				cfg, err := Load(path)
				if err != nil {
					log.Warn().Err(err).Str("path", path).Msg("config reload failed")
					continue
				}
				log.Info().Str("path", path).Msg("configuration reloaded")
				onReload(cfg)
			}
		}
	}()

	return nil
}
