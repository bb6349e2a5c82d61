package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"postbot/pkg/logx"
)

// Watch re-parses the config file on write events and invokes onChange with
// the new config. Only hot-applicable settings (logging level) are expected
// to be consumed; structural changes still need a restart.
//
// The parent directory is watched, not the file itself: editors replace the
// file atomically and the watch would otherwise be lost after the first save.
func Watch(ctx context.Context, path string, log logx.Logger, onChange func(*Config)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return err
	}
	base := filepath.Base(path)

	go func() {
		defer w.Close()

		// Debounce: editors often emit several events per save.
		var pending *time.Timer
		fire := make(chan struct{}, 1)

		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Base(ev.Name) != base {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if pending != nil {
					pending.Stop()
				}
				pending = time.AfterFunc(200*time.Millisecond, func() {
					select {
					case fire <- struct{}{}:
					default:
					}
				})
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.Warn("config watch error", logx.Err(err))
			case <-fire:
				cfg, err := Parse(path)
				if err != nil {
					log.Warn("config reload skipped", logx.Err(err))
					continue
				}
				log.Info("config reloaded", logx.String("path", path))
				onChange(cfg)
			}
		}
	}()
	return nil
}
