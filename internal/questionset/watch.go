package questionset

import (
	"context"
	"fmt"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce coalesces the burst of events an editor save produces.
const reloadDebounce = 250 * time.Millisecond

// Watch reloads the catalog whenever a file in its directory changes, until
// ctx ends. Failed reloads are logged and the previous sets stay live.
func (c *Catalog) Watch(ctx context.Context) error {
	if c.dir == "" {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if err := watcher.Add(c.dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch %s: %w", c.dir, err)
	}

	go func() {
		defer func() { _ = watcher.Close() }()

		var timer *time.Timer
		var fire <-chan time.Time
		for {
			select {
			case <-ctx.Done():
				if timer != nil {
					timer.Stop()
				}
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !isYAML(event.Name) {
					continue
				}
				if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) ||
					event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
					c.logger.Debug("question set change", "op", event.Op.String(), "file", event.Name)
					if timer == nil {
						timer = time.NewTimer(reloadDebounce)
					} else {
						timer.Reset(reloadDebounce)
					}
					fire = timer.C
				}
			case <-fire:
				fire = nil
				if err := c.Load(); err != nil {
					c.logger.Error("question set reload failed, keeping previous sets", "error", err)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				c.logger.Error("fsnotify error", "error", err)
			}
		}
	}()
	return nil
}
