package daemon

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ipsix/scamshield/internal/logging"
)

const defaultDebounce = 200 * time.Millisecond

// ConfigWatcher calls onChange after the config file settles. The parent
// directory is watched so editors that replace the file by rename still
// trigger a reload.
type ConfigWatcher struct {
	path     string
	debounce time.Duration
	onChange func()
	logger   *logging.Logger
}

func NewConfigWatcher(path string, debounce time.Duration, logger *logging.Logger, onChange func()) *ConfigWatcher {
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &ConfigWatcher{path: path, debounce: debounce, onChange: onChange, logger: logger}
}

// Run blocks until ctx is done.
func (w *ConfigWatcher) Run(ctx context.Context) error {
	abs, err := filepath.Abs(w.path)
	if err != nil {
		return fmt.Errorf("resolve config path: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}
	w.logger.Debug("watching config", logging.F("path", abs))

	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

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
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}
			fire = timer.C
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("config watcher error", logging.Err(err))
		case <-fire:
			fire = nil
			w.onChange()
		}
	}
}
