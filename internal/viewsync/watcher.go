package viewsync

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const criteriaDebounce = 150 * time.Millisecond

// WatchCriteria calls onChange with the reparsed criteria every time the file
// at path is written, created or renamed into place. It watches the parent
// directory so editors that replace the file are still seen. Parse failures
// are logged and the previous criteria stay in effect. It blocks until ctx is
// done.
func WatchCriteria(ctx context.Context, path string, logger Logger, onChange func(CriteriaFile)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	path = filepath.Clean(path)
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return err
	}

	logf := func(format string, args ...any) {
		if logger != nil {
			logger.Printf(format, args...)
		}
	}

	var debounce *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) && !event.Has(fsnotify.Remove) {
				continue
			}
			if debounce == nil {
				debounce = time.NewTimer(criteriaDebounce)
			} else {
				if !debounce.Stop() {
					select {
					case <-debounce.C:
					default:
					}
				}
				debounce.Reset(criteriaDebounce)
			}
			fire = debounce.C
		case <-fire:
			fire = nil
			criteria, err := LoadCriteria(path)
			if err != nil {
				logf("criteria reload failed: %v", err)
				continue
			}
			onChange(criteria)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logf("criteria watcher error: %v", err)
		}
	}
}
