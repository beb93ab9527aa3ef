package builder

import (
	"context"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch rebuilds whenever path changes, until ctx is cancelled. It is
// the implementation behind `cast --watch` (SPEC_FULL.md §4.7
// supplemental feature): a thin convenience loop over rebuild, not a
// change to CassetteBuilder's own determinism (P8) — every rebuild is
// an independent, from-scratch Build call.
//
// Grounded on the teacher's cmd/serve.go signal/fsnotify loop, adapted
// from "reload config on SIGHUP or file write" to "rebuild on file
// write", with a debounce so a burst of writes from an editor's atomic
// save collapses into a single rebuild.
func Watch(ctx context.Context, path string, debounce time.Duration, rebuild func() error) error {
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return &IoError{Path: path, Err: err}
	}
	defer watcher.Close()

	if err := watcher.Add(path); err != nil {
		return &IoError{Path: path, Err: err}
	}

	if err := rebuild(); err != nil {
		log.Warnf("initial build failed: %v", err)
	}

	var timer *time.Timer
	var timerC <-chan time.Time
	resetTimer := func() {
		if timer != nil {
			timer.Stop()
		}
		timer = time.NewTimer(debounce)
		timerC = timer.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				resetTimer()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warnf("watch error: %v", err)
		case <-timerC:
			log.Infof("rebuilding %s", path)
			if err := rebuild(); err != nil {
				log.Warnf("rebuild failed: %v", err)
			}
			timerC = nil
		}
	}
}
