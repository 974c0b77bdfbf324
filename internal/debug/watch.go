package debug

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/dshills/wtldebug/internal/debug/wtl"
)

// DefaultWatchDelay is the quiet period after the last change to a preset
// file before it is reinstalled.
const DefaultWatchDelay = 200 * time.Millisecond

// PresetWatcher reinstalls preset breakpoints when their file changes.
//
// Only breakpoints the watcher installed are replaced; breakpoints set from
// the console are left alone. A file that fails to parse keeps the previous
// breakpoints in place.
type PresetWatcher struct {
	session *Session
	path    string
	delay   time.Duration
	watcher *fsnotify.Watcher

	mu        sync.Mutex
	installed []int

	// OnReload, if set, is called after each reload attempt from the
	// watcher goroutine.
	OnReload func(ids []int, err error)
}

// WatchPresets watches path for changes. installed holds the ids already
// set from the file, usually the result of LoadPresets.
func (s *Session) WatchPresets(path string, installed []int) (*PresetWatcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}

	// Editors often replace the file, so watch its directory.
	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch %s: %w", path, err)
	}

	return &PresetWatcher{
		session:   s,
		path:      abs,
		delay:     DefaultWatchDelay,
		watcher:   fsw,
		installed: append([]int(nil), installed...),
	}, nil
}

// SetDelay changes the quiet period. Call before Run.
func (w *PresetWatcher) SetDelay(d time.Duration) {
	w.delay = d
}

// Installed returns the ids currently owned by the watcher.
func (w *PresetWatcher) Installed() []int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]int(nil), w.installed...)
}

// Run processes file events until ctx is done, the watcher is closed, or the
// session ends.
func (w *PresetWatcher) Run(ctx context.Context) error {
	var (
		timer   *time.Timer
		timerCh <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != w.path || !ev.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.delay)
			} else {
				timer.Reset(w.delay)
			}
			timerCh = timer.C

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.session.logger.Warn().Err(err).Str("file", w.path).Msg("preset watcher error")

		case <-timerCh:
			timerCh = nil
			ids, err := w.Reload(ctx)
			if w.OnReload != nil {
				w.OnReload(ids, err)
			}
			if err != nil && wtl.IsFatal(err) {
				return err
			}
		}
	}
}

// Reload replaces the watcher's breakpoints with the file's current content.
func (w *PresetWatcher) Reload(ctx context.Context) ([]int, error) {
	filters, err := ReadPresets(w.path)
	if err != nil {
		w.session.logger.Warn().Err(err).Msg("presets not reloaded")
		return w.Installed(), err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	for len(w.installed) > 0 {
		id := w.installed[0]
		if err := w.session.DeleteBreakpoint(ctx, id); err != nil && wtl.IsFatal(err) {
			return append([]int(nil), w.installed...), err
		}
		w.installed = w.installed[1:]
	}

	for _, f := range filters {
		id, err := w.session.SetBreakpoint(ctx, f)
		if err != nil {
			return append([]int(nil), w.installed...), fmt.Errorf("install preset %q: %w", f.Path, err)
		}
		w.installed = append(w.installed, id)
	}

	w.session.logger.Info().Str("file", w.path).Ints("ids", w.installed).Msg("presets reloaded")
	return append([]int(nil), w.installed...), nil
}

// Close stops watching.
func (w *PresetWatcher) Close() error {
	return w.watcher.Close()
}
