package debug

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/wtldebug/internal/debug/wtl"
)

const watchedPresets = `breakpoints:
  - path: /url$
    methods: [POST]
`

func TestPresetWatcherReload(t *testing.T) {
	mt := newMockTransport()
	autoReply(mt)
	s := NewSession(mt, Config{})
	defer s.Close()
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "presets.yaml")
	require.NoError(t, os.WriteFile(path, []byte(watchedPresets), 0644))

	ids, err := s.LoadPresets(ctx, path)
	require.NoError(t, err)
	manual, err := s.SetBreakpoint(ctx, wtl.Filter{Body: "xpath"})
	require.NoError(t, err)

	w, err := s.WatchPresets(path, ids)
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(path, []byte("breakpoints:\n  - path: /title$\n  - path: /back$\n"), 0644))
	got, err := w.Reload(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)

	var paths []string
	for _, bp := range s.Breakpoints() {
		paths = append(paths, bp.Filter.Path)
	}
	assert.ElementsMatch(t, []string{"", "/title$", "/back$"}, paths)
	_, ok := s.breakpoints.Get(manual)
	assert.True(t, ok)
	assert.Equal(t, got, w.Installed())
}

func TestPresetWatcherKeepsBreakpointsOnBadFile(t *testing.T) {
	mt := newMockTransport()
	autoReply(mt)
	s := NewSession(mt, Config{})
	defer s.Close()
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "presets.yaml")
	require.NoError(t, os.WriteFile(path, []byte(watchedPresets), 0644))
	ids, err := s.LoadPresets(ctx, path)
	require.NoError(t, err)

	w, err := s.WatchPresets(path, ids)
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(path, []byte("breakpoints: [\n"), 0644))
	_, err = w.Reload(ctx)
	assert.Error(t, err)
	assert.Equal(t, ids, w.Installed())
	assert.Equal(t, 1, s.breakpoints.Len())
}

func TestPresetWatcherRun(t *testing.T) {
	mt := newMockTransport()
	autoReply(mt)
	s := NewSession(mt, Config{})
	defer s.Close()

	path := filepath.Join(t.TempDir(), "presets.yaml")
	require.NoError(t, os.WriteFile(path, []byte(watchedPresets), 0644))

	w, err := s.WatchPresets(path, nil)
	require.NoError(t, err)
	defer w.Close()
	w.SetDelay(10 * time.Millisecond)

	reloaded := make(chan []int, 4)
	w.OnReload = func(ids []int, err error) {
		if err == nil {
			reloaded <- ids
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// Give the watcher a moment to start before touching the file.
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte(watchedPresets), 0644))

	select {
	case ids := <-reloaded:
		assert.Len(t, ids, 1)
	case <-time.After(5 * time.Second):
		t.Fatal("presets not reloaded")
	}

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
