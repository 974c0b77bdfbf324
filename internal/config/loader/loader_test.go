package loader

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MemFS is an in-memory file system for testing.
type MemFS struct {
	files map[string][]byte
}

func NewMemFS() *MemFS {
	return &MemFS{files: make(map[string][]byte)}
}

func (m *MemFS) AddFile(path string, content string) {
	m.files[path] = []byte(content)
}

func (m *MemFS) ReadFile(path string) ([]byte, error) {
	data, ok := m.files[path]
	if !ok {
		return nil, fs.ErrNotExist
	}
	return data, nil
}

func TestTOMLLoader_Load(t *testing.T) {
	memfs := NewMemFS()
	memfs.AddFile("/config.toml", `
[debugger]
host = "localhost"
port = 9999
`)

	cfg, err := NewTOMLLoaderWithFS(memfs, "/config.toml").Load()
	require.NoError(t, err)

	debugger, ok := cfg["debugger"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "localhost", debugger["host"])
	assert.Equal(t, int64(9999), debugger["port"])
}

func TestTOMLLoader_Missing(t *testing.T) {
	cfg, err := NewTOMLLoaderWithFS(NewMemFS(), "/absent.toml").Load()
	assert.NoError(t, err)
	assert.Nil(t, cfg)

	cfg, err = NewTOMLLoader("").Load()
	assert.NoError(t, err)
	assert.Nil(t, cfg)
}

func TestTOMLLoader_LoadFromReader(t *testing.T) {
	l := NewTOMLLoader("")

	cfg, err := l.LoadFromReader(strings.NewReader("[feed]\naddr = \":9090\"\n"))
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg["feed"].(map[string]any)["addr"])

	_, err = l.LoadFromReader(strings.NewReader("[feed"))
	var parseErr *ParseError
	require.ErrorAs(t, err, &parseErr)
	assert.Equal(t, "<reader>", parseErr.Path)
	assert.Contains(t, parseErr.Error(), "parse error in <reader>")
}

func TestEnvLoader(t *testing.T) {
	env := map[string]string{
		"WTLDEBUG_HOST":              "wtl",
		"WTLDEBUG_PORT":              "9999",
		"WTLDEBUG_LOOSE_CORRELATION": "yes",
		"WTLDEBUG_READ_TIMEOUT":      "30s",
		"WTLDEBUG_LOG_FILE":          "",
		"UNRELATED":                  "x",
	}
	l := NewEnvLoader()
	l.SetLookup(func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})

	cfg, err := l.Load()
	require.NoError(t, err)

	debugger := cfg["debugger"].(map[string]any)
	assert.Equal(t, "wtl", debugger["host"])
	assert.Equal(t, int64(9999), debugger["port"])
	assert.Equal(t, true, debugger["loose_correlation"])
	assert.Equal(t, "30s", debugger["read_timeout"])
	assert.Equal(t, "", cfg["log"].(map[string]any)["file"])
}

func TestEnvLoader_Empty(t *testing.T) {
	l := NewEnvLoaderWithMapping(map[string]string{"WTLDEBUG_X": "a.b"})
	l.SetLookup(func(string) (string, bool) { return "", false })

	cfg, err := l.Load()
	assert.NoError(t, err)
	assert.Nil(t, cfg)
}

func TestDeepMerge(t *testing.T) {
	dst := map[string]any{
		"debugger": map[string]any{"host": "a", "port": int64(1)},
		"log":      map[string]any{"level": "info"},
	}
	src := map[string]any{
		"debugger": map[string]any{"port": int64(2)},
		"feed":     map[string]any{"addr": ":1"},
	}

	got := DeepMerge(dst, src)
	assert.Equal(t, map[string]any{
		"debugger": map[string]any{"host": "a", "port": int64(2)},
		"log":      map[string]any{"level": "info"},
		"feed":     map[string]any{"addr": ":1"},
	}, got)

	assert.Equal(t, map[string]any{"a": 1}, DeepMerge(nil, map[string]any{"a": 1}))
	assert.Equal(t, map[string]any{"a": 1}, DeepMerge(map[string]any{"a": 1}, nil))
}
