package debug

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/dshills/wtldebug/internal/debug/wtl"
)

// PresetFile is the on-disk format of breakpoint presets:
//
//	breakpoints:
//	  - path: /session/[^/]+/url$
//	    methods: [POST]
//	  - body: '"using":"xpath"'
type PresetFile struct {
	Breakpoints []wtl.Filter `yaml:"breakpoints"`
}

// ReadPresets reads filters from a preset file.
func ReadPresets(path string) ([]wtl.Filter, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read presets: %w", err)
	}

	var file PresetFile
	if err := yaml.Unmarshal(content, &file); err != nil {
		return nil, fmt.Errorf("parse presets %s: %w", path, err)
	}

	for i, f := range file.Breakpoints {
		if err := f.Validate(); err != nil {
			return nil, fmt.Errorf("preset %d in %s: %w", i, path, err)
		}
	}
	return file.Breakpoints, nil
}

// WritePresets writes filters to a preset file, creating parent directories.
func WritePresets(path string, filters []wtl.Filter) error {
	content, err := yaml.Marshal(PresetFile{Breakpoints: filters})
	if err != nil {
		return fmt.Errorf("marshal presets: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	if err := os.WriteFile(path, content, 0644); err != nil {
		return fmt.Errorf("write presets: %w", err)
	}
	return nil
}

// LoadPresets installs every filter in the preset file and returns the ids
// assigned, in file order. It stops at the first failure; breakpoints set
// before it remain installed.
func (s *Session) LoadPresets(ctx context.Context, path string) ([]int, error) {
	filters, err := ReadPresets(path)
	if err != nil {
		return nil, err
	}

	ids := make([]int, 0, len(filters))
	for _, f := range filters {
		id, err := s.SetBreakpoint(ctx, f)
		if err != nil {
			return ids, fmt.Errorf("install preset %q: %w", f.Path, err)
		}
		ids = append(ids, id)
	}

	s.logger.Info().Str("file", path).Int("count", len(ids)).Msg("presets loaded")
	return ids, nil
}

// SavePresets writes the session's breakpoints to path, ordered by id.
func (s *Session) SavePresets(path string) error {
	bps := s.breakpoints.List()
	filters := make([]wtl.Filter, 0, len(bps))
	for _, bp := range bps {
		filters = append(filters, bp.Filter)
	}
	return WritePresets(path, filters)
}
