package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/rs/zerolog"

	"github.com/dshills/wtldebug/internal/config/loader"
)

// Config is the complete wtldebug configuration.
type Config struct {
	Debugger    DebuggerConfig    `toml:"debugger"`
	Log         LogConfig         `toml:"log"`
	Feed        FeedConfig        `toml:"feed"`
	Analytics   AnalyticsConfig   `toml:"analytics"`
	Breakpoints BreakpointsConfig `toml:"breakpoints"`
}

// DebuggerConfig locates the WTL debugger and tunes the protocol client.
type DebuggerConfig struct {
	Host             string   `toml:"host"`
	Port             int      `toml:"port"`
	DialTimeout      Duration `toml:"dial_timeout"`
	ReadTimeout      Duration `toml:"read_timeout"`
	KeepAlive        Duration `toml:"keep_alive"`
	MaxPendingBytes  int      `toml:"max_pending_bytes"`
	LooseCorrelation bool     `toml:"loose_correlation"`
}

// LogConfig controls logging output.
type LogConfig struct {
	Level      string `toml:"level"`
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
	Compress   bool   `toml:"compress"`
}

// FeedConfig controls the live event feed. An empty Addr disables it.
type FeedConfig struct {
	Addr string `toml:"addr"`
}

// AnalyticsConfig controls the start-up usage report.
type AnalyticsConfig struct {
	URL     string `toml:"url"`
	Enabled bool   `toml:"enabled"`
}

// BreakpointsConfig names breakpoint presets installed at start-up.
type BreakpointsConfig struct {
	Presets string `toml:"presets"`

	// Watch reinstalls the presets whenever the file changes.
	Watch bool `toml:"watch"`
}

// Duration is a time.Duration written as a string ("30s") in TOML.
type Duration time.Duration

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Debugger: DebuggerConfig{
			Host:            "localhost",
			DialTimeout:     Duration(10 * time.Second),
			MaxPendingBytes: 1 << 20,
		},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		Analytics: AnalyticsConfig{
			Enabled: true,
		},
	}
}

// DefaultPath returns the user config file location.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "wtldebug", "config.toml")
}

// Load builds a configuration from defaults, the TOML file at path and the
// environment. A missing file is not an error. The result is not validated;
// callers apply flags first and then call Validate.
func Load(path string) (*Config, error) {
	return LoadFrom(loader.NewTOMLLoader(ExpandHome(path)), loader.NewEnvLoader())
}

// LoadFrom builds a configuration from defaults and the given loaders, later
// loaders taking precedence.
func LoadFrom(loaders ...loader.Loader) (*Config, error) {
	merged, err := toMap(Default())
	if err != nil {
		return nil, err
	}

	for _, l := range loaders {
		m, err := l.Load()
		if err != nil {
			return nil, err
		}
		merged = loader.DeepMerge(merged, m)
	}

	cfg, err := fromMap(merged)
	if err != nil {
		return nil, err
	}
	cfg.Breakpoints.Presets = ExpandHome(cfg.Breakpoints.Presets)
	cfg.Log.File = ExpandHome(cfg.Log.File)
	return cfg, nil
}

// Validate checks every setting and reports all problems at once.
func (c *Config) Validate() error {
	var errs []error
	add := func(path, msg string, value any) {
		errs = append(errs, &ValidationError{Path: path, Message: msg, Value: value})
	}

	if c.Debugger.Port < 1 || c.Debugger.Port > 65535 {
		add("debugger.port", "must be between 1 and 65535", c.Debugger.Port)
	}
	if c.Debugger.DialTimeout < 0 {
		add("debugger.dial_timeout", "must not be negative", c.Debugger.DialTimeout.Std())
	}
	if c.Debugger.ReadTimeout < 0 {
		add("debugger.read_timeout", "must not be negative", c.Debugger.ReadTimeout.Std())
	}
	if c.Debugger.KeepAlive < 0 {
		add("debugger.keep_alive", "must not be negative", c.Debugger.KeepAlive.Std())
	}
	if c.Debugger.MaxPendingBytes < 0 {
		add("debugger.max_pending_bytes", "must not be negative", c.Debugger.MaxPendingBytes)
	}
	if _, err := zerolog.ParseLevel(strings.ToLower(c.Log.Level)); err != nil {
		add("log.level", "unknown level", c.Log.Level)
	}
	if c.Log.MaxSizeMB < 0 {
		add("log.max_size_mb", "must not be negative", c.Log.MaxSizeMB)
	}
	if c.Log.MaxBackups < 0 {
		add("log.max_backups", "must not be negative", c.Log.MaxBackups)
	}
	if c.Breakpoints.Watch && c.Breakpoints.Presets == "" {
		add("breakpoints.watch", "requires breakpoints.presets", c.Breakpoints.Watch)
	}

	return errors.Join(errs...)
}

// AnalyticsActive reports whether the usage report should be sent.
func (c *Config) AnalyticsActive() bool {
	return c.Analytics.Enabled && c.Analytics.URL != ""
}

// ExpandHome replaces a leading "~/" with the user's home directory.
func ExpandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}

// toMap renders cfg as the nested map the loaders produce.
func toMap(cfg *Config) (map[string]any, error) {
	data, err := toml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("marshal defaults: %w", err)
	}
	var m map[string]any
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshal defaults: %w", err)
	}
	return m, nil
}

// fromMap decodes the merged map, rejecting unknown settings.
func fromMap(m map[string]any) (*Config, error) {
	data, err := toml.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}

	cfg := &Config{}
	dec := toml.NewDecoder(bytes.NewReader(data)).DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, loader.NewParseError("config", err)
	}
	return cfg, nil
}
