package loader

import (
	"os"
	"strconv"
	"strings"
)

// EnvPrefix is the prefix of environment variables read by DefaultEnvLoader.
const EnvPrefix = "WTLDEBUG_"

// EnvLoader loads configuration from environment variables.
type EnvLoader struct {
	mapping map[string]string // Env var -> config path
	lookup  func(string) (string, bool)
}

// NewEnvLoader creates a loader with the default wtldebug mapping.
func NewEnvLoader() *EnvLoader {
	return NewEnvLoaderWithMapping(defaultEnvMapping())
}

// NewEnvLoaderWithMapping creates a loader with custom environment variable mappings.
func NewEnvLoaderWithMapping(mapping map[string]string) *EnvLoader {
	return &EnvLoader{
		mapping: mapping,
		lookup:  os.LookupEnv,
	}
}

func defaultEnvMapping() map[string]string {
	return map[string]string{
		EnvPrefix + "HOST":              "debugger.host",
		EnvPrefix + "PORT":              "debugger.port",
		EnvPrefix + "READ_TIMEOUT":      "debugger.read_timeout",
		EnvPrefix + "DIAL_TIMEOUT":      "debugger.dial_timeout",
		EnvPrefix + "KEEP_ALIVE":        "debugger.keep_alive",
		EnvPrefix + "MAX_PENDING_BYTES": "debugger.max_pending_bytes",
		EnvPrefix + "LOOSE_CORRELATION": "debugger.loose_correlation",
		EnvPrefix + "LOG_LEVEL":         "log.level",
		EnvPrefix + "LOG_FILE":          "log.file",
		EnvPrefix + "FEED_ADDR":         "feed.addr",
		EnvPrefix + "ANALYTICS_URL":     "analytics.url",
		EnvPrefix + "ANALYTICS_ENABLED": "analytics.enabled",
		EnvPrefix + "PRESETS":           "breakpoints.presets",
		EnvPrefix + "WATCH_PRESETS":     "breakpoints.watch",
	}
}

// SetLookup replaces the environment lookup function.
func (l *EnvLoader) SetLookup(lookup func(string) (string, bool)) {
	l.lookup = lookup
}

// Load reads mapped environment variables and returns a configuration map.
// Empty values are treated as set.
func (l *EnvLoader) Load() (map[string]any, error) {
	config := make(map[string]any)

	for env, path := range l.mapping {
		if val, ok := l.lookup(env); ok {
			setByPath(config, path, parseValue(val))
		}
	}

	if len(config) == 0 {
		return nil, nil
	}
	return config, nil
}

// parseValue converts integers and booleans; everything else stays a string
// so durations keep their textual form.
func parseValue(s string) any {
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}

	switch strings.ToLower(s) {
	case "true", "yes", "on":
		return true
	case "false", "no", "off":
		return false
	}

	return s
}

// setByPath sets a value in a nested map using a dot-separated path.
func setByPath(data map[string]any, path string, value any) {
	parts := strings.Split(path, ".")
	current := data

	for _, part := range parts[:len(parts)-1] {
		next, ok := current[part].(map[string]any)
		if !ok {
			next = make(map[string]any)
			current[part] = next
		}
		current = next
	}

	current[parts[len(parts)-1]] = value
}
