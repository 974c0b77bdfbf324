package main

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersionCommand(t *testing.T) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "wtldebug dev")
}

func TestLoadConfigArgs(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "none.toml")

	tests := []struct {
		name    string
		args    []string
		flags   []string
		host    string
		port    int
		wantErr bool
	}{
		{name: "port only", args: []string{"9000"}, host: "localhost", port: 9000},
		{name: "host and port", args: []string{"example.test", "9001"}, host: "example.test", port: 9001},
		{name: "bad port", args: []string{"abc"}, wantErr: true},
		{name: "port out of range", args: []string{"70000"}, wantErr: true},
		{name: "bad level", args: []string{"9000"}, flags: []string{"--log-level", "loud"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := newRootCmd()
			require.NoError(t, cmd.ParseFlags(append([]string{"--config", missing}, tt.flags...)))

			flags := rootFlags{configPath: missing}
			flags.logLevel, _ = cmd.Flags().GetString("log-level")

			cfg, err := loadConfig(cmd, flags, tt.args)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.host, cfg.Debugger.Host)
			assert.Equal(t, tt.port, cfg.Debugger.Port)
		})
	}
}

func TestLoadConfigFlagsOverride(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "none.toml")
	cmd := newRootCmd()
	require.NoError(t, cmd.ParseFlags([]string{"--read-timeout", "3s"}))

	flags := rootFlags{
		configPath:  missing,
		logLevel:    "debug",
		readTimeout: 3 * time.Second,
		feedAddr:    "127.0.0.1:0",
		loose:       true,
	}
	cfg, err := loadConfig(cmd, flags, []string{"9000"})
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 3*time.Second, cfg.Debugger.ReadTimeout.Std())
	assert.Equal(t, "127.0.0.1:0", cfg.Feed.Addr)
	assert.True(t, cfg.Debugger.LooseCorrelation)
}
