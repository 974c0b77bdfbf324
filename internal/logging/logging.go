// Package logging builds the zerolog logger used across wtldebug.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config controls logger construction.
type Config struct {
	// Level is a zerolog level name. Empty means info.
	Level string

	// File, when set, receives JSON logs rotated by size.
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool

	// Console is the human-readable sink. Nil means stderr; io.Discard
	// disables it.
	Console io.Writer

	// NoColor disables ANSI colors on the console sink.
	NoColor bool
}

// Logger bundles a configured zerolog.Logger with the sinks it owns.
type Logger struct {
	zerolog.Logger
	file *lumberjack.Logger
}

// ParseLevel converts a level name, treating empty as info.
func ParseLevel(name string) (zerolog.Level, error) {
	if name == "" {
		return zerolog.InfoLevel, nil
	}
	level, err := zerolog.ParseLevel(strings.ToLower(name))
	if err != nil {
		return zerolog.NoLevel, fmt.Errorf("unknown log level %q", name)
	}
	return level, nil
}

// New builds a logger from cfg.
func New(cfg Config) (*Logger, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	console := cfg.Console
	if console == nil {
		console = os.Stderr
	}

	var writers []io.Writer
	if console != io.Discard {
		writers = append(writers, zerolog.ConsoleWriter{
			Out:        console,
			NoColor:    cfg.NoColor,
			TimeFormat: time.TimeOnly,
		})
	}

	l := &Logger{}
	if cfg.File != "" {
		l.file = newFileWriter(cfg)
		writers = append(writers, l.file)
	}

	var out io.Writer = io.Discard
	switch len(writers) {
	case 0:
	case 1:
		out = writers[0]
	default:
		out = zerolog.MultiLevelWriter(writers...)
	}

	l.Logger = zerolog.New(out).Level(level).With().Timestamp().Logger()
	return l, nil
}

// Close flushes and closes the log file, if any.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}

// newFileWriter creates the rotating file sink.
func newFileWriter(cfg Config) *lumberjack.Logger {
	if err := os.MkdirAll(filepath.Dir(cfg.File), 0700); err != nil {
		fmt.Fprintf(os.Stderr, "create log directory %s: %v\n", filepath.Dir(cfg.File), err)
	}

	return &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}
}
