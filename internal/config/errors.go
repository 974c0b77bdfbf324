package config

import (
	"fmt"

	"github.com/dshills/wtldebug/internal/config/loader"
)

// ParseError represents an error while parsing a configuration source.
type ParseError = loader.ParseError

// ValidationError describes a setting with an unusable value.
type ValidationError struct {
	// Path is the setting path, e.g. "debugger.port".
	Path string
	// Message describes the problem.
	Message string
	// Value is the rejected value.
	Value any
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s (%v): %s", e.Path, e.Value, e.Message)
}
