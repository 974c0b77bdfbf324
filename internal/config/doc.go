// Package config provides wtldebug configuration.
//
// Settings are layered, later sources overriding earlier ones:
//
//  1. built-in defaults (Default)
//  2. a TOML file, if present
//  3. WTLDEBUG_* environment variables
//  4. command line flags, applied by the caller after Load
//
// Example file:
//
//	[debugger]
//	host = "localhost"
//	port = 9999
//	read_timeout = "2m"
//
//	[log]
//	level = "debug"
//	file = "/tmp/wtldebug.log"
//
//	[feed]
//	addr = "127.0.0.1:9090"
//
//	[breakpoints]
//	presets = "~/.config/wtldebug/presets.yaml"
package config
