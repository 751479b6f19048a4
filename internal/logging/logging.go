// Package logging provides the apex/log setup shared by the cmd/ front-ends,
// mirroring the teacher's inline logger construction in conn.go but exposed
// so both CLIs configure logging identically.
package logging

import (
	"io"
	"os"

	"github.com/apex/log"
	"github.com/apex/log/handlers/cli"
	"github.com/apex/log/handlers/json"
)

// New builds a *log.Logger writing human-readable output to w at level,
// the default for interactive use (§9 AMBIENT STACK).
func New(w io.Writer, level log.Level) *log.Logger {
	return &log.Logger{
		Handler: cli.New(w),
		Level:   level,
	}
}

// NewJSON builds a *log.Logger emitting structured JSON, for production
// deployments where logs are collected rather than read directly.
func NewJSON(w io.Writer, level log.Level) *log.Logger {
	return &log.Logger{
		Handler: json.New(w),
		Level:   level,
	}
}

// ParseLevel parses a level name (debug/info/warn/error/fatal), defaulting
// to log.InfoLevel on an empty or unrecognized string.
func ParseLevel(name string) log.Level {
	lvl, err := log.ParseLevel(name)
	if err != nil {
		return log.InfoLevel
	}
	return lvl
}

// Default returns the standard interactive logger (cli handler, stderr,
// info level), used when a cmd/ front-end is given no explicit flags.
func Default() *log.Logger {
	return New(os.Stderr, log.InfoLevel)
}
