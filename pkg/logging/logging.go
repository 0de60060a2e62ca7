// Package logging wraps github.com/go-logr/logr with the three verbosity
// thresholds spec.md §7 calls for (warning/info always-on, info, debug),
// plus a human-readable colorized sink for command-line use.
package logging

import (
	"os"
	"strings"

	"github.com/go-logr/logr"
)

// Verbosity thresholds, passed to logr.Logger.V.
const (
	INFO  = 0
	DEBUG = 1
	TRACE = 2
)

// NewLogger wraps an existing logr.Logger, discarding it if its sink is nil.
func NewLogger(log logr.Logger) *Logger {
	if log.GetSink() == nil {
		log = logr.Discard()
	}
	return &Logger{log: log}
}

// DefaultLogger returns a Logger that discards everything. Callers that
// want visible output should construct one with NewSimpleLogger instead.
func DefaultLogger() *Logger {
	return &Logger{log: logr.Discard()}
}

// Logger narrows logr.Logger to the four verbs this module's components
// actually call, keeping call sites terse.
type Logger struct {
	log logr.Logger
}

func (l *Logger) Debug(msg string, keysAndValues ...interface{}) {
	l.log.V(DEBUG).Info(msg, keysAndValues...)
}

func (l *Logger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Info(msg, keysAndValues...)
}

func (l *Logger) Trace(msg string, keysAndValues ...interface{}) {
	l.log.V(TRACE).Info(msg, keysAndValues...)
}

func (l *Logger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error(err, msg, keysAndValues...)
}

// InitLogger builds a logr.Logger from a textual level name
// ("trace"/"debug"/"info", case-insensitive; anything else yields "info")
// that writes to os.Stderr, colorized when stderr is a terminal. It only
// returns the logger; no process-wide default is installed. CLI
// front-ends call this once, during flag processing.
func InitLogger(level *string) logr.Logger {
	v := INFO
	if level != nil {
		switch strings.ToLower(*level) {
		case "trace":
			v = TRACE
		case "debug":
			v = DEBUG
		}
	}
	useColor := isTerminal(os.Stderr)
	return NewSimpleLogger(os.Stderr, v, useColor)
}
