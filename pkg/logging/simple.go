package logging

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/fatih/color"
	"github.com/go-logr/logr"
	"golang.org/x/term"
)

var (
	infoColor  = color.New(color.FgGreen).SprintFunc()
	debugColor = color.New(color.FgCyan).SprintFunc()
	traceColor = color.New(color.FgYellow).SprintFunc()
	errorColor = color.New(color.FgRed).SprintFunc()
)

// isTerminal reports whether f is an interactive terminal, used to decide
// whether to emit ANSI color codes and whether a progress spinner is
// appropriate.
func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// SimpleLogSink implements logr.LogSink for human-readable, optionally
// colorized terminal output.
type SimpleLogSink struct {
	writer       io.Writer
	minVerbosity int
	name         string
	keyValues    []interface{}
	mutex        *sync.Mutex
	useColor     bool
}

// NewSimpleLogSink creates a new SimpleLogSink. If writer is nil it
// defaults to os.Stdout.
func NewSimpleLogSink(writer io.Writer, minVerbosity int, useColor bool) *SimpleLogSink {
	if writer == nil {
		writer = os.Stdout
	}
	return &SimpleLogSink{
		writer:       writer,
		minVerbosity: minVerbosity,
		useColor:     useColor,
		mutex:        &sync.Mutex{},
	}
}

func (s *SimpleLogSink) Init(info logr.RuntimeInfo) {}

func (s *SimpleLogSink) Enabled(level int) bool {
	return level <= s.minVerbosity
}

func (s *SimpleLogSink) Info(level int, msg string, keysAndValues ...interface{}) {
	if !s.Enabled(level) {
		return
	}
	s.log(false, level, msg, keysAndValues...)
}

func (s *SimpleLogSink) Error(err error, msg string, keysAndValues ...interface{}) {
	allKeysAndValues := append(append([]interface{}{}, keysAndValues...), "error", err)
	s.log(true, 0, msg, allKeysAndValues...)
}

func (s *SimpleLogSink) WithValues(keysAndValues ...interface{}) logr.LogSink {
	newKeyValues := append(append([]interface{}{}, s.keyValues...), keysAndValues...)
	return &SimpleLogSink{
		writer:       s.writer,
		minVerbosity: s.minVerbosity,
		name:         s.name,
		keyValues:    newKeyValues,
		useColor:     s.useColor,
		mutex:        s.mutex,
	}
}

func (s *SimpleLogSink) WithName(name string) logr.LogSink {
	newName := name
	if s.name != "" {
		newName = fmt.Sprintf("%s.%s", s.name, name)
	}
	return &SimpleLogSink{
		writer:       s.writer,
		minVerbosity: s.minVerbosity,
		name:         newName,
		keyValues:    append([]interface{}{}, s.keyValues...),
		useColor:     s.useColor,
		mutex:        s.mutex,
	}
}

func (s *SimpleLogSink) V(level int) logr.LogSink {
	return s
}

func (s *SimpleLogSink) log(isError bool, level int, msg string, keysAndValues ...interface{}) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	var label string
	switch {
	case isError:
		label = s.colorize(errorColor, "[ERROR]") + " "
	case level == INFO:
		label = s.colorize(infoColor, "[INFO]") + " "
	case level == DEBUG:
		label = s.colorize(debugColor, "[DEBUG]") + " "
	case level == TRACE:
		label = s.colorize(traceColor, "[TRACE]") + " "
	default:
		label = fmt.Sprintf("[LEVEL %d] ", level)
	}

	fullMsg := msg
	if s.name != "" {
		fullMsg = fmt.Sprintf("[%s] %s", s.name, msg)
	}
	fmt.Fprintln(s.writer, label+fullMsg)

	all := append(append([]interface{}{}, s.keyValues...), keysAndValues...)
	for i := 0; i+1 < len(all); i += 2 {
		key, ok := all[i].(string)
		if !ok {
			key = fmt.Sprintf("key%d", i/2)
		}
		fmt.Fprintf(s.writer, "  %s: %v\n", key, all[i+1])
	}
}

func (s *SimpleLogSink) colorize(f func(a ...interface{}) string, text string) string {
	if !s.useColor {
		return text
	}
	return f(text)
}

// NewSimpleLogger creates a logr.Logger backed by a SimpleLogSink.
func NewSimpleLogger(writer io.Writer, minVerbosity int, useColor bool) logr.Logger {
	return logr.New(NewSimpleLogSink(writer, minVerbosity, useColor))
}
