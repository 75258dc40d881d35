// Package log provides the process-wide structured logger.
//
// Output is human readable when stderr is a terminal and JSON lines
// otherwise, so the same binary logs sensibly under systemd, inside a
// container, or in an interactive shell.
package log

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/moby/term"
	"github.com/rs/zerolog"
)

var (
	logger     zerolog.Logger
	loggerLock sync.RWMutex
)

func init() {
	Setup(os.Stderr, "info")
}

// Setup replaces the global logger with one that writes to out at the
// given level. When out is a terminal the console format is used.
func Setup(out io.Writer, level string) {
	output := out
	if f, ok := out.(*os.File); ok && term.IsTerminal(f.Fd()) {
		output = zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: time.Kitchen,
		}
	}

	loggerLock.Lock()
	defer loggerLock.Unlock()
	logger = zerolog.New(output).
		Level(parseLogLevel(level)).
		With().
		Timestamp().
		Logger()
}

// SetLevel sets the global log level at runtime
func SetLevel(levelStr string) {
	loggerLock.Lock()
	defer loggerLock.Unlock()
	logger = logger.Level(parseLogLevel(levelStr))
}

func parseLogLevel(levelStr string) zerolog.Level {
	switch strings.ToLower(levelStr) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func current() *zerolog.Logger {
	loggerLock.RLock()
	defer loggerLock.RUnlock()
	l := logger
	return &l
}

// Debug logs a debug message
func Debug() *zerolog.Event {
	return current().Debug()
}

// Info logs an info message
func Info() *zerolog.Event {
	return current().Info()
}

// Warn logs a warning message
func Warn() *zerolog.Event {
	return current().Warn()
}

// Error logs an error message
func Error() *zerolog.Event {
	return current().Error()
}

// Logger returns the underlying zerolog.Logger for integrations
func Logger() zerolog.Logger {
	return *current()
}
