// Package logging contains the process-wide logging setup for the tracking and reconstruction
// packages. Loggers are zap backed and handed explicitly to every long-running operation.
package logging

import (
	"sync"
	"sync/atomic"
)

var (
	globalMu     sync.RWMutex
	globalLogger Logger = NewLogger("sfm")

	initOnce  sync.Once
	verbosity atomic.Int32
)

// NewLogger returns a logger writing INFO and above to stdout.
func NewLogger(name string) Logger {
	return newImpl(name, INFO, NewStdoutAppender())
}

// NewBlankLogger returns a DEBUG logger with no appenders.
func NewBlankLogger(name string) Logger {
	return newImpl(name, DEBUG)
}

// ReplaceGlobal installs logger as the process-wide logger.
func ReplaceGlobal(logger Logger) {
	globalMu.Lock()
	globalLogger = logger
	globalMu.Unlock()
}

// Global returns the process-wide logger. Subloggers of it follow SetVerbosity.
func Global() Logger {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalLogger
}

// InitLogging installs the global logger named after the program. Only the first call has an
// effect; later calls return the already installed logger.
func InitLogging(programName string) Logger {
	initOnce.Do(func() {
		logger := NewLogger(programName)
		if Verbosity() > 0 {
			logger.SetLevel(DEBUG)
		}
		ReplaceGlobal(logger)
	})
	return Global()
}

// SetVerbosity sets the global verbosity. Zero logs at info, anything above logs at debug. Levels
// above one additionally enable per-iteration solver reports.
func SetVerbosity(level int) {
	level = max(level, 0)
	verbosity.Store(int32(level))
	if level == 0 {
		Global().SetLevel(INFO)
		return
	}
	Global().SetLevel(DEBUG)
}

// Verbosity returns the value last passed to SetVerbosity.
func Verbosity() int {
	return int(verbosity.Load())
}

// EnableDebugLogging is shorthand for SetVerbosity(1) unless a higher verbosity is already set.
func EnableDebugLogging() {
	if Verbosity() < 1 {
		SetVerbosity(1)
	}
}
