package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

// NewTestAppender writes console lines through tb.Log so output stays with the test that produced
// it.
func NewTestAppender(tb testing.TB) Appender {
	return newConsoleCore(zaptest.NewTestingWriter(tb))
}

// NewTestLogger returns a DEBUG logger that writes to tb.
func NewTestLogger(tb testing.TB) Logger {
	logger, _ := NewObservedTestLogger(tb)
	return logger
}

// NewObservedTestLogger is NewTestLogger that also records every entry for assertions.
func NewObservedTestLogger(tb testing.TB) (Logger, *observer.ObservedLogs) {
	core, observed := observer.New(zapcore.DebugLevel)
	return newImpl("", DEBUG, NewTestAppender(tb), core), observed
}
