package logging

import (
	"io"
	"os"
	"time"

	"go.uber.org/zap/zapcore"
)

// TimeFormat is the layout of the timestamp column.
const TimeFormat = "2006-01-02T15:04:05.000Z0700"

// Appender receives every entry a logger lets through. Any zapcore.Core is an Appender; level
// filtering happens in the logger before Write is called.
type Appender interface {
	Write(zapcore.Entry, []zapcore.Field) error
	Sync() error
}

// consoleEncoderConfig lays an entry out as tab separated time, level, logger name, caller and
// message, followed by the fields as one JSON object.
func consoleEncoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:          "ts",
		LevelKey:         "level",
		NameKey:          "logger",
		CallerKey:        "caller",
		FunctionKey:      zapcore.OmitKey,
		MessageKey:       "msg",
		StacktraceKey:    zapcore.OmitKey,
		LineEnding:       zapcore.DefaultLineEnding,
		ConsoleSeparator: "\t",
		EncodeLevel:      zapcore.CapitalLevelEncoder,
		EncodeTime: func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
			enc.AppendString(t.UTC().Format(TimeFormat))
		},
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
		EncodeName:     zapcore.FullNameEncoder,
	}
}

func newConsoleCore(sink zapcore.WriteSyncer) zapcore.Core {
	return zapcore.NewCore(zapcore.NewConsoleEncoder(consoleEncoderConfig()), sink, zapcore.DebugLevel)
}

// NewStdoutAppender writes console lines to stdout.
func NewStdoutAppender() Appender {
	return newConsoleCore(zapcore.Lock(os.Stdout))
}

// NewWriterAppender writes console lines to w. Writes are serialized.
func NewWriterAppender(w io.Writer) Appender {
	return newConsoleCore(zapcore.Lock(zapcore.AddSync(w)))
}
