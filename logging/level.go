package logging

import (
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap/zapcore"
)

// Level is a zap level. It marshals to and from its lower case name.
type Level = zapcore.Level

const (
	// DEBUG logs solver iterations, resections and per frame tracking outcomes.
	DEBUG = zapcore.DebugLevel
	// INFO logs stage transitions and written outputs.
	INFO = zapcore.InfoLevel
	// WARN logs rejected inputs.
	WARN = zapcore.WarnLevel
	// ERROR is the highest level the packages emit.
	ERROR = zapcore.ErrorLevel
)

// LevelFromString parses debug, info, warn or error in any case.
func LevelFromString(name string) (Level, error) {
	level, err := zapcore.ParseLevel(strings.ToLower(name))
	if err != nil || level < DEBUG || level > ERROR {
		return DEBUG, errors.Errorf("unknown log level: %q", name)
	}
	return level, nil
}
