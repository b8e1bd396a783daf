package logging

import (
	"fmt"
	"os"
	"runtime"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// callerSkip leaves runtime.Caller at the caller of Debugw and friends.
const callerSkip = 2

// appenderSet is shared by a logger and everything derived from it.
type appenderSet struct {
	mu        sync.RWMutex
	appenders []Appender
}

func newAppenderSet(appenders ...Appender) *appenderSet {
	return &appenderSet{appenders: appenders}
}

func (s *appenderSet) add(appender Appender) {
	s.mu.Lock()
	s.appenders = append(s.appenders, appender)
	s.mu.Unlock()
}

func (s *appenderSet) write(entry zapcore.Entry, fields []zapcore.Field) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var err error
	for _, appender := range s.appenders {
		err = multierr.Append(err, appender.Write(entry, fields))
	}
	return err
}

func (s *appenderSet) sync() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var err error
	for _, appender := range s.appenders {
		err = multierr.Append(err, appender.Sync())
	}
	return err
}

type impl struct {
	name      string
	level     zap.AtomicLevel
	context   []zapcore.Field
	appenders *appenderSet
}

func newImpl(name string, level Level, appenders ...Appender) *impl {
	return &impl{name: name, level: zap.NewAtomicLevelAt(level), appenders: newAppenderSet(appenders...)}
}

func (imp *impl) Debugw(msg string, keysAndValues ...interface{}) {
	imp.logw(DEBUG, msg, keysAndValues)
}

func (imp *impl) Infow(msg string, keysAndValues ...interface{}) {
	imp.logw(INFO, msg, keysAndValues)
}

func (imp *impl) Warnw(msg string, keysAndValues ...interface{}) {
	imp.logw(WARN, msg, keysAndValues)
}

func (imp *impl) Errorw(msg string, keysAndValues ...interface{}) {
	imp.logw(ERROR, msg, keysAndValues)
}

func (imp *impl) logw(level Level, msg string, keysAndValues []interface{}) {
	if !imp.level.Enabled(level) {
		return
	}
	entry := zapcore.Entry{
		Level:      level,
		Time:       time.Now(),
		LoggerName: imp.name,
		Message:    msg,
		Caller:     zapcore.NewEntryCaller(runtime.Caller(callerSkip)),
	}
	fields := make([]zapcore.Field, 0, len(imp.context)+len(keysAndValues)/2)
	fields = append(fields, imp.context...)
	fields = append(fields, pairsToFields(keysAndValues)...)
	if err := imp.appenders.write(entry, fields); err != nil {
		fmt.Fprintln(os.Stderr, "logging:", err)
	}
}

// pairsToFields turns alternating keys and values into zap fields. A key without a value is kept
// with an error in its place.
func pairsToFields(keysAndValues []interface{}) []zapcore.Field {
	fields := make([]zapcore.Field, 0, (len(keysAndValues)+1)/2)
	for i := 0; i < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			key = fmt.Sprint(keysAndValues[i])
		}
		if i+1 == len(keysAndValues) {
			fields = append(fields, zap.String(key, "<missing value>"))
			break
		}
		fields = append(fields, zap.Any(key, keysAndValues[i+1]))
	}
	return fields
}

func (imp *impl) derive(name string, extra ...zapcore.Field) *impl {
	merged := make([]zapcore.Field, 0, len(imp.context)+len(extra))
	merged = append(merged, imp.context...)
	merged = append(merged, extra...)
	return &impl{name: name, level: imp.level, context: merged, appenders: imp.appenders}
}

func (imp *impl) Sublogger(subname string) Logger {
	if imp.name == "" {
		return imp.derive(subname)
	}
	return imp.derive(imp.name + "." + subname)
}

func (imp *impl) WithImage(image int) Logger {
	return imp.derive(imp.name, zap.Int("image", image))
}

func (imp *impl) WithTrack(track int) Logger {
	return imp.derive(imp.name, zap.Int("track", track))
}

func (imp *impl) With(keysAndValues ...interface{}) Logger {
	return imp.derive(imp.name, pairsToFields(keysAndValues)...)
}

func (imp *impl) SetLevel(level Level) {
	imp.level.SetLevel(level)
}

func (imp *impl) GetLevel() Level {
	return imp.level.Level()
}

func (imp *impl) AddAppender(appender Appender) {
	imp.appenders.add(appender)
}

func (imp *impl) Sync() error {
	return imp.appenders.sync()
}
