package logging

// Logger is the structured logger handed to tracking, reconstruction and the command line tool.
// Key value pairs follow zap's sugared convention.
type Logger interface {
	Debugw(msg string, keysAndValues ...interface{})
	Infow(msg string, keysAndValues ...interface{})
	Warnw(msg string, keysAndValues ...interface{})
	Errorw(msg string, keysAndValues ...interface{})

	// Sublogger returns a logger named after this one and subname. It shares this logger's level
	// and appenders.
	Sublogger(subname string) Logger
	// WithImage returns a logger that adds the image index to every entry.
	WithImage(image int) Logger
	// WithTrack returns a logger that adds the track index to every entry.
	WithTrack(track int) Logger
	// With returns a logger that adds the given pairs to every entry.
	With(keysAndValues ...interface{}) Logger

	SetLevel(level Level)
	GetLevel() Level
	AddAppender(appender Appender)
	Sync() error
}
