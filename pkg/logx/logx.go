// Package logx is a thin leveled logging facade over logrus, shared by
// every package in the service. Call sites use the package-level helpers
// so the underlying logger can be swapped or silenced in tests.
package logx

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Level mirrors logrus levels without leaking the dependency to callers
type Level int

const (
	LevelTrace Level = iota
	LevelDebug
	LevelInfo
	LevelWarn
	LevelError
)

// Fields is a map of structured log fields
type Fields map[string]any

var std = newLogger()

func newLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetLevel(logrus.InfoLevel)
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	return l
}

// SetLevel sets the global minimum log level
func SetLevel(level Level) {
	switch level {
	case LevelTrace:
		std.SetLevel(logrus.TraceLevel)
	case LevelDebug:
		std.SetLevel(logrus.DebugLevel)
	case LevelWarn:
		std.SetLevel(logrus.WarnLevel)
	case LevelError:
		std.SetLevel(logrus.ErrorLevel)
	default:
		std.SetLevel(logrus.InfoLevel)
	}
}

// WithField starts an entry with a single structured field
func WithField(key string, value any) *logrus.Entry {
	return std.WithField(key, value)
}

// WithFields starts an entry with multiple structured fields
func WithFields(fields Fields) *logrus.Entry {
	return std.WithFields(logrus.Fields(fields))
}

// WithError starts an entry carrying an error field
func WithError(err error) *logrus.Entry {
	return std.WithError(err)
}

func Trace(args ...any) { std.Trace(args...) }
func Debug(args ...any) { std.Debug(args...) }
func Info(args ...any)  { std.Info(args...) }
func Warn(args ...any)  { std.Warn(args...) }
func Error(args ...any) { std.Error(args...) }
func Fatal(args ...any) { std.Fatal(args...) }

func Tracef(format string, args ...any) { std.Tracef(format, args...) }
func Debugf(format string, args ...any) { std.Debugf(format, args...) }
func Infof(format string, args ...any)  { std.Infof(format, args...) }
func Warnf(format string, args ...any)  { std.Warnf(format, args...) }
func Errorf(format string, args ...any) { std.Errorf(format, args...) }
func Fatalf(format string, args ...any) { std.Fatalf(format, args...) }
