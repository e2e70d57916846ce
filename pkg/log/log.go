// Package log provides the package-level logging API used throughout portos.
//
// The API mirrors the small set of helpers the rest of the tree needs
// (Debugf, Infof, Warningf) and is backed by a single logrus logger so the
// command can pick the level and output format once at startup.
package log

import (
	"fmt"
	"io"
	"strings"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// Level is a log level.
type Level uint32

// Supported levels, ordered from most to least verbose.
const (
	Debug Level = iota
	Info
	Warning
)

// String implements fmt.Stringer.
func (l Level) String() string {
	switch l {
	case Debug:
		return "debug"
	case Info:
		return "info"
	case Warning:
		return "warning"
	default:
		return fmt.Sprintf("level(%d)", uint32(l))
	}
}

// ParseLevel parses a level name as accepted in configuration files.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return Debug, nil
	case "", "info":
		return Info, nil
	case "warn", "warning":
		return Warning, nil
	default:
		return Info, fmt.Errorf("unknown log level %q", s)
	}
}

var (
	logger = newLogger()

	// level is kept separately so IsLogging does not need to take the
	// logrus lock on hot paths.
	level atomic.Uint32
)

func init() {
	level.Store(uint32(Info))
}

func newLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.InfoLevel)
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05.000000",
	})
	return l
}

// SetLevel sets the minimum level that is emitted.
func SetLevel(l Level) {
	level.Store(uint32(l))
	switch l {
	case Debug:
		logger.SetLevel(logrus.DebugLevel)
	case Info:
		logger.SetLevel(logrus.InfoLevel)
	default:
		logger.SetLevel(logrus.WarnLevel)
	}
}

// SetOutput redirects all log output to w.
func SetOutput(w io.Writer) {
	logger.SetOutput(w)
}

// SetFormat selects the output format: "text" or "json".
func SetFormat(format string) error {
	switch strings.ToLower(format) {
	case "", "text":
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05.000000",
		})
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	default:
		return fmt.Errorf("unknown log format %q", format)
	}
	return nil
}

// IsLogging returns true iff messages at level l are emitted.
func IsLogging(l Level) bool {
	return l >= Level(level.Load())
}

// Debugf logs at debug level.
func Debugf(format string, v ...any) {
	if IsLogging(Debug) {
		logger.Debugf(format, v...)
	}
}

// Infof logs at info level.
func Infof(format string, v ...any) {
	if IsLogging(Info) {
		logger.Infof(format, v...)
	}
}

// Warningf logs at warning level.
func Warningf(format string, v ...any) {
	logger.Warnf(format, v...)
}

// WithField returns an entry carrying a single structured field, for
// callers that want to attach context such as a path or descriptor.
func WithField(key string, value any) *logrus.Entry {
	return logger.WithField(key, value)
}
