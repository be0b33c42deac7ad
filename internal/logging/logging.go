// Package logging provides the process-wide logger used by every other
// package. It wraps logrus with optional file rotation and exposes the
// subset of the logrus API the rest of the codebase needs, so call sites
// can import this package as `log`.
package logging

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

var std = logrus.New()

// Setup configures the global logger. level is a logrus level name
// (debug, info, warn, error); an unrecognized value falls back to info.
// When dir is non-empty, output is duplicated to a size-rotated file in
// that directory.
func Setup(level, dir string) error {
	lvl, err := logrus.ParseLevel(strings.ToLower(level))
	if err != nil {
		lvl = logrus.InfoLevel
	}
	std.SetLevel(lvl)
	std.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})

	if dir == "" {
		std.SetOutput(os.Stderr)
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	rotator := &lumberjack.Logger{
		Filename:   filepath.Join(dir, "oa2a.log"),
		MaxSize:    50, // megabytes
		MaxBackups: 5,
		MaxAge:     14, // days
		Compress:   true,
	}
	std.SetOutput(io.MultiWriter(os.Stderr, rotator))
	return nil
}

// Logger returns the underlying logrus logger for packages that need the
// full API (request logging middleware, tests).
func Logger() *logrus.Logger { return std }

func Debug(args ...any)                 { std.Debug(args...) }
func Debugf(format string, args ...any) { std.Debugf(format, args...) }
func Infof(format string, args ...any)  { std.Infof(format, args...) }
func Warn(args ...any)                  { std.Warn(args...) }
func Warnf(format string, args ...any)  { std.Warnf(format, args...) }
func Errorf(format string, args ...any) { std.Errorf(format, args...) }
func Fatalf(format string, args ...any) { std.Fatalf(format, args...) }

// WithError returns an entry with the error attached.
func WithError(err error) *logrus.Entry { return std.WithError(err) }

// WithField returns an entry with a single field attached.
func WithField(key string, value any) *logrus.Entry { return std.WithField(key, value) }
