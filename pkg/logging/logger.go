// Package logging holds the process-wide logrus logger. Packages log through
// Component entries so every line carries the subsystem that wrote it.
package logging

import (
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"
)

// Logger is the application-wide logger instance.
var Logger *logrus.Logger

// Fields is an alias for logrus.Fields for convenience.
type Fields = logrus.Fields

const timestampFormat = "2006-01-02 15:04:05"

var (
	fileMu sync.Mutex
	file   *os.File
)

func init() {
	Logger = logrus.New()
	Logger.SetFormatter(formatter("text"))
	Logger.SetOutput(os.Stderr)
	Logger.SetLevel(logrus.InfoLevel)
}

func formatter(format string) logrus.Formatter {
	if format == "json" {
		return &logrus.JSONFormatter{TimestampFormat: timestampFormat}
	}
	return &logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: timestampFormat,
	}
}

// Init sets the level and format ("text" or "json") and tees output to
// logFile. An empty logFile logs to stderr only. Calling Init again replaces
// the previous file.
func Init(level, logFile, format string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	Logger.SetLevel(lvl)
	Logger.SetFormatter(formatter(format))

	fileMu.Lock()
	defer fileMu.Unlock()

	if logFile == "" {
		Logger.SetOutput(os.Stderr)
		_ = closeFile()
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(logFile), 0755); err != nil {
		return err
	}
	f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}

	// The kiosk supervisor captures stderr, so keep both.
	Logger.SetOutput(io.MultiWriter(os.Stderr, f))
	_ = closeFile()
	file = f
	return nil
}

// Close releases the log file, if any, and falls back to stderr.
func Close() error {
	fileMu.Lock()
	defer fileMu.Unlock()
	Logger.SetOutput(os.Stderr)
	return closeFile()
}

func closeFile() error {
	if file == nil {
		return nil
	}
	err := file.Close()
	file = nil
	return err
}

// Debugf logs a formatted debug message.
func Debugf(format string, args ...interface{}) {
	Logger.Debugf(format, args...)
}

// Info logs an info message.
func Info(args ...interface{}) {
	Logger.Info(args...)
}

// Infof logs a formatted info message.
func Infof(format string, args ...interface{}) {
	Logger.Infof(format, args...)
}

// WithError returns an entry with an error attached.
func WithError(err error) *logrus.Entry {
	return Logger.WithError(err)
}

// Component returns a logger entry for a specific component.
func Component(name string) *logrus.Entry {
	return Logger.WithField("component", name)
}

// Writer returns a writer that logs each line at warn level under a
// component, for libraries that only accept a stdlib *log.Logger.
// The caller must close it.
func Writer(component string) *io.PipeWriter {
	return Component(component).WriterLevel(logrus.WarnLevel)
}
