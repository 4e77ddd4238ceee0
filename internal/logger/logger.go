// Package logger configures logrus for the splitter host and defines the
// Logger interface the demux core logs through.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/natefinch/lumberjack"
	"github.com/sirupsen/logrus"

	"github.com/zsiec/splitter/internal/config"
	"github.com/zsiec/splitter/pkg/version"
)

// Fields is an alias of logrus.Fields.
type Fields = logrus.Fields

// Entry is an alias of logrus.Entry.
type Entry = logrus.Entry

// Logger is the structured logger handed to library packages. It keeps them
// independent of the concrete logrus setup; tests pass NewNullLogger.
type Logger interface {
	WithFields(fields map[string]interface{}) Logger
	WithField(key string, value interface{}) Logger
	WithError(err error) Logger
	Debug(args ...interface{})
	Info(args ...interface{})
	Warn(args ...interface{})
	Error(args ...interface{})
	Log(level logrus.Level, args ...interface{})
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	Fatal(args ...interface{})
}

// LogrusAdapter implements Logger on a logrus entry.
type LogrusAdapter struct {
	entry *logrus.Entry
}

func NewLogrusAdapter(entry *logrus.Entry) Logger {
	return &LogrusAdapter{entry: entry}
}

func (l *LogrusAdapter) WithFields(fields map[string]interface{}) Logger {
	return &LogrusAdapter{entry: l.entry.WithFields(fields)}
}

func (l *LogrusAdapter) WithField(key string, value interface{}) Logger {
	return &LogrusAdapter{entry: l.entry.WithField(key, value)}
}

func (l *LogrusAdapter) WithError(err error) Logger {
	return &LogrusAdapter{entry: l.entry.WithError(err)}
}

func (l *LogrusAdapter) Debug(args ...interface{})                 { l.entry.Debug(args...) }
func (l *LogrusAdapter) Info(args ...interface{})                  { l.entry.Info(args...) }
func (l *LogrusAdapter) Warn(args ...interface{})                  { l.entry.Warn(args...) }
func (l *LogrusAdapter) Error(args ...interface{})                 { l.entry.Error(args...) }
func (l *LogrusAdapter) Log(level logrus.Level, args ...interface{}) { l.entry.Log(level, args...) }
func (l *LogrusAdapter) Debugf(format string, args ...interface{}) { l.entry.Debugf(format, args...) }
func (l *LogrusAdapter) Infof(format string, args ...interface{})  { l.entry.Infof(format, args...) }
func (l *LogrusAdapter) Warnf(format string, args ...interface{})  { l.entry.Warnf(format, args...) }
func (l *LogrusAdapter) Errorf(format string, args ...interface{}) { l.entry.Errorf(format, args...) }

// Fatal logs and exits through the logger's ExitFunc.
func (l *LogrusAdapter) Fatal(args ...interface{}) {
	l.entry.Log(logrus.FatalLevel, args...)
	l.entry.Logger.Exit(1)
}

// New builds the process logger from cfg. Every entry carries the service
// name and build version.
func New(cfg *config.LoggingConfig) (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	out, err := newOutput(cfg)
	if err != nil {
		return nil, err
	}

	l := logrus.New()
	l.SetLevel(level)
	l.SetFormatter(newFormatter(cfg.Format))
	l.SetOutput(out)
	l.AddHook(&defaultFieldsHook{fields: logrus.Fields{
		"service": "splitter",
		"version": version.GetInfo().Short(),
	}})
	return l, nil
}

func newFormatter(format string) logrus.Formatter {
	if format == "json" {
		return &logrus.JSONFormatter{
			TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime: "timestamp",
				logrus.FieldKeyMsg:  "message",
			},
		}
	}
	return &logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "15:04:05.000",
	}
}

// newOutput returns stdout, stderr or a size rotated file.
func newOutput(cfg *config.LoggingConfig) (io.Writer, error) {
	switch cfg.Output {
	case "", "stdout":
		return os.Stdout, nil
	case "stderr":
		return os.Stderr, nil
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Output), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	return &lumberjack.Logger{
		Filename:   cfg.Output,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   true,
	}, nil
}

// defaultFieldsHook adds fields an entry does not already carry.
type defaultFieldsHook struct {
	fields logrus.Fields
}

func (h *defaultFieldsHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *defaultFieldsHook) Fire(e *logrus.Entry) error {
	for k, v := range h.fields {
		if _, ok := e.Data[k]; !ok {
			e.Data[k] = v
		}
	}
	return nil
}

// WithComponent returns an entry tagged with the subsystem name.
func WithComponent(l *logrus.Logger, component string) *logrus.Entry {
	return l.WithField("component", component)
}

// Component tags l with the subsystem name.
func Component(l Logger, component string) Logger {
	return l.WithField("component", component)
}

// ForSession tags l with a session and the locator it plays.
func ForSession(l Logger, sessionID, locator string) Logger {
	return l.WithFields(map[string]interface{}{
		"session_id": sessionID,
		"locator":    locator,
	})
}

// ForStream tags l with a container stream id.
func ForStream(l Logger, streamID int) Logger {
	return l.WithField("stream", streamID)
}
