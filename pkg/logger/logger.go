package logger

import (
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Logger is a wrapper around logrus.Logger
type Logger struct {
	*logrus.Logger
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	FilePrefix string `mapstructure:"file_prefix"`
}

// New creates a new logger instance
func New(cfg LoggingConfig) *Logger {
	// Create logger
	logger := logrus.New()

	// Set log level
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	// Set log format
	switch strings.ToLower(cfg.Format) {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	default:
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}

	// The control plane always runs under a process supervisor that captures
	// stdout, so output always goes there regardless of cfg.Output.
	logger.SetOutput(os.Stdout)

	return &Logger{
		Logger: logger,
	}
}

// NewDefault creates a new logger instance with default configuration
func NewDefault(name string) *Logger {
	// Create logger with default configuration
	logger := logrus.New()
	logger.SetLevel(logrus.InfoLevel)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	logger.SetOutput(os.Stdout)

	return &Logger{
		Logger: logger,
	}
}

// WithField returns a new log entry with a field
func (l *Logger) WithField(key string, value interface{}) *logrus.Entry {
	return l.Logger.WithField(key, value)
}

// WithFields returns a new log entry with multiple fields
func (l *Logger) WithFields(fields logrus.Fields) *logrus.Entry {
	return l.Logger.WithFields(fields)
}

// WithDevice returns a log entry tagged with the agent's device_id, the
// field every agent-facing handler and service logs against.
func (l *Logger) WithDevice(deviceID string) *logrus.Entry {
	return l.Logger.WithField("device_id", deviceID)
}

// WithEndpoint returns a log entry tagged with the endpoint name used by
// the rate limiter (spec.md §4.3).
func (l *Logger) WithEndpoint(endpoint string) *logrus.Entry {
	return l.Logger.WithField("endpoint", endpoint)
}

// WithTask returns a log entry tagged with a task_id, used by the task
// reconciler.
func (l *Logger) WithTask(taskID string) *logrus.Entry {
	return l.Logger.WithField("task_id", taskID)
}
