package logging

import (
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Logger is the structured logging contract shared by every component.
// With* methods return a derived Logger so call sites can chain context.
type Logger interface {
	WithComponent(component string) Logger
	WithSymbol(symbol string) Logger
	WithDependency(dependency string) Logger
	WithCycle(cycle int64) Logger
	WithError(err error) Logger
	WithFields(fields map[string]interface{}) Logger

	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
}

// StandardLogger wraps a logrus entry and implements Logger.
type StandardLogger struct {
	entry *logrus.Entry
}

// NewStandardLogger creates a logger for the given level and environment.
// Development gets human-readable output, everything else JSON.
func NewStandardLogger(logLevel string, environment string) *StandardLogger {
	l := logrus.New()
	l.SetOutput(os.Stdout)
	l.SetLevel(parseLevel(logLevel))

	if strings.ToLower(environment) == "development" {
		l.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "15:04:05.000",
		})
	} else {
		l.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		})
	}

	return &StandardLogger{entry: logrus.NewEntry(l)}
}

func (s *StandardLogger) with(key string, value interface{}) Logger {
	return &StandardLogger{entry: s.entry.WithField(key, value)}
}

// WithComponent adds the component name to the log context.
func (s *StandardLogger) WithComponent(component string) Logger {
	return s.with("component", component)
}

// WithSymbol adds the trading symbol to the log context.
func (s *StandardLogger) WithSymbol(symbol string) Logger {
	return s.with("symbol", symbol)
}

// WithDependency adds the external dependency id to the log context.
func (s *StandardLogger) WithDependency(dependency string) Logger {
	return s.with("dependency", dependency)
}

// WithCycle adds the scheduler cycle number to the log context.
func (s *StandardLogger) WithCycle(cycle int64) Logger {
	return s.with("cycle", cycle)
}

// WithError adds error details to the log context.
func (s *StandardLogger) WithError(err error) Logger {
	if err == nil {
		return s
	}
	return &StandardLogger{entry: s.entry.WithError(err)}
}

// WithFields adds multiple fields to the log context.
func (s *StandardLogger) WithFields(fields map[string]interface{}) Logger {
	return &StandardLogger{entry: s.entry.WithFields(fields)}
}

func (s *StandardLogger) Debug(msg string, args ...interface{}) {
	s.entry.Debugf(msg, args...)
}

func (s *StandardLogger) Info(msg string, args ...interface{}) {
	s.entry.Infof(msg, args...)
}

func (s *StandardLogger) Warn(msg string, args ...interface{}) {
	s.entry.Warnf(msg, args...)
}

func (s *StandardLogger) Error(msg string, args ...interface{}) {
	s.entry.Errorf(msg, args...)
}

func parseLevel(level string) logrus.Level {
	switch strings.ToLower(level) {
	case "debug":
		return logrus.DebugLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}
