package utils

import (
	"github.com/sirupsen/logrus"
)

// ExtendedLogger is the logging interface used across the server.
// Implementations live in pkg/logger; commands pick their own configuration.
type ExtendedLogger interface {
	Infof(format string, v ...any)
	Errorf(format string, v ...any)

	Info(args ...interface{})
	Error(args ...interface{})
	Debug(args ...interface{})
	Debugf(format string, args ...interface{})
	Warn(args ...interface{})
	Warnf(format string, args ...interface{})
	Fatal(args ...interface{})
	Fatalf(format string, args ...interface{})

	// Structured logging methods
	WithField(key string, value interface{}) *logrus.Entry
	WithFields(fields logrus.Fields) *logrus.Entry
	WithError(err error) *logrus.Entry

	// File management
	Close() error
}
