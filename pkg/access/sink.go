package access

import (
	log "github.com/sirupsen/logrus"
)

// ErrorSink receives diagnostic reports from a Database. It is observational
// only: every reported failure is also returned to the caller.
type ErrorSink interface {
	Report(prefix, message string)
}

// ErrorSinkFunc adapts a function to an ErrorSink.
type ErrorSinkFunc func(prefix, message string)

func (f ErrorSinkFunc) Report(prefix, message string) { f(prefix, message) }

// LogSink reports to the process logger. It's the default sink.
type LogSink struct{}

func (LogSink) Report(prefix, message string) {
	log.WithField("db", prefix).Error(message)
}
