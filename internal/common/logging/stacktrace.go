package logging

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	Stacktrace    = "stacktrace"
	CorrelationId = "correlationId"
	// SystemCorrelationId tags lifecycle log lines that do not belong to any one record.
	SystemCorrelationId = "SYSTEM"
)

// Unexported but considered part of the stable interface of pkg/errors.
type stackTracer interface {
	StackTrace() errors.StackTrace
}

// Unexported but considered part of the stable interface of pkg/errors.
type causer interface {
	Cause() error
}

// WithStacktrace returns a new logrus.Entry obtained by adding error information and, if available, a stack trace
// as fields to the provided logrus.Entry.
func WithStacktrace(logger *logrus.Entry, err error) *logrus.Entry {
	logger = logger.WithError(err)
	stack := ExtractStack(err)
	if stack != nil {
		logger = logger.WithField(Stacktrace, stack)
	}
	return logger
}

// ExtractStack walks down the chain of causes and returns the first errors.StackTrace it finds,
// or nil if there is none.
func ExtractStack(err error) errors.StackTrace {
	if stackErr, ok := err.(stackTracer); ok {
		return stackErr.StackTrace()
	} else if causeErr, ok := err.(causer); ok {
		return ExtractStack(causeErr.Cause())
	} else if unwrapped := errors.Unwrap(err); unwrapped != nil {
		return ExtractStack(unwrapped)
	}
	return nil
}

// WithCorrelationId tags entry with the client supplied correlation id of a call record.
func WithCorrelationId(logger *logrus.Entry, correlationId string) *logrus.Entry {
	return logger.WithField(CorrelationId, correlationId)
}
