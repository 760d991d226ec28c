package errors

import (
	"github.com/sirupsen/logrus"
)

// LogError logs an error with its structured context at error level.
// Transport and broker errors are logged here at the component boundary
// instead of propagating to the sender's calling path.
func LogError(logger *logrus.Logger, err error, message string, fields ...logrus.Fields) {
	entry := withErrorContext(logger, err)
	for _, field := range fields {
		entry = entry.WithFields(field)
	}
	entry.Error(message)
}

// LogWarn logs an error with its structured context at warn level.
func LogWarn(logger *logrus.Logger, err error, message string, fields ...logrus.Fields) {
	entry := withErrorContext(logger, err)
	for _, field := range fields {
		entry = entry.WithFields(field)
	}
	entry.Warn(message)
}

func withErrorContext(logger *logrus.Logger, err error) *logrus.Entry {
	entry := logger.WithError(err)
	if appErr, ok := err.(*AppError); ok {
		entry = entry.WithFields(logrus.Fields{
			"error_code": appErr.Code,
			"retryable":  appErr.Retryable,
		})
		for k, v := range appErr.Context {
			entry = entry.WithField(k, v)
		}
	}
	return entry
}
