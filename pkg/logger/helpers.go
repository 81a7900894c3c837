package logger

import "time"

// LogRequest logs an outbound HTTP exchange at a level derived from its status
func LogRequest(log Logger, method, url string, statusCode int, elapsed time.Duration) {
	fields := map[string]interface{}{
		"method":      method,
		"url":         url,
		"status_code": statusCode,
		"duration_ms": elapsed.Milliseconds(),
	}

	switch {
	case statusCode >= 500:
		log.ErrorWithFields("HTTP request server error", fields)
	case statusCode >= 400:
		log.WarnWithFields("HTTP request client error", fields)
	default:
		log.DebugWithFields("HTTP request completed", fields)
	}
}

// NewNopLogger creates a no-operation logger for testing
func NewNopLogger() Logger {
	return &nopLogger{}
}

type nopLogger struct{}

func (n *nopLogger) Debug(msg string)                                          {}
func (n *nopLogger) Info(msg string)                                           {}
func (n *nopLogger) Warn(msg string)                                           {}
func (n *nopLogger) Error(msg string)                                          {}
func (n *nopLogger) WithField(key string, value interface{}) Logger            { return n }
func (n *nopLogger) WithFields(fields map[string]interface{}) Logger           { return n }
func (n *nopLogger) WithError(err error) Logger                                { return n }
func (n *nopLogger) DebugWithFields(msg string, fields map[string]interface{}) {}
func (n *nopLogger) InfoWithFields(msg string, fields map[string]interface{})  {}
func (n *nopLogger) WarnWithFields(msg string, fields map[string]interface{})  {}
func (n *nopLogger) ErrorWithFields(msg string, fields map[string]interface{}) {}
