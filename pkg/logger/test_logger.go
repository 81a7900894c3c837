package logger

import (
	"sync"
)

// TestLogger is a logger implementation for testing that captures all log messages
type TestLogger struct {
	sink   *testSink
	fields map[string]interface{}
	err    error
}

type testSink struct {
	mu       sync.Mutex
	messages []LogMessage
}

// LogMessage represents a captured log message
type LogMessage struct {
	Level   string
	Message string
	Fields  map[string]interface{}
	Error   error
}

// NewTestLogger creates a new test logger
func NewTestLogger() *TestLogger {
	return &TestLogger{sink: &testSink{}}
}

func (l *TestLogger) Debug(msg string) { l.log("DEBUG", msg, nil) }
func (l *TestLogger) Info(msg string)  { l.log("INFO", msg, nil) }
func (l *TestLogger) Warn(msg string)  { l.log("WARN", msg, nil) }
func (l *TestLogger) Error(msg string) { l.log("ERROR", msg, nil) }

func (l *TestLogger) DebugWithFields(msg string, fields map[string]interface{}) {
	l.log("DEBUG", msg, fields)
}

func (l *TestLogger) InfoWithFields(msg string, fields map[string]interface{}) {
	l.log("INFO", msg, fields)
}

func (l *TestLogger) WarnWithFields(msg string, fields map[string]interface{}) {
	l.log("WARN", msg, fields)
}

func (l *TestLogger) ErrorWithFields(msg string, fields map[string]interface{}) {
	l.log("ERROR", msg, fields)
}

// WithError returns a child that records err on every message
func (l *TestLogger) WithError(err error) Logger {
	return &TestLogger{sink: l.sink, fields: l.fields, err: err}
}

func (l *TestLogger) WithField(key string, value interface{}) Logger {
	return l.WithFields(map[string]interface{}{key: value})
}

// WithFields returns a child sharing the same capture buffer
func (l *TestLogger) WithFields(fields map[string]interface{}) Logger {
	return &TestLogger{sink: l.sink, fields: mergeFields(l.fields, fields), err: l.err}
}

func (l *TestLogger) log(level, msg string, fields map[string]interface{}) {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()

	l.sink.messages = append(l.sink.messages, LogMessage{
		Level:   level,
		Message: msg,
		Fields:  mergeFields(l.fields, fields),
		Error:   l.err,
	})
}

// GetMessages returns all captured log messages
func (l *TestLogger) GetMessages() []LogMessage {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()

	messages := make([]LogMessage, len(l.sink.messages))
	copy(messages, l.sink.messages)
	return messages
}

// GetMessagesByLevel returns all messages of a specific level
func (l *TestLogger) GetMessagesByLevel(level string) []LogMessage {
	var filtered []LogMessage
	for _, msg := range l.GetMessages() {
		if msg.Level == level {
			filtered = append(filtered, msg)
		}
	}
	return filtered
}

// HasMessage checks if a message with the given text was logged
func (l *TestLogger) HasMessage(text string) bool {
	for _, msg := range l.GetMessages() {
		if msg.Message == text {
			return true
		}
	}
	return false
}

// CountMessage returns how many times text was logged
func (l *TestLogger) CountMessage(text string) int {
	n := 0
	for _, msg := range l.GetMessages() {
		if msg.Message == text {
			n++
		}
	}
	return n
}

// HasError checks if an error was logged
func (l *TestLogger) HasError() bool {
	return len(l.GetMessagesByLevel("ERROR")) > 0
}

// Clear clears all captured messages
func (l *TestLogger) Clear() {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	l.sink.messages = l.sink.messages[:0]
}

func mergeFields(base, extra map[string]interface{}) map[string]interface{} {
	if len(base) == 0 && len(extra) == 0 {
		return nil
	}
	merged := make(map[string]interface{}, len(base)+len(extra))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range extra {
		merged[k] = v
	}
	return merged
}
