package observability

import (
	"fmt"
	"log"
	"os"
)

// StandardLogger wraps the standard log package, writing to stderr so the
// engine stays safe to embed behind a stdio-sensitive host process.
type StandardLogger struct {
	prefix string
	level  LogLevel
	logger *log.Logger
	fields map[string]interface{}
}

// NewStandardLogger creates a StandardLogger at LogLevelInfo.
func NewStandardLogger(prefix string) *StandardLogger {
	return &StandardLogger{
		prefix: prefix,
		level:  LogLevelInfo,
		logger: log.New(os.Stderr, "", log.LstdFlags),
		fields: map[string]interface{}{},
	}
}

// WithLevel returns a copy of the logger at the given minimum level.
func (l *StandardLogger) WithLevel(level LogLevel) *StandardLogger {
	cp := *l
	cp.level = level
	return &cp
}

func (l *StandardLogger) Debug(msg string, fields map[string]interface{}) {
	if l.levelEnabled(LogLevelDebug) {
		l.log(LogLevelDebug, msg, fields)
	}
}

func (l *StandardLogger) Info(msg string, fields map[string]interface{}) {
	if l.levelEnabled(LogLevelInfo) {
		l.log(LogLevelInfo, msg, fields)
	}
}

func (l *StandardLogger) Warn(msg string, fields map[string]interface{}) {
	if l.levelEnabled(LogLevelWarn) {
		l.log(LogLevelWarn, msg, fields)
	}
}

func (l *StandardLogger) Error(msg string, fields map[string]interface{}) {
	l.log(LogLevelError, msg, fields)
}

func (l *StandardLogger) Fatal(msg string, fields map[string]interface{}) {
	l.log(LogLevelFatal, msg, fields)
	os.Exit(1)
}

func (l *StandardLogger) Debugf(format string, args ...interface{}) {
	l.Debug(fmt.Sprintf(format, args...), nil)
}

func (l *StandardLogger) Infof(format string, args ...interface{}) {
	l.Info(fmt.Sprintf(format, args...), nil)
}

func (l *StandardLogger) Warnf(format string, args ...interface{}) {
	l.Warn(fmt.Sprintf(format, args...), nil)
}

func (l *StandardLogger) Errorf(format string, args ...interface{}) {
	l.Error(fmt.Sprintf(format, args...), nil)
}

// With returns a logger that merges fields into every subsequent record.
func (l *StandardLogger) With(fields map[string]interface{}) Logger {
	merged := make(map[string]interface{}, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	cp := *l
	cp.fields = merged
	return &cp
}

// WithPrefix returns a logger tagged with the given prefix.
func (l *StandardLogger) WithPrefix(prefix string) Logger {
	cp := *l
	cp.prefix = prefix
	return &cp
}

func (l *StandardLogger) levelEnabled(level LogLevel) bool {
	order := map[LogLevel]int{
		LogLevelDebug: 0, LogLevelInfo: 1, LogLevelWarn: 2, LogLevelError: 3, LogLevelFatal: 4,
	}
	return order[level] >= order[l.level]
}

func (l *StandardLogger) log(level LogLevel, msg string, fields map[string]interface{}) {
	merged := make(map[string]interface{}, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	if l.prefix != "" {
		l.logger.Printf("[%s] %s %s %v", level, l.prefix, msg, merged)
		return
	}
	l.logger.Printf("[%s] %s %v", level, msg, merged)
}
