package core

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
)

// Logger is the minimal structured logging interface every subsystem in the
// core depends on, never a concrete logging library.
type Logger interface {
	Info(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Debug(msg string, fields map[string]interface{})

	InfoWithContext(ctx context.Context, msg string, fields map[string]interface{})
	ErrorWithContext(ctx context.Context, msg string, fields map[string]interface{})
	WarnWithContext(ctx context.Context, msg string, fields map[string]interface{})
	DebugWithContext(ctx context.Context, msg string, fields map[string]interface{})
}

// ComponentAwareLogger lets a subsystem tag its own log lines with a
// component identifier, following the naming convention:
//
//	"core/ratelimit", "core/breaker", "core/broker", "core/comm",
//	"core/distributor", "core/orchestrator"
type ComponentAwareLogger interface {
	Logger
	WithComponent(component string) Logger
}

// LogLevel orders the verbosity of SimpleLogger.
type LogLevel int

const (
	DebugLevel LogLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

// NoOpLogger discards everything. Used as a safe default when no logger is
// supplied.
type NoOpLogger struct{}

func (NoOpLogger) Info(string, map[string]interface{})                              {}
func (NoOpLogger) Error(string, map[string]interface{})                             {}
func (NoOpLogger) Warn(string, map[string]interface{})                              {}
func (NoOpLogger) Debug(string, map[string]interface{})                             {}
func (NoOpLogger) InfoWithContext(context.Context, string, map[string]interface{})  {}
func (NoOpLogger) ErrorWithContext(context.Context, string, map[string]interface{}) {}
func (NoOpLogger) WarnWithContext(context.Context, string, map[string]interface{})  {}
func (NoOpLogger) DebugWithContext(context.Context, string, map[string]interface{}) {}

// SimpleLogger is a dependency-free structured logger writing to stdlib
// `log`.
type SimpleLogger struct {
	mu        sync.Mutex
	level     LogLevel
	component string
}

// NewSimpleLogger creates a SimpleLogger at InfoLevel.
func NewSimpleLogger() *SimpleLogger {
	return &SimpleLogger{level: InfoLevel}
}

// SetLevel sets the minimum level from a string ("debug", "info", ...).
func (l *SimpleLogger) SetLevel(level string) {
	switch strings.ToUpper(level) {
	case "DEBUG":
		l.level = DebugLevel
	case "INFO":
		l.level = InfoLevel
	case "WARN", "WARNING":
		l.level = WarnLevel
	case "ERROR":
		l.level = ErrorLevel
	}
}

// WithComponent returns a new logger tagging every line with component.
func (l *SimpleLogger) WithComponent(component string) Logger {
	return &SimpleLogger{level: l.level, component: component}
}

func (l *SimpleLogger) Info(msg string, fields map[string]interface{}) {
	l.log(InfoLevel, "INFO", msg, fields)
}
func (l *SimpleLogger) Error(msg string, fields map[string]interface{}) {
	l.log(ErrorLevel, "ERROR", msg, fields)
}
func (l *SimpleLogger) Warn(msg string, fields map[string]interface{}) {
	l.log(WarnLevel, "WARN", msg, fields)
}
func (l *SimpleLogger) Debug(msg string, fields map[string]interface{}) {
	l.log(DebugLevel, "DEBUG", msg, fields)
}

func (l *SimpleLogger) InfoWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	l.Info(msg, withRequestID(ctx, fields))
}
func (l *SimpleLogger) ErrorWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	l.Error(msg, withRequestID(ctx, fields))
}
func (l *SimpleLogger) WarnWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	l.Warn(msg, withRequestID(ctx, fields))
}
func (l *SimpleLogger) DebugWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	l.Debug(msg, withRequestID(ctx, fields))
}

type requestIDKey struct{}

// ContextWithRequestID stashes a request id for log correlation.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

func withRequestID(ctx context.Context, fields map[string]interface{}) map[string]interface{} {
	id, _ := ctx.Value(requestIDKey{}).(string)
	if id == "" {
		return fields
	}
	out := make(map[string]interface{}, len(fields)+1)
	for k, v := range fields {
		out[k] = v
	}
	out["request_id"] = id
	return out
}

func (l *SimpleLogger) log(level LogLevel, tag, msg string, fields map[string]interface{}) {
	if level < l.level {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	parts := make([]string, 0, len(fields)+2)
	parts = append(parts, fmt.Sprintf("[%s]", tag))
	if l.component != "" {
		parts = append(parts, fmt.Sprintf("component=%s", l.component))
	}
	parts = append(parts, msg)
	for k, v := range fields {
		parts = append(parts, fmt.Sprintf("%s=%v", k, v))
	}
	log.Println(strings.Join(parts, " "))
}

// GetLogLevel reads LOG_LEVEL from the environment, defaulting to INFO.
func GetLogLevel() string {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		return v
	}
	return "INFO"
}
