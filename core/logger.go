package core

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"strings"
	"time"
)

// LogLevel orders severities for filtering.
type LogLevel int

const (
	DebugLevel LogLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

// ProductionLogger writes structured, component-tagged, newline-delimited
// JSON to stdout. Grounded on pkg/logger/simple.go's level filtering and
// field-merging, generalized to JSON output and component awareness per
// core.ComponentAwareLogger in the teacher repo.
type ProductionLogger struct {
	level     LogLevel
	component string
	out       *log.Logger
}

// NewProductionLogger builds a logger at the level named by
// HEPHAESTUS_LOG_LEVEL (default info).
func NewProductionLogger() *ProductionLogger {
	return &ProductionLogger{
		level: levelFromEnv(),
		out:   log.New(os.Stdout, "", 0),
	}
}

func levelFromEnv() LogLevel {
	switch strings.ToUpper(os.Getenv("HEPHAESTUS_LOG_LEVEL")) {
	case "DEBUG":
		return DebugLevel
	case "WARN", "WARNING":
		return WarnLevel
	case "ERROR":
		return ErrorLevel
	default:
		return InfoLevel
	}
}

// WithComponent returns a logger tagged with the given component name,
// sharing this logger's level and output sink.
func (l *ProductionLogger) WithComponent(component string) Logger {
	return &ProductionLogger{level: l.level, component: component, out: l.out}
}

func (l *ProductionLogger) log(level LogLevel, levelName, msg string, fields map[string]interface{}) {
	if level < l.level {
		return
	}
	entry := map[string]interface{}{
		"ts":    time.Now().UTC().Format(time.RFC3339Nano),
		"level": levelName,
		"msg":   msg,
	}
	if l.component != "" {
		entry["component"] = l.component
	}
	for k, v := range fields {
		entry[k] = v
	}
	line, err := json.Marshal(entry)
	if err != nil {
		l.out.Printf("[%s] %s (log field marshal failed: %v)", levelName, msg, err)
		return
	}
	l.out.Println(string(line))
}

func (l *ProductionLogger) Debug(msg string, fields map[string]interface{}) {
	l.log(DebugLevel, "DEBUG", msg, fields)
}
func (l *ProductionLogger) Info(msg string, fields map[string]interface{}) {
	l.log(InfoLevel, "INFO", msg, fields)
}
func (l *ProductionLogger) Warn(msg string, fields map[string]interface{}) {
	l.log(WarnLevel, "WARN", msg, fields)
}
func (l *ProductionLogger) Error(msg string, fields map[string]interface{}) {
	l.log(ErrorLevel, "ERROR", msg, fields)
}

// requestIDKey is the context key used to correlate log lines with a cycle.
type requestIDKey struct{}

// WithRequestID attaches a request/cycle identifier to a context so that
// downstream components can fold it into log fields.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFromContext retrieves the identifier set by WithRequestID, if any.
func RequestIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(requestIDKey{}).(string); ok {
		return v
	}
	return ""
}
