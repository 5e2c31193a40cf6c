package core

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// Logger interface - minimal logging interface
type Logger interface {
	Info(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Debug(msg string, fields map[string]interface{})
}

// NoOpLogger provides a no-op logger implementation
type NoOpLogger struct{}

func (n *NoOpLogger) Info(msg string, fields map[string]interface{})  {}
func (n *NoOpLogger) Error(msg string, fields map[string]interface{}) {}
func (n *NoOpLogger) Warn(msg string, fields map[string]interface{})  {}
func (n *NoOpLogger) Debug(msg string, fields map[string]interface{}) {}

// ProductionLogger emits structured key-value records. Log messages are
// snake_case event tokens; human-readable prose belongs in fields, never in
// structured values. JSON format is intended for aggregation, text for local
// development.
type ProductionLogger struct {
	level       string
	serviceName string
	format      string
	output      io.Writer
	base        map[string]interface{}
	mu          sync.Mutex
}

// NewLogger creates a logger with the given level ("DEBUG".."ERROR") and
// format ("json" or "console").
func NewLogger(serviceName, level, format string) *ProductionLogger {
	level = strings.ToUpper(level)
	if level == "" {
		level = "INFO"
	}
	if format != "json" && format != "console" {
		format = "json"
	}
	return &ProductionLogger{
		level:       level,
		serviceName: serviceName,
		format:      format,
		output:      os.Stdout,
	}
}

// WithFields returns a logger that attaches the given fields to every record.
// Used to carry correlation ids through a call without threading them by hand.
func (l *ProductionLogger) WithFields(fields map[string]interface{}) *ProductionLogger {
	merged := make(map[string]interface{}, len(l.base)+len(fields))
	for k, v := range l.base {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &ProductionLogger{
		level:       l.level,
		serviceName: l.serviceName,
		format:      l.format,
		output:      l.output,
		base:        merged,
	}
}

// SetOutput changes the output writer (useful for testing)
func (l *ProductionLogger) SetOutput(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.output = w
}

func (l *ProductionLogger) Info(msg string, fields map[string]interface{}) {
	l.log("INFO", msg, fields)
}

func (l *ProductionLogger) Warn(msg string, fields map[string]interface{}) {
	l.log("WARN", msg, fields)
}

func (l *ProductionLogger) Error(msg string, fields map[string]interface{}) {
	l.log("ERROR", msg, fields)
}

func (l *ProductionLogger) Debug(msg string, fields map[string]interface{}) {
	l.log("DEBUG", msg, fields)
}

var logLevels = map[string]int{
	"DEBUG": 0,
	"INFO":  1,
	"WARN":  2,
	"ERROR": 3,
}

func (l *ProductionLogger) log(level, msg string, fields map[string]interface{}) {
	current, ok1 := logLevels[l.level]
	incoming, ok2 := logLevels[level]
	if ok1 && ok2 && incoming < current {
		return
	}

	timestamp := time.Now().UTC().Format(time.RFC3339Nano)

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.format == "json" {
		l.logJSON(timestamp, level, msg, fields)
	} else {
		l.logText(timestamp, level, msg, fields)
	}
}

func (l *ProductionLogger) logJSON(timestamp, level, msg string, fields map[string]interface{}) {
	entry := map[string]interface{}{
		"timestamp": timestamp,
		"level":     level,
		"service":   l.serviceName,
		"event":     msg,
	}
	for k, v := range l.base {
		entry[k] = v
	}
	for k, v := range fields {
		// Avoid overwriting core fields
		if k != "timestamp" && k != "level" && k != "service" && k != "event" {
			entry[k] = normalizeField(v)
		}
	}
	if data, err := json.Marshal(entry); err == nil {
		fmt.Fprintln(l.output, string(data))
	}
}

func (l *ProductionLogger) logText(timestamp, level, msg string, fields map[string]interface{}) {
	var fieldStr strings.Builder
	writeField := func(k string, v interface{}) {
		fieldStr.WriteString(fmt.Sprintf(" %s=%v", k, normalizeField(v)))
	}
	for k, v := range l.base {
		writeField(k, v)
	}
	// Common fields first for readability
	if v, ok := fields["correlation_id"]; ok {
		writeField("correlation_id", v)
	}
	if v, ok := fields["error"]; ok {
		writeField("error", v)
	}
	for k, v := range fields {
		if k == "correlation_id" || k == "error" {
			continue
		}
		writeField(k, v)
	}
	fmt.Fprintf(l.output, "%s [%s] [%s] %s%s\n", timestamp, level, l.serviceName, msg, fieldStr.String())
}

// normalizeField flattens error values so structured output never carries
// opaque Go types.
func normalizeField(v interface{}) interface{} {
	if err, ok := v.(error); ok {
		return err.Error()
	}
	return v
}
