package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"
)

type logLevel int

const (
	logLevelDebug logLevel = iota
	logLevelInfo
	logLevelWarn
	logLevelError
)

// StructuredLogger writes JSON lines carrying the coordinator log schema.
// Concurrent use is safe only when the underlying writer serializes writes
// (os.Stderr and bytes.Buffer-per-test both do in practice).
type StructuredLogger struct {
	w        io.Writer
	minLevel logLevel
	defaults SchemaFields
}

// NewStructuredLogger returns a logger that writes structured JSON lines to w.
// A nil writer yields a logger that drops everything, which keeps call sites
// unconditional.
func NewStructuredLogger(w io.Writer, minLevel string, defaults SchemaFields) *StructuredLogger {
	return &StructuredLogger{
		w:        w,
		minLevel: parseLevelOrDefault(minLevel),
		defaults: populateRequiredFields(defaults),
	}
}

// WithFields returns a logger sharing this logger's writer and threshold
// whose defaults are overlaid with the non-empty fields given. Used to bind
// the agent and run ids once a session identity exists.
func (l *StructuredLogger) WithFields(fields SchemaFields) *StructuredLogger {
	if l == nil {
		return nil
	}
	merged := l.defaults
	if strings.TrimSpace(fields.Component) != "" {
		merged.Component = fields.Component
	}
	if strings.TrimSpace(fields.AgentID) != "" {
		merged.AgentID = fields.AgentID
	}
	if strings.TrimSpace(fields.RunID) != "" {
		merged.RunID = fields.RunID
	}
	return &StructuredLogger{w: l.w, minLevel: l.minLevel, defaults: merged}
}

// Log writes a single structured JSON line when level passes the configured threshold.
func (l *StructuredLogger) Log(level string, fields map[string]interface{}) error {
	if l == nil || l.w == nil {
		return nil
	}

	entryLevel := normalizeLogLevel(level)
	entrySeverity, ok := parseLogLevel(entryLevel)
	if !ok {
		return fmt.Errorf("invalid log level %q", level)
	}

	if entrySeverity < l.minLevel {
		return nil
	}

	entry := map[string]interface{}{}
	for key, value := range fields {
		entry[key] = value
	}

	entry["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	entry["level"] = entryLevel
	entry["component"] = chooseField(entry["component"], l.defaults.Component)
	entry["agent_id"] = chooseField(entry["agent_id"], l.defaults.AgentID)
	entry["run_id"] = chooseField(entry["run_id"], l.defaults.RunID)

	payload, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	_, err = l.w.Write(append(payload, '\n'))
	return err
}

// Debugf, Infof, Warnf, and Errorf are shorthands for single-message lines.
func (l *StructuredLogger) Debugf(format string, args ...interface{}) {
	_ = l.Log("debug", map[string]interface{}{"message": fmt.Sprintf(format, args...)})
}

func (l *StructuredLogger) Infof(format string, args ...interface{}) {
	_ = l.Log("info", map[string]interface{}{"message": fmt.Sprintf(format, args...)})
}

func (l *StructuredLogger) Warnf(format string, args ...interface{}) {
	_ = l.Log("warn", map[string]interface{}{"message": fmt.Sprintf(format, args...)})
}

func (l *StructuredLogger) Errorf(format string, args ...interface{}) {
	_ = l.Log("error", map[string]interface{}{"message": fmt.Sprintf(format, args...)})
}

func parseLevelOrDefault(raw string) logLevel {
	parsed, ok := parseLogLevel(normalizeLogLevel(raw))
	if !ok {
		return logLevelInfo
	}
	return parsed
}

func normalizeLogLevel(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

func parseLogLevel(raw string) (logLevel, bool) {
	switch raw {
	case "debug":
		return logLevelDebug, true
	case "info":
		return logLevelInfo, true
	case "warn", "warning":
		return logLevelWarn, true
	case "error":
		return logLevelError, true
	default:
		return 0, false
	}
}

func chooseField(raw interface{}, fallback string) string {
	value, ok := raw.(string)
	if !ok || strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}
