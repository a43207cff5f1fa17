// Package logging defines the logger a resflow service writes to and the
// adapters that plug slog, Watermill and entry style loggers into it.
package logging

import "github.com/ThreeDotsLabs/watermill"

// Keys shared by every log line that concerns a request or resource, so
// lines from the scheduler, the hooks and the transport can be correlated.
const (
	FieldRID           = "rid"
	FieldGroup         = "group"
	FieldKind          = "kind"
	FieldMethod        = "method"
	FieldCorrelationID = "correlation_id"
	FieldSubject       = "subject"
	FieldDurationMS    = "duration_ms"
)

// LogFields are the structured key/value pairs attached to a log line.
type LogFields map[string]any

// Merge returns a new set holding f overlaid with other. Neither input is
// modified.
func (f LogFields) Merge(other LogFields) LogFields {
	if len(f) == 0 && len(other) == 0 {
		return nil
	}
	out := make(LogFields, len(f)+len(other))
	for k, v := range f {
		out[k] = v
	}
	for k, v := range other {
		out[k] = v
	}
	return out
}

// ServiceLogger is what the service, its scheduler and the transports log
// through. The method set mirrors watermill.LoggerAdapter so either can be
// wrapped in the other without loss.
type ServiceLogger interface {
	With(fields LogFields) ServiceLogger
	Debug(msg string, fields LogFields)
	Info(msg string, fields LogFields)
	Error(msg string, err error, fields LogFields)
	Trace(msg string, fields LogFields)
}

// NewNopServiceLogger returns a logger that discards everything.
func NewNopServiceLogger() ServiceLogger {
	return NewWatermillServiceLogger(watermill.NopLogger{})
}
