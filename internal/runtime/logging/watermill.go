package logging

import (
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
)

// NewSlogServiceLogger logs through log using Watermill's slog bridge, which
// adds a trace level below debug.
func NewSlogServiceLogger(log *slog.Logger) ServiceLogger {
	if log == nil {
		panic("resflow: slog logger cannot be nil")
	}
	return NewWatermillServiceLogger(watermill.NewSlogLogger(log))
}

// NewWatermillServiceLogger logs through an existing Watermill adapter.
func NewWatermillServiceLogger(logger watermill.LoggerAdapter) ServiceLogger {
	if logger == nil {
		panic("resflow: watermill logger cannot be nil")
	}
	return wmLogger{logger}
}

// NewWatermillAdapter exposes log as a Watermill adapter for the transport
// builders. A logger that came from NewWatermillServiceLogger hands back the
// adapter it wraps.
func NewWatermillAdapter(log ServiceLogger) watermill.LoggerAdapter {
	switch l := log.(type) {
	case nil:
		panic("resflow: ServiceLogger cannot be nil")
	case wmLogger:
		return l.adapter
	default:
		return serviceAdapter{l}
	}
}

type wmLogger struct {
	adapter watermill.LoggerAdapter
}

func (l wmLogger) With(fields LogFields) ServiceLogger {
	if len(fields) == 0 {
		return l
	}
	return wmLogger{l.adapter.With(watermill.LogFields(fields))}
}

func (l wmLogger) Debug(msg string, fields LogFields) { l.adapter.Debug(msg, wmFields(fields)) }

func (l wmLogger) Info(msg string, fields LogFields) { l.adapter.Info(msg, wmFields(fields)) }

func (l wmLogger) Trace(msg string, fields LogFields) { l.adapter.Trace(msg, wmFields(fields)) }

func (l wmLogger) Error(msg string, err error, fields LogFields) {
	l.adapter.Error(msg, err, wmFields(fields))
}

func wmFields(fields LogFields) watermill.LogFields {
	if fields == nil {
		return nil
	}
	return watermill.LogFields(fields)
}

type serviceAdapter struct {
	log ServiceLogger
}

func (a serviceAdapter) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return serviceAdapter{a.log.With(LogFields(fields))}
}

func (a serviceAdapter) Debug(msg string, fields watermill.LogFields) {
	a.log.Debug(msg, svcFields(fields))
}

func (a serviceAdapter) Info(msg string, fields watermill.LogFields) {
	a.log.Info(msg, svcFields(fields))
}

func (a serviceAdapter) Trace(msg string, fields watermill.LogFields) {
	a.log.Trace(msg, svcFields(fields))
}

func (a serviceAdapter) Error(msg string, err error, fields watermill.LogFields) {
	a.log.Error(msg, err, svcFields(fields))
}

func svcFields(fields watermill.LogFields) LogFields {
	if fields == nil {
		return nil
	}
	return LogFields(fields)
}
