package logging

import (
	"maps"
	"slices"
)

// EntryLoggerAdapter is the method set of entry style loggers such as
// logrus.Entry, whose With methods return their own concrete type.
type EntryLoggerAdapter[T any] interface {
	Error(args ...any)
	Info(args ...any)
	Debug(args ...any)
	Trace(args ...any)
	WithError(err error) T
	WithField(key string, value any) T
}

// NewEntryServiceLogger logs through an entry style logger.
func NewEntryServiceLogger[T EntryLoggerAdapter[T]](entry T) ServiceLogger {
	if any(entry) == nil {
		panic("resflow: entry logger cannot be nil")
	}
	return entryLogger[T]{entry}
}

type entryLogger[T EntryLoggerAdapter[T]] struct {
	entry T
}

func (l entryLogger[T]) With(fields LogFields) ServiceLogger {
	if len(fields) == 0 {
		return l
	}
	return entryLogger[T]{withFields(l.entry, fields)}
}

func (l entryLogger[T]) Debug(msg string, fields LogFields) { withFields(l.entry, fields).Debug(msg) }

func (l entryLogger[T]) Info(msg string, fields LogFields) { withFields(l.entry, fields).Info(msg) }

func (l entryLogger[T]) Trace(msg string, fields LogFields) { withFields(l.entry, fields).Trace(msg) }

func (l entryLogger[T]) Error(msg string, err error, fields LogFields) {
	e := withFields(l.entry, fields)
	if err != nil {
		e = e.WithError(err)
	}
	e.Error(msg)
}

// withFields applies fields in key order so repeated lines render the same.
func withFields[T EntryLoggerAdapter[T]](entry T, fields LogFields) T {
	for _, k := range slices.Sorted(maps.Keys(fields)) {
		entry = entry.WithField(k, fields[k])
	}
	return entry
}
