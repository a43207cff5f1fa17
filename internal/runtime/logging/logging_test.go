package logging

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type line struct {
	level  string
	msg    string
	err    error
	fields map[string]any
}

// wmRecorder is a watermill adapter whose children share one line buffer.
type wmRecorder struct {
	base  watermill.LogFields
	lines *[]line
}

func newWMRecorder() *wmRecorder { return &wmRecorder{lines: &[]line{}} }

func (r *wmRecorder) add(level, msg string, err error, fields watermill.LogFields) {
	merged := map[string]any{}
	for k, v := range r.base {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	*r.lines = append(*r.lines, line{level: level, msg: msg, err: err, fields: merged})
}

func (r *wmRecorder) Error(msg string, err error, f watermill.LogFields) { r.add("error", msg, err, f) }
func (r *wmRecorder) Info(msg string, f watermill.LogFields)             { r.add("info", msg, nil, f) }
func (r *wmRecorder) Debug(msg string, f watermill.LogFields)            { r.add("debug", msg, nil, f) }
func (r *wmRecorder) Trace(msg string, f watermill.LogFields)            { r.add("trace", msg, nil, f) }

func (r *wmRecorder) With(f watermill.LogFields) watermill.LoggerAdapter {
	return &wmRecorder{base: r.base.Add(f), lines: r.lines}
}

// entry mimics a logrus style entry.
type entry struct {
	fields map[string]any
	order  []string
	err    error
	lines  *[]line
}

func newEntry() *entry { return &entry{lines: &[]line{}} }

func (e *entry) clone() *entry {
	c := &entry{fields: map[string]any{}, order: append([]string(nil), e.order...), err: e.err, lines: e.lines}
	for k, v := range e.fields {
		c.fields[k] = v
	}
	return c
}

func (e *entry) WithField(k string, v any) *entry {
	c := e.clone()
	c.fields[k] = v
	c.order = append(c.order, k)
	return c
}

func (e *entry) WithError(err error) *entry {
	c := e.clone()
	c.err = err
	return c
}

func (e *entry) log(level string, args ...any) {
	*e.lines = append(*e.lines, line{level: level, msg: fmt.Sprint(args...), err: e.err, fields: e.clone().fields})
}

func (e *entry) Error(args ...any) { e.log("error", args...) }
func (e *entry) Info(args ...any)  { e.log("info", args...) }
func (e *entry) Debug(args ...any) { e.log("debug", args...) }
func (e *entry) Trace(args ...any) { e.log("trace", args...) }

func TestMerge(t *testing.T) {
	base := LogFields{FieldRID: "library.book.1", FieldGroup: "books"}
	merged := base.Merge(LogFields{FieldGroup: "shelf", FieldKind: "call"})

	assert.Equal(t, LogFields{FieldRID: "library.book.1", FieldGroup: "shelf", FieldKind: "call"}, merged)
	assert.Equal(t, "books", base[FieldGroup])
	assert.Nil(t, LogFields(nil).Merge(nil))
	assert.Equal(t, LogFields{"a": 1}, LogFields(nil).Merge(LogFields{"a": 1}))
}

func TestWatermillServiceLogger(t *testing.T) {
	rec := newWMRecorder()
	log := NewWatermillServiceLogger(rec).With(LogFields{"service": "library"})
	boom := errors.New("boom")

	log.Debug("Subscribed", LogFields{FieldSubject: "get.library.>"})
	log.Info("Serving", nil)
	log.Trace("frame", nil)
	log.With(LogFields{FieldRID: "library.book.1"}).Error("Handler failed", boom, LogFields{FieldMethod: "set"})

	lines := *rec.lines
	require.Len(t, lines, 4)
	assert.Equal(t, []string{"debug", "info", "trace", "error"},
		[]string{lines[0].level, lines[1].level, lines[2].level, lines[3].level})
	assert.Equal(t, "get.library.>", lines[0].fields[FieldSubject])
	for _, l := range lines {
		assert.Equal(t, "library", l.fields["service"])
	}
	assert.Equal(t, map[string]any{"service": "library", FieldRID: "library.book.1", FieldMethod: "set"}, lines[3].fields)
	assert.ErrorIs(t, lines[3].err, boom)

	assert.Panics(t, func() { NewWatermillServiceLogger(nil) })
}

func TestWatermillAdapterRoundTrip(t *testing.T) {
	rec := newWMRecorder()
	assert.Same(t, rec, NewWatermillAdapter(NewWatermillServiceLogger(rec)))

	ent := newEntry()
	adapter := NewWatermillAdapter(NewEntryServiceLogger(ent))
	adapter.With(watermill.LogFields{"nats_url": "nats://localhost:4222"}).Info("Connected", nil)
	adapter.Error("Disconnected", errors.New("eof"), watermill.LogFields{"reconnects": 2})
	adapter.Debug("Reconnected", nil)
	adapter.Trace("ping", nil)

	lines := *ent.lines
	require.Len(t, lines, 4)
	assert.Equal(t, "Connected", lines[0].msg)
	assert.Equal(t, "nats://localhost:4222", lines[0].fields["nats_url"])
	assert.EqualError(t, lines[1].err, "eof")
	assert.Equal(t, 2, lines[1].fields["reconnects"])
	assert.Equal(t, "debug", lines[2].level)
	assert.Equal(t, "trace", lines[3].level)

	assert.Panics(t, func() { NewWatermillAdapter(nil) })
}

func TestEntryServiceLogger(t *testing.T) {
	ent := newEntry()
	log := NewEntryServiceLogger(ent)
	assert.Equal(t, log, log.With(nil))

	child := log.With(LogFields{FieldGroup: "books"})
	child.Info("Request started", LogFields{FieldRID: "library.book.7", FieldCorrelationID: "01J"})
	child.Error("Request failed", nil, nil)

	lines := *ent.lines
	require.Len(t, lines, 2)
	assert.Equal(t, map[string]any{FieldGroup: "books", FieldRID: "library.book.7", FieldCorrelationID: "01J"}, lines[0].fields)
	assert.NoError(t, lines[1].err)
	assert.Empty(t, ent.fields, "the root entry is never mutated")
}

func TestEntryFieldsAppliedInKeyOrder(t *testing.T) {
	got := withFields(newEntry(), LogFields{"z": 1, "a": 2, "m": 3})
	assert.Equal(t, []string{"a", "m", "z"}, got.order)
}

func TestSlogServiceLogger(t *testing.T) {
	var buf bytes.Buffer
	log := NewSlogServiceLogger(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))

	log.With(LogFields{"service": "library"}).Info("Serving", LogFields{"patterns": 3})
	log.Error("Publish failed", errors.New("closed"), nil)

	out := buf.String()
	assert.Contains(t, out, "Serving")
	assert.Contains(t, out, "service=library")
	assert.Contains(t, out, "patterns=3")
	assert.Contains(t, out, "closed")

	assert.Panics(t, func() { NewSlogServiceLogger(nil) })
}

func TestNopServiceLogger(t *testing.T) {
	log := NewNopServiceLogger()
	assert.NotPanics(t, func() {
		log.With(LogFields{"k": "v"}).Error("ignored", errors.New("boom"), nil)
		log.Trace("ignored", nil)
	})
}
