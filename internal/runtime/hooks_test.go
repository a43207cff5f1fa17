package runtime

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	loggingpkg "github.com/drblury/resflow/internal/runtime/logging"
)

func TestRequestHooks_Merge(t *testing.T) {
	var calls []string

	h1 := RequestHooks{
		OnRequestStart: func(ctx RequestContext) { calls = append(calls, "h1-start") },
		OnRequestDone:  func(ctx RequestContext) { calls = append(calls, "h1-done") },
	}
	h2 := RequestHooks{
		OnRequestStart: func(ctx RequestContext) { calls = append(calls, "h2-start") },
		OnRequestError: func(ctx RequestContext, err error) { calls = append(calls, "h2-error") },
	}

	merged := h1.Merge(h2)
	merged.OnRequestStart(RequestContext{})
	merged.OnRequestDone(RequestContext{})
	merged.OnRequestError(RequestContext{}, errors.New("boom"))

	assert.Equal(t, []string{"h1-start", "h2-start", "h1-done", "h2-error"}, calls)
}

func TestRequestHooks_MergeEmpty(t *testing.T) {
	merged := RequestHooks{}.Merge(RequestHooks{})
	assert.Nil(t, merged.OnRequestStart)
	assert.Nil(t, merged.OnRequestDone)
	assert.Nil(t, merged.OnRequestError)
}

type recordingLogger struct {
	loggingpkg.ServiceLogger
	debug []string
	errs  []string
	last  loggingpkg.LogFields
}

func (l *recordingLogger) Debug(msg string, fields loggingpkg.LogFields) {
	l.debug = append(l.debug, msg)
	l.last = fields
}

func (l *recordingLogger) Error(msg string, err error, fields loggingpkg.LogFields) {
	l.errs = append(l.errs, msg+": "+err.Error())
	l.last = fields
}

func TestLoggingHooks(t *testing.T) {
	log := &recordingLogger{ServiceLogger: loggingpkg.NewNopServiceLogger()}
	hooks := LoggingHooks(log)

	ctx := RequestContext{Kind: "call", ResourceName: "library.book.1", Method: "set", CorrelationID: "cid", Duration: 3 * time.Millisecond}
	hooks.OnRequestStart(ctx)
	hooks.OnRequestDone(ctx)
	assert.Equal(t, []string{"Request started", "Request completed"}, log.debug)
	assert.Equal(t, int64(3), log.last["duration_ms"])

	hooks.OnRequestError(ctx, errors.New("denied"))
	assert.Equal(t, []string{"Request failed: denied"}, log.errs)
	assert.Equal(t, "set", log.last["method"])
}

func TestAlertingHooks(t *testing.T) {
	var alerted error
	hooks := AlertingHooks(func(ctx RequestContext, err error) { alerted = err })
	assert.Nil(t, hooks.OnRequestStart)

	want := errors.New("boom")
	hooks.OnRequestError(RequestContext{}, want)
	assert.Equal(t, want, alerted)
}
