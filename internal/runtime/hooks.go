package runtime

import (
	"context"
	"time"

	loggingpkg "github.com/drblury/resflow/internal/runtime/logging"
)

// RequestContext provides information about a request execution to hooks.
type RequestContext struct {
	// Kind is the request kind: access, get, call, auth or query.
	Kind string
	// ResourceName is the resource id without query.
	ResourceName string
	// Method is the call or auth method, empty for other kinds.
	Method string
	// Pattern is the pattern the resource name matched.
	Pattern string
	// Group is the group the request was executed in.
	Group string
	// CorrelationID identifies the request in the logs.
	CorrelationID string
	// Context is the context the handler ran with.
	Context context.Context
	// StartedAt is when the handler was invoked.
	StartedAt time.Time
	// Duration is how long the handler took (only set in OnRequestDone and OnRequestError).
	Duration time.Duration
}

// RequestHooks defines callbacks for request lifecycle events.
// All hooks are optional - nil hooks are simply not called.
type RequestHooks struct {
	// OnRequestStart is called in the request's group right before the
	// handler is invoked.
	OnRequestStart func(ctx RequestContext)

	// OnRequestDone is called when the handler replied with a result.
	OnRequestDone func(ctx RequestContext)

	// OnRequestError is called when the request ended with an error reply,
	// a panic, or without any reply. The error sent to the requester is
	// passed as the second argument.
	OnRequestError func(ctx RequestContext, err error)
}

// Merge combines two RequestHooks, creating a new RequestHooks that calls both.
// The hooks from 'other' are called after the hooks from 'h'.
func (h RequestHooks) Merge(other RequestHooks) RequestHooks {
	return RequestHooks{
		OnRequestStart: chainHooks(h.OnRequestStart, other.OnRequestStart),
		OnRequestDone:  chainHooks(h.OnRequestDone, other.OnRequestDone),
		OnRequestError: chainErrorHooks(h.OnRequestError, other.OnRequestError),
	}
}

func chainHooks(a, b func(RequestContext)) func(RequestContext) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx RequestContext) {
		a(ctx)
		b(ctx)
	}
}

func chainErrorHooks(a, b func(RequestContext, error)) func(RequestContext, error) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx RequestContext, err error) {
		a(ctx, err)
		b(ctx, err)
	}
}

// LoggingHooks returns pre-built hooks that log request lifecycle events.
func LoggingHooks(logger loggingpkg.ServiceLogger) RequestHooks {
	return RequestHooks{
		OnRequestStart: func(ctx RequestContext) {
			logger.Debug("Request started", loggingpkg.LogFields{
				loggingpkg.FieldKind:          ctx.Kind,
				loggingpkg.FieldRID:           ctx.ResourceName,
				loggingpkg.FieldMethod:        ctx.Method,
				loggingpkg.FieldGroup:         ctx.Group,
				loggingpkg.FieldCorrelationID: ctx.CorrelationID,
			})
		},
		OnRequestDone: func(ctx RequestContext) {
			logger.Debug("Request completed", loggingpkg.LogFields{
				loggingpkg.FieldKind:          ctx.Kind,
				loggingpkg.FieldRID:           ctx.ResourceName,
				loggingpkg.FieldCorrelationID: ctx.CorrelationID,
				loggingpkg.FieldDurationMS:    ctx.Duration.Milliseconds(),
			})
		},
		OnRequestError: func(ctx RequestContext, err error) {
			logger.Error("Request failed", err, loggingpkg.LogFields{
				loggingpkg.FieldKind:          ctx.Kind,
				loggingpkg.FieldRID:           ctx.ResourceName,
				loggingpkg.FieldMethod:        ctx.Method,
				loggingpkg.FieldCorrelationID: ctx.CorrelationID,
				loggingpkg.FieldDurationMS:    ctx.Duration.Milliseconds(),
			})
		},
	}
}

// AlertingHooks returns pre-built hooks that trigger alerts on failed requests.
func AlertingHooks(alertFunc func(ctx RequestContext, err error)) RequestHooks {
	return RequestHooks{
		OnRequestError: alertFunc,
	}
}
