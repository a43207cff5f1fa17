package runtime

import (
	"context"
	"fmt"
	"strings"

	errspkg "github.com/drblury/resflow/internal/runtime/errors"
	loggingpkg "github.com/drblury/resflow/internal/runtime/logging"
)

// Resource is a resource addressed by a request, or obtained through
// Service.With. Events sent through it are published on the resource's
// event subjects; they should be sent from within the resource's group.
type Resource interface {
	// ResourceName returns the resource id without query.
	ResourceName() string
	ResourceType() ResourceType
	// PathParams returns the values of the named placeholders of the
	// matched pattern.
	PathParams() map[string]string
	PathParam(key string) string
	// Query returns the query part of the resource id, if any.
	Query() string
	// Group returns the id of the group the resource is served in.
	Group() string
	// Pattern returns the pattern the resource name matched.
	Pattern() string
	Context() context.Context
	Service() *Service

	// Value returns what the get handler of the resource replies with.
	Value() (any, error)
	// RequireValue is Value that panics on error.
	RequireValue() any

	Event(name string, payload any) error
	ChangeEvent(changes map[string]any) error
	AddEvent(value any, idx int) error
	RemoveEvent(idx int) error
	ReaccessEvent() error
	QueryEvent(callback func(r *QueryRequest)) error
	CreateEvent(data any) error
	DeleteEvent() error
}

var _ Resource = (*resource)(nil)

type resource struct {
	s          *Service
	h          *Handler
	rid        string
	pathParams map[string]string
	query      string
	group      string
	pattern    string
	ctx        context.Context
}

func (r *resource) ResourceName() string { return r.rid }

func (r *resource) ResourceType() ResourceType { return r.h.Type }

func (r *resource) PathParams() map[string]string { return r.pathParams }

func (r *resource) PathParam(key string) string { return r.pathParams[key] }

func (r *resource) Query() string { return r.query }

func (r *resource) Group() string { return r.group }

func (r *resource) Pattern() string { return r.pattern }

func (r *resource) Context() context.Context { return r.ctx }

func (r *resource) Service() *Service { return r.s }

func (r *resource) Value() (any, error) {
	return r.s.ValueContext(r.ctx, r.rid)
}

func (r *resource) RequireValue() any {
	v, err := r.Value()
	if err != nil {
		panic(errspkg.ToError(err))
	}
	return v
}

// Event sends a custom event. Reserved event names are rejected.
func (r *resource) Event(name string, payload any) error {
	if reservedEvents[name] || !validEventName(name) {
		return fmt.Errorf("%w: %q", errspkg.ErrInvalidEvent, name)
	}
	if payload == nil {
		payload = struct{}{}
	}
	return r.s.publishEvent(r.rid, name, "custom", payload)
}

// ChangeEvent sends a change event. If ApplyChange is set, it is called
// first and only the properties it reports as changed are sent; nothing is
// sent when no property changed.
func (r *resource) ChangeEvent(changes map[string]any) error {
	if r.h.Type == TypeCollection {
		return fmt.Errorf("%w: change event on collection %s", errspkg.ErrInvalidEvent, r.rid)
	}
	if len(changes) == 0 {
		return nil
	}
	if r.h.ApplyChange != nil {
		rev, err := r.h.ApplyChange(r, changes)
		if err != nil {
			return err
		}
		if len(rev) == 0 {
			return nil
		}
		changed := make(map[string]any, len(rev))
		for k := range rev {
			if v, ok := changes[k]; ok {
				changed[k] = v
			}
		}
		changes = changed
	}
	values, err := encodeValues(changes)
	if err != nil {
		return err
	}
	return r.s.publishEvent(r.rid, eventChange, eventChange, changeEventDTO{Values: values})
}

// AddEvent sends an add event for a value inserted at idx.
func (r *resource) AddEvent(value any, idx int) error {
	if r.h.Type == TypeModel {
		return fmt.Errorf("%w: add event on model %s", errspkg.ErrInvalidEvent, r.rid)
	}
	if idx < 0 {
		return fmt.Errorf("%w: negative index %d", errspkg.ErrInvalidEvent, idx)
	}
	if r.h.ApplyAdd != nil {
		if err := r.h.ApplyAdd(r, value, idx); err != nil {
			return err
		}
	}
	data, err := encodeValue(value)
	if err != nil {
		return err
	}
	return r.s.publishEvent(r.rid, eventAdd, eventAdd, addEventDTO{Value: data, Idx: idx})
}

// RemoveEvent sends a remove event for the value at idx.
func (r *resource) RemoveEvent(idx int) error {
	if r.h.Type == TypeModel {
		return fmt.Errorf("%w: remove event on model %s", errspkg.ErrInvalidEvent, r.rid)
	}
	if idx < 0 {
		return fmt.Errorf("%w: negative index %d", errspkg.ErrInvalidEvent, idx)
	}
	if r.h.ApplyRemove != nil {
		if _, err := r.h.ApplyRemove(r, idx); err != nil {
			return err
		}
	}
	return r.s.publishEvent(r.rid, eventRemove, eventRemove, removeEventDTO{Idx: idx})
}

// ReaccessEvent tells the gateway to redo access checks for the resource.
func (r *resource) ReaccessEvent() error {
	return r.s.publishEvent(r.rid, eventReaccess, eventReaccess, nil)
}

// CreateEvent runs ApplyCreate and sends a create event.
func (r *resource) CreateEvent(data any) error {
	if r.h.ApplyCreate != nil {
		if err := r.h.ApplyCreate(r, data); err != nil {
			return err
		}
	}
	return r.s.publishEvent(r.rid, eventCreate, eventCreate, nil)
}

// DeleteEvent runs ApplyDelete and sends a delete event.
func (r *resource) DeleteEvent() error {
	if r.h.ApplyDelete != nil {
		if _, err := r.h.ApplyDelete(r); err != nil {
			return err
		}
	}
	return r.s.publishEvent(r.rid, eventDelete, eventDelete, nil)
}

func (r *resource) fields() loggingpkg.LogFields {
	return loggingpkg.LogFields{loggingpkg.FieldRID: r.rid, loggingpkg.FieldGroup: r.group}
}

func validEventName(name string) bool {
	return name != "" && !strings.ContainsAny(name, ". \t\r\n*>")
}

type ctxKey int

const ownerKey ctxKey = iota

// owner lists the groups whose tasks are on the current call stack,
// innermost first. Outer entries are blocked waiting for a Value from an
// inner one, so their groups are held by the current goroutine too. Entries
// made for get handlers carry the rid being resolved.
type owner struct {
	group string
	rid   string
	get   bool
	next  *owner
}

func ownerFrom(ctx context.Context) *owner {
	o, _ := ctx.Value(ownerKey).(*owner)
	return o
}

func withOwner(ctx context.Context, group, rid string, get bool) context.Context {
	return context.WithValue(ctx, ownerKey, &owner{group: group, rid: rid, get: get, next: ownerFrom(ctx)})
}

// resolving reports whether a get handler for rid is on the call stack.
func (o *owner) resolving(rid string) bool {
	for ; o != nil; o = o.next {
		if o.get && o.rid == rid {
			return true
		}
	}
	return false
}

func (o *owner) holds(group string) bool {
	for ; o != nil; o = o.next {
		if o.group == group {
			return true
		}
	}
	return false
}

// GroupFromContext returns the group whose task ctx belongs to.
func GroupFromContext(ctx context.Context) (string, bool) {
	if o := ownerFrom(ctx); o != nil {
		return o.group, true
	}
	return "", false
}

type valueResult struct {
	value any
	err   error
}

// ValueAs returns the value of rid asserted to T.
func ValueAs[T any](ctx context.Context, s *Service, rid string) (T, error) {
	var zero T
	v, err := s.ValueContext(ctx, rid)
	if err != nil {
		return zero, err
	}
	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("%w: %s is %T, not %T", errspkg.ErrValueTypeMismatch, rid, v, zero)
	}
	return t, nil
}
