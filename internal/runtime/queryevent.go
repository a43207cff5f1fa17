package runtime

import (
	"context"
	"fmt"
	"sync"

	errspkg "github.com/drblury/resflow/internal/runtime/errors"
	idspkg "github.com/drblury/resflow/internal/runtime/ids"
	"github.com/drblury/resflow/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/resflow/internal/runtime/logging"
	transportpkg "github.com/drblury/resflow/transport"
)

// queryEvent is an open query event subscription.
type queryEvent struct {
	r        *resource
	callback func(r *QueryRequest)
	inbox    string

	mu  sync.Mutex
	sub transportpkg.Subscription
}

// QueryEvent sends a query event for the resource. For every query request
// the gateway sends within QueryEventDuration, callback is called in the
// group of the resource with the request. When the subscription ends,
// callback is called once more with nil.
func (r *resource) QueryEvent(callback func(r *QueryRequest)) error {
	if callback == nil {
		return errspkg.ErrHandlerRequired
	}
	s := r.s
	_, conn := s.frozen()
	if conn == nil {
		return errspkg.ErrNotServing
	}

	qe := &queryEvent{r: r, callback: callback, inbox: conn.NewInbox()}
	sub, err := conn.Subscribe(qe.inbox, qe.handle)
	if err != nil {
		return fmt.Errorf("subscribe query inbox: %w", err)
	}
	qe.sub = sub
	if err := s.publishEvent(r.rid, eventQuery, eventQuery, queryEventDTO{Subject: qe.inbox}); err != nil {
		if uerr := sub.Unsubscribe(); uerr != nil {
			s.Logger.Error("Failed to unsubscribe query inbox", uerr, r.fields())
		}
		return err
	}
	if err := s.queries.Add(qe); err != nil {
		return err
	}
	return nil
}

// handle queues a query request on the group of the resource.
func (qe *queryEvent) handle(msg *transportpkg.Msg) {
	s := qe.r.s
	req := &request{
		resource: &resource{
			s:          s,
			h:          qe.r.h,
			rid:        qe.r.rid,
			pathParams: qe.r.pathParams,
			group:      qe.r.group,
			pattern:    qe.r.pattern,
			ctx:        context.Background(),
		},
		kind:          kindQuery,
		replyTo:       msg.Reply,
		correlationID: idspkg.New(),
	}
	var dto queryRequestDTO
	if len(msg.Data) > 0 {
		if err := jsoncodec.Unmarshal(msg.Data, &dto); err != nil {
			s.reject(req, errspkg.InternalError(fmt.Errorf("decode query request: %w", err)))
			return
		}
	}
	req.query = dto.Query
	s.submit(req, func() {
		qe.callback(&QueryRequest{resource: req.resource, replier: replier{req}})
	})
}

// close unsubscribes the inbox. It is safe to call more than once.
func (qe *queryEvent) close() {
	qe.mu.Lock()
	sub := qe.sub
	qe.sub = nil
	qe.mu.Unlock()
	if sub == nil {
		return
	}
	if err := sub.Unsubscribe(); err != nil {
		qe.r.s.Logger.Error("Failed to unsubscribe query inbox", err, qe.r.fields())
	}
}

// expireQuery ends a query event subscription and tells its callback.
func (s *Service) expireQuery(qe *queryEvent) {
	qe.close()
	s.metrics.RecordQueryExpiration()
	err := s.sched.Submit(qe.r.group, func() { qe.callback(nil) })
	if err != nil {
		s.Logger.Error("Failed to queue query event end", err, loggingpkg.LogFields{loggingpkg.FieldRID: qe.r.rid})
	}
}

// QueryRequest is passed to query event callbacks. A callback either sends
// the events that apply to the queried resource, or replies with the whole
// model or collection. Returning without any reply sends an empty event list.
type QueryRequest struct {
	*resource
	replier
}

// Model replies with the full model matching the query.
func (r *QueryRequest) Model(model any) {
	r.replier.req.replyValue(model, "", false)
}

// Collection replies with the full collection matching the query.
func (r *QueryRequest) Collection(collection any) {
	r.replier.req.replyValue(collection, "", true)
}

// ChangeEvent adds a change event to the reply. No apply hook is called.
func (r *QueryRequest) ChangeEvent(changes map[string]any) error {
	if len(changes) == 0 {
		return nil
	}
	values, err := encodeValues(changes)
	if err != nil {
		return err
	}
	r.add(eventChange, changeEventDTO{Values: values})
	return nil
}

// AddEvent adds an add event to the reply.
func (r *QueryRequest) AddEvent(value any, idx int) error {
	if idx < 0 {
		return fmt.Errorf("%w: negative index %d", errspkg.ErrInvalidEvent, idx)
	}
	data, err := encodeValue(value)
	if err != nil {
		return err
	}
	r.add(eventAdd, addEventDTO{Value: data, Idx: idx})
	return nil
}

// RemoveEvent adds a remove event to the reply.
func (r *QueryRequest) RemoveEvent(idx int) error {
	if idx < 0 {
		return fmt.Errorf("%w: negative index %d", errspkg.ErrInvalidEvent, idx)
	}
	r.add(eventRemove, removeEventDTO{Idx: idx})
	return nil
}

func (r *QueryRequest) add(event string, data any) {
	req := r.replier.req
	req.mu.Lock()
	defer req.mu.Unlock()
	if req.state == stateReplied {
		r.s.Logger.Error("Query event after response", errspkg.ErrAlreadyReplied, req.fields())
		return
	}
	req.events = append(req.events, queryEventEntry{Event: event, Data: data})
}
