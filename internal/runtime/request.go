package runtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	errspkg "github.com/drblury/resflow/internal/runtime/errors"
	"github.com/drblury/resflow/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/resflow/internal/runtime/logging"
)

type requestKind uint8

const (
	kindAccess requestKind = iota + 1
	kindGet
	kindCall
	kindAuth
	kindQuery
)

func (k requestKind) String() string {
	switch k {
	case kindAccess:
		return "access"
	case kindGet:
		return "get"
	case kindCall:
		return "call"
	case kindAuth:
		return "auth"
	case kindQuery:
		return "query"
	default:
		return "unknown"
	}
}

type replyState uint8

const (
	statePending replyState = iota
	stateTimeoutSent
	stateReplied
)

// Request outcomes used as metric labels.
const (
	outcomeSuccess = "success"
	outcomeError   = "error"
	outcomeFailed  = "failed"
)

var errMissingResponse = errors.New("missing response")

// request is the state of one inbound request. Which view is handed to the
// handler is decided by kind.
type request struct {
	*resource
	kind          requestKind
	method        string
	replyTo       string
	dto           requestDTO
	correlationID string
	startedAt     time.Time
	span          trace.Span

	mu       sync.Mutex
	state    replyState
	outcome  string
	replyErr *errspkg.Error

	// sink receives the result of a get request made by Value instead of
	// the wire.
	sink func(value any, err error)
	// events collects the events of a query request.
	events []queryEventEntry
}

func (r *request) fields() loggingpkg.LogFields {
	f := loggingpkg.LogFields{
		loggingpkg.FieldRID:           r.rid,
		loggingpkg.FieldKind:          r.kind.String(),
		loggingpkg.FieldGroup:         r.group,
		loggingpkg.FieldCorrelationID: r.correlationID,
	}
	if r.method != "" {
		f[loggingpkg.FieldMethod] = r.method
	}
	return f
}

func (r *request) replied() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state == stateReplied
}

// claim moves the request to the replied state. Only the first caller wins;
// later attempts are logged and dropped.
func (r *request) claim(outcome string, rerr *errspkg.Error) bool {
	r.mu.Lock()
	if r.state == stateReplied {
		r.mu.Unlock()
		r.s.Logger.Error("Response already sent", errspkg.ErrAlreadyReplied, r.fields())
		return false
	}
	r.state = stateReplied
	r.outcome = outcome
	r.replyErr = rerr
	r.mu.Unlock()
	return true
}

func (r *request) send(v any) {
	data, err := jsoncodec.Marshal(v)
	if err != nil {
		r.s.Logger.Error("Failed to encode response", err, r.fields())
		r.mu.Lock()
		r.outcome = outcomeFailed
		r.replyErr = errspkg.InternalError(err)
		r.mu.Unlock()
		data, _ = jsoncodec.Marshal(errorResponse{Error: errspkg.InternalError(err)})
	}
	r.publish(data)
}

func (r *request) publish(data []byte) {
	if r.replyTo == "" {
		return
	}
	if err := r.s.publish(r.replyTo, data); err != nil {
		r.s.Logger.Error("Failed to publish response", err, r.fields())
	}
}

func (r *request) success(result any) {
	if r.claim(outcomeSuccess, nil) {
		r.send(successResponse{Result: result})
	}
}

func (r *request) replyError(e *errspkg.Error) {
	if e == nil {
		e = errspkg.ErrInternalError
	}
	if !r.claim(outcomeError, e) {
		return
	}
	if r.sink != nil {
		r.sink(nil, e)
		return
	}
	r.send(errorResponse{Error: e})
}

func (r *request) replyResource(rid string) {
	if !validRID(rid) {
		r.replyError(errspkg.InternalError(errors.New("invalid resource id " + strconv.Quote(rid))))
		return
	}
	if r.claim(outcomeSuccess, nil) {
		r.send(resourceResponse{Resource: Ref(rid)})
	}
}

func (r *request) replyValue(value any, query string, collection bool) {
	if r.sink != nil {
		if r.claim(outcomeSuccess, nil) {
			r.sink(value, nil)
		}
		return
	}
	data, err := encodeValue(value)
	if err != nil {
		r.replyError(errspkg.InternalError(err))
		return
	}
	if !r.claim(outcomeSuccess, nil) {
		return
	}
	if collection {
		r.send(successResponse{Result: collectionResult{Collection: data, Query: query}})
		return
	}
	r.send(successResponse{Result: modelResult{Model: data, Query: query}})
}

// timeout sends the interim timeout frame. It is sent at most once and never
// after the reply; the frame is written under the lock so a concurrent reply
// cannot overtake it.
func (r *request) timeout(d time.Duration) {
	if r.sink != nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != statePending {
		return
	}
	r.state = stateTimeoutSent
	r.publish([]byte(`timeout:"` + strconv.FormatInt(d.Milliseconds(), 10) + `"`))
}

// finish is called when the handler returned. A query request that did not
// reply answers with the events it collected; any other request is a handler
// fault.
func (r *request) finish() {
	if r.replied() {
		return
	}
	if r.kind == kindQuery {
		events := r.events
		if events == nil {
			events = []queryEventEntry{}
		}
		r.success(queryEventsResult{Events: events})
		return
	}
	r.s.Logger.Error("Handler returned without sending a response", errMissingResponse, r.fields())
	if r.claim(outcomeFailed, errspkg.InternalError(errMissingResponse)) {
		r.deliverError(errspkg.InternalError(errMissingResponse))
	}
}

// recovered handles a panic escaping the handler. A panic carrying an *Error,
// wrapped or not, is an application error reply rather than a fault.
func (r *request) recovered(v any) {
	if r.replied() {
		r.s.Logger.Error("Handler panicked after sending a response", panicError(v), r.fields())
		return
	}
	err := panicError(v)
	var e *errspkg.Error
	if errors.As(err, &e) {
		r.replyError(e)
		return
	}
	r.s.Logger.Error("Handler panicked", err, r.fields())
	rerr := errspkg.ToError(err)
	if r.claim(outcomeFailed, rerr) {
		r.deliverError(rerr)
	}
}

func (r *request) deliverError(e *errspkg.Error) {
	if r.sink != nil {
		r.sink(nil, e)
		return
	}
	r.send(errorResponse{Error: e})
}

func panicError(v any) error {
	switch t := v.(type) {
	case error:
		return t
	case string:
		return errors.New(t)
	default:
		return fmt.Errorf("%v", v)
	}
}

// replier holds the reply operations shared by every request kind.
type replier struct {
	req *request
}

// Error sends err as the reply. Errors without an *Error in their chain are
// sent as internal errors.
func (p replier) Error(err error) {
	p.req.replyError(errspkg.ToError(err))
}

// NotFound replies with system.notFound.
func (p replier) NotFound() {
	p.req.replyError(errspkg.ErrNotFound)
}

// InvalidQuery replies with system.invalidQuery. An empty message uses the
// default one.
func (p replier) InvalidQuery(message string) {
	if message == "" {
		p.req.replyError(errspkg.ErrInvalidQuery)
		return
	}
	p.req.replyError(&errspkg.Error{Code: errspkg.CodeInvalidQuery, Message: message})
}

// Timeout asks the gateway to wait d for the reply. It has no effect once
// a reply or another timeout was sent.
func (p replier) Timeout(d time.Duration) {
	p.req.timeout(d)
}

// CorrelationID returns the id logged with every line about this request.
func (p replier) CorrelationID() string {
	return p.req.correlationID
}

// tokenReader exposes the connection id and token of a request.
type tokenReader struct {
	req *request
}

// CID returns the id of the connection that made the request.
func (t tokenReader) CID() string {
	return t.req.dto.CID
}

// RawToken returns the raw access token, or nil.
func (t tokenReader) RawToken() json.RawMessage {
	return t.req.dto.Token
}

// ParseToken decodes the access token into v. A missing token leaves v
// untouched.
func (t tokenReader) ParseToken(v any) error {
	if len(t.req.dto.Token) == 0 || string(t.req.dto.Token) == "null" {
		return nil
	}
	if err := jsoncodec.UnmarshalValue(t.req.dto.Token, v); err != nil {
		return errspkg.InternalError(err)
	}
	return nil
}

// methodReplier holds the operations shared by call and auth requests.
type methodReplier struct {
	req *request
}

// Method returns the called method.
func (m methodReplier) Method() string {
	return m.req.method
}

// RawParams returns the raw method parameters, or nil.
func (m methodReplier) RawParams() json.RawMessage {
	return m.req.dto.Params
}

// ParseParams decodes the parameters into v. The returned error is an
// invalid params *Error that can be passed to Error or panicked.
func (m methodReplier) ParseParams(v any) error {
	if len(m.req.dto.Params) == 0 || string(m.req.dto.Params) == "null" {
		return nil
	}
	if err := jsoncodec.UnmarshalValue(m.req.dto.Params, v); err != nil {
		return &errspkg.Error{Code: errspkg.CodeInvalidParams, Message: "Invalid parameters: " + err.Error()}
	}
	return nil
}

// OK sends a successful reply. result may be nil.
func (m methodReplier) OK(result any) {
	m.req.success(result)
}

// Resource replies with a reference to rid.
func (m methodReplier) Resource(rid string) {
	m.req.replyResource(rid)
}

// MethodNotFound replies with system.methodNotFound.
func (m methodReplier) MethodNotFound() {
	m.req.replyError(errspkg.ErrMethodNotFound)
}

// InvalidParams replies with system.invalidParams. An empty message uses the
// default one.
func (m methodReplier) InvalidParams(message string) {
	if message == "" {
		m.req.replyError(errspkg.ErrInvalidParams)
		return
	}
	m.req.replyError(&errspkg.Error{Code: errspkg.CodeInvalidParams, Message: message})
}

// AccessRequest is passed to access handlers.
type AccessRequest struct {
	*resource
	replier
	tokenReader
}

// AccessGranted grants get access and access to all call methods.
func (r *AccessRequest) AccessGranted() {
	r.Access(true, "*")
}

// AccessDenied replies with system.accessDenied.
func (r *AccessRequest) AccessDenied() {
	r.replier.req.replyError(errspkg.ErrAccessDenied)
}

// Access replies with the granted access. call is a comma separated list of
// methods, or "*" for all. Granting nothing is the same as AccessDenied.
func (r *AccessRequest) Access(get bool, call string) {
	if !get && call == "" {
		r.AccessDenied()
		return
	}
	r.replier.req.success(accessResult{Get: get, Call: call})
}

// GetRequest is passed to get handlers.
type GetRequest struct {
	*resource
	replier
}

// Model replies with a model.
func (r *GetRequest) Model(model any) {
	r.replier.req.replyValue(model, "", false)
}

// QueryModel replies with a model and the normalized query.
func (r *GetRequest) QueryModel(model any, normalizedQuery string) {
	r.replier.req.replyValue(model, normalizedQuery, false)
}

// Collection replies with a collection.
func (r *GetRequest) Collection(collection any) {
	r.replier.req.replyValue(collection, "", true)
}

// QueryCollection replies with a collection and the normalized query.
func (r *GetRequest) QueryCollection(collection any, normalizedQuery string) {
	r.replier.req.replyValue(collection, normalizedQuery, true)
}

// ForValue reports whether the request was made by Value rather than by
// the gateway.
func (r *GetRequest) ForValue() bool {
	return r.replier.req.sink != nil
}

// CallRequest is passed to call handlers.
type CallRequest struct {
	*resource
	replier
	tokenReader
	methodReplier
}

// AuthRequest is passed to auth handlers.
type AuthRequest struct {
	*resource
	replier
	tokenReader
	methodReplier
}

// Header returns the HTTP headers of the client connection.
func (r *AuthRequest) Header() map[string][]string {
	return r.replier.req.dto.Header
}

// Host returns the host the client connected to.
func (r *AuthRequest) Host() string {
	return r.replier.req.dto.Host
}

// RemoteAddr returns the address of the client.
func (r *AuthRequest) RemoteAddr() string {
	return r.replier.req.dto.RemoteAddr
}

// URI returns the URI the client connected with.
func (r *AuthRequest) URI() string {
	return r.replier.req.dto.URI
}

// IsHTTP reports whether the request came through the HTTP API of the
// gateway rather than a WebSocket.
func (r *AuthRequest) IsHTTP() bool {
	return r.replier.req.dto.IsHTTP
}

// TokenEvent sets the access token of the calling connection. A nil token
// clears it.
func (r *AuthRequest) TokenEvent(token any) error {
	return r.TokenEventWithID("", token)
}

// TokenEventWithID sets the access token together with a token id, which
// can later be used with Service.TokenReset.
func (r *AuthRequest) TokenEventWithID(tid string, token any) error {
	return r.s.tokenEvent(r.tokenReader.CID(), tid, token)
}
