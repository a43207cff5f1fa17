package runtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	configpkg "github.com/drblury/resflow/internal/runtime/config"
	errspkg "github.com/drblury/resflow/internal/runtime/errors"
	idspkg "github.com/drblury/resflow/internal/runtime/ids"
	"github.com/drblury/resflow/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/resflow/internal/runtime/logging"
	"github.com/drblury/resflow/internal/runtime/router"
	"github.com/drblury/resflow/internal/runtime/timerqueue"
	"github.com/drblury/resflow/internal/runtime/work"
	transportpkg "github.com/drblury/resflow/transport"
)

const tracerName = "github.com/drblury/resflow"

// ServiceDependencies holds the optional collaborators that the Service can use.
// Leave fields nil to use the defaults.
type ServiceDependencies struct {
	// Registry resolves Config.Transport in ListenAndServe. Defaults to
	// transport.DefaultRegistry.
	Registry *transportpkg.Registry
	// Hooks are called around every request handler.
	Hooks RequestHooks
	// Registerer receives the Prometheus collectors. Defaults to
	// prometheus.DefaultRegisterer.
	Registerer prometheus.Registerer
	// TracerProvider creates the request spans. Defaults to the global provider.
	TracerProvider trace.TracerProvider
}

// Service serves the resources registered on its router over a transport
// connection. Handlers must be registered before Serve.
type Service struct {
	*Router
	Conf   *configpkg.Config
	Logger loggingpkg.ServiceLogger

	registry   *transportpkg.Registry
	hooks      RequestHooks
	metrics    *ServiceMetrics
	registerer prometheus.Registerer
	tracer     trace.Tracer
	sched      *work.Scheduler
	process    *processSampler

	mu      sync.RWMutex
	tree    *router.Tree[*Handler]
	conn    transportpkg.Conn
	subs    []transportpkg.Subscription
	queries *timerqueue.Queue[*queryEvent]
	served  bool

	stopOnce    sync.Once
	stopErr     error
	ready       chan struct{}
	done        chan struct{}
	httpServers map[int]*http.ServeMux
	servers     []*http.Server
	httpMu      sync.Mutex
}

// NewService constructs a Service for the supplied configuration. Register
// handlers on the returned Service before calling Serve.
func NewService(conf *configpkg.Config, log loggingpkg.ServiceLogger, deps ServiceDependencies) (*Service, error) {
	if err := configpkg.ValidateConfig(conf); err != nil {
		return nil, errspkg.NewConfigValidationError(err)
	}
	if log == nil {
		return nil, errspkg.ErrLoggerRequired
	}
	c := conf.WithDefaults()
	log = log.With(loggingpkg.LogFields{"service": c.Name})
	log.Info("Creating resource service", loggingpkg.LogFields{
		"transport": c.Transport,
		"config":    c,
	})

	s := &Service{
		Router:     NewRouter(c.Name),
		Conf:       &c,
		Logger:     log,
		registry:   deps.Registry,
		hooks:      deps.Hooks,
		registerer: deps.Registerer,
		sched:      work.New(log),
		process:    newProcessSampler(),
		ready:      make(chan struct{}),
		done:       make(chan struct{}),
	}
	if s.registry == nil {
		s.registry = transportpkg.DefaultRegistry
	}
	if s.registerer == nil {
		s.registerer = prometheus.DefaultRegisterer
	}
	tp := deps.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	s.tracer = tp.Tracer(tracerName)
	s.queries = timerqueue.New(s.expireQuery, c.QueryEventDuration)
	s.metrics = NewServiceMetrics(s.registerer)
	s.metrics.observeScheduler(
		func() float64 { return float64(s.sched.Stats().ActiveGroups) },
		func() float64 { return float64(s.sched.Stats().QueuedTasks) },
		func() float64 { return float64(s.queries.Len()) },
	)
	return s, nil
}

// Metrics returns the metrics collector of the service.
func (s *Service) Metrics() *ServiceMetrics {
	return s.metrics
}

// ListenAndServe connects with the transport named in the configuration and
// serves until ctx is done.
func (s *Service) ListenAndServe(ctx context.Context) error {
	conn, err := s.registry.Build(ctx, s.Conf, loggingpkg.NewWatermillAdapter(s.Logger))
	if err != nil {
		return fmt.Errorf("connect %s transport: %w", s.Conf.Transport, err)
	}
	return s.Serve(ctx, conn)
}

// Serve subscribes to the requests of the registered resources on conn and
// serves them until ctx is done or Shutdown is called. The connection is
// closed on return. A Service can only serve once.
func (s *Service) Serve(ctx context.Context, conn transportpkg.Conn) error {
	if conn == nil {
		return errspkg.ErrConnRequired
	}
	s.mu.Lock()
	if s.served {
		s.mu.Unlock()
		return errspkg.ErrAlreadyServing
	}
	tree, err := s.Router.b.Freeze()
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.tree = tree
	s.conn = conn
	s.served = true
	s.mu.Unlock()

	if s.Conf.MetricsEnabled {
		if err := s.metrics.Register(); err != nil {
			s.Logger.Error("Failed to register metrics", err, nil)
		}
	}

	if err := s.subscribe(); err != nil {
		return errors.Join(err, s.Shutdown())
	}
	s.startStatusServer()
	s.startMetricsServer()
	s.startHTTPServers()

	s.Logger.Info("Serving resources", loggingpkg.LogFields{
		"patterns":  len(tree.Patterns()),
		"transport": s.Conf.Transport,
	})
	s.resetAll()
	close(s.ready)

	select {
	case <-ctx.Done():
		return s.Shutdown()
	case <-s.done:
		return s.stopErr
	}
}

// Ready returns a channel that is closed once Serve has subscribed to the
// request subjects and sent the startup system.reset.
func (s *Service) Ready() <-chan struct{} {
	return s.ready
}

// Shutdown stops serving. Subscriptions are removed, pending query events are
// ended, queued requests get ShutdownTimeout to finish and the connection is
// closed.
func (s *Service) Shutdown() error {
	s.mu.RLock()
	served := s.served
	s.mu.RUnlock()
	if !served {
		return errspkg.ErrNotServing
	}
	s.stopOnce.Do(func() {
		s.stopErr = s.shutdown()
		close(s.done)
	})
	return s.stopErr
}

func (s *Service) shutdown() error {
	var errs []error

	s.mu.Lock()
	subs := s.subs
	s.subs = nil
	s.mu.Unlock()
	for _, sub := range subs {
		if err := sub.Unsubscribe(); err != nil {
			errs = append(errs, fmt.Errorf("unsubscribe: %w", err))
		}
	}

	s.queries.Flush()

	// A timeout is logged by the scheduler; the connection is closed anyway.
	_ = s.sched.Shutdown(s.Conf.ShutdownTimeout)

	s.stopHTTPServers()

	s.mu.RLock()
	conn := s.conn
	s.mu.RUnlock()
	if err := conn.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close connection: %w", err))
	}

	s.Logger.Info("Service stopped", nil)
	return errors.Join(errs...)
}

func (s *Service) frozen() (*router.Tree[*Handler], transportpkg.Conn) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tree, s.conn
}

// subscribe listens on the request subjects of every capability some
// handler has.
func (s *Service) subscribe() error {
	tree, conn := s.frozen()
	name := tree.Path()
	_, rootFound := tree.Resolve(name)

	for _, c := range []struct {
		cap    Capability
		prefix string
		root   bool
	}{
		{CapAccess, subjectAccess, true},
		{CapGet, subjectGet, true},
		{CapCall, subjectCall, false},
		{CapAuth, subjectAuth, false},
	} {
		if !tree.Contains(func(h *Handler) bool { return h.Capabilities().Has(c.cap) }) {
			continue
		}
		subjects := []string{c.prefix + "." + name + ".>"}
		if c.root && rootFound {
			subjects = append(subjects, c.prefix+"."+name)
		}
		for _, subject := range subjects {
			sub, err := conn.Subscribe(subject, s.handleRequest)
			if err != nil {
				return fmt.Errorf("subscribe %s: %w", subject, err)
			}
			s.mu.Lock()
			s.subs = append(s.subs, sub)
			s.mu.Unlock()
			s.Logger.Debug("Subscribed", loggingpkg.LogFields{loggingpkg.FieldSubject: subject})
		}
	}
	return nil
}

// resetAll sends system.reset for the configured or derived patterns.
func (s *Service) resetAll() {
	tree, _ := s.frozen()
	resources := s.Conf.ResetResources
	if resources == nil && tree.Contains(func(h *Handler) bool { return h.Get != nil }) {
		resources = []string{tree.Path() + ".>"}
	}
	access := s.Conf.ResetAccess
	if access == nil && tree.Contains(func(h *Handler) bool { return h.Access != nil }) {
		access = []string{tree.Path() + ".>"}
	}
	if err := s.Reset(resources, access); err != nil {
		s.Logger.Error("Failed to send system reset", err, nil)
	}
}

// handleRequest decodes an inbound request and queues it on its group.
func (s *Service) handleRequest(msg *transportpkg.Msg) {
	kind, rid, method, ok := parseRequestSubject(msg.Subject)
	if !ok {
		s.Logger.Error("Invalid request subject", errspkg.ErrInvalidPattern, loggingpkg.LogFields{loggingpkg.FieldSubject: msg.Subject})
		return
	}
	tree, _ := s.frozen()

	req := &request{
		resource:      &resource{s: s, rid: rid, ctx: context.Background()},
		kind:          kind,
		method:        method,
		replyTo:       msg.Reply,
		correlationID: idspkg.New(),
	}
	if len(msg.Data) > 0 {
		if err := jsoncodec.Unmarshal(msg.Data, &req.dto); err != nil {
			s.reject(req, errspkg.InternalError(fmt.Errorf("decode request: %w", err)))
			return
		}
	}
	req.query = req.dto.Query

	m, found := tree.Resolve(rid)
	if !found {
		s.reject(req, errspkg.ErrNotFound)
		return
	}
	h := m.Handler
	req.h = h
	req.pathParams = m.Params
	req.group = m.Group
	req.pattern = m.Pattern

	var call func()
	switch kind {
	case kindAccess:
		if h.Access == nil {
			// Access is left to another service.
			return
		}
		call = func() {
			h.Access(&AccessRequest{resource: req.resource, replier: replier{req}, tokenReader: tokenReader{req}})
		}
	case kindGet:
		if h.Get == nil {
			s.reject(req, errspkg.ErrNotFound)
			return
		}
		call = func() {
			h.Get(&GetRequest{resource: req.resource, replier: replier{req}})
		}
	case kindCall:
		f := h.callHandler(method)
		if f == nil {
			s.reject(req, errspkg.ErrMethodNotFound)
			return
		}
		call = func() {
			f(&CallRequest{resource: req.resource, replier: replier{req}, tokenReader: tokenReader{req}, methodReplier: methodReplier{req}})
		}
	case kindAuth:
		f := h.authHandler(method)
		if f == nil {
			s.reject(req, errspkg.ErrMethodNotFound)
			return
		}
		call = func() {
			f(&AuthRequest{resource: req.resource, replier: replier{req}, tokenReader: tokenReader{req}, methodReplier: methodReplier{req}})
		}
	case kindQuery:
		s.Logger.Error("Query request on a request subject", errspkg.ErrInvalidPattern, req.fields())
		return
	}
	s.submit(req, call)
}

// reject replies to a request that never reached a handler.
func (s *Service) reject(req *request, e *errspkg.Error) {
	req.replyError(e)
	s.metrics.RecordRequest(req.kind.String(), outcomeError, 0)
}

func (s *Service) submit(req *request, call func()) {
	if err := s.sched.Submit(req.group, func() { s.execute(req, call) }); err != nil {
		s.Logger.Error("Failed to queue request", err, req.fields())
		s.reject(req, errspkg.InternalError(err))
	}
}

// execute runs a handler in the current group task and settles the reply.
func (s *Service) execute(req *request, call func()) {
	ctx, span := s.tracer.Start(req.ctx, "resflow."+req.kind.String(),
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("resflow.rid", req.rid),
			attribute.String("resflow.group", req.group),
			attribute.String("resflow.correlation_id", req.correlationID),
		),
	)
	if req.method != "" {
		span.SetAttributes(attribute.String("resflow.method", req.method))
	}
	req.ctx = withOwner(ctx, req.group, req.rid, req.kind == kindGet)
	req.span = span
	req.startedAt = time.Now()

	// Settled even when the start hook panics.
	defer func() {
		if v := recover(); v != nil {
			req.recovered(v)
		} else {
			req.finish()
		}
		s.complete(req)
		span.End()
	}()
	if req.sink == nil && s.hooks.OnRequestStart != nil {
		s.hooks.OnRequestStart(req.hookContext())
	}
	call()
}

func (s *Service) complete(req *request) {
	d := time.Since(req.startedAt)
	req.mu.Lock()
	outcome, rerr := req.outcome, req.replyErr
	req.mu.Unlock()

	if rerr != nil {
		req.span.RecordError(rerr)
		req.span.SetStatus(codes.Error, rerr.Code)
	}
	if req.sink != nil {
		return
	}
	s.metrics.RecordRequest(req.kind.String(), outcome, d)

	hc := req.hookContext()
	hc.Duration = d
	if rerr == nil {
		if s.hooks.OnRequestDone != nil {
			s.hooks.OnRequestDone(hc)
		}
		return
	}
	if s.hooks.OnRequestError != nil {
		s.hooks.OnRequestError(hc, rerr)
	}
}

func (r *request) hookContext() RequestContext {
	return RequestContext{
		Kind:          r.kind.String(),
		ResourceName:  r.rid,
		Method:        r.method,
		Pattern:       r.pattern,
		Group:         r.group,
		CorrelationID: r.correlationID,
		Context:       r.ctx,
		StartedAt:     r.startedAt,
	}
}

// publish sends data on subject. It fails when the service is not serving.
func (s *Service) publish(subject string, data []byte) error {
	_, conn := s.frozen()
	if conn == nil {
		return errspkg.ErrNotServing
	}
	return conn.Publish(subject, data)
}

// publishEvent encodes payload and publishes it as event on rid. label is
// the metric label of the event.
func (s *Service) publishEvent(rid, event, label string, payload any) error {
	var data []byte
	if payload != nil {
		var err error
		if data, err = jsoncodec.Marshal(payload); err != nil {
			return fmt.Errorf("encode %s event: %w", event, err)
		}
	}
	if err := s.publish(eventSubject(rid, event), data); err != nil {
		return fmt.Errorf("publish %s event: %w", event, err)
	}
	s.metrics.RecordEvent(label)
	return nil
}

func (s *Service) tokenEvent(cid, tid string, token any) error {
	data, err := jsoncodec.Marshal(tokenEventDTO{Token: token, TID: tid})
	if err != nil {
		return fmt.Errorf("encode token event: %w", err)
	}
	if err := s.publish(subjectConn+"."+cid+"."+eventToken, data); err != nil {
		return fmt.Errorf("publish token event: %w", err)
	}
	s.metrics.RecordEvent(eventToken)
	return nil
}

// Reset sends a system.reset event telling the gateway to refetch the
// resources and redo the access checks matching the given patterns. Nothing
// is sent when both lists are empty.
func (s *Service) Reset(resources, access []string) error {
	if len(resources) == 0 && len(access) == 0 {
		return nil
	}
	data, err := jsoncodec.Marshal(resetEventDTO{Resources: resources, Access: access})
	if err != nil {
		return fmt.Errorf("encode system reset: %w", err)
	}
	if err := s.publish(subjectSystemReset, data); err != nil {
		return fmt.Errorf("publish system reset: %w", err)
	}
	s.Logger.Debug("Sent system reset", loggingpkg.LogFields{"resources": resources, "access": access})
	return nil
}

// TokenReset sends a system.tokenReset event asking the gateway to reissue
// auth requests to subject for the connections holding one of the token ids.
// Nothing is sent without token ids.
func (s *Service) TokenReset(subject string, tids ...string) error {
	if len(tids) == 0 {
		return nil
	}
	data, err := jsoncodec.Marshal(tokenResetEventDTO{TIDs: tids, Subject: subject})
	if err != nil {
		return fmt.Errorf("encode token reset: %w", err)
	}
	if err := s.publish(subjectSystemTokenReset, data); err != nil {
		return fmt.Errorf("publish token reset: %w", err)
	}
	return nil
}

// With runs cb with the resource rid inside its group. It returns once cb is
// queued.
func (s *Service) With(rid string, cb func(r Resource)) error {
	tree, _ := s.frozen()
	if tree == nil {
		return errspkg.ErrNotServing
	}
	m, ok := tree.Resolve(rid)
	if !ok {
		return fmt.Errorf("%w: %s", errspkg.ErrNotFound, rid)
	}
	return s.sched.Submit(m.Group, func() {
		r := &resource{
			s:          s,
			h:          m.Handler,
			rid:        rid,
			pathParams: m.Params,
			group:      m.Group,
			pattern:    m.Pattern,
		}
		r.ctx = withOwner(context.Background(), m.Group, rid, false)
		cb(r)
	})
}

// WithGroup runs cb inside group. It returns once cb is queued.
func (s *Service) WithGroup(group string, cb func(s *Service)) error {
	return s.sched.Submit(group, func() { cb(s) })
}

// Value returns what the get handler of rid replies with.
func (s *Service) Value(rid string) (any, error) {
	return s.ValueContext(context.Background(), rid)
}

// ValueContext is Value called from the task ctx belongs to. When that task
// holds the group of rid, the get handler runs inline; otherwise it is
// queued on its group and ValueContext blocks until it replied or ctx is
// done.
func (s *Service) ValueContext(ctx context.Context, rid string) (any, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	tree, _ := s.frozen()
	if tree == nil {
		return nil, errspkg.ErrNotServing
	}
	o := ownerFrom(ctx)
	if o.resolving(rid) {
		return nil, fmt.Errorf("%w: %s", errspkg.ErrValueInGetHandler, rid)
	}
	m, ok := tree.Resolve(rid)
	if !ok || m.Handler.Get == nil {
		return nil, errspkg.ErrNotFound
	}

	result := make(chan valueResult, 1)
	req := &request{
		resource: &resource{
			s:          s,
			h:          m.Handler,
			rid:        rid,
			pathParams: m.Params,
			group:      m.Group,
			pattern:    m.Pattern,
			ctx:        ctx,
		},
		kind:          kindGet,
		correlationID: idspkg.New(),
		sink: func(v any, err error) {
			result <- valueResult{value: v, err: err}
		},
	}
	call := func() {
		m.Handler.Get(&GetRequest{resource: req.resource, replier: replier{req}})
	}

	if o.holds(m.Group) {
		s.execute(req, call)
		res := <-result
		return res.value, res.err
	}
	if err := s.sched.Submit(m.Group, func() { s.execute(req, call) }); err != nil {
		return nil, err
	}
	select {
	case res := <-result:
		return res.value, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// RegisterHTTPHandler adds handler to the HTTP server on port. Servers are
// started by Serve and stopped by Shutdown.
func (s *Service) RegisterHTTPHandler(port int, pattern string, handler http.Handler) {
	s.httpMu.Lock()
	defer s.httpMu.Unlock()

	if s.httpServers == nil {
		s.httpServers = make(map[int]*http.ServeMux)
	}

	mux, ok := s.httpServers[port]
	if !ok {
		mux = http.NewServeMux()
		s.httpServers[port] = mux
	}

	mux.Handle(pattern, handler)
}

func (s *Service) startHTTPServers() {
	s.httpMu.Lock()
	defer s.httpMu.Unlock()

	for port, mux := range s.httpServers {
		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		s.servers = append(s.servers, srv)
		s.Logger.Info("Starting HTTP server", loggingpkg.LogFields{"address": srv.Addr})
		go func(srv *http.Server) {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.Logger.Error("Failed to start HTTP server", err, loggingpkg.LogFields{"address": srv.Addr})
			}
		}(srv)
	}
}

func (s *Service) stopHTTPServers() {
	s.httpMu.Lock()
	servers := s.servers
	s.servers = nil
	s.httpMu.Unlock()

	if len(servers) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.Conf.ShutdownTimeout)
	defer cancel()
	for _, srv := range servers {
		if err := srv.Shutdown(ctx); err != nil {
			s.Logger.Error("Failed to stop HTTP server", err, loggingpkg.LogFields{"address": srv.Addr})
		}
	}
}
