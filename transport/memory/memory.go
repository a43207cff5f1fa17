// Package memory provides an in-process transport. Messages never leave the
// process, which makes it the transport of choice for tests and local runs.
package memory

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"

	idspkg "github.com/drblury/resflow/internal/runtime/ids"
	"github.com/drblury/resflow/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "memory"

// ErrInvalidSubject is returned for subjects with empty tokens or misplaced
// wildcards.
var ErrInvalidSubject = errors.New("memory: invalid subject")

// ErrNoReply is returned by Request when no reply arrived in time.
var ErrNoReply = errors.New("memory: no reply")

// Register registers the memory transport with the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.MemoryCapabilities)
}

// Build returns a new, unconnected in-process Conn. Every call yields a
// separate bus.
func Build(_ context.Context, _ transport.Config, logger watermill.LoggerAdapter) (transport.Conn, error) {
	return New(WithLogger(logger)), nil
}

// Option configures a Conn.
type Option func(*Conn)

// WithLogger sets the logger used to report handler panics.
func WithLogger(logger watermill.LoggerAdapter) Option {
	return func(c *Conn) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithTap registers fn to be called synchronously with every published
// message, before it is delivered.
func WithTap(fn func(*transport.Msg)) Option {
	return func(c *Conn) {
		c.tap = fn
	}
}

// Conn is an in-process message bus implementing transport.Conn. Each
// subscription is served by its own goroutine so handlers may publish
// without deadlocking, and messages reach a subscription in publish order.
type Conn struct {
	logger watermill.LoggerAdapter
	tap    func(*transport.Msg)

	mu     sync.RWMutex
	subs   map[*subscription]struct{}
	closed bool
}

// New creates an empty bus.
func New(opts ...Option) *Conn {
	c := &Conn{
		logger: watermill.NopLogger{},
		subs:   make(map[*subscription]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Publish sends data to every subscription matching subject.
func (c *Conn) Publish(subject string, data []byte) error {
	return c.PublishRequest(subject, "", data)
}

// PublishRequest sends data with a reply inbox, the way a gateway sends
// requests.
func (c *Conn) PublishRequest(subject, reply string, data []byte) error {
	if err := checkSubject(subject, false); err != nil {
		return err
	}
	msg := &transport.Msg{Subject: subject, Reply: reply, Data: append([]byte(nil), data...)}

	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return transport.ErrClosed
	}
	var targets []*subscription
	for s := range c.subs {
		if matchSubject(s.tokens, subject) {
			targets = append(targets, s)
		}
	}
	c.mu.RUnlock()

	if c.tap != nil {
		c.tap(msg)
	}
	for _, s := range targets {
		s.enqueue(msg)
	}
	return nil
}

// Request publishes data with a fresh inbox and waits for the first reply.
func (c *Conn) Request(subject string, data []byte, timeout time.Duration) (*transport.Msg, error) {
	inbox := c.NewInbox()
	ch := make(chan *transport.Msg, 1)
	sub, err := c.Subscribe(inbox, func(m *transport.Msg) {
		select {
		case ch <- m:
		default:
		}
	})
	if err != nil {
		return nil, err
	}
	defer func() { _ = sub.Unsubscribe() }()

	if err := c.PublishRequest(subject, inbox, data); err != nil {
		return nil, err
	}
	select {
	case m := <-ch:
		return m, nil
	case <-time.After(timeout):
		return nil, ErrNoReply
	}
}

// Subscribe registers handler for subject, which may contain wildcards.
func (c *Conn) Subscribe(subject string, handler transport.MsgHandler) (transport.Subscription, error) {
	if err := checkSubject(subject, true); err != nil {
		return nil, err
	}
	if handler == nil {
		return nil, errors.New("memory: handler is required")
	}
	s := &subscription{
		conn:    c,
		subject: subject,
		tokens:  strings.Split(subject, "."),
		handler: handler,
		signal:  make(chan struct{}, 1),
		done:    make(chan struct{}),
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, transport.ErrClosed
	}
	c.subs[s] = struct{}{}
	c.mu.Unlock()

	go s.run()
	return s, nil
}

// NewInbox returns a unique reply subject.
func (c *Conn) NewInbox() string {
	return idspkg.Inbox()
}

// Close stops every subscription. Pending messages are dropped.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	subs := c.subs
	c.subs = make(map[*subscription]struct{})
	c.mu.Unlock()

	for s := range subs {
		s.stop()
	}
	return nil
}

// SubscriptionCount returns the number of active subscriptions.
func (c *Conn) SubscriptionCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.subs)
}

// Subjects returns the subjects of the active subscriptions.
func (c *Conn) Subjects() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	subjects := make([]string, 0, len(c.subs))
	for s := range c.subs {
		subjects = append(subjects, s.subject)
	}
	return subjects
}

// Capabilities implements transport.CapabilitiesProvider.
func (c *Conn) Capabilities() transport.Capabilities {
	return transport.MemoryCapabilities
}

type subscription struct {
	conn    *Conn
	subject string
	tokens  []string
	handler transport.MsgHandler

	mu      sync.Mutex
	pending []*transport.Msg
	stopped bool
	signal  chan struct{}
	done    chan struct{}
	once    sync.Once
}

func (s *subscription) enqueue(m *transport.Msg) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.pending = append(s.pending, m)
	s.mu.Unlock()

	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func (s *subscription) run() {
	for {
		select {
		case <-s.done:
			return
		case <-s.signal:
		}
		for {
			s.mu.Lock()
			if s.stopped || len(s.pending) == 0 {
				s.mu.Unlock()
				break
			}
			m := s.pending[0]
			s.pending[0] = nil
			s.pending = s.pending[1:]
			s.mu.Unlock()

			s.deliver(m)
		}
	}
}

func (s *subscription) deliver(m *transport.Msg) {
	defer func() {
		if r := recover(); r != nil {
			s.conn.logger.Error("Subscription handler panicked", errors.New("panic in handler"), watermill.LogFields{
				"subject": m.Subject,
				"panic":   r,
			})
		}
	}()
	s.handler(m)
}

func (s *subscription) stop() {
	s.once.Do(func() {
		s.mu.Lock()
		s.stopped = true
		s.pending = nil
		s.mu.Unlock()
		close(s.done)
	})
}

func (s *subscription) Unsubscribe() error {
	s.conn.mu.Lock()
	delete(s.conn.subs, s)
	s.conn.mu.Unlock()
	s.stop()
	return nil
}

func checkSubject(subject string, allowWildcards bool) error {
	if subject == "" {
		return ErrInvalidSubject
	}
	tokens := strings.Split(subject, ".")
	for i, tok := range tokens {
		switch {
		case tok == "":
			return ErrInvalidSubject
		case tok == ">" && (!allowWildcards || i != len(tokens)-1):
			return ErrInvalidSubject
		case tok == "*" && !allowWildcards:
			return ErrInvalidSubject
		}
	}
	return nil
}

// matchSubject reports whether subject matches the tokenized pattern using
// NATS wildcard rules.
func matchSubject(pattern []string, subject string) bool {
	rest := subject
	for i, p := range pattern {
		if rest == "" {
			return false
		}
		if p == ">" {
			return true
		}
		var tok string
		if idx := strings.IndexByte(rest, '.'); idx >= 0 {
			tok, rest = rest[:idx], rest[idx+1:]
		} else {
			tok, rest = rest, ""
		}
		if p != "*" && p != tok {
			return false
		}
		if i == len(pattern)-1 {
			return rest == ""
		}
	}
	return false
}
