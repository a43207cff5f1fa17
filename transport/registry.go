package transport

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
)

var (
	// ErrUnknownTransport is returned by Build when the configured transport
	// name has no registered builder.
	ErrUnknownTransport = errors.New("unknown transport")

	// ErrConfigRequired is returned by Build when it is called without config.
	ErrConfigRequired = errors.New("transport config is required")
)

type registration struct {
	build Builder
	caps  *Capabilities
}

// Registry maps the Transport config value of a service to the function that
// dials the connection. The nats and memory packages add themselves to
// DefaultRegistry from init, so importing them is enough to make the name
// resolvable.
type Registry struct {
	mu    sync.RWMutex
	byKey map[string]registration
}

// DefaultRegistry is consulted by services that are not handed a connection.
var DefaultRegistry = NewRegistry()

func NewRegistry() *Registry {
	return &Registry{byKey: make(map[string]registration)}
}

// Register binds name to builder. Capabilities recorded by an earlier
// RegisterWithCapabilities for the same name are kept.
func (r *Registry) Register(name string, builder Builder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	reg := r.byKey[name]
	reg.build = builder
	r.byKey[name] = reg
}

// RegisterWithCapabilities binds name to builder and records what the
// resulting connections support.
func (r *Registry) RegisterWithCapabilities(name string, builder Builder, caps Capabilities) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byKey[name] = registration{build: builder, caps: &caps}
}

// GetCapabilities reports the capabilities registered for name. A transport
// registered without capabilities, or not at all, reports only its name.
func (r *Registry) GetCapabilities(name string) Capabilities {
	r.mu.RLock()
	reg := r.byKey[name]
	r.mu.RUnlock()
	if reg.caps == nil {
		return Capabilities{Name: name}
	}
	return *reg.caps
}

// Build dials a connection with the builder registered under
// cfg.GetTransport(). A nil logger is replaced by a no-op one before the
// builder sees it.
func (r *Registry) Build(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Conn, error) {
	if cfg == nil {
		return nil, ErrConfigRequired
	}
	name := cfg.GetTransport()

	r.mu.RLock()
	reg, ok := r.byKey[name]
	r.mu.RUnlock()
	if !ok || reg.build == nil {
		return nil, fmt.Errorf("%w %q (registered: %s)", ErrUnknownTransport, name, strings.Join(r.Names(), ", "))
	}

	if logger == nil {
		logger = watermill.NopLogger{}
	}
	return reg.build(ctx, cfg, logger)
}

// Names lists the names that have a builder, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.byKey))
	for _, name := range slices.Sorted(maps.Keys(r.byKey)) {
		if r.byKey[name].build != nil {
			names = append(names, name)
		}
	}
	return names
}

// Has reports whether a builder is registered under name.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byKey[name].build != nil
}

func Register(name string, builder Builder) { DefaultRegistry.Register(name, builder) }

func RegisterWithCapabilities(name string, builder Builder, caps Capabilities) {
	DefaultRegistry.RegisterWithCapabilities(name, builder, caps)
}

func GetCapabilities(name string) Capabilities { return DefaultRegistry.GetCapabilities(name) }

// Build dials with DefaultRegistry.
func Build(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Conn, error) {
	return DefaultRegistry.Build(ctx, cfg, logger)
}
