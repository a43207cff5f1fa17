// Package transport defines the connection contract resflow needs from a
// messaging system: subject based publish and subscribe with reply inboxes.
// Each implementation lives in its own sub-package and registers itself with
// the transport registry.
package transport

import (
	"context"
	"errors"

	"github.com/ThreeDotsLabs/watermill"
)

// ErrClosed is returned by operations on a closed connection.
var ErrClosed = errors.New("transport: connection closed")

// Msg is a message received on a subscription.
type Msg struct {
	Subject string
	// Reply is the inbox the receiver responds to. Empty for events.
	Reply string
	Data  []byte
}

// MsgHandler is called for every message delivered to a subscription. It may
// be called concurrently for different subscriptions but never concurrently
// for the same one.
type MsgHandler func(msg *Msg)

// Subscription is an active interest in a subject.
type Subscription interface {
	Unsubscribe() error
}

// Conn is a connection to the messaging system. Subjects are dot separated
// tokens; subscriptions accept the `*` (one token) and `>` (one or more
// trailing tokens) wildcards.
type Conn interface {
	Publish(subject string, data []byte) error
	Subscribe(subject string, handler MsgHandler) (Subscription, error)
	// NewInbox returns a unique subject suitable for receiving replies.
	NewInbox() string
	Close() error
}

// Builder is the function signature for creating a connection from config.
// Each transport package should provide a Builder function that can be registered.
type Builder func(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Conn, error)

// Config provides the configuration values needed by transports.
// This interface allows transports to access only the config they need
// without depending on the full config package.
type Config interface {
	// GetTransport returns the transport type name.
	GetTransport() string

	// NATS
	GetNATSURL() string
	GetNATSClientName() string
}

// CapabilitiesProvider is implemented by connections that can report their capabilities.
type CapabilitiesProvider interface {
	Capabilities() Capabilities
}
