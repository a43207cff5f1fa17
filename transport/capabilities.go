package transport

// Capabilities describes the features supported by a transport backend.
type Capabilities struct {
	// Name is the human-readable name of the transport.
	Name string

	// InProcess indicates messages never leave the process. Such transports
	// cannot talk to a gateway and are meant for tests and local runs.
	InProcess bool

	// SupportsReconnect indicates the connection transparently recovers from
	// network failures and restores its subscriptions.
	SupportsReconnect bool

	// SupportsTracing indicates the transport propagates tracing headers natively.
	SupportsTracing bool

	// MaxMessageSize is the maximum message size in bytes (0 = unlimited/unknown).
	MaxMessageSize int64
}

// Predefined capability sets for the bundled transports.
var (
	// NATSCapabilities for NATS Core.
	NATSCapabilities = Capabilities{
		Name:              "nats",
		SupportsReconnect: true,
		SupportsTracing:   true,
		MaxMessageSize:    1024 * 1024,
	}

	// MemoryCapabilities for the in-process connection.
	MemoryCapabilities = Capabilities{
		Name:      "memory",
		InProcess: true,
	}
)
