// Package transports registers all built-in transports with the default registry.
// Import this package to make every transport available to ListenAndServe.
package transports

import (
	"github.com/drblury/resflow/transport/memory"
	"github.com/drblury/resflow/transport/nats"
)

func init() {
	nats.Register()
	memory.Register()
}
