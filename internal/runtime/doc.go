/*
Package runtime provides the request processing core of resflow.

# Architecture Overview

The runtime package turns RES protocol requests received on a transport
connection into handler invocations. Resource names are resolved with a
pattern trie, handlers run on per-group queues, and every request is settled
with exactly one reply.

# Package Structure

The runtime package is organized into the following components:

## Core Service (service.go)

The Service struct is the central orchestrator that wires together:
  - The frozen pattern tree of the registered handlers
  - Request subscriptions on the transport connection
  - The group scheduler and the query event expiry queue
  - HTTP servers for metrics and the status API
  - Value resolution across groups

## Handlers (handler.go, routes.go)

Handler holds the request handlers and apply hooks of one pattern, built
with HandlerOption values. Router wraps the pattern builder so handlers can
be registered on sub-routers and mounted.

## Requests (request.go, queryevent.go)

One internal request type carries the reply state of every kind. Handlers
receive a view exposing only what their kind may do:
  - AccessRequest: grant or deny access
  - GetRequest: reply with a model or collection
  - CallRequest and AuthRequest: reply with a result, a resource or an error
  - QueryRequest: report the events that apply to a cached query

## Resources (resource.go, protocol.go)

Resource sends events and resolves values. protocol.go holds the wire
payloads and the subject layout.

## Observability (hooks.go, metrics.go, status.go, process.go)

Request hooks, Prometheus collectors, and the JSON status API.

# Sub-packages

  - config/: Service configuration with validation
  - errors/: Sentinel errors, configuration errors and protocol errors
  - ids/: ULID generation for correlation ids and inboxes
  - jsoncodec/: JSON marshaling utilities
  - logging/: Logger interface and adapters
  - router/: Pattern trie with placeholders, wildcards and mounting
  - timerqueue/: Expiry queue backed by a single timer
  - work/: Per-group FIFO task scheduler

# Usage Example

	cfg := &resflow.Config{
		Name:           "library",
		NATSURL:        "nats://localhost:4222",
		MetricsEnabled: true,
	}

	svc, err := resflow.NewService(cfg, logger, resflow.ServiceDependencies{})
	if err != nil {
		return err
	}

	svc.Handle("book.$id",
		resflow.Access(resflow.AccessGranted),
		resflow.GetModel(getBook),
		resflow.Call("set", setBook),
	)

	svc.ListenAndServe(ctx)
*/
package runtime
