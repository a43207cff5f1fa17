// Package resflow builds resource-providing microservices that speak the RES
// service protocol. A service registers handlers for resource name patterns,
// answers the access, get, call and auth requests a realtime gateway sends
// over NATS, and publishes the events that keep the gateway's cached
// resources in sync with the service's own state.
//
// A minimal setup fills Config, creates a Service, registers handlers with
// Handle and calls ListenAndServe:
//
//	svc, err := resflow.NewService(&resflow.Config{
//		Name:    "library",
//		NATSURL: "nats://localhost:4222",
//	}, logger, resflow.ServiceDependencies{})
//	...
//	svc.Handle("book.$id",
//		resflow.Access(resflow.AccessGranted),
//		resflow.GetModel(func(r *resflow.GetRequest) {
//			r.Model(books[r.PathParam("id")])
//		}),
//	)
//	err = svc.ListenAndServe(ctx)
//
// # Patterns
//
// Patterns are dot separated tokens below the service name. A token is a
// literal, a named placeholder ($id), an anonymous placeholder (*) or, as last
// token, a full wildcard (>). When several patterns match a resource name the
// literal wins over the placeholder and the placeholder over the wildcard.
// Routers created with NewRouter can be mounted on a Service to split
// registrations across packages.
//
// # Groups
//
// Requests and callbacks for resources of the same group never run
// concurrently, and run in the order they arrived. By default every resource
// name is its own group; the Group option shares one group between
// resources, for example "${shelf}" to serialize all books on a shelf.
// Service.With and Service.WithGroup run code inside a group.
//
// # Replies
//
// Every request gets exactly one reply. Replying twice is logged and the
// second reply is dropped; a handler that panics with an *Error replies with
// that error; a handler that returns without replying, or panics with
// anything else, replies with system.internalError.
//
// # Events
//
// Resource.ChangeEvent, AddEvent, RemoveEvent, CreateEvent and DeleteEvent
// run the matching Apply hook of the handler before the event is published.
// QueryEvent lets the gateway ask which events apply to each of its cached
// queries.
//
// # Transports
//
// resflow ships two transports, selected by Config.Transport:
//   - nats: NATS Core through nats.go, reconnecting forever
//   - memory: an in-process bus for tests and local runs
//
// # Observability
//
// Logging goes through ServiceLogger, backed by Watermill's slog adapter or
// any entry style logger. Each request runs in an OpenTelemetry span and may
// be observed with RequestHooks. Prometheus metrics and a JSON status API are
// served on their own ports when enabled in Config.
package resflow
