// Package nats provides the NATS Core transport for resflow.
package nats

import (
	"context"
	"errors"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/nats-io/nats.go"

	"github.com/drblury/resflow/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "nats"

// Client is the subset of *nats.Conn used by the transport.
type Client interface {
	Publish(subject string, data []byte) error
	Subscribe(subject string, cb nats.MsgHandler) (*nats.Subscription, error)
	NewInbox() string
	Drain() error
	Close()
}

// ConnectFactory allows overriding the connection creation for testing.
var ConnectFactory = func(url string, opts ...nats.Option) (Client, error) {
	return nats.Connect(url, opts...)
}

// Register registers the NATS transport with the default registry.
// This should be called from an init() function in an importing package,
// or explicitly before using the transport.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.NATSCapabilities)
}

// Build connects to the NATS server in cfg.GetNATSURL. The connection
// reconnects forever and logs state changes to logger.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	url := cfg.GetNATSURL()
	if url == "" {
		url = nats.DefaultURL
	}
	fields := watermill.LogFields{"nats_url": url}

	opts := []nats.Option{
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Error("NATS disconnected", err, fields)
			}
		}),
		nats.ReconnectHandler(func(*nats.Conn) {
			logger.Info("NATS reconnected", fields)
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			f := watermill.LogFields{"nats_url": url}
			if sub != nil {
				f["subject"] = sub.Subject
			}
			logger.Error("NATS async error", err, f)
		}),
	}
	if name := cfg.GetNATSClientName(); name != "" {
		opts = append(opts, nats.Name(name))
	}

	client, err := ConnectFactory(url, opts...)
	if err != nil {
		return nil, err
	}
	logger.Debug("Connected to NATS", fields)
	return NewConn(client), nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.NATSCapabilities
}

// Conn adapts a NATS client to transport.Conn.
type Conn struct {
	client Client
}

// NewConn wraps an established NATS client.
func NewConn(client Client) *Conn {
	return &Conn{client: client}
}

func (c *Conn) Publish(subject string, data []byte) error {
	return c.client.Publish(subject, data)
}

func (c *Conn) Subscribe(subject string, handler transport.MsgHandler) (transport.Subscription, error) {
	sub, err := c.client.Subscribe(subject, func(m *nats.Msg) {
		handler(&transport.Msg{Subject: m.Subject, Reply: m.Reply, Data: m.Data})
	})
	if err != nil {
		return nil, err
	}
	return sub, nil
}

func (c *Conn) NewInbox() string {
	return c.client.NewInbox()
}

// Close drains pending messages before closing the connection.
func (c *Conn) Close() error {
	err := c.client.Drain()
	if errors.Is(err, nats.ErrConnectionClosed) {
		return nil
	}
	if err != nil {
		c.client.Close()
	}
	return err
}

// Capabilities implements transport.CapabilitiesProvider.
func (c *Conn) Capabilities() transport.Capabilities {
	return transport.NATSCapabilities
}
