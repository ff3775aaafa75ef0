package client

import (
	"context"
	"time"

	"github.com/danmuck/lightviz/internal/protocols"
	"github.com/danmuck/lightviz/internal/transport"
)

// Connection is an established session owned by a Client.
type Connection interface {
	protocols.Session
	// Destroy starts teardown and returns without waiting for it.
	Destroy(timeout time.Duration)
	Done() <-chan struct{}
}

// Connector establishes sessions. It yields a ready Connection, or an error
// wrapping transport.ErrConnection or transport.ErrClosedBeforeReady.
type Connector interface {
	Connect(ctx context.Context, cfg transport.Config) (Connection, error)
}

// ConnectorFunc adapts a function to Connector.
type ConnectorFunc func(ctx context.Context, cfg transport.Config) (Connection, error)

func (f ConnectorFunc) Connect(ctx context.Context, cfg transport.Config) (Connection, error) {
	return f(ctx, cfg)
}

// DialConnector connects through a transport.Dialer.
type DialConnector struct {
	Dialer *transport.Dialer
}

func (d DialConnector) Connect(ctx context.Context, cfg transport.Config) (Connection, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = &transport.Dialer{}
	}
	conn, err := dialer.Connect(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return conn, nil
}
