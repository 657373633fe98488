package vpn

import (
	"context"

	"github.com/italolelis/auto_ytdlp/internal/telemetry"
)

// InstrumentedClient wraps Client with telemetry.
type InstrumentedClient struct {
	client     *Client
	telemetry  *telemetry.Telemetry
	clientType string
}

// NewInstrumentedClient creates a new instrumented VPN client.
func NewInstrumentedClient(client *Client, tel *telemetry.Telemetry) *InstrumentedClient {
	return &InstrumentedClient{
		client:     client,
		telemetry:  tel,
		clientType: client.command,
	}
}

// Available reports whether the underlying command can be found.
func (c *InstrumentedClient) Available() error {
	return c.client.Available()
}

// Connect connects with telemetry.
func (c *InstrumentedClient) Connect(ctx context.Context) (bool, error) {
	var ok bool

	err := c.telemetry.InstrumentClientOperation(ctx, c.clientType, "connect", func(ctx context.Context) error {
		var err error

		ok, err = c.client.Connect(ctx)

		return err
	})

	return ok, err
}

// Disconnect disconnects with telemetry.
func (c *InstrumentedClient) Disconnect(ctx context.Context) (bool, error) {
	var ok bool

	err := c.telemetry.InstrumentClientOperation(ctx, c.clientType, "disconnect", func(ctx context.Context) error {
		var err error

		ok, err = c.client.Disconnect(ctx)

		return err
	})

	return ok, err
}

// Status queries the connection state with telemetry.
func (c *InstrumentedClient) Status(ctx context.Context) (Status, error) {
	var status Status

	err := c.telemetry.InstrumentClientOperation(ctx, c.clientType, "status", func(ctx context.Context) error {
		var err error

		status, err = c.client.Status(ctx)

		return err
	})

	return status, err
}

// Switch rotates the server with telemetry.
func (c *InstrumentedClient) Switch(ctx context.Context) error {
	return c.telemetry.InstrumentClientOperation(ctx, c.clientType, "switch", c.client.Switch)
}
