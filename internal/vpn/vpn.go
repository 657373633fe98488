// Package vpn drives an ExpressVPN compatible command line client.
package vpn

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/italolelis/auto_ytdlp/internal/logctx"
)

const (
	DefaultCommand = "expressvpn"
	DefaultPause   = 2 * time.Second

	connectedMarker    = "Connected to"
	disconnectedMarker = "Disconnected"
)

var (
	ErrNotConnected    = errors.New("vpn did not connect")
	ErrNotDisconnected = errors.New("vpn did not disconnect")
)

// Status is the parsed output of the status command.
type Status struct {
	Connected bool
	Location  string
}

// Client runs the VPN command line tool.
type Client struct {
	command string
	pause   time.Duration
}

// NewClient returns a client for command (DefaultCommand when empty). pause is
// the delay between disconnect and connect during Switch.
func NewClient(command string, pause time.Duration) *Client {
	if command == "" {
		command = DefaultCommand
	}

	if pause < 0 {
		pause = 0
	}

	return &Client{command: command, pause: pause}
}

// Available reports whether the command can be found.
func (c *Client) Available() error {
	if _, err := exec.LookPath(c.command); err != nil {
		return fmt.Errorf("%s not found in PATH: %w", c.command, err)
	}

	return nil
}

// Connect connects to the recommended server.
func (c *Client) Connect(ctx context.Context) (bool, error) {
	out, err := c.run(ctx, "connect")
	if err != nil {
		return false, err
	}

	return strings.Contains(out, connectedMarker), nil
}

// Disconnect drops the current connection.
func (c *Client) Disconnect(ctx context.Context) (bool, error) {
	out, err := c.run(ctx, "disconnect")
	if err != nil {
		return false, err
	}

	return strings.Contains(out, disconnectedMarker), nil
}

// Status queries the connection state.
func (c *Client) Status(ctx context.Context) (Status, error) {
	out, err := c.run(ctx, "status")
	if err != nil {
		return Status{}, err
	}

	return parseStatus(out), nil
}

// Switch disconnects, waits for the configured pause and connects again.
// A failed disconnect is logged and the connect is attempted anyway.
func (c *Client) Switch(ctx context.Context) error {
	logger := logctx.LoggerFromContext(ctx)

	ok, err := c.Disconnect(ctx)

	switch {
	case err != nil:
		logger.Warn("vpn disconnect failed", "err", err)
	case !ok:
		logger.Warn("vpn disconnect not confirmed", "err", ErrNotDisconnected)
	}

	if c.pause > 0 {
		timer := time.NewTimer(c.pause)

		select {
		case <-ctx.Done():
			timer.Stop()

			return ctx.Err()
		case <-timer.C:
		}
	}

	ok, err = c.Connect(ctx)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}

	if !ok {
		return ErrNotConnected
	}

	return nil
}

func (c *Client) run(ctx context.Context, arg string) (string, error) {
	cmd := exec.CommandContext(ctx, c.command, arg)

	out, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && len(exitErr.Stderr) > 0 {
			return string(out), fmt.Errorf("%s %s: %w: %s", c.command, arg, err, strings.TrimSpace(string(exitErr.Stderr)))
		}

		return string(out), fmt.Errorf("%s %s: %w", c.command, arg, err)
	}

	return string(out), nil
}

func parseStatus(out string) Status {
	_, rest, found := strings.Cut(out, connectedMarker)
	if !found {
		return Status{Location: "Not connected"}
	}

	location, _, _ := strings.Cut(rest, "\n")

	return Status{Connected: true, Location: strings.TrimSpace(location)}
}
