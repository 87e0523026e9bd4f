// Package client talks to a running sibyld over its Unix socket.
//
// Every call opens a fresh connection and exchanges exactly one request
// and one response.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/s-viour/sibyl/internal/command"
	"github.com/s-viour/sibyl/internal/process"
	"github.com/s-viour/sibyl/internal/wire"
)

// DefaultSocketPath is where sibyld listens unless configured otherwise.
const DefaultSocketPath = "/tmp/sibyl.sock"

// ErrDaemonUnreachable is returned when no daemon accepts the connection.
var ErrDaemonUnreachable = errors.New("failed to establish link to sibyld")

// Client sends commands to sibyld.
type Client struct {
	socketPath string
	timeout    time.Duration
	logger     *slog.Logger
}

// Config holds client configuration
type Config struct {
	SocketPath string
	// Timeout bounds a whole exchange. Zero means only ctx applies.
	Timeout time.Duration
	Logger  *slog.Logger
}

// DefaultConfig returns default client configuration
func DefaultConfig() Config {
	return Config{SocketPath: DefaultSocketPath}
}

// New creates a client for the daemon at config.SocketPath.
func New(config Config) *Client {
	if config.SocketPath == "" {
		config.SocketPath = DefaultSocketPath
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Client{
		socketPath: config.SocketPath,
		timeout:    config.Timeout,
		logger:     config.Logger,
	}
}

// SocketPath returns the daemon address this client dials.
func (c *Client) SocketPath() string { return c.socketPath }

// Do sends cmd stamped with the current time and waits for the response.
func (c *Client) Do(ctx context.Context, cmd command.Command) (command.Response, error) {
	return c.Send(ctx, command.NewRequest(cmd))
}

// Send delivers a prepared request.
func (c *Client) Send(ctx context.Context, req *command.Request) (command.Response, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		c.logger.Debug("dial failed", "socket", c.socketPath, "error", err)
		return command.Response{}, fmt.Errorf("%w: %w", ErrDaemonUnreachable, err)
	}
	defer func() { _ = conn.Close() }()

	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(dl)
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	if err := wire.WriteMessage(conn, req); err != nil {
		return command.Response{}, fmt.Errorf("send %s request: %w", req.Command.Kind(), err)
	}
	var resp command.Response
	if err := wire.ReadMessage(conn, &resp); err != nil {
		return command.Response{}, fmt.Errorf("read %s response: %w", req.Command.Kind(), err)
	}
	return resp, nil
}

// Once runs program with args under the daemon.
func (c *Client) Once(ctx context.Context, program string, args ...string) (command.Response, error) {
	return c.Do(ctx, command.Once{Program: program, Args: args})
}

// Latest fetches the newest log file's contents.
func (c *Client) Latest(ctx context.Context) (command.Response, error) {
	return c.Do(ctx, command.Latest{})
}

// Ping measures request transit time.
func (c *Client) Ping(ctx context.Context) (command.Response, error) {
	return c.Do(ctx, command.Ping{})
}

// Status reports the process with the given sibyl id.
func (c *Client) Status(ctx context.Context, id process.ID) (command.Response, error) {
	return c.Do(ctx, command.Status{ID: id})
}

// List reports every tracked process.
func (c *Client) List(ctx context.Context) (command.Response, error) {
	return c.Do(ctx, command.List{})
}

// IsReachable reports whether a daemon answers a ping.
func (c *Client) IsReachable(ctx context.Context) bool {
	_, err := c.Ping(ctx)
	return err == nil
}
