// Package daemon serves sibyl requests over a Unix socket.
//
// Connections are handled one at a time on the serving goroutine: read
// one request, dispatch it, write one response, close. A bad connection
// is logged and dropped; it never stops the loop.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/s-viour/sibyl/internal/command"
	"github.com/s-viour/sibyl/internal/metrics"
	"github.com/s-viour/sibyl/internal/wire"
)

// Listen removes a stale socket file at path and listens on it.
func Listen(path string) (net.Listener, error) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("remove stale socket %s: %w", path, err)
	}
	l, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", path, err)
	}
	return l, nil
}

// Server dispatches requests against a command.Context.
type Server struct {
	state       *command.Context
	maxFrame    int64
	readTimeout time.Duration
}

// Option configures a Server.
type Option func(*Server)

// WithMaxFrameBytes rejects request frames announcing more than n bytes.
// n <= 0 means no bound.
func WithMaxFrameBytes(n int64) Option {
	return func(s *Server) { s.maxFrame = n }
}

// WithReadTimeout bounds how long a connection may take to deliver its
// request. d <= 0 means wait forever.
func WithReadTimeout(d time.Duration) Option {
	return func(s *Server) { s.readTimeout = d }
}

// New returns a Server executing commands against state.
func New(state *command.Context, opts ...Option) *Server {
	s := &Server{state: state}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Serve accepts connections from l until ctx is cancelled, then closes l
// and returns nil. Any other accept failure that closes the listener is
// returned.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	stop := context.AfterFunc(ctx, func() { _ = l.Close() })
	defer stop()

	slog.Info("sibyld listening", "addr", l.Addr().String())
	var backoff time.Duration
	for {
		conn, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			metrics.IncConnectionError("accept")
			if backoff == 0 {
				backoff = 5 * time.Millisecond
			} else if backoff < time.Second {
				backoff *= 2
			}
			slog.Warn("accept failed", "error", err, "retry_in", backoff)
			time.Sleep(backoff)
			continue
		}
		backoff = 0
		s.handle(conn)
	}
}

func (s *Server) handle(conn net.Conn) {
	defer func() { _ = conn.Close() }()
	log := slog.With("conn", ulid.Make().String())

	if s.readTimeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(s.readTimeout))
	}

	start := time.Now()
	var req command.Request
	if err := wire.ReadMessageLimit(conn, &req, s.maxFrame); err != nil {
		stage := "read"
		if errors.Is(err, wire.ErrDecode) {
			stage = "decode"
		}
		log.Warn("dropping connection", "stage", stage, "error", err)
		metrics.IncConnectionError(stage)
		return
	}

	kind := string(req.Command.Kind())
	metrics.IncRequest(kind)
	resp, err := command.Dispatch(&req, s.state)
	if err != nil {
		log.Info("command failed", "command", kind, "error", err)
		metrics.IncCommandFailure(kind)
	} else {
		log.Debug("command executed", "command", kind)
	}

	if err := wire.WriteMessage(conn, resp); err != nil {
		log.Warn("dropping connection", "stage", "write", "error", err)
		metrics.IncConnectionError("write")
		return
	}
	metrics.ObserveRequestDuration(kind, time.Since(start).Seconds())
}
