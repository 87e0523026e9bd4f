//go:build unix

package daemon

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/s-viour/sibyl/internal/command"
	"github.com/s-viour/sibyl/internal/logstore"
	"github.com/s-viour/sibyl/internal/process"
	"github.com/s-viour/sibyl/internal/wire"
)

// socketDir keeps paths short; t.TempDir can exceed the sun_path limit.
func socketDir(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "sibyl")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	return dir
}

type harness struct {
	path  string
	state *command.Context
	done  chan error
}

func start(t *testing.T, opts ...Option) *harness {
	t.Helper()
	dir := socketDir(t)
	h := &harness{
		path: filepath.Join(dir, "s.sock"),
		state: &command.Context{
			Processes: process.NewTable(process.WithSampler(nil)),
			Logs:      logstore.New(filepath.Join(dir, "logs")),
		},
		done: make(chan error, 1),
	}
	l, err := Listen(h.path)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() { h.done <- New(h.state, opts...).Serve(ctx, l) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-h.done:
		case <-time.After(5 * time.Second):
			t.Error("Serve did not return after cancel")
		}
	})
	return h
}

func (h *harness) roundTrip(t *testing.T, cmd command.Command) command.Response {
	t.Helper()
	conn, err := net.Dial("unix", h.path)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()
	require.NoError(t, wire.WriteMessage(conn, command.NewRequest(cmd)))
	var resp command.Response
	require.NoError(t, wire.ReadMessage(conn, &resp))
	return resp
}

func TestServeRoundTrips(t *testing.T) {
	h := start(t)

	assert.Equal(t, "list of processes:", h.roundTrip(t, command.List{}).Message)
	assert.True(t, strings.HasPrefix(h.roundTrip(t, command.Ping{}).Message, "pong! "))
	assert.Equal(t, "no process found with pid 1", h.roundTrip(t, command.Status{ID: 1}).Message)

	resp := h.roundTrip(t, command.Once{Program: "echo", Args: []string{"hello"}})
	assert.Equal(t, "successfully executed process: echo | sibyl pid: 1", resp.Message)

	deadline := time.Now().Add(5 * time.Second)
	for {
		msg := h.roundTrip(t, command.Status{ID: 1}).Message
		if strings.Contains(msg, "exited (exit code 0)") {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("process never exited: %s", msg)
		}
		time.Sleep(10 * time.Millisecond)
	}
	assert.Equal(t, "hello\n", h.roundTrip(t, command.Latest{}).Message)
}

func TestServeSurvivesBadConnections(t *testing.T) {
	h := start(t)

	// garbage payload: decode error, no response
	conn, err := net.Dial("unix", h.path)
	require.NoError(t, err)
	require.NoError(t, wire.Send(conn, []byte{0xff, 0x00, 0x13}))
	_, err = wire.Receive(conn)
	assert.ErrorIs(t, err, wire.ErrTransport)
	_ = conn.Close()

	// half a header, then hang up
	conn, err = net.Dial("unix", h.path)
	require.NoError(t, err)
	_, _ = conn.Write([]byte{1, 2, 3})
	_ = conn.Close()

	// connect and leave immediately
	conn, err = net.Dial("unix", h.path)
	require.NoError(t, err)
	_ = conn.Close()

	assert.Equal(t, "list of processes:", h.roundTrip(t, command.List{}).Message)
}

func TestServeFrameLimit(t *testing.T) {
	h := start(t, WithMaxFrameBytes(4096))

	conn, err := net.Dial("unix", h.path)
	require.NoError(t, err)
	var hdr [wire.HeaderSize]byte
	hdr[2] = 0x10 // 1 MiB announced
	_, err = conn.Write(hdr[:])
	require.NoError(t, err)
	_, err = wire.Receive(conn)
	assert.ErrorIs(t, err, wire.ErrTransport)
	_ = conn.Close()

	assert.True(t, strings.HasPrefix(h.roundTrip(t, command.Ping{}).Message, "pong! "))
}

func TestServeReadTimeout(t *testing.T) {
	h := start(t, WithReadTimeout(50*time.Millisecond))

	idle, err := net.Dial("unix", h.path)
	require.NoError(t, err)
	defer func() { _ = idle.Close() }()

	// the idle connection is dropped, so the next one is served
	conn, err := net.Dial("unix", h.path)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))
	require.NoError(t, wire.WriteMessage(conn, command.NewRequest(command.List{})))
	var resp command.Response
	require.NoError(t, wire.ReadMessage(conn, &resp))
	assert.Equal(t, "list of processes:", resp.Message)
}

func TestServeReturnsOnCancel(t *testing.T) {
	dir := socketDir(t)
	l, err := Listen(filepath.Join(dir, "c.sock"))
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- New(&command.Context{}).Serve(ctx, l) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return")
	}
}

func TestServeClosedListener(t *testing.T) {
	dir := socketDir(t)
	l, err := Listen(filepath.Join(dir, "d.sock"))
	require.NoError(t, err)
	require.NoError(t, l.Close())
	err = New(&command.Context{}).Serve(context.Background(), l)
	assert.True(t, errors.Is(err, net.ErrClosed), "got %v", err)
}

func TestListenRemovesStaleSocket(t *testing.T) {
	dir := socketDir(t)
	path := filepath.Join(dir, "stale.sock")
	require.NoError(t, os.WriteFile(path, nil, 0o600))

	l, err := Listen(path)
	require.NoError(t, err)
	defer func() { _ = l.Close() }()

	fi, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.ModeSocket, fi.Mode().Type())
}
