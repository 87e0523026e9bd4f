//go:build unix

package sibyl

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/s-viour/sibyl/internal/command"
	"github.com/s-viour/sibyl/internal/daemon"
	"github.com/s-viour/sibyl/internal/logstore"
	"github.com/s-viour/sibyl/internal/process"
)

func startDaemon(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "sibyl")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(dir) })

	path := filepath.Join(dir, "f.sock")
	l, err := daemon.Listen(path)
	if err != nil {
		t.Fatal(err)
	}
	state := &command.Context{
		Processes: process.NewTable(process.WithSampler(nil)),
		Logs:      logstore.New(filepath.Join(dir, "logs")),
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = daemon.New(state).Serve(ctx, l)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return path
}

func TestFacadeDial(t *testing.T) {
	c := Dial(startDaemon(t))
	ctx := context.Background()

	resp, err := c.Do(ctx, Once{Program: "echo", Args: []string{"facade"}})
	if err != nil {
		t.Fatalf("once: %v", err)
	}
	if resp.Message != "successfully executed process: echo | sibyl pid: 1" {
		t.Fatalf("once: %q", resp.Message)
	}

	resp, err = c.Send(ctx, NewRequest(List{}))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(resp.Message, "SPID: 1 - echo facade") {
		t.Fatalf("list: %q", resp.Message)
	}

	resp, err = c.Do(ctx, Status{ID: ProcessID(2)})
	if err != nil || resp.Message != "no process found with pid 2" {
		t.Fatalf("status: %q, %v", resp.Message, err)
	}
}

func TestFacadeUnreachable(t *testing.T) {
	c := NewClient(ClientConfig{SocketPath: filepath.Join(t.TempDir(), "x.sock"), Timeout: time.Second})
	if _, err := c.Do(context.Background(), Ping{}); !errors.Is(err, ErrDaemonUnreachable) {
		t.Fatalf("expected ErrDaemonUnreachable, got %v", err)
	}
	if Dial("").SocketPath() != DefaultSocketPath {
		t.Fatal("empty socket should fall back to the default")
	}
}

func TestFacadeHelpers(t *testing.T) {
	c, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if c.Socket == "" {
		t.Fatal("default socket missing")
	}
	if err := RegisterMetrics(prometheus.NewRegistry()); err != nil {
		t.Fatalf("RegisterMetrics: %v", err)
	}
	srv, err := NewHTTPServer("127.0.0.1:0", "/ops", c.Socket)
	if err != nil {
		t.Fatalf("NewHTTPServer: %v", err)
	}
	_ = srv.Close()
}
