//go:build unix

package main

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/s-viour/sibyl/internal/config"
	"github.com/s-viour/sibyl/internal/detector"
	"github.com/s-viour/sibyl/internal/history/sqlite"
	"github.com/s-viour/sibyl/pkg/client"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir, err := os.MkdirTemp("", "sibyld")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	cfg := config.Default()
	cfg.Socket = filepath.Join(dir, "d.sock")
	cfg.Log.Dir = filepath.Join(dir, "logs")
	cfg.Daemon.File = filepath.Join(dir, "sibyld.log")
	cfg.Daemon.PIDFile = filepath.Join(dir, "sibyld.pid")
	return cfg
}

func TestServeEndToEnd(t *testing.T) {
	cfg := testConfig(t)
	dbPath := filepath.Join(filepath.Dir(cfg.Socket), "history.db")
	cfg.History.DSN = []string{"sqlite://" + dbPath}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve(ctx, cfg) }()

	cl := client.New(client.Config{SocketPath: cfg.Socket, Timeout: 5 * time.Second})
	require.Eventually(t, func() bool { return cl.IsReachable(context.Background()) }, 5*time.Second, 10*time.Millisecond)

	_, err := os.Stat(cfg.Daemon.PIDFile)
	require.NoError(t, err, "pid file should exist while serving")

	resp, err := cl.Once(context.Background(), "echo", "end-to-end")
	require.NoError(t, err)
	assert.Equal(t, "successfully executed process: echo | sibyl pid: 1", resp.Message)

	require.Eventually(t, func() bool {
		resp, err := cl.Status(context.Background(), 1)
		return err == nil && strings.Contains(resp.Message, "exited (exit code 0)")
	}, 5*time.Second, 10*time.Millisecond)

	resp, err = cl.Latest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "end-to-end\n", resp.Message)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not stop")
	}

	_, err = os.Stat(cfg.Socket)
	assert.True(t, os.IsNotExist(err), "socket should be removed on shutdown")
	_, err = os.Stat(cfg.Daemon.PIDFile)
	assert.True(t, os.IsNotExist(err), "pid file should be removed on shutdown")

	b, err := os.ReadFile(cfg.Daemon.File)
	require.NoError(t, err)
	assert.Contains(t, string(b), "sibyld starting")

	sink, err := sqlite.New(dbPath)
	require.NoError(t, err)
	defer func() { _ = sink.Close() }()
	n, err := sink.Count(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 2, n, "expected start and exit rows")
}

func TestServeRejectsBadHistoryDSN(t *testing.T) {
	cfg := testConfig(t)
	cfg.History.DSN = []string{"kafka://nowhere"}
	err := serve(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kafka://nowhere")
}

func TestServeRefusesLivePidFile(t *testing.T) {
	cfg := testConfig(t)
	owner := os.Getppid()
	require.NoError(t, os.WriteFile(cfg.Daemon.PIDFile, []byte(strconv.Itoa(owner)+"\n"), 0o644))

	err := serve(context.Background(), cfg)
	require.ErrorIs(t, err, detector.ErrRunning)

	b, err := os.ReadFile(cfg.Daemon.PIDFile)
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(owner)+"\n", string(b), "pid file of the live daemon must be left alone")
	_, err = os.Stat(cfg.Socket)
	assert.True(t, os.IsNotExist(err))
}

func TestLoadConfigFlagsOverride(t *testing.T) {
	root := newRootCommand()
	require.NoError(t, root.ParseFlags([]string{"--socket", "/tmp/flag.sock", "--log-dir", "/tmp/flaglogs", "--metrics-listen", "127.0.0.1:0"}))

	flags := &ServeFlags{Socket: "/tmp/flag.sock", LogDir: "/tmp/flaglogs", MetricsListen: "127.0.0.1:0"}
	cfg, err := loadConfig(root, flags)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/flag.sock", cfg.Socket)
	assert.Equal(t, "/tmp/flaglogs", cfg.Log.Dir)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, "127.0.0.1:0", cfg.Metrics.Listen)
}

func TestLoadConfigUnsetFlagsKeepConfig(t *testing.T) {
	file := filepath.Join(t.TempDir(), "sibyl.toml")
	require.NoError(t, os.WriteFile(file, []byte("socket = \"/tmp/cfg.sock\"\n[daemon]\npidfile = \"/tmp/cfg.pid\"\n"), 0o644))

	root := newRootCommand()
	require.NoError(t, root.ParseFlags(nil))
	flags := &ServeFlags{ConfigPath: file}
	cfg, err := loadConfig(root, flags)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/cfg.sock", cfg.Socket)
	assert.Equal(t, "/tmp/cfg.pid", flags.PidFile, "daemonize should see the configured pid file")
}
