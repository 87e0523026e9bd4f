package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/s-viour/sibyl/internal/command"
	"github.com/s-viour/sibyl/internal/config"
	"github.com/s-viour/sibyl/internal/daemon"
	"github.com/s-viour/sibyl/internal/detector"
	"github.com/s-viour/sibyl/internal/history"
	"github.com/s-viour/sibyl/internal/history/factory"
	"github.com/s-viour/sibyl/internal/logger"
	"github.com/s-viour/sibyl/internal/logstore"
	"github.com/s-viour/sibyl/internal/metrics"
	"github.com/s-viour/sibyl/internal/process"
	"github.com/s-viour/sibyl/internal/server"
)

func newRootCommand() *cobra.Command {
	flags := &ServeFlags{}
	cmd := &cobra.Command{
		Use:   "sibyld",
		Short: "Local command-execution daemon",
		Long: `sibyld listens on a Unix socket and runs programs on behalf of the sibyl
client, capturing their stdout in per-invocation log files.

Examples:
  sibyld                                   # foreground, /tmp/sibyl.sock
  sibyld --config /etc/sibyl.toml
  sibyld --daemonize --pidfile /run/sibyld.pid --logfile /var/log/sibyld.out`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, flags)
			if err != nil {
				return err
			}
			if flags.Daemonize {
				return daemonize(flags.PidFile, flags.LogFile)
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
	f := cmd.Flags()
	f.StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")
	f.StringVar(&flags.Socket, "socket", "", "socket path to listen on")
	f.StringVar(&flags.LogDir, "log-dir", "", "directory for captured program output")
	f.BoolVar(&flags.Daemonize, "daemonize", false, "run in the background")
	f.StringVar(&flags.PidFile, "pidfile", "", "write the daemon PID to this file")
	f.StringVar(&flags.LogFile, "logfile", "", "redirect daemon output to this file")
	f.StringVar(&flags.MetricsListen, "metrics-listen", "", "serve /metrics and /healthz on this address")
	return cmd
}

// loadConfig reads the config file and environment, then applies flags
// the user actually set.
func loadConfig(cmd *cobra.Command, flags *ServeFlags) (*config.Config, error) {
	cfg, err := config.Load(flags.ConfigPath)
	if err != nil {
		return nil, err
	}
	f := cmd.Flags()
	if f.Changed("socket") {
		cfg.Socket = flags.Socket
	}
	if f.Changed("log-dir") {
		cfg.Log.Dir = flags.LogDir
	}
	if f.Changed("pidfile") {
		cfg.Daemon.PIDFile = flags.PidFile
	} else {
		flags.PidFile = cfg.Daemon.PIDFile
	}
	if f.Changed("metrics-listen") {
		cfg.Metrics.Enabled = true
		cfg.Metrics.Listen = flags.MetricsListen
	}
	return cfg, cfg.Validate()
}

// serve runs the daemon until ctx is cancelled.
func serve(ctx context.Context, cfg *config.Config) error {
	log, closeLog, err := logger.New(cfg.Daemon.Logger(), os.Stderr)
	if err != nil {
		return err
	}
	defer func() { _ = closeLog.Close() }()
	slog.SetDefault(log)

	if cfg.Daemon.PIDFile != "" {
		pf := detector.PIDFile{Path: cfg.Daemon.PIDFile}
		if err := pf.Claim(os.Getpid()); err != nil {
			return fmt.Errorf("pid file: %w", err)
		}
		defer func() { _ = pf.Remove() }()
	}

	fanout, err := openHistory(cfg.History)
	if err != nil {
		return err
	}
	defer func() {
		if err := fanout.Close(); err != nil {
			slog.Warn("closing history sinks", "error", err)
		}
	}()

	if cfg.Metrics.Enabled {
		if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
			return fmt.Errorf("register metrics: %w", err)
		}
		srv, err := server.NewServer(cfg.Metrics.Listen, "", cfg.Socket)
		if err != nil {
			return err
		}
		slog.Info("metrics endpoint enabled", "addr", srv.Addr)
		defer func() { _ = server.Shutdown(srv, 2*time.Second) }()
	}

	state := &command.Context{
		Processes: process.NewTable(process.WithHistory(fanout)),
		Logs:      logstore.New(cfg.Log.Dir),
	}

	l, err := daemon.Listen(cfg.Socket)
	if err != nil {
		return err
	}
	defer func() {
		if err := os.Remove(cfg.Socket); err != nil && !errors.Is(err, os.ErrNotExist) {
			slog.Warn("removing socket", "path", cfg.Socket, "error", err)
		}
	}()

	slog.Info("sibyld starting", "socket", cfg.Socket, "log_dir", cfg.Log.Dir, "history_sinks", fanout.Len())
	srv := daemon.New(state,
		daemon.WithMaxFrameBytes(cfg.Limits.MaxFrameBytes),
		daemon.WithReadTimeout(cfg.Limits.ReadTimeout),
	)
	if err := srv.Serve(ctx, l); err != nil {
		return err
	}
	slog.Info("sibyld stopped", "tracked", state.Processes.Len())
	return nil
}

func openHistory(hc config.HistoryConfig) (*history.Fanout, error) {
	sinks := make([]history.Sink, 0, len(hc.DSN))
	for _, dsn := range hc.DSN {
		s, err := factory.NewSinkFromDSN(dsn)
		if err != nil {
			_ = history.NewFanout(0, sinks...).Close()
			return nil, fmt.Errorf("history sink %q: %w", dsn, err)
		}
		sinks = append(sinks, s)
	}
	return history.NewFanout(hc.Timeout, sinks...), nil
}
