package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/s-viour/sibyl/internal/command"
	"github.com/s-viour/sibyl/internal/config"
	"github.com/s-viour/sibyl/internal/process"
	"github.com/s-viour/sibyl/pkg/client"
)

// unreachableNotice is printed instead of an error when no daemon answers.
const unreachableNotice = "failed to establish link to sibyld"

// buildRoot creates the root command with every verb attached. Responses
// are printed to out.
func buildRoot(out io.Writer) *cobra.Command {
	flags := &GlobalFlags{}
	root := createRootCommand(flags)
	root.SetOut(out)
	root.AddCommand(
		createOnceCommand(flags),
		createLatestCommand(flags),
		createPingCommand(flags),
		createStatusCommand(flags),
		createListCommand(flags),
	)
	return root
}

func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "sibyl",
		Short: "Run and inspect programs through the sibyld daemon",
		Long: `sibyl sends one command to a running sibyld and prints its reply.

Examples:
  sibyl once ls -la /tmp    # run a program, stdout goes to a log file
  sibyl latest              # print the newest log file
  sibyl status 1            # inspect a spawned process
  sibyl list                # list every spawned process
  sibyl ping                # check the daemon is alive`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")
	root.PersistentFlags().StringVar(&flags.Socket, "socket", "", "daemon socket path (overrides config)")
	root.PersistentFlags().DurationVar(&flags.Timeout, "timeout", 0, "give up after this long (0 = wait)")
	return root
}

func createOnceCommand(flags *GlobalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "once <program> [args...]",
		Short: "Run a program once, capturing its stdout",
		Long: `Run a program under sibyld. Everything after the program name is passed
to it unchanged, including flags.

Examples:
  sibyl once echo hello
  sibyl once ls -la /var/log`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return send(cmd, flags, command.Once{Program: args[0], Args: args[1:]})
		},
	}
	cmd.Flags().SetInterspersed(false)
	return cmd
}

func createLatestCommand(flags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "latest",
		Short: "Print the most recently written log file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return send(cmd, flags, command.Latest{})
		},
	}
}

func createPingCommand(flags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check that sibyld is alive and measure latency",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return send(cmd, flags, command.Ping{})
		},
	}
}

func createStatusCommand(flags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status <id>",
		Short: "Show the status of a spawned process",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid process id %q", args[0])
			}
			return send(cmd, flags, command.Status{ID: process.ID(id)})
		},
	}
}

func createListCommand(flags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every process spawned by sibyld",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return send(cmd, flags, command.List{})
		},
	}
}

// socketPath resolves the daemon address: flag, then config/env, then default.
func socketPath(flags *GlobalFlags) (string, error) {
	if flags.Socket != "" {
		return flags.Socket, nil
	}
	return config.LoadSocket(flags.ConfigPath)
}

func send(cmd *cobra.Command, flags *GlobalFlags, c command.Command) error {
	path, err := socketPath(flags)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cl := client.New(client.Config{SocketPath: path, Timeout: flags.Timeout})
	resp, err := cl.Do(ctx, c)
	out := cmd.OutOrStdout()
	if errors.Is(err, client.ErrDaemonUnreachable) {
		_, _ = fmt.Fprintln(out, unreachableNotice)
		return nil
	}
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintln(out, resp.Message)
	return nil
}
