package main

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/s-viour/sibyl/internal/detector"
)

// daemonize re-executes sibyld detached from the terminal and exits the
// parent.
func daemonize(pidFile string, logFile string) error {
	pf := detector.PIDFile{Path: pidFile}
	if pidFile != "" {
		if owner, alive, err := pf.Alive(); err == nil && alive {
			return fmt.Errorf("%w (pid %d, %s)", detector.ErrRunning, owner, pidFile)
		}
	}

	executable, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}

	// #nosec G204 -- re-executing ourselves
	cmd := exec.Command(executable, childArgs(os.Args[1:], pidFile)...)
	configureDaemonAttrs(cmd)
	cmd.Stdin = nil

	if logFile != "" {
		// #nosec G304 -- operator-supplied path
		logF, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		defer func() { _ = logF.Close() }()
		cmd.Stdout = logF
		cmd.Stderr = logF
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start daemon process: %w", err)
	}

	if pidFile != "" {
		if err := pf.Write(cmd.Process.Pid); err != nil {
			return fmt.Errorf("failed to write PID file: %w", err)
		}
	}

	fmt.Printf("sibyld started with PID %d\n", cmd.Process.Pid)
	os.Exit(0)
	return nil
}

// childArgs drops the daemonize, pidfile and logfile flags (both
// "--flag value" and "--flag=value" forms) and re-adds the pid file so the
// child owns and removes it.
func childArgs(args []string, pidFile string) []string {
	var out []string
	skipNext := false
	for _, arg := range args {
		if skipNext {
			skipNext = false
			continue
		}
		switch {
		case arg == "--daemonize" || arg == "--daemonize=true":
			continue
		case arg == "--pidfile" || arg == "--logfile":
			skipNext = true
			continue
		case hasFlagValue(arg, "--pidfile") || hasFlagValue(arg, "--logfile") || hasFlagValue(arg, "--daemonize"):
			continue
		}
		out = append(out, arg)
	}
	if pidFile != "" {
		out = append(out, "--pidfile", pidFile)
	}
	return out
}

func hasFlagValue(arg, name string) bool {
	return len(arg) > len(name) && arg[:len(name)+1] == name+"="
}
