package process

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/s-viour/sibyl/internal/metrics"
)

type waitState uint8

const (
	waitUnknown waitState = iota
	waitRunning
	waitExited
)

// WaitStatus is the outcome of a non-blocking poll.
type WaitStatus struct {
	state waitState
	pid   int
	code  *int
}

// Running reports a child that has not terminated yet.
func Running(pid int) WaitStatus { return WaitStatus{state: waitRunning, pid: pid} }

// Exited reports a terminated child. code is nil when the child was
// killed by a signal.
func Exited(code *int) WaitStatus { return WaitStatus{state: waitExited, code: code} }

// Unknown reports that the poll itself failed.
func Unknown() WaitStatus { return WaitStatus{} }

func (w WaitStatus) IsRunning() bool { return w.state == waitRunning }
func (w WaitStatus) IsExited() bool  { return w.state == waitExited }

// ExitCode returns the exit code when the child exited normally.
func (w WaitStatus) ExitCode() (int, bool) {
	if w.state != waitExited || w.code == nil {
		return 0, false
	}
	return *w.code, true
}

func (w WaitStatus) String() string {
	switch w.state {
	case waitRunning:
		return "running (pid " + strconv.Itoa(w.pid) + ")"
	case waitExited:
		if w.code == nil {
			return "exited (no exit code)"
		}
		return "exited (exit code " + strconv.Itoa(*w.code) + ")"
	default:
		return "unknown"
	}
}

// Status is a point-in-time snapshot of a tracked process.
type Status struct {
	ID          ID
	PID         int
	CommandLine string
	StartedAt   time.Time
	LogPath     string
	Wait        WaitStatus
	// Usage is a best-effort sample, set only while the child is running.
	Usage *metrics.ProcessMetrics
}

// StartedLayout is the absolute time format used by Status.Render.
const StartedLayout = "2006-01-02 15:04:05 MST"

// Render formats the snapshot for humans. now anchors the relative start
// time.
func (s Status) Render(now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "process status for (%d)\n", s.ID)
	fmt.Fprintf(&b, "  command line : %s\n", s.CommandLine)
	fmt.Fprintf(&b, "  started at   : %s (%s)\n", s.StartedAt.Format(StartedLayout), humanize.RelTime(s.StartedAt, now, "ago", "from now"))
	fmt.Fprintf(&b, "  OS PID       : %d\n", s.PID)
	fmt.Fprintf(&b, "  wait status  : %s\n", s.Wait)
	fmt.Fprintf(&b, "  log file     : %s", s.LogPath)
	if s.Usage != nil {
		fmt.Fprintf(&b, "\n  resources    : rss %s, cpu %.1f%%", humanize.IBytes(s.Usage.MemoryRSS), s.Usage.CPUPercent)
	}
	return b.String()
}

func (s Status) String() string { return s.Render(time.Now()) }
