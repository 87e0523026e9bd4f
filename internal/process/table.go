// Package process tracks programs spawned by sibyld.
//
// A Table is owned by the daemon's single serving goroutine and is not
// safe for concurrent use. Entries are never removed; children are only
// observed through non-blocking polls.
package process

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/s-viour/sibyl/internal/history"
	"github.com/s-viour/sibyl/internal/metrics"
)

// ID is sibyld's own identifier for a spawned process, starting at 1.
type ID uint64

// Destination receives the standard output of a spawned program.
type Destination interface {
	Path() string
	Open() (*os.File, error)
}

// Entry is a List snapshot of one tracked process.
type Entry struct {
	ID          ID
	PID         int
	CommandLine string
	StartedAt   time.Time
	LogPath     string
}

type tracked struct {
	Entry
	cmd *exec.Cmd

	// Cached outcome: a reaped child cannot be polled again.
	exited   bool
	exitCode *int
	exitedAt time.Time
}

// Sampler reads resource usage for a running pid.
type Sampler func(pid int) (metrics.ProcessMetrics, error)

// Table is the in-memory process registry.
type Table struct {
	next    ID
	order   []*tracked
	byID    map[ID]*tracked
	now     func() time.Time
	history *history.Fanout
	sample  Sampler
}

// Option configures a Table.
type Option func(*Table)

// WithClock overrides the time source for start and exit timestamps.
func WithClock(now func() time.Time) Option {
	return func(t *Table) { t.now = now }
}

// WithHistory exports start and exit events to f.
func WithHistory(f *history.Fanout) Option {
	return func(t *Table) { t.history = f }
}

// WithSampler replaces the resource sampler. nil disables sampling.
func WithSampler(s Sampler) Option {
	return func(t *Table) { t.sample = s }
}

// NewTable returns an empty table.
func NewTable(opts ...Option) *Table {
	t := &Table{
		byID:   make(map[ID]*tracked),
		now:    time.Now,
		sample: metrics.SampleProcess,
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Len returns the number of tracked processes.
func (t *Table) Len() int { return len(t.order) }

// CommandLine joins program and args with single spaces.
func CommandLine(program string, args []string) string {
	return strings.Join(append([]string{program}, args...), " ")
}

// Spawn starts program with stdout appended to dst, stderr discarded and
// stdin closed. The id is allocated only once the child is running.
func (t *Table) Spawn(program string, args []string, dst Destination) (ID, error) {
	out, err := dst.Open()
	if err != nil {
		return 0, fmt.Errorf("open log file %s: %w", dst.Path(), err)
	}
	// The child holds its own descriptor after Start.
	defer func() { _ = out.Close() }()

	// #nosec G204 -- running caller-supplied programs is the point of sibyld
	cmd := exec.Command(program, args...)
	cmd.Stdout = out
	configureSysProcAttr(cmd)
	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("spawn %s: %w", program, err)
	}

	t.next++
	p := &tracked{
		Entry: Entry{
			ID:          t.next,
			PID:         cmd.Process.Pid,
			CommandLine: CommandLine(program, args),
			StartedAt:   t.now(),
			LogPath:     dst.Path(),
		},
		cmd: cmd,
	}
	t.order = append(t.order, p)
	t.byID[p.ID] = p

	slog.Info("process spawned", "id", p.ID, "pid", p.PID, "cmd", p.CommandLine, "log", p.LogPath)
	metrics.IncSpawn()
	metrics.SetTracked(len(t.order))
	t.history.Publish(history.Event{Type: history.EventStart, OccurredAt: p.StartedAt, Record: p.record()})
	return p.ID, nil
}

// Status polls id without blocking. The bool is false when id was never
// issued.
func (t *Table) Status(id ID) (Status, bool) {
	p, ok := t.byID[id]
	if !ok {
		return Status{}, false
	}
	st := Status{
		ID:          p.ID,
		PID:         p.PID,
		CommandLine: p.CommandLine,
		StartedAt:   p.StartedAt,
		LogPath:     p.LogPath,
	}
	st.Wait = t.wait(p)
	if st.Wait.IsRunning() && t.sample != nil {
		if u, err := t.sample(p.PID); err == nil {
			st.Usage = &u
		} else {
			slog.Debug("resource sample failed", "id", p.ID, "pid", p.PID, "error", err)
		}
	}
	return st, true
}

func (t *Table) wait(p *tracked) WaitStatus {
	if p.exited {
		return Exited(p.exitCode)
	}
	done, code, err := poll(p.PID)
	if err != nil {
		slog.Warn("wait poll failed", "id", p.ID, "pid", p.PID, "error", err)
		return Unknown()
	}
	if !done {
		return Running(p.PID)
	}

	p.exited = true
	p.exitCode = code
	p.exitedAt = t.now()
	_ = p.cmd.Process.Release()

	outcome := "signal"
	if code != nil {
		outcome = "code"
	}
	slog.Info("process exited", "id", p.ID, "pid", p.PID, "outcome", outcome)
	metrics.IncExit(outcome)
	t.history.Publish(history.Event{Type: history.EventExit, OccurredAt: p.exitedAt, Record: p.record()})
	return Exited(code)
}

// List returns every entry in insertion order.
func (t *Table) List() []Entry {
	out := make([]Entry, 0, len(t.order))
	for _, p := range t.order {
		out = append(out, p.Entry)
	}
	return out
}

func (p *tracked) record() history.Record {
	r := history.Record{
		ID:          uint64(p.ID),
		PID:         p.PID,
		CommandLine: p.CommandLine,
		LogPath:     p.LogPath,
		StartedAt:   p.StartedAt,
	}
	if p.exited {
		at := p.exitedAt
		r.ExitedAt = &at
		r.ExitCode = p.exitCode
	}
	return r
}
