// Package history exports lifecycle events of processes spawned by sibyld
// to external systems (SQL databases, ClickHouse, OpenSearch).
//
// It is write-only: nothing here is read back when the daemon restarts.
package history

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"
)

// EventType defines the kind of lifecycle event.
type EventType string

const (
	EventStart EventType = "start"
	EventExit  EventType = "exit"
)

// Record describes a tracked process at the moment an event occurred.
type Record struct {
	ID          uint64     `json:"id"`
	PID         int        `json:"pid"`
	CommandLine string     `json:"command_line"`
	LogPath     string     `json:"log_path"`
	StartedAt   time.Time  `json:"started_at"`
	ExitedAt    *time.Time `json:"exited_at,omitempty"`
	ExitCode    *int       `json:"exit_code,omitempty"`
}

// Event represents a lifecycle event to be exported.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Record     Record    `json:"record"`
}

// Sink is a destination for history events.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// Fanout delivers each event to every sink with a per-send timeout.
// Failures are logged and never returned to the caller: export problems
// must not turn into command failures.
type Fanout struct {
	sinks   []Sink
	timeout time.Duration
}

// NewFanout returns a Fanout over sinks. timeout <= 0 means 2s.
func NewFanout(timeout time.Duration, sinks ...Sink) *Fanout {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Fanout{sinks: append([]Sink(nil), sinks...), timeout: timeout}
}

// Len returns the number of sinks.
func (f *Fanout) Len() int {
	if f == nil {
		return 0
	}
	return len(f.sinks)
}

// Publish sends e to all sinks. A nil Fanout is a no-op.
func (f *Fanout) Publish(e Event) {
	if f == nil {
		return
	}
	for _, s := range f.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
		if err := s.Send(ctx, e); err != nil {
			slog.Warn("history export failed", "event", e.Type, "id", e.Record.ID, "error", err)
		}
		cancel()
	}
}

// Close closes every sink that implements io.Closer.
func (f *Fanout) Close() error {
	if f == nil {
		return nil
	}
	var errs []error
	for _, s := range f.sinks {
		if c, ok := s.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
