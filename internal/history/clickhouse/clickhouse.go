package clickhouse

import (
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/s-viour/sibyl/internal/history"
)

// Sink sends events to ClickHouse using the official ClickHouse Go client.
// The target table must already exist; see Schema.
type Sink struct {
	conn  driver.Conn
	table string
}

// Schema returns the DDL for a table compatible with Send.
func Schema(table string) string {
	return `CREATE TABLE IF NOT EXISTS ` + table + ` (
		event String,
		occurred_at DateTime64(6),
		sibyl_id UInt64,
		pid Int64,
		command_line String,
		log_path String,
		started_at DateTime64(6),
		exit_code Nullable(Int32)
	) ENGINE = MergeTree()
	ORDER BY (occurred_at, sibyl_id)`
}

func New(addr, database, table string) (*Sink, error) {
	if database == "" {
		database = "default"
	}
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: database,
			Username: "default",
			Password: "",
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	if err := conn.Ping(context.Background()); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	return &Sink{
		conn:  conn,
		table: table,
	}, nil
}

func (s *Sink) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	query := fmt.Sprintf(`INSERT INTO %s (event, occurred_at, sibyl_id, pid, command_line, log_path, started_at, exit_code) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`, s.table)

	var exitCode *int32
	if e.Record.ExitCode != nil {
		c := int32(*e.Record.ExitCode)
		exitCode = &c
	}

	err := s.conn.Exec(ctx, query,
		string(e.Type),
		e.OccurredAt,
		e.Record.ID,
		int64(e.Record.PID),
		e.Record.CommandLine,
		e.Record.LogPath,
		e.Record.StartedAt,
		exitCode,
	)
	if err != nil {
		return fmt.Errorf("failed to insert event into ClickHouse: %w", err)
	}

	return nil
}
