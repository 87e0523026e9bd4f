// Package opensearch indexes sibyl history events in OpenSearch or
// Elasticsearch through the document REST API.
package opensearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/s-viour/sibyl/internal/history"
)

// document mirrors the process_history columns of the SQL sinks.
type document struct {
	Event       history.EventType `json:"event"`
	OccurredAt  time.Time         `json:"occurred_at"`
	SibylID     uint64            `json:"sibyl_id"`
	PID         int               `json:"pid"`
	CommandLine string            `json:"command_line"`
	LogPath     string            `json:"log_path"`
	StartedAt   time.Time         `json:"started_at"`
	ExitedAt    *time.Time        `json:"exited_at,omitempty"`
	ExitCode    *int              `json:"exit_code,omitempty"`
}

func newDocument(e history.Event) document {
	return document{
		Event:       e.Type,
		OccurredAt:  e.OccurredAt,
		SibylID:     e.Record.ID,
		PID:         e.Record.PID,
		CommandLine: e.Record.CommandLine,
		LogPath:     e.Record.LogPath,
		StartedAt:   e.Record.StartedAt,
		ExitedAt:    e.Record.ExitedAt,
		ExitCode:    e.Record.ExitCode,
	}
}

// Sink posts one document per event to <baseURL>/<index>/_doc.
type Sink struct {
	client  *http.Client
	baseURL string
	index   string
}

// New returns a sink for index on the cluster at baseURL.
func New(baseURL, index string) *Sink {
	return &Sink{
		client:  &http.Client{Timeout: 5 * time.Second},
		baseURL: strings.TrimRight(baseURL, "/"),
		index:   index,
	}
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	body, err := json.Marshal(newDocument(e))
	if err != nil {
		return fmt.Errorf("encode %s event for sibyl id %d: %w", e.Type, e.Record.ID, err)
	}
	url := s.baseURL + "/" + s.index + "/_doc"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("index %s event for sibyl id %d: %w", e.Type, e.Record.ID, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		reason, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("index %s: status %d: %s", s.index, resp.StatusCode, strings.TrimSpace(string(reason)))
	}
	return nil
}
