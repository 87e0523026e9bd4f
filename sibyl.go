// Package sibyl is the public entry point for Go programs that drive a
// running sibyld.
package sibyl

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/s-viour/sibyl/internal/command"
	cfg "github.com/s-viour/sibyl/internal/config"
	"github.com/s-viour/sibyl/internal/metrics"
	"github.com/s-viour/sibyl/internal/process"
	iapi "github.com/s-viour/sibyl/internal/server"
	"github.com/s-viour/sibyl/pkg/client"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Request = command.Request

type Response = command.Response

type Command = command.Command

type Once = command.Once

type Latest = command.Latest

type Ping = command.Ping

type Status = command.Status

type List = command.List

type ProcessID = process.ID

type Client = client.Client

type ClientConfig = client.Config

type Config = cfg.Config

// ErrDaemonUnreachable is returned by Client calls when no daemon listens.
var ErrDaemonUnreachable = client.ErrDaemonUnreachable

// DefaultSocketPath is where sibyld listens unless configured otherwise.
const DefaultSocketPath = client.DefaultSocketPath

// NewRequest stamps c with the current time.
func NewRequest(c Command) *Request { return command.NewRequest(c) }

// Dial returns a client for the daemon at socketPath. No connection is
// made until the first call.
func Dial(socketPath string) *Client {
	return client.New(client.Config{SocketPath: socketPath})
}

// NewClient returns a client with full configuration.
func NewClient(c ClientConfig) *Client { return client.New(c) }

// LoadConfig reads a sibyl TOML file (path may be empty) plus SIBYL_* env.
func LoadConfig(path string) (*Config, error) { return cfg.Load(path) }

// RegisterMetrics registers sibyl's collectors with r.
func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }

// NewHTTPServer serves /metrics and /healthz under basePath on addr.
func NewHTTPServer(addr, basePath, socket string) (*http.Server, error) {
	return iapi.NewServer(addr, basePath, socket)
}
