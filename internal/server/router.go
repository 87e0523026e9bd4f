// Package server exposes sibyld's observability endpoints over HTTP.
//
// It never touches the process table or log store, which belong to the
// daemon's serving goroutine; it only reads Prometheus collectors and
// static build information.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/s-viour/sibyl/internal/metrics"
)

// Router provides embeddable HTTP handlers.
// Endpoints:
//
//	GET {basePath}/metrics   Prometheus exposition
//	GET {basePath}/healthz   {"ok":true,"socket":...,"uptime":...}
//
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	basePath string
	socket   string
	started  time.Time
}

// NewRouter constructs a Router. socket is reported by /healthz.
func NewRouter(basePath, socket string) *Router {
	return &Router{basePath: sanitizeBase(basePath), socket: socket, started: time.Now()}
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/metrics", gin.WrapH(metrics.Handler()))
	group.GET("/healthz", r.handleHealth)
	return g
}

type healthResp struct {
	OK     bool   `json:"ok"`
	Socket string `json:"socket"`
	Uptime string `json:"uptime"`
}

func (r *Router) handleHealth(c *gin.Context) {
	writeJSON(c, http.StatusOK, healthResp{
		OK:     true,
		Socket: r.socket,
		Uptime: time.Since(r.started).Truncate(time.Second).String(),
	})
}

// NewServer binds addr and serves the router in the background. Bind
// errors are returned; later serve errors are logged. Stop it with
// Shutdown.
func NewServer(addr, basePath, socket string) (*http.Server, error) {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}
	srv := &http.Server{
		Addr:              l.Addr().String(),
		Handler:           NewRouter(basePath, socket).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() {
		if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server stopped", "addr", srv.Addr, "error", err)
		}
	}()
	return srv, nil
}

// Shutdown stops srv, waiting at most timeout for in-flight requests.
func Shutdown(srv *http.Server, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return srv.Shutdown(ctx)
}
