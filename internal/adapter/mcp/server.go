// Package mcp exposes threads and runs as Model Context Protocol tools so
// agents can trigger and inspect pipeline runs.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/overhearops/overhearops/internal/domain/run"
)

// ThreadLister lists known threads with their message counts.
type ThreadLister interface {
	Threads(ctx context.Context) (map[string]int, error)
}

// RunStarter runs the pipeline on the latest message of a thread.
type RunStarter interface {
	StartThread(ctx context.Context, threadID string) (*run.Record, error)
}

// RunReader reads stored run records.
type RunReader interface {
	Get(ctx context.Context, runID string) (*run.Record, error)
	List(ctx context.Context, threadID string, limit int) ([]run.Summary, error)
}

// ServerConfig configures the MCP HTTP listener.
type ServerConfig struct {
	Addr    string
	Name    string
	Version string
	APIKey  func() string // nil or empty disables auth
}

// ServerDeps are the services behind the tools. Any may be nil; the tool
// then reports itself as not configured.
type ServerDeps struct {
	Threads ThreadLister
	Starter RunStarter
	Runs    RunReader
}

// Server serves MCP over streamable HTTP.
type Server struct {
	cfg       ServerConfig
	deps      ServerDeps
	mcpServer *mcpserver.MCPServer
	http      *http.Server
}

// NewServer builds the MCP server and registers tools and resources.
func NewServer(cfg ServerConfig, deps ServerDeps) *Server {
	s := &Server{
		cfg:  cfg,
		deps: deps,
		mcpServer: mcpserver.NewMCPServer(cfg.Name, cfg.Version,
			mcpserver.WithToolCapabilities(false),
			mcpserver.WithResourceCapabilities(false, false),
		),
	}
	s.registerTools()
	s.registerResources()
	return s
}

// MCPServer returns the underlying protocol server.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

// Handler returns the authenticated streamable HTTP handler.
func (s *Server) Handler() http.Handler {
	return AuthMiddleware(s.cfg.APIKey, mcpserver.NewStreamableHTTPServer(s.mcpServer))
}

// Start binds the listener and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("mcp listen %s: %w", s.cfg.Addr, err)
	}
	s.http = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("mcp server failed", "error", err)
		}
	}()
	slog.Info("mcp server started", "addr", ln.Addr().String())
	return nil
}

// Stop shuts the listener down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}
