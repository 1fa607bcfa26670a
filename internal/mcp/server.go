// Package mcp serves the ledger to agents over the Model Context Protocol.
package mcp

import (
	"context"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"

	"github.com/bardusco/clawtrace/internal/audit"
)

// Noter persists operator notes.
type Noter interface {
	Note(ctx context.Context, text, sessionKey string) (*audit.Record, error)
}

// Tailer reads the most recent ledger lines.
type Tailer interface {
	Tail(n int) ([]string, error)
}

// Config holds MCP server configuration.
type Config struct {
	Name    string
	Version string
}

// Server wraps the MCP SDK server with the clawtrace tools.
type Server struct {
	mcpServer *mcpsdk.Server
	noter     Noter
	ledger    Tailer
	log       *logrus.Entry
}

// New creates an MCP server exposing clawtrace_recent and clawtrace_note.
func New(cfg Config, noter Noter, ledger Tailer, log *logrus.Entry) *Server {
	if cfg.Name == "" {
		cfg.Name = "clawtrace"
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	s := &Server{noter: noter, ledger: ledger, log: log}
	s.mcpServer = mcpsdk.NewServer(
		&mcpsdk.Implementation{
			Name:    cfg.Name,
			Version: cfg.Version,
		},
		nil,
	)
	s.registerTools()
	return s
}

// Run starts the MCP server on stdio transport. Blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	start := time.Now()
	err := s.mcpServer.Run(ctx, &mcpsdk.StdioTransport{})
	s.log.WithField("uptime", time.Since(start).Round(time.Second).String()).Info("mcp server stopped")
	return err
}

// registerTools adds all clawtrace tools to the MCP server.
func (s *Server) registerTools() {
	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "clawtrace_recent",
		Description: "Return the most recent tool-call audit records, oldest first. Default 200, at most 2000.",
	}, s.handleRecent)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "clawtrace_note",
		Description: "Append an operator note to the audit ledger and broadcast it to live observers.",
	}, s.handleNote)
}
