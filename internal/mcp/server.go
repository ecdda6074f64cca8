// Package mcp exposes corpus synchronization and retrieval as MCP tools
// over the stdio transport.
package mcp

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/corpusd/internal/search"
	"github.com/fyrsmithlabs/corpusd/internal/syncer"
)

// Searcher runs hybrid retrieval queries.
type Searcher interface {
	Search(ctx context.Context, q search.Query) ([]search.Hit, error)
}

// Synchronizer runs sync passes and reports index composition.
type Synchronizer interface {
	Sync(ctx context.Context, opts syncer.Options) (*syncer.Report, error)
	Contexts() ([]syncer.ContextInfo, error)
}

// Config configures the MCP server.
type Config struct {
	// Name is the server implementation name (default: "corpusd").
	Name string

	// Version is the server version (default: "dev").
	Version string

	// Logger for structured logging.
	Logger *zap.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Name:    "corpusd",
		Version: "dev",
		Logger:  zap.NewNop(),
	}
}

// Server serves the corpusd tools over MCP.
type Server struct {
	mcp      *mcp.Server
	searcher Searcher
	syncer   Synchronizer
	logger   *zap.Logger
}

// NewServer creates an MCP server wired to the given services.
func NewServer(cfg *Config, searcher Searcher, sync Synchronizer) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if searcher == nil {
		return nil, fmt.Errorf("searcher is required")
	}
	if sync == nil {
		return nil, fmt.Errorf("synchronizer is required")
	}

	mcpServer := mcp.NewServer(
		&mcp.Implementation{
			Name:    cfg.Name,
			Version: cfg.Version,
		},
		nil,
	)

	s := &Server{
		mcp:      mcpServer,
		searcher: searcher,
		syncer:   sync,
		logger:   cfg.Logger,
	}
	s.registerTools()

	return s, nil
}

// Run starts the MCP server on the stdio transport.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting MCP server on stdio transport")
	transport := &mcp.StdioTransport{}
	if err := s.mcp.Run(ctx, transport); err != nil {
		return fmt.Errorf("server run failed: %w", err)
	}
	return nil
}
