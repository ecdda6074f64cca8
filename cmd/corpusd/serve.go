package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/corpusd/internal/mcp"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the MCP server on stdio",
	Long: `Run the MCP server on stdin/stdout for use by MCP clients.

The server exposes three tools:
  search_corpus  hybrid search with context/work-item/tag filters
  sync_corpus    incremental synchronization (dry-run, force-reset)
  list_contexts  indexed context labels with counts

Logs go to stderr; stdout carries the protocol.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := buildApp(configFile)
	if err != nil {
		return err
	}
	defer a.Close()

	server, err := mcp.NewServer(&mcp.Config{
		Name:    "corpusd",
		Version: version,
		Logger:  a.logger,
	}, a.retriever, a.syncer)
	if err != nil {
		return fmt.Errorf("creating MCP server: %w", err)
	}

	if err := server.Run(cmd.Context()); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
