package mcp

import (
	"context"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/fyrsmithlabs/corpusd/internal/search"
	"github.com/fyrsmithlabs/corpusd/internal/syncer"
)

type searchCorpusInput struct {
	Query    string `json:"query" jsonschema:"required,Natural language or keyword query"`
	TopK     int    `json:"top_k,omitempty" jsonschema:"Maximum results to return (default: 10)"`
	Context  string `json:"context,omitempty" jsonschema:"Restrict results to one context label (directory name)"`
	WorkItem string `json:"work_item,omitempty" jsonschema:"Restrict results to documents under a work item directory (e.g. PROJ-123)"`
	Tag      string `json:"tag,omitempty" jsonschema:"Restrict results to chunks carrying this keyword tag"`
}

type searchHit struct {
	Path      string   `json:"path" jsonschema:"Source file path"`
	Context   string   `json:"context" jsonschema:"Context label"`
	Title     string   `json:"title" jsonschema:"Document title"`
	Text      string   `json:"text" jsonschema:"Chunk text"`
	Ordinal   int      `json:"ordinal" jsonschema:"Chunk position within the document"`
	Score     float64  `json:"score" jsonschema:"Fused relevance score"`
	Sources   []string `json:"sources" jsonschema:"Rankings the hit appeared in (text, vector)"`
	WorkItems []string `json:"work_items,omitempty" jsonschema:"Work item identifiers"`
}

type searchCorpusOutput struct {
	Query   string      `json:"query" jsonschema:"Query that was executed"`
	Results []searchHit `json:"results" jsonschema:"Ranked search hits"`
	Count   int         `json:"count" jsonschema:"Number of hits returned"`
}

type syncCorpusInput struct {
	DryRun     bool `json:"dry_run,omitempty" jsonschema:"Report what would change without writing anything"`
	ForceReset bool `json:"force_reset,omitempty" jsonschema:"Drop the index and reindex everything from scratch"`
}

type syncCorpusOutput struct {
	DryRun     bool             `json:"dry_run" jsonschema:"Whether this was a dry run"`
	Discovered int              `json:"discovered" jsonschema:"Documents found on disk"`
	Processed  int              `json:"processed" jsonschema:"Documents indexed or reindexed"`
	Unchanged  int              `json:"unchanged" jsonschema:"Documents skipped as unchanged"`
	Deleted    int              `json:"deleted" jsonschema:"Documents removed from the index"`
	Failed     int              `json:"failed" jsonschema:"Documents that failed to sync"`
	Chunks     int              `json:"chunks" jsonschema:"Chunks written"`
	DurationMS int64            `json:"duration_ms" jsonschema:"Run duration in milliseconds"`
	Failures   []syncer.Failure `json:"failures,omitempty" jsonschema:"Per-file failure details"`
}

type listContextsInput struct{}

type listContextsOutput struct {
	Contexts []syncer.ContextInfo `json:"contexts" jsonschema:"Context labels with file and chunk counts"`
	Count    int                  `json:"count" jsonschema:"Number of contexts"`
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "search_corpus",
		Description: "Hybrid search over the indexed document corpus. Combines keyword and semantic similarity ranking. Supports pre-filters by context label, work item, and keyword tag.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args searchCorpusInput) (*mcp.CallToolResult, searchCorpusOutput, error) {
		return s.handleSearch(ctx, args)
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "sync_corpus",
		Description: "Synchronize the document corpus into the index. Only new and modified files are reprocessed; deleted files are removed. Supports dry-run and full reset.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args syncCorpusInput) (*mcp.CallToolResult, syncCorpusOutput, error) {
		return s.handleSync(ctx, args)
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "list_contexts",
		Description: "List the context labels (top-level topic directories) known to the index, with file and chunk counts.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args listContextsInput) (*mcp.CallToolResult, listContextsOutput, error) {
		return s.handleListContexts(ctx, args)
	})
}

func (s *Server) handleSearch(ctx context.Context, args searchCorpusInput) (*mcp.CallToolResult, searchCorpusOutput, error) {
	if args.Query == "" {
		return nil, searchCorpusOutput{}, fmt.Errorf("query is required")
	}

	hits, err := s.searcher.Search(ctx, search.Query{
		Text:     args.Query,
		TopK:     args.TopK,
		Context:  args.Context,
		WorkItem: args.WorkItem,
		Keyword:  args.Tag,
	})
	if err != nil {
		return nil, searchCorpusOutput{}, fmt.Errorf("search failed: %w", err)
	}

	output := searchCorpusOutput{Query: args.Query, Count: len(hits)}
	for _, h := range hits {
		output.Results = append(output.Results, searchHit{
			Path:      h.Path,
			Context:   h.Context,
			Title:     h.Title,
			Text:      h.Text,
			Ordinal:   h.Ordinal,
			Score:     h.Score,
			Sources:   h.Sources,
			WorkItems: h.WorkItems,
		})
	}

	var text string
	if len(hits) == 0 {
		text = fmt.Sprintf("No results for: %s", args.Query)
	} else {
		paths := make([]string, 0, len(hits))
		for _, h := range hits {
			paths = append(paths, h.Path)
		}
		text = fmt.Sprintf("Found %d result(s) for %q in: %s",
			len(hits), args.Query, strings.Join(dedupe(paths), ", "))
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}, output, nil
}

func (s *Server) handleSync(ctx context.Context, args syncCorpusInput) (*mcp.CallToolResult, syncCorpusOutput, error) {
	report, err := s.syncer.Sync(ctx, syncer.Options{
		DryRun:     args.DryRun,
		ForceReset: args.ForceReset,
	})
	if err != nil {
		return nil, syncCorpusOutput{}, fmt.Errorf("sync failed: %w", err)
	}

	output := syncCorpusOutput{
		DryRun:     report.DryRun,
		Discovered: report.Discovered,
		Processed:  report.Processed,
		Unchanged:  report.Unchanged,
		Deleted:    report.Deleted,
		Failed:     report.Failed,
		Chunks:     report.Chunks,
		DurationMS: report.Duration.Milliseconds(),
		Failures:   report.Failures,
	}

	verb := "synced"
	if report.DryRun {
		verb = "would sync"
	}
	text := fmt.Sprintf("%s %d file(s): %d processed, %d unchanged, %d deleted, %d failed, %d chunks",
		verb, report.Discovered, report.Processed, report.Unchanged, report.Deleted, report.Failed, report.Chunks)

	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}, output, nil
}

func (s *Server) handleListContexts(_ context.Context, _ listContextsInput) (*mcp.CallToolResult, listContextsOutput, error) {
	contexts, err := s.syncer.Contexts()
	if err != nil {
		return nil, listContextsOutput{}, fmt.Errorf("listing contexts: %w", err)
	}

	output := listContextsOutput{Contexts: contexts, Count: len(contexts)}

	names := make([]string, 0, len(contexts))
	for _, c := range contexts {
		names = append(names, c.Name)
	}
	text := fmt.Sprintf("%d context(s): %s", len(contexts), strings.Join(names, ", "))

	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}, output, nil
}

func dedupe(items []string) []string {
	seen := make(map[string]bool, len(items))
	var out []string
	for _, it := range items {
		if !seen[it] {
			seen[it] = true
			out = append(out, it)
		}
	}
	return out
}
