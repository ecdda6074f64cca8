package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/corpusd/internal/search"
)

var (
	searchTopK     int
	searchContext  string
	searchWorkItem string
	searchTag      string
	searchJSON     bool
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Hybrid search over the indexed corpus",
	Long: `Search the indexed corpus by combining keyword and semantic
similarity ranking.

Examples:
  # Plain query
  corpusd search "token rotation"

  # Restrict to one context (top-level topic directory)
  corpusd search --context ProjA "token rotation"

  # Restrict to a work item
  corpusd search --work-item PROJ-123 "billing retries"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSearch,
}

func init() {
	searchCmd.Flags().IntVarP(&searchTopK, "top-k", "k", 0, "maximum results (default 10)")
	searchCmd.Flags().StringVar(&searchContext, "context", "", "restrict to one context label")
	searchCmd.Flags().StringVar(&searchWorkItem, "work-item", "", "restrict to one work item (e.g. PROJ-123)")
	searchCmd.Flags().StringVar(&searchTag, "tag", "", "restrict to chunks carrying this keyword tag")
	searchCmd.Flags().BoolVar(&searchJSON, "json", false, "print hits as JSON")
}

func runSearch(cmd *cobra.Command, args []string) error {
	a, err := buildApp(configFile)
	if err != nil {
		return err
	}
	defer a.Close()

	hits, err := a.retriever.Search(cmd.Context(), search.Query{
		Text:     strings.Join(args, " "),
		TopK:     searchTopK,
		Context:  searchContext,
		WorkItem: searchWorkItem,
		Keyword:  searchTag,
	})
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	if searchJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(hits)
	}

	if len(hits) == 0 {
		fmt.Println("No results.")
		return nil
	}

	for i, h := range hits {
		title := h.Title
		if title == "" {
			title = h.Path
		}
		fmt.Printf("%2d. [%.3f] %s (%s)\n", i+1, h.Score, title, h.Context)
		fmt.Printf("    %s#%d via %s\n", h.Path, h.Ordinal, strings.Join(h.Sources, "+"))
		fmt.Printf("    %s\n", excerpt(h.Text, 160))
	}
	return nil
}

// excerpt trims text to a single display line.
func excerpt(text string, max int) string {
	text = strings.Join(strings.Fields(text), " ")
	if len(text) <= max {
		return text
	}
	return text[:max] + "..."
}
