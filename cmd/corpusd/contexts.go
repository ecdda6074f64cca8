package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var contextsJSON bool

var contextsCmd = &cobra.Command{
	Use:   "contexts",
	Short: "List indexed context labels",
	Long: `List the context labels (top-level topic directories) known to
the index, with file and chunk counts.`,
	RunE: runContexts,
}

func init() {
	contextsCmd.Flags().BoolVar(&contextsJSON, "json", false, "print contexts as JSON")
}

func runContexts(cmd *cobra.Command, args []string) error {
	a, err := buildApp(configFile)
	if err != nil {
		return err
	}
	defer a.Close()

	contexts, err := a.syncer.Contexts()
	if err != nil {
		return fmt.Errorf("listing contexts: %w", err)
	}

	if contextsJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(contexts)
	}

	if len(contexts) == 0 {
		fmt.Println("No contexts indexed yet. Run `corpusd sync` first.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "CONTEXT\tFILES\tCHUNKS")
	for _, c := range contexts {
		fmt.Fprintf(w, "%s\t%d\t%d\n", c.Name, c.Files, c.Chunks)
	}
	return w.Flush()
}
