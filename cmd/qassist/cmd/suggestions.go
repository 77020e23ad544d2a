package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/amanbi/qassist/internal/model"
	"github.com/amanbi/qassist/internal/output"
)

// formatSuggestions renders a suggestion list either as text (via out) or
// as JSON to cmd's stdout, the dual-path shape every suggestion-returning
// subcommand shares.
func formatSuggestions(cmd *cobra.Command, out *output.Writer, query, format string, suggestions []model.Suggestion) error {
	if format == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(suggestions)
	}

	if len(suggestions) == 0 {
		out.Status("", fmt.Sprintf("No suggestions for %q", query))
		return nil
	}

	out.Statusf("", "%d suggestions for %q:", len(suggestions), query)
	out.Newline()
	for i, s := range suggestions {
		out.Statusf("", "%d. %s (score: %.3f, source: %s)", i+1, s.Text, s.Score, s.Source)
	}
	return nil
}
