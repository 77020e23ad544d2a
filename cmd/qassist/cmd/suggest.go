package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/amanbi/qassist/internal/output"
)

func newSuggestCmd() *cobra.Command {
	var (
		user   string
		limit  int
		format string
	)

	cmd := &cobra.Command{
		Use:   "suggest <query>",
		Short: "Get ranked query suggestions for a partial or complete query",
		Long: `Runs the full get_suggestions pipeline (spec §4.10): Oracle query
expansion, hybrid lexical+vector search over the original and expanded
queries, personalized ranking, and prefix completion for long in-progress
queries.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSuggest(cmd, args[0], user, limit, format)
		},
	}

	cmd.Flags().StringVar(&user, "user", "", "User ID for personalization")
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "Maximum number of suggestions")
	cmd.Flags().StringVarP(&format, "format", "f", "text", "Output format: text, json")
	return cmd
}

func runSuggest(cmd *cobra.Command, query, user string, limit int, format string) error {
	ctx := context.Background()
	out := output.New(cmd.OutOrStdout())

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	eng, err := buildEngine(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to build engine: %w", err)
	}
	defer eng.Close()

	suggestions, err := eng.GetSuggestions(ctx, query, user, limit)
	if err != nil {
		return fmt.Errorf("get_suggestions failed: %w", err)
	}

	return formatSuggestions(cmd, out, query, format, suggestions)
}
