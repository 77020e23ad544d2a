package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/amanbi/qassist/internal/output"
)

func newRelatedCmd() *cobra.Command {
	var (
		user   string
		limit  int
		format string
	)

	cmd := &cobra.Command{
		Use:   "related <query>",
		Short: "Find queries related to a query via sequence and history",
		Long:  `Runs get_related_queries (spec §4.10): behavior-store sequence edges (what users asked next/before) and Oracle-generated related queries, blended with recent history.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRelated(cmd, args[0], user, limit, format)
		},
	}

	cmd.Flags().StringVar(&user, "user", "", "User ID for personalization")
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "Maximum number of results")
	cmd.Flags().StringVarP(&format, "format", "f", "text", "Output format: text, json")
	return cmd
}

func runRelated(cmd *cobra.Command, query, user string, limit int, format string) error {
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

	suggestions, err := eng.GetRelatedQueries(ctx, query, user, limit)
	if err != nil {
		return fmt.Errorf("get_related_queries failed: %w", err)
	}

	return formatSuggestions(cmd, out, query, format, suggestions)
}
