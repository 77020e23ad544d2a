package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/amanbi/qassist/internal/output"
)

func newFeedbackCmd() *cobra.Command {
	var user string

	cmd := &cobra.Command{
		Use:   "feedback <query> <selected>",
		Short: "Record that a user selected one suggestion for a query",
		Long: `Runs record_feedback (spec §4.5): updates the BehaviorStore's
history, last-selection preference, global popularity, and sequence
edges for this user's prior query, feeding future personalization.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFeedback(cmd, args[0], args[1], user)
		},
	}

	cmd.Flags().StringVar(&user, "user", "", "User ID the selection belongs to")
	return cmd
}

func runFeedback(cmd *cobra.Command, query, selected, user string) error {
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

	if err := eng.RecordFeedback(ctx, query, selected, user, time.Now()); err != nil {
		return fmt.Errorf("record_feedback failed: %w", err)
	}

	out.Success("Feedback recorded")
	return nil
}
