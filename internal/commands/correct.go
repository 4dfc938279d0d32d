package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hollis/countinghouse/internal/service"
)

func newCorrectCommand() *cobra.Command {
	var category, subcategory, reviewer, note string

	cmd := &cobra.Command{
		Use:   "correct <transaction-id>",
		Short: "Re-categorize a transaction and feed the correction back into the rules",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, eng *engine) error {
				c := service.Correction{
					TransactionID: args[0],
					NewCategory:   category,
					ReviewerID:    reviewer,
					Note:          note,
				}
				if subcategory != "" {
					c.NewSubcategory = &subcategory
				}
				outcome, err := eng.feedback.Apply(ctx, c)
				if err != nil {
					return err
				}
				fmt.Printf("corrected %s: %s -> %s\n",
					outcome.TransactionID, outcome.OldCategory, outcome.NewCategory)
				if outcome.Downweighted != nil {
					fmt.Printf("  rule %s weight %.3f -> %.3f\n",
						outcome.Downweighted.RuleID, outcome.Downweighted.Old, outcome.Downweighted.New)
				}
				if outcome.PromotedRule != nil {
					fmt.Printf("  promoted rule %s: %q -> %s (priority %d, weight %.2f)\n",
						outcome.PromotedRule.ID, outcome.PromotedRule.Pattern,
						outcome.PromotedRule.Category, outcome.PromotedRule.Priority,
						outcome.PromotedRule.Weight)
				} else if outcome.Pending > 0 {
					fmt.Printf("  %d correction(s) recorded for pattern %q\n",
						outcome.Pending, outcome.PatternKey)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&category, "category", "", "corrected category (required)")
	_ = cmd.MarkFlagRequired("category")
	cmd.Flags().StringVar(&subcategory, "subcategory", "", "corrected subcategory")
	cmd.Flags().StringVar(&reviewer, "reviewer", "", "reviewer id (required)")
	_ = cmd.MarkFlagRequired("reviewer")
	cmd.Flags().StringVar(&note, "note", "", "reviewer note")

	return cmd
}
