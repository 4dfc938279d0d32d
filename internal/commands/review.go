package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hollis/countinghouse/internal/database/repository"
	"github.com/hollis/countinghouse/internal/money"
)

func newReviewCommand() *cobra.Command {
	var account string

	cmd := &cobra.Command{
		Use:   "review",
		Short: "List transactions waiting for human review",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, eng *engine) error {
				queue, err := eng.transactions.List(ctx, repository.TransactionFilters{
					AccountID: account,
					Status:    repository.StatusFlaggedReview,
				})
				if err != nil {
					return err
				}
				if len(queue) == 0 {
					fmt.Println("review queue is empty")
					return nil
				}
				fmt.Printf("%d transactions waiting for review\n", len(queue))
				for _, t := range queue {
					fmt.Printf("  %s  %s  %12s  %-20s %.2f  %q\n",
						t.ID, t.Date.Format("2006-01-02"), money.FormatCents(t.AmountCents),
						t.Category, t.Confidence, t.RawDescription)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&account, "account", "", "limit to one account")

	return cmd
}
