package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newDedupeCommand() *cobra.Command {
	var account, period string

	cmd := &cobra.Command{
		Use:   "dedupe",
		Short: "Flag likely duplicate transactions within a statement period",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, eng *engine) error {
				report, err := eng.deduper.Detect(ctx, account, period)
				if err != nil {
					return err
				}
				fmt.Printf("examined %d transactions, flagged %d in %d groups\n",
					report.Examined, report.Flagged, len(report.Groups))
				for _, g := range report.Groups {
					fmt.Printf("  canonical %s <- %s (similarity %.2f)\n",
						g.CanonicalID, strings.Join(g.DuplicateIDs, ", "), g.Similarity)
				}
				if report.WindowTruncated {
					fmt.Println("  note: window truncated; narrow the period and re-run")
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&account, "account", "", "account id (required)")
	_ = cmd.MarkFlagRequired("account")
	cmd.Flags().StringVar(&period, "period", "", "statement period YYYY-MM (required)")
	_ = cmd.MarkFlagRequired("period")

	return cmd
}
