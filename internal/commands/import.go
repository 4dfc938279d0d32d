package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hollis/countinghouse/internal/database/repository"
	"github.com/hollis/countinghouse/internal/service"
)

func newImportCommand() *cobra.Command {
	var account, period, source string

	cmd := &cobra.Command{
		Use:   "import <batch-file>",
		Short: "Import a statement batch (CSV or JSON) and categorize it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, eng *engine) error {
				return runImport(ctx, eng, args[0], account, period, source)
			})
		},
	}

	cmd.Flags().StringVar(&account, "account", "", "account id (required)")
	_ = cmd.MarkFlagRequired("account")
	cmd.Flags().StringVar(&period, "period", "", "statement period YYYY-MM (required)")
	_ = cmd.MarkFlagRequired("period")
	cmd.Flags().StringVar(&source, "source", "", "batch source label")

	return cmd
}

func runImport(ctx context.Context, eng *engine, path, account, period, source string) error {
	batch, err := readBatchFile(path, account, period, source)
	if err != nil {
		return err
	}

	report, err := eng.importer.Import(ctx, batch)
	if err != nil {
		return err
	}

	fmt.Printf("batch %s: %d rows, %d imported, %d already present, %d approved, %d flagged for review\n",
		report.BatchID, report.Rows, report.Imported, report.Skipped,
		report.AutoCategorized, report.Flagged)
	for _, s := range report.SkippedRows {
		fmt.Printf("  skipped %s\n", s.Reason)
	}
	for _, g := range report.DuplicateGroups {
		fmt.Printf("  duplicates: canonical %s <- %s (similarity %.2f)\n",
			g.CanonicalID, strings.Join(g.DuplicateIDs, ", "), g.Similarity)
	}
	if report.WindowTruncated {
		fmt.Println("  note: duplicate window truncated, run dedupe over the full period")
	}
	for _, r := range report.Results {
		if r.Status == repository.StatusFlaggedReview {
			fmt.Printf("  review %s  %s (confidence %.2f)\n", r.TransactionID, r.Category, r.Confidence)
		}
	}
	return nil
}

func readBatchFile(path, account, period, source string) (service.TransactionBatch, error) {
	f, err := os.Open(path)
	if err != nil {
		return service.TransactionBatch{}, fmt.Errorf("opening batch file: %w", err)
	}
	defer f.Close()

	if strings.EqualFold(filepath.Ext(path), ".json") {
		return service.ReadBatchJSON(f, account, period, source)
	}
	return service.ReadBatchCSV(f, account, period, source)
}
