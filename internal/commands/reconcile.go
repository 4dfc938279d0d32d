package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hollis/countinghouse/internal/money"
	"github.com/hollis/countinghouse/internal/service"
)

func newReconcileCommand() *cobra.Command {
	var account, period, ledgerFile string

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Match approved transactions against a ledger snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, eng *engine) error {
				return runReconcile(ctx, eng, account, period, ledgerFile)
			})
		},
	}

	cmd.Flags().StringVar(&account, "account", "", "account id (required)")
	_ = cmd.MarkFlagRequired("account")
	cmd.Flags().StringVar(&period, "period", "", "statement period YYYY-MM (required)")
	_ = cmd.MarkFlagRequired("period")
	cmd.Flags().StringVar(&ledgerFile, "ledger", "", "ledger snapshot (CSV or JSON) to load before matching")

	return cmd
}

func runReconcile(ctx context.Context, eng *engine, account, period, ledgerFile string) error {
	if ledgerFile != "" {
		snap, err := readLedgerFile(ledgerFile, account)
		if err != nil {
			return err
		}
		n, err := eng.reconciler.LoadSnapshot(ctx, snap)
		if err != nil {
			return err
		}
		fmt.Printf("loaded %d ledger entries\n", n)
	}

	report, err := eng.reconciler.Reconcile(ctx, account, period)
	if err != nil {
		return err
	}

	fmt.Printf("%s %s: %d matched, %d transaction exceptions, %d ledger exceptions\n",
		report.AccountID, report.Period, len(report.Matched),
		len(report.ExceptionsTransactions), len(report.ExceptionsLedger))
	fmt.Printf("  debits %s, credits %s, net %s\n",
		money.FormatCents(report.TotalDebitsCents),
		money.FormatCents(report.TotalCreditsCents),
		money.FormatCents(report.NetChangeCents))
	for _, t := range report.ExceptionsTransactions {
		fmt.Printf("  unmatched transaction %s %s %s %q\n",
			t.ID, t.Date.Format("2006-01-02"), money.FormatCents(t.AmountCents), t.RawDescription)
	}
	for _, e := range report.ExceptionsLedger {
		fmt.Printf("  unmatched ledger entry %s %s %s %q\n",
			e.ID, e.Date.Format("2006-01-02"), money.FormatCents(e.AmountCents), e.Description)
	}
	for _, t := range report.LargeAmounts {
		fmt.Printf("  large amount %s %s %q\n", t.ID, money.FormatCents(t.AmountCents), t.RawDescription)
	}
	for _, t := range report.RoundAmounts {
		fmt.Printf("  round amount %s %s %q\n", t.ID, money.FormatCents(t.AmountCents), t.RawDescription)
	}
	return nil
}

func readLedgerFile(path, account string) (service.LedgerSnapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return service.LedgerSnapshot{}, fmt.Errorf("opening ledger file: %w", err)
	}
	defer f.Close()

	if strings.EqualFold(filepath.Ext(path), ".json") {
		return service.ReadLedgerJSON(f, account)
	}
	return service.ReadLedgerCSV(f, account)
}
