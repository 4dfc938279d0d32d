package service

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hollis/countinghouse/internal/database"
)

// Maintenance houses destructive/ops actions surfaced through the CLI.
type Maintenance struct {
	DB *sql.DB
}

// Reset wipes all bookkeeping data. It keeps the schema intact so the
// engine can continue running, and resets the ruleset version to 1.
func (s *Maintenance) Reset(ctx context.Context) error {
	if s.DB == nil {
		return fmt.Errorf("maintenance: db not configured")
	}
	if err := database.WithTx(ctx, s.DB, func(tx *sql.Tx) error {
		// duplicate_of and parent_id are self-referential; null them so
		// row deletion order inside DELETE cannot trip the FK checks.
		if _, err := tx.ExecContext(ctx, "UPDATE transactions SET duplicate_of = NULL"); err != nil {
			return fmt.Errorf("reset: clear duplicate links: %w", err)
		}
		if _, err := tx.ExecContext(ctx, "UPDATE categories SET parent_id = NULL"); err != nil {
			return fmt.Errorf("reset: clear category parents: %w", err)
		}
		tables := []string{
			"reconciliation_matches",
			"reconciliation_runs",
			"transaction_events",
			"corrections",
			"transactions",
			"ledger_entries",
			"import_batches",
			"rules",
			"categories",
		}
		for _, t := range tables {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+t); err != nil {
				return fmt.Errorf("reset table %s: %w", t, err)
			}
		}
		if _, err := tx.ExecContext(ctx,
			"UPDATE ruleset_meta SET version = 1, updated_at = ?", database.Now()); err != nil {
			return fmt.Errorf("reset ruleset version: %w", err)
		}
		return nil
	}); err != nil {
		return err
	}
	_, _ = s.DB.ExecContext(ctx, "VACUUM")
	return nil
}
