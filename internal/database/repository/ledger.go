package repository

import (
	"context"
	"database/sql"
	"time"
)

// LedgerRepo stores read-only ledger snapshots for reconciliation. Entries
// are upserted verbatim; the engine never edits ledger data.
type LedgerRepo struct{ db *sql.DB }

func NewLedgerRepo(db *sql.DB) *LedgerRepo { return &LedgerRepo{db: db} }

func (r *LedgerRepo) UpsertTx(ctx context.Context, tx *sql.Tx, e LedgerEntry) error {
	_, err := tx.ExecContext(ctx, `
	INSERT INTO ledger_entries(id, account_id, date, amount_cents, description, created_at)
	VALUES(?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
	ON CONFLICT(id) DO UPDATE SET
	 account_id=excluded.account_id,
	 date=excluded.date,
	 amount_cents=excluded.amount_cents,
	 description=excluded.description;
	`, e.ID, e.AccountID, e.Date, e.AmountCents, e.Description)
	return err
}

// ListUnmatched returns snapshot entries for the account in [from, to) that
// have no active reconciliation match.
func (r *LedgerRepo) ListUnmatched(ctx context.Context, accountID string, from, to time.Time) ([]LedgerEntry, error) {
	return listUnmatched(ctx, r.db, accountID, from, to)
}

// ListUnmatchedTx is ListUnmatched inside an open transaction.
func (r *LedgerRepo) ListUnmatchedTx(ctx context.Context, tx *sql.Tx, accountID string, from, to time.Time) ([]LedgerEntry, error) {
	return listUnmatched(ctx, tx, accountID, from, to)
}

func listUnmatched(ctx context.Context, q querier, accountID string, from, to time.Time) ([]LedgerEntry, error) {
	rows, err := q.QueryContext(ctx, `
	SELECT id, account_id, date, amount_cents, description, created_at FROM ledger_entries
	WHERE account_id = ? AND date >= ? AND date < ?
	  AND id NOT IN (SELECT ledger_entry_id FROM reconciliation_matches WHERE status = 'active')
	ORDER BY date ASC, id ASC
	`, accountID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanLedgerEntries(rows)
}

func (r *LedgerRepo) List(ctx context.Context, accountID string, from, to time.Time) ([]LedgerEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
	SELECT id, account_id, date, amount_cents, description, created_at FROM ledger_entries
	WHERE account_id = ? AND date >= ? AND date < ?
	ORDER BY date ASC, id ASC
	`, accountID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanLedgerEntries(rows)
}

func scanLedgerEntries(rows *sql.Rows) ([]LedgerEntry, error) {
	var out []LedgerEntry
	for rows.Next() {
		var e LedgerEntry
		if err := rows.Scan(&e.ID, &e.AccountID, &e.Date, &e.AmountCents, &e.Description, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
