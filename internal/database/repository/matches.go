package repository

import (
	"context"
	"database/sql"
)

// MatchRepo stores reconciliation matches and run summaries.
type MatchRepo struct{ db *sql.DB }

func NewMatchRepo(db *sql.DB) *MatchRepo { return &MatchRepo{db: db} }

// InsertTx adds an active match. The partial unique indexes reject a second
// active match for either side, keeping the matching one-to-one.
func (r *MatchRepo) InsertTx(ctx context.Context, tx *sql.Tx, m ReconciliationMatch) error {
	_, err := tx.ExecContext(ctx, `
	INSERT INTO reconciliation_matches(id, transaction_id, ledger_entry_id, match_type,
	 date_delta_days, amount_delta_cents, period, status, created_at)
	VALUES(?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
	`, m.ID, m.TransactionID, m.LedgerEntryID, m.MatchType, m.DateDeltaDays, m.AmountDeltaCents,
		m.Period, m.Status)
	return err
}

// SupersedeForTransactionTx retires any active match held by the transaction,
// freeing the ledger side for a future run. It reports whether a match was
// actually retired.
func (r *MatchRepo) SupersedeForTransactionTx(ctx context.Context, tx *sql.Tx, transactionID string) (bool, error) {
	res, err := tx.ExecContext(ctx, `
	UPDATE reconciliation_matches SET status = 'superseded' WHERE transaction_id = ? AND status = 'active'
	`, transactionID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ListByPeriod returns the active matches recorded for an account period.
func (r *MatchRepo) ListByPeriod(ctx context.Context, accountID, period string) ([]ReconciliationMatch, error) {
	rows, err := r.db.QueryContext(ctx, `
	SELECT m.id, m.transaction_id, m.ledger_entry_id, m.match_type, m.date_delta_days,
	 m.amount_delta_cents, m.period, m.status, m.created_at
	FROM reconciliation_matches m
	JOIN transactions t ON t.id = m.transaction_id
	WHERE t.account_id = ? AND m.period = ? AND m.status = 'active'
	ORDER BY m.created_at ASC, m.id ASC
	`, accountID, period)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ReconciliationMatch
	for rows.Next() {
		var m ReconciliationMatch
		if err := rows.Scan(&m.ID, &m.TransactionID, &m.LedgerEntryID, &m.MatchType, &m.DateDeltaDays,
			&m.AmountDeltaCents, &m.Period, &m.Status, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// InsertRunTx persists the summary of one reconciliation pass.
func (r *MatchRepo) InsertRunTx(ctx context.Context, tx *sql.Tx, run ReconciliationRun) error {
	_, err := tx.ExecContext(ctx, `
	INSERT INTO reconciliation_runs(id, account_id, period, matched, exceptions_tx,
	 exceptions_ledger, total_debits_cents, total_credits_cents, created_at)
	VALUES(?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
	`, run.ID, run.AccountID, run.Period, run.Matched, run.ExceptionsTx, run.ExceptionsLedger,
		run.TotalDebitsCents, run.TotalCreditsCents)
	return err
}

// ListRuns returns run summaries for an account, newest first.
func (r *MatchRepo) ListRuns(ctx context.Context, accountID string) ([]ReconciliationRun, error) {
	rows, err := r.db.QueryContext(ctx, `
	SELECT id, account_id, period, matched, exceptions_tx, exceptions_ledger,
	 total_debits_cents, total_credits_cents, created_at
	FROM reconciliation_runs WHERE account_id = ? ORDER BY created_at DESC, id DESC
	`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ReconciliationRun
	for rows.Next() {
		var run ReconciliationRun
		if err := rows.Scan(&run.ID, &run.AccountID, &run.Period, &run.Matched, &run.ExceptionsTx,
			&run.ExceptionsLedger, &run.TotalDebitsCents, &run.TotalCreditsCents, &run.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}
