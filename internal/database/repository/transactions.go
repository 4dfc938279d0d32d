package repository

import (
	"context"
	"database/sql"
	"strings"
	"time"
)

// querier is satisfied by both *sql.DB and *sql.Tx so read helpers can run
// standalone or inside an open transaction.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// TransactionFilters defines list filters.
type TransactionFilters struct {
	AccountID string
	BatchID   string
	Status    string
	Category  string
	From      time.Time // zero = unbounded
	To        time.Time // exclusive; zero = unbounded
	Search    string
}

// TransactionRepo handles transactions.
type TransactionRepo struct {
	db *sql.DB
}

func NewTransactionRepo(db *sql.DB) *TransactionRepo { return &TransactionRepo{db: db} }

const transactionCols = `id, account_id, batch_id, date, amount_cents, currency, raw_description,
 norm_description, category, subcategory, confidence, status, duplicate_of, duplicate_similarity,
 matched_rule_id, source_hash, created_at, updated_at`

// InsertTx inserts t inside an open transaction. The id and source_hash both
// derive from the same identity key, so a re-imported row collides on both;
// the conflict is not an error: the row is left untouched and inserted=false
// is returned, which makes re-importing the same file a no-op.
func (r *TransactionRepo) InsertTx(ctx context.Context, tx *sql.Tx, t Transaction) (bool, error) {
	res, err := tx.ExecContext(ctx, `
	INSERT INTO transactions(
	 id, account_id, batch_id, date, amount_cents, currency, raw_description, norm_description,
	 category, subcategory, confidence, status, duplicate_of, duplicate_similarity, matched_rule_id,
	 source_hash, created_at, updated_at)
	VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
	ON CONFLICT DO NOTHING;
	`,
		t.ID, t.AccountID, t.BatchID, t.Date, t.AmountCents, t.Currency, t.RawDescription,
		t.NormDescription, t.Category, t.Subcategory, t.Confidence, t.Status, t.DuplicateOf,
		t.DuplicateSimilarity, t.MatchedRuleID, t.SourceHash)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *TransactionRepo) Get(ctx context.Context, id string) (*Transaction, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+transactionCols+` FROM transactions WHERE id = ?`, id)
	t, err := scanTransaction(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &t, nil
}

func (r *TransactionRepo) List(ctx context.Context, f TransactionFilters) ([]Transaction, error) {
	var where []string
	var args []interface{}

	if f.AccountID != "" {
		where = append(where, "account_id = ?")
		args = append(args, f.AccountID)
	}
	if f.BatchID != "" {
		where = append(where, "batch_id = ?")
		args = append(args, f.BatchID)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, f.Status)
	}
	if f.Category != "" {
		where = append(where, "category = ?")
		args = append(args, f.Category)
	}
	if !f.From.IsZero() {
		where = append(where, "date >= ?")
		args = append(args, f.From)
	}
	if !f.To.IsZero() {
		where = append(where, "date < ?")
		args = append(args, f.To)
	}
	if f.Search != "" {
		where = append(where, "raw_description LIKE ?")
		args = append(args, "%"+f.Search+"%")
	}

	query := `SELECT ` + transactionCols + ` FROM transactions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY date DESC, id DESC"

	return queryTransactions(ctx, r.db, query, args...)
}

// CountWindow counts non-duplicate rows for the account inside [from, to].
func (r *TransactionRepo) CountWindow(ctx context.Context, accountID string, from, to time.Time) (int, error) {
	return countWindow(ctx, r.db, accountID, from, to)
}

// CountWindowTx is CountWindow inside an open transaction.
func (r *TransactionRepo) CountWindowTx(ctx context.Context, tx *sql.Tx, accountID string, from, to time.Time) (int, error) {
	return countWindow(ctx, tx, accountID, from, to)
}

func countWindow(ctx context.Context, q querier, accountID string, from, to time.Time) (int, error) {
	var n int
	err := q.QueryRowContext(ctx, `
	SELECT COUNT(*) FROM transactions
	WHERE account_id = ? AND duplicate_of IS NULL AND date >= ? AND date <= ?
	`, accountID, from, to).Scan(&n)
	return n, err
}

// ListWindow returns up to limit non-duplicate rows for the account inside
// [from, to], newest first (date desc, id desc) so a capped window keeps the
// most recent activity.
func (r *TransactionRepo) ListWindow(ctx context.Context, accountID string, from, to time.Time, limit int) ([]Transaction, error) {
	return listWindow(ctx, r.db, accountID, from, to, limit)
}

// ListWindowTx is ListWindow inside an open transaction.
func (r *TransactionRepo) ListWindowTx(ctx context.Context, tx *sql.Tx, accountID string, from, to time.Time, limit int) ([]Transaction, error) {
	return listWindow(ctx, tx, accountID, from, to, limit)
}

func listWindow(ctx context.Context, q querier, accountID string, from, to time.Time, limit int) ([]Transaction, error) {
	return queryTransactions(ctx, q, `
	SELECT `+transactionCols+` FROM transactions
	WHERE account_id = ? AND duplicate_of IS NULL AND date >= ? AND date <= ?
	ORDER BY date DESC, id DESC LIMIT ?
	`, accountID, from, to, limit)
}

// ListReconcilable returns transactions eligible for ledger matching:
// categorized (approved, still flagged, or a previous run's exception), not
// a duplicate, and not already actively matched. Exceptions stay eligible so
// a re-run against a corrected snapshot can pick them up.
func (r *TransactionRepo) ListReconcilable(ctx context.Context, accountID string, from, to time.Time) ([]Transaction, error) {
	return listReconcilable(ctx, r.db, accountID, from, to)
}

// ListReconcilableTx is ListReconcilable inside an open transaction.
func (r *TransactionRepo) ListReconcilableTx(ctx context.Context, tx *sql.Tx, accountID string, from, to time.Time) ([]Transaction, error) {
	return listReconcilable(ctx, tx, accountID, from, to)
}

func listReconcilable(ctx context.Context, q querier, accountID string, from, to time.Time) ([]Transaction, error) {
	return queryTransactions(ctx, q, `
	SELECT `+transactionCols+` FROM transactions
	WHERE account_id = ? AND date >= ? AND date < ?
	  AND status IN (?, ?, ?)
	  AND duplicate_of IS NULL
	  AND id NOT IN (SELECT transaction_id FROM reconciliation_matches WHERE status = 'active')
	ORDER BY date ASC, id ASC
	`, accountID, from, to, StatusApproved, StatusFlaggedReview, StatusReconciledException)
}

// MarkDuplicateTx flags id as a duplicate of canonicalID.
func (r *TransactionRepo) MarkDuplicateTx(ctx context.Context, tx *sql.Tx, id, canonicalID string, similarity float64) error {
	_, err := tx.ExecContext(ctx, `
	UPDATE transactions SET duplicate_of = ?, duplicate_similarity = ?, updated_at = CURRENT_TIMESTAMP
	WHERE id = ?`, canonicalID, similarity, id)
	return err
}

// UpdateCategoryTx rewrites the active categorization of id. History stays in
// transaction_events; the row always carries exactly one active category.
func (r *TransactionRepo) UpdateCategoryTx(ctx context.Context, tx *sql.Tx, id, category string, subcategory *string, confidence float64, status string, matchedRuleID *string) error {
	_, err := tx.ExecContext(ctx, `
	UPDATE transactions SET category = ?, subcategory = ?, confidence = ?, status = ?,
	 matched_rule_id = ?, updated_at = CURRENT_TIMESTAMP
	WHERE id = ?`, category, subcategory, confidence, status, matchedRuleID, id)
	return err
}

// UpdateStatusTx moves id to status inside an open transaction.
func (r *TransactionRepo) UpdateStatusTx(ctx context.Context, tx *sql.Tx, id, status string) error {
	_, err := tx.ExecContext(ctx, `UPDATE transactions SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, status, id)
	return err
}

// DuplicateMembers returns all transactions flagged onto a canonical id.
func (r *TransactionRepo) DuplicateMembers(ctx context.Context, canonicalID string) ([]Transaction, error) {
	return duplicateMembers(ctx, r.db, canonicalID)
}

// DuplicateMembersTx is DuplicateMembers inside an open transaction.
func (r *TransactionRepo) DuplicateMembersTx(ctx context.Context, tx *sql.Tx, canonicalID string) ([]Transaction, error) {
	return duplicateMembers(ctx, tx, canonicalID)
}

func duplicateMembers(ctx context.Context, q querier, canonicalID string) ([]Transaction, error) {
	return queryTransactions(ctx, q, `
	SELECT `+transactionCols+` FROM transactions WHERE duplicate_of = ? ORDER BY date ASC, id ASC
	`, canonicalID)
}

func queryTransactions(ctx context.Context, q querier, query string, args ...interface{}) ([]Transaction, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// scanTransaction handles nullable fields for both Row and Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanTransaction(row scanner) (Transaction, error) {
	var t Transaction
	var subcategory, duplicateOf, matchedRule sql.NullString
	var duplicateSim sql.NullFloat64
	if err := row.Scan(&t.ID, &t.AccountID, &t.BatchID, &t.Date, &t.AmountCents, &t.Currency,
		&t.RawDescription, &t.NormDescription, &t.Category, &subcategory, &t.Confidence, &t.Status,
		&duplicateOf, &duplicateSim, &matchedRule, &t.SourceHash, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return Transaction{}, err
	}
	if subcategory.Valid {
		t.Subcategory = &subcategory.String
	}
	if duplicateOf.Valid {
		t.DuplicateOf = &duplicateOf.String
	}
	if duplicateSim.Valid {
		t.DuplicateSimilarity = &duplicateSim.Float64
	}
	if matchedRule.Valid {
		t.MatchedRuleID = &matchedRule.String
	}
	return t, nil
}
