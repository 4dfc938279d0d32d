package repository

import (
	"context"
	"database/sql"
)

// CorrectionRepo records human re-categorizations for the feedback loop.
type CorrectionRepo struct{ db *sql.DB }

func NewCorrectionRepo(db *sql.DB) *CorrectionRepo { return &CorrectionRepo{db: db} }

func (r *CorrectionRepo) InsertTx(ctx context.Context, tx *sql.Tx, c Correction) error {
	_, err := tx.ExecContext(ctx, `
	INSERT INTO corrections(id, transaction_id, old_category, old_subcategory, new_category,
	 new_subcategory, pattern_key, reviewer_id, note, matched_rule_id, promoted_rule_id, created_at)
	VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
	`, c.ID, c.TransactionID, c.OldCategory, c.OldSubcategory, c.NewCategory, c.NewSubcategory,
		c.PatternKey, c.ReviewerID, c.Note, c.MatchedRuleID, c.PromotedRuleID)
	return err
}

// PendingTx returns unconsumed corrections sharing (patternKey, newCategory),
// oldest first, read inside the caller's transaction so the count and the
// promotion that follows see the same state.
func (r *CorrectionRepo) PendingTx(ctx context.Context, tx *sql.Tx, patternKey, newCategory string) ([]Correction, error) {
	rows, err := tx.QueryContext(ctx, `
	SELECT id, transaction_id, old_category, old_subcategory, new_category, new_subcategory,
	 pattern_key, reviewer_id, note, matched_rule_id, promoted_rule_id, created_at
	FROM corrections
	WHERE pattern_key = ? AND new_category = ? AND promoted_rule_id IS NULL
	ORDER BY created_at ASC, id ASC
	`, patternKey, newCategory)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanCorrections(rows)
}

// ConsumeTx stamps corrections with the rule their recurrence produced.
func (r *CorrectionRepo) ConsumeTx(ctx context.Context, tx *sql.Tx, ids []string, promotedRuleID string) error {
	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `UPDATE corrections SET promoted_rule_id = ? WHERE id = ?`, promotedRuleID, id); err != nil {
			return err
		}
	}
	return nil
}

// ListByTransaction returns corrections for one transaction, oldest first.
func (r *CorrectionRepo) ListByTransaction(ctx context.Context, transactionID string) ([]Correction, error) {
	rows, err := r.db.QueryContext(ctx, `
	SELECT id, transaction_id, old_category, old_subcategory, new_category, new_subcategory,
	 pattern_key, reviewer_id, note, matched_rule_id, promoted_rule_id, created_at
	FROM corrections WHERE transaction_id = ? ORDER BY created_at ASC, id ASC
	`, transactionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanCorrections(rows)
}

func scanCorrections(rows *sql.Rows) ([]Correction, error) {
	var out []Correction
	for rows.Next() {
		var c Correction
		var oldSub, newSub, matched, promoted sql.NullString
		if err := rows.Scan(&c.ID, &c.TransactionID, &c.OldCategory, &oldSub, &c.NewCategory, &newSub,
			&c.PatternKey, &c.ReviewerID, &c.Note, &matched, &promoted, &c.CreatedAt); err != nil {
			return nil, err
		}
		if oldSub.Valid {
			c.OldSubcategory = &oldSub.String
		}
		if newSub.Valid {
			c.NewSubcategory = &newSub.String
		}
		if matched.Valid {
			c.MatchedRuleID = &matched.String
		}
		if promoted.Valid {
			c.PromotedRuleID = &promoted.String
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
