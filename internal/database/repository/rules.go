package repository

import (
	"context"
	"database/sql"
	"time"
)

// RuleRepo stores categorization rules and the rule-set version.
type RuleRepo struct{ db *sql.DB }

func NewRuleRepo(db *sql.DB) *RuleRepo { return &RuleRepo{db: db} }

const ruleCols = `id, pattern, kind, category, subcategory, amount_min_cents, amount_max_cents,
 priority, weight, hit_count, last_used, active, source, created_at, updated_at`

func (r *RuleRepo) Insert(ctx context.Context, rule Rule) error {
	_, err := r.db.ExecContext(ctx, `
	INSERT INTO rules(id, pattern, kind, category, subcategory, amount_min_cents, amount_max_cents,
	 priority, weight, hit_count, last_used, active, source, created_at, updated_at)
	VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
	`, rule.ID, rule.Pattern, rule.Kind, rule.Category, rule.Subcategory, rule.AmountMinCents,
		rule.AmountMaxCents, rule.Priority, rule.Weight, rule.HitCount, rule.LastUsed, rule.Active, rule.Source)
	return err
}

// InsertTx inserts a rule inside an open transaction.
func (r *RuleRepo) InsertTx(ctx context.Context, tx *sql.Tx, rule Rule) error {
	_, err := tx.ExecContext(ctx, `
	INSERT INTO rules(id, pattern, kind, category, subcategory, amount_min_cents, amount_max_cents,
	 priority, weight, hit_count, last_used, active, source, created_at, updated_at)
	VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
	`, rule.ID, rule.Pattern, rule.Kind, rule.Category, rule.Subcategory, rule.AmountMinCents,
		rule.AmountMaxCents, rule.Priority, rule.Weight, rule.HitCount, rule.LastUsed, rule.Active, rule.Source)
	return err
}

func (r *RuleRepo) Get(ctx context.Context, id string) (*Rule, error) {
	return getRule(ctx, r.db, id)
}

// GetTx is Get inside an open transaction, for read-modify-write updates.
func (r *RuleRepo) GetTx(ctx context.Context, tx *sql.Tx, id string) (*Rule, error) {
	return getRule(ctx, tx, id)
}

func getRule(ctx context.Context, q querier, id string) (*Rule, error) {
	row := q.QueryRowContext(ctx, `SELECT `+ruleCols+` FROM rules WHERE id = ?`, id)
	rule, err := scanRule(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &rule, nil
}

// ListActive returns all active rules, highest priority first.
func (r *RuleRepo) ListActive(ctx context.Context) ([]Rule, error) {
	return r.queryMany(ctx, r.db, `SELECT `+ruleCols+` FROM rules WHERE active = 1 ORDER BY priority DESC, id ASC`)
}

// ListActiveTx is ListActive inside an open transaction.
func (r *RuleRepo) ListActiveTx(ctx context.Context, tx *sql.Tx) ([]Rule, error) {
	return r.queryMany(ctx, tx, `SELECT `+ruleCols+` FROM rules WHERE active = 1 ORDER BY priority DESC, id ASC`)
}

// List returns every rule including inactive ones.
func (r *RuleRepo) List(ctx context.Context) ([]Rule, error) {
	return r.queryMany(ctx, r.db, `SELECT `+ruleCols+` FROM rules ORDER BY priority DESC, id ASC`)
}

// FindActive looks up an active rule by exact (pattern, kind, category).
func (r *RuleRepo) FindActive(ctx context.Context, pattern, kind, category string) (*Rule, error) {
	return findActive(ctx, r.db, pattern, kind, category)
}

// FindActiveTx is FindActive inside an open transaction.
func (r *RuleRepo) FindActiveTx(ctx context.Context, tx *sql.Tx, pattern, kind, category string) (*Rule, error) {
	return findActive(ctx, tx, pattern, kind, category)
}

func findActive(ctx context.Context, q querier, pattern, kind, category string) (*Rule, error) {
	row := q.QueryRowContext(ctx, `
	SELECT `+ruleCols+` FROM rules WHERE active = 1 AND pattern = ? AND kind = ? AND category = ?
	`, pattern, kind, category)
	rule, err := scanRule(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &rule, nil
}

// UpdateWeightTx sets a rule's weight inside an open transaction.
func (r *RuleRepo) UpdateWeightTx(ctx context.Context, tx *sql.Tx, id string, weight float64) error {
	_, err := tx.ExecContext(ctx, `UPDATE rules SET weight = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, weight, id)
	return err
}

// PromoteTx raises an existing rule's weight and priority.
func (r *RuleRepo) PromoteTx(ctx context.Context, tx *sql.Tx, id string, weight float64, priority int) error {
	_, err := tx.ExecContext(ctx, `
	UPDATE rules SET weight = ?, priority = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?
	`, weight, priority, id)
	return err
}

// SetActive enables or disables a rule.
func (r *RuleRepo) SetActive(ctx context.Context, id string, active bool) error {
	_, err := r.db.ExecContext(ctx, `UPDATE rules SET active = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, active, id)
	return err
}

// SetActiveTx is SetActive inside an open transaction, so the toggle and the
// rule-set version bump commit together.
func (r *RuleRepo) SetActiveTx(ctx context.Context, tx *sql.Tx, id string, active bool) error {
	_, err := tx.ExecContext(ctx, `UPDATE rules SET active = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, active, id)
	return err
}

// RecordUseTx bumps hit_count and last_used for every id in ids.
func (r *RuleRepo) RecordUseTx(ctx context.Context, tx *sql.Tx, ids []string, usedAt time.Time) error {
	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `
		UPDATE rules SET hit_count = hit_count + 1, last_used = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?
		`, usedAt, id); err != nil {
			return err
		}
	}
	return nil
}

// Version returns the current rule-set version.
func (r *RuleRepo) Version(ctx context.Context) (int, error) {
	var v int
	err := r.db.QueryRowContext(ctx, `SELECT version FROM ruleset_meta WHERE id = 1`).Scan(&v)
	return v, err
}

// BumpVersionTx increments the rule-set version inside the same transaction
// as the rule mutation it records.
func (r *RuleRepo) BumpVersionTx(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `UPDATE ruleset_meta SET version = version + 1, updated_at = CURRENT_TIMESTAMP WHERE id = 1`)
	return err
}

func (r *RuleRepo) queryMany(ctx context.Context, q querier, query string, args ...interface{}) ([]Rule, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rule)
	}
	return out, rows.Err()
}

func scanRule(row scanner) (Rule, error) {
	var rule Rule
	var subcategory sql.NullString
	var amountMin, amountMax sql.NullInt64
	var lastUsed sql.NullTime
	if err := row.Scan(&rule.ID, &rule.Pattern, &rule.Kind, &rule.Category, &subcategory, &amountMin,
		&amountMax, &rule.Priority, &rule.Weight, &rule.HitCount, &lastUsed, &rule.Active, &rule.Source,
		&rule.CreatedAt, &rule.UpdatedAt); err != nil {
		return Rule{}, err
	}
	if subcategory.Valid {
		rule.Subcategory = &subcategory.String
	}
	if amountMin.Valid {
		rule.AmountMinCents = &amountMin.Int64
	}
	if amountMax.Valid {
		rule.AmountMaxCents = &amountMax.Int64
	}
	if lastUsed.Valid {
		rule.LastUsed = &lastUsed.Time
	}
	return rule, nil
}
