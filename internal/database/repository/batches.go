package repository

import (
	"context"
	"database/sql"
)

// BatchRepo persists one row per ingest run.
type BatchRepo struct{ db *sql.DB }

func NewBatchRepo(db *sql.DB) *BatchRepo { return &BatchRepo{db: db} }

func (r *BatchRepo) InsertTx(ctx context.Context, tx *sql.Tx, b ImportBatch) error {
	_, err := tx.ExecContext(ctx, `
	INSERT INTO import_batches(id, account_id, period, source, row_count, imported, skipped, flagged, created_at)
	VALUES(?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
	`, b.ID, b.AccountID, b.Period, b.Source, b.RowCount, b.Imported, b.Skipped, b.Flagged)
	return err
}

func (r *BatchRepo) List(ctx context.Context, accountID string) ([]ImportBatch, error) {
	rows, err := r.db.QueryContext(ctx, `
	SELECT id, account_id, period, source, row_count, imported, skipped, flagged, created_at
	FROM import_batches WHERE account_id = ? ORDER BY created_at DESC, id DESC
	`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ImportBatch
	for rows.Next() {
		var b ImportBatch
		if err := rows.Scan(&b.ID, &b.AccountID, &b.Period, &b.Source, &b.RowCount, &b.Imported,
			&b.Skipped, &b.Flagged, &b.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}
