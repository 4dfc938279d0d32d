package repository

import (
	"context"
	"database/sql"
)

// EventRepo appends audit records. Events are never updated or deleted.
type EventRepo struct{ db *sql.DB }

func NewEventRepo(db *sql.DB) *EventRepo { return &EventRepo{db: db} }

func (r *EventRepo) AppendTx(ctx context.Context, tx *sql.Tx, e TransactionEvent) error {
	_, err := tx.ExecContext(ctx, `
	INSERT INTO transaction_events(id, transaction_id, from_status, to_status, note, actor, created_at)
	VALUES(?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
	`, e.ID, e.TransactionID, e.FromStatus, e.ToStatus, e.Note, e.Actor)
	return err
}

func (r *EventRepo) ListByTransaction(ctx context.Context, transactionID string) ([]TransactionEvent, error) {
	rows, err := r.db.QueryContext(ctx, `
	SELECT id, transaction_id, from_status, to_status, note, actor, created_at
	FROM transaction_events WHERE transaction_id = ? ORDER BY created_at ASC, id ASC
	`, transactionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TransactionEvent
	for rows.Next() {
		var e TransactionEvent
		if err := rows.Scan(&e.ID, &e.TransactionID, &e.FromStatus, &e.ToStatus, &e.Note, &e.Actor, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
