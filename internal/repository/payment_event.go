package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/servimarket/payments-engine/internal/domain"
)

type PaymentEventRepository struct {
	db *sql.DB
}

func NewPaymentEventRepository(db *sql.DB) *PaymentEventRepository {
	return &PaymentEventRepository{db: db}
}

// Insert records a gateway event id in the idempotency ledger. The unique
// constraint does the dedup atomically: false means the event was already
// seen and no side effects may be applied. Check-then-insert would race, so
// this is the only dedup mechanism.
func (r *PaymentEventRepository) Insert(ctx context.Context, tx *sql.Tx, event *domain.PaymentEvent) (bool, error) {
	res, err := tx.ExecContext(ctx,
		`INSERT INTO payment_events (external_event_id, payload_digest, received_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (external_event_id) DO NOTHING`,
		event.ExternalEventID, event.PayloadDigest, event.ReceivedAt,
	)
	if err != nil {
		return false, fmt.Errorf("Insert: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("Insert: rows affected: %w", err)
	}
	return rows == 1, nil
}
