package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/servimarket/payments-engine/internal/domain"
)

const paymentColumns = `id, booking_id, order_id, amount, currency, status,
	external_reference_id, commission, processing_fee, provider_amount,
	failure_reason, created_at, updated_at, succeeded_at`

type PaymentRepository struct {
	db *sql.DB
}

func NewPaymentRepository(db *sql.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

// Create inserts the pending payment. The partial unique indexes on
// booking_id/order_id close the race between concurrent intent requests; a
// unique violation surfaces as ErrActivePaymentExists.
func (r *PaymentRepository) Create(ctx context.Context, tx *sql.Tx, p *domain.Payment) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO payments (
			id, booking_id, order_id, amount, currency, status,
			external_reference_id, commission, processing_fee, provider_amount,
			failure_reason, created_at, updated_at, succeeded_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		p.ID, p.BookingID, p.OrderID, p.Amount, p.Currency, p.Status,
		p.ExternalReferenceID, p.Commission, p.ProcessingFee, p.ProviderAmount,
		p.FailureReason, p.CreatedAt, p.UpdatedAt, p.SucceededAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("Create: %w", domain.ErrActivePaymentExists)
		}
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

func (r *PaymentRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Payment, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id,
	)
	p, err := scanPayment(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByID: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetByID: %w", err)
	}
	return p, nil
}

// GetActiveByBookingID returns the non-terminal payment for a booking, if
// any. This is the friendly pre-check; the unique index is the authority.
func (r *PaymentRepository) GetActiveByBookingID(ctx context.Context, bookingID uuid.UUID) (*domain.Payment, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payments
		WHERE booking_id = $1 AND status IN ('pending', 'processing')`,
		bookingID,
	)
	p, err := scanPayment(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetActiveByBookingID: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetActiveByBookingID: %w", err)
	}
	return p, nil
}

// GetByExternalRefForUpdate locks the payment row for the duration of the
// reconciliation transaction so concurrent deliveries serialize here.
func (r *PaymentRepository) GetByExternalRefForUpdate(ctx context.Context, tx *sql.Tx, ref string) (*domain.Payment, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE external_reference_id = $1 FOR UPDATE`,
		ref,
	)
	p, err := scanPayment(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByExternalRefForUpdate: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetByExternalRefForUpdate: %w", err)
	}
	return p, nil
}

// UpdateStatusIf advances the payment only when its stored status still
// matches the state the caller observed. Zero rows means a concurrent
// transition won; the caller must not assume its write applied.
func (r *PaymentRepository) UpdateStatusIf(ctx context.Context, tx *sql.Tx, id uuid.UUID, from, to domain.PaymentStatus, failureReason *string, succeededAt *time.Time) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE payments SET status = $1, failure_reason = $2, succeeded_at = COALESCE($3, succeeded_at), updated_at = now()
		WHERE id = $4 AND status = $5`,
		to, failureReason, succeededAt, id, from,
	)
	if err != nil {
		return fmt.Errorf("UpdateStatusIf: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("UpdateStatusIf: rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("UpdateStatusIf: %w", domain.ErrStaleState)
	}
	return nil
}

// CountFailedByActorSince counts failed payments attributable to an actor,
// through either their bookings or their storefront orders. Rule input for
// the fraud engine.
func (r *PaymentRepository) CountFailedByActorSince(ctx context.Context, actorID uuid.UUID, since time.Time) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM payments p
		LEFT JOIN bookings b ON p.booking_id = b.id
		LEFT JOIN orders o ON p.order_id = o.id
		WHERE p.status = 'failed'
		  AND p.updated_at >= $2
		  AND (b.client_id = $1 OR o.user_id = $1)`,
		actorID, since,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("CountFailedByActorSince: %w", err)
	}
	return count, nil
}

func scanPayment(s scanner) (*domain.Payment, error) {
	var p domain.Payment
	var bookingID, orderID uuid.NullUUID

	err := s.Scan(
		&p.ID, &bookingID, &orderID, &p.Amount, &p.Currency, &p.Status,
		&p.ExternalReferenceID, &p.Commission, &p.ProcessingFee, &p.ProviderAmount,
		&p.FailureReason, &p.CreatedAt, &p.UpdatedAt, &p.SucceededAt,
	)
	if err != nil {
		return nil, err
	}

	if bookingID.Valid {
		p.BookingID = &bookingID.UUID
	}
	if orderID.Valid {
		p.OrderID = &orderID.UUID
	}

	return &p, nil
}
