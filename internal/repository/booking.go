package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/servimarket/payments-engine/internal/domain"
)

const bookingColumns = `id, client_id, provider_id, service_id, total_amount,
	commission, status, created_at, updated_at`

type BookingRepository struct {
	db *sql.DB
}

func NewBookingRepository(db *sql.DB) *BookingRepository {
	return &BookingRepository{db: db}
}

func (r *BookingRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Booking, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, id,
	)
	b, err := scanBooking(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByID: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetByID: %w", err)
	}
	return b, nil
}

// UpdatePaymentTotals refreshes the booking's cached charge breakdown when an
// intent is opened.
func (r *BookingRepository) UpdatePaymentTotals(ctx context.Context, tx *sql.Tx, id uuid.UUID, totalAmount, commission int64) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE bookings SET total_amount = $1, commission = $2, updated_at = now() WHERE id = $3`,
		totalAmount, commission, id,
	)
	if err != nil {
		return fmt.Errorf("UpdatePaymentTotals: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("UpdatePaymentTotals: rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("UpdatePaymentTotals: %w", domain.ErrNotFound)
	}
	return nil
}

func (r *BookingRepository) UpdateStatus(ctx context.Context, tx *sql.Tx, id uuid.UUID, status domain.BookingStatus) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE bookings SET status = $1, updated_at = now() WHERE id = $2`,
		status, id,
	)
	if err != nil {
		return fmt.Errorf("UpdateStatus: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("UpdateStatus: rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("UpdateStatus: %w", domain.ErrNotFound)
	}
	return nil
}

func scanBooking(s scanner) (*domain.Booking, error) {
	var b domain.Booking
	err := s.Scan(
		&b.ID, &b.ClientID, &b.ProviderID, &b.ServiceID, &b.TotalAmount,
		&b.Commission, &b.Status, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &b, nil
}
