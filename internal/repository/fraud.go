package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/servimarket/payments-engine/internal/domain"
)

const fraudAlertColumns = `id, subject_id, booking_id, severity, signal_type,
	details, is_resolved, resolved_by, created_at, resolved_at`

type FraudAlertRepository struct {
	db *sql.DB
}

func NewFraudAlertRepository(db *sql.DB) *FraudAlertRepository {
	return &FraudAlertRepository{db: db}
}

func (r *FraudAlertRepository) Create(ctx context.Context, a *domain.FraudAlert) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO fraud_alerts (id, subject_id, booking_id, severity, signal_type, details, is_resolved, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		a.ID, a.SubjectID, a.BookingID, a.Severity, a.SignalType, a.Details, a.IsResolved, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

// HasUnresolved reports whether the subject already carries an open alert of
// this signal type, so repeated triggers do not pile up duplicates.
func (r *FraudAlertRepository) HasUnresolved(ctx context.Context, subjectID uuid.UUID, signalType domain.FraudSignalType) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM fraud_alerts
			WHERE subject_id = $1 AND signal_type = $2 AND NOT is_resolved
		)`,
		subjectID, signalType,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("HasUnresolved: %w", err)
	}
	return exists, nil
}

func (r *FraudAlertRepository) List(ctx context.Context, resolved *bool) ([]domain.FraudAlert, error) {
	query := `SELECT ` + fraudAlertColumns + ` FROM fraud_alerts`
	args := []any{}
	if resolved != nil {
		query += ` WHERE is_resolved = $1`
		args = append(args, *resolved)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("List: %w", err)
	}
	defer rows.Close()

	var alerts []domain.FraudAlert
	for rows.Next() {
		a, err := scanFraudAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("List: scan: %w", err)
		}
		alerts = append(alerts, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("List: iterate: %w", err)
	}
	return alerts, nil
}

// Resolve marks the alert reviewed. The record itself is never deleted.
func (r *FraudAlertRepository) Resolve(ctx context.Context, id, resolvedBy uuid.UUID, resolvedAt time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE fraud_alerts SET is_resolved = TRUE, resolved_by = $2, resolved_at = $3
		WHERE id = $1 AND NOT is_resolved`,
		id, resolvedBy, resolvedAt,
	)
	if err != nil {
		return fmt.Errorf("Resolve: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("Resolve: rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("Resolve: %w", domain.ErrAlertResolved)
	}
	return nil
}

func scanFraudAlert(s scanner) (*domain.FraudAlert, error) {
	var a domain.FraudAlert
	var bookingID, resolvedBy uuid.NullUUID

	err := s.Scan(
		&a.ID, &a.SubjectID, &bookingID, &a.Severity, &a.SignalType,
		&a.Details, &a.IsResolved, &resolvedBy, &a.CreatedAt, &a.ResolvedAt,
	)
	if err != nil {
		return nil, err
	}

	if bookingID.Valid {
		a.BookingID = &bookingID.UUID
	}
	if resolvedBy.Valid {
		a.ResolvedBy = &resolvedBy.UUID
	}

	return &a, nil
}
