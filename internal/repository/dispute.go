package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/servimarket/payments-engine/internal/domain"
)

const disputeColumns = `id, booking_id, client_id, provider_id, type, status,
	reason, description, evidence, resolved_by, resolution, created_at, resolved_at`

type DisputeRepository struct {
	db *sql.DB
}

func NewDisputeRepository(db *sql.DB) *DisputeRepository {
	return &DisputeRepository{db: db}
}

// Create inserts a new open dispute. The partial unique index on
// (booking_id, type) rejects a second active dispute of the same type.
func (r *DisputeRepository) Create(ctx context.Context, d *domain.Dispute) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO disputes (
			id, booking_id, client_id, provider_id, type, status,
			reason, description, evidence, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		d.ID, d.BookingID, d.ClientID, d.ProviderID, d.Type, d.Status,
		d.Reason, d.Description, d.Evidence, d.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("Create: %w", domain.ErrActiveDisputeExists)
		}
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

func (r *DisputeRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Dispute, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+disputeColumns+` FROM disputes WHERE id = $1`, id,
	)
	d, err := scanDispute(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByID: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetByID: %w", err)
	}
	return d, nil
}

func (r *DisputeRepository) ListForActor(ctx context.Context, actorID uuid.UUID, asProvider bool) ([]domain.Dispute, error) {
	column := "client_id"
	if asProvider {
		column = "provider_id"
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+disputeColumns+` FROM disputes WHERE `+column+` = $1 ORDER BY created_at DESC`,
		actorID,
	)
	if err != nil {
		return nil, fmt.Errorf("ListForActor: %w", err)
	}
	defer rows.Close()

	var disputes []domain.Dispute
	for rows.Next() {
		d, err := scanDispute(rows)
		if err != nil {
			return nil, fmt.Errorf("ListForActor: scan: %w", err)
		}
		disputes = append(disputes, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListForActor: iterate: %w", err)
	}
	return disputes, nil
}

// UpdateStatusIf moves the dispute between review states conditionally on
// its current status.
func (r *DisputeRepository) UpdateStatusIf(ctx context.Context, id uuid.UUID, from, to domain.DisputeStatus) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE disputes SET status = $1 WHERE id = $2 AND status = $3`,
		to, id, from,
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

// Resolve terminally closes the dispute. Only open or under-review records
// match; anything else was already resolved.
func (r *DisputeRepository) Resolve(ctx context.Context, id uuid.UUID, resolvedBy uuid.UUID, outcome domain.DisputeStatus, resolution string, resolvedAt time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE disputes SET status = $1, resolved_by = $2, resolution = $3, resolved_at = $4
		WHERE id = $5 AND status IN ('open', 'under_review')`,
		outcome, resolvedBy, resolution, resolvedAt, id,
	)
	if err != nil {
		return fmt.Errorf("Resolve: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("Resolve: rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("Resolve: %w", domain.ErrDisputeTerminal)
	}
	return nil
}

// AppendEvidence adds an item to the evidence array while the dispute is
// still open.
func (r *DisputeRepository) AppendEvidence(ctx context.Context, id uuid.UUID, item json.RawMessage) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE disputes SET evidence = evidence || $2::jsonb
		WHERE id = $1 AND status = 'open'`,
		id, item,
	)
	if err != nil {
		return fmt.Errorf("AppendEvidence: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("AppendEvidence: rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("AppendEvidence: %w", domain.ErrStaleState)
	}
	return nil
}

// CountByBookingSince is a fraud rule input: how many disputes a booking has
// accumulated inside the recurrence window.
func (r *DisputeRepository) CountByBookingSince(ctx context.Context, bookingID uuid.UUID, since time.Time) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM disputes WHERE booking_id = $1 AND created_at >= $2`,
		bookingID, since,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("CountByBookingSince: %w", err)
	}
	return count, nil
}

func scanDispute(s scanner) (*domain.Dispute, error) {
	var d domain.Dispute
	var resolvedBy uuid.NullUUID
	var evidence []byte

	err := s.Scan(
		&d.ID, &d.BookingID, &d.ClientID, &d.ProviderID, &d.Type, &d.Status,
		&d.Reason, &d.Description, &evidence, &resolvedBy, &d.Resolution,
		&d.CreatedAt, &d.ResolvedAt,
	)
	if err != nil {
		return nil, err
	}

	d.Evidence = evidence
	if resolvedBy.Valid {
		d.ResolvedBy = &resolvedBy.UUID
	}

	return &d, nil
}
