// Package dispute manages the complaint lifecycle between booking
// counterparties: open, collect evidence, review, resolve. Resolution is an
// administrative act and terminal.
package dispute

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/servimarket/payments-engine/internal/domain"
	"github.com/servimarket/payments-engine/internal/logging"
	"github.com/servimarket/payments-engine/internal/service/fraud"
)

type disputeRepo interface {
	Create(ctx context.Context, d *domain.Dispute) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Dispute, error)
	ListForActor(ctx context.Context, actorID uuid.UUID, asProvider bool) ([]domain.Dispute, error)
	UpdateStatusIf(ctx context.Context, id uuid.UUID, from, to domain.DisputeStatus) error
	Resolve(ctx context.Context, id uuid.UUID, resolvedBy uuid.UUID, outcome domain.DisputeStatus, resolution string, resolvedAt time.Time) error
	AppendEvidence(ctx context.Context, id uuid.UUID, item json.RawMessage) error
}

type bookingReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Booking, error)
}

type fraudNotifier interface {
	Evaluate(ctx context.Context, sig fraud.Signal)
}

type Service struct {
	disputes disputeRepo
	bookings bookingReader
	fraud    fraudNotifier
	now      func() time.Time
}

func NewService(disputes disputeRepo, bookings bookingReader, fraudEngine fraudNotifier) *Service {
	return &Service{
		disputes: disputes,
		bookings: bookings,
		fraud:    fraudEngine,
		now:      time.Now,
	}
}

type CreateDisputeRequest struct {
	BookingID   uuid.UUID
	ActorID     uuid.UUID
	Type        domain.DisputeType
	Reason      string
	Description string
}

// Create opens a dispute on a booking. Only a counterparty may open one, and
// the store rejects a second active dispute of the same type on the same
// booking.
func (s *Service) Create(ctx context.Context, req CreateDisputeRequest) (*domain.Dispute, error) {
	log := logging.FromContext(ctx)

	if !req.Type.IsValid() {
		return nil, fmt.Errorf("Create: dispute type %q: %w", req.Type, domain.ErrInvalidRequest)
	}
	if req.Reason == "" {
		return nil, fmt.Errorf("Create: reason required: %w", domain.ErrInvalidRequest)
	}

	booking, err := s.bookings.GetByID(ctx, req.BookingID)
	if err != nil {
		return nil, fmt.Errorf("Create: %w", err)
	}
	if !booking.IsCounterparty(req.ActorID) {
		return nil, fmt.Errorf("Create: %w", domain.ErrNotCounterparty)
	}

	d := &domain.Dispute{
		ID:          uuid.New(),
		BookingID:   req.BookingID,
		ClientID:    booking.ClientID,
		ProviderID:  booking.ProviderID,
		Type:        req.Type,
		Status:      domain.DisputeStatusOpen,
		Reason:      req.Reason,
		Description: req.Description,
		Evidence:    json.RawMessage(`[]`),
		CreatedAt:   s.now().UTC(),
	}

	if err := s.disputes.Create(ctx, d); err != nil {
		return nil, fmt.Errorf("Create: %w", err)
	}

	log.Info("dispute opened",
		"dispute_id", d.ID,
		"booking_id", req.BookingID,
		"type", req.Type,
		"opened_by", req.ActorID,
	)

	go s.fraud.Evaluate(context.WithoutCancel(ctx), fraud.Signal{
		Kind:      fraud.KindDisputeCreated,
		ActorID:   req.ActorID,
		BookingID: &req.BookingID,
	})

	return d, nil
}

// AddEvidence appends one evidence item while the dispute is still open.
func (s *Service) AddEvidence(ctx context.Context, disputeID, actorID uuid.UUID, item json.RawMessage) (*domain.Dispute, error) {
	d, err := s.disputes.GetByID(ctx, disputeID)
	if err != nil {
		return nil, fmt.Errorf("AddEvidence: %w", err)
	}
	if !d.IsCounterparty(actorID) {
		return nil, fmt.Errorf("AddEvidence: %w", domain.ErrNotCounterparty)
	}
	if d.Status.IsTerminal() {
		return nil, fmt.Errorf("AddEvidence: %w", domain.ErrDisputeTerminal)
	}

	if err := s.disputes.AppendEvidence(ctx, disputeID, item); err != nil {
		return nil, fmt.Errorf("AddEvidence: %w", err)
	}

	return s.disputes.GetByID(ctx, disputeID)
}

// BeginReview moves an open dispute under administrative review.
func (s *Service) BeginReview(ctx context.Context, disputeID uuid.UUID) (*domain.Dispute, error) {
	d, err := s.disputes.GetByID(ctx, disputeID)
	if err != nil {
		return nil, fmt.Errorf("BeginReview: %w", err)
	}
	if d.Status.IsTerminal() {
		return nil, fmt.Errorf("BeginReview: %w", domain.ErrDisputeTerminal)
	}

	if err := s.disputes.UpdateStatusIf(ctx, disputeID, domain.DisputeStatusOpen, domain.DisputeStatusUnderReview); err != nil {
		return nil, fmt.Errorf("BeginReview: %w", err)
	}

	return s.disputes.GetByID(ctx, disputeID)
}

// Resolve terminally closes the dispute with an outcome and a written
// resolution. Only admins reach this path; the handler enforces the role.
func (s *Service) Resolve(ctx context.Context, disputeID, resolverID uuid.UUID, outcome domain.DisputeStatus, resolution string) (*domain.Dispute, error) {
	log := logging.FromContext(ctx)

	if outcome != domain.DisputeStatusResolved && outcome != domain.DisputeStatusRejected {
		return nil, fmt.Errorf("Resolve: outcome %q: %w", outcome, domain.ErrInvalidRequest)
	}
	if resolution == "" {
		return nil, fmt.Errorf("Resolve: resolution required: %w", domain.ErrInvalidRequest)
	}

	if err := s.disputes.Resolve(ctx, disputeID, resolverID, outcome, resolution, s.now().UTC()); err != nil {
		return nil, fmt.Errorf("Resolve: %w", err)
	}

	log.Info("dispute resolved",
		"dispute_id", disputeID,
		"outcome", outcome,
		"resolved_by", resolverID,
	)

	return s.disputes.GetByID(ctx, disputeID)
}

// ListForActor returns the actor's disputes from either side of the booking.
func (s *Service) ListForActor(ctx context.Context, actorID uuid.UUID, asProvider bool) ([]domain.Dispute, error) {
	disputes, err := s.disputes.ListForActor(ctx, actorID, asProvider)
	if err != nil {
		return nil, fmt.Errorf("ListForActor: %w", err)
	}
	return disputes, nil
}
