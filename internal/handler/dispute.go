package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/servimarket/payments-engine/internal/auth"
	"github.com/servimarket/payments-engine/internal/domain"
	"github.com/servimarket/payments-engine/internal/logging"
	"github.com/servimarket/payments-engine/internal/service/dispute"
)

type disputeService interface {
	Create(ctx context.Context, req dispute.CreateDisputeRequest) (*domain.Dispute, error)
	AddEvidence(ctx context.Context, disputeID, actorID uuid.UUID, item json.RawMessage) (*domain.Dispute, error)
	BeginReview(ctx context.Context, disputeID uuid.UUID) (*domain.Dispute, error)
	Resolve(ctx context.Context, disputeID, resolverID uuid.UUID, outcome domain.DisputeStatus, resolution string) (*domain.Dispute, error)
	ListForActor(ctx context.Context, actorID uuid.UUID, asProvider bool) ([]domain.Dispute, error)
}

type DisputeHandler struct {
	disputes disputeService
}

func NewDisputeHandler(disputes disputeService) *DisputeHandler {
	return &DisputeHandler{disputes: disputes}
}

type createDisputeRequest struct {
	BookingID   string `json:"booking_id"`
	Type        string `json:"type"`
	Reason      string `json:"reason"`
	Description string `json:"description"`
}

func (r createDisputeRequest) Validate() []FieldError {
	var errs []FieldError

	if r.BookingID == "" {
		errs = append(errs, FieldError{Field: "booking_id", Message: "required"})
	} else if _, err := uuid.Parse(r.BookingID); err != nil {
		errs = append(errs, FieldError{Field: "booking_id", Message: "must be a UUID"})
	}

	if r.Type == "" {
		errs = append(errs, FieldError{Field: "type", Message: "required"})
	} else if !domain.DisputeType(r.Type).IsValid() {
		errs = append(errs, FieldError{Field: "type", Message: "must be payment, service, cancellation, or no_show"})
	}

	if r.Reason == "" {
		errs = append(errs, FieldError{Field: "reason", Message: "required"})
	}

	return errs
}

type addEvidenceRequest struct {
	Evidence json.RawMessage `json:"evidence"`
}

type resolveDisputeRequest struct {
	Outcome    string `json:"outcome"`
	Resolution string `json:"resolution"`
}

func (r resolveDisputeRequest) Validate() []FieldError {
	var errs []FieldError

	if r.Outcome != string(domain.DisputeStatusResolved) && r.Outcome != string(domain.DisputeStatusRejected) {
		errs = append(errs, FieldError{Field: "outcome", Message: "must be resolved or rejected"})
	}
	if r.Resolution == "" {
		errs = append(errs, FieldError{Field: "resolution", Message: "required"})
	}

	return errs
}

type disputeDTO struct {
	ID          uuid.UUID       `json:"id"`
	BookingID   uuid.UUID       `json:"booking_id"`
	ClientID    uuid.UUID       `json:"client_id"`
	ProviderID  uuid.UUID       `json:"provider_id"`
	Type        string          `json:"type"`
	Status      string          `json:"status"`
	Reason      string          `json:"reason"`
	Description string          `json:"description,omitempty"`
	Evidence    json.RawMessage `json:"evidence"`
	ResolvedBy  *uuid.UUID      `json:"resolved_by,omitempty"`
	Resolution  *string         `json:"resolution,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	ResolvedAt  *time.Time      `json:"resolved_at,omitempty"`
}

func toDisputeDTO(d *domain.Dispute) disputeDTO {
	return disputeDTO{
		ID:          d.ID,
		BookingID:   d.BookingID,
		ClientID:    d.ClientID,
		ProviderID:  d.ProviderID,
		Type:        string(d.Type),
		Status:      string(d.Status),
		Reason:      d.Reason,
		Description: d.Description,
		Evidence:    d.Evidence,
		ResolvedBy:  d.ResolvedBy,
		Resolution:  d.Resolution,
		CreatedAt:   d.CreatedAt,
		ResolvedAt:  d.ResolvedAt,
	}
}

func (h *DisputeHandler) Create(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	actorID, ok := auth.ActorIDFromContext(r.Context())
	if !ok {
		RespondAppError(w, ErrMissingToken, nil)
		return
	}

	var req createDisputeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}

	if fields := req.Validate(); len(fields) > 0 {
		RespondValidationError(w, fields)
		return
	}

	d, err := h.disputes.Create(r.Context(), dispute.CreateDisputeRequest{
		BookingID:   uuid.MustParse(req.BookingID),
		ActorID:     actorID,
		Type:        domain.DisputeType(req.Type),
		Reason:      req.Reason,
		Description: req.Description,
	})
	if err != nil {
		log.Warn("dispute creation failed", "booking_id", req.BookingID, "error", err)
		RespondDomainError(w, err)
		return
	}

	w.Header().Set("Location", fmt.Sprintf("/api/v1/disputes/%s", d.ID))
	RespondSuccess(w, http.StatusCreated, toDisputeDTO(d))
}

func (h *DisputeHandler) AddEvidence(w http.ResponseWriter, r *http.Request) {
	actorID, ok := auth.ActorIDFromContext(r.Context())
	if !ok {
		RespondAppError(w, ErrMissingToken, nil)
		return
	}

	disputeID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		RespondAppError(w, ErrResourceNotFound, nil)
		return
	}

	var req addEvidenceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}
	if len(req.Evidence) == 0 {
		RespondValidationError(w, []FieldError{{Field: "evidence", Message: "required"}})
		return
	}

	// Stored as a single-element array so the jsonb concatenation appends
	// one item, whatever shape the item has.
	item := json.RawMessage(`[` + string(req.Evidence) + `]`)

	d, err := h.disputes.AddEvidence(r.Context(), disputeID, actorID, item)
	if err != nil {
		logging.FromContext(r.Context()).Warn("evidence rejected", "dispute_id", disputeID, "error", err)
		RespondDomainError(w, err)
		return
	}

	RespondSuccess(w, http.StatusOK, toDisputeDTO(d))
}

func (h *DisputeHandler) List(w http.ResponseWriter, r *http.Request) {
	actorID, ok := auth.ActorIDFromContext(r.Context())
	if !ok {
		RespondAppError(w, ErrMissingToken, nil)
		return
	}

	asProvider := r.URL.Query().Get("role") == "provider"

	disputes, err := h.disputes.ListForActor(r.Context(), actorID, asProvider)
	if err != nil {
		logging.FromContext(r.Context()).Warn("dispute list failed", "error", err)
		RespondDomainError(w, err)
		return
	}

	dtos := make([]disputeDTO, 0, len(disputes))
	for i := range disputes {
		dtos = append(dtos, toDisputeDTO(&disputes[i]))
	}
	RespondSuccess(w, http.StatusOK, dtos)
}

func (h *DisputeHandler) BeginReview(w http.ResponseWriter, r *http.Request) {
	disputeID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		RespondAppError(w, ErrResourceNotFound, nil)
		return
	}

	d, err := h.disputes.BeginReview(r.Context(), disputeID)
	if err != nil {
		logging.FromContext(r.Context()).Warn("begin review failed", "dispute_id", disputeID, "error", err)
		RespondDomainError(w, err)
		return
	}

	RespondSuccess(w, http.StatusOK, toDisputeDTO(d))
}

func (h *DisputeHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	resolverID, ok := auth.ActorIDFromContext(r.Context())
	if !ok {
		RespondAppError(w, ErrMissingToken, nil)
		return
	}

	disputeID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		RespondAppError(w, ErrResourceNotFound, nil)
		return
	}

	var req resolveDisputeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}

	if fields := req.Validate(); len(fields) > 0 {
		RespondValidationError(w, fields)
		return
	}

	d, err := h.disputes.Resolve(r.Context(), disputeID, resolverID, domain.DisputeStatus(req.Outcome), req.Resolution)
	if err != nil {
		log.Warn("dispute resolution failed", "dispute_id", disputeID, "error", err)
		RespondDomainError(w, err)
		return
	}

	RespondSuccess(w, http.StatusOK, toDisputeDTO(d))
}
