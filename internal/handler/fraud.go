package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/servimarket/payments-engine/internal/auth"
	"github.com/servimarket/payments-engine/internal/domain"
	"github.com/servimarket/payments-engine/internal/logging"
)

type fraudAlertRepository interface {
	List(ctx context.Context, resolved *bool) ([]domain.FraudAlert, error)
	Resolve(ctx context.Context, id, resolvedBy uuid.UUID, resolvedAt time.Time) error
}

// FraudAlertHandler exposes the admin review surface for raised alerts.
// Routes mount behind RequireAdmin.
type FraudAlertHandler struct {
	alerts fraudAlertRepository
}

func NewFraudAlertHandler(alerts fraudAlertRepository) *FraudAlertHandler {
	return &FraudAlertHandler{alerts: alerts}
}

type fraudAlertDTO struct {
	ID         uuid.UUID  `json:"id"`
	SubjectID  uuid.UUID  `json:"subject_id"`
	BookingID  *uuid.UUID `json:"booking_id,omitempty"`
	Severity   string     `json:"severity"`
	SignalType string     `json:"signal_type"`
	Details    string     `json:"details"`
	IsResolved bool       `json:"is_resolved"`
	ResolvedBy *uuid.UUID `json:"resolved_by,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

func toFraudAlertDTO(a *domain.FraudAlert) fraudAlertDTO {
	return fraudAlertDTO{
		ID:         a.ID,
		SubjectID:  a.SubjectID,
		BookingID:  a.BookingID,
		Severity:   string(a.Severity),
		SignalType: string(a.SignalType),
		Details:    a.Details,
		IsResolved: a.IsResolved,
		ResolvedBy: a.ResolvedBy,
		CreatedAt:  a.CreatedAt,
		ResolvedAt: a.ResolvedAt,
	}
}

func (h *FraudAlertHandler) List(w http.ResponseWriter, r *http.Request) {
	var resolved *bool
	switch r.URL.Query().Get("resolved") {
	case "true":
		v := true
		resolved = &v
	case "false":
		v := false
		resolved = &v
	}

	alerts, err := h.alerts.List(r.Context(), resolved)
	if err != nil {
		logging.FromContext(r.Context()).Error("fraud alert list failed", "error", err)
		RespondDomainError(w, err)
		return
	}

	dtos := make([]fraudAlertDTO, 0, len(alerts))
	for i := range alerts {
		dtos = append(dtos, toFraudAlertDTO(&alerts[i]))
	}
	RespondSuccess(w, http.StatusOK, dtos)
}

func (h *FraudAlertHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	resolverID, ok := auth.ActorIDFromContext(r.Context())
	if !ok {
		RespondAppError(w, ErrMissingToken, nil)
		return
	}

	alertID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		RespondAppError(w, ErrResourceNotFound, nil)
		return
	}

	if err := h.alerts.Resolve(r.Context(), alertID, resolverID, time.Now().UTC()); err != nil {
		log.Warn("fraud alert resolution failed", "alert_id", alertID, "error", err)
		RespondDomainError(w, err)
		return
	}

	RespondSuccess(w, http.StatusOK, map[string]string{"status": "resolved"})
}
