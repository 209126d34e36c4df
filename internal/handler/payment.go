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
	"github.com/servimarket/payments-engine/internal/service/intent"
)

type intentService interface {
	CreateBookingIntent(ctx context.Context, req intent.CreateIntentRequest) (*intent.Intent, error)
	GetPaymentForActor(ctx context.Context, paymentID, actorID uuid.UUID) (*domain.Payment, error)
}

type PaymentHandler struct {
	intents intentService
}

func NewPaymentHandler(intents intentService) *PaymentHandler {
	return &PaymentHandler{intents: intents}
}

type createIntentRequest struct {
	BookingID string `json:"booking_id"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
}

func (r createIntentRequest) Validate() []FieldError {
	var errs []FieldError

	if r.BookingID == "" {
		errs = append(errs, FieldError{Field: "booking_id", Message: "required"})
	} else if _, err := uuid.Parse(r.BookingID); err != nil {
		errs = append(errs, FieldError{Field: "booking_id", Message: "must be a UUID"})
	}

	if r.Amount <= 0 {
		errs = append(errs, FieldError{Field: "amount", Message: "must be greater than 0"})
	}

	if r.Currency == "" {
		errs = append(errs, FieldError{Field: "currency", Message: "required"})
	} else if !domain.Currency(r.Currency).IsValid() {
		errs = append(errs, FieldError{Field: "currency", Message: "must be USD, EUR, or GBP"})
	}

	return errs
}

type intentDTO struct {
	PaymentID           uuid.UUID `json:"payment_id"`
	ExternalReferenceID string    `json:"external_reference_id"`
	ClientToken         string    `json:"client_token"`
	Amount              int64     `json:"amount"`
	Commission          int64     `json:"commission"`
	ProcessingFee       int64     `json:"processing_fee"`
	ProviderAmount      int64     `json:"provider_amount"`
}

type paymentDTO struct {
	ID                  uuid.UUID  `json:"id"`
	BookingID           *uuid.UUID `json:"booking_id,omitempty"`
	OrderID             *uuid.UUID `json:"order_id,omitempty"`
	Amount              int64      `json:"amount"`
	Currency            string     `json:"currency"`
	Status              string     `json:"status"`
	ExternalReferenceID string     `json:"external_reference_id"`
	Commission          int64      `json:"commission"`
	ProcessingFee       int64      `json:"processing_fee"`
	ProviderAmount      int64      `json:"provider_amount"`
	FailureReason       *string    `json:"failure_reason,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	SucceededAt         *time.Time `json:"succeeded_at,omitempty"`
}

func toPaymentDTO(p *domain.Payment) paymentDTO {
	return paymentDTO{
		ID:                  p.ID,
		BookingID:           p.BookingID,
		OrderID:             p.OrderID,
		Amount:              p.Amount,
		Currency:            string(p.Currency),
		Status:              string(p.Status),
		ExternalReferenceID: p.ExternalReferenceID,
		Commission:          p.Commission,
		ProcessingFee:       p.ProcessingFee,
		ProviderAmount:      p.ProviderAmount,
		FailureReason:       p.FailureReason,
		CreatedAt:           p.CreatedAt,
		SucceededAt:         p.SucceededAt,
	}
}

func (h *PaymentHandler) CreateIntent(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	actorID, ok := auth.ActorIDFromContext(r.Context())
	if !ok {
		RespondAppError(w, ErrMissingToken, nil)
		return
	}

	var req createIntentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}

	if fields := req.Validate(); len(fields) > 0 {
		RespondValidationError(w, fields)
		return
	}

	bookingID := uuid.MustParse(req.BookingID)

	in, err := h.intents.CreateBookingIntent(r.Context(), intent.CreateIntentRequest{
		BookingID: bookingID,
		Amount:    req.Amount,
		Currency:  domain.Currency(req.Currency),
		ActorID:   actorID,
	})
	if err != nil {
		log.Warn("intent creation failed", "booking_id", bookingID, "error", err)
		RespondDomainError(w, err)
		return
	}

	w.Header().Set("Location", fmt.Sprintf("/api/v1/payments/%s", in.PaymentID))
	RespondSuccess(w, http.StatusCreated, intentDTO{
		PaymentID:           in.PaymentID,
		ExternalReferenceID: in.ExternalReferenceID,
		ClientToken:         in.ClientToken,
		Amount:              in.Amount,
		Commission:          in.Split.Commission,
		ProcessingFee:       in.Split.ProcessingFee,
		ProviderAmount:      in.Split.ProviderAmount,
	})
}

func (h *PaymentHandler) Get(w http.ResponseWriter, r *http.Request) {
	actorID, ok := auth.ActorIDFromContext(r.Context())
	if !ok {
		RespondAppError(w, ErrMissingToken, nil)
		return
	}

	paymentID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		RespondAppError(w, ErrResourceNotFound, nil)
		return
	}

	p, err := h.intents.GetPaymentForActor(r.Context(), paymentID, actorID)
	if err != nil {
		logging.FromContext(r.Context()).Warn("payment lookup failed", "error", err)
		RespondDomainError(w, err)
		return
	}

	RespondSuccess(w, http.StatusOK, toPaymentDTO(p))
}
