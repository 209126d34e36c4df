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
	"github.com/servimarket/payments-engine/internal/service/checkout"
)

type checkoutService interface {
	CreateOrder(ctx context.Context, req checkout.CreateOrderRequest) (*checkout.OrderResult, error)
	GetOrderForUser(ctx context.Context, orderID, userID uuid.UUID) (*domain.Order, error)
}

type OrderHandler struct {
	checkout checkoutService
}

func NewOrderHandler(checkout checkoutService) *OrderHandler {
	return &OrderHandler{checkout: checkout}
}

type orderItemRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type createOrderRequest struct {
	Currency string             `json:"currency"`
	Items    []orderItemRequest `json:"items"`
}

func (r createOrderRequest) Validate() []FieldError {
	var errs []FieldError

	if r.Currency == "" {
		errs = append(errs, FieldError{Field: "currency", Message: "required"})
	} else if !domain.Currency(r.Currency).IsValid() {
		errs = append(errs, FieldError{Field: "currency", Message: "must be USD, EUR, or GBP"})
	}

	if len(r.Items) == 0 {
		errs = append(errs, FieldError{Field: "items", Message: "at least one item required"})
	}
	for i, item := range r.Items {
		if _, err := uuid.Parse(item.ProductID); err != nil {
			errs = append(errs, FieldError{Field: fmt.Sprintf("items[%d].product_id", i), Message: "must be a UUID"})
		}
		if item.Quantity <= 0 {
			errs = append(errs, FieldError{Field: fmt.Sprintf("items[%d].quantity", i), Message: "must be greater than 0"})
		}
	}

	return errs
}

type orderCreatedDTO struct {
	OrderID             uuid.UUID `json:"order_id"`
	PaymentID           uuid.UUID `json:"payment_id"`
	ExternalReferenceID string    `json:"external_reference_id"`
	ClientToken         string    `json:"client_token"`
	TotalAmount         int64     `json:"total_amount"`
	Commission          int64     `json:"commission"`
	ProcessingFee       int64     `json:"processing_fee"`
	ProviderAmount      int64     `json:"provider_amount"`
}

type orderItemDTO struct {
	ProductID uuid.UUID `json:"product_id"`
	Quantity  int       `json:"quantity"`
	UnitPrice int64     `json:"unit_price"`
}

type orderDTO struct {
	ID          uuid.UUID      `json:"id"`
	TotalAmount int64          `json:"total_amount"`
	Status      string         `json:"status"`
	Items       []orderItemDTO `json:"items"`
	CreatedAt   time.Time      `json:"created_at"`
}

func toOrderDTO(o *domain.Order) orderDTO {
	items := make([]orderItemDTO, 0, len(o.Items))
	for _, item := range o.Items {
		items = append(items, orderItemDTO{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		})
	}
	return orderDTO{
		ID:          o.ID,
		TotalAmount: o.TotalAmount,
		Status:      string(o.Status),
		Items:       items,
		CreatedAt:   o.CreatedAt,
	}
}

func (h *OrderHandler) Create(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	userID, ok := auth.ActorIDFromContext(r.Context())
	if !ok {
		RespondAppError(w, ErrMissingToken, nil)
		return
	}

	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}

	if fields := req.Validate(); len(fields) > 0 {
		RespondValidationError(w, fields)
		return
	}

	items := make([]checkout.ItemRequest, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, checkout.ItemRequest{
			ProductID: uuid.MustParse(item.ProductID),
			Quantity:  item.Quantity,
		})
	}

	result, err := h.checkout.CreateOrder(r.Context(), checkout.CreateOrderRequest{
		UserID:   userID,
		Currency: domain.Currency(req.Currency),
		Items:    items,
	})
	if err != nil {
		log.Warn("order creation failed", "user_id", userID, "error", err)
		RespondDomainError(w, err)
		return
	}

	w.Header().Set("Location", fmt.Sprintf("/api/v1/orders/%s", result.OrderID))
	RespondSuccess(w, http.StatusCreated, orderCreatedDTO{
		OrderID:             result.OrderID,
		PaymentID:           result.PaymentID,
		ExternalReferenceID: result.ExternalReferenceID,
		ClientToken:         result.ClientToken,
		TotalAmount:         result.TotalAmount,
		Commission:          result.Split.Commission,
		ProcessingFee:       result.Split.ProcessingFee,
		ProviderAmount:      result.Split.ProviderAmount,
	})
}

func (h *OrderHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.ActorIDFromContext(r.Context())
	if !ok {
		RespondAppError(w, ErrMissingToken, nil)
		return
	}

	orderID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		RespondAppError(w, ErrResourceNotFound, nil)
		return
	}

	o, err := h.checkout.GetOrderForUser(r.Context(), orderID, userID)
	if err != nil {
		logging.FromContext(r.Context()).Warn("order lookup failed", "error", err)
		RespondDomainError(w, err)
		return
	}

	RespondSuccess(w, http.StatusOK, toOrderDTO(o))
}
