// Package checkout creates storefront orders and opens their payment
// intents. Stock is only soft-checked here; the decrement belongs to the
// reconciler when the payment actually succeeds.
package checkout

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/servimarket/payments-engine/internal/domain"
	"github.com/servimarket/payments-engine/internal/fees"
	"github.com/servimarket/payments-engine/internal/gateway"
	"github.com/servimarket/payments-engine/internal/logging"
)

type orderRepo interface {
	Create(ctx context.Context, tx *sql.Tx, o *domain.Order) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Order, error)
}

type productRepo interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Product, error)
}

type paymentRepo interface {
	Create(ctx context.Context, tx *sql.Tx, p *domain.Payment) error
}

type ledgerRepo interface {
	Create(ctx context.Context, tx *sql.Tx, entry *domain.LedgerEntry) error
}

type gatewayClient interface {
	OpenAuthorization(ctx context.Context, req gateway.AuthorizationRequest) (*gateway.Authorization, error)
}

type Service struct {
	orders       orderRepo
	products     productRepo
	payments     paymentRepo
	ledger       ledgerRepo
	gateway      gatewayClient
	fees         *fees.Calculator
	db           *sql.DB
	maxRetryWait time.Duration
}

func NewService(
	orders orderRepo,
	products productRepo,
	payments paymentRepo,
	ledger ledgerRepo,
	gw gatewayClient,
	calc *fees.Calculator,
	db *sql.DB,
	maxRetryWait time.Duration,
) *Service {
	return &Service{
		orders:       orders,
		products:     products,
		payments:     payments,
		ledger:       ledger,
		gateway:      gw,
		fees:         calc,
		db:           db,
		maxRetryWait: maxRetryWait,
	}
}

type ItemRequest struct {
	ProductID uuid.UUID
	Quantity  int
}

type CreateOrderRequest struct {
	UserID   uuid.UUID
	Currency domain.Currency
	Items    []ItemRequest
}

type OrderResult struct {
	OrderID             uuid.UUID
	PaymentID           uuid.UUID
	ExternalReferenceID string
	ClientToken         string
	TotalAmount         int64
	Split               fees.Split
}

func (s *Service) CreateOrder(ctx context.Context, req CreateOrderRequest) (*OrderResult, error) {
	log := logging.FromContext(ctx)

	if len(req.Items) == 0 {
		return nil, fmt.Errorf("CreateOrder: no items: %w", domain.ErrInvalidRequest)
	}
	if !req.Currency.IsValid() {
		return nil, fmt.Errorf("CreateOrder: %w", domain.ErrInvalidCurrency)
	}

	orderID := uuid.New()
	var total int64
	items := make([]domain.OrderItem, 0, len(req.Items))

	for _, item := range req.Items {
		if item.Quantity <= 0 {
			return nil, fmt.Errorf("CreateOrder: quantity: %w", domain.ErrInvalidRequest)
		}

		product, err := s.products.GetByID(ctx, item.ProductID)
		if err != nil {
			return nil, fmt.Errorf("CreateOrder: product %s: %w", item.ProductID, err)
		}
		if product.StockQuantity < item.Quantity {
			return nil, fmt.Errorf("CreateOrder: product %s: %w", item.ProductID, domain.ErrInsufficientStock)
		}

		total += product.Price * int64(item.Quantity)
		items = append(items, domain.OrderItem{
			ID:        uuid.New(),
			OrderID:   orderID,
			ProductID: product.ID,
			Quantity:  item.Quantity,
			UnitPrice: product.Price,
		})
	}

	split, err := s.fees.Split(total)
	if err != nil {
		return nil, fmt.Errorf("CreateOrder: %w", err)
	}

	auth, err := s.openAuthorization(ctx, total, req.Currency, map[string]string{
		"order_id": orderID.String(),
	})
	if err != nil {
		return nil, fmt.Errorf("CreateOrder: %w", err)
	}

	now := time.Now().UTC()
	order := &domain.Order{
		ID:          orderID,
		UserID:      req.UserID,
		TotalAmount: total,
		Status:      domain.OrderStatusPending,
		Items:       items,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	p := &domain.Payment{
		ID:                  uuid.New(),
		OrderID:             &orderID,
		Amount:              total,
		Currency:            req.Currency,
		Status:              domain.PaymentStatusPending,
		ExternalReferenceID: auth.ReferenceID,
		Commission:          split.Commission,
		ProcessingFee:       split.ProcessingFee,
		ProviderAmount:      split.ProviderAmount,
		CreatedAt:           now,
		UpdatedAt:           now,
	}

	if err := s.persistOrder(ctx, order, p, now); err != nil {
		return nil, fmt.Errorf("CreateOrder: %w", err)
	}

	log.Info("order created",
		"order_id", orderID,
		"payment_id", p.ID,
		"user_id", req.UserID,
		"total_amount", total,
		"items", len(items),
		"reference_id", auth.ReferenceID,
	)

	return &OrderResult{
		OrderID:             orderID,
		PaymentID:           p.ID,
		ExternalReferenceID: auth.ReferenceID,
		ClientToken:         auth.ClientToken,
		TotalAmount:         total,
		Split:               split,
	}, nil
}

func (s *Service) openAuthorization(ctx context.Context, amount int64, currency domain.Currency, metadata map[string]string) (*gateway.Authorization, error) {
	var auth *gateway.Authorization

	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = s.maxRetryWait

	op := func() error {
		a, err := s.gateway.OpenAuthorization(ctx, gateway.AuthorizationRequest{
			Amount:   amount,
			Currency: currency,
			Metadata: metadata,
		})
		if err != nil {
			if errors.Is(err, domain.ErrGatewayRejected) {
				return backoff.Permanent(err)
			}
			return err
		}
		auth = a
		return nil
	}

	if err := backoff.Retry(op, backoff.WithContext(policy, ctx)); err != nil {
		return nil, err
	}
	return auth, nil
}

func (s *Service) persistOrder(ctx context.Context, order *domain.Order, p *domain.Payment, now time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("persistOrder: begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := s.orders.Create(ctx, tx, order); err != nil {
		return fmt.Errorf("persistOrder: create order: %w", err)
	}

	if err := s.payments.Create(ctx, tx, p); err != nil {
		return fmt.Errorf("persistOrder: create payment: %w", err)
	}

	entries := []domain.LedgerEntry{
		{EntryType: domain.EntryTypeCommission, Amount: p.Commission},
		{EntryType: domain.EntryTypeProcessingFee, Amount: p.ProcessingFee},
		{EntryType: domain.EntryTypeProviderPayout, Amount: p.ProviderAmount},
	}
	for _, e := range entries {
		e.ID = uuid.New()
		e.PaymentID = p.ID
		e.Currency = p.Currency
		e.CreatedAt = now
		if err := s.ledger.Create(ctx, tx, &e); err != nil {
			return fmt.Errorf("persistOrder: ledger %s: %w", e.EntryType, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("persistOrder: commit: %w", err)
	}
	return nil
}

// GetOrderForUser returns the order only to its owner.
func (s *Service) GetOrderForUser(ctx context.Context, orderID, userID uuid.UUID) (*domain.Order, error) {
	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("GetOrderForUser: %w", err)
	}
	if order.UserID != userID {
		return nil, fmt.Errorf("GetOrderForUser: %w", domain.ErrNotFound)
	}
	return order, nil
}
