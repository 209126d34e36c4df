// Package intent orchestrates payment authorization for bookings: validate,
// compute the split, open the gateway authorization, then persist everything
// atomically. Nothing is written unless the gateway call succeeded.
package intent

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
	"github.com/servimarket/payments-engine/internal/service/fraud"
)

type bookingRepo interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Booking, error)
	UpdatePaymentTotals(ctx context.Context, tx *sql.Tx, id uuid.UUID, totalAmount, commission int64) error
}

type paymentRepo interface {
	Create(ctx context.Context, tx *sql.Tx, p *domain.Payment) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Payment, error)
	GetActiveByBookingID(ctx context.Context, bookingID uuid.UUID) (*domain.Payment, error)
}

type ledgerRepo interface {
	Create(ctx context.Context, tx *sql.Tx, entry *domain.LedgerEntry) error
}

type orderReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Order, error)
}

type gatewayClient interface {
	OpenAuthorization(ctx context.Context, req gateway.AuthorizationRequest) (*gateway.Authorization, error)
}

type fraudNotifier interface {
	Evaluate(ctx context.Context, sig fraud.Signal)
}

type Service struct {
	bookings     bookingRepo
	payments     paymentRepo
	ledger       ledgerRepo
	orders       orderReader
	gateway      gatewayClient
	fees         *fees.Calculator
	fraud        fraudNotifier
	db           *sql.DB
	maxRetryWait time.Duration
}

func NewService(
	bookings bookingRepo,
	payments paymentRepo,
	ledger ledgerRepo,
	orders orderReader,
	gw gatewayClient,
	calc *fees.Calculator,
	fraudEngine fraudNotifier,
	db *sql.DB,
	maxRetryWait time.Duration,
) *Service {
	return &Service{
		bookings:     bookings,
		payments:     payments,
		ledger:       ledger,
		orders:       orders,
		gateway:      gw,
		fees:         calc,
		fraud:        fraudEngine,
		db:           db,
		maxRetryWait: maxRetryWait,
	}
}

type CreateIntentRequest struct {
	BookingID uuid.UUID
	Amount    int64
	Currency  domain.Currency
	ActorID   uuid.UUID
}

type Intent struct {
	PaymentID           uuid.UUID
	ExternalReferenceID string
	ClientToken         string
	Amount              int64
	Split               fees.Split
}

func (s *Service) CreateBookingIntent(ctx context.Context, req CreateIntentRequest) (*Intent, error) {
	log := logging.FromContext(ctx)

	booking, err := s.bookings.GetByID(ctx, req.BookingID)
	if err != nil {
		return nil, fmt.Errorf("CreateBookingIntent: %w", err)
	}

	if !booking.IsCounterparty(req.ActorID) {
		return nil, fmt.Errorf("CreateBookingIntent: %w", domain.ErrNotCounterparty)
	}

	if req.Amount <= 0 {
		return nil, fmt.Errorf("CreateBookingIntent: %w", domain.ErrInvalidAmount)
	}
	if !req.Currency.IsValid() {
		return nil, fmt.Errorf("CreateBookingIntent: %w", domain.ErrInvalidCurrency)
	}

	if _, err := s.payments.GetActiveByBookingID(ctx, req.BookingID); err == nil {
		return nil, fmt.Errorf("CreateBookingIntent: %w", domain.ErrActivePaymentExists)
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("CreateBookingIntent: %w", err)
	}

	split, err := s.fees.Split(req.Amount)
	if err != nil {
		return nil, fmt.Errorf("CreateBookingIntent: %w", err)
	}

	auth, err := s.openAuthorization(ctx, req.Amount, req.Currency, map[string]string{
		"booking_id": req.BookingID.String(),
	})
	if err != nil {
		return nil, fmt.Errorf("CreateBookingIntent: %w", err)
	}

	p := &domain.Payment{
		ID:                  uuid.New(),
		BookingID:           &req.BookingID,
		Amount:              req.Amount,
		Currency:            req.Currency,
		Status:              domain.PaymentStatusPending,
		ExternalReferenceID: auth.ReferenceID,
		Commission:          split.Commission,
		ProcessingFee:       split.ProcessingFee,
		ProviderAmount:      split.ProviderAmount,
	}

	if err := s.persistIntent(ctx, p, booking); err != nil {
		return nil, fmt.Errorf("CreateBookingIntent: %w", err)
	}

	log.Info("payment intent created",
		"payment_id", p.ID,
		"booking_id", req.BookingID,
		"amount", req.Amount,
		"commission", split.Commission,
		"processing_fee", split.ProcessingFee,
		"provider_amount", split.ProviderAmount,
		"reference_id", auth.ReferenceID,
	)

	go s.fraud.Evaluate(context.WithoutCancel(ctx), fraud.Signal{
		Kind:      fraud.KindPaymentCreated,
		ActorID:   req.ActorID,
		BookingID: &req.BookingID,
		PaymentID: &p.ID,
	})

	return &Intent{
		PaymentID:           p.ID,
		ExternalReferenceID: auth.ReferenceID,
		ClientToken:         auth.ClientToken,
		Amount:              req.Amount,
		Split:               split,
	}, nil
}

// openAuthorization retries transient gateway failures with bounded
// exponential backoff. Rejections are permanent and returned immediately. On
// exhaustion no local state exists, so the caller can simply retry later.
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

func (s *Service) persistIntent(ctx context.Context, p *domain.Payment, booking *domain.Booking) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("persistIntent: begin tx: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now

	if err := s.payments.Create(ctx, tx, p); err != nil {
		return fmt.Errorf("persistIntent: create payment: %w", err)
	}

	if err := writeSplitEntries(ctx, tx, s.ledger, p, now); err != nil {
		return fmt.Errorf("persistIntent: %w", err)
	}

	if err := s.bookings.UpdatePaymentTotals(ctx, tx, booking.ID, p.Amount, p.Commission); err != nil {
		return fmt.Errorf("persistIntent: update booking totals: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("persistIntent: commit: %w", err)
	}
	return nil
}

func writeSplitEntries(ctx context.Context, tx *sql.Tx, ledger ledgerRepo, p *domain.Payment, now time.Time) error {
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
		if err := ledger.Create(ctx, tx, &e); err != nil {
			return fmt.Errorf("writeSplitEntries: %s: %w", e.EntryType, err)
		}
	}
	return nil
}

// GetPaymentForActor returns the payment only to a counterparty of its
// booking. Anyone else sees not-found, not forbidden, so payment ids do not
// leak.
func (s *Service) GetPaymentForActor(ctx context.Context, paymentID, actorID uuid.UUID) (*domain.Payment, error) {
	p, err := s.payments.GetByID(ctx, paymentID)
	if err != nil {
		return nil, fmt.Errorf("GetPaymentForActor: %w", err)
	}

	if p.BookingID != nil {
		booking, err := s.bookings.GetByID(ctx, *p.BookingID)
		if err != nil {
			return nil, fmt.Errorf("GetPaymentForActor: %w", err)
		}
		if !booking.IsCounterparty(actorID) {
			return nil, fmt.Errorf("GetPaymentForActor: %w", domain.ErrNotFound)
		}
	}

	if p.OrderID != nil {
		order, err := s.orders.GetByID(ctx, *p.OrderID)
		if err != nil {
			return nil, fmt.Errorf("GetPaymentForActor: %w", err)
		}
		if order.UserID != actorID {
			return nil, fmt.Errorf("GetPaymentForActor: %w", domain.ErrNotFound)
		}
	}

	return p, nil
}
