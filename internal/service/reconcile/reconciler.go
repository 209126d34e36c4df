// Package reconcile maps asynchronous gateway confirmation events onto local
// payment, booking and order state. Delivery is at-least-once and unordered;
// the payment_events ledger plus conditional status updates make the side
// effects at-most-once.
package reconcile

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/servimarket/payments-engine/internal/domain"
	"github.com/servimarket/payments-engine/internal/logging"
	"github.com/servimarket/payments-engine/internal/service/fraud"
)

type EventType string

const (
	EventPaymentProcessing EventType = "payment.processing"
	EventPaymentSucceeded  EventType = "payment.succeeded"
	EventPaymentFailed     EventType = "payment.failed"
	EventPaymentRefunded   EventType = "payment.refunded"
)

func (t EventType) IsValid() bool {
	switch t {
	case EventPaymentProcessing, EventPaymentSucceeded, EventPaymentFailed, EventPaymentRefunded:
		return true
	}
	return false
}

func (t EventType) targetStatus() domain.PaymentStatus {
	switch t {
	case EventPaymentProcessing:
		return domain.PaymentStatusProcessing
	case EventPaymentSucceeded:
		return domain.PaymentStatusSucceeded
	case EventPaymentFailed:
		return domain.PaymentStatusFailed
	case EventPaymentRefunded:
		return domain.PaymentStatusRefunded
	}
	return ""
}

// Event is one verified gateway webhook delivery.
type Event struct {
	ID            string
	Type          EventType
	ReferenceID   string
	Reason        string
	PayloadDigest string
}

type Ack string

const (
	AckApplied   Ack = "applied"
	AckDuplicate Ack = "duplicate"
	AckIgnored   Ack = "ignored"
)

type eventRepo interface {
	Insert(ctx context.Context, tx *sql.Tx, event *domain.PaymentEvent) (bool, error)
}

type paymentRepo interface {
	GetByExternalRefForUpdate(ctx context.Context, tx *sql.Tx, ref string) (*domain.Payment, error)
	UpdateStatusIf(ctx context.Context, tx *sql.Tx, id uuid.UUID, from, to domain.PaymentStatus, failureReason *string, succeededAt *time.Time) error
}

type bookingRepo interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Booking, error)
	UpdateStatus(ctx context.Context, tx *sql.Tx, id uuid.UUID, status domain.BookingStatus) error
}

type orderRepo interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	GetItemsForUpdate(ctx context.Context, tx *sql.Tx, orderID uuid.UUID) ([]domain.OrderItem, error)
	UpdateStatus(ctx context.Context, tx *sql.Tx, id uuid.UUID, status domain.OrderStatus) error
	MarkStockDecremented(ctx context.Context, tx *sql.Tx, id uuid.UUID) (bool, error)
	MarkStockRestored(ctx context.Context, tx *sql.Tx, id uuid.UUID) (bool, error)
}

type productRepo interface {
	DecrementStock(ctx context.Context, tx *sql.Tx, id uuid.UUID, quantity int) (bool, error)
	RestoreStock(ctx context.Context, tx *sql.Tx, id uuid.UUID, quantity int) error
}

type fraudNotifier interface {
	Evaluate(ctx context.Context, sig fraud.Signal)
}

type Reconciler struct {
	events   eventRepo
	payments paymentRepo
	bookings bookingRepo
	orders   orderRepo
	products productRepo
	fraud    fraudNotifier
	db       *sql.DB
}

func NewReconciler(
	events eventRepo,
	payments paymentRepo,
	bookings bookingRepo,
	orders orderRepo,
	products productRepo,
	fraudEngine fraudNotifier,
	db *sql.DB,
) *Reconciler {
	return &Reconciler{
		events:   events,
		payments: payments,
		bookings: bookings,
		orders:   orders,
		products: products,
		fraud:    fraudEngine,
		db:       db,
	}
}

// HandleEvent applies one gateway event inside a single transaction. Any
// error rolls everything back, including the dedup insert, so the gateway's
// redelivery retries the whole event. Invalid transitions are acknowledged
// without effect and their dedup row is committed so redelivery stops.
func (r *Reconciler) HandleEvent(ctx context.Context, ev Event) (Ack, error) {
	log := logging.FromContext(ctx)

	if !ev.Type.IsValid() {
		return "", fmt.Errorf("HandleEvent: event type %q: %w", ev.Type, domain.ErrInvalidRequest)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("HandleEvent: begin tx: %w", err)
	}
	defer tx.Rollback()

	inserted, err := r.events.Insert(ctx, tx, &domain.PaymentEvent{
		ExternalEventID: ev.ID,
		PayloadDigest:   ev.PayloadDigest,
		ReceivedAt:      time.Now().UTC(),
	})
	if err != nil {
		return "", fmt.Errorf("HandleEvent: record event: %w", err)
	}
	if !inserted {
		if err := tx.Commit(); err != nil {
			return "", fmt.Errorf("HandleEvent: commit: %w", err)
		}
		log.Info("duplicate gateway event", "event_id", ev.ID, "reference_id", ev.ReferenceID)
		return AckDuplicate, nil
	}

	p, err := r.payments.GetByExternalRefForUpdate(ctx, tx, ev.ReferenceID)
	if err != nil {
		return "", fmt.Errorf("HandleEvent: %w", err)
	}

	target := ev.Type.targetStatus()
	if !p.Status.CanTransition(target) {
		if err := tx.Commit(); err != nil {
			return "", fmt.Errorf("HandleEvent: commit: %w", err)
		}
		log.Warn("gateway event does not advance payment state, ignoring",
			"event_id", ev.ID,
			"payment_id", p.ID,
			"payment_status", p.Status,
			"event_type", ev.Type,
		)
		return AckIgnored, nil
	}

	if err := r.apply(ctx, tx, p, target, ev.Reason); err != nil {
		return "", fmt.Errorf("HandleEvent: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("HandleEvent: commit: %w", err)
	}

	log.Info("gateway event applied",
		"event_id", ev.ID,
		"payment_id", p.ID,
		"from", p.Status,
		"to", target,
	)

	r.notifyFraud(ctx, p, target)

	return AckApplied, nil
}

func (r *Reconciler) apply(ctx context.Context, tx *sql.Tx, p *domain.Payment, target domain.PaymentStatus, reason string) error {
	var failureReason *string
	var succeededAt *time.Time

	switch target {
	case domain.PaymentStatusSucceeded:
		now := time.Now().UTC()
		succeededAt = &now
	case domain.PaymentStatusFailed:
		if reason != "" {
			failureReason = &reason
		}
	}

	if err := r.payments.UpdateStatusIf(ctx, tx, p.ID, p.Status, target, failureReason, succeededAt); err != nil {
		return fmt.Errorf("apply: payment: %w", err)
	}

	switch target {
	case domain.PaymentStatusSucceeded:
		return r.applySucceeded(ctx, tx, p)
	case domain.PaymentStatusFailed:
		return r.applyFailed(ctx, tx, p)
	case domain.PaymentStatusRefunded:
		return r.applyRefunded(ctx, tx, p)
	}
	return nil
}

func (r *Reconciler) applySucceeded(ctx context.Context, tx *sql.Tx, p *domain.Payment) error {
	if p.BookingID != nil {
		if err := r.bookings.UpdateStatus(ctx, tx, *p.BookingID, domain.BookingStatusConfirmed); err != nil {
			return fmt.Errorf("applySucceeded: booking: %w", err)
		}
	}

	if p.OrderID != nil {
		if err := r.orders.UpdateStatus(ctx, tx, *p.OrderID, domain.OrderStatusProcessing); err != nil {
			return fmt.Errorf("applySucceeded: order: %w", err)
		}
		if err := r.decrementStock(ctx, tx, *p.OrderID); err != nil {
			return fmt.Errorf("applySucceeded: %w", err)
		}
	}

	return nil
}

func (r *Reconciler) applyFailed(ctx context.Context, tx *sql.Tx, p *domain.Payment) error {
	if p.BookingID != nil {
		if err := r.bookings.UpdateStatus(ctx, tx, *p.BookingID, domain.BookingStatusCancelled); err != nil {
			return fmt.Errorf("applyFailed: booking: %w", err)
		}
	}

	// No stock mutation: none was ever applied for a payment that never
	// succeeded.
	if p.OrderID != nil {
		if err := r.orders.UpdateStatus(ctx, tx, *p.OrderID, domain.OrderStatusCancelled); err != nil {
			return fmt.Errorf("applyFailed: order: %w", err)
		}
	}

	return nil
}

func (r *Reconciler) applyRefunded(ctx context.Context, tx *sql.Tx, p *domain.Payment) error {
	if p.BookingID != nil {
		if err := r.bookings.UpdateStatus(ctx, tx, *p.BookingID, domain.BookingStatusCancelled); err != nil {
			return fmt.Errorf("applyRefunded: booking: %w", err)
		}
	}

	if p.OrderID != nil {
		if err := r.orders.UpdateStatus(ctx, tx, *p.OrderID, domain.OrderStatusCancelled); err != nil {
			return fmt.Errorf("applyRefunded: order: %w", err)
		}
		if err := r.restoreStock(ctx, tx, *p.OrderID); err != nil {
			return fmt.Errorf("applyRefunded: %w", err)
		}
	}

	return nil
}

// decrementStock claims the order's one-time decrement and applies it per
// item. A failed claim means stock was already taken for this order, which
// the state machine should have made impossible.
func (r *Reconciler) decrementStock(ctx context.Context, tx *sql.Tx, orderID uuid.UUID) error {
	claimed, err := r.orders.MarkStockDecremented(ctx, tx, orderID)
	if err != nil {
		return fmt.Errorf("decrementStock: %w", err)
	}
	if !claimed {
		return fmt.Errorf("decrementStock: order %s already decremented: %w", orderID, domain.ErrInvariantViolation)
	}

	items, err := r.orders.GetItemsForUpdate(ctx, tx, orderID)
	if err != nil {
		return fmt.Errorf("decrementStock: %w", err)
	}

	for _, item := range items {
		ok, err := r.products.DecrementStock(ctx, tx, item.ProductID, item.Quantity)
		if err != nil {
			return fmt.Errorf("decrementStock: product %s: %w", item.ProductID, err)
		}
		if !ok {
			return fmt.Errorf("decrementStock: product %s oversold: %w", item.ProductID, domain.ErrInsufficientStock)
		}
	}

	return nil
}

// restoreStock is the exact inverse of decrementStock and only legal after
// it. Restoring an order that never decremented is detected state corruption
// and is surfaced, never papered over.
func (r *Reconciler) restoreStock(ctx context.Context, tx *sql.Tx, orderID uuid.UUID) error {
	claimed, err := r.orders.MarkStockRestored(ctx, tx, orderID)
	if err != nil {
		return fmt.Errorf("restoreStock: %w", err)
	}
	if !claimed {
		return fmt.Errorf("restoreStock: order %s was never decremented or already restored: %w", orderID, domain.ErrInvariantViolation)
	}

	items, err := r.orders.GetItemsForUpdate(ctx, tx, orderID)
	if err != nil {
		return fmt.Errorf("restoreStock: %w", err)
	}

	for _, item := range items {
		if err := r.products.RestoreStock(ctx, tx, item.ProductID, item.Quantity); err != nil {
			return fmt.Errorf("restoreStock: product %s: %w", item.ProductID, err)
		}
	}

	return nil
}

// notifyFraud runs after commit on a detached context so fraud evaluation
// can neither block nor fail the reconciliation.
func (r *Reconciler) notifyFraud(ctx context.Context, p *domain.Payment, target domain.PaymentStatus) {
	var kind fraud.SignalKind
	switch target {
	case domain.PaymentStatusFailed:
		kind = fraud.KindPaymentFailed
	case domain.PaymentStatusRefunded:
		kind = fraud.KindPaymentRefunded
	default:
		return
	}

	detached := context.WithoutCancel(ctx)
	go func() {
		actorID, err := r.resolveActor(detached, p)
		if err != nil {
			logging.FromContext(detached).Warn("could not attribute payment for fraud evaluation",
				"payment_id", p.ID, "error", err)
			return
		}
		r.fraud.Evaluate(detached, fraud.Signal{
			Kind:      kind,
			ActorID:   actorID,
			BookingID: p.BookingID,
			PaymentID: &p.ID,
		})
	}()
}

func (r *Reconciler) resolveActor(ctx context.Context, p *domain.Payment) (uuid.UUID, error) {
	switch {
	case p.BookingID != nil:
		booking, err := r.bookings.GetByID(ctx, *p.BookingID)
		if err != nil {
			return uuid.Nil, err
		}
		return booking.ClientID, nil
	case p.OrderID != nil:
		order, err := r.orders.GetByID(ctx, *p.OrderID)
		if err != nil {
			return uuid.Nil, err
		}
		return order.UserID, nil
	}
	return uuid.Nil, errors.New("payment has no booking or order")
}
