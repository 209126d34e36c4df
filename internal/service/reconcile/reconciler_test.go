package reconcile

import (
	"context"
	"database/sql"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/servimarket/payments-engine/internal/domain"
	"github.com/servimarket/payments-engine/internal/repository"
	"github.com/servimarket/payments-engine/internal/service/fraud"
	"github.com/servimarket/payments-engine/internal/testutil"
)

type captureNotifier struct {
	mu      sync.Mutex
	signals []fraud.Signal
}

func (c *captureNotifier) Evaluate(_ context.Context, sig fraud.Signal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.signals = append(c.signals, sig)
}

func setupReconciler(t *testing.T) (*Reconciler, *sql.DB, *captureNotifier) {
	t.Helper()

	db := testutil.SetupTestDB(t)
	notifier := &captureNotifier{}

	rec := NewReconciler(
		repository.NewPaymentEventRepository(db),
		repository.NewPaymentRepository(db),
		repository.NewBookingRepository(db),
		repository.NewOrderRepository(db),
		repository.NewProductRepository(db),
		notifier,
		db,
	)
	return rec, db, notifier
}

func succeededEvent(ref string) Event {
	return Event{
		ID:            uuid.NewString(),
		Type:          EventPaymentSucceeded,
		ReferenceID:   ref,
		PayloadDigest: "digest",
	}
}

func TestHandleEventSucceededBookingPayment(t *testing.T) {
	rec, db, _ := setupReconciler(t)

	booking := testutil.SeedBooking(t, db, uuid.New(), uuid.New())
	p := testutil.SeedPayment(t, db, &booking.ID, nil, 10000, domain.PaymentStatusPending)

	ack, err := rec.HandleEvent(t.Context(), succeededEvent(p.ExternalReferenceID))
	require.NoError(t, err)
	assert.Equal(t, AckApplied, ack)

	assert.Equal(t, domain.PaymentStatusSucceeded, testutil.GetPaymentStatus(t, db, p.ID))

	var bookingStatus string
	require.NoError(t, db.QueryRow(`SELECT status FROM bookings WHERE id = $1`, booking.ID).Scan(&bookingStatus))
	assert.Equal(t, "confirmed", bookingStatus)

	var succeededAt sql.NullTime
	require.NoError(t, db.QueryRow(`SELECT succeeded_at FROM payments WHERE id = $1`, p.ID).Scan(&succeededAt))
	assert.True(t, succeededAt.Valid)

	assert.Equal(t, 1, testutil.CountPaymentEvents(t, db))
}

func TestHandleEventDuplicateDeliveryIsNoOp(t *testing.T) {
	rec, db, _ := setupReconciler(t)

	booking := testutil.SeedBooking(t, db, uuid.New(), uuid.New())
	p := testutil.SeedPayment(t, db, &booking.ID, nil, 10000, domain.PaymentStatusPending)

	ev := succeededEvent(p.ExternalReferenceID)

	ack, err := rec.HandleEvent(t.Context(), ev)
	require.NoError(t, err)
	require.Equal(t, AckApplied, ack)

	// Same event id redelivered: acknowledged, nothing reapplied.
	ack, err = rec.HandleEvent(t.Context(), ev)
	require.NoError(t, err)
	assert.Equal(t, AckDuplicate, ack)
	assert.Equal(t, 1, testutil.CountPaymentEvents(t, db))
	assert.Equal(t, domain.PaymentStatusSucceeded, testutil.GetPaymentStatus(t, db, p.ID))
}

func TestHandleEventSucceededOrderDecrementsStockOnce(t *testing.T) {
	rec, db, _ := setupReconciler(t)

	product := testutil.SeedProduct(t, db, "widget", 2500, 5)
	order := testutil.SeedOrder(t, db, uuid.New(), []domain.OrderItem{
		{ProductID: product.ID, Quantity: 2, UnitPrice: product.Price},
	})
	p := testutil.SeedPayment(t, db, nil, &order.ID, order.TotalAmount, domain.PaymentStatusPending)

	ack, err := rec.HandleEvent(t.Context(), succeededEvent(p.ExternalReferenceID))
	require.NoError(t, err)
	require.Equal(t, AckApplied, ack)
	assert.Equal(t, 3, testutil.GetProductStock(t, db, product.ID))

	// A distinct event id for a state the payment already holds: ignored,
	// stock untouched.
	ack, err = rec.HandleEvent(t.Context(), succeededEvent(p.ExternalReferenceID))
	require.NoError(t, err)
	assert.Equal(t, AckIgnored, ack)
	assert.Equal(t, 3, testutil.GetProductStock(t, db, product.ID))
	assert.Equal(t, 2, testutil.CountPaymentEvents(t, db), "ignored events still record their dedup row")
}

func TestHandleEventFailedPayment(t *testing.T) {
	rec, db, _ := setupReconciler(t)

	product := testutil.SeedProduct(t, db, "widget", 2500, 5)
	order := testutil.SeedOrder(t, db, uuid.New(), []domain.OrderItem{
		{ProductID: product.ID, Quantity: 1, UnitPrice: product.Price},
	})
	p := testutil.SeedPayment(t, db, nil, &order.ID, order.TotalAmount, domain.PaymentStatusPending)

	ack, err := rec.HandleEvent(t.Context(), Event{
		ID:            uuid.NewString(),
		Type:          EventPaymentFailed,
		ReferenceID:   p.ExternalReferenceID,
		Reason:        "card_declined",
		PayloadDigest: "digest",
	})
	require.NoError(t, err)
	assert.Equal(t, AckApplied, ack)

	assert.Equal(t, domain.PaymentStatusFailed, testutil.GetPaymentStatus(t, db, p.ID))
	assert.Equal(t, 5, testutil.GetProductStock(t, db, product.ID), "failed payments never touch stock")

	var orderStatus string
	require.NoError(t, db.QueryRow(`SELECT status FROM orders WHERE id = $1`, order.ID).Scan(&orderStatus))
	assert.Equal(t, "cancelled", orderStatus)

	var reason sql.NullString
	require.NoError(t, db.QueryRow(`SELECT failure_reason FROM payments WHERE id = $1`, p.ID).Scan(&reason))
	require.True(t, reason.Valid)
	assert.Equal(t, "card_declined", reason.String)
}

func TestHandleEventRefundRestoresStockOnce(t *testing.T) {
	rec, db, _ := setupReconciler(t)

	product := testutil.SeedProduct(t, db, "widget", 2500, 5)
	order := testutil.SeedOrder(t, db, uuid.New(), []domain.OrderItem{
		{ProductID: product.ID, Quantity: 2, UnitPrice: product.Price},
	})
	p := testutil.SeedPayment(t, db, nil, &order.ID, order.TotalAmount, domain.PaymentStatusPending)

	_, err := rec.HandleEvent(t.Context(), succeededEvent(p.ExternalReferenceID))
	require.NoError(t, err)
	require.Equal(t, 3, testutil.GetProductStock(t, db, product.ID))

	ack, err := rec.HandleEvent(t.Context(), Event{
		ID:            uuid.NewString(),
		Type:          EventPaymentRefunded,
		ReferenceID:   p.ExternalReferenceID,
		PayloadDigest: "digest",
	})
	require.NoError(t, err)
	assert.Equal(t, AckApplied, ack)
	assert.Equal(t, domain.PaymentStatusRefunded, testutil.GetPaymentStatus(t, db, p.ID))
	assert.Equal(t, 5, testutil.GetProductStock(t, db, product.ID))

	// Refunded is terminal; another refund event is ignored and nothing
	// moves.
	ack, err = rec.HandleEvent(t.Context(), Event{
		ID:            uuid.NewString(),
		Type:          EventPaymentRefunded,
		ReferenceID:   p.ExternalReferenceID,
		PayloadDigest: "digest",
	})
	require.NoError(t, err)
	assert.Equal(t, AckIgnored, ack)
	assert.Equal(t, 5, testutil.GetProductStock(t, db, product.ID))
}

func TestHandleEventRefundWithoutDecrementIsInvariantViolation(t *testing.T) {
	rec, db, _ := setupReconciler(t)

	product := testutil.SeedProduct(t, db, "widget", 2500, 5)
	order := testutil.SeedOrder(t, db, uuid.New(), []domain.OrderItem{
		{ProductID: product.ID, Quantity: 2, UnitPrice: product.Price},
	})
	// Seeded directly as succeeded: the decrement guard was never claimed.
	p := testutil.SeedPayment(t, db, nil, &order.ID, order.TotalAmount, domain.PaymentStatusSucceeded)

	_, err := rec.HandleEvent(t.Context(), Event{
		ID:            uuid.NewString(),
		Type:          EventPaymentRefunded,
		ReferenceID:   p.ExternalReferenceID,
		PayloadDigest: "digest",
	})
	require.ErrorIs(t, err, domain.ErrInvariantViolation)

	// The whole transaction rolled back, dedup row included, so a corrected
	// redelivery can still apply later.
	assert.Equal(t, domain.PaymentStatusSucceeded, testutil.GetPaymentStatus(t, db, p.ID))
	assert.Equal(t, 5, testutil.GetProductStock(t, db, product.ID))
	assert.Equal(t, 0, testutil.CountPaymentEvents(t, db))
}

func TestHandleEventOutOfOrderRefundIgnored(t *testing.T) {
	rec, db, _ := setupReconciler(t)

	booking := testutil.SeedBooking(t, db, uuid.New(), uuid.New())
	p := testutil.SeedPayment(t, db, &booking.ID, nil, 10000, domain.PaymentStatusPending)

	ack, err := rec.HandleEvent(t.Context(), Event{
		ID:            uuid.NewString(),
		Type:          EventPaymentRefunded,
		ReferenceID:   p.ExternalReferenceID,
		PayloadDigest: "digest",
	})
	require.NoError(t, err)
	assert.Equal(t, AckIgnored, ack)
	assert.Equal(t, domain.PaymentStatusPending, testutil.GetPaymentStatus(t, db, p.ID))

	// A later, properly ordered event still applies.
	ack, err = rec.HandleEvent(t.Context(), succeededEvent(p.ExternalReferenceID))
	require.NoError(t, err)
	assert.Equal(t, AckApplied, ack)
	assert.Equal(t, domain.PaymentStatusSucceeded, testutil.GetPaymentStatus(t, db, p.ID))
}

func TestHandleEventUnknownReference(t *testing.T) {
	rec, db, _ := setupReconciler(t)

	_, err := rec.HandleEvent(t.Context(), succeededEvent("auth_nonexistent"))
	require.ErrorIs(t, err, domain.ErrNotFound)
	assert.Equal(t, 0, testutil.CountPaymentEvents(t, db))
}

func TestHandleEventRejectsUnknownType(t *testing.T) {
	rec, _, _ := setupReconciler(t)

	_, err := rec.HandleEvent(t.Context(), Event{
		ID:          uuid.NewString(),
		Type:        "payment.exploded",
		ReferenceID: "auth_x",
	})
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
}
