package intent

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/servimarket/payments-engine/internal/domain"
	"github.com/servimarket/payments-engine/internal/fees"
	"github.com/servimarket/payments-engine/internal/gateway"
	"github.com/servimarket/payments-engine/internal/repository"
	"github.com/servimarket/payments-engine/internal/service/fraud"
	"github.com/servimarket/payments-engine/internal/testutil"
)

type fakeGateway struct {
	mu    sync.Mutex
	calls int
	errs  []error // consumed per call; nil entry means success
}

func (f *fakeGateway) OpenAuthorization(context.Context, gateway.AuthorizationRequest) (*gateway.Authorization, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var err error
	if f.calls < len(f.errs) {
		err = f.errs[f.calls]
	}
	f.calls++
	if err != nil {
		return nil, err
	}
	return &gateway.Authorization{
		ReferenceID: "auth_" + uuid.NewString(),
		ClientToken: "tok_" + uuid.NewString(),
	}, nil
}

type noopNotifier struct{}

func (noopNotifier) Evaluate(context.Context, fraud.Signal) {}

type testEnv struct {
	db *sql.DB
}

func setupIntentService(t *testing.T, gw *fakeGateway) (*Service, *testEnv) {
	t.Helper()

	db := testutil.SetupTestDB(t)
	env := &testEnv{db: db}

	svc := NewService(
		repository.NewBookingRepository(db),
		repository.NewPaymentRepository(db),
		repository.NewLedgerRepository(db),
		repository.NewOrderRepository(db),
		gw,
		fees.NewCalculator(0.15, 0.029, 30),
		noopNotifier{},
		db,
		2*time.Second,
	)
	return svc, env
}

func TestCreateBookingIntent(t *testing.T) {
	gw := &fakeGateway{}
	svc, env := setupIntentService(t, gw)

	clientID := uuid.New()
	booking := testutil.SeedBooking(t, env.db, clientID, uuid.New())

	in, err := svc.CreateBookingIntent(t.Context(), CreateIntentRequest{
		BookingID: booking.ID,
		Amount:    10000,
		Currency:  domain.CurrencyUSD,
		ActorID:   clientID,
	})
	require.NoError(t, err)

	assert.Equal(t, int64(1500), in.Split.Commission)
	assert.Equal(t, int64(320), in.Split.ProcessingFee)
	assert.Equal(t, int64(8180), in.Split.ProviderAmount)
	assert.NotEmpty(t, in.ExternalReferenceID)
	assert.NotEmpty(t, in.ClientToken)

	assert.Equal(t, domain.PaymentStatusPending, testutil.GetPaymentStatus(t, env.db, in.PaymentID))
	assert.Equal(t, 3, testutil.CountLedgerEntries(t, env.db, in.PaymentID))

	var totalAmount, commission int64
	require.NoError(t, env.db.QueryRow(
		`SELECT total_amount, commission FROM bookings WHERE id = $1`, booking.ID,
	).Scan(&totalAmount, &commission))
	assert.Equal(t, int64(10000), totalAmount)
	assert.Equal(t, int64(1500), commission)
}

func TestCreateBookingIntentProviderMayInitiate(t *testing.T) {
	gw := &fakeGateway{}
	svc, env := setupIntentService(t, gw)

	providerID := uuid.New()
	booking := testutil.SeedBooking(t, env.db, uuid.New(), providerID)

	_, err := svc.CreateBookingIntent(t.Context(), CreateIntentRequest{
		BookingID: booking.ID,
		Amount:    5000,
		Currency:  domain.CurrencyEUR,
		ActorID:   providerID,
	})
	assert.NoError(t, err)
}

func TestCreateBookingIntentRejectsOutsider(t *testing.T) {
	gw := &fakeGateway{}
	svc, env := setupIntentService(t, gw)

	booking := testutil.SeedBooking(t, env.db, uuid.New(), uuid.New())

	_, err := svc.CreateBookingIntent(t.Context(), CreateIntentRequest{
		BookingID: booking.ID,
		Amount:    10000,
		Currency:  domain.CurrencyUSD,
		ActorID:   uuid.New(),
	})
	assert.ErrorIs(t, err, domain.ErrNotCounterparty)
	assert.Zero(t, gw.calls, "the gateway must not be contacted for rejected requests")
}

func TestCreateBookingIntentValidation(t *testing.T) {
	gw := &fakeGateway{}
	svc, env := setupIntentService(t, gw)

	clientID := uuid.New()
	booking := testutil.SeedBooking(t, env.db, clientID, uuid.New())

	_, err := svc.CreateBookingIntent(t.Context(), CreateIntentRequest{
		BookingID: booking.ID, Amount: 0, Currency: domain.CurrencyUSD, ActorID: clientID,
	})
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, err = svc.CreateBookingIntent(t.Context(), CreateIntentRequest{
		BookingID: booking.ID, Amount: 10000, Currency: "JPY", ActorID: clientID,
	})
	assert.ErrorIs(t, err, domain.ErrInvalidCurrency)

	_, err = svc.CreateBookingIntent(t.Context(), CreateIntentRequest{
		BookingID: uuid.New(), Amount: 10000, Currency: domain.CurrencyUSD, ActorID: clientID,
	})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCreateBookingIntentRejectsSecondActive(t *testing.T) {
	gw := &fakeGateway{}
	svc, env := setupIntentService(t, gw)

	clientID := uuid.New()
	booking := testutil.SeedBooking(t, env.db, clientID, uuid.New())
	testutil.SeedPayment(t, env.db, &booking.ID, nil, 5000, domain.PaymentStatusPending)

	_, err := svc.CreateBookingIntent(t.Context(), CreateIntentRequest{
		BookingID: booking.ID,
		Amount:    10000,
		Currency:  domain.CurrencyUSD,
		ActorID:   clientID,
	})
	assert.ErrorIs(t, err, domain.ErrActivePaymentExists)
}

func TestCreateBookingIntentAllowedAfterTerminalPayment(t *testing.T) {
	gw := &fakeGateway{}
	svc, env := setupIntentService(t, gw)

	clientID := uuid.New()
	booking := testutil.SeedBooking(t, env.db, clientID, uuid.New())
	testutil.SeedPayment(t, env.db, &booking.ID, nil, 5000, domain.PaymentStatusFailed)

	_, err := svc.CreateBookingIntent(t.Context(), CreateIntentRequest{
		BookingID: booking.ID,
		Amount:    10000,
		Currency:  domain.CurrencyUSD,
		ActorID:   clientID,
	})
	assert.NoError(t, err, "a failed payment must not block a retry")
}

func TestCreateBookingIntentGatewayRejectionIsPermanent(t *testing.T) {
	gw := &fakeGateway{errs: []error{domain.ErrGatewayRejected}}
	svc, env := setupIntentService(t, gw)

	clientID := uuid.New()
	booking := testutil.SeedBooking(t, env.db, clientID, uuid.New())

	_, err := svc.CreateBookingIntent(t.Context(), CreateIntentRequest{
		BookingID: booking.ID,
		Amount:    10000,
		Currency:  domain.CurrencyUSD,
		ActorID:   clientID,
	})
	require.ErrorIs(t, err, domain.ErrGatewayRejected)
	assert.Equal(t, 1, gw.calls, "rejections must not be retried")

	var count int
	require.NoError(t, env.db.QueryRow(`SELECT COUNT(*) FROM payments`).Scan(&count))
	assert.Zero(t, count, "no local state without an authorization")
}

func TestCreateBookingIntentRetriesTransientGatewayFailure(t *testing.T) {
	gw := &fakeGateway{errs: []error{domain.ErrGatewayUnavailable, domain.ErrGatewayUnavailable}}
	svc, env := setupIntentService(t, gw)

	clientID := uuid.New()
	booking := testutil.SeedBooking(t, env.db, clientID, uuid.New())

	in, err := svc.CreateBookingIntent(t.Context(), CreateIntentRequest{
		BookingID: booking.ID,
		Amount:    10000,
		Currency:  domain.CurrencyUSD,
		ActorID:   clientID,
	})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, gw.calls, 3)
	assert.Equal(t, domain.PaymentStatusPending, testutil.GetPaymentStatus(t, env.db, in.PaymentID))
}

func TestGetPaymentForActor(t *testing.T) {
	gw := &fakeGateway{}
	svc, env := setupIntentService(t, gw)

	clientID := uuid.New()
	providerID := uuid.New()
	booking := testutil.SeedBooking(t, env.db, clientID, providerID)
	p := testutil.SeedPayment(t, env.db, &booking.ID, nil, 10000, domain.PaymentStatusPending)

	got, err := svc.GetPaymentForActor(t.Context(), p.ID, clientID)
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)

	_, err = svc.GetPaymentForActor(t.Context(), p.ID, providerID)
	assert.NoError(t, err)

	// Strangers see not-found, not forbidden.
	_, err = svc.GetPaymentForActor(t.Context(), p.ID, uuid.New())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
