package repository

import (
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/servimarket/payments-engine/internal/domain"
	"github.com/servimarket/payments-engine/internal/testutil"
)

func inTx(t *testing.T, db *sql.DB, fn func(tx *sql.Tx) error) error {
	t.Helper()

	tx, err := db.Begin()
	require.NoError(t, err)

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func pendingPayment(bookingID *uuid.UUID, orderID *uuid.UUID) *domain.Payment {
	now := time.Now().UTC()
	return &domain.Payment{
		ID:                  uuid.New(),
		BookingID:           bookingID,
		OrderID:             orderID,
		Amount:              10000,
		Currency:            domain.CurrencyUSD,
		Status:              domain.PaymentStatusPending,
		ExternalReferenceID: "auth_" + uuid.NewString(),
		Commission:          1500,
		ProcessingFee:       320,
		ProviderAmount:      8180,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
}

func TestPaymentUniqueActivePerBooking(t *testing.T) {
	db := testutil.SetupTestDB(t)
	repo := NewPaymentRepository(db)

	booking := testutil.SeedBooking(t, db, uuid.New(), uuid.New())

	err := inTx(t, db, func(tx *sql.Tx) error {
		return repo.Create(t.Context(), tx, pendingPayment(&booking.ID, nil))
	})
	require.NoError(t, err)

	// The partial unique index, not application logic, rejects the second
	// active payment.
	err = inTx(t, db, func(tx *sql.Tx) error {
		return repo.Create(t.Context(), tx, pendingPayment(&booking.ID, nil))
	})
	assert.ErrorIs(t, err, domain.ErrActivePaymentExists)
}

func TestPaymentUniqueIndexIgnoresTerminalRows(t *testing.T) {
	db := testutil.SetupTestDB(t)
	repo := NewPaymentRepository(db)

	booking := testutil.SeedBooking(t, db, uuid.New(), uuid.New())
	testutil.SeedPayment(t, db, &booking.ID, nil, 5000, domain.PaymentStatusFailed)
	testutil.SeedPayment(t, db, &booking.ID, nil, 5000, domain.PaymentStatusRefunded)

	err := inTx(t, db, func(tx *sql.Tx) error {
		return repo.Create(t.Context(), tx, pendingPayment(&booking.ID, nil))
	})
	assert.NoError(t, err, "terminal payments must not block a new intent")
}

func TestPaymentUpdateStatusIfDetectsStaleState(t *testing.T) {
	db := testutil.SetupTestDB(t)
	repo := NewPaymentRepository(db)

	booking := testutil.SeedBooking(t, db, uuid.New(), uuid.New())
	p := testutil.SeedPayment(t, db, &booking.ID, nil, 10000, domain.PaymentStatusPending)

	err := inTx(t, db, func(tx *sql.Tx) error {
		return repo.UpdateStatusIf(t.Context(), tx, p.ID, domain.PaymentStatusPending, domain.PaymentStatusProcessing, nil, nil)
	})
	require.NoError(t, err)

	// The observed state moved on; the conditional update must not apply.
	err = inTx(t, db, func(tx *sql.Tx) error {
		return repo.UpdateStatusIf(t.Context(), tx, p.ID, domain.PaymentStatusPending, domain.PaymentStatusFailed, nil, nil)
	})
	assert.ErrorIs(t, err, domain.ErrStaleState)
	assert.Equal(t, domain.PaymentStatusProcessing, testutil.GetPaymentStatus(t, db, p.ID))
}

func TestPaymentEventInsertDeduplicates(t *testing.T) {
	db := testutil.SetupTestDB(t)
	repo := NewPaymentEventRepository(db)

	ev := &domain.PaymentEvent{
		ExternalEventID: uuid.NewString(),
		PayloadDigest:   "digest",
		ReceivedAt:      time.Now().UTC(),
	}

	err := inTx(t, db, func(tx *sql.Tx) error {
		inserted, err := repo.Insert(t.Context(), tx, ev)
		require.NoError(t, err)
		assert.True(t, inserted)
		return nil
	})
	require.NoError(t, err)

	err = inTx(t, db, func(tx *sql.Tx) error {
		inserted, err := repo.Insert(t.Context(), tx, ev)
		require.NoError(t, err)
		assert.False(t, inserted)
		return nil
	})
	require.NoError(t, err)
}

func openDispute(bookingID, clientID, providerID uuid.UUID, dtype domain.DisputeType) *domain.Dispute {
	return &domain.Dispute{
		ID:          uuid.New(),
		BookingID:   bookingID,
		ClientID:    clientID,
		ProviderID:  providerID,
		Type:        dtype,
		Status:      domain.DisputeStatusOpen,
		Reason:      "test reason",
		Description: "test description",
		Evidence:    json.RawMessage(`[]`),
		CreatedAt:   time.Now().UTC(),
	}
}

func TestDisputeUniqueActivePerBookingAndType(t *testing.T) {
	db := testutil.SetupTestDB(t)
	repo := NewDisputeRepository(db)

	booking := testutil.SeedBooking(t, db, uuid.New(), uuid.New())

	first := openDispute(booking.ID, booking.ClientID, booking.ProviderID, domain.DisputeTypeService)
	require.NoError(t, repo.Create(t.Context(), first))

	// Same type is blocked while the first stays active.
	err := repo.Create(t.Context(), openDispute(booking.ID, booking.ClientID, booking.ProviderID, domain.DisputeTypeService))
	assert.ErrorIs(t, err, domain.ErrActiveDisputeExists)

	// A different type on the same booking is fine.
	err = repo.Create(t.Context(), openDispute(booking.ID, booking.ClientID, booking.ProviderID, domain.DisputeTypePayment))
	assert.NoError(t, err)

	// Resolution frees the slot for the original type.
	require.NoError(t, repo.Resolve(t.Context(), first.ID, uuid.New(), domain.DisputeStatusResolved, "done", time.Now().UTC()))
	err = repo.Create(t.Context(), openDispute(booking.ID, booking.ClientID, booking.ProviderID, domain.DisputeTypeService))
	assert.NoError(t, err)
}

func TestDisputeEvidenceAppendsWhileOpen(t *testing.T) {
	db := testutil.SetupTestDB(t)
	repo := NewDisputeRepository(db)

	booking := testutil.SeedBooking(t, db, uuid.New(), uuid.New())
	d := openDispute(booking.ID, booking.ClientID, booking.ProviderID, domain.DisputeTypeNoShow)
	require.NoError(t, repo.Create(t.Context(), d))

	require.NoError(t, repo.AppendEvidence(t.Context(), d.ID, json.RawMessage(`[{"kind":"photo"}]`)))
	require.NoError(t, repo.AppendEvidence(t.Context(), d.ID, json.RawMessage(`[{"kind":"receipt"}]`)))

	got, err := repo.GetByID(t.Context(), d.ID)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"kind":"photo"},{"kind":"receipt"}]`, string(got.Evidence))

	// Evidence is frozen once the dispute leaves the open state.
	require.NoError(t, repo.UpdateStatusIf(t.Context(), d.ID, domain.DisputeStatusOpen, domain.DisputeStatusUnderReview))
	err = repo.AppendEvidence(t.Context(), d.ID, json.RawMessage(`[{"kind":"late"}]`))
	assert.ErrorIs(t, err, domain.ErrStaleState)
}

func TestDisputeResolveIsTerminal(t *testing.T) {
	db := testutil.SetupTestDB(t)
	repo := NewDisputeRepository(db)

	booking := testutil.SeedBooking(t, db, uuid.New(), uuid.New())
	d := openDispute(booking.ID, booking.ClientID, booking.ProviderID, domain.DisputeTypeCancellation)
	require.NoError(t, repo.Create(t.Context(), d))

	admin := uuid.New()
	require.NoError(t, repo.Resolve(t.Context(), d.ID, admin, domain.DisputeStatusRejected, "unfounded", time.Now().UTC()))

	err := repo.Resolve(t.Context(), d.ID, admin, domain.DisputeStatusResolved, "second try", time.Now().UTC())
	assert.ErrorIs(t, err, domain.ErrDisputeTerminal)

	got, err := repo.GetByID(t.Context(), d.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DisputeStatusRejected, got.Status)
	require.NotNil(t, got.Resolution)
	assert.Equal(t, "unfounded", *got.Resolution)
}

func TestFraudAlertResolveOnce(t *testing.T) {
	db := testutil.SetupTestDB(t)
	repo := NewFraudAlertRepository(db)

	alert := &domain.FraudAlert{
		ID:         uuid.New(),
		SubjectID:  uuid.New(),
		Severity:   domain.FraudSeverityMedium,
		SignalType: domain.SignalRepeatedPaymentFailure,
		Details:    "3 failed payments within 24h",
		CreatedAt:  time.Now().UTC(),
	}
	require.NoError(t, repo.Create(t.Context(), alert))

	has, err := repo.HasUnresolved(t.Context(), alert.SubjectID, domain.SignalRepeatedPaymentFailure)
	require.NoError(t, err)
	assert.True(t, has)

	require.NoError(t, repo.Resolve(t.Context(), alert.ID, uuid.New(), time.Now().UTC()))

	err = repo.Resolve(t.Context(), alert.ID, uuid.New(), time.Now().UTC())
	assert.ErrorIs(t, err, domain.ErrAlertResolved)

	has, err = repo.HasUnresolved(t.Context(), alert.SubjectID, domain.SignalRepeatedPaymentFailure)
	require.NoError(t, err)
	assert.False(t, has)

	// The record survives resolution for audit.
	resolved := true
	alerts, err := repo.List(t.Context(), &resolved)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, alert.ID, alerts[0].ID)
}
