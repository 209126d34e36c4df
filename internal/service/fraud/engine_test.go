package fraud

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/servimarket/payments-engine/internal/domain"
)

type fakeAlertRepo struct {
	mu         sync.Mutex
	created    []*domain.FraudAlert
	unresolved bool
	createErr  error
}

func (f *fakeAlertRepo) Create(_ context.Context, a *domain.FraudAlert) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	f.created = append(f.created, a)
	return nil
}

func (f *fakeAlertRepo) HasUnresolved(context.Context, uuid.UUID, domain.FraudSignalType) (bool, error) {
	return f.unresolved, nil
}

type fakePaymentReader struct {
	payment     *domain.Payment
	failedCount int
	err         error
}

func (f *fakePaymentReader) GetByID(context.Context, uuid.UUID) (*domain.Payment, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.payment, nil
}

func (f *fakePaymentReader) CountFailedByActorSince(context.Context, uuid.UUID, time.Time) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	return f.failedCount, nil
}

type fakeDisputeReader struct {
	count int
	err   error
}

func (f *fakeDisputeReader) CountByBookingSince(context.Context, uuid.UUID, time.Time) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	return f.count, nil
}

func testThresholds() Thresholds {
	return Thresholds{
		FailedPaymentCount:      3,
		FailedPaymentCritical:   6,
		FailedPaymentWindow:     24 * time.Hour,
		DisputeRecurrenceWindow: 90 * 24 * time.Hour,
		RapidRefundWindow:       24 * time.Hour,
	}
}

func newTestEngine(alerts *fakeAlertRepo, payments *fakePaymentReader, disputes *fakeDisputeReader) *Engine {
	e := NewEngine(alerts, payments, disputes, testThresholds())
	e.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return e
}

func TestRepeatedFailureRule(t *testing.T) {
	tests := []struct {
		name         string
		failedCount  int
		wantAlert    bool
		wantSeverity domain.FraudSeverity
	}{
		{name: "below threshold", failedCount: 2, wantAlert: false},
		{name: "at threshold", failedCount: 3, wantAlert: true, wantSeverity: domain.FraudSeverityMedium},
		{name: "critical", failedCount: 6, wantAlert: true, wantSeverity: domain.FraudSeverityCritical},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			alerts := &fakeAlertRepo{}
			engine := newTestEngine(alerts, &fakePaymentReader{failedCount: tc.failedCount}, &fakeDisputeReader{})

			engine.Evaluate(t.Context(), Signal{Kind: KindPaymentFailed, ActorID: uuid.New()})

			if !tc.wantAlert {
				assert.Empty(t, alerts.created)
				return
			}
			require.Len(t, alerts.created, 1)
			assert.Equal(t, domain.SignalRepeatedPaymentFailure, alerts.created[0].SignalType)
			assert.Equal(t, tc.wantSeverity, alerts.created[0].Severity)
		})
	}
}

func TestDisputeRecurrenceRule(t *testing.T) {
	bookingID := uuid.New()

	tests := []struct {
		name      string
		count     int
		bookingID *uuid.UUID
		wantAlert bool
	}{
		{name: "single dispute is fine", count: 1, bookingID: &bookingID, wantAlert: false},
		{name: "second dispute in window alerts", count: 2, bookingID: &bookingID, wantAlert: true},
		{name: "no booking no rule", count: 5, bookingID: nil, wantAlert: false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			alerts := &fakeAlertRepo{}
			engine := newTestEngine(alerts, &fakePaymentReader{}, &fakeDisputeReader{count: tc.count})

			engine.Evaluate(t.Context(), Signal{Kind: KindDisputeCreated, ActorID: uuid.New(), BookingID: tc.bookingID})

			if !tc.wantAlert {
				assert.Empty(t, alerts.created)
				return
			}
			require.Len(t, alerts.created, 1)
			assert.Equal(t, domain.SignalDisputeRecurrence, alerts.created[0].SignalType)
			assert.Equal(t, domain.FraudSeverityHigh, alerts.created[0].Severity)
		})
	}
}

func TestRapidRefundRule(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	paymentID := uuid.New()

	tests := []struct {
		name        string
		succeededAt *time.Time
		wantAlert   bool
	}{
		{name: "refund minutes after success", succeededAt: timePtr(now.Add(-10 * time.Minute)), wantAlert: true},
		{name: "refund weeks later", succeededAt: timePtr(now.Add(-14 * 24 * time.Hour)), wantAlert: false},
		{name: "no success timestamp", succeededAt: nil, wantAlert: false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			alerts := &fakeAlertRepo{}
			payments := &fakePaymentReader{payment: &domain.Payment{ID: paymentID, SucceededAt: tc.succeededAt}}
			engine := newTestEngine(alerts, payments, &fakeDisputeReader{})

			engine.Evaluate(t.Context(), Signal{Kind: KindPaymentRefunded, ActorID: uuid.New(), PaymentID: &paymentID})

			if !tc.wantAlert {
				assert.Empty(t, alerts.created)
				return
			}
			require.Len(t, alerts.created, 1)
			assert.Equal(t, domain.SignalRapidRefund, alerts.created[0].SignalType)
			assert.Equal(t, domain.FraudSeverityLow, alerts.created[0].Severity)
		})
	}
}

func TestEvaluateDeduplicatesUnresolvedAlerts(t *testing.T) {
	alerts := &fakeAlertRepo{unresolved: true}
	engine := newTestEngine(alerts, &fakePaymentReader{failedCount: 10}, &fakeDisputeReader{})

	engine.Evaluate(t.Context(), Signal{Kind: KindPaymentFailed, ActorID: uuid.New()})

	assert.Empty(t, alerts.created, "an open alert of the same type must suppress a new one")
}

func TestEvaluateSwallowsRuleErrors(t *testing.T) {
	alerts := &fakeAlertRepo{}
	payments := &fakePaymentReader{err: errors.New("db down")}
	engine := newTestEngine(alerts, payments, &fakeDisputeReader{})

	// Must not panic or propagate anything.
	engine.Evaluate(t.Context(), Signal{Kind: KindPaymentFailed, ActorID: uuid.New()})

	assert.Empty(t, alerts.created)
}

func TestEvaluateIgnoresUnknownSignal(t *testing.T) {
	alerts := &fakeAlertRepo{}
	engine := newTestEngine(alerts, &fakePaymentReader{failedCount: 10}, &fakeDisputeReader{count: 10})

	engine.Evaluate(t.Context(), Signal{Kind: "something_else", ActorID: uuid.New()})

	assert.Empty(t, alerts.created)
}

func timePtr(t time.Time) *time.Time { return &t }
