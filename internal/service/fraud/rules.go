package fraud

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/servimarket/payments-engine/internal/domain"
)

// repeatedFailureRule flags actors who keep failing payments inside the
// sliding window: medium at the base threshold, critical above it.
func (e *Engine) repeatedFailureRule(ctx context.Context, sig Signal) (*domain.FraudAlert, error) {
	since := e.now().Add(-e.thresholds.FailedPaymentWindow)
	count, err := e.payments.CountFailedByActorSince(ctx, sig.ActorID, since)
	if err != nil {
		return nil, fmt.Errorf("repeatedFailureRule: %w", err)
	}

	if count < e.thresholds.FailedPaymentCount {
		return nil, nil
	}

	severity := domain.FraudSeverityMedium
	if count >= e.thresholds.FailedPaymentCritical {
		severity = domain.FraudSeverityCritical
	}

	return e.newAlert(sig.ActorID, sig.BookingID, severity, domain.SignalRepeatedPaymentFailure,
		fmt.Sprintf("%d failed payments within %s", count, e.thresholds.FailedPaymentWindow)), nil
}

// disputeRecurrenceRule flags bookings that accumulate more than one dispute
// inside the rolling window.
func (e *Engine) disputeRecurrenceRule(ctx context.Context, sig Signal) (*domain.FraudAlert, error) {
	if sig.BookingID == nil {
		return nil, nil
	}

	since := e.now().Add(-e.thresholds.DisputeRecurrenceWindow)
	count, err := e.disputes.CountByBookingSince(ctx, *sig.BookingID, since)
	if err != nil {
		return nil, fmt.Errorf("disputeRecurrenceRule: %w", err)
	}

	if count <= 1 {
		return nil, nil
	}

	return e.newAlert(sig.ActorID, sig.BookingID, domain.FraudSeverityHigh, domain.SignalDisputeRecurrence,
		fmt.Sprintf("%d disputes on booking within %s", count, e.thresholds.DisputeRecurrenceWindow)), nil
}

// rapidRefundRule flags refunds that land shortly after the payment
// succeeded.
func (e *Engine) rapidRefundRule(ctx context.Context, sig Signal) (*domain.FraudAlert, error) {
	if sig.PaymentID == nil {
		return nil, nil
	}

	p, err := e.payments.GetByID(ctx, *sig.PaymentID)
	if err != nil {
		return nil, fmt.Errorf("rapidRefundRule: %w", err)
	}
	if p.SucceededAt == nil {
		return nil, nil
	}

	elapsed := e.now().Sub(*p.SucceededAt)
	if elapsed > e.thresholds.RapidRefundWindow {
		return nil, nil
	}

	return e.newAlert(sig.ActorID, p.BookingID, domain.FraudSeverityLow, domain.SignalRapidRefund,
		fmt.Sprintf("refund %s after success", elapsed.Round(time.Second))), nil
}

func (e *Engine) newAlert(subjectID uuid.UUID, bookingID *uuid.UUID, severity domain.FraudSeverity, signalType domain.FraudSignalType, details string) *domain.FraudAlert {
	return &domain.FraudAlert{
		ID:         uuid.New(),
		SubjectID:  subjectID,
		BookingID:  bookingID,
		Severity:   severity,
		SignalType: signalType,
		Details:    details,
		CreatedAt:  e.now().UTC(),
	}
}
