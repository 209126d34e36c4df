// Package fraud watches payment and dispute activity for abuse patterns and
// emits alerts for administrative review. It runs strictly as a side channel:
// evaluation happens after the triggering transaction commits and can never
// fail it.
package fraud

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/servimarket/payments-engine/internal/domain"
	"github.com/servimarket/payments-engine/internal/logging"
)

type SignalKind string

const (
	KindPaymentCreated  SignalKind = "payment_created"
	KindPaymentFailed   SignalKind = "payment_failed"
	KindPaymentRefunded SignalKind = "payment_refunded"
	KindDisputeCreated  SignalKind = "dispute_created"
)

// Signal describes one committed business event the engine may react to.
type Signal struct {
	Kind      SignalKind
	ActorID   uuid.UUID
	BookingID *uuid.UUID
	PaymentID *uuid.UUID
}

type alertRepo interface {
	Create(ctx context.Context, a *domain.FraudAlert) error
	HasUnresolved(ctx context.Context, subjectID uuid.UUID, signalType domain.FraudSignalType) (bool, error)
}

type paymentReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Payment, error)
	CountFailedByActorSince(ctx context.Context, actorID uuid.UUID, since time.Time) (int, error)
}

type disputeReader interface {
	CountByBookingSince(ctx context.Context, bookingID uuid.UUID, since time.Time) (int, error)
}

type Thresholds struct {
	FailedPaymentCount      int
	FailedPaymentCritical   int
	FailedPaymentWindow     time.Duration
	DisputeRecurrenceWindow time.Duration
	RapidRefundWindow       time.Duration
}

type Engine struct {
	alerts     alertRepo
	payments   paymentReader
	disputes   disputeReader
	thresholds Thresholds
	now        func() time.Time
}

func NewEngine(alerts alertRepo, payments paymentReader, disputes disputeReader, thresholds Thresholds) *Engine {
	return &Engine{
		alerts:     alerts,
		payments:   payments,
		disputes:   disputes,
		thresholds: thresholds,
		now:        time.Now,
	}
}

type rule func(ctx context.Context, sig Signal) (*domain.FraudAlert, error)

// Evaluate runs every rule applicable to the signal and persists the alerts
// they raise. Rule failures are logged and swallowed; this method never
// returns an error to its caller.
func (e *Engine) Evaluate(ctx context.Context, sig Signal) {
	log := logging.FromContext(ctx)

	var rules []rule
	switch sig.Kind {
	case KindPaymentCreated, KindPaymentFailed:
		rules = append(rules, e.repeatedFailureRule)
	case KindPaymentRefunded:
		rules = append(rules, e.rapidRefundRule)
	case KindDisputeCreated:
		rules = append(rules, e.disputeRecurrenceRule)
	default:
		return
	}

	var (
		mu     sync.Mutex
		alerts []*domain.FraudAlert
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, r := range rules {
		g.Go(func() error {
			alert, err := r(gctx, sig)
			if err != nil {
				log.Warn("fraud rule evaluation failed", "signal", sig.Kind, "error", err)
				return nil
			}
			if alert != nil {
				mu.Lock()
				alerts = append(alerts, alert)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	for _, alert := range alerts {
		e.persist(ctx, alert)
	}
}

func (e *Engine) persist(ctx context.Context, alert *domain.FraudAlert) {
	log := logging.FromContext(ctx)

	exists, err := e.alerts.HasUnresolved(ctx, alert.SubjectID, alert.SignalType)
	if err != nil {
		log.Warn("fraud alert dedup check failed", "signal_type", alert.SignalType, "error", err)
		return
	}
	if exists {
		return
	}

	if err := e.alerts.Create(ctx, alert); err != nil {
		log.Warn("failed to store fraud alert", "signal_type", alert.SignalType, "error", err)
		return
	}

	log.Info("fraud alert raised",
		"alert_id", alert.ID,
		"subject_id", alert.SubjectID,
		"severity", alert.Severity,
		"signal_type", alert.SignalType,
	)
}
