package domain

import (
	"time"

	"github.com/google/uuid"
)

type Currency string

const (
	CurrencyUSD Currency = "USD"
	CurrencyEUR Currency = "EUR"
	CurrencyGBP Currency = "GBP"
)

func (c Currency) IsValid() bool {
	switch c {
	case CurrencyUSD, CurrencyEUR, CurrencyGBP:
		return true
	}
	return false
}

type PaymentStatus string

const (
	PaymentStatusPending    PaymentStatus = "pending"
	PaymentStatusProcessing PaymentStatus = "processing"
	PaymentStatusSucceeded  PaymentStatus = "succeeded"
	PaymentStatusFailed     PaymentStatus = "failed"
	PaymentStatusRefunded   PaymentStatus = "refunded"
)

// IsTerminal reports whether no further gateway event may move the payment,
// other than succeeded -> refunded.
func (s PaymentStatus) IsTerminal() bool {
	switch s {
	case PaymentStatusFailed, PaymentStatusRefunded:
		return true
	}
	return false
}

// Active payments block a second authorization for the same booking or order.
func (s PaymentStatus) IsActive() bool {
	return s == PaymentStatusPending || s == PaymentStatusProcessing
}

// CanTransition encodes the only edges the reconciler may apply:
// pending -> processing -> {succeeded, failed} and succeeded -> refunded.
// pending may jump straight to succeeded/failed for gateways that skip the
// intermediate notification.
func (s PaymentStatus) CanTransition(to PaymentStatus) bool {
	switch s {
	case PaymentStatusPending:
		return to == PaymentStatusProcessing || to == PaymentStatusSucceeded || to == PaymentStatusFailed
	case PaymentStatusProcessing:
		return to == PaymentStatusSucceeded || to == PaymentStatusFailed
	case PaymentStatusSucceeded:
		return to == PaymentStatusRefunded
	}
	return false
}

// Payment is the local record of one gateway authorization. Exactly one of
// BookingID and OrderID is set. The commission/fee/payout split is frozen at
// creation time and must always sum to Amount.
type Payment struct {
	ID                  uuid.UUID
	BookingID           *uuid.UUID
	OrderID             *uuid.UUID
	Amount              int64
	Currency            Currency
	Status              PaymentStatus
	ExternalReferenceID string
	Commission          int64
	ProcessingFee       int64
	ProviderAmount      int64
	FailureReason       *string
	CreatedAt           time.Time
	UpdatedAt           time.Time
	SucceededAt         *time.Time
}
