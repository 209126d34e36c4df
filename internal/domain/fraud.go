package domain

import (
	"time"

	"github.com/google/uuid"
)

type FraudSeverity string

const (
	FraudSeverityLow      FraudSeverity = "low"
	FraudSeverityMedium   FraudSeverity = "medium"
	FraudSeverityHigh     FraudSeverity = "high"
	FraudSeverityCritical FraudSeverity = "critical"
)

type FraudSignalType string

const (
	SignalRepeatedPaymentFailure FraudSignalType = "repeated_payment_failure"
	SignalDisputeRecurrence      FraudSignalType = "dispute_recurrence"
	SignalRapidRefund            FraudSignalType = "rapid_refund"
)

// FraudAlert is append-only. Resolution flips IsResolved and records who and
// when; the historical record is never deleted.
type FraudAlert struct {
	ID         uuid.UUID
	SubjectID  uuid.UUID
	BookingID  *uuid.UUID
	Severity   FraudSeverity
	SignalType FraudSignalType
	Details    string
	IsResolved bool
	ResolvedBy *uuid.UUID
	CreatedAt  time.Time
	ResolvedAt *time.Time
}
