package domain

import (
	"time"

	"github.com/google/uuid"
)

type BookingStatus string

const (
	BookingStatusPending   BookingStatus = "pending"
	BookingStatusConfirmed BookingStatus = "confirmed"
	BookingStatusCancelled BookingStatus = "cancelled"
	BookingStatusCompleted BookingStatus = "completed"
)

// Booking is owned by the scheduling subsystem. The payment engine reads it
// for counterparty checks and annotates its cached totals.
type Booking struct {
	ID          uuid.UUID
	ClientID    uuid.UUID
	ProviderID  uuid.UUID
	ServiceID   uuid.UUID
	TotalAmount int64
	Commission  int64
	Status      BookingStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// IsCounterparty reports whether the actor is one of the two parties to the
// booking. All payment and dispute actions are restricted to counterparties.
func (b *Booking) IsCounterparty(actorID uuid.UUID) bool {
	return actorID == b.ClientID || actorID == b.ProviderID
}
