package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type DisputeType string

const (
	DisputeTypePayment      DisputeType = "payment"
	DisputeTypeService      DisputeType = "service"
	DisputeTypeCancellation DisputeType = "cancellation"
	DisputeTypeNoShow       DisputeType = "no_show"
)

func (t DisputeType) IsValid() bool {
	switch t {
	case DisputeTypePayment, DisputeTypeService, DisputeTypeCancellation, DisputeTypeNoShow:
		return true
	}
	return false
}

type DisputeStatus string

const (
	DisputeStatusOpen        DisputeStatus = "open"
	DisputeStatusUnderReview DisputeStatus = "under_review"
	DisputeStatusResolved    DisputeStatus = "resolved"
	DisputeStatusRejected    DisputeStatus = "rejected"
)

// IsTerminal: resolved/rejected disputes accept no further mutation of any
// kind but remain queryable for audit.
func (s DisputeStatus) IsTerminal() bool {
	return s == DisputeStatusResolved || s == DisputeStatusRejected
}

type Dispute struct {
	ID          uuid.UUID
	BookingID   uuid.UUID
	ClientID    uuid.UUID
	ProviderID  uuid.UUID
	Type        DisputeType
	Status      DisputeStatus
	Reason      string
	Description string
	Evidence    json.RawMessage
	ResolvedBy  *uuid.UUID
	Resolution  *string
	CreatedAt   time.Time
	ResolvedAt  *time.Time
}

func (d *Dispute) IsCounterparty(actorID uuid.UUID) bool {
	return actorID == d.ClientID || actorID == d.ProviderID
}
