package domain

import "time"

// PaymentEvent is the idempotency ledger for gateway webhook deliveries. The
// external event id is the primary key; the atomic insert into this table is
// the single dedup point that turns at-least-once delivery into at-most-once
// side effects.
type PaymentEvent struct {
	ExternalEventID string
	PayloadDigest   string
	ReceivedAt      time.Time
}
