package domain

import (
	"time"

	"github.com/google/uuid"
)

type LedgerEntryType string

const (
	EntryTypeCommission     LedgerEntryType = "commission"
	EntryTypeProcessingFee  LedgerEntryType = "processing_fee"
	EntryTypeProviderPayout LedgerEntryType = "provider_payout"
)

// LedgerEntry records one leg of a payment's three-way split. The three
// entries for a payment are written in the same transaction as the payment
// row and always sum to its amount.
type LedgerEntry struct {
	ID        uuid.UUID
	PaymentID uuid.UUID
	EntryType LedgerEntryType
	Amount    int64
	Currency  Currency
	CreatedAt time.Time
}
