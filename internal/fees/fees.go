// Package fees computes the three-way split of a gross charge: platform
// commission, processor fee, and provider payout. Amounts are integer minor
// currency units throughout; there is no floating point on the money path.
package fees

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/servimarket/payments-engine/internal/domain"
)

type Split struct {
	Commission     int64
	ProcessingFee  int64
	ProviderAmount int64
}

type Calculator struct {
	commissionRate    decimal.Decimal
	processingFeePct  decimal.Decimal
	processingFeeFlat int64
}

func NewCalculator(commissionRate, processingFeePct float64, processingFeeFlat int64) *Calculator {
	return &Calculator{
		commissionRate:    decimal.NewFromFloat(commissionRate),
		processingFeePct:  decimal.NewFromFloat(processingFeePct),
		processingFeeFlat: processingFeeFlat,
	}
}

// Split computes the commission/fee/payout breakdown of a gross amount.
// Commission and processing fee are truncated down to whole minor units; the
// provider amount takes the remainder, so the three parts always sum to the
// gross amount exactly.
func (c *Calculator) Split(gross int64) (Split, error) {
	if gross <= 0 {
		return Split{}, fmt.Errorf("fees.Split: %w", domain.ErrInvalidAmount)
	}

	g := decimal.NewFromInt(gross)
	commission := g.Mul(c.commissionRate).Floor().IntPart()
	processingFee := g.Mul(c.processingFeePct).Floor().IntPart() + c.processingFeeFlat

	provider := gross - commission - processingFee
	if provider < 0 {
		return Split{}, fmt.Errorf("fees.Split: fees exceed gross amount: %w", domain.ErrInvalidAmount)
	}

	return Split{
		Commission:     commission,
		ProcessingFee:  processingFee,
		ProviderAmount: provider,
	}, nil
}
