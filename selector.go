package luckydraw

import (
	"github.com/shopspring/decimal"
)

var decimalOne = decimal.NewFromInt(1)

// PrizeSelector implements cumulative-probability prize selection.
//
// Probabilities are summed as exact decimals in the caller's iteration order.
// The first prize whose running sum reaches r is the candidate; a candidate
// with no snapshot quantity left means no prize, selection never falls
// through to the next entry.
type PrizeSelector struct {
	source RandomSource
}

// NewPrizeSelector creates a selector drawing from source, or from a
// SecureRandomGenerator when source is nil
func NewPrizeSelector(source RandomSource) *PrizeSelector {
	if source == nil {
		source = NewSecureRandomGenerator()
	}
	return &PrizeSelector{source: source}
}

// SelectPrize draws r from the configured source and selects against it.
// A nil prize with a nil error means nothing was won.
func (ps *PrizeSelector) SelectPrize(prizes []Prize) (*Prize, error) {
	if len(prizes) == 0 {
		return nil, nil
	}

	v, err := ps.source.Float64()
	if err != nil {
		return nil, err
	}

	return ps.SelectPrizeWithValue(prizes, decimal.NewFromFloat(v))
}

// SelectPrizeWithValue selects deterministically against an explicit r in [0, 1)
func (ps *PrizeSelector) SelectPrizeWithValue(prizes []Prize, r decimal.Decimal) (*Prize, error) {
	if r.IsNegative() || r.GreaterThanOrEqual(decimalOne) {
		return nil, ErrInvalidRandomValue.WithDetails("got " + r.String())
	}

	cumulative := decimal.Zero
	for i := range prizes {
		cumulative = cumulative.Add(prizes[i].Probability)
		if r.LessThanOrEqual(cumulative) {
			if prizes[i].Quantity > 0 {
				selected := prizes[i]
				return &selected, nil
			}
			return nil, nil
		}
	}

	// 概率总和不足 1, r 落在未分配区间
	return nil, nil
}

// CumulativeProbabilities returns the running probability sums in iteration order
func CumulativeProbabilities(prizes []Prize) []decimal.Decimal {
	sums := make([]decimal.Decimal, len(prizes))
	cumulative := decimal.Zero
	for i := range prizes {
		cumulative = cumulative.Add(prizes[i].Probability)
		sums[i] = cumulative
	}
	return sums
}
