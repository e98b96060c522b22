package voucher

import (
	"slices"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Discount is the outcome of a successful calculation.
type Discount struct {
	// Amount is the final discount, capped and floored to whole units.
	Amount decimal.Decimal `json:"discount"`
	// Raw is the uncapped percentage of the order amount.
	Raw       decimal.Decimal `json:"rawDiscount"`
	Condition Condition       `json:"appliedCondition"`
}

// ComputeDiscount selects the tier matching amount and computes the capped
// discount. The voucher percentage applies to every tier; tiers only change
// the cap. It has no side effects.
func ComputeDiscount(v *Voucher, amount decimal.Decimal) (Discount, error) {
	if err := v.Validate(); err != nil {
		return Discount{}, err
	}
	if amount.IsNegative() {
		return Discount{}, invalid("amount", "must not be negative")
	}

	tier, ok := matchTier(v.Conditions, amount)
	if !ok {
		return Discount{}, ErrNoMatchingTier
	}

	raw := amount.Mul(decimal.NewFromInt(int64(v.PercentDiscount))).Div(hundred)
	final := decimal.Min(raw, tier.MaxValue).Floor()

	return Discount{
		Amount:    final,
		Raw:       raw,
		Condition: tier,
	}, nil
}

// matchTier returns the condition with the greatest MinValue not above
// amount. Ties on MinValue resolve to the one listed last.
func matchTier(conds []Condition, amount decimal.Decimal) (Condition, bool) {
	sorted := slices.Clone(conds)
	slices.SortStableFunc(sorted, func(a, b Condition) int {
		return a.MinValue.Cmp(b.MinValue)
	})

	var (
		match Condition
		found bool
	)
	for _, c := range sorted {
		if c.MinValue.GreaterThan(amount) {
			break
		}
		match, found = c, true
	}
	return match, found
}
