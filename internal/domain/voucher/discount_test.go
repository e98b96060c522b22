package voucher

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeDiscount(t *testing.T) {
	tiered := []Condition{
		cond("low", "0", "200"),
		cond("mid", "100000", "500"),
		cond("high", "500000", "2000"),
	}

	tests := []struct {
		name       string
		voucher    *Voucher
		amount     decimal.Decimal
		wantAmount decimal.Decimal
		wantRaw    decimal.Decimal
		wantTier   string
		wantErr    error
	}{
		{
			name:       "lowest tier selected below second bracket",
			voucher:    newTestVoucher(10, tiered...),
			amount:     d("50000"),
			wantAmount: d("200"),
			wantRaw:    d("5000"),
			wantTier:   "low",
		},
		{
			name: "four tiers",
			voucher: newTestVoucher(10,
				cond("a", "0", "1"), cond("b", "10", "2"), cond("c", "20", "3"), cond("d", "30", "4")),
			amount:     d("40"),
			wantAmount: d("4"),
			wantRaw:    d("4"),
			wantTier:   "d",
		},
		{
			name:       "highest tier selected at its min value",
			voucher:    newTestVoucher(10, tiered...),
			amount:     d("500000"),
			wantAmount: d("2000"),
			wantRaw:    d("50000"),
			wantTier:   "high",
		},
		{
			name:       "middle tier at boundary",
			voucher:    newTestVoucher(10, tiered...),
			amount:     d("100000"),
			wantAmount: d("500"),
			wantRaw:    d("10000"),
			wantTier:   "mid",
		},
		{
			name:       "unsorted conditions are matched by min value",
			voucher:    newTestVoucher(10, tiered[2], tiered[0], tiered[1]),
			amount:     d("499999"),
			wantAmount: d("500"),
			wantRaw:    d("49999.9"),
			wantTier:   "mid",
		},
		{
			name:       "cap enforced",
			voucher:    newTestVoucher(50, cond("c1", "0", "1000")),
			amount:     d("10000"),
			wantAmount: d("1000"),
			wantRaw:    d("5000"),
			wantTier:   "c1",
		},
		{
			name:       "below cap uses raw discount",
			voucher:    newTestVoucher(5, cond("c1", "0", "1000")),
			amount:     d("10000"),
			wantAmount: d("500"),
			wantRaw:    d("500"),
			wantTier:   "c1",
		},
		{
			name:       "fractional discount rounded down",
			voucher:    newTestVoucher(15, cond("c1", "0", "100000")),
			amount:     d("999"),
			wantAmount: d("149"),
			wantRaw:    d("149.85"),
			wantTier:   "c1",
		},
		{
			name:    "amount below every tier",
			voucher: newTestVoucher(10, cond("c1", "100000", "500")),
			amount:  d("50000"),
			wantErr: ErrNoMatchingTier,
		},
		{
			name:    "zero amount without zero tier",
			voucher: newTestVoucher(10, cond("c1", "1", "500")),
			amount:  decimal.Zero,
			wantErr: ErrNoMatchingTier,
		},
		{
			name:       "zero amount with zero tier",
			voucher:    newTestVoucher(10, cond("c1", "0", "500")),
			amount:     decimal.Zero,
			wantAmount: decimal.Zero,
			wantRaw:    decimal.Zero,
			wantTier:   "c1",
		},
		{
			name:       "zero percent matches tier with zero discount",
			voucher:    newTestVoucher(0, tiered...),
			amount:     d("600000"),
			wantAmount: decimal.Zero,
			wantRaw:    decimal.Zero,
			wantTier:   "high",
		},
		{
			name:       "zero cap",
			voucher:    newTestVoucher(20, cond("c1", "0", "0")),
			amount:     d("1000"),
			wantAmount: decimal.Zero,
			wantRaw:    d("200"),
			wantTier:   "c1",
		},
		{
			name:    "negative amount rejected",
			voucher: newTestVoucher(10, tiered...),
			amount:  d("-1"),
			wantErr: ErrInvalidVoucher,
		},
		{
			name:    "malformed voucher rejected",
			voucher: newTestVoucher(10, cond("c1", "0", "-5")),
			amount:  d("100"),
			wantErr: ErrInvalidVoucher,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ComputeDiscount(tt.voucher, tt.amount)

			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}

			require.NoError(t, err)
			assert.True(t, tt.wantAmount.Equal(got.Amount),
				"expected amount %s, got %s", tt.wantAmount, got.Amount)
			assert.True(t, tt.wantRaw.Equal(got.Raw),
				"expected raw %s, got %s", tt.wantRaw, got.Raw)
			assert.Equal(t, tt.wantTier, got.Condition.ID)
		})
	}
}

func TestComputeDiscount_Idempotent(t *testing.T) {
	v := newTestVoucher(10, cond("b", "500000", "2000"), cond("a", "0", "200"))

	first, err := ComputeDiscount(v, d("700000"))
	require.NoError(t, err)
	second, err := ComputeDiscount(v, d("700000"))
	require.NoError(t, err)

	assert.Equal(t, first, second)
	// Matching sorts a copy; the caller's order is preserved.
	assert.Equal(t, "b", v.Conditions[0].ID)
}

func TestReason_NoMatchingTier(t *testing.T) {
	_, err := ComputeDiscount(newTestVoucher(10, cond("c1", "100", "1")), d("1"))
	assert.Equal(t, ReasonNoMatchingTier, Reason(err))
}
