package voucher

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckEligibility(t *testing.T) {
	mid := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	order := Order{ServiceID: "s1", Amount: d("100000")}

	tests := []struct {
		name       string
		mutate     func(v *Voucher)
		order      Order
		now        time.Time
		wantErr    error
		wantReason string
	}{
		{name: "inside window", now: mid, order: order},
		{name: "at release time", now: jan1, order: order},
		{
			name:       "at expired time",
			now:        feb1,
			order:      order,
			wantErr:    ErrOutOfWindow,
			wantReason: ReasonOutOfWindow,
		},
		{
			name:       "after window",
			now:        time.Date(2024, 2, 2, 0, 0, 0, 0, time.UTC),
			order:      order,
			wantErr:    ErrOutOfWindow,
			wantReason: ReasonOutOfWindow,
		},
		{
			name:       "before window",
			now:        jan1.Add(-time.Second),
			order:      order,
			wantErr:    ErrOutOfWindow,
			wantReason: ReasonOutOfWindow,
		},
		{
			name:       "disabled",
			mutate:     func(v *Voucher) { v.State = StateDisabled },
			now:        mid,
			order:      order,
			wantErr:    ErrVoucherDisabled,
			wantReason: ReasonVoucherDisabled,
		},
		{
			name:       "disabled wins over window",
			mutate:     func(v *Voucher) { v.State = StateDisabled },
			now:        feb1.Add(time.Hour),
			order:      order,
			wantErr:    ErrVoucherDisabled,
			wantReason: ReasonVoucherDisabled,
		},
		{
			name:       "exhausted",
			mutate:     func(v *Voucher) { v.RemainQuantity = 0 },
			now:        mid,
			order:      order,
			wantErr:    ErrExhausted,
			wantReason: ReasonExhausted,
		},
		{
			name:       "window wins over exhausted",
			mutate:     func(v *Voucher) { v.RemainQuantity = 0 },
			now:        feb1,
			order:      order,
			wantErr:    ErrOutOfWindow,
			wantReason: ReasonOutOfWindow,
		},
		{
			name:   "service in scope",
			mutate: func(v *Voucher) { v.ServiceIDs = []string{"s0", "s1"} },
			now:    mid,
			order:  order,
		},
		{
			name:       "service out of scope",
			mutate:     func(v *Voucher) { v.ServiceIDs = []string{"s2"} },
			now:        mid,
			order:      order,
			wantErr:    ErrServiceNotCovered,
			wantReason: ReasonServiceNotCovered,
		},
		{
			name:       "negative amount",
			now:        mid,
			order:      Order{ServiceID: "s1", Amount: d("-10")},
			wantErr:    ErrInvalidVoucher,
			wantReason: ReasonInvalidInput,
		},
		{
			name:       "malformed voucher",
			mutate:     func(v *Voucher) { v.Conditions = nil },
			now:        mid,
			order:      order,
			wantErr:    ErrInvalidVoucher,
			wantReason: ReasonInvalidInput,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := newTestVoucher(10, cond("c1", "0", "200"))
			if tt.mutate != nil {
				tt.mutate(v)
			}

			err := CheckEligibility(v, tt.order, tt.now)

			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.Equal(t, tt.wantReason, Reason(err))
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestChecker_UsesClock(t *testing.T) {
	v := newTestVoucher(10, cond("c1", "0", "200"))
	c := NewChecker()

	mid := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return mid }
	at, err := c.Check(v, Order{Amount: d("1")})
	require.NoError(t, err)
	assert.True(t, mid.Equal(at))

	c.now = func() time.Time { return time.Date(2024, 2, 2, 0, 0, 0, 0, time.UTC) }
	_, err = c.Check(v, Order{Amount: d("1")})
	require.ErrorIs(t, err, ErrOutOfWindow)
}

func TestVoucher_Redeemable(t *testing.T) {
	mid := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)

	v := newTestVoucher(10, cond("c1", "0", "200"))
	require.NoError(t, v.Redeemable(mid))
	assert.ErrorIs(t, v.Redeemable(feb1), ErrOutOfWindow)

	v.RemainQuantity = 0
	assert.ErrorIs(t, v.Redeemable(mid), ErrExhausted)

	// State is reported before window and quantity.
	v.State = StateDisabled
	assert.ErrorIs(t, v.Redeemable(feb1), ErrVoucherDisabled)
}
