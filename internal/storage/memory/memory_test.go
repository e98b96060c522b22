package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/voucher-engine/internal/domain/usage"
	"github.com/xenking/voucher-engine/internal/domain/voucher"
)

func newVoucher(id string, quantity int) *voucher.Voucher {
	return &voucher.Voucher{
		ID:              id,
		Name:            "test",
		PercentDiscount: 10,
		ReleaseTime:     time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		ExpiredTime:     time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
		RemainQuantity:  quantity,
		State:           voucher.StateEnabled,
		Conditions:      []voucher.Condition{{ID: "c1", MaxValue: decimal.NewFromInt(100)}},
		ServiceIDs:      []string{"svc"},
	}
}

func TestStore_CreateGetIsolation(t *testing.T) {
	ctx := context.Background()
	s := New()

	v := newVoucher("v1", 1)
	require.NoError(t, s.Create(ctx, v))
	assert.ErrorIs(t, s.Create(ctx, v), voucher.ErrInvalidVoucher)

	v.ServiceIDs[0] = "mutated"
	got, err := s.Get(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, []string{"svc"}, got.ServiceIDs)

	got.Conditions[0].ID = "changed"
	again, err := s.Get(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, "c1", again.Conditions[0].ID)

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, voucher.ErrNotFound)
	assert.ErrorIs(t, s.Update(ctx, newVoucher("missing", 1)), voucher.ErrNotFound)
}

func TestStore_ListKeepsCreationOrder(t *testing.T) {
	ctx := context.Background()
	s := New()
	for _, id := range []string{"b", "a", "c"} {
		require.NoError(t, s.Create(ctx, newVoucher(id, 1)))
	}

	list, err := s.List(ctx)
	require.NoError(t, err)
	ids := make([]string, 0, len(list))
	for _, v := range list {
		ids = append(ids, v.ID)
	}
	assert.Equal(t, []string{"b", "a", "c"}, ids)
}

var inWindow = time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)

func TestStore_RedeemRejected(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(v *voucher.Voucher)
		at      time.Time
		wantErr error
	}{
		{name: "disabled", mutate: func(v *voucher.Voucher) { v.State = voucher.StateDisabled }, at: inWindow, wantErr: voucher.ErrVoucherDisabled},
		{name: "expired", at: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), wantErr: voucher.ErrOutOfWindow},
		{name: "not released", at: time.Date(2023, 12, 31, 0, 0, 0, 0, time.UTC), wantErr: voucher.ErrOutOfWindow},
		{name: "exhausted", mutate: func(v *voucher.Voucher) { v.RemainQuantity = 0 }, at: inWindow, wantErr: voucher.ErrExhausted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			s := New()
			v := newVoucher("v1", 3)
			if tt.mutate != nil {
				tt.mutate(v)
			}
			require.NoError(t, s.Create(ctx, v))

			err := s.Redeem(ctx, "v1", usage.Record{ID: "u1", VoucherID: "v1", Date: tt.at})
			require.ErrorIs(t, err, tt.wantErr)

			got, err := s.Get(ctx, "v1")
			require.NoError(t, err)
			assert.Equal(t, v.RemainQuantity, got.RemainQuantity)
			ok, err := s.Usage().Exists(ctx, "u1")
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}

	assert.ErrorIs(t, New().Redeem(context.Background(), "missing", usage.Record{Date: inWindow}), voucher.ErrNotFound)
}

func TestStore_RedeemConcurrent(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.Create(ctx, newVoucher("v1", 5)))

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		ok, spent int
	)
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.Redeem(ctx, "v1", usage.Record{ID: string(rune('a' + i)), VoucherID: "v1", Date: inWindow})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case assert.ErrorIs(t, err, voucher.ErrExhausted):
				spent++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, ok)
	assert.Equal(t, 15, spent)

	v, err := s.Get(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, 0, v.RemainQuantity)

	records, err := s.Usage().List(ctx, usage.Scope{VoucherID: "v1"})
	require.NoError(t, err)
	assert.Len(t, records, 5)
}

func TestUsage_InsertAndScope(t *testing.T) {
	ctx := context.Background()
	u := New().Usage()

	jan := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	feb := time.Date(2024, 2, 10, 0, 0, 0, 0, time.UTC)
	n, err := u.Insert(ctx, []usage.Record{
		{ID: "1", PartnerID: "p1", VoucherID: "v1", Date: jan},
		{ID: "2", PartnerID: "p1", VoucherID: "v2", Date: feb},
		{ID: "3", PartnerID: "p2", VoucherID: "v1"},
		{ID: "1", PartnerID: "p1", VoucherID: "v1", Date: jan},
	})
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	exists, err := u.Exists(ctx, "3")
	require.NoError(t, err)
	assert.True(t, exists)

	tests := []struct {
		name  string
		scope usage.Scope
		want  []string
	}{
		{"all", usage.Scope{}, []string{"1", "2", "3"}},
		{"partner", usage.Scope{PartnerID: "p1"}, []string{"1", "2"}},
		{"voucher", usage.Scope{VoucherID: "v1"}, []string{"1", "3"}},
		{"window excludes undated", usage.Scope{From: jan, To: feb}, []string{"1"}},
		{"open end", usage.Scope{From: feb}, []string{"2"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := u.List(ctx, tt.scope)
			require.NoError(t, err)
			ids := make([]string, 0, len(got))
			for _, r := range got {
				ids = append(ids, r.ID)
			}
			assert.Equal(t, tt.want, ids)
		})
	}
}
