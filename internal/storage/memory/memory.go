// Package memory provides in-process voucher and usage storage used when no
// database is configured.
package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/xenking/voucher-engine/internal/domain/usage"
	"github.com/xenking/voucher-engine/internal/domain/voucher"
)

var (
	_ voucher.Repository = (*Store)(nil)
	_ usage.Repository   = (*Usage)(nil)
)

// Store keeps vouchers and usage records in memory. It is safe for
// concurrent use.
type Store struct {
	mu       sync.RWMutex
	vouchers map[string]voucher.Voucher
	order    []string
	records  []usage.Record
	ids      map[string]struct{}
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		vouchers: make(map[string]voucher.Voucher),
		ids:      make(map[string]struct{}),
	}
}

func (s *Store) Create(_ context.Context, v *voucher.Voucher) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.vouchers[v.ID]; ok {
		return &voucher.ValidationError{Field: "id", Reason: "already exists"}
	}
	s.vouchers[v.ID] = v.Clone()
	s.order = append(s.order, v.ID)
	return nil
}

func (s *Store) Get(_ context.Context, id string) (*voucher.Voucher, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.vouchers[id]
	if !ok {
		return nil, voucher.ErrNotFound
	}
	c := v.Clone()
	return &c, nil
}

func (s *Store) List(context.Context) ([]voucher.Voucher, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]voucher.Voucher, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.vouchers[id].Clone())
	}
	return out, nil
}

func (s *Store) Update(_ context.Context, v *voucher.Voucher) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.vouchers[v.ID]; !ok {
		return voucher.ErrNotFound
	}
	s.vouchers[v.ID] = v.Clone()
	return nil
}

// Redeem decrements the voucher quantity and appends rec under one lock.
func (s *Store) Redeem(_ context.Context, voucherID string, rec usage.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.vouchers[voucherID]
	if !ok {
		return voucher.ErrNotFound
	}
	if err := v.Redeemable(rec.Date); err != nil {
		return err
	}
	v.RemainQuantity--
	s.vouchers[voucherID] = v
	s.appendLocked(rec)
	return nil
}

// Usage exposes the records of the store, including every redemption.
type Usage struct {
	s *Store
}

// Usage returns the usage view of the store.
func (s *Store) Usage() *Usage {
	return &Usage{s: s}
}

// List returns the records inside scope in insertion order.
func (u *Usage) List(_ context.Context, scope usage.Scope) ([]usage.Record, error) {
	s := u.s
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []usage.Record
	for _, r := range s.records {
		if inScope(r, scope) {
			r.ServiceIDs = slices.Clone(r.ServiceIDs)
			out = append(out, r)
		}
	}
	return out, nil
}

// Insert appends records whose ids are not yet stored.
func (u *Usage) Insert(_ context.Context, records []usage.Record) (int64, error) {
	s := u.s
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, r := range records {
		if s.appendLocked(r) {
			n++
		}
	}
	return n, nil
}

// Exists reports whether a record with the given id is stored.
func (u *Usage) Exists(_ context.Context, id string) (bool, error) {
	s := u.s
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.ids[id]
	return ok, nil
}

// EachID calls fn for every stored record id.
func (u *Usage) EachID(_ context.Context, fn func(id string) error) error {
	u.s.mu.RLock()
	ids := make([]string, 0, len(u.s.ids))
	for id := range u.s.ids {
		ids = append(ids, id)
	}
	u.s.mu.RUnlock()

	for _, id := range ids {
		if err := fn(id); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) appendLocked(r usage.Record) bool {
	if r.ID != "" {
		if _, dup := s.ids[r.ID]; dup {
			return false
		}
		s.ids[r.ID] = struct{}{}
	}
	r.ServiceIDs = slices.Clone(r.ServiceIDs)
	s.records = append(s.records, r)
	return true
}

func inScope(r usage.Record, scope usage.Scope) bool {
	if scope.PartnerID != "" && r.PartnerID != scope.PartnerID {
		return false
	}
	if scope.VoucherID != "" && r.VoucherID != scope.VoucherID {
		return false
	}
	if scope.From.IsZero() && scope.To.IsZero() {
		return true
	}
	if !r.HasDate() {
		return false
	}
	if !scope.From.IsZero() && r.Date.Before(scope.From) {
		return false
	}
	if !scope.To.IsZero() && !r.Date.Before(scope.To) {
		return false
	}
	return true
}
