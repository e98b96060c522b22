// Package usage rolls historical voucher usage into reporting statistics.
//
// Every function in this package is a pure fold over its input: no I/O, no
// shared state, and the same input always yields the same output.
package usage

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Record is an immutable fact that a voucher was applied to an order.
//
// Partially filled records are accepted. A zero Date keeps the record out of
// date-based views, an empty VoucherID keeps it out of per-voucher buckets,
// and an empty CustomerID keeps it out of unique customer counts. Amounts are
// always summed.
type Record struct {
	ID            string          `json:"id,omitempty"`
	VoucherID     string          `json:"voucherId"`
	CustomerID    string          `json:"customerId"`
	PartnerID     string          `json:"partnerId,omitempty"`
	ServiceIDs    []string        `json:"serviceIds"`
	OrderPrice    decimal.Decimal `json:"orderPrice"`
	TotalDiscount decimal.Decimal `json:"totalDiscount"`
	Date          time.Time       `json:"date,omitzero"`
}

// HasDate reports whether the record carries a usage date.
func (r Record) HasDate() bool {
	return !r.Date.IsZero()
}

// day returns the calendar date of the record as YYYY-MM-DD in UTC.
func (r Record) day() string {
	return r.Date.UTC().Format(time.DateOnly)
}

func (r Record) hasService(id string) bool {
	for _, s := range r.ServiceIDs {
		if s == id {
			return true
		}
	}
	return false
}

// Scope narrows the records loaded from a Repository. Zero fields are not
// constrained; From/To bound Date as [From, To).
type Scope struct {
	PartnerID string
	VoucherID string
	From      time.Time
	To        time.Time
}

// Repository provides read access to recorded usage.
type Repository interface {
	List(ctx context.Context, scope Scope) ([]Record, error)
}
