package usage

import (
	"slices"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// GroupBy selects the bucketing dimension of Aggregate.
type GroupBy int

const (
	// ByVoucher buckets records by voucher id.
	ByVoucher GroupBy = iota + 1
	// ByCalendarDate buckets records by the UTC calendar day of their date.
	ByCalendarDate
)

func (g GroupBy) String() string {
	switch g {
	case ByVoucher:
		return "voucher"
	case ByCalendarDate:
		return "date"
	default:
		return "unknown"
	}
}

// ErrUnknownGrouping is returned for a GroupBy outside the defined values.
var ErrUnknownGrouping = errors.New("unknown grouping")

// Statistic is the rollup of one bucket.
type Statistic struct {
	Key                 string          `json:"key"`
	TotalDiscount       decimal.Decimal `json:"totalDiscount"`
	TotalUsed           int             `json:"totalUsed"`
	UniqueCustomerCount int             `json:"uniqueCustomerCount"`
	// PartnerID is the partner of the first record seen (ByVoucher only).
	PartnerID string `json:"partnerId,omitempty"`
	// ServiceIDs holds distinct service ids in first-seen order (ByVoucher only).
	ServiceIDs []string `json:"serviceIds,omitempty"`
}

// Services joins the bucket's service ids for display.
func (s Statistic) Services() string {
	return strings.Join(s.ServiceIDs, ", ")
}

// Rollup is an ordered mapping from group key to Statistic. Groups appear in
// the order their key was first seen in the input.
type Rollup struct {
	By     GroupBy     `json:"groupBy"`
	Groups []Statistic `json:"groups"`
	index  map[string]int
}

// Get returns the statistic for key.
func (r *Rollup) Get(key string) (Statistic, bool) {
	if r.index == nil {
		r.reindex()
	}
	i, ok := r.index[key]
	if !ok {
		return Statistic{}, false
	}
	return r.Groups[i], true
}

// reindex rebuilds the key index, e.g. after the rollup was decoded from JSON.
func (r *Rollup) reindex() {
	r.index = make(map[string]int, len(r.Groups))
	for i, g := range r.Groups {
		r.index[g.Key] = i
	}
}

// Keys returns group keys in emission order.
func (r *Rollup) Keys() []string {
	keys := make([]string, len(r.Groups))
	for i, g := range r.Groups {
		keys[i] = g.Key
	}
	return keys
}

// Len returns the number of groups.
func (r *Rollup) Len() int {
	return len(r.Groups)
}

// SortedByKey returns the groups ordered by key. For ByCalendarDate keys this
// is chronological order. The rollup itself is left untouched.
func (r *Rollup) SortedByKey() []Statistic {
	out := slices.Clone(r.Groups)
	slices.SortStableFunc(out, func(a, b Statistic) int {
		return strings.Compare(a.Key, b.Key)
	})
	return out
}

type bucket struct {
	stat      Statistic
	customers map[string]struct{}
	services  map[string]struct{}
}

// Aggregate buckets records by the given dimension.
func Aggregate(records []Record, by GroupBy) (*Rollup, error) {
	var keyOf func(Record) (string, bool)
	switch by {
	case ByVoucher:
		keyOf = func(r Record) (string, bool) { return r.VoucherID, r.VoucherID != "" }
	case ByCalendarDate:
		keyOf = func(r Record) (string, bool) {
			if !r.HasDate() {
				return "", false
			}
			return r.day(), true
		}
	default:
		return nil, errors.Wrapf(ErrUnknownGrouping, "group by %d", int(by))
	}

	var (
		buckets []*bucket
		index   = make(map[string]int)
	)
	for _, rec := range records {
		key, ok := keyOf(rec)
		if !ok {
			continue
		}
		i, seen := index[key]
		if !seen {
			i = len(buckets)
			index[key] = i
			buckets = append(buckets, &bucket{
				stat:      Statistic{Key: key, TotalDiscount: decimal.Zero, PartnerID: partnerFor(by, rec)},
				customers: make(map[string]struct{}),
				services:  make(map[string]struct{}),
			})
		}
		b := buckets[i]
		b.stat.TotalDiscount = b.stat.TotalDiscount.Add(rec.TotalDiscount)
		b.stat.TotalUsed++
		if rec.CustomerID != "" {
			b.customers[rec.CustomerID] = struct{}{}
		}
		if by == ByVoucher {
			for _, s := range rec.ServiceIDs {
				if _, dup := b.services[s]; !dup {
					b.services[s] = struct{}{}
					b.stat.ServiceIDs = append(b.stat.ServiceIDs, s)
				}
			}
		}
	}

	out := &Rollup{By: by, Groups: make([]Statistic, len(buckets)), index: index}
	for i, b := range buckets {
		b.stat.UniqueCustomerCount = len(b.customers)
		out.Groups[i] = b.stat
	}
	return out, nil
}

func partnerFor(by GroupBy, r Record) string {
	if by == ByVoucher {
		return r.PartnerID
	}
	return ""
}

// Summary is the ungrouped rollup of a record set.
type Summary struct {
	TotalDiscount       decimal.Decimal `json:"totalDiscount"`
	TotalUsed           int             `json:"totalUsed"`
	UniqueCustomerCount int             `json:"uniqueCustomerCount"`
	CustomerIDs         []string        `json:"customerIds"`
	FirstDate           time.Time       `json:"firstDate,omitzero"`
	LastDate            time.Time       `json:"lastDate,omitzero"`
}

// Summarize computes totals over all records. Empty input yields a zero
// summary, which callers should present as "no data".
func Summarize(records []Record) Summary {
	s := Summary{TotalDiscount: decimal.Zero, CustomerIDs: []string{}}
	seen := make(map[string]struct{})
	for _, rec := range records {
		s.TotalDiscount = s.TotalDiscount.Add(rec.TotalDiscount)
		s.TotalUsed++
		if rec.CustomerID != "" {
			if _, dup := seen[rec.CustomerID]; !dup {
				seen[rec.CustomerID] = struct{}{}
				s.CustomerIDs = append(s.CustomerIDs, rec.CustomerID)
			}
		}
		if !rec.HasDate() {
			continue
		}
		if s.FirstDate.IsZero() || rec.Date.Before(s.FirstDate) {
			s.FirstDate = rec.Date
		}
		if s.LastDate.IsZero() || rec.Date.After(s.LastDate) {
			s.LastDate = rec.Date
		}
	}
	s.UniqueCustomerCount = len(s.CustomerIDs)
	return s
}
