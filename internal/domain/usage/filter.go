package usage

import (
	"slices"

	"github.com/go-faster/errors"
)

// Criteria restricts a record set. Zero fields mean "no constraint".
type Criteria struct {
	// Month is 1..12.
	Month     int    `json:"month,omitempty"`
	Year      int    `json:"year,omitempty"`
	ServiceID string `json:"serviceId,omitempty"`
}

// ErrInvalidCriteria is returned by Criteria.Validate.
var ErrInvalidCriteria = errors.New("invalid filter criteria")

// IsZero reports whether no constraint is set. Reporting views use it to
// tell "no filter" apart from "filtered to empty".
func (c Criteria) IsZero() bool {
	return c.Month == 0 && c.Year == 0 && c.ServiceID == ""
}

// Validate checks the month and year ranges.
func (c Criteria) Validate() error {
	if c.Month < 0 || c.Month > 12 {
		return errors.Wrapf(ErrInvalidCriteria, "month %d out of range", c.Month)
	}
	if c.Year < 0 {
		return errors.Wrapf(ErrInvalidCriteria, "year %d out of range", c.Year)
	}
	return nil
}

// Match reports whether r satisfies every set constraint. Month and year are
// read from the UTC date; a record without a date fails any date constraint.
func (c Criteria) Match(r Record) bool {
	if c.Month != 0 || c.Year != 0 {
		if !r.HasDate() {
			return false
		}
		d := r.Date.UTC()
		if c.Month != 0 && int(d.Month()) != c.Month {
			return false
		}
		if c.Year != 0 && d.Year() != c.Year {
			return false
		}
	}
	if c.ServiceID != "" && !r.hasService(c.ServiceID) {
		return false
	}
	return true
}

// Filter returns the records matching c, preserving input order. Zero
// criteria return records unchanged.
func Filter(records []Record, c Criteria) []Record {
	if c.IsZero() {
		return records
	}
	out := make([]Record, 0, len(records))
	for _, r := range records {
		if c.Match(r) {
			out = append(out, r)
		}
	}
	return out
}

// FilterOptions lists the values available for filtering a record set.
type FilterOptions struct {
	ServiceIDs []string `json:"serviceIds"`
	Years      []int    `json:"years"`
}

// Options collects distinct service ids (first-seen order) and years
// (ascending) present in records.
func Options(records []Record) FilterOptions {
	opts := FilterOptions{ServiceIDs: []string{}, Years: []int{}}
	services := make(map[string]struct{})
	years := make(map[int]struct{})
	for _, r := range records {
		for _, s := range r.ServiceIDs {
			if _, dup := services[s]; !dup {
				services[s] = struct{}{}
				opts.ServiceIDs = append(opts.ServiceIDs, s)
			}
		}
		if r.HasDate() {
			y := r.Date.UTC().Year()
			if _, dup := years[y]; !dup {
				years[y] = struct{}{}
				opts.Years = append(opts.Years, y)
			}
		}
	}
	slices.Sort(opts.Years)
	return opts
}
