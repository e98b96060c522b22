package voucher

import (
	"slices"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Patch is a partial update of a voucher. Nil fields are left unchanged.
type Patch struct {
	Name            *string          `json:"name,omitempty"`
	Description     *string          `json:"description,omitempty"`
	PercentDiscount *int             `json:"percentDiscount,omitempty"`
	ReleaseTime     *time.Time       `json:"releaseTime,omitempty"`
	ExpiredTime     *time.Time       `json:"expiredTime,omitempty"`
	RemainQuantity  *int             `json:"remainQuantity,omitempty"`
	State           *State           `json:"state,omitempty"`
	ServiceIDs      []string         `json:"scopedServiceIds,omitempty"`
	Conditions      []ConditionPatch `json:"conditions,omitempty"`
}

// ConditionPatch updates the bounds of an existing condition.
type ConditionPatch struct {
	ID       string           `json:"id"`
	MinValue *decimal.Decimal `json:"minValue,omitempty"`
	MaxValue *decimal.Decimal `json:"maxValue,omitempty"`
}

// Merge applies p to a copy of v and validates the result. The receiver is
// never modified. It returns ErrNoChanges when the patch changes nothing.
func (v Voucher) Merge(p Patch) (Voucher, error) {
	out := v.Clone()
	changed := false

	setString(&out.Name, p.Name, &changed)
	setString(&out.Description, p.Description, &changed)
	if p.PercentDiscount != nil && *p.PercentDiscount != out.PercentDiscount {
		out.PercentDiscount = *p.PercentDiscount
		changed = true
	}
	setTime(&out.ReleaseTime, p.ReleaseTime, &changed)
	setTime(&out.ExpiredTime, p.ExpiredTime, &changed)
	if p.RemainQuantity != nil && *p.RemainQuantity != out.RemainQuantity {
		out.RemainQuantity = *p.RemainQuantity
		changed = true
	}
	if p.State != nil && *p.State != out.State {
		out.State = *p.State
		changed = true
	}
	if p.ServiceIDs != nil && !slices.Equal(p.ServiceIDs, out.ServiceIDs) {
		out.ServiceIDs = slices.Clone(p.ServiceIDs)
		changed = true
	}

	for _, cp := range p.Conditions {
		i := slices.IndexFunc(out.Conditions, func(c Condition) bool { return c.ID == cp.ID })
		if i < 0 {
			return Voucher{}, errors.Wrapf(ErrConditionNotFound, "condition %q", cp.ID)
		}
		c := &out.Conditions[i]
		if cp.MinValue != nil && !cp.MinValue.Equal(c.MinValue) {
			c.MinValue = *cp.MinValue
			changed = true
		}
		if cp.MaxValue != nil && !cp.MaxValue.Equal(c.MaxValue) {
			c.MaxValue = *cp.MaxValue
			changed = true
		}
	}

	if !changed {
		return Voucher{}, ErrNoChanges
	}
	if err := out.Validate(); err != nil {
		return Voucher{}, err
	}
	return out, nil
}

func setString(dst *string, src *string, changed *bool) {
	if src != nil && *src != *dst {
		*dst = *src
		*changed = true
	}
}

func setTime(dst *time.Time, src *time.Time, changed *bool) {
	if src != nil && !src.Equal(*dst) {
		*dst = *src
		*changed = true
	}
}
