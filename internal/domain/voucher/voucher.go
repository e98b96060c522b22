package voucher

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/voucher-engine/internal/domain/usage"
)

// MaxConditions is the maximum number of discount tiers a new voucher may
// carry. The engine itself evaluates any number of tiers.
const MaxConditions = 3

// State enumerates whether a voucher may be applied at all.
type State string

const (
	// StateEnabled marks a voucher that customers may apply.
	StateEnabled State = "enabled"
	// StateDisabled marks a voucher withdrawn by its owner.
	StateDisabled State = "disabled"
)

// Voucher is a discount offer with a validity window, a flat percentage rate,
// a usage cap and tiered brackets capping the discount.
type Voucher struct {
	ID              string      `json:"id"`
	PartnerID       string      `json:"partnerId,omitempty"`
	Name            string      `json:"name"`
	Description     string      `json:"description"`
	PercentDiscount int         `json:"percentDiscount"`
	ReleaseTime     time.Time   `json:"releaseTime"`
	ExpiredTime     time.Time   `json:"expiredTime"`
	RemainQuantity  int         `json:"remainQuantity"`
	State           State       `json:"state"`
	Conditions      []Condition `json:"conditions"`
	// ServiceIDs lists the services the voucher covers. Empty means all.
	ServiceIDs []string `json:"scopedServiceIds"`
}

// Condition is a discount tier. Orders at or above MinValue (and below the
// next tier's MinValue) get their discount capped at MaxValue.
type Condition struct {
	ID       string          `json:"id"`
	MinValue decimal.Decimal `json:"minValue"`
	MaxValue decimal.Decimal `json:"maxValue"`
}

// Order is the part of a customer order relevant to voucher application.
type Order struct {
	ServiceID string          `json:"serviceId"`
	Amount    decimal.Decimal `json:"amount"`
}

// ValidationError describes a single malformed field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Is reports ErrInvalidVoucher so callers can match any validation failure.
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidVoucher
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// covers reports whether the voucher applies to the given service.
func (v *Voucher) covers(serviceID string) bool {
	if len(v.ServiceIDs) == 0 {
		return true
	}
	for _, id := range v.ServiceIDs {
		if id == serviceID {
			return true
		}
	}
	return false
}

// Validate checks the voucher invariants. It never coerces invalid data.
func (v *Voucher) Validate() error {
	if v == nil {
		return invalid("voucher", "missing")
	}
	if v.ID == "" {
		return invalid("id", "required")
	}
	if v.Name == "" {
		return invalid("name", "required")
	}
	if v.PercentDiscount < 0 || v.PercentDiscount > 99 {
		return invalid("percentDiscount", "must be between 0 and 99")
	}
	if v.ReleaseTime.IsZero() || v.ExpiredTime.IsZero() {
		return invalid("releaseTime", "validity window required")
	}
	if !v.ReleaseTime.Before(v.ExpiredTime) {
		return invalid("expiredTime", "must be after releaseTime")
	}
	if v.RemainQuantity < 0 {
		return invalid("remainQuantity", "must not be negative")
	}
	switch v.State {
	case StateEnabled, StateDisabled:
	default:
		return invalid("state", fmt.Sprintf("unknown state %q", v.State))
	}
	return validateConditions(v.Conditions)
}

func validateConditions(conds []Condition) error {
	if len(conds) == 0 {
		return invalid("conditions", "at least one condition required")
	}
	seen := make(map[string]struct{}, len(conds))
	for _, c := range conds {
		if c.ID == "" {
			return invalid("conditions.id", "required")
		}
		if _, dup := seen[c.ID]; dup {
			return invalid("conditions.id", fmt.Sprintf("duplicate id %q", c.ID))
		}
		seen[c.ID] = struct{}{}
		if c.MinValue.IsNegative() {
			return invalid("conditions.minValue", "must not be negative")
		}
		if c.MaxValue.IsNegative() {
			return invalid("conditions.maxValue", "must not be negative")
		}
	}
	return nil
}

// Clone returns a deep copy so callers can never alias another voucher's
// conditions or service scope.
func (v Voucher) Clone() Voucher {
	v.Conditions = append([]Condition(nil), v.Conditions...)
	v.ServiceIDs = append([]string(nil), v.ServiceIDs...)
	return v
}

// Repository provides persistence of vouchers and atomic redemption.
type Repository interface {
	Create(ctx context.Context, v *Voucher) error
	Get(ctx context.Context, id string) (*Voucher, error)
	List(ctx context.Context) ([]Voucher, error)
	Update(ctx context.Context, v *Voucher) error
	// Redeem decrements the remaining quantity of the voucher and appends the
	// usage record in one step. The write only succeeds while the voucher is
	// Redeemable at rec.Date; otherwise it returns the Redeemable error seen
	// at the time of the write.
	Redeem(ctx context.Context, voucherID string, rec usage.Record) error
}

// ErrNotFound is returned by repositories when a voucher id is unknown.
var ErrNotFound = errors.New("voucher not found")
