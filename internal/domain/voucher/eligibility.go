package voucher

import "time"

// CheckEligibility reports whether v may be applied to order at now. Checks
// run in a fixed order and the first failure wins: state, validity window,
// remaining quantity, service scope.
func CheckEligibility(v *Voucher, order Order, now time.Time) error {
	if err := v.Validate(); err != nil {
		return err
	}
	if order.Amount.IsNegative() {
		return invalid("amount", "must not be negative")
	}
	if err := v.Redeemable(now); err != nil {
		return err
	}
	if !v.covers(order.ServiceID) {
		return ErrServiceNotCovered
	}
	return nil
}

// Redeemable reports whether v can still be redeemed at the given instant,
// regardless of the order: state, validity window, then remaining quantity.
func (v *Voucher) Redeemable(at time.Time) error {
	if v.State != StateEnabled {
		return ErrVoucherDisabled
	}
	if at.Before(v.ReleaseTime) || !at.Before(v.ExpiredTime) {
		return ErrOutOfWindow
	}
	if v.RemainQuantity <= 0 {
		return ErrExhausted
	}
	return nil
}

// Checker evaluates eligibility against a clock.
type Checker struct {
	now func() time.Time
}

// NewChecker returns a Checker using the wall clock.
func NewChecker() *Checker {
	return &Checker{now: time.Now}
}

// Check runs CheckEligibility at the checker's current time and returns the
// instant it checked against.
func (c *Checker) Check(v *Voucher, order Order) (time.Time, error) {
	now := c.now()
	return now, CheckEligibility(v, order, now)
}
