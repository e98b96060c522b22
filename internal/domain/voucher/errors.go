package voucher

import "github.com/go-faster/errors"

// Failure kinds. All of them are recoverable by the caller: show a message
// or offer another voucher.
var (
	// ErrVoucherDisabled is returned when the voucher state is not enabled.
	ErrVoucherDisabled = errors.New("voucher disabled")
	// ErrOutOfWindow is returned when now is outside [releaseTime, expiredTime).
	ErrOutOfWindow = errors.New("voucher outside validity window")
	// ErrExhausted is returned when no quantity of the voucher remains.
	ErrExhausted = errors.New("voucher exhausted")
	// ErrServiceNotCovered is returned when the order's service is out of scope.
	ErrServiceNotCovered = errors.New("service not covered by voucher")
	// ErrNoMatchingTier is returned when the order amount is below every tier.
	ErrNoMatchingTier = errors.New("voucher not applicable to this order size")
	// ErrInvalidVoucher matches every *ValidationError.
	ErrInvalidVoucher = errors.New("invalid voucher")
	// ErrNoChanges is returned when a patch leaves the voucher as it was.
	ErrNoChanges = errors.New("nothing to update")
	// ErrConditionNotFound is returned when a patch targets an unknown condition.
	ErrConditionNotFound = errors.New("condition not found")
)

// Reason codes reported to clients.
const (
	ReasonVoucherDisabled   = "VoucherDisabled"
	ReasonOutOfWindow       = "OutOfWindow"
	ReasonExhausted         = "Exhausted"
	ReasonServiceNotCovered = "ServiceNotCovered"
	ReasonNoMatchingTier    = "NoMatchingTier"
	ReasonInvalidInput      = "InvalidInput"
)

var reasons = []struct {
	err  error
	code string
}{
	{ErrVoucherDisabled, ReasonVoucherDisabled},
	{ErrOutOfWindow, ReasonOutOfWindow},
	{ErrExhausted, ReasonExhausted},
	{ErrServiceNotCovered, ReasonServiceNotCovered},
	{ErrNoMatchingTier, ReasonNoMatchingTier},
	{ErrInvalidVoucher, ReasonInvalidInput},
}

// Reason classifies err into one of the reason codes. It returns "" for
// errors outside the voucher failure taxonomy, e.g. storage failures.
func Reason(err error) string {
	if err == nil {
		return ""
	}
	for _, r := range reasons {
		if errors.Is(err, r.err) {
			return r.code
		}
	}
	return ""
}
