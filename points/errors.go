/*
errors.go - Error taxonomy for the points engine

PURPOSE:
  Every error returned by the engine maps to a stable machine-readable Kind
  plus a human-readable message. Callers branch on the Kind (or errors.Is on
  the sentinel); the message is for people.

ERROR KINDS:
  INVALID_REQUEST        missing/malformed input, never touches storage
  CODE_NOT_FOUND         unknown code
  BENEFICIARY_NOT_FOUND  code points at a user that does not exist
  PARTNER_NOT_FOUND      redeeming partner does not exist
  ACCOUNT_NOT_FOUND      ledger operation on an unknown account
  REWARD_NOT_FOUND       unknown catalog reward
  PICKUP_NOT_FOUND       unknown pickup request
  ALREADY_REDEEMED       idempotent conflict; the code was settled before
  INSUFFICIENT_BALANCE   debit larger than the balance
  STORAGE_UNAVAILABLE    transient store failure, caller may retry
  INTERNAL               anything else

RETRIES:
  The engine never retries a mutation itself. A redemption retried by the
  caller is safe because a settled code answers ALREADY_REDEEMED.

SEE ALSO:
  - api/handlers.go: Kind -> HTTP status mapping
*/
package points

import (
	"fmt"
	"math"

	"github.com/cockroachdb/errors"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrInvalidRequest      = errors.New("invalid request")
	ErrCodeNotFound        = errors.New("code not found")
	ErrBeneficiaryNotFound = errors.New("beneficiary not found")
	ErrPartnerNotFound     = errors.New("partner not found")
	ErrAccountNotFound     = errors.New("account not found")
	ErrRewardNotFound      = errors.New("reward not found")
	ErrPickupNotFound      = errors.New("pickup request not found")

	// ErrAlreadyRedeemed is returned when a code is no longer ISSUED, including
	// when a concurrent redemption won the race.
	ErrAlreadyRedeemed = errors.New("code already redeemed")

	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrStorageUnavailable marks transient store failures.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrDuplicateCode is returned by stores when an issued code collides.
	ErrDuplicateCode = errors.New("duplicate code")

	// ErrBalanceDrift is returned by Verify when a cached balance disagrees
	// with the sum of its ledger entries.
	ErrBalanceDrift = errors.New("balance does not match ledger entries")
)

// =============================================================================
// KINDS
// =============================================================================

// Kind is the stable, machine-readable error category.
type Kind string

const (
	KindInvalidRequest      Kind = "INVALID_REQUEST"
	KindCodeNotFound        Kind = "CODE_NOT_FOUND"
	KindBeneficiaryNotFound Kind = "BENEFICIARY_NOT_FOUND"
	KindPartnerNotFound     Kind = "PARTNER_NOT_FOUND"
	KindAccountNotFound     Kind = "ACCOUNT_NOT_FOUND"
	KindRewardNotFound      Kind = "REWARD_NOT_FOUND"
	KindPickupNotFound      Kind = "PICKUP_NOT_FOUND"
	KindAlreadyRedeemed     Kind = "ALREADY_REDEEMED"
	KindInsufficientBalance Kind = "INSUFFICIENT_BALANCE"
	KindStorageUnavailable  Kind = "STORAGE_UNAVAILABLE"
	KindInternal            Kind = "INTERNAL"
)

var kinds = []struct {
	sentinel error
	kind     Kind
}{
	{ErrInvalidRequest, KindInvalidRequest},
	{ErrCodeNotFound, KindCodeNotFound},
	{ErrBeneficiaryNotFound, KindBeneficiaryNotFound},
	{ErrPartnerNotFound, KindPartnerNotFound},
	{ErrAccountNotFound, KindAccountNotFound},
	{ErrRewardNotFound, KindRewardNotFound},
	{ErrPickupNotFound, KindPickupNotFound},
	{ErrAlreadyRedeemed, KindAlreadyRedeemed},
	{ErrInsufficientBalance, KindInsufficientBalance},
	{ErrStorageUnavailable, KindStorageUnavailable},
}

// KindOf maps an error to its Kind. nil maps to "".
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.sentinel) {
			return k.kind
		}
	}
	return KindInternal
}

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientBalanceError provides details about a balance shortage.
type InsufficientBalanceError struct {
	AccountID string
	Available int64
	Requested int64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: available %d, requested %d, shortfall %d",
		e.Available, e.Requested, e.Requested-e.Available)
}

func (e *InsufficientBalanceError) Unwrap() error {
	return ErrInsufficientBalance
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// invalid builds an INVALID_REQUEST error with a message.
func invalid(format string, args ...any) error {
	return errors.Wrapf(ErrInvalidRequest, format, args...)
}

// Overflows reports whether crediting delta to balance would exceed the
// int64 range. Stores refuse such deltas with BalanceOverflow.
func Overflows(balance, delta int64) bool {
	return delta > 0 && balance > math.MaxInt64-delta
}

// BalanceOverflow is the INVALID_REQUEST a store returns for a credit that
// Overflows the account balance.
func BalanceOverflow(accountID string, balance, delta int64) error {
	return invalid("credit of %d overflows balance %d of account %s", delta, balance, accountID)
}

// Unavailable marks a store failure as transient. Stores call this on every
// driver error so the Kind survives wrapping.
func Unavailable(err error, op string) error {
	if err == nil {
		return nil
	}
	return errors.Mark(errors.Wrap(err, op), ErrStorageUnavailable)
}

// IsRetryable returns true if the error might succeed on retry.
// Only side-effect-free calls should be retried automatically.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStorageUnavailable)
}

// IsClientError returns true if the error is due to the caller's input or
// the current state of the data it referenced.
func IsClientError(err error) bool {
	switch KindOf(err) {
	case KindInvalidRequest, KindAlreadyRedeemed, KindInsufficientBalance:
		return true
	}
	return IsNotFound(err)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	switch KindOf(err) {
	case KindCodeNotFound, KindBeneficiaryNotFound, KindPartnerNotFound,
		KindAccountNotFound, KindRewardNotFound, KindPickupNotFound:
		return true
	}
	return false
}
