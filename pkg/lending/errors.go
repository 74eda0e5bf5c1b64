package lending

import (
	"crypto/ed25519"
	"fmt"

	"github.com/mr-tron/base58/base58"
	"github.com/pkg/errors"
)

var (
	ErrMalformedAccount    = errors.New("malformed account")
	ErrInvalidParameter    = errors.New("invalid parameter")
	ErrOperationRejected   = errors.New("operation rejected")
	ErrNotCached           = errors.New("not cached")
	ErrStale               = errors.New("stale entry")
	ErrFetch               = errors.New("fetch failed")
	ErrBudgetExceeded      = errors.New("compute budget exceeded")
	ErrTransactionTooLarge = errors.New("transaction too large")
	ErrAccountNotFound     = errors.New("account not found")
	ErrUnsupportedProtocol = errors.New("unsupported protocol")
)

// ReasonCode explains why an adapter rejected an operation.
type ReasonCode string

const (
	ReasonInsufficientCollateral ReasonCode = "INSUFFICIENT_COLLATERAL"
	ReasonInsufficientLiquidity  ReasonCode = "INSUFFICIENT_LIQUIDITY"
	ReasonMarketInactive         ReasonCode = "MARKET_INACTIVE"
	ReasonDepositLimitExceeded   ReasonCode = "DEPOSIT_LIMIT_EXCEEDED"
	ReasonBorrowLimitExceeded    ReasonCode = "BORROW_LIMIT_EXCEEDED"
	ReasonNoDeposit              ReasonCode = "NO_DEPOSIT"
	ReasonNoBorrow               ReasonCode = "NO_BORROW"
	ReasonPositionHealthy        ReasonCode = "POSITION_HEALTHY"
	ReasonPositionFull           ReasonCode = "POSITION_FULL"
	ReasonUnsupportedOperation   ReasonCode = "UNSUPPORTED_OPERATION"
	ReasonMarketMismatch         ReasonCode = "MARKET_MISMATCH"
)

// MalformedAccountError is returned when raw bytes do not match the layout
// registered for an account kind.
type MalformedAccountError struct {
	Protocol Protocol
	Kind     string
	Address  ed25519.PublicKey
	Field    string
	Reason   string
}

func (e *MalformedAccountError) Error() string {
	msg := fmt.Sprintf("malformed %s %s account", e.Protocol, e.Kind)
	if len(e.Address) > 0 {
		msg += " " + base58.Encode(e.Address)
	}
	if e.Field != "" {
		msg += fmt.Sprintf(" (field %s)", e.Field)
	}
	return msg + ": " + e.Reason
}

func (e *MalformedAccountError) Is(target error) bool {
	return target == ErrMalformedAccount
}

// WithAddress returns a copy of the error annotated with the account address.
func (e *MalformedAccountError) WithAddress(address ed25519.PublicKey) *MalformedAccountError {
	cloned := *e
	cloned.Address = address
	return &cloned
}

// ParameterError is returned when a caller supplied value cannot be encoded.
type ParameterError struct {
	Field  string
	Value  string
	Reason string
}

func (e *ParameterError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("invalid parameter %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid parameter %s=%s: %s", e.Field, e.Value, e.Reason)
}

func (e *ParameterError) Is(target error) bool {
	return target == ErrInvalidParameter
}

// NewParameterError is a shorthand for building a *ParameterError.
func NewParameterError(field, value, reason string) error {
	return &ParameterError{Field: field, Value: value, Reason: reason}
}

// RejectedError is returned by adapters when an operation violates a
// protocol rule.
type RejectedError struct {
	Protocol Protocol
	Reason   ReasonCode
	Detail   string
}

func (e *RejectedError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s operation rejected: %s", e.Protocol, e.Reason)
	}
	return fmt.Sprintf("%s operation rejected: %s: %s", e.Protocol, e.Reason, e.Detail)
}

func (e *RejectedError) Is(target error) bool {
	return target == ErrOperationRejected
}

// Reject builds a *RejectedError with a formatted detail message.
func Reject(protocol Protocol, reason ReasonCode, format string, args ...interface{}) error {
	return &RejectedError{
		Protocol: protocol,
		Reason:   reason,
		Detail:   fmt.Sprintf(format, args...),
	}
}

// ReasonOf extracts the reason code from an OperationRejected error.
func ReasonOf(err error) (ReasonCode, bool) {
	var rejected *RejectedError
	if errors.As(err, &rejected) {
		return rejected.Reason, true
	}
	return "", false
}

// NotCachedError is returned on a registry miss, or when the cached entry is
// older than the freshness required by the caller.
type NotCachedError struct {
	Protocol Protocol
	Key      string
	Stale    bool
}

func (e *NotCachedError) Error() string {
	if e.Stale {
		return fmt.Sprintf("%s entry %s is stale", e.Protocol, e.Key)
	}
	return fmt.Sprintf("%s entry %s not cached", e.Protocol, e.Key)
}

func (e *NotCachedError) Is(target error) bool {
	return target == ErrNotCached || (e.Stale && target == ErrStale)
}

// FetchError wraps a failure at the network boundary.
type FetchError struct {
	Address ed25519.PublicKey
	Err     error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", base58.Encode(e.Address), e.Err)
}

func (e *FetchError) Is(target error) bool {
	return target == ErrFetch
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// BudgetError is returned when composed instructions exceed the compute unit
// ceiling.
type BudgetError struct {
	Requested uint64
	Ceiling   uint64
}

func (e *BudgetError) Error() string {
	return fmt.Sprintf("compute budget exceeded: requested %d units, ceiling is %d", e.Requested, e.Ceiling)
}

func (e *BudgetError) Is(target error) bool {
	return target == ErrBudgetExceeded
}
