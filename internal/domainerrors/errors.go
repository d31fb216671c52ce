// Package domainerrors defines the error taxonomy shared by the auction,
// bidding, ledger and escrow services. Every rejection carries a stable
// machine-readable code alongside its category.
package domainerrors

import (
	"errors"
	"fmt"
)

// Stable reason codes surfaced to API clients and recorded on events.
const (
	CodeValidationFailed    = "VALIDATION_FAILED"
	CodeBidTooLow           = "BID_TOO_LOW"
	CodeBidTooHigh          = "BID_TOO_HIGH"
	CodeAuctionNotActive    = "AUCTION_NOT_ACTIVE"
	CodeAuctionNotFound     = "AUCTION_NOT_FOUND"
	CodeSellerCannotBid     = "SELLER_CANNOT_BID"
	CodeBuyNowUnavailable   = "BUY_NOW_UNAVAILABLE"
	CodeReserveNotMet       = "RESERVE_NOT_MET"
	CodeBidNotFound         = "BID_NOT_FOUND"
	CodeAccountNotFound     = "ACCOUNT_NOT_FOUND"
	CodeAccountFrozen       = "ACCOUNT_FROZEN"
	CodeInsufficientFunds   = "INSUFFICIENT_FUNDS"
	CodeEscrowNotFound      = "ESCROW_NOT_FOUND"
	CodeInvalidTransition   = "INVALID_ESCROW_TRANSITION"
	CodeNotEscrowParty      = "NOT_ESCROW_PARTY"
	CodeDisputeNotFound     = "DISPUTE_NOT_FOUND"
	CodeDisputeNotOpen      = "DISPUTE_NOT_OPEN"
	CodeDisputeAlreadyOpen  = "DISPUTE_ALREADY_OPEN"
	CodeNotAuthorized       = "NOT_AUTHORIZED"
	CodeConcurrencyConflict = "CONCURRENCY_CONFLICT"
	CodeInvariantViolation  = "INVARIANT_VIOLATION"
)

// Kind buckets errors by how callers should react to them.
type Kind int

const (
	// KindValidation rejects malformed or rule-breaking input. Retrying
	// the same request will fail the same way.
	KindValidation Kind = iota
	// KindNotFound means the referenced entity does not exist.
	KindNotFound
	// KindUnauthorized means the caller may not act on this entity.
	KindUnauthorized
	// KindInsufficientFunds means the account exists but cannot cover
	// the requested amount.
	KindInsufficientFunds
	// KindConcurrencyConflict means a concurrent writer won; the caller
	// may retry against fresh state.
	KindConcurrencyConflict
	// KindInvariantViolation means internal state is inconsistent.
	// Mutation on the affected entity is halted until reconciled.
	KindInvariantViolation
)

// DomainError is the error type returned by all service operations.
type DomainError struct {
	Kind    Kind
	Code    string
	Message string
}

func (e *DomainError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Validation builds a rule-rejection error with the given reason code.
func Validation(code, message string) *DomainError {
	return &DomainError{Kind: KindValidation, Code: code, Message: message}
}

// Validationf is Validation with a formatted message.
func Validationf(code, format string, args ...interface{}) *DomainError {
	return Validation(code, fmt.Sprintf(format, args...))
}

// NotFound builds a missing-entity error with the given reason code.
func NotFound(code, message string) *DomainError {
	return &DomainError{Kind: KindNotFound, Code: code, Message: message}
}

// Unauthorized builds a permission error.
func Unauthorized(message string) *DomainError {
	return &DomainError{Kind: KindUnauthorized, Code: CodeNotAuthorized, Message: message}
}

// InsufficientFunds builds a balance shortfall error.
func InsufficientFunds(message string) *DomainError {
	return &DomainError{Kind: KindInsufficientFunds, Code: CodeInsufficientFunds, Message: message}
}

// Conflict builds an optimistic-concurrency failure.
func Conflict(message string) *DomainError {
	return &DomainError{Kind: KindConcurrencyConflict, Code: CodeConcurrencyConflict, Message: message}
}

// Invariant builds an internal-consistency failure with the given code.
func Invariant(code, message string) *DomainError {
	return &DomainError{Kind: KindInvariantViolation, Code: code, Message: message}
}

// AsDomain unwraps err to a DomainError if one is in its chain.
func AsDomain(err error) (*DomainError, bool) {
	var de *DomainError
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}

// IsKind reports whether err is a DomainError of the given kind.
func IsKind(err error, kind Kind) bool {
	de, ok := AsDomain(err)
	return ok && de.Kind == kind
}

// HasCode reports whether err carries the given reason code.
func HasCode(err error, code string) bool {
	de, ok := AsDomain(err)
	return ok && de.Code == code
}

// IsValidation reports whether err is a rule rejection.
func IsValidation(err error) bool { return IsKind(err, KindValidation) }

// IsNotFound reports whether err is a missing-entity error.
func IsNotFound(err error) bool { return IsKind(err, KindNotFound) }

// IsUnauthorized reports whether err is a permission error.
func IsUnauthorized(err error) bool { return IsKind(err, KindUnauthorized) }

// IsInsufficientFunds reports whether err is a balance shortfall.
func IsInsufficientFunds(err error) bool { return IsKind(err, KindInsufficientFunds) }

// IsConflict reports whether err is an optimistic-concurrency failure.
func IsConflict(err error) bool { return IsKind(err, KindConcurrencyConflict) }

// IsInvariant reports whether err is an internal-consistency failure.
func IsInvariant(err error) bool { return IsKind(err, KindInvariantViolation) }
