/*
errors.go - Centralized error types for the voucher market

PURPOSE:
  All error types in one place so the HTTP layer can map every failure to a
  response code without string matching.

ERROR KINDS:
  1. NotFound       - voucher or user missing
  2. InvalidID      - identifier is not a UUID (distinct from NotFound)
  3. Validation     - bad card data, bad dates, bad field values
  4. BusinessRule   - wrong status for a transition, eligibility, funds
  5. Conflict       - duplicate username/email
  6. Unauthorized   - bad credentials
  7. Infrastructure - everything else (store failures); never shown in detail

USAGE:
  Structured errors unwrap to a sentinel, so both styles work:

    if errors.Is(err, market.ErrVoucherOrder) { ... }

    var orderErr *market.VoucherOrderError
    if errors.As(err, &orderErr) { log(orderErr.Reason) }

    switch market.KindOf(err) { case market.KindNotFound: ... }

SEE ALSO:
  - lifecycle.go, ledger.go, accounts.go: Return these errors
  - api/handlers.go: Maps ErrorKind to HTTP status
*/
package market

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrVoucherNotFound is returned when a well-formed voucher id has no record.
	ErrVoucherNotFound = errors.New("voucher not found")

	// ErrUserNotFound is returned when a user id or username has no record.
	ErrUserNotFound = errors.New("user not found")

	// ErrInvalidID is returned when an identifier cannot be parsed as a UUID.
	ErrInvalidID = errors.New("invalid id")

	// ErrValidation is the parent of all input validation failures.
	ErrValidation = errors.New("validation failed")

	// ErrTransaction is returned when deposit/withdraw input is rejected.
	ErrTransaction = errors.New("transaction rejected")

	// ErrInvalidDates is returned when eviction is not after arrival.
	ErrInvalidDates = errors.New("invalid dates")

	// ErrVoucherOrder is returned when a lifecycle transition is not allowed.
	ErrVoucherOrder = errors.New("voucher operation not allowed")

	// ErrInsufficientBalance is returned when a withdrawal exceeds the balance.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrDuplicateUsername is returned on registration with a taken username.
	ErrDuplicateUsername = errors.New("Username already exists")

	// ErrDuplicateEmail is returned when an email belongs to another account.
	ErrDuplicateEmail = errors.New("Email already exists")

	// ErrPasswordMismatch is returned when a password and its confirmation differ.
	ErrPasswordMismatch = errors.New("Passwords do not match")

	// ErrWrongPassword is returned when the current password does not verify.
	ErrWrongPassword = errors.New("Current password is invalid")

	// ErrInvalidCredentials is returned by Authenticate for unknown users and
	// wrong passwords alike.
	ErrInvalidCredentials = errors.New("invalid username or password")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// NotFoundError names the missing record.
type NotFoundError struct {
	Entity string // "Voucher" or "User"
	Key    string
}

func (e *NotFoundError) Error() string {
	return e.Entity + " not found"
}

func (e *NotFoundError) Unwrap() error {
	if e.Entity == "User" {
		return ErrUserNotFound
	}
	return ErrVoucherNotFound
}

func voucherNotFound(key string) error { return &NotFoundError{Entity: "Voucher", Key: key} }
func userNotFound(key string) error    { return &NotFoundError{Entity: "User", Key: key} }

// InvalidIDError carries the identifier that failed to parse.
type InvalidIDError struct {
	Value string
}

func (e *InvalidIDError) Error() string {
	return fmt.Sprintf("Invalid UUID: %s", e.Value)
}

func (e *InvalidIDError) Unwrap() error {
	return ErrInvalidID
}

// ValidationError reports a rejected field value.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// TransactionError reports why a deposit or withdrawal was rejected.
type TransactionError struct {
	Reason string
}

func (e *TransactionError) Error() string {
	return e.Reason
}

func (e *TransactionError) Unwrap() []error {
	return []error{ErrTransaction, ErrValidation}
}

// InvalidDatesError reports an eviction date that is not after arrival.
type InvalidDatesError struct {
	Arrival  Date
	Eviction Date
}

func (e *InvalidDatesError) Error() string {
	return "Eviction date must be after arrival date"
}

func (e *InvalidDatesError) Unwrap() []error {
	return []error{ErrInvalidDates, ErrValidation}
}

// VoucherOrderError reports which lifecycle rule blocked an operation.
type VoucherOrderError struct {
	VoucherID string
	Reason    string
}

func (e *VoucherOrderError) Error() string {
	return e.Reason
}

func (e *VoucherOrderError) Unwrap() error {
	return ErrVoucherOrder
}

// InsufficientBalanceError provides details about a balance shortage.
type InsufficientBalanceError struct {
	Username  string
	Available decimal.Decimal
	Requested decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	return "Insufficient balance"
}

func (e *InsufficientBalanceError) Shortfall() decimal.Decimal {
	return e.Requested.Sub(e.Available)
}

func (e *InsufficientBalanceError) Unwrap() error {
	return ErrInsufficientBalance
}

// =============================================================================
// ERROR KINDS
// =============================================================================

type ErrorKind string

const (
	KindNotFound       ErrorKind = "NOT_FOUND"
	KindInvalidID      ErrorKind = "INVALID_ID"
	KindValidation     ErrorKind = "VALIDATION_ERROR"
	KindBusinessRule   ErrorKind = "BUSINESS_RULE_VIOLATION"
	KindConflict       ErrorKind = "CONFLICT"
	KindUnauthorized   ErrorKind = "UNAUTHORIZED"
	KindInfrastructure ErrorKind = "INTERNAL_ERROR"
)

// KindOf classifies err. Unknown errors are infrastructure failures.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case IsNotFound(err):
		return KindNotFound
	case errors.Is(err, ErrInvalidID):
		return KindInvalidID
	case errors.Is(err, ErrValidation), errors.Is(err, ErrPasswordMismatch), errors.Is(err, ErrWrongPassword):
		return KindValidation
	case errors.Is(err, ErrVoucherOrder), errors.Is(err, ErrInsufficientBalance):
		return KindBusinessRule
	case errors.Is(err, ErrDuplicateUsername), errors.Is(err, ErrDuplicateEmail):
		return KindConflict
	case errors.Is(err, ErrInvalidCredentials):
		return KindUnauthorized
	default:
		return KindInfrastructure
	}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrVoucherNotFound) ||
		errors.Is(err, ErrUserNotFound)
}

// IsClientError returns true if the error is due to the caller's input or
// the current state of the records, never the infrastructure.
func IsClientError(err error) bool {
	return err != nil && KindOf(err) != KindInfrastructure
}
