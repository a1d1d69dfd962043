/*
errors.go - Centralized error types for the engine

PURPOSE:
  All error kinds in one place. Handlers map them to HTTP statuses with
  errors.Is; callers that need details use errors.As on the structured types.

ERROR CATEGORIES:
  1. Client errors - bad amounts, insufficient funds, below minimum
  2. Lookup errors - referenced record absent
  3. State errors  - moderation on a non-pending record (a no-op, not a fault)
  4. Store errors  - optimistic-lock conflicts, duplicate idempotency keys

NOTE:
  "Nothing due" is never an error. Settle and AccrueAll return zero amounts.
*/
package engine

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidAmount is returned for non-positive or unparseable money input.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrInvalidInput is returned for missing or malformed non-money fields.
	ErrInvalidInput = errors.New("invalid input")

	// ErrInsufficientBalance is returned when a withdrawal or purchase exceeds the balance.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrBelowMinimumWithdrawal is returned when a withdrawal is under the configured floor.
	ErrBelowMinimumWithdrawal = errors.New("below minimum withdrawal")

	// ErrNotFound is returned when a referenced record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadySettled is returned when moderating a record that is no longer pending.
	// Nothing was changed.
	ErrAlreadySettled = errors.New("already settled")

	// ErrConcurrentModification is returned when an optimistic guard detects a conflict.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrDuplicateIdempotencyKey is returned when a ledger entry with the same key exists.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// ErrPhoneTaken is returned when registering an existing phone number.
	ErrPhoneTaken = errors.New("phone number already registered")

	// ErrInvalidCredentials is returned when phone/password do not match.
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientBalanceError provides details about a balance shortage.
type InsufficientBalanceError struct {
	UserID    UserID
	Available Amount
	Requested Amount
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: available %s, requested %s, shortfall %s",
		e.Available, e.Requested, e.Requested.Sub(e.Available))
}

func (e *InsufficientBalanceError) Unwrap() error { return ErrInsufficientBalance }

// BelowMinimumError reports the configured withdrawal floor.
type BelowMinimumError struct {
	Minimum   Amount
	Requested Amount
}

func (e *BelowMinimumError) Error() string {
	return fmt.Sprintf("withdrawal of %s is below the minimum of %s", e.Requested, e.Minimum)
}

func (e *BelowMinimumError) Unwrap() error { return ErrBelowMinimumWithdrawal }

// NotFoundError names the missing record.
type NotFoundError struct {
	Kind string
	ID   any
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("%s %v not found", e.Kind, e.ID) }
func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// AlreadySettledError reports the status a moderated record already has.
type AlreadySettledError struct {
	Kind   string
	ID     any
	Status Status
}

func (e *AlreadySettledError) Error() string {
	return fmt.Sprintf("%s %v is already %s", e.Kind, e.ID, e.Status)
}

func (e *AlreadySettledError) Unwrap() error { return ErrAlreadySettled }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrBelowMinimumWithdrawal) ||
		errors.Is(err, ErrPhoneTaken)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
