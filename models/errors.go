package models

import "errors"

// Ledger error taxonomy. Callers classify with errors.Is: ErrInvalidAmount,
// ErrNotFound and ErrInsufficientFunds are caller errors, ErrLockTimeout is
// retriable with backoff, ErrInvariantViolation indicates ledger corruption
// and must never be silently retried.
var (
	// ErrInvalidAmount is returned for a non-positive amount.
	ErrInvalidAmount = errors.New("amount must be positive")

	// ErrNotFound is returned when a referenced balance or transaction does
	// not exist, or a withdrawal fails its type/status precondition.
	ErrNotFound = errors.New("record not found")

	// ErrInsufficientFunds is returned when a lock-funds request exceeds the
	// available balance.
	ErrInsufficientFunds = errors.New("insufficient available balance")

	// ErrInvariantViolation is returned when an internal consistency check
	// fails.
	ErrInvariantViolation = errors.New("ledger invariant violation")

	// ErrLockTimeout is returned when a contended row lock could not be
	// acquired within the configured budget.
	ErrLockTimeout = errors.New("row lock not acquired within timeout")
)
