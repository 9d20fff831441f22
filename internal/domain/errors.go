package domain

import "errors"

// Error taxonomy shared across the core and its adapters.
var (
	// ErrInvalidOrderState: matching or funding attempted on a terminal or
	// unfunded order. Logged and treated as a no-op by event handlers.
	ErrInvalidOrderState = errors.New("invalid order state")

	// ErrInsufficientBalance: a SELL lock would exceed the member's
	// available token balance.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrConflictRetry: an optimistic-concurrency collision on the
	// per-token transaction. Retried internally up to a bound, then
	// surfaced as retryable.
	ErrConflictRetry = errors.New("transaction conflict, retry")

	// ErrStorageDepositUnsatisfiable: the computed native payload cannot
	// meet the ledger's minimum deposit with the funds available. Permanent
	// failure requiring manual handling, never silently dropped.
	ErrStorageDepositUnsatisfiable = errors.New("storage deposit unsatisfiable")

	// ErrOrderNotFound: no order with the given id.
	ErrOrderNotFound = errors.New("order not found")
)
