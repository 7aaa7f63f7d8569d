package contract

import (
	"errors"

	"htlcflow/ledger"
	"htlcflow/timelock"
)

var (
	// ErrNotFound is returned when no contract exists for the identifier.
	ErrNotFound = errors.New("contract: not found")
	// ErrAlreadyExists is returned when creation collides with an existing identifier.
	ErrAlreadyExists = errors.New("contract: already exists")
	// ErrInvalidAmount is returned when creation is attempted with a zero amount.
	ErrInvalidAmount = errors.New("contract: amount must be greater than zero")
	// ErrInvalidParty is returned when depositor or receiver is missing.
	ErrInvalidParty = errors.New("contract: depositor and receiver are required")
	// ErrInvalidHashlock is returned when creation is attempted with an all-zero hashlock.
	ErrInvalidHashlock = errors.New("contract: hashlock is required")
	// ErrTimelockTooSoon is returned when the deadline falls inside the minimum buffer.
	ErrTimelockTooSoon = timelock.ErrTooSoon
	// ErrHashlockMismatch is returned when the secret does not commit to the hashlock.
	ErrHashlockMismatch = errors.New("contract: secret does not match hashlock")
	// ErrNotYetExpired is returned when a refund is attempted before the deadline.
	ErrNotYetExpired = errors.New("contract: timelock has not expired")
	// ErrAlreadyFinalized is returned when the contract was already withdrawn or refunded.
	ErrAlreadyFinalized = errors.New("contract: already finalized")
	// ErrUnauthorized is returned when the caller is not the entitled party.
	ErrUnauthorized = errors.New("contract: unauthorized")
	// ErrInsufficientBalance is surfaced from the ledger when value cannot be moved.
	ErrInsufficientBalance = ledger.ErrInsufficientBalance
	// ErrInvalidTransition guards record invariants inside the stores.
	ErrInvalidTransition = errors.New("contract: invalid transition")
)
