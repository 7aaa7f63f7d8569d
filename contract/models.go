package contract

import (
	"bytes"
	"fmt"
	"time"

	"htlcflow/auth"
	"htlcflow/commitment"
)

// Status is derived from a record's finalization flags.
type Status string

const (
	StatusLocked    Status = "locked"
	StatusWithdrawn Status = "withdrawn"
	StatusRefunded  Status = "refunded"
)

// ParseStatus accepts the textual status names.
func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusLocked, StatusWithdrawn, StatusRefunded:
		return st, nil
	default:
		return "", fmt.Errorf("contract: unknown status %q", s)
	}
}

// Record mirrors the contracts table. Depositor, Receiver, Amount, Hashlock,
// Timelock and CreatedAt are fixed at creation.
type Record struct {
	ID             string
	Depositor      string
	Receiver       string
	Amount         uint64
	Hashlock       commitment.Digest
	Timelock       time.Time
	RevealedSecret []byte
	Withdrawn      bool
	Refunded       bool
	CreatedAt      time.Time
	FinalizedAt    *time.Time
}

func (r Record) Status() Status {
	switch {
	case r.Withdrawn:
		return StatusWithdrawn
	case r.Refunded:
		return StatusRefunded
	default:
		return StatusLocked
	}
}

// Terminal reports whether the record accepts no further transitions.
func (r Record) Terminal() bool {
	return r.Withdrawn || r.Refunded
}

// Clone returns a deep copy.
func (r Record) Clone() Record {
	out := r
	if r.RevealedSecret != nil {
		out.RevealedSecret = bytes.Clone(r.RevealedSecret)
	}
	if r.FinalizedAt != nil {
		t := *r.FinalizedAt
		out.FinalizedAt = &t
	}
	return out
}

// CreateRequest locks Amount of the depositor's funds for Receiver. Caller
// must be authorized as Depositor. A zero Now selects the service clock.
type CreateRequest struct {
	Depositor string
	Receiver  string
	Amount    uint64
	Hashlock  commitment.Digest
	Timelock  time.Time
	Caller    auth.Caller
	Now       time.Time
}

// WithdrawRequest releases a contract to its receiver against the secret.
type WithdrawRequest struct {
	ContractID string
	Secret     []byte
	Caller     auth.Caller
	Now        time.Time
}

// RefundRequest returns an expired contract's value to its depositor.
type RefundRequest struct {
	ContractID string
	Caller     auth.Caller
	Now        time.Time
}

// ListFilter narrows List results. Party matches either side of a contract.
type ListFilter struct {
	Party    string
	Status   Status
	Page     int
	PageSize int
}

func (f ListFilter) normalized() ListFilter {
	if f.Page <= 0 {
		f.Page = 1
	}
	if f.PageSize <= 0 || f.PageSize > 100 {
		f.PageSize = 20
	}
	return f
}

func (f ListFilter) matches(r Record) bool {
	if f.Party != "" && r.Depositor != f.Party && r.Receiver != f.Party {
		return false
	}
	if f.Status != "" && r.Status() != f.Status {
		return false
	}
	return true
}

// checkTransition enforces the record invariants every store applies before
// persisting a mutation.
func checkTransition(before, after Record) error {
	if after.ID != before.ID ||
		after.Depositor != before.Depositor ||
		after.Receiver != before.Receiver ||
		after.Amount != before.Amount ||
		after.Hashlock != before.Hashlock ||
		!after.Timelock.Equal(before.Timelock) ||
		!after.CreatedAt.Equal(before.CreatedAt) {
		return fmt.Errorf("%w: write-once field changed", ErrInvalidTransition)
	}
	if before.Terminal() && (after.Withdrawn != before.Withdrawn || after.Refunded != before.Refunded ||
		!bytes.Equal(after.RevealedSecret, before.RevealedSecret)) {
		return fmt.Errorf("%w: record is finalized", ErrAlreadyFinalized)
	}
	if after.Withdrawn && after.Refunded {
		return fmt.Errorf("%w: withdrawn and refunded", ErrInvalidTransition)
	}
	if (after.RevealedSecret != nil) != after.Withdrawn {
		return fmt.Errorf("%w: revealed secret must be present iff withdrawn", ErrInvalidTransition)
	}
	if (after.FinalizedAt != nil) != after.Terminal() {
		return fmt.Errorf("%w: finalized_at must be set iff finalized", ErrInvalidTransition)
	}
	return nil
}
