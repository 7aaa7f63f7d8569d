// Package ledger moves value between accounts on behalf of the HTLC state
// machine. Each contract's locked value sits in its own custody account.
package ledger

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrInsufficientBalance signals the debited account cannot cover the amount.
	ErrInsufficientBalance = errors.New("ledger: insufficient balance")
	// ErrInvalidAmount signals a zero amount or an empty account name.
	ErrInvalidAmount = errors.New("ledger: invalid amount")
	// ErrOverflow signals a credit that would exceed the representable balance.
	ErrOverflow = errors.New("ledger: balance overflow")
)

const custodyPrefix = "custody:"

// Gateway is the value-movement port consumed by the contract service.
type Gateway interface {
	// Debit removes amount from account.
	Debit(ctx context.Context, account string, amount uint64) error
	// Credit adds amount to account.
	Credit(ctx context.Context, account string, amount uint64) error
	// Transfer debits from and credits to as one atomic step.
	Transfer(ctx context.Context, from, to string, amount uint64) error
	// BalanceOf returns the balance of account, zero when unknown.
	BalanceOf(ctx context.Context, account string) (uint64, error)
}

// CustodyAccount names the account holding a contract's locked value.
func CustodyAccount(contractID string) string {
	return custodyPrefix + contractID
}

// IsCustodyAccount reports whether account was produced by CustodyAccount.
func IsCustodyAccount(account string) bool {
	return len(account) > len(custodyPrefix) && account[:len(custodyPrefix)] == custodyPrefix
}

// Entry is one journal line. An empty Debit is an issuance, an empty Credit a redemption.
type Entry struct {
	Debit     string
	Credit    string
	Amount    uint64
	CreatedAt time.Time
}
