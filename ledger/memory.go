package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryLedger is an in-process Gateway. All movements are serialized by a
// single mutex, so Transfer is trivially atomic.
type MemoryLedger struct {
	mu       sync.Mutex
	balances map[string]uint64
	entries  []Entry
	now      func() time.Time
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		balances: make(map[string]uint64),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (l *MemoryLedger) Debit(ctx context.Context, account string, amount uint64) error {
	if err := checkMove(account, amount); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.debitLocked(account, amount); err != nil {
		return err
	}
	l.entries = append(l.entries, Entry{Debit: account, Amount: amount, CreatedAt: l.now()})
	return nil
}

func (l *MemoryLedger) Credit(ctx context.Context, account string, amount uint64) error {
	if err := checkMove(account, amount); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.creditLocked(account, amount); err != nil {
		return err
	}
	l.entries = append(l.entries, Entry{Credit: account, Amount: amount, CreatedAt: l.now()})
	return nil
}

func (l *MemoryLedger) Transfer(ctx context.Context, from, to string, amount uint64) error {
	if err := checkMove(from, amount); err != nil {
		return err
	}
	if to == "" {
		return fmt.Errorf("%w: empty destination account", ErrInvalidAmount)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.balances[from] < amount {
		return fmt.Errorf("%w: %s has %d, needs %d", ErrInsufficientBalance, from, l.balances[from], amount)
	}
	if from != to && l.balances[to] > ^uint64(0)-amount {
		return fmt.Errorf("%w: %s", ErrOverflow, to)
	}
	l.balances[from] -= amount
	l.balances[to] += amount
	l.entries = append(l.entries, Entry{Debit: from, Credit: to, Amount: amount, CreatedAt: l.now()})
	return nil
}

func (l *MemoryLedger) BalanceOf(ctx context.Context, account string) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[account], nil
}

// Entries returns a copy of the journal.
func (l *MemoryLedger) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

func (l *MemoryLedger) debitLocked(account string, amount uint64) error {
	if l.balances[account] < amount {
		return fmt.Errorf("%w: %s has %d, needs %d", ErrInsufficientBalance, account, l.balances[account], amount)
	}
	l.balances[account] -= amount
	return nil
}

func (l *MemoryLedger) creditLocked(account string, amount uint64) error {
	if l.balances[account] > ^uint64(0)-amount {
		return fmt.Errorf("%w: %s", ErrOverflow, account)
	}
	l.balances[account] += amount
	return nil
}

func checkMove(account string, amount uint64) error {
	if account == "" {
		return fmt.Errorf("%w: empty account", ErrInvalidAmount)
	}
	if amount == 0 {
		return fmt.Errorf("%w: zero amount", ErrInvalidAmount)
	}
	return nil
}
