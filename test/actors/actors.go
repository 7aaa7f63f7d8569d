package actors

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"htlcflow/auth"
	"htlcflow/commitment"
	"htlcflow/contract"
)

// Book is the shared view of parties and created contracts the actors race over.
type Book struct {
	Parties  []string
	Secret   []byte
	Hashlock commitment.Digest

	mu        sync.Mutex
	contracts []contract.Record
}

func NewBook(parties []string, secret []byte) *Book {
	return &Book{Parties: parties, Secret: secret, Hashlock: commitment.SHA256.Commit(secret)}
}

func (b *Book) add(rec contract.Record) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.contracts = append(b.contracts, rec)
}

// Pick returns a random known contract.
func (b *Book) Pick(rng *rand.Rand) (contract.Record, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.contracts) == 0 {
		return contract.Record{}, false
	}
	return b.contracts[rng.Intn(len(b.contracts))], true
}

func (b *Book) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.contracts)
}

// Stats counts outcomes per actor kind.
type Stats struct {
	mu     sync.Mutex
	counts map[string]int
}

func (s *Stats) inc(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.counts == nil {
		s.counts = make(map[string]int)
	}
	s.counts[key]++
}

// Snapshot copies the counters.
func (s *Stats) Snapshot() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int, len(s.counts))
	for k, v := range s.counts {
		out[k] = v
	}
	return out
}

func outcome(op string, err error) string {
	switch {
	case err == nil:
		return op + ".ok"
	case errors.Is(err, contract.ErrAlreadyFinalized):
		return op + ".already_finalized"
	case errors.Is(err, contract.ErrNotYetExpired):
		return op + ".not_yet_expired"
	case errors.Is(err, contract.ErrInsufficientBalance):
		return op + ".insufficient_balance"
	default:
		return op + ".error"
	}
}

func stopped(ctx context.Context, stop <-chan struct{}) (bool, error) {
	select {
	case <-ctx.Done():
		return true, ctx.Err()
	case <-stop:
		return true, nil
	default:
		return false, nil
	}
}

// Creator locks random amounts between random pairs of parties.
func Creator(ctx context.Context, svc *contract.Service, book *Book, stats *Stats, seed int64, stop <-chan struct{}) error {
	rng := rand.New(rand.NewSource(seed))
	for {
		if done, err := stopped(ctx, stop); done {
			return err
		}
		depositor := book.Parties[rng.Intn(len(book.Parties))]
		receiver := book.Parties[rng.Intn(len(book.Parties))]

		rec, err := svc.Create(ctx, contract.CreateRequest{
			Depositor: depositor,
			Receiver:  receiver,
			Amount:    uint64(1 + rng.Intn(500)),
			Hashlock:  book.Hashlock,
			Timelock:  time.Now().UTC().Add(72*time.Hour + time.Minute),
			Caller:    auth.Caller{Identity: depositor},
		})
		stats.inc(outcome("create", err))
		if err == nil {
			book.add(rec)
		}
		time.Sleep(time.Duration(5+rng.Intn(15)) * time.Millisecond)
	}
}

// Withdrawer claims random contracts with the shared secret, sometimes after expiry.
func Withdrawer(ctx context.Context, svc *contract.Service, book *Book, stats *Stats, seed int64, stop <-chan struct{}) error {
	rng := rand.New(rand.NewSource(seed))
	for {
		if done, err := stopped(ctx, stop); done {
			return err
		}
		rec, ok := book.Pick(rng)
		if !ok {
			time.Sleep(10 * time.Millisecond)
			continue
		}
		req := contract.WithdrawRequest{ContractID: rec.ID, Secret: book.Secret, Caller: auth.Caller{Identity: rec.Receiver}}
		if rng.Intn(2) == 0 {
			req.Now = rec.Timelock.Add(time.Second)
		}
		got, err := svc.Withdraw(ctx, req)
		stats.inc(outcome("withdraw", err))
		if err == nil && (!got.Withdrawn || got.Refunded) {
			return fmt.Errorf("withdraw %s returned %s", rec.ID, got.Status())
		}
		time.Sleep(time.Duration(5+rng.Intn(20)) * time.Millisecond)
	}
}

// Refunder reclaims random contracts, before or at their deadline.
func Refunder(ctx context.Context, svc *contract.Service, book *Book, stats *Stats, seed int64, stop <-chan struct{}) error {
	rng := rand.New(rand.NewSource(seed))
	for {
		if done, err := stopped(ctx, stop); done {
			return err
		}
		rec, ok := book.Pick(rng)
		if !ok {
			time.Sleep(10 * time.Millisecond)
			continue
		}
		now := rec.Timelock
		if rng.Intn(4) == 0 {
			now = rec.Timelock.Add(-time.Second)
		}
		got, err := svc.Refund(ctx, contract.RefundRequest{ContractID: rec.ID, Caller: auth.Caller{Identity: rec.Depositor}, Now: now})
		stats.inc(outcome("refund", err))
		if err == nil && (!got.Refunded || got.Withdrawn) {
			return fmt.Errorf("refund %s returned %s", rec.ID, got.Status())
		}
		time.Sleep(time.Duration(5+rng.Intn(20)) * time.Millisecond)
	}
}
