package contract

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"htlcflow/auth"
	"htlcflow/commitment"
	"htlcflow/ledger"
	"htlcflow/notify"
	"htlcflow/timelock"
)

var (
	t0       = time.Date(2024, 10, 31, 12, 0, 0, 0, time.UTC)
	alice    = auth.Caller{Identity: "alice"}
	bob      = auth.Caller{Identity: "bob"}
	mallory  = auth.Caller{Identity: "mallory"}
	secret   = []byte("s3cr3t")
	hashlock = commitment.SHA256.Commit(secret)
)

type fixture struct {
	svc    *Service
	store  *MemoryStore
	ledger *ledger.MemoryLedger
	sink   *notify.MemorySink
	hook   *logtest.Hook

	mu  sync.Mutex
	now time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		store:  NewMemoryStore(),
		ledger: ledger.NewMemoryLedger(),
		sink:   notify.NewMemorySink(),
		now:    t0,
	}
	require.NoError(t, f.ledger.Credit(context.Background(), "alice", 1000))

	logger, hook := logtest.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	f.hook = hook

	f.svc = NewService(f.store, f.ledger, auth.IdentityAuthorizer{}, Options{
		Clock:  timelock.ClockFunc(f.clock),
		Sink:   f.sink,
		Logger: logger,
	})
	return f
}

func (f *fixture) clock() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fixture) setNow(t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = t
}

func (f *fixture) balance(t *testing.T, account string) uint64 {
	t.Helper()
	b, err := f.ledger.BalanceOf(context.Background(), account)
	require.NoError(t, err)
	return b
}

func (f *fixture) create(t *testing.T, amount uint64) Record {
	t.Helper()
	rec, err := f.svc.Create(context.Background(), CreateRequest{
		Depositor: "alice",
		Receiver:  "bob",
		Amount:    amount,
		Hashlock:  hashlock,
		Timelock:  f.clock().Add(4 * 24 * time.Hour),
		Caller:    alice,
	})
	require.NoError(t, err)
	return rec
}

func TestCreate_LocksFunds(t *testing.T) {
	f := newFixture(t)
	rec := f.create(t, 100)

	assert.Equal(t, StatusLocked, rec.Status())
	assert.Equal(t, uint64(900), f.balance(t, "alice"))
	assert.Equal(t, uint64(100), f.balance(t, ledger.CustodyAccount(rec.ID)))

	stored, err := f.svc.Get(context.Background(), rec.ID)
	require.NoError(t, err)
	if diff := cmp.Diff(rec, stored); diff != "" {
		t.Fatalf("stored record mismatch (-want +got):\n%s", diff)
	}

	created := f.sink.ByTopic(notify.TopicCreated)
	require.Len(t, created, 1)
	assert.Equal(t, rec.ID, created[0].ContractID)
	assert.Equal(t, "alice", created[0].Payload["depositor"])
	assert.Equal(t, "bob", created[0].Payload["receiver"])
	assert.Equal(t, uint64(100), created[0].Payload["amount"])
	assert.Equal(t, hashlock.String(), created[0].Payload["hashlock"])
}

func TestWithdraw_BeforeDeadline(t *testing.T) {
	f := newFixture(t)
	rec := f.create(t, 100)

	got, err := f.svc.Withdraw(context.Background(), WithdrawRequest{ContractID: rec.ID, Secret: secret, Caller: bob})
	require.NoError(t, err)

	assert.True(t, got.Withdrawn)
	assert.False(t, got.Refunded)
	assert.Equal(t, secret, got.RevealedSecret)
	require.NotNil(t, got.FinalizedAt)
	assert.Equal(t, uint64(100), f.balance(t, "bob"))
	assert.Zero(t, f.balance(t, ledger.CustodyAccount(rec.ID)))

	withdrawn := f.sink.ByTopic(notify.TopicWithdrawn)
	require.Len(t, withdrawn, 1)
	assert.Equal(t, "733363723374", withdrawn[0].Payload["secret"])
}

func TestRefund_AfterWithdrawIsAlreadyFinalized(t *testing.T) {
	f := newFixture(t)
	rec := f.create(t, 100)
	_, err := f.svc.Withdraw(context.Background(), WithdrawRequest{ContractID: rec.ID, Secret: secret, Caller: bob})
	require.NoError(t, err)

	f.setNow(rec.Timelock.Add(time.Hour))
	_, err = f.svc.Refund(context.Background(), RefundRequest{ContractID: rec.ID, Caller: alice})
	require.ErrorIs(t, err, ErrAlreadyFinalized)

	assert.Equal(t, uint64(900), f.balance(t, "alice"))
	assert.Equal(t, uint64(100), f.balance(t, "bob"))
	assert.Empty(t, f.sink.ByTopic(notify.TopicRefunded))
}

func TestCreate_ZeroAmount(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Create(context.Background(), CreateRequest{
		Depositor: "alice",
		Receiver:  "bob",
		Amount:    0,
		Hashlock:  hashlock,
		Timelock:  t0.Add(4 * 24 * time.Hour),
		Caller:    alice,
	})
	require.ErrorIs(t, err, ErrInvalidAmount)

	all, err := f.svc.List(context.Background(), ListFilter{})
	require.NoError(t, err)
	assert.Empty(t, all)
	assert.Equal(t, uint64(1000), f.balance(t, "alice"))
	assert.Empty(t, f.sink.Events())
}

func TestCreate_Guards(t *testing.T) {
	valid := CreateRequest{
		Depositor: "alice",
		Receiver:  "bob",
		Amount:    10,
		Hashlock:  hashlock,
		Timelock:  t0.Add(3 * 24 * time.Hour),
		Caller:    alice,
	}

	cases := []struct {
		name   string
		mutate func(*CreateRequest)
		want   error
	}{
		{"deadline inside buffer", func(r *CreateRequest) { r.Timelock = t0.Add(3*24*time.Hour - time.Second) }, ErrTimelockTooSoon},
		{"deadline in the past", func(r *CreateRequest) { r.Timelock = t0.Add(-time.Hour) }, ErrTimelockTooSoon},
		{"missing receiver", func(r *CreateRequest) { r.Receiver = "" }, ErrInvalidParty},
		{"zero hashlock", func(r *CreateRequest) { r.Hashlock = commitment.Digest{} }, ErrInvalidHashlock},
		{"caller is not depositor", func(r *CreateRequest) { r.Caller = mallory }, ErrUnauthorized},
		{"insufficient balance", func(r *CreateRequest) { r.Amount = 1001 }, ErrInsufficientBalance},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			req := valid
			tc.mutate(&req)

			_, err := f.svc.Create(context.Background(), req)
			require.ErrorIs(t, err, tc.want)

			all, err := f.svc.List(context.Background(), ListFilter{})
			require.NoError(t, err)
			assert.Empty(t, all, "no record is created on failure")
			assert.Equal(t, uint64(1000), f.balance(t, "alice"))
		})
	}

	t.Run("buffer boundary accepted", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.Create(context.Background(), valid)
		require.NoError(t, err)
	})

	t.Run("too soon is the timelock error", func(t *testing.T) {
		f := newFixture(t)
		req := valid
		req.Timelock = t0.Add(time.Hour)
		_, err := f.svc.Create(context.Background(), req)
		assert.ErrorIs(t, err, timelock.ErrTooSoon)
	})
}

func TestCreate_DuplicateIDDoesNotDebitTwice(t *testing.T) {
	f := newFixture(t)
	f.svc.newID = func() string { return "fixed" }

	f.create(t, 100)
	_, err := f.svc.Create(context.Background(), CreateRequest{
		Depositor: "alice",
		Receiver:  "bob",
		Amount:    100,
		Hashlock:  hashlock,
		Timelock:  t0.Add(4 * 24 * time.Hour),
		Caller:    alice,
	})
	require.ErrorIs(t, err, ErrAlreadyExists)
	assert.Equal(t, uint64(900), f.balance(t, "alice"))
	assert.Equal(t, uint64(100), f.balance(t, ledger.CustodyAccount("fixed")))
}

func TestRefund_TimeoutGating(t *testing.T) {
	f := newFixture(t)
	rec := f.create(t, 100)

	_, err := f.svc.Refund(context.Background(), RefundRequest{
		ContractID: rec.ID,
		Caller:     alice,
		Now:        rec.Timelock.Add(-time.Second),
	})
	require.ErrorIs(t, err, ErrNotYetExpired)

	stored, err := f.svc.Get(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusLocked, stored.Status())
	assert.Equal(t, uint64(900), f.balance(t, "alice"))

	got, err := f.svc.Refund(context.Background(), RefundRequest{
		ContractID: rec.ID,
		Caller:     alice,
		Now:        rec.Timelock,
	})
	require.NoError(t, err)
	assert.True(t, got.Refunded)
	assert.Nil(t, got.RevealedSecret)
	assert.Equal(t, uint64(1000), f.balance(t, "alice"))
	assert.Len(t, f.sink.ByTopic(notify.TopicRefunded), 1)
}

func TestWithdraw_WrongSecretThenRight(t *testing.T) {
	f := newFixture(t)
	rec := f.create(t, 100)

	_, err := f.svc.Withdraw(context.Background(), WithdrawRequest{ContractID: rec.ID, Secret: []byte("wrong"), Caller: bob})
	require.ErrorIs(t, err, ErrHashlockMismatch)

	stored, err := f.svc.Get(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusLocked, stored.Status())
	assert.Nil(t, stored.RevealedSecret)
	assert.Zero(t, f.balance(t, "bob"))

	f.setNow(t0.Add(48 * time.Hour))
	_, err = f.svc.Withdraw(context.Background(), WithdrawRequest{ContractID: rec.ID, Secret: secret, Caller: bob})
	require.NoError(t, err)
	assert.Equal(t, uint64(100), f.balance(t, "bob"))
}

func TestWithdraw_AfterDeadlineStillAllowed(t *testing.T) {
	f := newFixture(t)
	rec := f.create(t, 100)

	_, err := f.svc.Withdraw(context.Background(), WithdrawRequest{
		ContractID: rec.ID,
		Secret:     secret,
		Caller:     bob,
		Now:        rec.Timelock.Add(24 * time.Hour),
	})
	require.NoError(t, err)
}

func TestWithdraw_TwiceIsAlreadyFinalized(t *testing.T) {
	f := newFixture(t)
	rec := f.create(t, 100)

	_, err := f.svc.Withdraw(context.Background(), WithdrawRequest{ContractID: rec.ID, Secret: secret, Caller: bob})
	require.NoError(t, err)
	_, err = f.svc.Withdraw(context.Background(), WithdrawRequest{ContractID: rec.ID, Secret: secret, Caller: bob})
	require.ErrorIs(t, err, ErrAlreadyFinalized)
	assert.Equal(t, uint64(100), f.balance(t, "bob"))
}

func TestAuthorization(t *testing.T) {
	f := newFixture(t)
	rec := f.create(t, 100)
	expired := rec.Timelock.Add(time.Hour)

	_, err := f.svc.Withdraw(context.Background(), WithdrawRequest{ContractID: rec.ID, Secret: secret, Caller: mallory})
	assert.ErrorIs(t, err, ErrUnauthorized)
	_, err = f.svc.Withdraw(context.Background(), WithdrawRequest{ContractID: rec.ID, Secret: secret, Caller: alice})
	assert.ErrorIs(t, err, ErrUnauthorized, "depositor cannot withdraw")

	_, err = f.svc.Refund(context.Background(), RefundRequest{ContractID: rec.ID, Caller: bob, Now: expired})
	assert.ErrorIs(t, err, ErrUnauthorized, "receiver cannot refund")
	_, err = f.svc.Refund(context.Background(), RefundRequest{ContractID: rec.ID, Caller: auth.Caller{}, Now: expired})
	assert.ErrorIs(t, err, ErrUnauthorized)

	var unauthorized int
	for _, e := range f.hook.AllEntries() {
		if e.Level == logrus.WarnLevel && e.Message == "transition unauthorized" {
			assert.Equal(t, rec.ID, e.Data["contract_id"])
			unauthorized++
		}
	}
	assert.Equal(t, 4, unauthorized)

	stored, err := f.svc.Get(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusLocked, stored.Status())
}

func TestNewService_EnforcesMinimumBuffer(t *testing.T) {
	req := func(deadline time.Time) CreateRequest {
		return CreateRequest{
			Depositor: "alice",
			Receiver:  "bob",
			Amount:    10,
			Hashlock:  hashlock,
			Timelock:  deadline,
			Caller:    alice,
			Now:       t0,
		}
	}

	t.Run("partial policy keeps three periods", func(t *testing.T) {
		f := newFixture(t)
		svc := NewService(f.store, f.ledger, auth.IdentityAuthorizer{}, Options{Policy: timelock.Policy{Period: time.Hour}})

		_, err := svc.Create(context.Background(), req(t0))
		require.ErrorIs(t, err, ErrTimelockTooSoon)
		_, err = svc.Create(context.Background(), req(t0.Add(3*time.Hour-time.Second)))
		require.ErrorIs(t, err, ErrTimelockTooSoon)
		_, err = svc.Create(context.Background(), req(t0.Add(3*time.Hour)))
		require.NoError(t, err)
	})

	t.Run("short buffer falls back to default", func(t *testing.T) {
		f := newFixture(t)
		logger, hook := logtest.NewNullLogger()
		svc := NewService(f.store, f.ledger, auth.IdentityAuthorizer{}, Options{
			Policy: timelock.Policy{Period: 24 * time.Hour, MinimumPeriods: 1},
			Logger: logger,
		})

		_, err := svc.Create(context.Background(), req(t0))
		require.ErrorIs(t, err, ErrTimelockTooSoon)
		_, err = svc.Create(context.Background(), req(t0.Add(24*time.Hour)))
		require.ErrorIs(t, err, ErrTimelockTooSoon)

		require.NotNil(t, hook.LastEntry())
		assert.Equal(t, "timelock policy rejected, using default", hook.Entries[0].Message)
		assert.Equal(t, uint64(1000), f.balance(t, "alice"))
	})
}

func TestUnknownContract(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = f.svc.Withdraw(ctx, WithdrawRequest{ContractID: "missing", Secret: secret, Caller: bob})
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = f.svc.Refund(ctx, RefundRequest{ContractID: "missing", Caller: alice})
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = f.svc.CustodyBalance(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestWriteOnceFields(t *testing.T) {
	writeOnce := cmpopts.IgnoreFields(Record{}, "RevealedSecret", "Withdrawn", "Refunded", "FinalizedAt")

	f := newFixture(t)
	withdrawn := f.create(t, 100)
	refunded := f.create(t, 200)

	_, err := f.svc.Withdraw(context.Background(), WithdrawRequest{ContractID: withdrawn.ID, Secret: secret, Caller: bob})
	require.NoError(t, err)
	_, err = f.svc.Refund(context.Background(), RefundRequest{ContractID: refunded.ID, Caller: alice, Now: refunded.Timelock})
	require.NoError(t, err)

	for _, want := range []Record{withdrawn, refunded} {
		got, err := f.svc.Get(context.Background(), want.ID)
		require.NoError(t, err)
		if diff := cmp.Diff(want, got, writeOnce); diff != "" {
			t.Fatalf("write-once fields changed (-want +got):\n%s", diff)
		}
		assert.False(t, got.Withdrawn && got.Refunded)
	}
}

func TestConcurrentWithdrawAndRefund_SingleFinalization(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const rounds = 50
	for i := 0; i < rounds; i++ {
		rec := f.create(t, 10)
		expired := rec.Timelock.Add(time.Minute)

		var g errgroup.Group
		var withdrawErr, refundErr error
		g.Go(func() error {
			_, withdrawErr = f.svc.Withdraw(ctx, WithdrawRequest{ContractID: rec.ID, Secret: secret, Caller: bob, Now: expired})
			return nil
		})
		g.Go(func() error {
			_, refundErr = f.svc.Refund(ctx, RefundRequest{ContractID: rec.ID, Caller: alice, Now: expired})
			return nil
		})
		require.NoError(t, g.Wait())

		if (withdrawErr == nil) == (refundErr == nil) {
			t.Fatalf("round %d: expected exactly one winner, withdraw=%v refund=%v", i, withdrawErr, refundErr)
		}
		loser := withdrawErr
		if loser == nil {
			loser = refundErr
		}
		require.ErrorIs(t, loser, ErrAlreadyFinalized)

		got, err := f.svc.Get(ctx, rec.ID)
		require.NoError(t, err)
		assert.True(t, got.Withdrawn != got.Refunded)
		assert.Zero(t, f.balance(t, ledger.CustodyAccount(rec.ID)))
	}

	assert.Equal(t, uint64(1000), f.balance(t, "alice")+f.balance(t, "bob"), "value is conserved")
	finals := len(f.sink.ByTopic(notify.TopicWithdrawn)) + len(f.sink.ByTopic(notify.TopicRefunded))
	assert.Equal(t, rounds, finals, "one terminal event per contract")
}

func TestConservation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	amounts := []uint64{1, 7, 50, 100, 333}
	var records []Record
	for _, a := range amounts {
		records = append(records, f.create(t, a))
	}
	for i, rec := range records {
		if i%2 == 0 {
			_, err := f.svc.Withdraw(ctx, WithdrawRequest{ContractID: rec.ID, Secret: secret, Caller: bob})
			require.NoError(t, err)
			continue
		}
		_, err := f.svc.Refund(ctx, RefundRequest{ContractID: rec.ID, Caller: alice, Now: rec.Timelock})
		require.NoError(t, err)
	}

	assert.Equal(t, uint64(1+50+333), f.balance(t, "bob"))
	assert.Equal(t, uint64(1000-1-50-333), f.balance(t, "alice"))
	for _, rec := range records {
		bal, err := f.svc.CustodyBalance(ctx, rec.ID)
		require.NoError(t, err)
		assert.Zero(t, bal)
	}
}

func TestLedgerFailureLeavesRecordLocked(t *testing.T) {
	f := newFixture(t)
	rec := f.create(t, 100)

	failing := &failingLedger{Ledger: f.ledger, err: errors.New("ledger offline")}
	svc := NewService(f.store, failing, auth.IdentityAuthorizer{}, Options{Sink: f.sink, Clock: timelock.ClockFunc(f.clock)})

	_, err := svc.Withdraw(context.Background(), WithdrawRequest{ContractID: rec.ID, Secret: secret, Caller: bob})
	require.ErrorIs(t, err, failing.err)

	stored, err := f.svc.Get(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusLocked, stored.Status())
	assert.Nil(t, stored.FinalizedAt)
	assert.Empty(t, f.sink.ByTopic(notify.TopicWithdrawn))

	_, err = f.svc.Withdraw(context.Background(), WithdrawRequest{ContractID: rec.ID, Secret: secret, Caller: bob})
	require.NoError(t, err)
}

func TestSinkFailureDoesNotUndoTransition(t *testing.T) {
	f := newFixture(t)
	logger, hook := logtest.NewNullLogger()
	svc := NewService(f.store, f.ledger, auth.IdentityAuthorizer{}, Options{
		Clock:  timelock.ClockFunc(f.clock),
		Sink:   notify.Multi(f.sink, brokenSink{}),
		Logger: logger,
	})

	rec, err := svc.Create(context.Background(), CreateRequest{
		Depositor: "alice",
		Receiver:  "bob",
		Amount:    5,
		Hashlock:  hashlock,
		Timelock:  t0.Add(4 * 24 * time.Hour),
		Caller:    alice,
	})
	require.NoError(t, err)

	stored, err := svc.Get(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusLocked, stored.Status())
	assert.Len(t, f.sink.Events(), 1)

	var warned bool
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel && e.Message == "event publish failed" {
			warned = true
		}
	}
	assert.True(t, warned)
}

func TestList_FiltersByPartyAndStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.create(t, 10)
	f.setNow(t0.Add(time.Minute))
	second := f.create(t, 20)
	_, err := f.svc.Withdraw(ctx, WithdrawRequest{ContractID: first.ID, Secret: secret, Caller: bob})
	require.NoError(t, err)

	all, err := f.svc.List(ctx, ListFilter{Party: "bob"})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, second.ID, all[0].ID, "newest first")

	locked, err := f.svc.List(ctx, ListFilter{Status: StatusLocked})
	require.NoError(t, err)
	require.Len(t, locked, 1)
	assert.Equal(t, second.ID, locked[0].ID)

	none, err := f.svc.List(ctx, ListFilter{Party: "carol"})
	require.NoError(t, err)
	assert.Empty(t, none)
}

type failingLedger struct {
	Ledger
	err error
}

func (l *failingLedger) Transfer(context.Context, string, string, uint64) error {
	return l.err
}

type brokenSink struct{}

func (brokenSink) Publish(context.Context, notify.Event) error {
	return errors.New("sink unavailable")
}
