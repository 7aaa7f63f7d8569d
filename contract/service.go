// Package contract implements the hash-time-locked custody state machine.
// A contract locks a depositor's value until either the receiver reveals the
// preimage of its hashlock or the timelock passes and the depositor reclaims
// it. Exactly one of the two outcomes can ever happen.
package contract

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"htlcflow/auth"
	"htlcflow/commitment"
	"htlcflow/ledger"
	"htlcflow/notify"
	"htlcflow/timelock"
)

// Authorizer decides whether caller may act as the claimed party.
type Authorizer interface {
	Authorize(ctx context.Context, caller auth.Caller, claimedIdentity string) (bool, error)
}

// Ledger is the value-movement port the service depends on.
type Ledger interface {
	Transfer(ctx context.Context, from, to string, amount uint64) error
	BalanceOf(ctx context.Context, account string) (uint64, error)
}

// Options tunes a Service. Zero values select the defaults.
type Options struct {
	Scheme commitment.Scheme
	Policy timelock.Policy
	Clock  timelock.Clock
	Sink   notify.Sink
	Logger logrus.FieldLogger
	NewID  func() string
}

type Service struct {
	store  Store
	ledger Ledger
	authz  Authorizer
	scheme commitment.Scheme
	policy timelock.Policy
	clock  timelock.Clock
	sink   notify.Sink
	log    logrus.FieldLogger
	newID  func() string
}

func NewService(store Store, gateway Ledger, authz Authorizer, opts Options) *Service {
	s := &Service{
		store:  store,
		ledger: gateway,
		authz:  authz,
		scheme: opts.Scheme,
		policy: opts.Policy,
		clock:  opts.Clock,
		sink:   opts.Sink,
		log:    opts.Logger,
		newID:  opts.NewID,
	}
	if s.scheme.Name() == "" {
		s.scheme = commitment.SHA256
	}
	if s.clock == nil {
		s.clock = timelock.SystemClock{}
	}
	if s.sink == nil {
		s.sink = notify.Discard
	}
	if s.log == nil {
		s.log = logrus.StandardLogger()
	}
	s.policy = s.policy.WithDefaults()
	if err := s.policy.Validate(); err != nil {
		s.log.WithError(err).Warn("timelock policy rejected, using default")
		s.policy = timelock.DefaultPolicy()
	}
	if s.newID == nil {
		s.newID = uuid.NewString
	}
	return s
}

// Scheme returns the commitment scheme hashlocks are verified with.
func (s *Service) Scheme() commitment.Scheme {
	return s.scheme
}

// Create locks req.Amount of the depositor's funds in a new contract.
func (s *Service) Create(ctx context.Context, req CreateRequest) (Record, error) {
	now := s.now(req.Now)

	if req.Amount == 0 {
		return Record{}, ErrInvalidAmount
	}
	if req.Depositor == "" || req.Receiver == "" {
		return Record{}, ErrInvalidParty
	}
	if req.Hashlock.IsZero() {
		return Record{}, ErrInvalidHashlock
	}
	if err := s.policy.Check(req.Timelock, now); err != nil {
		return Record{}, err
	}
	if err := s.authorize(ctx, req.Caller, req.Depositor); err != nil {
		return Record{}, err
	}

	rec := Record{
		ID:        s.newID(),
		Depositor: req.Depositor,
		Receiver:  req.Receiver,
		Amount:    req.Amount,
		Hashlock:  req.Hashlock,
		Timelock:  truncate(req.Timelock),
		CreatedAt: now,
	}

	var ev notify.Event
	err := s.store.Create(ctx, rec, func(ctx context.Context, r *Record) (notify.Event, error) {
		if err := s.ledger.Transfer(ctx, r.Depositor, ledger.CustodyAccount(r.ID), r.Amount); err != nil {
			return notify.Event{}, fmt.Errorf("contract: lock funds: %w", err)
		}
		ev = createdEvent(*r)
		return ev, nil
	})
	if err != nil {
		return Record{}, err
	}

	s.log.WithFields(logrus.Fields{
		"contract_id": rec.ID,
		"depositor":   rec.Depositor,
		"receiver":    rec.Receiver,
		"amount":      rec.Amount,
		"timelock":    rec.Timelock,
	}).Info("contract created")
	s.publish(ctx, ev)
	return rec, nil
}

// Withdraw releases a locked contract to its receiver against the secret.
// It is not gated by the timelock: a withdrawal after expiry succeeds as long
// as no refund happened first.
func (s *Service) Withdraw(ctx context.Context, req WithdrawRequest) (Record, error) {
	now := s.now(req.Now)

	current, err := s.store.Get(ctx, req.ContractID)
	if err != nil {
		return Record{}, err
	}
	if err := s.authorize(ctx, req.Caller, current.Receiver); err != nil {
		s.logRejected(req.ContractID, "withdraw", err)
		return Record{}, err
	}

	secret := append([]byte{}, req.Secret...)

	var ev notify.Event
	rec, err := s.store.Update(ctx, req.ContractID, func(ctx context.Context, r *Record) (notify.Event, error) {
		if r.Terminal() {
			return notify.Event{}, fmt.Errorf("%w: %s", ErrAlreadyFinalized, r.Status())
		}
		if !s.scheme.Verify(secret, r.Hashlock) {
			return notify.Event{}, ErrHashlockMismatch
		}
		if err := s.ledger.Transfer(ctx, ledger.CustodyAccount(r.ID), r.Receiver, r.Amount); err != nil {
			return notify.Event{}, fmt.Errorf("contract: release funds: %w", err)
		}
		r.Withdrawn = true
		r.RevealedSecret = secret
		r.FinalizedAt = &now
		ev = withdrawnEvent(*r)
		return ev, nil
	})
	if err != nil {
		s.logRejected(req.ContractID, "withdraw", err)
		return Record{}, err
	}

	s.log.WithFields(logrus.Fields{
		"contract_id": rec.ID,
		"receiver":    rec.Receiver,
		"amount":      rec.Amount,
	}).Info("contract withdrawn")
	s.publish(ctx, ev)
	return rec, nil
}

// Refund returns an expired, still-locked contract to its depositor.
func (s *Service) Refund(ctx context.Context, req RefundRequest) (Record, error) {
	now := s.now(req.Now)

	current, err := s.store.Get(ctx, req.ContractID)
	if err != nil {
		return Record{}, err
	}
	if err := s.authorize(ctx, req.Caller, current.Depositor); err != nil {
		s.logRejected(req.ContractID, "refund", err)
		return Record{}, err
	}

	var ev notify.Event
	rec, err := s.store.Update(ctx, req.ContractID, func(ctx context.Context, r *Record) (notify.Event, error) {
		if r.Terminal() {
			return notify.Event{}, fmt.Errorf("%w: %s", ErrAlreadyFinalized, r.Status())
		}
		if !timelock.IsExpired(r.Timelock, now) {
			return notify.Event{}, fmt.Errorf("%w: %s remaining", ErrNotYetExpired, timelock.Remaining(r.Timelock, now))
		}
		if err := s.ledger.Transfer(ctx, ledger.CustodyAccount(r.ID), r.Depositor, r.Amount); err != nil {
			return notify.Event{}, fmt.Errorf("contract: return funds: %w", err)
		}
		r.Refunded = true
		r.FinalizedAt = &now
		ev = refundedEvent(*r)
		return ev, nil
	})
	if err != nil {
		s.logRejected(req.ContractID, "refund", err)
		return Record{}, err
	}

	s.log.WithFields(logrus.Fields{
		"contract_id": rec.ID,
		"depositor":   rec.Depositor,
		"amount":      rec.Amount,
	}).Info("contract refunded")
	s.publish(ctx, ev)
	return rec, nil
}

// Get returns the committed record. Reads never change state.
func (s *Service) Get(ctx context.Context, id string) (Record, error) {
	return s.store.Get(ctx, id)
}

func (s *Service) List(ctx context.Context, filter ListFilter) ([]Record, error) {
	return s.store.List(ctx, filter)
}

// CustodyBalance reports the value currently held for contract id.
func (s *Service) CustodyBalance(ctx context.Context, id string) (uint64, error) {
	if _, err := s.store.Get(ctx, id); err != nil {
		return 0, err
	}
	return s.ledger.BalanceOf(ctx, ledger.CustodyAccount(id))
}

func (s *Service) authorize(ctx context.Context, caller auth.Caller, party string) error {
	ok, err := s.authz.Authorize(ctx, caller, party)
	if err != nil {
		return fmt.Errorf("contract: authorize: %w", err)
	}
	if !ok {
		return ErrUnauthorized
	}
	return nil
}

func (s *Service) now(requested time.Time) time.Time {
	if requested.IsZero() {
		requested = s.clock.Now()
	}
	return truncate(requested)
}

// publish hands ev to the sink after commit. Delivery failures never undo a
// committed transition.
func (s *Service) publish(ctx context.Context, ev notify.Event) {
	if ev.Topic == "" {
		return
	}
	if err := s.sink.Publish(ctx, ev); err != nil {
		s.log.WithError(err).WithFields(logrus.Fields{
			"topic":       ev.Topic,
			"contract_id": ev.ContractID,
		}).Warn("event publish failed")
	}
}

func (s *Service) logRejected(id, op string, err error) {
	entry := s.log.WithFields(logrus.Fields{"contract_id": id, "op": op}).WithError(err)
	switch {
	case errors.Is(err, ErrAlreadyFinalized), errors.Is(err, ErrHashlockMismatch), errors.Is(err, ErrNotYetExpired):
		entry.Debug("transition rejected")
	case errors.Is(err, ErrUnauthorized):
		entry.Warn("transition unauthorized")
	default:
		entry.Warn("transition failed")
	}
}
