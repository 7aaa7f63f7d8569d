// Package timelock evaluates HTLC deadlines. Deadlines are absolute
// timestamps; a contract's timelock is never interpreted relative to its
// creation time.
package timelock

import (
	"errors"
	"fmt"
	"time"
)

// ErrTooSoon is returned when a candidate deadline falls inside the minimum buffer.
var ErrTooSoon = errors.New("timelock: deadline too soon")

const (
	DefaultPeriod         = 24 * time.Hour
	DefaultMinimumPeriods = 3
)

// Policy defines how far in the future a new contract's deadline must be.
type Policy struct {
	Period         time.Duration
	MinimumPeriods int
}

func DefaultPolicy() Policy {
	return Policy{Period: DefaultPeriod, MinimumPeriods: DefaultMinimumPeriods}
}

// MinimumBuffer is the smallest allowed distance between now and a new deadline.
func (p Policy) MinimumBuffer() time.Duration {
	return p.Period * time.Duration(p.MinimumPeriods)
}

// Validate rejects policies whose buffer is shorter than DefaultMinimumPeriods
// periods. Operators may lengthen the buffer, never shorten it.
func (p Policy) Validate() error {
	if p.Period <= 0 {
		return fmt.Errorf("timelock: period must be positive, got %s", p.Period)
	}
	if p.MinimumPeriods < DefaultMinimumPeriods {
		return fmt.Errorf("timelock: minimum periods must be at least %d, got %d", DefaultMinimumPeriods, p.MinimumPeriods)
	}
	return nil
}

// WithDefaults fills zero fields from DefaultPolicy.
func (p Policy) WithDefaults() Policy {
	if p.Period == 0 {
		p.Period = DefaultPeriod
	}
	if p.MinimumPeriods == 0 {
		p.MinimumPeriods = DefaultMinimumPeriods
	}
	return p
}

// Check returns ErrTooSoon unless candidate is at least MinimumBuffer after now.
func (p Policy) Check(candidate, now time.Time) error {
	if !IsSufficientlyFuture(candidate, now, p.MinimumBuffer()) {
		return fmt.Errorf("%w: %s is less than %s after %s",
			ErrTooSoon, candidate.UTC().Format(time.RFC3339), p.MinimumBuffer(), now.UTC().Format(time.RFC3339))
	}
	return nil
}

// IsExpired reports whether the deadline has been reached (now >= timelock).
func IsExpired(timelock, now time.Time) bool {
	return !now.Before(timelock)
}

// IsSufficientlyFuture reports whether candidate >= now + minimumBuffer.
func IsSufficientlyFuture(candidate, now time.Time, minimumBuffer time.Duration) bool {
	return !candidate.Before(now.Add(minimumBuffer))
}

// Remaining returns the time left until the deadline, or zero once expired.
func Remaining(timelock, now time.Time) time.Duration {
	if IsExpired(timelock, now) {
		return 0
	}
	return timelock.Sub(now)
}

// Clock supplies the current time to the state machine.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock in UTC.
type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time {
	return f()
}
