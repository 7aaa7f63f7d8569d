package timelock

import (
	"errors"
	"testing"
	"time"
)

var base = time.Date(2024, 10, 31, 12, 0, 0, 0, time.UTC)

func TestIsExpired(t *testing.T) {
	deadline := base.Add(time.Hour)

	cases := []struct {
		name string
		now  time.Time
		want bool
	}{
		{"before", deadline.Add(-time.Nanosecond), false},
		{"one second before", deadline.Add(-time.Second), false},
		{"exactly at deadline", deadline, true},
		{"after", deadline.Add(time.Second), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsExpired(deadline, tc.now); got != tc.want {
				t.Fatalf("IsExpired(%s, %s) = %v, want %v", deadline, tc.now, got, tc.want)
			}
		})
	}
}

func TestIsSufficientlyFuture(t *testing.T) {
	buffer := 72 * time.Hour
	if !IsSufficientlyFuture(base.Add(buffer), base, buffer) {
		t.Fatalf("deadline exactly at buffer should be accepted")
	}
	if IsSufficientlyFuture(base.Add(buffer-time.Second), base, buffer) {
		t.Fatalf("deadline inside buffer should be rejected")
	}
	if IsSufficientlyFuture(base.Add(-time.Hour), base, 0) {
		t.Fatalf("past deadline should be rejected even with zero buffer")
	}
}

func TestPolicy_Check(t *testing.T) {
	p := DefaultPolicy()
	if got := p.MinimumBuffer(); got != 72*time.Hour {
		t.Fatalf("expected 72h buffer, got %s", got)
	}

	if err := p.Check(base.Add(4*24*time.Hour), base); err != nil {
		t.Fatalf("four days out: unexpected error %v", err)
	}
	if err := p.Check(base.Add(3*24*time.Hour), base); err != nil {
		t.Fatalf("three days out: unexpected error %v", err)
	}

	err := p.Check(base.Add(2*24*time.Hour), base)
	if !errors.Is(err, ErrTooSoon) {
		t.Fatalf("two days out: expected ErrTooSoon, got %v", err)
	}
}

func TestPolicy_Validate(t *testing.T) {
	if err := DefaultPolicy().Validate(); err != nil {
		t.Fatalf("default policy invalid: %v", err)
	}
	if err := (Policy{Period: 0, MinimumPeriods: 3}).Validate(); err == nil {
		t.Fatalf("expected zero period to be rejected")
	}
	if err := (Policy{Period: time.Hour, MinimumPeriods: -1}).Validate(); err == nil {
		t.Fatalf("expected negative periods to be rejected")
	}
	for _, periods := range []int{0, 1, 2} {
		if err := (Policy{Period: DefaultPeriod, MinimumPeriods: periods}).Validate(); err == nil {
			t.Fatalf("expected %d periods to be rejected", periods)
		}
	}
	if err := (Policy{Period: time.Hour, MinimumPeriods: 6}).Validate(); err != nil {
		t.Fatalf("longer buffer should be accepted: %v", err)
	}
}

func TestPolicy_WithDefaults(t *testing.T) {
	if got := (Policy{}).WithDefaults(); got != DefaultPolicy() {
		t.Fatalf("zero policy: got %+v", got)
	}
	got := Policy{Period: time.Hour}.WithDefaults()
	if got.MinimumPeriods != DefaultMinimumPeriods || got.Period != time.Hour {
		t.Fatalf("partial policy: got %+v", got)
	}
	if got.MinimumBuffer() != 3*time.Hour {
		t.Fatalf("expected 3h buffer, got %s", got.MinimumBuffer())
	}
}

func TestRemaining(t *testing.T) {
	deadline := base.Add(90 * time.Minute)
	if got := Remaining(deadline, base); got != 90*time.Minute {
		t.Fatalf("expected 90m, got %s", got)
	}
	if got := Remaining(deadline, deadline.Add(time.Minute)); got != 0 {
		t.Fatalf("expected 0 after expiry, got %s", got)
	}
}

func TestClockFunc(t *testing.T) {
	var c Clock = ClockFunc(func() time.Time { return base })
	if !c.Now().Equal(base) {
		t.Fatalf("expected %s, got %s", base, c.Now())
	}
	if (SystemClock{}).Now().Location() != time.UTC {
		t.Fatalf("system clock should report UTC")
	}
}
