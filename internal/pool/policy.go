package pool

import (
	"time"
)

// Policy computes the cooldown applied after a failed outcome and the minimum
// spacing between uses of the same key. The two built-in policies are never
// combined: exponential backoff assumes per-key defects and needs no reuse
// interval, the fixed penalty assumes provider-side throttling and spaces out
// reuse instead.
type Policy interface {
	Name() string
	// Cooldown returns the penalty duration given the consecutive failure
	// count after the failure being recorded.
	Cooldown(failures int) time.Duration
	// ReuseInterval returns the minimum spacing between selections of the
	// same key. Zero disables the check.
	ReuseInterval() time.Duration
}

// ExponentialPolicy doubles the penalty with every consecutive failure,
// capped at Cap: min(Cap, Base * 2^failures).
type ExponentialPolicy struct {
	Base time.Duration
	Cap  time.Duration
}

// DefaultExponential mirrors the production defaults: 5 minute base penalty
// capped at one hour.
func DefaultExponential() ExponentialPolicy {
	return ExponentialPolicy{Base: 5 * time.Minute, Cap: time.Hour}
}

// Name implements Policy.
func (p ExponentialPolicy) Name() string { return "exponential" }

// Cooldown implements Policy.
func (p ExponentialPolicy) Cooldown(failures int) time.Duration {
	if failures < 0 {
		failures = 0
	}
	// Guard the shift against overflow; anything past 2^30 is over any
	// sane cap already.
	if failures > 30 {
		return p.Cap
	}
	d := p.Base << uint(failures)
	if d <= 0 || d > p.Cap {
		return p.Cap
	}
	return d
}

// ReuseInterval implements Policy.
func (p ExponentialPolicy) ReuseInterval() time.Duration { return 0 }

// FixedPolicy applies a flat penalty regardless of the failure count and
// spaces consecutive uses of the same key by Interval.
type FixedPolicy struct {
	Penalty  time.Duration
	Interval time.Duration
}

// DefaultFixed mirrors the throttling-oriented defaults: 6 hour penalty and
// a 6 second same-key reuse interval.
func DefaultFixed() FixedPolicy {
	return FixedPolicy{Penalty: 6 * time.Hour, Interval: 6 * time.Second}
}

// Name implements Policy.
func (p FixedPolicy) Name() string { return "fixed" }

// Cooldown implements Policy.
func (p FixedPolicy) Cooldown(_ int) time.Duration { return p.Penalty }

// ReuseInterval implements Policy.
func (p FixedPolicy) ReuseInterval() time.Duration { return p.Interval }
