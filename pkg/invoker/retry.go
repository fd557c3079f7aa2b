package invoker

import "time"

// Tier names the wait class applied between retry attempts. The tiers order
// failure modes by how long the gateway typically needs to recover.
type Tier int

const (
	// TierNone retries immediately.
	TierNone Tier = iota

	// TierFree covers transient slowness such as a timed-out call.
	TierFree

	// TierStable covers contention the gateway resolves on its own, such
	// as a database deadlock.
	TierStable

	// TierUnstable covers a gateway that answered but declared itself
	// unavailable.
	TierUnstable

	// TierBreakdown covers a gateway that could not be reached at all.
	TierBreakdown
)

// String returns the tier name.
func (t Tier) String() string {
	switch t {
	case TierNone:
		return "none"
	case TierFree:
		return "free"
	case TierStable:
		return "stable"
	case TierUnstable:
		return "unstable"
	case TierBreakdown:
		return "breakdown"
	default:
		return "unknown"
	}
}

// Config controls the retry loop.
type Config struct {
	// MaxRetries is the number of attempts made after the first one.
	MaxRetries int

	// Per-tier wait durations.
	FreeDelay      time.Duration
	StableDelay    time.Duration
	UnstableDelay  time.Duration
	BreakdownDelay time.Duration
}

// DefaultConfig returns the production retry settings.
func DefaultConfig() Config {
	return Config{
		MaxRetries:     3,
		FreeDelay:      10 * time.Second,
		StableDelay:    15 * time.Second,
		UnstableDelay:  30 * time.Second,
		BreakdownDelay: 90 * time.Second,
	}
}

// Delay returns the wait duration for a tier.
func (c Config) Delay(t Tier) time.Duration {
	switch t {
	case TierFree:
		return c.FreeDelay
	case TierStable:
		return c.StableDelay
	case TierUnstable:
		return c.UnstableDelay
	case TierBreakdown:
		return c.BreakdownDelay
	default:
		return 0
	}
}
