package supervisor

import (
	"math"
	"math/rand/v2"
	"time"
)

// Retryer decides how long to wait before restarting a failed session.
type Retryer interface {
	// NextDelay returns the wait before restart number attempt, counted
	// from 0, and false once no further restart should be made.
	NextDelay(attempt int, lastErr error) (time.Duration, bool)

	// Reset is called after a session ran long enough to count as healthy.
	Reset()
}

// ExponentialBackoffRetryer doubles the delay on every restart, with jitter
// so that many relays restarting together do not hit the mirror at once.
type ExponentialBackoffRetryer struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	// MaxRetries of 0 restarts forever.
	MaxRetries int
	Jitter     bool
	// JitterFactor is the largest jitter as a fraction of the delay.
	JitterFactor float64
}

// NewExponentialBackoffRetryer returns a retryer starting at one second,
// capped at thirty, retrying forever.
func NewExponentialBackoffRetryer() *ExponentialBackoffRetryer {
	return &ExponentialBackoffRetryer{
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2,
		Jitter:       true,
		JitterFactor: 0.3,
	}
}

func (r *ExponentialBackoffRetryer) NextDelay(attempt int, _ error) (time.Duration, bool) {
	if r.MaxRetries > 0 && attempt >= r.MaxRetries {
		return 0, false
	}

	delay := math.Min(
		float64(r.InitialDelay)*math.Pow(r.Multiplier, float64(attempt)),
		float64(r.MaxDelay),
	)
	if r.Jitter && r.JitterFactor > 0 {
		//nolint:gosec // jitter is not security sensitive
		delay += delay * r.JitterFactor * (2*rand.Float64() - 1)
		if delay < 0 {
			delay = float64(r.InitialDelay)
		}
	}
	return time.Duration(delay), true
}

// Reset is a no-op; the delay depends only on the attempt number.
func (r *ExponentialBackoffRetryer) Reset() {}

// FixedDelayRetryer waits the same time before every restart.
type FixedDelayRetryer struct {
	Delay time.Duration
	// MaxRetries of 0 restarts forever.
	MaxRetries int
}

func NewFixedDelayRetryer(delay time.Duration, maxRetries int) *FixedDelayRetryer {
	return &FixedDelayRetryer{Delay: delay, MaxRetries: maxRetries}
}

func (r *FixedDelayRetryer) NextDelay(attempt int, _ error) (time.Duration, bool) {
	if r.MaxRetries > 0 && attempt >= r.MaxRetries {
		return 0, false
	}
	return r.Delay, true
}

func (r *FixedDelayRetryer) Reset() {}
