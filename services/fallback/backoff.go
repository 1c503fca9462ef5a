package fallback

import (
	"context"
	"fmt"
	"math"
	"time"
)

// Backoff is the delay schedule between transient retries on one candidate.
type Backoff struct {
	// Initial is the wait before the second attempt and the floor for every wait
	Initial time.Duration

	// Max caps every wait, including provider retry hints
	Max time.Duration

	// Multiplier grows the wait between consecutive attempts (>= 1)
	Multiplier float64
}

// DefaultBackoff returns the provider-respectful default schedule.
func DefaultBackoff() Backoff {
	return Backoff{
		Initial:    2 * time.Second,
		Max:        30 * time.Second,
		Multiplier: 2.0,
	}
}

// Validate checks that the schedule can only produce non-decreasing waits.
func (b Backoff) Validate() error {
	if b.Initial <= 0 {
		return fmt.Errorf("backoff initial delay must be positive, got %s", b.Initial)
	}
	if b.Multiplier < 1 {
		return fmt.Errorf("backoff multiplier must be >= 1, got %g", b.Multiplier)
	}
	if b.Max < b.Initial {
		return fmt.Errorf("backoff max delay %s is below initial delay %s", b.Max, b.Initial)
	}
	return nil
}

// Delay returns the wait before the given attempt (2 or later). The result is
// never below previous, so waits on one candidate never shrink even when a
// provider hint pushes one of them up.
func (b Backoff) Delay(attempt int, previous, hint time.Duration) time.Duration {
	if attempt < 2 {
		return 0
	}

	delay := float64(b.Initial) * math.Pow(b.Multiplier, float64(attempt-2))
	if delay > float64(b.Max) {
		delay = float64(b.Max)
	}

	wait := time.Duration(delay)
	if previous > wait {
		wait = previous
	}
	if hint > wait {
		wait = hint
	}
	if wait > b.Max {
		wait = b.Max
	}
	return wait
}

// sleepFunc blocks for d or until ctx is done.
type sleepFunc func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
