package probe

import (
	"context"
	"math/rand/v2"
	"time"
)

// Rand is the random source used for target selection and jitter.
// *rand.Rand from math/rand/v2 satisfies it.
type Rand interface {
	IntN(n int) int
	Float64() float64
}

// NewRand returns a seeded PCG source. Equal seeds give equal sequences.
func NewRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// SleepContext is the default Sleeper.
func SleepContext(ctx context.Context, d time.Duration) error {
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

// Pacing controls the delays between attempts.
type Pacing struct {
	Cooldown  time.Duration // Fixed wait after a rate-limited attempt
	JitterMin time.Duration // Lower bound of the random inter-attempt delay
	JitterMax time.Duration // Upper bound of the random inter-attempt delay
}

// JobAPIPacing returns the defaults for the job API: 60s cooldown, 1-5s jitter.
func JobAPIPacing() Pacing {
	return Pacing{Cooldown: 60 * time.Second, JitterMin: time.Second, JitterMax: 5 * time.Second}
}

// DirectPacing returns the defaults for the direct endpoint: 60s cooldown, 2-8s jitter.
func DirectPacing() Pacing {
	return Pacing{Cooldown: 60 * time.Second, JitterMin: 2 * time.Second, JitterMax: 8 * time.Second}
}

// Jitter draws a delay uniformly from [JitterMin, JitterMax).
func (p Pacing) Jitter(rng Rand) time.Duration {
	if p.JitterMax <= p.JitterMin {
		return p.JitterMin
	}
	span := float64(p.JitterMax - p.JitterMin)
	return p.JitterMin + time.Duration(rng.Float64()*span)
}
