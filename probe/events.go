package probe

import (
	"time"

	"github.com/lukemcguire/throttleprobe/result"
)

// StopReason records why a run ended.
type StopReason string

const (
	StopExhausted StopReason = "exhausted" // maxRequests reached
	StopCaptcha   StopReason = "captcha"   // hard stop on a challenge
	StopBlocked   StopReason = "blocked"   // hard stop on a block
	StopCancelled StopReason = "cancelled" // context cancelled
)

// ProbeEvent reports progress for one attempt of a run.
type ProbeEvent struct {
	Phase       string
	Account     string
	Attempt     int
	MaxRequests int
	Target      string
	Result      *result.TestResult // Nil while the attempt is in flight
	Wait        time.Duration      // Delay before the next attempt
	Stop        StopReason         // Set on the final event of a run
}
