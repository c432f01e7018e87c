// Package probe measures where a remote endpoint starts rate limiting,
// blocking or challenging a client. A Runner issues one attempt at a time,
// classifies each response and stops on the first captcha or block.
package probe

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/lukemcguire/throttleprobe/result"
)

// Config holds the parameters of one run.
type Config struct {
	Phase       string   // Label for logs and events, e.g. "job" or "direct"
	Account     string   // Account name for logs and events
	MaxRequests int      // Upper bound on attempts
	Targets     []string // Candidate resources, one chosen at random per attempt
	Pacing      Pacing
}

// Outcome is the product of a finished run.
type Outcome struct {
	Phase   string
	Account string
	Trace   *result.Trace
	Stop    StopReason
}

// Runner executes the attempt loop for one account and one probe variant.
// A Runner is single use: each Run starts a fresh trace.
type Runner struct {
	cfg        Config
	attempter  Attempter
	rng        Rand
	sleep      Sleeper
	logger     *zap.Logger
	progressCh chan<- ProbeEvent
}

// Option customizes a Runner.
type Option func(*Runner)

// WithRand sets the random source for target selection and jitter.
func WithRand(rng Rand) Option { return func(r *Runner) { r.rng = rng } }

// WithSleeper replaces the delay function used between attempts.
func WithSleeper(s Sleeper) Option { return func(r *Runner) { r.sleep = s } }

// WithLogger sets the structured logger.
func WithLogger(l *zap.Logger) Option { return func(r *Runner) { r.logger = l } }

// WithProgress sends a ProbeEvent before and after every attempt.
// The channel is not closed by the runner.
func WithProgress(ch chan<- ProbeEvent) Option { return func(r *Runner) { r.progressCh = ch } }

// ErrNoTargets is returned by NewRunner when the candidate set is empty.
var ErrNoTargets = errors.New("no candidate targets")

// NewRunner validates cfg and creates a Runner.
func NewRunner(cfg Config, attempter Attempter, opts ...Option) (*Runner, error) {
	if cfg.MaxRequests <= 0 {
		return nil, fmt.Errorf("max requests must be positive, got %d", cfg.MaxRequests)
	}
	if len(cfg.Targets) == 0 {
		return nil, ErrNoTargets
	}
	if attempter == nil {
		return nil, errors.New("nil attempter")
	}
	cfg.Targets = append([]string(nil), cfg.Targets...)

	r := &Runner{
		cfg:       cfg,
		attempter: attempter,
		sleep:     SleepContext,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.rng == nil {
		r.rng = NewRand(uint64(time.Now().UnixNano()))
	}
	if r.logger == nil {
		r.logger = zap.NewNop()
	}
	if r.sleep == nil {
		r.sleep = SleepContext
	}
	r.logger = r.logger.With(zap.String("phase", cfg.Phase), zap.String("account", cfg.Account))
	return r, nil
}

// Run performs up to MaxRequests attempts. Cancelling ctx ends the run
// with StopCancelled and keeps the records gathered so far.
func (r *Runner) Run(ctx context.Context) Outcome {
	trace := &result.Trace{}
	out := Outcome{Phase: r.cfg.Phase, Account: r.cfg.Account, Trace: trace}

	r.logger.Info("probe_start",
		zap.Int("max_requests", r.cfg.MaxRequests),
		zap.Int("targets", len(r.cfg.Targets)),
	)

	out.Stop = r.loop(ctx, trace)

	r.logger.Info("probe_stop",
		zap.String("reason", string(out.Stop)),
		zap.Int("attempts", trace.Len()),
	)
	r.emit(ctx, ProbeEvent{Attempt: trace.Len(), Stop: out.Stop})
	return out
}

func (r *Runner) loop(ctx context.Context, trace *result.Trace) StopReason {
	for i := 1; i <= r.cfg.MaxRequests; i++ {
		if ctx.Err() != nil {
			return StopCancelled
		}

		target := r.cfg.Targets[r.rng.IntN(len(r.cfg.Targets))]
		r.emit(ctx, ProbeEvent{Attempt: i, Target: target})

		rec := r.attempter.Attempt(ctx, target)
		rec.RequestNumber = i
		if rec.Timestamp.IsZero() {
			rec.Timestamp = time.Now()
		}
		if err := trace.Append(rec); err != nil {
			// Unreachable while the loop owns numbering.
			r.logger.Error("trace_append", zap.Error(err))
			return StopCancelled
		}

		stop, wait := r.policy(rec, i)
		r.logger.Info("probe_attempt",
			zap.Int("request", i),
			zap.String("target", target),
			zap.Bool("success", rec.Success),
			zap.Int("status", rec.ResponseCode),
			zap.Duration("response_time", rec.ResponseTime),
			zap.String("error_type", string(rec.ErrorType)),
			zap.Duration("wait", wait),
		)
		r.emit(ctx, ProbeEvent{Attempt: i, Target: target, Result: &rec, Wait: wait})

		if stop != "" {
			return stop
		}
		if rec.RateLimited {
			r.logger.Warn("rate_limited_cooldown", zap.Int("request", i), zap.Duration("cooldown", wait))
		}
		if err := r.sleep(ctx, wait); err != nil {
			return StopCancelled
		}
	}
	return StopExhausted
}

// policy applies the stop rules in precedence order: captcha, block, then
// budget. A rate-limited record continues after the cooldown.
func (r *Runner) policy(rec result.TestResult, i int) (StopReason, time.Duration) {
	switch {
	case rec.HardStop():
		if rec.CaptchaDetected {
			return StopCaptcha, 0
		}
		return StopBlocked, 0
	case i == r.cfg.MaxRequests:
		return StopExhausted, 0
	case rec.RateLimited:
		return "", r.cfg.Pacing.Cooldown
	default:
		return "", r.cfg.Pacing.Jitter(r.rng)
	}
}

func (r *Runner) emit(ctx context.Context, evt ProbeEvent) {
	if r.progressCh == nil {
		return
	}
	evt.Phase = r.cfg.Phase
	evt.Account = r.cfg.Account
	evt.MaxRequests = r.cfg.MaxRequests
	select {
	case r.progressCh <- evt:
	case <-ctx.Done():
	}
}
