package probe

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/lukemcguire/throttleprobe/result"
)

// scriptedAttempter returns canned records by attempt order. Attempts past
// the script succeed.
type scriptedAttempter struct {
	mu      sync.Mutex
	script  map[int]result.TestResult
	calls   int
	targets []string
}

func (s *scriptedAttempter) Attempt(ctx context.Context, target string) result.TestResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.targets = append(s.targets, target)
	if rec, ok := s.script[s.calls]; ok {
		return rec
	}
	return result.TestResult{Success: true, ResponseCode: 201, ResponseTime: time.Second, DataType: result.DataTypeInstagram}
}

func testPacing() Pacing {
	return Pacing{Cooldown: 60 * time.Second, JitterMin: time.Second, JitterMax: 5 * time.Second}
}

func newTestRunner(t *testing.T, max int, a Attempter, clock *fakeClock, opts ...Option) *Runner {
	t.Helper()
	opts = append([]Option{WithRand(NewRand(1)), WithSleeper(clock.Sleep)}, opts...)
	r, err := NewRunner(Config{
		Phase:       "job",
		Account:     "primary",
		MaxRequests: max,
		Targets:     []string{"https://a.example/p/1/", "https://a.example/p/2/", "https://a.example/p/3/"},
		Pacing:      testPacing(),
	}, a, opts...)
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}
	return r
}

func assertNumbered(t *testing.T, trace *result.Trace) {
	t.Helper()
	for i, rec := range trace.Results() {
		if rec.RequestNumber != i+1 {
			t.Errorf("record %d has RequestNumber %d", i, rec.RequestNumber)
		}
	}
}

func TestRunner_AllSucceed(t *testing.T) {
	clock := newFakeClock()
	a := &scriptedAttempter{}
	out := newTestRunner(t, 5, a, clock).Run(context.Background())

	if out.Trace.Len() != 5 {
		t.Fatalf("trace length = %d, want 5", out.Trace.Len())
	}
	for _, rec := range out.Trace.Results() {
		if !rec.Success {
			t.Errorf("record %d not successful", rec.RequestNumber)
		}
	}
	assertNumbered(t, out.Trace)
	if out.Stop != StopExhausted {
		t.Errorf("Stop = %q, want exhausted", out.Stop)
	}

	// Four jitter waits between five attempts, none after the last.
	slept := clock.Slept()
	if len(slept) != 4 {
		t.Fatalf("sleeps = %v, want 4", slept)
	}
	for _, d := range slept {
		if d < time.Second || d >= 5*time.Second {
			t.Errorf("jitter %v outside [1s, 5s)", d)
		}
	}
}

func TestRunner_RateLimitCoolsDownAndContinues(t *testing.T) {
	clock := newFakeClock()
	a := &scriptedAttempter{script: map[int]result.TestResult{
		3: {ResponseCode: 429, RateLimited: true, ErrorType: result.ErrRateLimited},
	}}
	out := newTestRunner(t, 5, a, clock).Run(context.Background())

	if out.Trace.Len() != 5 {
		t.Fatalf("trace length = %d, want 5", out.Trace.Len())
	}
	rec := out.Trace.Results()[2]
	if !rec.RateLimited || rec.RequestNumber != 3 {
		t.Errorf("record 3 = %+v", rec)
	}
	if slept := clock.Slept(); slept[2] != 60*time.Second {
		t.Errorf("wait after attempt 3 = %v, want 60s cooldown", slept[2])
	}
}

func TestRunner_HardStops(t *testing.T) {
	testCases := []struct {
		name     string
		at       int
		rec      result.TestResult
		wantLen  int
		wantStop StopReason
	}{
		{
			name:     "blocked on attempt 2",
			at:       2,
			rec:      result.TestResult{ResponseCode: 403, Blocked: true, ErrorType: result.ErrBlocked},
			wantLen:  2,
			wantStop: StopBlocked,
		},
		{
			name:     "captcha on attempt 1",
			at:       1,
			rec:      result.TestResult{ResponseCode: 200, CaptchaDetected: true, ErrorType: result.ErrCaptchaOrChallenge},
			wantLen:  1,
			wantStop: StopCaptcha,
		},
		{
			name:     "captcha wins over block",
			at:       3,
			rec:      result.TestResult{ResponseCode: 403, Blocked: true, CaptchaDetected: true, ErrorType: result.ErrCaptchaOrChallenge},
			wantLen:  3,
			wantStop: StopCaptcha,
		},
		{
			name:     "block on the final attempt reports blocked",
			at:       5,
			rec:      result.TestResult{ResponseCode: 403, Blocked: true, ErrorType: result.ErrBlocked},
			wantLen:  5,
			wantStop: StopBlocked,
		},
		{
			name:     "captcha on a rate limited response still stops",
			at:       2,
			rec:      result.TestResult{ResponseCode: 429, RateLimited: true, CaptchaDetected: true, ErrorType: result.ErrCaptchaOrChallenge},
			wantLen:  2,
			wantStop: StopCaptcha,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			clock := newFakeClock()
			a := &scriptedAttempter{script: map[int]result.TestResult{tc.at: tc.rec}}
			out := newTestRunner(t, 5, a, clock).Run(context.Background())

			if out.Trace.Len() != tc.wantLen {
				t.Errorf("trace length = %d, want %d", out.Trace.Len(), tc.wantLen)
			}
			if a.calls != tc.wantLen {
				t.Errorf("attempts = %d, want %d", a.calls, tc.wantLen)
			}
			if out.Stop != tc.wantStop {
				t.Errorf("Stop = %q, want %q", out.Stop, tc.wantStop)
			}
			if len(clock.Slept()) != tc.wantLen-1 {
				t.Errorf("sleeps = %d, want %d", len(clock.Slept()), tc.wantLen-1)
			}
			assertNumbered(t, out.Trace)
		})
	}
}

func TestRunner_CancelKeepsPartialTrace(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	clock := newFakeClock()
	clock.cancel, clock.after = cancel, 2

	a := &scriptedAttempter{}
	out := newTestRunner(t, 10, a, clock).Run(ctx)

	if out.Stop != StopCancelled {
		t.Errorf("Stop = %q, want cancelled", out.Stop)
	}
	if out.Trace.Len() != 2 {
		t.Errorf("trace length = %d, want 2", out.Trace.Len())
	}
}

func TestRunner_DeterministicTargets(t *testing.T) {
	run := func() []string {
		a := &scriptedAttempter{}
		newTestRunner(t, 8, a, newFakeClock()).Run(context.Background())
		return a.targets
	}
	first, second := run(), run()
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("target %d differs: %q vs %q", i, first[i], second[i])
		}
	}
}

func TestRunner_EachRunStartsFresh(t *testing.T) {
	r := newTestRunner(t, 3, &scriptedAttempter{}, newFakeClock())
	first := r.Run(context.Background())
	second := r.Run(context.Background())

	if first.Trace == second.Trace {
		t.Fatal("runs share a trace")
	}
	if first.Trace.Len() != 3 || second.Trace.Len() != 3 {
		t.Errorf("lengths = %d, %d", first.Trace.Len(), second.Trace.Len())
	}
	assertNumbered(t, second.Trace)
}

func TestRunner_Progress(t *testing.T) {
	ch := make(chan ProbeEvent, 16)
	a := &scriptedAttempter{script: map[int]result.TestResult{
		2: {ResponseCode: 403, Blocked: true, ErrorType: result.ErrBlocked},
	}}
	newTestRunner(t, 5, a, newFakeClock(), WithProgress(ch)).Run(context.Background())
	close(ch)

	var events []ProbeEvent
	for evt := range ch {
		events = append(events, evt)
	}
	// in-flight + result per attempt, then the stop event
	if len(events) != 5 {
		t.Fatalf("events = %d, want 5", len(events))
	}
	if events[0].Result != nil || events[1].Result == nil {
		t.Error("expected in-flight event before result event")
	}
	last := events[len(events)-1]
	if last.Stop != StopBlocked || last.Attempt != 2 {
		t.Errorf("final event = %+v", last)
	}
	if last.Phase != "job" || last.Account != "primary" || last.MaxRequests != 5 {
		t.Errorf("event labels = %+v", last)
	}
}

func TestNewRunner_Validation(t *testing.T) {
	a := &scriptedAttempter{}
	if _, err := NewRunner(Config{MaxRequests: 0, Targets: []string{"x"}}, a); err == nil {
		t.Error("expected error for zero max requests")
	}
	if _, err := NewRunner(Config{MaxRequests: 1}, a); !errors.Is(err, ErrNoTargets) {
		t.Errorf("err = %v, want ErrNoTargets", err)
	}
	if _, err := NewRunner(Config{MaxRequests: 1, Targets: []string{"x"}}, nil); err == nil {
		t.Error("expected error for nil attempter")
	}
}

func TestRunner_JobAPIEndToEnd(t *testing.T) {
	f := newFakeJobAPI()
	p := newTestJobProbe(t, f)
	clock := newFakeClock()

	out := newTestRunner(t, 3, p, clock).Run(context.Background())

	if out.Trace.Len() != 3 {
		t.Fatalf("trace length = %d, want 3", out.Trace.Len())
	}
	for _, rec := range out.Trace.Results() {
		if !rec.Success || rec.DataType != result.DataTypeInstagram {
			t.Errorf("record %d = %+v", rec.RequestNumber, rec)
		}
	}
	if submits, _ := f.counts(); submits != 3 {
		t.Errorf("submits = %d, want 3", submits)
	}
}

func TestPacing_Jitter(t *testing.T) {
	rng := NewRand(42)
	p := DirectPacing()
	for range 100 {
		d := p.Jitter(rng)
		if d < 2*time.Second || d >= 8*time.Second {
			t.Fatalf("jitter %v outside [2s, 8s)", d)
		}
	}
	if d := (Pacing{JitterMin: time.Second, JitterMax: time.Second}).Jitter(rng); d != time.Second {
		t.Errorf("degenerate jitter = %v, want 1s", d)
	}
}

func TestSleepContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := SleepContext(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if err := SleepContext(context.Background(), time.Millisecond); err != nil {
		t.Errorf("err = %v", err)
	}
}
