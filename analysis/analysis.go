// Package analysis summarizes a probe trace and derives operating
// recommendations from it.
package analysis

import (
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/lukemcguire/throttleprobe/result"
)

// NoResultsMessage is reported for an empty trace.
const NoResultsMessage = "No results to analyze"

// SlowResponseThreshold is the average successful response time above
// which faster proxies are recommended.
const SlowResponseThreshold = 10 * time.Second

// Summary counts outcomes across the trace.
type Summary struct {
	TotalRequests       int     `json:"total_requests"`
	SuccessfulRequests  int     `json:"successful_requests"`
	SuccessRatePercent  float64 `json:"success_rate_percent"`
	RateLimitedRequests int     `json:"rate_limited_requests"`
	BlockedRequests     int     `json:"blocked_requests"`
	CaptchaRequests     int     `json:"captcha_requests"`
}

// RateLimiting records where each limiting signal first appeared.
// A nil index means the signal never appeared.
type RateLimiting struct {
	FirstRateLimitAt          *int `json:"first_rate_limit_at_request"`
	FirstBlockAt              *int `json:"first_block_at_request"`
	FirstCaptchaAt            *int `json:"first_captcha_at_request"`
	EstimatedSafeRequestLimit int  `json:"estimated_safe_request_limit"`
}

// Performance holds timing figures, in seconds, rounded to two places.
type Performance struct {
	AverageResponseTimeSeconds float64 `json:"average_response_time_seconds"`
	TestDurationSeconds        float64 `json:"test_duration_seconds"`
	RequestsPerMinute          float64 `json:"requests_per_minute"`
}

// Analysis is the result of Analyze. When NoResults is set only Error is
// populated.
type Analysis struct {
	NoResults       bool             `json:"-"`
	Error           string           `json:"error,omitempty"`
	Summary         *Summary         `json:"summary,omitempty"`
	RateLimiting    *RateLimiting    `json:"rate_limiting,omitempty"`
	Performance     *Performance     `json:"performance,omitempty"`
	Recommendations []Recommendation `json:"recommendations,omitempty"`
}

// Analyze computes summary statistics for trace. An empty or nil trace
// yields the no-results indicator.
func Analyze(trace *result.Trace) Analysis {
	results := trace.Results()
	if len(results) == 0 {
		return Analysis{NoResults: true, Error: NoResultsMessage}
	}

	s := &Summary{TotalRequests: len(results)}
	rl := &RateLimiting{}
	for _, r := range results {
		if r.Success {
			s.SuccessfulRequests++
		}
		if r.RateLimited {
			s.RateLimitedRequests++
			firstAt(&rl.FirstRateLimitAt, r.RequestNumber)
		}
		if r.Blocked {
			s.BlockedRequests++
			firstAt(&rl.FirstBlockAt, r.RequestNumber)
		}
		if r.CaptchaDetected {
			s.CaptchaRequests++
			firstAt(&rl.FirstCaptchaAt, r.RequestNumber)
		}
	}
	s.SuccessRatePercent = round2(float64(s.SuccessfulRequests) / float64(s.TotalRequests) * 100)

	rl.EstimatedSafeRequestLimit = s.TotalRequests
	if rl.FirstRateLimitAt != nil {
		rl.EstimatedSafeRequestLimit = *rl.FirstRateLimitAt - 1
	}

	duration := results[len(results)-1].Timestamp.Sub(results[0].Timestamp).Seconds()
	var perMinute float64
	if duration > 0 {
		perMinute = float64(s.TotalRequests) / duration * 60
	}
	perf := &Performance{
		AverageResponseTimeSeconds: round2(averageSuccessTime(results).Seconds()),
		TestDurationSeconds:        round2(duration),
		RequestsPerMinute:          round2(perMinute),
	}

	return Analysis{
		Summary:         s,
		RateLimiting:    rl,
		Performance:     perf,
		Recommendations: recommend(results),
	}
}

// Code identifies a recommendation independent of its wording.
type Code string

const (
	CodeCheckCredentials Code = "check_credentials"
	CodeRateLimitAt      Code = "rate_limit_detected"
	CodeBatchSize        Code = "batch_size"
	CodeBatchCooldown    Code = "batch_cooldown"
	CodeNoRateLimit      Code = "no_rate_limit"
	CodeLargerBatches    Code = "larger_batches"
	CodeResidential      Code = "residential_proxies"
	CodeAccountRotation  Code = "account_rotation"
	CodeIPRotation       Code = "ip_rotation"
	CodeMultiAccount     Code = "multi_account"
	CodeSlowResponses    Code = "slow_responses"
)

// Recommendation is one piece of advice derived from a trace.
type Recommendation struct {
	Code Code   `json:"code"`
	Text string `json:"text"`
}

func (r Recommendation) String() string { return r.Text }

// Recommend applies the recommendation rules to trace. Rules are
// independent; several may fire for the same trace.
func Recommend(trace *result.Trace) []Recommendation {
	return recommend(trace.Results())
}

func recommend(results []result.TestResult) []Recommendation {
	var recs []Recommendation
	add := func(code Code, format string, args ...any) {
		recs = append(recs, Recommendation{Code: code, Text: fmt.Sprintf(format, args...)})
	}

	var successes int
	var firstLimit int
	var captcha, blocked bool
	for _, r := range results {
		if r.Success {
			successes++
		}
		if r.RateLimited && firstLimit == 0 {
			firstLimit = r.RequestNumber
		}
		captcha = captcha || r.CaptchaDetected
		blocked = blocked || r.Blocked
	}

	if successes == 0 {
		add(CodeCheckCredentials, "❌ No successful requests - check API credentials and network connectivity")
	}
	if firstLimit > 0 {
		add(CodeRateLimitAt, "⏰ Rate limiting detected after %d requests", firstLimit)
		add(CodeBatchSize, "💡 Recommended batch size: %d requests", max(1, firstLimit-5))
		add(CodeBatchCooldown, "⏳ Implement delays of 60+ seconds between batches")
	} else {
		add(CodeNoRateLimit, "✅ No rate limiting detected up to %d requests", len(results))
		add(CodeLargerBatches, "💡 Consider testing with larger batches")
	}
	if captcha {
		add(CodeResidential, "🤖 Captcha/challenge detected - consider using residential proxies")
		add(CodeAccountRotation, "🔄 Implement account rotation to avoid detection")
	}
	if blocked {
		add(CodeIPRotation, "🚫 Account blocking detected - implement IP rotation")
		add(CodeMultiAccount, "👥 Use multiple accounts to distribute load")
	}
	if averageSuccessTime(results) > SlowResponseThreshold {
		add(CodeSlowResponses, "🐌 Slow response times detected - consider using faster proxies")
	}
	return recs
}

// averageSuccessTime averages the response time of successful attempts
// that recorded one.
func averageSuccessTime(results []result.TestResult) time.Duration {
	var total time.Duration
	var n int
	for _, r := range results {
		if r.Success && r.ResponseTime > 0 {
			total += r.ResponseTime
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return total / time.Duration(n)
}

func firstAt(dst **int, n int) {
	if *dst == nil {
		*dst = &n
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Merge combines recommendation lists from several traces into a sorted
// list of unique texts.
func Merge(lists ...[]Recommendation) []string {
	var texts []string
	for _, list := range lists {
		for _, r := range list {
			texts = append(texts, r.Text)
		}
	}
	slices.Sort(texts)
	return slices.Compact(texts)
}
