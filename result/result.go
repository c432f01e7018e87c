// Package result holds the records produced by a probe run and the
// writers that persist them.
package result

import (
	"fmt"
	"time"
)

// TestResult is the outcome of one probe attempt. It is a value record;
// construction is the only point where its fields are set.
type TestResult struct {
	Timestamp       time.Time         // When the attempt completed
	RequestNumber   int               // 1-based ordinal within the trace
	Success         bool              // True only when usable data came back
	ResponseCode    int               // HTTP status, 0 for transport failures
	ResponseTime    time.Duration     // Network phase only, polling excluded
	ErrorType       ErrorType         // Empty on plain success
	DataType        string            // Set by dataset validation on job success
	CaptchaDetected bool              // Challenge seen in body or redirect
	RateLimited     bool              // Status 429
	Blocked         bool              // Status 403
	ResponseSize    int               // Body length in bytes
	ResponseHeaders map[string]string // Nil for transport failures
}

// Dataset content kinds reported on successful job attempts.
const (
	DataTypeInstagram  = "instagram_data"
	DataTypeRestricted = "restricted_content"
)

// HardStop reports whether the record ends a run immediately.
func (r TestResult) HardStop() bool {
	return r.CaptchaDetected || r.Blocked
}

// Trace is the ordered, append-only sequence of results for one run.
// The zero value is an empty trace ready to use.
type Trace struct {
	results []TestResult
}

// NewTrace builds a trace from existing records, validating their ordering.
func NewTrace(results []TestResult) (*Trace, error) {
	t := &Trace{results: make([]TestResult, 0, len(results))}
	for _, r := range results {
		if err := t.Append(r); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// Append adds a record. Request numbers must run 1..n without gaps.
func (t *Trace) Append(r TestResult) error {
	want := len(t.results) + 1
	if r.RequestNumber != want {
		return fmt.Errorf("append result: request number %d, want %d", r.RequestNumber, want)
	}
	r.ResponseHeaders = cloneHeaders(r.ResponseHeaders)
	t.results = append(t.results, r)
	return nil
}

// Len returns the number of records.
func (t *Trace) Len() int {
	if t == nil {
		return 0
	}
	return len(t.results)
}

// Results returns a copy of the records in order.
func (t *Trace) Results() []TestResult {
	if t == nil {
		return nil
	}
	out := make([]TestResult, len(t.results))
	for i, r := range t.results {
		r.ResponseHeaders = cloneHeaders(r.ResponseHeaders)
		out[i] = r
	}
	return out
}

func cloneHeaders(h map[string]string) map[string]string {
	if h == nil {
		return nil
	}
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}
