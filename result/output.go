package result

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strconv"
	"time"
)

// record is the interchange shape of a TestResult. Response time is written
// in seconds and the timestamp as RFC 3339 with nanoseconds.
type record struct {
	Timestamp       string            `json:"timestamp"`
	RequestNumber   int               `json:"request_number"`
	Success         bool              `json:"success"`
	ResponseCode    int               `json:"response_code"`
	ResponseTime    float64           `json:"response_time"`
	ErrorType       *string           `json:"error_type"`
	DataType        string            `json:"data_type,omitempty"`
	CaptchaDetected bool              `json:"captcha_detected"`
	RateLimited     bool              `json:"rate_limited"`
	Blocked         bool              `json:"blocked"`
	ResponseSize    int               `json:"response_size"`
	ResponseHeaders map[string]string `json:"response_headers"`
}

func toRecord(r TestResult) record {
	rec := record{
		Timestamp:       r.Timestamp.Format(time.RFC3339Nano),
		RequestNumber:   r.RequestNumber,
		Success:         r.Success,
		ResponseCode:    r.ResponseCode,
		ResponseTime:    r.ResponseTime.Seconds(),
		DataType:        r.DataType,
		CaptchaDetected: r.CaptchaDetected,
		RateLimited:     r.RateLimited,
		Blocked:         r.Blocked,
		ResponseSize:    r.ResponseSize,
		ResponseHeaders: r.ResponseHeaders,
	}
	if r.ErrorType != "" {
		s := string(r.ErrorType)
		rec.ErrorType = &s
	}
	return rec
}

func fromRecord(rec record) (TestResult, error) {
	ts, err := time.Parse(time.RFC3339Nano, rec.Timestamp)
	if err != nil {
		return TestResult{}, fmt.Errorf("parse timestamp of request %d: %w", rec.RequestNumber, err)
	}
	r := TestResult{
		Timestamp:       ts,
		RequestNumber:   rec.RequestNumber,
		Success:         rec.Success,
		ResponseCode:    rec.ResponseCode,
		ResponseTime:    time.Duration(math.Round(rec.ResponseTime * float64(time.Second))),
		DataType:        rec.DataType,
		CaptchaDetected: rec.CaptchaDetected,
		RateLimited:     rec.RateLimited,
		Blocked:         rec.Blocked,
		ResponseSize:    rec.ResponseSize,
		ResponseHeaders: rec.ResponseHeaders,
	}
	if rec.ErrorType != nil {
		r.ErrorType = ErrorType(*rec.ErrorType)
	}
	return r, nil
}

// WriteJSON writes the trace as a formatted JSON array of records.
func WriteJSON(w io.Writer, trace *Trace) error {
	results := trace.Results()
	records := make([]record, 0, len(results))
	for _, r := range results {
		records = append(records, toRecord(r))
	}

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(records); err != nil {
		return fmt.Errorf("write json output: %w", err)
	}
	return nil
}

// ReadJSON decodes a JSON array written by WriteJSON back into a trace.
func ReadJSON(r io.Reader) (*Trace, error) {
	var records []record
	if err := json.NewDecoder(r).Decode(&records); err != nil {
		return nil, fmt.Errorf("read json input: %w", err)
	}

	results := make([]TestResult, 0, len(records))
	for _, rec := range records {
		res, err := fromRecord(rec)
		if err != nil {
			return nil, err
		}
		results = append(results, res)
	}
	return NewTrace(results)
}

// csvHeader is the column order of WriteCSV. Headers are not exported to CSV.
var csvHeader = []string{
	"timestamp", "request_number", "success", "response_code", "response_time",
	"error_type", "data_type", "captcha_detected", "rate_limited", "blocked", "response_size",
}

// WriteCSV writes the trace as CSV with a header row, even when empty.
func WriteCSV(w io.Writer, trace *Trace) error {
	cw := csv.NewWriter(w)

	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}

	for _, r := range trace.Results() {
		if err := cw.Write(csvRow(r)); err != nil {
			return fmt.Errorf("write csv record %d: %w", r.RequestNumber, err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush csv output: %w", err)
	}
	return nil
}

func csvRow(r TestResult) []string {
	return []string{
		r.Timestamp.Format(time.RFC3339Nano),
		strconv.Itoa(r.RequestNumber),
		strconv.FormatBool(r.Success),
		statusCodeStr(r.ResponseCode),
		strconv.FormatFloat(r.ResponseTime.Seconds(), 'f', 3, 64),
		string(r.ErrorType),
		r.DataType,
		strconv.FormatBool(r.CaptchaDetected),
		strconv.FormatBool(r.RateLimited),
		strconv.FormatBool(r.Blocked),
		strconv.Itoa(r.ResponseSize),
	}
}

// statusCodeStr converts an HTTP status code to a string.
// Returns empty string for 0 (no HTTP status).
func statusCodeStr(code int) string {
	if code == 0 {
		return ""
	}
	return strconv.Itoa(code)
}
