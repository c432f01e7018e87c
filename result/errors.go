package result

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// ErrorType is the classification string stored on a failed attempt.
type ErrorType string

// Transport failures.
const (
	ErrTimeout         ErrorType = "timeout"
	ErrConnection      ErrorType = "connection_error"
	unexpectedErrorTag           = "unexpected_error:"
)

// Protocol and classification outcomes.
const (
	ErrRateLimited            ErrorType = "rate_limited"
	ErrBlocked                ErrorType = "blocked"
	ErrCaptchaOrChallenge     ErrorType = "captcha_or_challenge"
	ErrLoginChallengeRedirect ErrorType = "login_challenge_redirect"
)

// Job lifecycle outcomes.
const (
	ErrStatusCheckFailed  ErrorType = "status_check_failed"
	ErrStatusCheckError   ErrorType = "status_check_error"
	ErrNoDatasetID        ErrorType = "no_dataset_id"
	ErrRunTimeout         ErrorType = "run_timeout"
	ErrRunProcessingError ErrorType = "run_processing_error"
)

// Dataset validation outcomes.
const (
	ErrDatasetFetchFailed ErrorType = "dataset_fetch_failed"
	ErrDatasetCheckError  ErrorType = "dataset_check_error"
	ErrNoDataExtracted    ErrorType = "no_data_extracted"
	ErrInvalidDataFormat  ErrorType = "invalid_data_format"
	dataErrorTag                    = "data_error:"
)

// HTTPError returns the error type for an unclassified status >= 400.
func HTTPError(status int) ErrorType {
	return ErrorType(fmt.Sprintf("http_error_%d", status))
}

// UnexpectedStatus returns the error type for a non-error status other than
// the one the request expects, such as 200 on job submission or 204 on a
// direct fetch.
func UnexpectedStatus(status int) ErrorType {
	return ErrorType(fmt.Sprintf("unexpected_status_%d", status))
}

// RunState returns the error type for a terminal job state such as FAILED.
func RunState(state string) ErrorType {
	return ErrorType("run_" + strings.ToLower(state))
}

// DataError returns the error type for a dataset item carrying an error descriptor.
func DataError(description string) ErrorType {
	return ErrorType(dataErrorTag + description)
}

// UnexpectedError returns the error type for a transport failure that is
// neither a timeout nor a connection error.
func UnexpectedError(err error) ErrorType {
	return ErrorType(unexpectedErrorTag + err.Error())
}

// ClassifyTransportError maps a request error to the transport taxonomy.
func ClassifyTransportError(err error) ErrorType {
	if err == nil {
		return ""
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrTimeout
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return ErrConnection
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return ErrConnection
	}

	// Proxy and TLS handshake failures surface as url.Error wrapping a
	// plain error; treat refusals and resets as connection problems.
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		msg := strings.ToLower(urlErr.Err.Error())
		if strings.Contains(msg, "connection refused") || strings.Contains(msg, "connection reset") ||
			strings.Contains(msg, "proxyconnect") || strings.Contains(msg, "eof") {
			return ErrConnection
		}
	}

	return UnexpectedError(err)
}

// IsTransport reports whether the error type came from a transport failure.
func (e ErrorType) IsTransport() bool {
	return e == ErrTimeout || e == ErrConnection || strings.HasPrefix(string(e), unexpectedErrorTag)
}

// Label returns a short human-readable name for grouping in summaries.
func (e ErrorType) Label() string {
	s := string(e)
	switch {
	case e == "":
		return "OK"
	case e.IsTransport():
		return "Transport"
	case e == ErrRateLimited:
		return "Rate Limited"
	case e == ErrBlocked:
		return "Blocked"
	case e == ErrCaptchaOrChallenge, e == ErrLoginChallengeRedirect:
		return "Challenge"
	case strings.HasPrefix(s, "http_error_"), strings.HasPrefix(s, "unexpected_status_"):
		return "HTTP Error"
	case strings.HasPrefix(s, "run_"), strings.HasPrefix(s, "status_check"), e == ErrNoDatasetID:
		return "Job Lifecycle"
	default:
		return "Dataset"
	}
}
