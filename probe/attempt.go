package probe

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/net/html/charset"

	"github.com/lukemcguire/throttleprobe/account"
	"github.com/lukemcguire/throttleprobe/result"
)

// Attempter executes one probe attempt against target. Failures are
// reported inside the returned record, never as an error. The runner
// assigns RequestNumber.
type Attempter interface {
	Attempt(ctx context.Context, target string) result.TestResult
}

// JobProbe submits a scrape job per attempt and follows it to completion.
type JobProbe struct {
	client *JobClient
	poller *JobPoller
	logger *zap.Logger
}

// NewJobProbe creates a job API attempter.
func NewJobProbe(client *JobClient, poller *JobPoller, logger *zap.Logger) *JobProbe {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &JobProbe{client: client, poller: poller, logger: logger}
}

// Attempt submits target and, when the submission is accepted, polls the
// run and validates its dataset. ResponseTime covers the submission only.
func (p *JobProbe) Attempt(ctx context.Context, target string) result.TestResult {
	start := time.Now()
	resp, err := p.client.Submit(ctx, target)
	elapsed := time.Since(start)
	if err != nil {
		p.logger.Debug("job_submit_error", zap.String("target", target), zap.Error(err))
		return transportFailure(err, elapsed)
	}

	rec := fromResponse(resp, elapsed, Classify(resp, ExpectJobSubmission))
	if resp.StatusCode != ExpectJobSubmission.SuccessCode || rec.ErrorType != "" {
		rec.Timestamp = time.Now()
		return rec
	}

	env, err := decodeRun(resp.Body)
	if err != nil || env.Data.ID == "" {
		p.logger.Debug("job_submit_undecodable", zap.String("target", target), zap.Error(err))
		rec.Success = false
		rec.ErrorType = result.ErrRunProcessingError
		rec.Timestamp = time.Now()
		return rec
	}

	res := p.poller.Await(ctx, env.Data.ID)
	p.logger.Debug("job_resolved",
		zap.String("run_id", env.Data.ID),
		zap.String("state", string(res.State)),
		zap.Bool("success", res.Success),
		zap.String("error_type", string(res.ErrorType)),
	)
	rec.Success = res.Success
	rec.ErrorType = res.ErrorType
	rec.DataType = res.DataType
	rec.Timestamp = time.Now()
	return rec
}

// DirectProbe issues a plain GET per attempt.
type DirectProbe struct {
	session *account.Session
	timeout time.Duration
	logger  *zap.Logger
}

// NewDirectProbe creates a direct endpoint attempter. A zero timeout
// defaults to 10s.
func NewDirectProbe(session *account.Session, timeout time.Duration, logger *zap.Logger) *DirectProbe {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DirectProbe{session: session, timeout: timeout, logger: logger}
}

// Attempt fetches target and classifies the response, including any
// redirect to a login or challenge page.
func (p *DirectProbe) Attempt(ctx context.Context, target string) result.TestResult {
	start := time.Now()
	resp, err := p.fetch(ctx, target)
	elapsed := time.Since(start)
	if err != nil {
		p.logger.Debug("direct_fetch_error", zap.String("target", target), zap.Error(err))
		return transportFailure(err, elapsed)
	}

	text := decodeBody(resp.Body, resp.Header.Get("Content-Type"))
	classified := Classify(&account.Response{
		StatusCode: resp.StatusCode,
		Body:       text,
		Header:     resp.Header,
		FinalURL:   resp.FinalURL,
	}, ExpectDirectFetch)

	rec := fromResponse(resp, elapsed, classified)
	if rec.Success {
		rec.DataType = result.DataTypeInstagram
	}
	p.logger.Debug("direct_fetched",
		zap.String("target", target),
		zap.String("final_url", resp.FinalURL),
		zap.String("title", pageTitle(text)),
		zap.Int("status", resp.StatusCode),
	)
	rec.Timestamp = time.Now()
	return rec
}

func (p *DirectProbe) fetch(ctx context.Context, target string) (*account.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("create request for %s: %w", target, err)
	}
	return p.session.Do(ctx, req, p.timeout)
}

// fromResponse builds the provisional record for a received response.
func fromResponse(resp *account.Response, elapsed time.Duration, c Classification) result.TestResult {
	return result.TestResult{
		Success:         c.Success,
		ResponseCode:    resp.StatusCode,
		ResponseTime:    elapsed,
		ErrorType:       c.ErrorType,
		CaptchaDetected: c.CaptchaDetected,
		RateLimited:     c.RateLimited,
		Blocked:         c.Blocked,
		ResponseSize:    len(resp.Body),
		ResponseHeaders: resp.Headers(),
	}
}

// transportFailure records a request that never produced a response.
func transportFailure(err error, elapsed time.Duration) result.TestResult {
	return result.TestResult{
		Timestamp:       time.Now(),
		ResponseTime:    elapsed,
		ErrorType:       result.ClassifyTransportError(err),
		ResponseHeaders: map[string]string{},
	}
}

// decodeBody converts body to UTF-8 using the declared or sniffed charset.
// The raw bytes are returned when decoding fails.
func decodeBody(body []byte, contentType string) []byte {
	r, err := charset.NewReader(bytes.NewReader(body), contentType)
	if err != nil {
		return body
	}
	decoded, err := io.ReadAll(r)
	if err != nil {
		return body
	}
	return decoded
}

// pageTitle returns the text of the first <title> element, if any.
func pageTitle(body []byte) string {
	tokenizer := html.NewTokenizer(bytes.NewReader(body))
	inTitle := false
	for {
		switch tokenizer.Next() {
		case html.ErrorToken:
			return ""
		case html.StartTagToken:
			name, _ := tokenizer.TagName()
			inTitle = string(name) == "title"
		case html.TextToken:
			if inTitle {
				return strings.TrimSpace(string(tokenizer.Text()))
			}
		case html.EndTagToken:
			inTitle = false
		}
	}
}
