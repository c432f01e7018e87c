package probe

import (
	"bytes"
	"net/http"
	"strings"

	"github.com/lukemcguire/throttleprobe/account"
	"github.com/lukemcguire/throttleprobe/result"
)

// Expectation describes what a successful response looks like for one
// probe variant.
type Expectation struct {
	SuccessCode   int  // Status that counts as success
	CheckRedirect bool // Inspect the final URL for login/challenge redirects
}

var (
	// ExpectJobSubmission applies to job creation on the job API.
	ExpectJobSubmission = Expectation{SuccessCode: http.StatusCreated}
	// ExpectDirectFetch applies to plain GETs against the direct endpoint.
	ExpectDirectFetch = Expectation{SuccessCode: http.StatusOK, CheckRedirect: true}
)

// challengeIndicators are body substrings that signal a bot challenge.
var challengeIndicators = [][]byte{
	[]byte("captcha"),
	[]byte("challenge"),
	[]byte("verify"),
	[]byte("suspicious"),
	[]byte("blocked"),
}

// redirectIndicators are final-URL substrings that signal a login wall.
var redirectIndicators = []string{"login", "challenge"}

// Classification holds the flags derived from one response.
type Classification struct {
	Success         bool
	ErrorType       result.ErrorType
	RateLimited     bool
	Blocked         bool
	CaptchaDetected bool
}

// Classify maps a response to the outcome taxonomy. Rules are applied in
// order and later matches overwrite ErrorType, so a challenge body on a 429
// reports captcha_or_challenge while RateLimited stays set. Every result
// that is not a success carries an ErrorType.
func Classify(resp *account.Response, exp Expectation) Classification {
	var c Classification

	switch status := resp.StatusCode; {
	case status == http.StatusTooManyRequests:
		c.RateLimited = true
		c.ErrorType = result.ErrRateLimited
	case status == http.StatusForbidden:
		c.Blocked = true
		c.ErrorType = result.ErrBlocked
	case status >= 400:
		c.ErrorType = result.HTTPError(status)
	}

	if containsChallenge(resp.Body) {
		c.CaptchaDetected = true
		c.ErrorType = result.ErrCaptchaOrChallenge
	}

	if exp.CheckRedirect {
		finalURL := strings.ToLower(resp.FinalURL)
		for _, indicator := range redirectIndicators {
			if strings.Contains(finalURL, indicator) {
				c.CaptchaDetected = true
				c.ErrorType = result.ErrLoginChallengeRedirect
				break
			}
		}
	}

	switch {
	case c.ErrorType != "":
	case resp.StatusCode == exp.SuccessCode:
		c.Success = true
	default:
		c.ErrorType = result.UnexpectedStatus(resp.StatusCode)
	}
	return c
}

func containsChallenge(body []byte) bool {
	lower := bytes.ToLower(body)
	for _, indicator := range challengeIndicators {
		if bytes.Contains(lower, indicator) {
			return true
		}
	}
	return false
}
