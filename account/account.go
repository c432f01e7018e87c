// Package account holds per-account settings and the reusable outbound
// request context built from them.
package account

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/publicsuffix"
	"golang.org/x/time/rate"
)

// Config describes one account under test. It is read-only after construction.
type Config struct {
	Name      string            `yaml:"name"`
	Token     string            `yaml:"token"`
	UserAgent string            `yaml:"user_agent"`
	Proxy     string            `yaml:"proxy"`   // Optional proxy URL for all requests
	Cookies   map[string]string `yaml:"cookies"` // Optional session cookies

	// CookieURLs lists the sites the cookies are installed for. Empty means
	// the defaults for the job API and the direct endpoint.
	CookieURLs []string `yaml:"cookie_urls"`
}

// DefaultUserAgent is used when an account does not set one.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// defaultCookieURLs are the sites session cookies are installed for.
var defaultCookieURLs = []string{"https://www.instagram.com/", "https://api.apify.com/"}

// Session is the shared outbound request context for one run: default
// headers, proxy, cookies and an optional request-rate ceiling. A Session is
// owned by a single runner; Configure and Do are not meant to race.
type Session struct {
	mu      sync.RWMutex
	client  *http.Client
	headers http.Header
	limiter *rate.Limiter
	account Config
}

// NewSession creates a session with no account applied. maxRPS <= 0
// disables the request-rate ceiling.
func NewSession(maxRPS float64) *Session {
	limit := rate.Inf
	if maxRPS > 0 {
		limit = rate.Limit(maxRPS)
	}
	return &Session{
		client:  &http.Client{},
		headers: http.Header{},
		limiter: rate.NewLimiter(limit, 1),
	}
}

// Configure applies the account's defaults. Each call fully replaces the
// settings from any earlier call.
func (s *Session) Configure(acct Config) error {
	userAgent := acct.UserAgent
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}

	headers := http.Header{}
	headers.Set("User-Agent", userAgent)
	headers.Set("Accept", "application/json")
	headers.Set("Accept-Language", "en-US,en;q=0.9")
	headers.Set("Connection", "keep-alive")
	headers.Set("Upgrade-Insecure-Requests", "1")

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.Proxy = nil
	if acct.Proxy != "" {
		proxyURL, err := url.Parse(acct.Proxy)
		if err != nil || proxyURL.Host == "" {
			return fmt.Errorf("configure account %s: invalid proxy %q", acct.Name, acct.Proxy)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return fmt.Errorf("configure account %s: create cookie jar: %w", acct.Name, err)
	}
	if len(acct.Cookies) > 0 {
		cookies := make([]*http.Cookie, 0, len(acct.Cookies))
		for name, value := range acct.Cookies {
			cookies = append(cookies, &http.Cookie{Name: name, Value: value, Path: "/"})
		}
		sites := acct.CookieURLs
		if len(sites) == 0 {
			sites = defaultCookieURLs
		}
		for _, site := range sites {
			u, err := url.Parse(site)
			if err != nil {
				return fmt.Errorf("configure account %s: invalid cookie url %q: %w", acct.Name, site, err)
			}
			jar.SetCookies(u, cookies)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.headers = headers
	s.client = &http.Client{Transport: transport, Jar: jar}
	s.account = acct
	return nil
}

// Account returns the currently applied account.
func (s *Session) Account() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.account
}

// Header returns a copy of the default headers.
func (s *Session) Header() http.Header {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.headers.Clone()
}

// Client returns the HTTP client carrying the proxy and cookie jar.
func (s *Session) Client() *http.Client {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.client
}

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Body       []byte
	Header     http.Header
	FinalURL   string // URL after redirects
}

// Headers flattens the response headers, joining repeated values with ", ".
func (r *Response) Headers() map[string]string {
	out := make(map[string]string, len(r.Header))
	for key, values := range r.Header {
		out[key] = strings.Join(values, ", ")
	}
	return out
}

// maxBodyBytes caps how much of a response body is read.
const maxBodyBytes = 10 * 1024 * 1024

// Do applies the default headers to req, sends it with a per-request
// timeout and reads the body. Headers already set on req win over the
// defaults.
func (s *Session) Do(ctx context.Context, req *http.Request, timeout time.Duration) (res *Response, err error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter wait: %w", err)
	}

	s.mu.RLock()
	client := s.client
	headers := s.headers
	s.mu.RUnlock()

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	req = req.WithContext(ctx)
	for key, values := range headers {
		if req.Header.Get(key) == "" {
			req.Header[key] = append([]string(nil), values...)
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("close response body: %w", closeErr)
		}
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Body:       body,
		Header:     resp.Header,
		FinalURL:   resp.Request.URL.String(),
	}, nil
}
