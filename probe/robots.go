package probe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
	"go.uber.org/zap"
)

// robotsEntry caches the rules for one host. Nil rules allow everything.
type robotsEntry struct {
	rules     *robotstxt.RobotsData
	fetchedAt time.Time
}

// RobotsChecker fetches robots.txt once per host and answers whether a
// direct target may be fetched. Fetch and parse failures allow the target.
type RobotsChecker struct {
	client *http.Client
	ttl    time.Duration

	mu    sync.Mutex
	hosts map[string]robotsEntry
}

// NewRobotsChecker creates a checker. A nil client gets a 5s timeout client.
func NewRobotsChecker(client *http.Client) *RobotsChecker {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &RobotsChecker{client: client, ttl: time.Hour, hosts: make(map[string]robotsEntry)}
}

// Allowed reports whether userAgent may fetch rawURL. The returned error is
// informational; the verdict is still usable.
func (c *RobotsChecker) Allowed(ctx context.Context, rawURL, userAgent string) (bool, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return true, fmt.Errorf("parse URL: %w", err)
	}
	if u.Host == "" {
		return true, nil
	}

	c.mu.Lock()
	entry, ok := c.hosts[u.Host]
	c.mu.Unlock()

	if !ok || time.Since(entry.fetchedAt) >= c.ttl {
		rules, fetchErr := c.fetch(ctx, u)
		entry = robotsEntry{rules: rules, fetchedAt: time.Now()}
		c.mu.Lock()
		c.hosts[u.Host] = entry
		c.mu.Unlock()
		err = fetchErr
	}

	if entry.rules == nil {
		return true, err
	}
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	return entry.rules.TestAgent(path, userAgent), err
}

func (c *RobotsChecker) fetch(ctx context.Context, u *url.URL) (rules *robotstxt.RobotsData, err error) {
	robotsURL := u.Scheme + "://" + u.Host + "/robots.txt"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create robots.txt request for %s: %w", u.Host, err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch robots.txt for %s: %w", u.Host, err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			err = errors.Join(err, fmt.Errorf("close robots.txt body: %w", closeErr))
		}
	}()

	// Missing file or server errors allow all.
	if resp.StatusCode == http.StatusNotFound || resp.StatusCode >= 500 {
		return nil, nil
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 512<<10))
	if err != nil {
		return nil, fmt.Errorf("read robots.txt for %s: %w", u.Host, err)
	}
	rules, err = robotstxt.FromStatusAndBytes(resp.StatusCode, body)
	if err != nil {
		return nil, fmt.Errorf("parse robots.txt for %s: %w", u.Host, err)
	}
	return rules, nil
}

// FilterAllowed returns the targets robots.txt permits for userAgent,
// preserving order.
func FilterAllowed(ctx context.Context, checker *RobotsChecker, targets []string, userAgent string, logger *zap.Logger) []string {
	if logger == nil {
		logger = zap.NewNop()
	}
	allowed := make([]string, 0, len(targets))
	for _, t := range targets {
		ok, err := checker.Allowed(ctx, t, userAgent)
		if err != nil {
			logger.Warn("robots_check", zap.String("target", t), zap.Error(err))
		}
		if !ok {
			logger.Info("robots_disallowed", zap.String("target", t))
			continue
		}
		allowed = append(allowed, t)
	}
	return allowed
}
