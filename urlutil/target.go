// Package urlutil validates and normalizes probe target URLs.
package urlutil

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Normalize validates a target URL and returns its canonical form:
// lowercase scheme and host, no fragment. The path, including any trailing
// slash, is kept as-is since post URLs are slash-terminated.
func Normalize(rawURL string) (string, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return "", errors.New("empty target URL")
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse target %q: %w", rawURL, err)
	}
	if !IsHTTPScheme(rawURL) {
		return "", fmt.Errorf("target %q: scheme must be http or https", rawURL)
	}
	if parsed.Host == "" {
		return "", fmt.Errorf("target %q: missing host", rawURL)
	}

	parsed.Scheme = strings.ToLower(parsed.Scheme)
	parsed.Host = strings.ToLower(parsed.Host)
	parsed.Fragment = ""
	return parsed.String(), nil
}

// NormalizeAll normalizes targets, dropping duplicates while keeping the
// first occurrence's position. Every invalid entry is reported.
func NormalizeAll(targets []string) ([]string, error) {
	seen := make(map[string]bool, len(targets))
	out := make([]string, 0, len(targets))
	var errs []error
	for _, t := range targets {
		n, err := Normalize(t)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	return out, errors.Join(errs...)
}

// IsHTTPScheme returns true if the URL has an http or https scheme.
// Returns false for empty strings, non-HTTP schemes, or unparseable URLs.
func IsHTTPScheme(rawURL string) bool {
	if rawURL == "" {
		return false
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false
	}

	scheme := strings.ToLower(parsed.Scheme)
	return scheme == "http" || scheme == "https"
}

// ShortPath returns the path of rawURL for compact display, or rawURL
// itself when it cannot be parsed.
func ShortPath(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Path == "" {
		return rawURL
	}
	return parsed.Path
}
