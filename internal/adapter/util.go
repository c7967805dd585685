// Package adapter implements the per-board source adapters. Each adapter
// fetches one public job-board API and maps its rows into NormalizedJob;
// retries and rate limiting are layered on by decorators, never here.
package adapter

import (
	"html"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var htmlTagRegex = regexp.MustCompile(`<[^>]*>`)

// extractText converts an HTML or HTML-encoded string to plain text.
// It first unescapes HTML entities (handles Greenhouse's double-encoding;
// no-op on already-real HTML), strips all tags, then collapses whitespace.
func extractText(content string) string {
	unescaped := html.UnescapeString(content)
	plain := htmlTagRegex.ReplaceAllString(unescaped, "")
	return strings.Join(strings.Fields(plain), " ")
}

// parseRetryAfter parses the Retry-After header value into a duration.
// Supports seconds format (e.g. "120"). Returns zero if absent or unparseable.
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	seconds, err := strconv.Atoi(value)
	if err != nil {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

// isoDate renders a timestamp as the YYYY-MM-DD form the identity keys use.
func isoDate(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
