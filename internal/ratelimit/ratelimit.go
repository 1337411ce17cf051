// Package ratelimit tracks server imposed send restrictions per category.
package ratelimit

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	// HeaderRateLimits is the primary rate-limit header.
	HeaderRateLimits = "X-Sentry-Rate-Limits"
	// HeaderRetryAfter is the fallback header, in seconds or an HTTP date.
	HeaderRetryAfter = "Retry-After"

	// DefaultRetryAfter applies when Retry-After is unparseable, or when a 429
	// response carries no rate-limit header at all.
	DefaultRetryAfter = 60 * time.Second
)

// Map holds, per category, the instant before which sends are suppressed.
type Map map[Category]time.Time

// IsRateLimited reports whether c, or every category, is disabled at now.
func (m Map) IsRateLimited(c Category, now time.Time) bool {
	return m.DisabledUntil(c, now).After(now)
}

// DisabledUntil returns the later of the category and wildcard deadlines.
func (m Map) DisabledUntil(c Category, now time.Time) time.Time {
	until := m[c]
	if all := m[CategoryAll]; all.After(until) {
		until = all
	}
	return until
}

// ParseRateLimits parses an X-Sentry-Rate-Limits value.
//
// The value is a comma separated list of groups, each of the form
//
//	retry_after:categories:scope[:reason_code[:namespaces]]
//
// where categories is a semicolon separated list. An empty category list
// applies the limit to every category; empty tokens inside a non-empty list
// are ignored. Groups whose retry_after is zero or
// not a number are skipped. Unknown category names are kept as-is.
func ParseRateLimits(header string, now time.Time) Map {
	limits := make(Map)
	for _, group := range strings.Split(header, ",") {
		parts := strings.Split(strings.TrimSpace(group), ":")
		seconds, err := strconv.Atoi(strings.TrimSpace(parts[0]))
		if err != nil || seconds <= 0 {
			continue
		}
		until := now.Add(time.Duration(seconds) * time.Second)

		var categories string
		if len(parts) > 1 {
			categories = strings.TrimSpace(parts[1])
		}
		if categories == "" {
			limits[CategoryAll] = until
			continue
		}
		for _, c := range strings.Split(categories, ";") {
			// an empty token inside a list is not the wildcard
			if c = strings.TrimSpace(c); c != "" {
				limits[Category(c)] = until
			}
		}
	}
	return limits
}

// ParseRetryAfter parses a Retry-After value given either as a number of
// seconds or as an HTTP date. The boolean is false when the value could not
// be parsed.
func ParseRetryAfter(header string, now time.Time) (time.Time, bool) {
	header = strings.TrimSpace(header)
	if header == "" {
		return time.Time{}, false
	}
	if seconds, err := strconv.ParseFloat(header, 64); err == nil && !math.IsNaN(seconds) && !math.IsInf(seconds, 0) {
		if seconds < 0 {
			seconds = 0
		}
		return now.Add(time.Duration(seconds * float64(time.Second))), true
	}
	if date, err := http.ParseTime(header); err == nil {
		return date, true
	}
	return time.Time{}, false
}

// FromResponse derives the limits a response imposes. The primary header
// takes precedence over Retry-After; a bare 429 locks everything for
// DefaultRetryAfter.
func FromResponse(statusCode int, headers http.Header, now time.Time) Map {
	if rl := headers.Get(HeaderRateLimits); rl != "" {
		return ParseRateLimits(rl, now)
	}
	if ra := headers.Get(HeaderRetryAfter); ra != "" {
		until, ok := ParseRetryAfter(ra, now)
		if !ok {
			until = now.Add(DefaultRetryAfter)
		}
		return Map{CategoryAll: until}
	}
	if statusCode == http.StatusTooManyRequests {
		return Map{CategoryAll: now.Add(DefaultRetryAfter)}
	}
	return nil
}

// Ledger is a concurrency-safe Map fed from response headers. Entries are
// never deleted; they expire by comparison with the current time.
type Ledger struct {
	mu     sync.RWMutex
	limits Map
	logger *zap.Logger
}

// NewLedger creates an empty ledger.
func NewLedger(logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{
		limits: make(Map),
		logger: logger,
	}
}

// IsRateLimited checks the category entry and the wildcard entry.
func (l *Ledger) IsRateLimited(c Category, now time.Time) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.limits.IsRateLimited(c, now)
}

// DisabledUntil returns the instant until which c is suppressed.
func (l *Ledger) DisabledUntil(c Category, now time.Time) time.Time {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.limits.DisabledUntil(c, now)
}

// Update applies the limits carried by a response. Categories mentioned by
// the response are overwritten; others keep their previous deadline. It
// reports whether the response carried any limit.
func (l *Ledger) Update(statusCode int, headers http.Header, now time.Time) bool {
	limits := FromResponse(statusCode, headers, now)
	if len(limits) == 0 {
		return false
	}

	l.mu.Lock()
	for c, until := range limits {
		l.limits[c] = until
	}
	l.mu.Unlock()

	for c, until := range limits {
		l.logger.Warn("rate limit applied",
			zap.Stringer("category", c),
			zap.Time("disabled_until", until),
			zap.Int("status_code", statusCode))
	}
	return true
}

// Snapshot returns a copy of the deadlines that are still in the future.
func (l *Ledger) Snapshot(now time.Time) Map {
	l.mu.RLock()
	defer l.mu.RUnlock()

	active := make(Map, len(l.limits))
	for c, until := range l.limits {
		if until.After(now) {
			active[c] = until
		}
	}
	return active
}
