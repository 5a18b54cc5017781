package goclient

import (
	"net/http"
	"strconv"
	"sync"
	"time"
)

// RateLimitSnapshot is the informational view of the tracker's state,
// mirroring the teacher's QuotaInfo/GetLastQuota() introspection (see
// SPEC_FULL.md §4 "Quota/usage introspection"). Reached through
// Engine.RateLimitSnapshot(); purely informational, it never gates
// dispatch itself.
type RateLimitSnapshot struct {
	Limit      int
	Remaining  int
	Reset      time.Time
	PauseUntil time.Time
}

// rateLimitTracker observes X-RateLimit-* and Retry-After response
// headers and gates subsequent dispatch (spec.md §4.5, §3 Rate-limit
// state).
type rateLimitTracker struct {
	mu         sync.Mutex
	limit      int
	remaining  int
	reset      time.Time
	pauseUntil time.Time

	enabled bool
	buffer  float64
	// defaultRetryAfter is used when a 429 carries no Retry-After header.
	defaultRetryAfter time.Duration
	now               func() time.Time
}

func newRateLimitTracker(enabled bool, buffer float64, defaultRetryAfter time.Duration) *rateLimitTracker {
	return &rateLimitTracker{
		enabled:           enabled,
		buffer:            buffer,
		defaultRetryAfter: defaultRetryAfter,
		now:               time.Now,
	}
}

// observe updates tracker state from a response's headers and status,
// implementing the policy of spec.md §4.5.
func (t *rateLimitTracker) observe(statusCode int, headers http.Header) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if limit, ok := parseIntHeader(headers, "X-RateLimit-Limit"); ok {
		t.limit = limit
	}
	if remaining, ok := parseIntHeader(headers, "X-RateLimit-Remaining"); ok {
		t.remaining = remaining
	}
	if reset, ok := parseEpochHeader(headers, "X-RateLimit-Reset"); ok {
		t.reset = reset
	}

	now := t.now()

	if statusCode == http.StatusTooManyRequests {
		pause := t.parseRetryAfter(headers, now)
		if pause.After(t.pauseUntil) {
			t.pauseUntil = pause
		}
	}

	if t.enabled && t.limit > 0 {
		ratio := float64(t.remaining) / float64(t.limit)
		if ratio <= t.buffer && !t.reset.IsZero() {
			candidate := t.reset
			if t.pauseUntil.IsZero() || candidate.Before(t.pauseUntil) {
				t.pauseUntil = candidate
			}
		}
	}
}

// parseRetryAfter implements spec.md §4.5 policy 1.
func (t *rateLimitTracker) parseRetryAfter(headers http.Header, now time.Time) time.Time {
	raw := headers.Get("Retry-After")
	if raw == "" {
		return now.Add(t.defaultRetryAfter)
	}
	if seconds, err := strconv.Atoi(raw); err == nil {
		return now.Add(time.Duration(seconds) * time.Second)
	}
	if when, err := http.ParseTime(raw); err == nil {
		return when
	}
	return now.Add(t.defaultRetryAfter)
}

// pauseUntilTime returns the absolute time before which no request
// should be dispatched (zero value means no pause in effect).
func (t *rateLimitTracker) pauseUntilTime() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pauseUntil
}

func (t *rateLimitTracker) snapshot() RateLimitSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return RateLimitSnapshot{
		Limit:      t.limit,
		Remaining:  t.remaining,
		Reset:      t.reset,
		PauseUntil: t.pauseUntil,
	}
}

func parseIntHeader(headers http.Header, name string) (int, bool) {
	raw := headers.Get(name)
	if raw == "" {
		return 0, false
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return v, true
}

func parseEpochHeader(headers http.Header, name string) (time.Time, bool) {
	raw := headers.Get(name)
	if raw == "" {
		return time.Time{}, false
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.Unix(v, 0), true
}
