package goclient

import (
	"errors"
	"math/rand/v2"
	"net"
	"net/http"
	"time"
)

// isRetryableStatusCode reports whether a status code should trigger a
// retry per spec.md §4.6 step f: 408, 425, 429, or any 5xx.
func isRetryableStatusCode(statusCode int) bool {
	switch statusCode {
	case http.StatusRequestTimeout, // 408
		http.StatusTooEarly,        // 425
		http.StatusTooManyRequests: // 429
		return true
	}
	return statusCode >= 500 && statusCode < 600
}

// isRetryableTransportError reports whether a transport-level error
// (connect/DNS/TLS/read) should be retried, following the teacher's
// retry.go classification style.
func isRetryableTransportError(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	return false
}

// backoffDelay computes the inter-attempt delay for attempt index n
// (0-indexed) per spec.md §4.6 step g: base * 2^n, with optional
// jitter bounded to ±25%.
func backoffDelay(base time.Duration, attempt int, jitter bool) time.Duration {
	shift := attempt
	if shift > 20 {
		shift = 20 // guard against overflow; no realistic settings exceed this
	}
	delay := base * time.Duration(int64(1)<<uint(shift))
	if !jitter {
		return delay
	}
	// perturb by up to +/-25%: factor in [0.75, 1.25]
	factor := 0.75 + rand.Float64()*0.5
	return time.Duration(float64(delay) * factor)
}
