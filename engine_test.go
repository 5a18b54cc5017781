package goclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

// testEnvelope understands a minimal {"results": [...], "next": "...",
// "total": N} shape, standing in for a concrete client's real envelope.
type testEnvelope struct{}

func (testEnvelope) Results(doc map[string]any) []map[string]any {
	raw, _ := doc["results"].([]any)
	out := make([]map[string]any, 0, len(raw))
	for _, item := range raw {
		if m, ok := item.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

func (e testEnvelope) Single(doc map[string]any) (map[string]any, error) {
	results := e.Results(doc)
	if len(results) != 1 {
		return nil, NewValidationError("body", "expected exactly one result")
	}
	return results[0], nil
}

func (testEnvelope) NextCursor(doc map[string]any) (string, bool) {
	next, ok := doc["next"].(string)
	if !ok || next == "" {
		return "", false
	}
	return next, true
}

func (testEnvelope) Total(doc map[string]any) (int, bool) {
	total, ok := doc["total"].(float64)
	if !ok {
		return 0, false
	}
	return int(total), true
}

func testSettings() Settings {
	s := DefaultSettings()
	s.RequestTimeout = 2 * time.Second
	s.BackoffBase = 5 * time.Millisecond
	s.BackoffJitter = false
	s.CacheCapacity = 64
	s.CacheTTL = time.Minute
	return s
}

func newTestEngine(t *testing.T, baseURL string, settings Settings) *Engine {
	t.Helper()
	eng, err := NewEngine(baseURL, settings, testEnvelope{}, nil, zap.NewNop())
	if err != nil {
		t.Fatalf("unexpected error constructing engine: %v", err)
	}
	t.Cleanup(eng.Release)
	return eng
}

func TestNewEngineRejectsMissingBaseURL(t *testing.T) {
	if _, err := NewEngine("", DefaultSettings(), testEnvelope{}, nil, nil); err == nil {
		t.Fatal("expected ConfigError for missing base URL")
	}
}

func TestNewEngineRejectsNilEnvelope(t *testing.T) {
	if _, err := NewEngine("http://x", DefaultSettings(), nil, nil, nil); err == nil {
		t.Fatal("expected ConfigError for nil envelope")
	}
}

func TestNewEngineRejectsInvalidSettings(t *testing.T) {
	bad := DefaultSettings()
	bad.MaxRetries = -1
	if _, err := NewEngine("http://x", bad, testEnvelope{}, nil, nil); err == nil {
		t.Fatal("expected ConfigError for invalid settings")
	}
}

func TestRequestSuccessReturnsParsedDocument(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"results": []any{map[string]any{"id": "1"}}})
	}))
	defer server.Close()

	eng := newTestEngine(t, server.URL, testSettings())
	doc, err := eng.Request(context.Background(), "GET", "/works", nil, nil, DefaultRequestOptions())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	results, _ := doc["results"].([]any)
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %+v", doc)
	}
}

func TestRequestCachesIdempotentReads(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"results": []any{}})
	}))
	defer server.Close()

	eng := newTestEngine(t, server.URL, testSettings())
	opts := DefaultRequestOptions()

	for i := 0; i < 3; i++ {
		if _, err := eng.Request(context.Background(), "GET", "/works", nil, nil, opts); err != nil {
			t.Fatalf("unexpected error on call %d: %v", i, err)
		}
	}

	if got := atomic.LoadInt32(&hits); got != 1 {
		t.Fatalf("expected exactly one upstream request due to caching, got %d", got)
	}
}

func TestRequestRetriesOn5xxThenSucceeds(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"results": []any{}})
	}))
	defer server.Close()

	settings := testSettings()
	settings.CacheEnabled = false
	eng := newTestEngine(t, server.URL, settings)

	opts := DefaultRequestOptions()
	opts.CacheAllowed = false
	_, err := eng.Request(context.Background(), "GET", "/works", nil, nil, opts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Fatalf("expected 3 upstream calls (2 failures + 1 success), got %d", got)
	}
}

func TestMaxRetriesZeroMeansExactlyOneAttempt(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	settings := testSettings()
	settings.MaxRetries = 0
	settings.CacheEnabled = false
	eng := newTestEngine(t, server.URL, settings)

	opts := DefaultRequestOptions()
	opts.CacheAllowed = false
	_, err := eng.Request(context.Background(), "GET", "/works", nil, nil, opts)
	if err == nil {
		t.Fatal("expected an error from a persistently failing upstream")
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected exactly one attempt, got %d", got)
	}
}

func TestAuthErrorsAreNeverRetried(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	settings := testSettings()
	settings.CacheEnabled = false
	eng := newTestEngine(t, server.URL, settings)

	opts := DefaultRequestOptions()
	opts.CacheAllowed = false
	_, err := eng.Request(context.Background(), "GET", "/works", nil, nil, opts)
	if err == nil {
		t.Fatal("expected an AuthError")
	}
	if _, ok := err.(*AuthError); !ok {
		t.Fatalf("expected *AuthError, got %T", err)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected exactly one attempt for a non-retryable error, got %d", got)
	}
}

func TestRequestHonorsRetryAfterOn429(t *testing.T) {
	var calls int32
	var firstCallAt, secondCallAt time.Time
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n == 1 {
			firstCallAt = time.Now()
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		secondCallAt = time.Now()
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"results": []any{}})
	}))
	defer server.Close()

	settings := testSettings()
	settings.CacheEnabled = false
	eng := newTestEngine(t, server.URL, settings)

	opts := DefaultRequestOptions()
	opts.CacheAllowed = false
	_, err := eng.Request(context.Background(), "GET", "/works", nil, nil, opts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("expected exactly 2 calls, got %d", calls)
	}
	if secondCallAt.Before(firstCallAt) {
		t.Fatal("expected the retried call to happen after the first")
	}
}

func TestRequestReturnsConfigErrorAfterRelease(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"results": []any{}})
	}))
	defer server.Close()

	eng, err := NewEngine(server.URL, testSettings(), testEnvelope{}, nil, zap.NewNop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	eng.Release()
	eng.Release() // idempotent, must not panic

	_, err = eng.Request(context.Background(), "GET", "/works", nil, nil, DefaultRequestOptions())
	if err == nil {
		t.Fatal("expected a ConfigError after Release")
	}
	if _, ok := err.(*ConfigError); !ok {
		t.Fatalf("expected *ConfigError, got %T", err)
	}
}

func TestRequestSurfacesTimeoutOnAttemptTimeout(t *testing.T) {
	block := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer func() {
		close(block)
		server.Close()
	}()

	settings := testSettings()
	settings.RequestTimeout = 50 * time.Millisecond
	settings.MaxRetries = 0
	settings.CacheEnabled = false
	eng := newTestEngine(t, server.URL, settings)

	opts := DefaultRequestOptions()
	opts.CacheAllowed = false
	_, err := eng.Request(context.Background(), "GET", "/works", nil, nil, opts)
	if err == nil {
		t.Fatal("expected a timeout error")
	}
	if _, ok := err.(*TimeoutErrorKind); !ok {
		t.Fatalf("expected *TimeoutErrorKind, got %T", err)
	}
}

func TestEngineRateLimitSnapshotReflectsObservedHeaders(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-RateLimit-Limit", "100")
		w.Header().Set("X-RateLimit-Remaining", "7")
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"results": []any{}})
	}))
	defer server.Close()

	settings := testSettings()
	settings.CacheEnabled = false
	eng := newTestEngine(t, server.URL, settings)

	opts := DefaultRequestOptions()
	opts.CacheAllowed = false
	if _, err := eng.Request(context.Background(), "GET", "/works", nil, nil, opts); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	snap := eng.RateLimitSnapshot()
	if snap.Limit != 100 || snap.Remaining != 7 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
}
