package goclient

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RequestOptions tunes a single call to Engine.Request, matching the
// `expects_json`/`cache_allowed` parameters of spec.md §4.6, plus the
// per-call MaxRetries override spec.md §4.6 "Idempotency" calls out as
// an extension point for clients that want to suppress retries for a
// specific method.
type RequestOptions struct {
	ExpectsJSON  bool
	CacheAllowed bool
	MaxRetries   *int
	// BodyFingerprint lets a caller opt a non-empty body into the cache
	// key (spec.md §3 Cache entry); reads normally leave this empty.
	BodyFingerprint string
}

// DefaultRequestOptions matches the spec's stated defaults.
func DefaultRequestOptions() RequestOptions {
	return RequestOptions{ExpectsJSON: true, CacheAllowed: true}
}

// Engine is the resilient request engine (spec.md C7): it orchestrates
// auth, cache, the rate gate, HTTP execution, retry, and hook dispatch
// for a single logical API binding.
type Engine struct {
	baseURL    *url.URL
	settings   Settings
	auth       AuthStrategy
	envelope   Envelope
	httpClient *http.Client
	cache      *responseCache
	rateLimit  *rateLimitTracker
	logger     *zap.Logger

	released atomic.Bool
}

// NewEngine constructs an Engine bound to baseURL, validating settings
// and rejecting invalid combinations with a *ConfigError (spec.md §4.6
// "Lifecycle"), exactly as the teacher's NewClient validates Config.
func NewEngine(baseURL string, settings Settings, envelope Envelope, auth AuthStrategy, logger *zap.Logger) (*Engine, error) {
	if baseURL == "" {
		return nil, NewConfigError("base URL is required")
	}
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, NewConfigError("invalid base URL: " + err.Error())
	}
	if envelope == nil {
		return nil, NewConfigError("envelope implementation is required")
	}
	if auth == nil {
		auth = NoAuthStrategy{}
	}
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var cache *responseCache
	if settings.CacheEnabled {
		cache = newResponseCache(settings.CacheCapacity, settings.CacheTTL)
	}

	return &Engine{
		baseURL:    parsed,
		settings:   settings,
		auth:       auth,
		envelope:   envelope,
		httpClient: &http.Client{},
		cache:      cache,
		rateLimit:  newRateLimitTracker(settings.RateLimitEnabled, settings.RateLimitBuffer, settings.DefaultRetryAfter),
		logger:     logger,
	}, nil
}

// Release closes the underlying transport and drops cached entries
// (spec.md §4.6 "Lifecycle", §5 "Cleanup"). After Release, further
// calls surface a *ConfigError.
func (e *Engine) Release() {
	if e.released.CompareAndSwap(false, true) {
		e.httpClient.CloseIdleConnections()
		if e.cache != nil {
			e.cache.purge()
		}
	}
}

// RateLimitSnapshot exposes the tracker's current view of the upstream
// quota (SPEC_FULL.md §4 "Quota/usage introspection"), mirroring the
// teacher's GetLastQuota(). It is informational only and has no effect
// on dispatch.
func (e *Engine) RateLimitSnapshot() RateLimitSnapshot {
	return e.rateLimit.snapshot()
}

// Request performs one logical call through the engine (spec.md §4.6).
func (e *Engine) Request(ctx context.Context, method, path string, query url.Values, body []byte, opts RequestOptions) (map[string]any, error) {
	if e.released.Load() {
		return nil, NewConfigError("engine has been released")
	}

	resolved, mergedQuery, err := e.normalize(path, query)
	if err != nil {
		return nil, err
	}
	reqInfo := &RequestInfo{Method: method, URL: resolved.String()}

	key := ""
	idempotent := isIdempotentMethod(method)
	if idempotent && opts.CacheAllowed && e.cache != nil {
		key = cacheKey(method, resolved, mergedQuery, opts.BodyFingerprint)
		if entry, ok := e.cache.get(key); ok {
			e.logger.Debug("cache hit", zap.String("method", method), zap.String("url", resolved.String()))
			return entry.doc, nil
		}
	}

	if err := e.awaitRateGate(ctx); err != nil {
		return nil, err
	}

	maxRetries := e.settings.MaxRetries
	if opts.MaxRetries != nil {
		maxRetries = *opts.MaxRetries
	}

	correlationID := uuid.NewString()
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		doc, status, headers, classifyErr, fatal := e.attempt(ctx, correlationID, method, resolved, mergedQuery, body, opts, reqInfo, attempt)
		if fatal != nil {
			return nil, fatal
		}

		if classifyErr == nil {
			if idempotent && opts.CacheAllowed && e.cache != nil && key != "" {
				e.cache.put(key, cacheEntry{doc: doc, status: status})
			}
			return doc, nil
		}

		lastErr = classifyErr
		if !isRetryableClassification(classifyErr) || attempt == maxRetries {
			break
		}

		delay := e.retryDelay(classifyErr, status, headers, attempt)
		e.logger.Warn("retrying request",
			zap.String("method", method), zap.String("url", resolved.String()), zap.String("request_id", correlationID),
			zap.Int("attempt", attempt), zap.Duration("delay", delay))

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, NewTimeoutError(reqInfo, attempt+1)
		}
	}

	return nil, lastErr
}

// normalize resolves the absolute URL and merges query parameters
// (spec.md §4.6 step 1).
func (e *Engine) normalize(path string, query url.Values) (*url.URL, url.Values, error) {
	ref, err := url.Parse(path)
	if err != nil {
		return nil, nil, NewValidationError("path", "invalid request path: "+err.Error())
	}
	resolved := e.baseURL.ResolveReference(ref)

	merged := url.Values{}
	for k, v := range resolved.Query() {
		merged[k] = append(merged[k], v...)
	}
	for k, v := range query {
		merged[k] = append(merged[k], v...)
	}
	resolved.RawQuery = merged.Encode()
	return resolved, merged, nil
}

// awaitRateGate waits on the tracker's pause-until, honoring
// cancellation (spec.md §4.6 step 3, §5 suspension point (a)).
func (e *Engine) awaitRateGate(ctx context.Context) error {
	pause := e.rateLimit.pauseUntilTime()
	if pause.IsZero() {
		return nil
	}
	wait := time.Until(pause)
	if wait <= 0 {
		return nil
	}
	e.logger.Warn("waiting on rate-limit pause", zap.Duration("wait", wait))
	select {
	case <-time.After(wait):
		return nil
	case <-ctx.Done():
		return NewTimeoutError(nil, 0)
	}
}

// attempt runs a single pass through steps 4a-4f of spec.md §4.6. The
// final return value (fatal) is non-nil only for errors that must
// abort the whole retry sequence unconditionally (hook errors, and a
// failure to build the HTTP request). Caller cancellation is handled
// by Request, not reported as fatal here.
func (e *Engine) attempt(
	ctx context.Context,
	correlationID string,
	method string,
	resolved *url.URL,
	query url.Values,
	body []byte,
	opts RequestOptions,
	reqInfo *RequestInfo,
	attemptIndex int,
) (doc map[string]any, status int, headers http.Header, classified error, fatal error) {
	out := &OutboundRequest{
		Method: method,
		Header: make(http.Header),
		url:    resolved,
		query:  query,
	}
	out.Header.Set("User-Agent", e.settings.UserAgent)
	out.Header.Set("Accept", "application/json")
	out.Header.Set("X-Request-Id", correlationID)

	if err := e.auth.Apply(ctx, out); err != nil {
		return nil, 0, nil, err, nil
	}

	for _, h := range e.settings.PreRequestHooks {
		if err := h.Hook(out); err != nil {
			return nil, 0, nil, nil, NewHookError(h.Name, err, reqInfo)
		}
	}

	attemptCtx, cancel := context.WithTimeout(ctx, e.settings.RequestTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(attemptCtx, method, resolved.String(), bodyReader(body))
	if err != nil {
		return nil, 0, nil, nil, NewConfigError("failed to build HTTP request: " + err.Error())
	}
	httpReq.Header = out.Header

	start := time.Now()
	httpResp, err := e.httpClient.Do(httpReq)
	latency := time.Since(start)

	if err != nil {
		if attemptCtx.Err() != nil && ctx.Err() == nil {
			// this attempt's own timeout fired, not the caller's deadline
			classified = NewTimeoutError(reqInfo, attemptIndex+1)
		} else {
			classified = NewNetworkError(err, reqInfo, attemptIndex+1)
		}
		e.logger.Debug("request failed", zap.String("method", method), zap.String("url", resolved.String()),
			zap.String("request_id", correlationID), zap.Int("attempt", attemptIndex), zap.Duration("latency", latency), zap.Error(err))
		return nil, 0, nil, classified, nil
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		classified = NewNetworkError(err, reqInfo, attemptIndex+1)
		return nil, httpResp.StatusCode, httpResp.Header, classified, nil
	}

	inbound := &InboundResponse{StatusCode: httpResp.StatusCode, Header: httpResp.Header, Body: respBody}

	var parsedDoc map[string]any
	var parseErr error
	if httpResp.StatusCode >= 200 && httpResp.StatusCode < 300 && opts.ExpectsJSON {
		parsedDoc, parseErr = parseJSONDoc(respBody)
	}

	classified = e.classify(httpResp.StatusCode, httpResp.Header, respBody, parseErr, reqInfo, attemptIndex+1)
	hookErr := classified
	if hookErr == nil {
		hookErr = parseErr
	}

	for _, h := range e.settings.PostResponseHooks {
		if err := h.Hook(inbound, parsedDoc, hookErr); err != nil {
			return nil, httpResp.StatusCode, httpResp.Header, nil, NewHookError(h.Name, err, reqInfo)
		}
	}

	e.rateLimit.observe(httpResp.StatusCode, httpResp.Header)

	e.logger.Debug("request completed",
		zap.String("method", method), zap.String("url", resolved.String()), zap.String("request_id", correlationID),
		zap.Int("attempt", attemptIndex), zap.Int("status", httpResp.StatusCode), zap.Duration("latency", latency))

	if classified == nil {
		if parseErr != nil {
			return nil, httpResp.StatusCode, httpResp.Header, parseErr, nil
		}
		return parsedDoc, httpResp.StatusCode, httpResp.Header, nil, nil
	}
	return nil, httpResp.StatusCode, httpResp.Header, classified, nil
}

// classify implements spec.md §4.6 step f.
func (e *Engine) classify(status int, headers http.Header, body []byte, parseErr error, reqInfo *RequestInfo, attempts int) error {
	if status >= 200 && status < 300 {
		return nil
	}

	snapHeaders := snapshotHeaders(headers)
	respInfo := newResponseInfo(status, snapHeaders, body)

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return NewAuthError("server rejected credentials", reqInfo, respInfo, attempts)
	case status == http.StatusNotFound:
		return NewNotFoundError(reqInfo, respInfo, attempts)
	case status == http.StatusTooManyRequests:
		return NewRateLimitError(reqInfo, respInfo, attempts)
	case isRetryableStatusCode(status):
		return NewApiError("retryable server error", reqInfo, respInfo, attempts)
	default:
		return NewApiError("unexpected response status", reqInfo, respInfo, attempts)
	}
}

// retryDelay computes the inter-attempt delay for classifyErr, honoring
// the rate tracker's pause-until for 429s (spec.md §4.6 step g).
func (e *Engine) retryDelay(classifyErr error, status int, headers http.Header, attempt int) time.Duration {
	if status == http.StatusTooManyRequests {
		pause := e.rateLimit.pauseUntilTime()
		if wait := time.Until(pause); wait > 0 {
			return wait
		}
	}
	return backoffDelay(e.settings.BackoffBase, attempt, e.settings.BackoffJitter)
}

// isRetryableClassification reports whether a classified error should
// trigger another attempt. AuthError, NotFoundError, and
// ValidationErrorKind are never retried (spec.md §4.6 step f, §7).
func isRetryableClassification(err error) bool {
	switch e := err.(type) {
	case *NetworkError:
		return e.retryable
	case *TimeoutErrorKind, *RateLimitError:
		return true
	case *ApiError:
		// classify() only returns *ApiError for retryable statuses or
		// genuinely terminal "other 4xx" — disambiguate via status.
		apiErr := err.(*ApiError)
		if apiErr.Response() != nil {
			return isRetryableStatusCode(apiErr.Response().StatusCode)
		}
		return false
	default:
		return false
	}
}

func bodyReader(body []byte) io.Reader {
	if body == nil {
		return nil
	}
	return bytes.NewReader(body)
}

func parseJSONDoc(body []byte) (map[string]any, error) {
	if len(body) == 0 {
		return map[string]any{}, nil
	}
	var doc map[string]any
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, NewValidationError("body", "response body is not a valid JSON object: "+err.Error())
	}
	return doc, nil
}

func snapshotHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k := range h {
		out[k] = h.Get(k)
	}
	return out
}
