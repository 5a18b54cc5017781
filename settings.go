package goclient

import "time"

// PreRequestHook runs just before a request is dispatched. It may mutate
// the outbound request's headers but never its URL or query (see
// SPEC_FULL.md §5.1 on the pre-request-hook-mutation open question). An
// error aborts the attempt with a *HookError; hook errors are never
// retried.
type PreRequestHook func(req *OutboundRequest) error

// PostResponseHook runs just after a response is received, with the
// parsed document (nil for a non-2xx status, or if parsing failed or
// wasn't requested) and the error classified for this attempt — the
// status-derived error, or the JSON parse error of a 2xx body (nil on
// success). An error aborts
// the retry sequence with a *HookError.
type PostResponseHook func(resp *InboundResponse, doc map[string]any, classified error) error

// Settings bundles every tunable knob the engine consumes. It is built
// in code by the concrete client; loading it from environment or files
// is explicitly out of scope (spec.md §1).
type Settings struct {
	// RequestTimeout bounds a single HTTP attempt.
	RequestTimeout time.Duration

	// MaxRetries is the number of retry attempts after the first try
	// (so MaxRetries=0 means exactly one attempt).
	MaxRetries int

	// BackoffBase is the base factor for exponential backoff: delay for
	// attempt n (1-indexed) is BackoffBase * 2^(n-1).
	BackoffBase time.Duration

	// BackoffJitter, when true, perturbs each computed backoff delay by
	// up to ±25%.
	BackoffJitter bool

	// UserAgent is sent as the User-Agent header on every request.
	UserAgent string

	// RateLimitEnabled turns on the proactive low-water pause in the
	// rate-limit tracker (spec.md §4.5 policy 2).
	RateLimitEnabled bool

	// RateLimitBuffer is the fraction in [0,1] of the limit below which
	// the tracker proactively pauses subsequent calls.
	RateLimitBuffer float64

	// DefaultRetryAfter is used when a 429 carries no Retry-After header.
	DefaultRetryAfter time.Duration

	// CacheEnabled turns on the response cache.
	CacheEnabled bool

	// CacheTTL is how long a cached entry stays fresh.
	CacheTTL time.Duration

	// CacheCapacity bounds the number of cached entries (LRU eviction
	// beyond this).
	CacheCapacity int

	// PreRequestHooks run, in order, just before dispatch.
	PreRequestHooks []namedPreHook

	// PostResponseHooks run, in order, just after receive.
	PostResponseHooks []namedPostHook
}

type namedPreHook struct {
	Name string
	Hook PreRequestHook
}

type namedPostHook struct {
	Name string
	Hook PostResponseHook
}

// DefaultSettings returns a Settings populated with the framework's
// defaults, mirroring the teacher's DefaultConfig() shape: every knob
// has a safe, conservative value a concrete client can override
// selectively.
func DefaultSettings() Settings {
	return Settings{
		RequestTimeout:    30 * time.Second,
		MaxRetries:        3,
		BackoffBase:       500 * time.Millisecond,
		BackoffJitter:     true,
		UserAgent:         "scholargraph-goclient/1.0",
		RateLimitEnabled:  true,
		RateLimitBuffer:   0.1,
		DefaultRetryAfter: 30 * time.Second,
		CacheEnabled:      true,
		CacheTTL:          5 * time.Minute,
		CacheCapacity:     256,
	}
}

// AddPreRequestHook registers a named pre-request hook, appended to the
// existing ordered list.
func (s *Settings) AddPreRequestHook(name string, hook PreRequestHook) {
	s.PreRequestHooks = append(s.PreRequestHooks, namedPreHook{Name: name, Hook: hook})
}

// AddPostResponseHook registers a named post-response hook, appended to
// the existing ordered list.
func (s *Settings) AddPostResponseHook(name string, hook PostResponseHook) {
	s.PostResponseHooks = append(s.PostResponseHooks, namedPostHook{Name: name, Hook: hook})
}

// Validate rejects invalid settings combinations with a *ConfigError,
// exactly as the teacher's NewClient validates Config before use.
func (s *Settings) Validate() error {
	if s.RequestTimeout <= 0 {
		return NewConfigError("RequestTimeout must be positive")
	}
	if s.MaxRetries < 0 {
		return NewConfigError("MaxRetries must be non-negative")
	}
	if s.BackoffBase <= 0 {
		return NewConfigError("BackoffBase must be positive")
	}
	if s.RateLimitBuffer < 0 || s.RateLimitBuffer > 1 {
		return NewConfigError("RateLimitBuffer must be within [0,1]")
	}
	if s.DefaultRetryAfter <= 0 {
		return NewConfigError("DefaultRetryAfter must be positive")
	}
	if s.CacheEnabled {
		if s.CacheTTL <= 0 {
			return NewConfigError("CacheTTL must be positive when caching is enabled")
		}
		if s.CacheCapacity <= 0 {
			return NewConfigError("CacheCapacity must be positive when caching is enabled")
		}
	}
	return nil
}
