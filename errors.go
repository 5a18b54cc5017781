package goclient

import (
	"fmt"
	"strings"
)

// RequestInfo describes the outbound request a FrameworkError failed on.
type RequestInfo struct {
	Method string
	URL    string
}

func (r *RequestInfo) String() string {
	if r == nil {
		return ""
	}
	return fmt.Sprintf("%s %s", r.Method, r.URL)
}

// ResponseInfo describes the last response observed before an error
// surfaced. BodySnippet is bounded to a small prefix of the response
// body so errors never carry unbounded payloads.
type ResponseInfo struct {
	StatusCode  int
	Headers     map[string]string
	BodySnippet string
}

const bodySnippetLimit = 1024

func newResponseInfo(status int, headers map[string]string, body []byte) *ResponseInfo {
	snippet := body
	if len(snippet) > bodySnippetLimit {
		snippet = snippet[:bodySnippetLimit]
	}
	return &ResponseInfo{
		StatusCode:  status,
		Headers:     headers,
		BodySnippet: string(snippet),
	}
}

// FrameworkError is the root of the engine's error taxonomy. Every error
// the engine surfaces implements this interface; callers may type-switch
// on it to treat all framework-originated failures uniformly, or use
// errors.As against one of the concrete kinds below for finer handling.
type FrameworkError interface {
	error
	Request() *RequestInfo
	Response() *ResponseInfo
	Attempts() int
}

// baseError carries the fields common to every taxonomy member.
type baseError struct {
	request  *RequestInfo
	response *ResponseInfo
	attempts int
	message  string
}

func (e *baseError) Request() *RequestInfo   { return e.request }
func (e *baseError) Response() *ResponseInfo { return e.response }
func (e *baseError) Attempts() int           { return e.attempts }

func (e *baseError) describe(kind string) string {
	var b strings.Builder
	b.WriteString(kind)
	if e.message != "" {
		b.WriteString(": ")
		b.WriteString(e.message)
	}
	if e.request != nil {
		fmt.Fprintf(&b, " (%s)", e.request.String())
	}
	if e.response != nil {
		fmt.Fprintf(&b, " [status %d, attempts %d]", e.response.StatusCode, e.attempts)
	} else if e.attempts > 0 {
		fmt.Fprintf(&b, " [attempts %d]", e.attempts)
	}
	return b.String()
}

// ConfigError reports invalid or missing settings. Never retried.
type ConfigError struct{ baseError }

func (e *ConfigError) Error() string { return e.describe("config error") }

func NewConfigError(message string) *ConfigError {
	return &ConfigError{baseError{message: message}}
}

// AuthError reports credential acquisition/injection failure, or a
// server-side 401/403 after auth was applied.
type AuthError struct{ baseError }

func (e *AuthError) Error() string { return e.describe("auth error") }

func NewAuthError(message string, req *RequestInfo, resp *ResponseInfo, attempts int) *AuthError {
	return &AuthError{baseError{request: req, response: resp, attempts: attempts, message: message}}
}

// NetworkError reports a transport-level failure surviving all retries.
type NetworkError struct {
	baseError
	cause     error
	retryable bool
}

func (e *NetworkError) Error() string {
	msg := e.describe("network error")
	if e.cause != nil {
		msg += ": " + e.cause.Error()
	}
	return msg
}

func (e *NetworkError) Unwrap() error { return e.cause }

// NewNetworkError wraps a transport-level cause. Retryability mirrors the
// teacher's isRetryableError: recognized connect/DNS/TLS/read failures
// (net.Error, net.OpError) are retried, unrecognized causes are not.
func NewNetworkError(cause error, req *RequestInfo, attempts int) *NetworkError {
	return &NetworkError{
		baseError: baseError{request: req, attempts: attempts},
		cause:     cause,
		retryable: isRetryableTransportError(cause),
	}
}

// TimeoutErrorKind reports the overall request exceeding its time budget.
type TimeoutErrorKind struct{ baseError }

func (e *TimeoutErrorKind) Error() string { return e.describe("timeout error") }

func NewTimeoutError(req *RequestInfo, attempts int) *TimeoutErrorKind {
	return &TimeoutErrorKind{baseError{request: req, attempts: attempts, message: "request exceeded time budget"}}
}

// ApiError reports a non-success status not covered by a narrower kind.
type ApiError struct{ baseError }

func (e *ApiError) Error() string { return e.describe("api error") }

func NewApiError(message string, req *RequestInfo, resp *ResponseInfo, attempts int) *ApiError {
	return &ApiError{baseError{request: req, response: resp, attempts: attempts, message: message}}
}

// NotFoundError reports HTTP 404. It is a type of its own, not built on
// ApiError: errors.As with an *ApiError target does not match it.
type NotFoundError struct{ baseError }

func (e *NotFoundError) Error() string { return e.describe("not found") }

func NewNotFoundError(req *RequestInfo, resp *ResponseInfo, attempts int) *NotFoundError {
	return &NotFoundError{baseError{request: req, response: resp, attempts: attempts}}
}

// RateLimitError reports a 429 that persisted after retries were
// exhausted. Like NotFoundError it is a type of its own: errors.As with
// an *ApiError target does not match it.
type RateLimitError struct{ baseError }

func (e *RateLimitError) Error() string { return e.describe("rate limit exceeded") }

func NewRateLimitError(req *RequestInfo, resp *ResponseInfo, attempts int) *RateLimitError {
	return &RateLimitError{baseError{request: req, response: resp, attempts: attempts}}
}

// ValidationErrorKind reports invalid request arguments or a response
// body that could not be parsed into the expected shape. Never retried.
type ValidationErrorKind struct {
	baseError
	Field string
}

func (e *ValidationErrorKind) Error() string {
	if e.Field != "" {
		return e.describe(fmt.Sprintf("validation error (%s)", e.Field))
	}
	return e.describe("validation error")
}

func NewValidationError(field, message string) *ValidationErrorKind {
	return &ValidationErrorKind{baseError: baseError{message: message}, Field: field}
}

// HookError wraps an error raised by a pre- or post-request hook, with
// the hook's name attached. Hook errors are never retried.
type HookError struct {
	baseError
	HookName string
	cause    error
}

func (e *HookError) Error() string {
	return e.describe(fmt.Sprintf("hook %q failed", e.HookName)) + ": " + e.cause.Error()
}

func (e *HookError) Unwrap() error { return e.cause }

func NewHookError(name string, cause error, req *RequestInfo) *HookError {
	return &HookError{baseError: baseError{request: req}, HookName: name, cause: cause}
}
