package goclient

import (
	"errors"
	"testing"
)

func TestErrorKindsImplementFrameworkError(t *testing.T) {
	kinds := []FrameworkError{
		NewConfigError("bad setting"),
		NewAuthError("denied", nil, nil, 1),
		NewNetworkError(errors.New("dial failed"), &RequestInfo{Method: "GET", URL: "http://x"}, 2),
		NewTimeoutError(&RequestInfo{Method: "GET", URL: "http://x"}, 4),
		NewApiError("boom", nil, newResponseInfo(500, nil, nil), 1),
		NewNotFoundError(&RequestInfo{Method: "GET", URL: "http://x"}, newResponseInfo(404, nil, nil), 1),
		NewRateLimitError(nil, newResponseInfo(429, nil, nil), 3),
		NewValidationError("sort_by", "bad syntax"),
	}

	for _, k := range kinds {
		if k.Error() == "" {
			t.Errorf("%T: Error() returned empty string", k)
		}
	}
}

func TestNetworkErrorUnwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := NewNetworkError(cause, nil, 1)

	if !errors.Is(err, cause) {
		t.Fatal("expected errors.Is to find the wrapped cause")
	}

	var netErr *NetworkError
	if !errors.As(err, &netErr) {
		t.Fatal("expected errors.As to match *NetworkError")
	}
}

func TestResponseInfoSnippetIsBounded(t *testing.T) {
	big := make([]byte, bodySnippetLimit*4)
	for i := range big {
		big[i] = 'a'
	}

	info := newResponseInfo(500, nil, big)
	if len(info.BodySnippet) != bodySnippetLimit {
		t.Fatalf("expected snippet bounded to %d bytes, got %d", bodySnippetLimit, len(info.BodySnippet))
	}
}

func TestHookErrorCarriesHookName(t *testing.T) {
	cause := errors.New("hook exploded")
	err := NewHookError("audit-log", cause, &RequestInfo{Method: "GET", URL: "http://x"})

	if err.HookName != "audit-log" {
		t.Fatalf("expected hook name to be preserved, got %q", err.HookName)
	}
	if !errors.Is(err, cause) {
		t.Fatal("expected errors.Is to find the wrapped cause")
	}
}

func TestRootErrorCatchesEveryKind(t *testing.T) {
	var errs []error = []error{
		NewConfigError("x"),
		NewAuthError("x", nil, nil, 0),
		NewNetworkError(errors.New("x"), nil, 0),
		NewTimeoutError(nil, 0),
		NewApiError("x", nil, nil, 0),
		NewNotFoundError(nil, nil, 0),
		NewRateLimitError(nil, nil, 0),
		NewValidationError("f", "x"),
		NewHookError("h", errors.New("x"), nil),
	}

	for _, e := range errs {
		fe, ok := e.(FrameworkError)
		if !ok {
			t.Errorf("%T does not implement FrameworkError", e)
			continue
		}
		_ = fe.Request()
		_ = fe.Response()
		_ = fe.Attempts()
	}
}
