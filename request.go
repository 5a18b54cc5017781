package goclient

import (
	"net/http"
	"net/url"
)

// OutboundRequest is the mutable request descriptor passed to
// pre-request hooks and auth strategies. Per the open-question decision
// in SPEC_FULL.md §5.1, hooks may mutate Header but must not mutate URL
// or Query — both are unexported so only the engine can set them.
type OutboundRequest struct {
	Method string
	Header http.Header

	url   *url.URL
	query url.Values
}

// URL returns the resolved absolute URL this request will be sent to
// (read-only; see OutboundRequest doc).
func (r *OutboundRequest) URL() *url.URL {
	clone := *r.url
	return &clone
}

// Query returns a copy of the merged query parameters (read-only).
func (r *OutboundRequest) Query() url.Values {
	clone := make(url.Values, len(r.query))
	for k, v := range r.query {
		clone[k] = append([]string(nil), v...)
	}
	return clone
}

// InboundResponse is the response descriptor passed to post-response
// hooks.
type InboundResponse struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}
