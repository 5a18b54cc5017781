package goclient

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"net/url"
	"regexp"
	"strconv"
)

// KV is a single name/value pair produced by a Flattenable filter.
type KV struct {
	Name  string
	Value string
}

// Flattenable lets a structured filter value describe itself as a flat
// list of name/value query pairs (spec.md §4.7.2, SPEC_FULL.md §4
// "Bulk-friendly filter flattening"). Null-valued fields must be
// elided by the implementation.
type Flattenable interface {
	Fields() []KV
}

// Filters is the tagged variant spec.md §9 calls for: either a
// structured Flattenable value or a raw name->value map.
type Filters struct {
	structured Flattenable
	raw        map[string]string
}

// StructuredFilters wraps a Flattenable value as a Filters.
func StructuredFilters(f Flattenable) Filters { return Filters{structured: f} }

// RawFilters wraps a plain name->value map as a Filters.
func RawFilters(m map[string]string) Filters { return Filters{raw: m} }

func (f Filters) apply(q url.Values) {
	if f.structured != nil {
		for _, kv := range f.structured.Fields() {
			if kv.Value == "" {
				continue
			}
			q.Set(kv.Name, kv.Value)
		}
	}
	for k, v := range f.raw {
		if v == "" {
			continue
		}
		q.Set(k, v)
	}
}

var sortBySyntax = regexp.MustCompile(`^\S+\s+(asc|desc)$`)

// ValidateSortBy checks the syntax "<field> <direction>" (direction is
// asc or desc). Field-name validity is the concrete client's
// responsibility (spec.md §4.7.2).
func ValidateSortBy(sortBy string) error {
	if sortBy == "" {
		return nil
	}
	if !sortBySyntax.MatchString(sortBy) {
		return NewValidationError("sort_by", `must match "<field> asc|desc"`)
	}
	return nil
}

// SearchOptions parameterizes Resource.Search and Resource.Iterate
// (spec.md §4.7.2/§4.7.3).
type SearchOptions struct {
	Page     int // 1-based; ignored by Iterate
	PageSize int
	SortBy   string
	Filters  Filters
}

func (o SearchOptions) toQuery() (url.Values, error) {
	if err := ValidateSortBy(o.SortBy); err != nil {
		return nil, err
	}
	q := url.Values{}
	if o.PageSize > 0 {
		q.Set("page_size", strconv.Itoa(o.PageSize))
	}
	if o.SortBy != "" {
		q.Set("sort", o.SortBy)
	}
	o.Filters.apply(q)
	return q, nil
}

// Resource is a typed binding of a path fragment to single/search
// result models (spec.md §4.7 "Resource binding").
type Resource[Single any, Search any] struct {
	engine *Engine
	path   string
}

// NewResource declares a resource binding: a path fragment (e.g.
// "works") with typed models for single items and search responses.
func NewResource[Single any, Search any](engine *Engine, path string) *Resource[Single, Search] {
	return &Resource[Single, Search]{engine: engine, path: path}
}

// Get performs the search-style id lookup of spec.md §4.7.1: a GET
// against the resource path filtering by id with page_size=1, then
// envelope.Single on the result. Zero results surfaces *NotFoundError
// (the open-question decision recorded in SPEC_FULL.md §5.2).
func (r *Resource[Single, Search]) Get(ctx context.Context, id string, extra Filters) (*Single, error) {
	if id == "" {
		return nil, NewValidationError("id", "id must not be empty")
	}

	q := url.Values{"id": {id}, "page_size": {"1"}}
	extra.apply(q)

	doc, err := r.engine.Request(ctx, "GET", r.path, q, nil, DefaultRequestOptions())
	if err != nil {
		return nil, err
	}

	results := r.engine.envelope.Results(doc)
	if len(results) == 0 {
		return nil, NewNotFoundError(&RequestInfo{Method: "GET", URL: r.path}, nil, 1)
	}

	single, err := r.engine.envelope.Single(doc)
	if err != nil {
		return nil, err
	}

	var out Single
	if err := remarshal(single, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Search performs a single paged search (spec.md §4.7.2). Page numbers
// are 1-based and passed to the API verbatim; the mixin never
// re-paginates — it returns exactly what the server supplied.
func (r *Resource[Single, Search]) Search(ctx context.Context, opts SearchOptions) (*Search, error) {
	if opts.Page < 1 {
		return nil, NewValidationError("page", "page must be >= 1")
	}
	q, err := opts.toQuery()
	if err != nil {
		return nil, err
	}
	q.Set("page", strconv.Itoa(opts.Page))

	doc, err := r.engine.Request(ctx, "GET", r.path, q, nil, DefaultRequestOptions())
	if err != nil {
		return nil, err
	}

	var out Search
	if err := remarshal(doc, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Iterate walks cursor pages (spec.md §4.7.3): it yields every typed
// item from every page, in order, until the envelope reports no next
// cursor, and is one-shot (a fresh Iterate call restarts from the
// initial cursor sentinel "*"). The caller cancelling ctx halts
// iteration at the next yield boundary without further fetches.
func (r *Resource[Single, Search]) Iterate(ctx context.Context, opts SearchOptions) iter.Seq2[Single, error] {
	return func(yield func(Single, error) bool) {
		cursor := "*"
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			q, err := opts.toQuery()
			if err != nil {
				yield(*new(Single), err)
				return
			}
			q.Set("cursor", cursor)

			doc, err := r.engine.Request(ctx, "GET", r.path, q, nil, DefaultRequestOptions())
			if err != nil {
				yield(*new(Single), err)
				return
			}

			items := r.engine.envelope.Results(doc)
			for _, item := range items {
				if ctx.Err() != nil {
					return
				}
				var typed Single
				if err := remarshal(item, &typed); err != nil {
					if !yield(*new(Single), err) {
						return
					}
					continue
				}
				if !yield(typed, nil) {
					return
				}
			}

			next, ok := r.engine.envelope.NextCursor(doc)
			if !ok {
				return
			}
			cursor = next
		}
	}
}

// remarshal round-trips a raw map[string]any into a typed value via
// JSON, the common technique for turning envelope output into a
// concrete client's typed model.
func remarshal(src map[string]any, dst any) error {
	raw, err := json.Marshal(src)
	if err != nil {
		return NewValidationError("body", fmt.Sprintf("failed to re-encode item: %v", err))
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return NewValidationError("body", fmt.Sprintf("failed to decode item into typed model: %v", err))
	}
	return nil
}
