package goclient

// Envelope abstracts the outer JSON shape of an API response (spec.md
// §4.3). Concrete clients supply an implementation; the framework never
// inspects JSON structure itself.
type Envelope interface {
	// Results returns the raw items in doc, or an empty slice if none.
	Results(doc map[string]any) []map[string]any

	// Single returns the single raw item in doc (object form). It
	// returns a *ValidationErrorKind if doc does not contain exactly
	// one obtainable item in the shape Single expects.
	Single(doc map[string]any) (map[string]any, error)

	// NextCursor returns the opaque token for the next page, or ("",
	// false) to signal end-of-stream.
	NextCursor(doc map[string]any) (string, bool)

	// Total returns the informational result count, or (0, false) when
	// the envelope doesn't carry one.
	Total(doc map[string]any) (int, bool)
}
