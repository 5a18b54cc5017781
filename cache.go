package goclient

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"sort"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

// cacheEntry is the stored value for a fresh cache hit: the parsed
// document plus the status it was served with (spec.md §3 Cache entry).
type cacheEntry struct {
	doc    map[string]any
	status int
}

// responseCache is a bounded, per-entry-TTL, LRU-evicting store for
// idempotent reads (spec.md §4.4). It wraps hashicorp/golang-lru/v2's
// expirable LRU, which already implements capacity-bound eviction and
// entry expiry natively — see DESIGN.md for why this replaces a
// hand-rolled map+mutex+heap.
type responseCache struct {
	lru *lru.LRU[string, cacheEntry]
}

func newResponseCache(capacity int, ttl time.Duration) *responseCache {
	return &responseCache{lru: lru.NewLRU[string, cacheEntry](capacity, nil, ttl)}
}

func (c *responseCache) get(key string) (cacheEntry, bool) {
	return c.lru.Get(key)
}

func (c *responseCache) put(key string, entry cacheEntry) {
	c.lru.Add(key, entry)
}

func (c *responseCache) purge() {
	c.lru.Purge()
}

// cacheKey derives a stable digest of method, scheme+host+path, sorted
// query parameters, and an optional body fingerprint (spec.md §4.4).
// Permuting the order of equal query parameters must produce the same
// key (spec.md §8 "Cache key stability").
func cacheKey(method string, u *url.URL, query url.Values, bodyFingerprint string) string {
	var b strings.Builder
	b.WriteString(strings.ToUpper(method))
	b.WriteByte('\n')
	b.WriteString(u.Scheme)
	b.WriteString("://")
	b.WriteString(u.Host)
	b.WriteString(u.Path)
	b.WriteByte('\n')

	names := make([]string, 0, len(query))
	for name := range query {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		values := append([]string(nil), query[name]...)
		sort.Strings(values)
		for _, v := range values {
			b.WriteString(name)
			b.WriteByte('=')
			b.WriteString(v)
			b.WriteByte('&')
		}
	}
	b.WriteByte('\n')
	b.WriteString(bodyFingerprint)

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// isIdempotentMethod reports whether method is eligible for caching.
// Only GET and HEAD reads are ever cached (spec.md §3/§4.6).
func isIdempotentMethod(method string) bool {
	switch strings.ToUpper(method) {
	case "GET", "HEAD":
		return true
	default:
		return false
	}
}
