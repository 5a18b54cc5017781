package goclient

import (
	"net/url"
	"testing"
	"time"
)

func TestCacheKeyStableUnderQueryPermutation(t *testing.T) {
	u, _ := url.Parse("https://api.example.org/works")

	q1 := url.Values{"a": {"1"}, "b": {"2"}}
	q2 := url.Values{"b": {"2"}, "a": {"1"}}

	k1 := cacheKey("GET", u, q1, "")
	k2 := cacheKey("GET", u, q2, "")

	if k1 != k2 {
		t.Fatalf("expected permutation-stable keys, got %q vs %q", k1, k2)
	}
}

func TestCacheKeyDiffersByMethodPathAndBody(t *testing.T) {
	u1, _ := url.Parse("https://api.example.org/works")
	u2, _ := url.Parse("https://api.example.org/authors")

	base := cacheKey("GET", u1, nil, "")
	differentPath := cacheKey("GET", u2, nil, "")
	differentMethod := cacheKey("POST", u1, nil, "")
	differentBody := cacheKey("GET", u1, nil, "fingerprint")

	keys := []string{base, differentPath, differentMethod, differentBody}
	for i := 0; i < len(keys); i++ {
		for j := i + 1; j < len(keys); j++ {
			if keys[i] == keys[j] {
				t.Fatalf("expected distinct keys, got collision at %d/%d", i, j)
			}
		}
	}
}

func TestIsIdempotentMethod(t *testing.T) {
	cases := map[string]bool{
		"GET":    true,
		"get":    true,
		"HEAD":   true,
		"POST":   false,
		"PUT":    false,
		"DELETE": false,
		"PATCH":  false,
	}
	for method, want := range cases {
		if got := isIdempotentMethod(method); got != want {
			t.Errorf("isIdempotentMethod(%q) = %v, want %v", method, got, want)
		}
	}
}

func TestResponseCachePutGetPurge(t *testing.T) {
	c := newResponseCache(10, time.Minute)

	key := "k1"
	entry := cacheEntry{doc: map[string]any{"id": "1"}, status: 200}
	c.put(key, entry)

	got, ok := c.get(key)
	if !ok {
		t.Fatal("expected cache hit")
	}
	if got.doc["id"] != "1" {
		t.Fatalf("unexpected cached doc: %+v", got.doc)
	}

	c.purge()
	if _, ok := c.get(key); ok {
		t.Fatal("expected cache miss after purge")
	}
}

func TestResponseCacheEvictsOldestBeyondCapacity(t *testing.T) {
	c := newResponseCache(2, time.Minute)

	c.put("a", cacheEntry{status: 200})
	c.put("b", cacheEntry{status: 200})
	c.put("c", cacheEntry{status: 200})

	if _, ok := c.get("a"); ok {
		t.Fatal("expected oldest entry to be evicted once capacity is exceeded")
	}
	if _, ok := c.get("c"); !ok {
		t.Fatal("expected most recently added entry to still be present")
	}
}

func TestResponseCacheExpiresByTTL(t *testing.T) {
	c := newResponseCache(10, 10*time.Millisecond)
	c.put("k", cacheEntry{status: 200})

	time.Sleep(50 * time.Millisecond)

	if _, ok := c.get("k"); ok {
		t.Fatal("expected entry to have expired")
	}
}
