package llama

import (
	"strconv"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// TextCache memoizes token-id-to-text lookups for a single context's
// lifetime. Token-id-to-text is immutable for the life of a loaded model,
// so a context-scoped cache avoids repeating the same native call for
// tokens that recur across a generation (stop words, punctuation, common
// BPE pieces).
//
// Lookup takes the native call as a fetch func rather than a concrete
// *Context so callers that only see a context through an interface (the
// engine package drives contexts through NativeHandle so its logic is
// testable without a linked libllama) can still use this cache.
type TextCache struct {
	cache *gocache.Cache
}

// NewTextCache builds a cache with no expiry — entries are only as large
// as the vocabulary and are discarded when the owning Context is freed.
func NewTextCache() *TextCache {
	return &TextCache{cache: gocache.New(gocache.NoExpiration, time.Hour)}
}

// Lookup returns the cached text for id, calling fetch to populate the
// cache on a miss.
func (tc *TextCache) Lookup(id TokenID, fetch func(TokenID) string) string {
	key := strconv.Itoa(int(id))
	if v, ok := tc.cache.Get(key); ok {
		return v.(string)
	}
	text := fetch(id)
	tc.cache.Set(key, text, gocache.NoExpiration)
	return text
}

// Store records a known id/text pair directly, for callers (generation's
// sampled tokens) that already have the text and don't need a fetch.
func (tc *TextCache) Store(id TokenID, text string) {
	tc.cache.Set(strconv.Itoa(int(id)), text, gocache.NoExpiration)
}
