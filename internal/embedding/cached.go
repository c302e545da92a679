package embedding

import "context"

// CachedEmbedder wraps an Embedder with an exact-match LRU cache so repeated
// texts within the process lifetime skip the provider call.
type CachedEmbedder struct {
	inner Embedder
	cache *Cache
}

// NewCachedEmbedder wraps inner with a cache of the given capacity.
func NewCachedEmbedder(inner Embedder, capacity int) *CachedEmbedder {
	return &CachedEmbedder{inner: inner, cache: NewCache(capacity)}
}

// Embed serves from the cache when possible.
func (e *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := CacheKey(text)
	if vec, ok := e.cache.Get(key); ok {
		return vec, nil
	}
	vec, err := e.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	e.cache.Set(key, vec)
	return vec, nil
}

// EmbedBatch serves cached texts locally and fetches only the misses,
// preserving input order in the result.
func (e *CachedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missTexts []string
	var missIdx []int
	for i, text := range texts {
		if vec, ok := e.cache.Get(CacheKey(text)); ok {
			out[i] = vec
			continue
		}
		missTexts = append(missTexts, text)
		missIdx = append(missIdx, i)
	}
	if len(missTexts) == 0 {
		return out, nil
	}
	vecs, err := e.inner.EmbedBatch(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	for j, vec := range vecs {
		out[missIdx[j]] = vec
		e.cache.Set(CacheKey(missTexts[j]), vec)
	}
	return out, nil
}

// Dimensions returns the wrapped embedder's dimension.
func (e *CachedEmbedder) Dimensions() int {
	return e.inner.Dimensions()
}

// Close closes the wrapped embedder.
func (e *CachedEmbedder) Close() error {
	return e.inner.Close()
}
