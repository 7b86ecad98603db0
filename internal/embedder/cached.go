package embedder

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/54b3r/ragent-go/internal/rag"
)

// DefaultCacheSize is the number of embeddings kept by Cached when the
// caller passes a non-positive size.
const DefaultCacheSize = 512

// Cached wraps an Embedder with an LRU cache keyed by input text. Only the
// texts missing from the cache are sent to the inner embedder, in one batch.
// Returned vectors are shared with the cache and must not be modified.
type Cached struct {
	inner rag.Embedder
	cache *lru.Cache[string, []float32]
}

// NewCached returns a caching wrapper around inner.
func NewCached(inner rag.Embedder, size int) (*Cached, error) {
	if inner == nil {
		return nil, fmt.Errorf("embedder: inner embedder must not be nil")
	}
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, fmt.Errorf("embedder: create cache: %w", err)
	}
	return &Cached{inner: inner, cache: cache}, nil
}

// Embed implements rag.Embedder.
func (c *Cached) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var (
		missing []string
		slots   = make(map[string][]int)
	)
	for i, t := range texts {
		if v, ok := c.cache.Get(t); ok {
			out[i] = v
			continue
		}
		if _, seen := slots[t]; !seen {
			missing = append(missing, t)
		}
		slots[t] = append(slots[t], i)
	}
	if len(missing) == 0 {
		return out, nil
	}

	vecs, err := c.inner.Embed(ctx, missing)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(missing) {
		return nil, fmt.Errorf("embedder: expected %d embeddings, got %d", len(missing), len(vecs))
	}
	for i, t := range missing {
		c.cache.Add(t, vecs[i])
		for _, slot := range slots[t] {
			out[slot] = vecs[i]
		}
	}
	return out, nil
}

// Len returns the number of cached embeddings.
func (c *Cached) Len() int { return c.cache.Len() }
