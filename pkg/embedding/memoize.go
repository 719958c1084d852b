package embedding

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Memoized wraps a Provider with a small LRU so repeated queries (refinement
// passes, cache-miss retries) embed only once.
type Memoized struct {
	inner Provider
	cache *lru.Cache[string, []float32]
}

func NewMemoized(inner Provider, size int) (*Memoized, error) {
	if size <= 0 {
		size = 256
	}
	c, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, err
	}
	return &Memoized{inner: inner, cache: c}, nil
}

func (m *Memoized) Generate(ctx context.Context, text string, taskType string) ([]float32, error) {
	key := taskType + "\x00" + text
	if vec, ok := m.cache.Get(key); ok {
		return vec, nil
	}
	vec, err := m.inner.Generate(ctx, text, taskType)
	if err != nil {
		return nil, err
	}
	m.cache.Add(key, vec)
	return vec, nil
}
