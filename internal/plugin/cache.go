package plugin

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

const defaultCacheSize = 512

type cacheEntry struct {
	rel  string
	data []byte
}

// Cached memoizes a plugin's output keyed by plugin name and the sha256 of
// the input. Optimizers are slow and deterministic, so repeated builds of
// unchanged images skip the tool entirely.
type Cached struct {
	inner Plugin
	cache *lru.Cache[string, cacheEntry]
}

// NewCached wraps inner with an LRU cache of size entries. size <= 0 falls
// back to the default.
func NewCached(inner Plugin, size int) (*Cached, error) {
	if inner == nil {
		return nil, fmt.Errorf("plugin: cached wrapper needs a plugin")
	}
	if size <= 0 {
		size = defaultCacheSize
	}
	cache, err := lru.New[string, cacheEntry](size)
	if err != nil {
		return nil, fmt.Errorf("plugin: build cache: %w", err)
	}
	return &Cached{inner: inner, cache: cache}, nil
}

// Name returns the wrapped plugin's name.
func (c *Cached) Name() string { return c.inner.Name() }

// Len reports the number of cached results.
func (c *Cached) Len() int { return c.cache.Len() }

// Transform returns the cached output for identical input or runs the
// wrapped plugin and remembers the result. Failures are not cached.
func (c *Cached) Transform(ctx context.Context, in Asset) (Asset, error) {
	key := c.key(in)
	if entry, ok := c.cache.Get(key); ok {
		in.Rel = entry.rel
		in.Data = append([]byte(nil), entry.data...)
		return in, nil
	}
	out, err := c.inner.Transform(ctx, in)
	if err != nil {
		return Asset{}, err
	}
	c.cache.Add(key, cacheEntry{rel: out.Rel, data: append([]byte(nil), out.Data...)})
	return out, nil
}

func (c *Cached) key(in Asset) string {
	sum := sha256.Sum256(in.Data)
	return c.inner.Name() + ":" + in.Rel + ":" + hex.EncodeToString(sum[:])
}
