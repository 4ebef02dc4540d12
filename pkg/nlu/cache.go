package nlu

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"github.com/dialogkit/dialogkit/pkg/dialogue"
)

// CachedAdapter memoizes predictions for a TTL. Cache keys cover the
// message, history, and dialogue context but never the request timestamp;
// two otherwise-identical requests seconds apart must hit.
type CachedAdapter struct {
	inner Adapter
	ttl   time.Duration

	mu      sync.RWMutex
	entries map[string]cacheEntry

	// now is swappable in tests.
	now func() time.Time
}

type cacheEntry struct {
	result  *Result
	expires time.Time
}

// NewCachedAdapter wraps inner with a TTL cache. A non-positive TTL caches
// nothing.
func NewCachedAdapter(inner Adapter, ttl time.Duration) *CachedAdapter {
	return &CachedAdapter{
		inner:   inner,
		ttl:     ttl,
		entries: map[string]cacheEntry{},
		now:     time.Now,
	}
}

// Predict serves from cache when possible; misses and failures go to the
// inner adapter, and only successes are cached.
func (c *CachedAdapter) Predict(ctx context.Context, req *Request) (*Result, error) {
	if c.ttl <= 0 {
		return c.inner.Predict(ctx, req)
	}

	key := cacheKey(req)

	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if ok && c.now().Before(entry.expires) {
		return entry.result, nil
	}

	result, err := c.inner.Predict(ctx, req)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	now := c.now()
	c.evictExpired(now)
	c.entries[key] = cacheEntry{result: result, expires: now.Add(c.ttl)}
	c.mu.Unlock()
	return result, nil
}

// evictExpired drops dead entries so the map stays bounded by the number of
// distinct requests within one TTL. Caller holds the write lock.
func (c *CachedAdapter) evictExpired(now time.Time) {
	for key, entry := range c.entries {
		if !now.Before(entry.expires) {
			delete(c.entries, key)
		}
	}
}

// Len returns the number of cache entries.
func (c *CachedAdapter) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// cacheKey hashes the deterministic parts of the request. Now is left out
// on purpose.
func cacheKey(req *Request) string {
	keyed := struct {
		UserMessage string             `json:"user_message"`
		History     []dialogue.Message `json:"history"`
		Context     DialogueContext    `json:"context"`
	}{
		UserMessage: req.UserMessage,
		History:     req.History,
		Context:     req.Context,
	}
	raw, err := json.Marshal(keyed)
	if err != nil {
		// State is JSON-serializable by invariant; fall back to the message.
		raw = []byte(req.UserMessage)
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
