// Package cache provides a content-addressed response cache. Caching
// is a performance optimization, never a correctness dependency:
// every store failure degrades to a miss.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/resumeforge/aiqueue/pkg/types"
)

type Store interface {
	// Get returns the raw entry at key, or found=false on a miss.
	Get(ctx context.Context, key string) (value []byte, found bool, err error)

	// Set writes the entry at key with the given TTL.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	Close() error
}

// Fingerprint derives the deterministic cache key for a request from
// its kind, prompt and context. encoding/json writes map keys in
// sorted order at every nesting level, so equal contexts hash equal
// regardless of how the caller assembled them.
func Fingerprint(kind types.RequestKind, prompt string, context map[string]interface{}) string {
	h := sha256.New()
	h.Write([]byte(kind))
	h.Write([]byte{0})
	h.Write([]byte(prompt))
	h.Write([]byte{0})
	if len(context) > 0 {
		canonical, err := json.Marshal(context)
		if err == nil {
			h.Write(canonical)
		}
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}

// ResponseCache stores completed responses keyed by fingerprint.
type ResponseCache struct {
	store Store
	ttl   time.Duration
}

func New(store Store, ttl time.Duration) *ResponseCache {
	return &ResponseCache{store: store, ttl: ttl}
}

// Get returns the cached response for fingerprint, or nil on a miss.
// Store errors and decode failures are logged and treated as misses.
func (c *ResponseCache) Get(ctx context.Context, fingerprint string) *types.Response {
	value, found, err := c.store.Get(ctx, cacheKey(fingerprint))
	if err != nil {
		log.Printf("cache read failed, treating as miss: %v", err)
		return nil
	}
	if !found {
		return nil
	}

	var resp types.Response
	if err := json.Unmarshal(value, &resp); err != nil {
		log.Printf("cache entry corrupt, treating as miss: %v", err)
		return nil
	}

	resp.Cached = true
	return &resp
}

// Put writes resp under fingerprint. Best effort: failures are logged
// and suppressed.
func (c *ResponseCache) Put(ctx context.Context, fingerprint string, resp *types.Response) {
	value, err := json.Marshal(resp)
	if err != nil {
		log.Printf("cache write skipped, marshal failed: %v", err)
		return
	}

	if err := c.store.Set(ctx, cacheKey(fingerprint), value, c.ttl); err != nil {
		log.Printf("cache write failed: %v", err)
	}
}

func cacheKey(fingerprint string) string {
	return "response:" + fingerprint
}
