// Package cache holds resolved lookup results keyed by normalized address,
// with asymmetric retention for successes and failures.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/gridseek/utility-cli/internal/config"
	"github.com/gridseek/utility-cli/internal/model"
	"github.com/gridseek/utility-cli/internal/store"
)

// Key returns the cache key for an address and the requested utility types.
// The type set is part of the key: a partial lookup must not satisfy a
// broader one.
func Key(address string, types []model.UtilityType) string {
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = string(t)
	}
	sort.Strings(names)
	normalized := strings.ToLower(strings.Join(strings.Fields(address), " ")) +
		"|" + strings.Join(names, ",")
	h := sha256.Sum256([]byte(normalized))
	return fmt.Sprintf("%x", h)
}

type entry struct {
	result    model.LookupResult
	expiresAt time.Time
}

// Cache is a TTL result cache with an in-memory tier and an optional
// persistent tier. Safe for concurrent use.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]entry

	cfg   config.CacheConfig
	store store.Store // nil when persistence is off
	now   func() time.Time
}

// New creates a Cache. st may be nil to disable persistence.
func New(cfg config.CacheConfig, st store.Store) *Cache {
	if !cfg.Persist {
		st = nil
	}
	return &Cache{
		entries: make(map[string]entry),
		cfg:     cfg,
		store:   st,
		now:     time.Now,
	}
}

// WithNow sets a fixed clock for tests.
func (c *Cache) WithNow(now func() time.Time) *Cache {
	c.now = now
	return c
}

// Get returns the cached result for key, checking memory first and then the
// persistent tier. A persistent hit is promoted to memory.
func (c *Cache) Get(ctx context.Context, key string) (*model.LookupResult, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if ok && c.now().Before(e.expiresAt) {
		r := e.result
		return &r, true
	}

	if c.store == nil {
		return nil, false
	}
	se, err := c.store.GetCache(ctx, key)
	if err != nil {
		zap.L().Warn("cache: persistent get failed", zap.Error(err))
		return nil, false
	}
	if se == nil {
		return nil, false
	}
	var r model.LookupResult
	if err := json.Unmarshal(se.Payload, &r); err != nil {
		zap.L().Warn("cache: corrupt persisted entry", zap.String("key", shortKey(key)))
		return nil, false
	}

	c.mu.Lock()
	c.entries[key] = entry{result: r, expiresAt: se.ExpiresAt}
	c.mu.Unlock()
	return &r, true
}

// Put stores a result. Successful lookups keep the long TTL; lookups where
// any requested type failed to resolve get the short failure TTL so a
// transient source outage does not pin a bad answer for a week.
func (c *Cache) Put(ctx context.Context, key string, r model.LookupResult) {
	ttl := c.cfg.SuccessTTL()
	if !resolvedAll(r) {
		ttl = c.cfg.FailureTTL()
	}
	expiresAt := c.now().Add(ttl)

	c.mu.Lock()
	if c.cfg.MaxEntries > 0 && len(c.entries) >= c.cfg.MaxEntries {
		c.evictExpiredLocked()
	}
	c.entries[key] = entry{result: r, expiresAt: expiresAt}
	c.mu.Unlock()

	if c.store == nil {
		return
	}
	payload, err := json.Marshal(r)
	if err != nil {
		zap.L().Warn("cache: marshal result", zap.Error(err))
		return
	}
	if err := c.store.PutCache(ctx, store.CacheEntry{
		Key: key, Payload: payload, ExpiresAt: expiresAt,
	}); err != nil {
		zap.L().Warn("cache: persistent put failed", zap.Error(err))
	}
}

// Invalidate removes one key from both tiers. Called when registry, layer,
// or override data changes under a cached answer.
func (c *Cache) Invalidate(ctx context.Context, key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()

	if c.store != nil {
		if err := c.store.DeleteCache(ctx, key); err != nil {
			zap.L().Warn("cache: persistent delete failed", zap.Error(err))
		}
	}
}

// Stats reports in-memory entry counts for the status command.
func (c *Cache) Stats() (live, expired int) {
	now := c.now()
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, e := range c.entries {
		if now.Before(e.expiresAt) {
			live++
		} else {
			expired++
		}
	}
	return live, expired
}

// evictExpiredLocked drops expired entries; callers hold the write lock.
func (c *Cache) evictExpiredLocked() {
	now := c.now()
	for k, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, k)
		}
	}
}

// resolvedAll reports whether every requested type produced a provider.
func resolvedAll(r model.LookupResult) bool {
	if len(r.Results) == 0 {
		return false
	}
	for _, res := range r.Results {
		if res == nil || res.DisplayName == "" {
			return false
		}
	}
	return true
}

func shortKey(key string) string {
	if len(key) > 12 {
		return key[:12]
	}
	return key
}
