package geocode

import (
	"context"
	"crypto/sha256"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/gridseek/utility-cli/internal/config"
	"github.com/gridseek/utility-cli/internal/model"
	"github.com/gridseek/utility-cli/internal/resilience"
)

// Chain runs providers in configured order until one returns a plausible
// match. A non-match or implausible result moves to the next provider; an
// exhausted chain returns an unmatched result, not an error.
type Chain struct {
	providers []Provider
	cfg       config.GeocodeConfig

	mu    sync.RWMutex
	cache map[string]chainCacheEntry
	now   func() time.Time
}

type chainCacheEntry struct {
	result    model.GeocodedAddress
	expiresAt time.Time
}

// NewChain creates a Chain over the given providers.
func NewChain(cfg config.GeocodeConfig, providers ...Provider) *Chain {
	return &Chain{
		providers: providers,
		cfg:       cfg,
		cache:     make(map[string]chainCacheEntry),
		now:       time.Now,
	}
}

// WithNow sets a fixed clock for tests.
func (c *Chain) WithNow(now func() time.Time) *Chain {
	c.now = now
	return c
}

// Geocode resolves one address through the chain. Non-matches are cached
// too, with a shorter TTL, so repeated bad input does not hammer upstreams.
func (c *Chain) Geocode(ctx context.Context, addr Address) (*model.GeocodedAddress, error) {
	key := cacheKey(addr)
	if cached, ok := c.cached(key); ok {
		r := *cached
		return &r, nil
	}

	for _, p := range c.providers {
		result, err := p.Geocode(ctx, addr)
		if err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			zap.L().Warn("geocode: provider failed, trying next",
				zap.String("provider", p.Name()),
				zap.Error(err),
			)
			continue
		}
		if !result.Matched {
			continue
		}
		if reason := implausible(addr, result); reason != "" {
			zap.L().Warn("geocode: rejecting implausible result",
				zap.String("provider", p.Name()),
				zap.String("reason", reason),
			)
			continue
		}

		result.InputAddress = addr.OneLine()
		fillFromInput(addr, result)
		c.storeCached(key, *result, c.successTTL())
		return result, nil
	}

	miss := model.GeocodedAddress{InputAddress: addr.OneLine(), Matched: false}
	c.storeCached(key, miss, c.failureTTL())
	return &miss, nil
}

// GeocodeBatch resolves addresses in chunks. Chunks retry with backoff;
// addresses a chunk leaves unmatched fall back through the single-address
// chain, which applies the same plausibility checks.
func (c *Chain) GeocodeBatch(ctx context.Context, addrs []Address) ([]model.GeocodedAddress, error) {
	if len(addrs) == 0 {
		return nil, nil
	}

	chunkSize := c.cfg.BatchChunkSize
	if chunkSize <= 0 {
		chunkSize = 500
	}

	out := make([]model.GeocodedAddress, len(addrs))
	batcher := c.batchProvider()

	for start := 0; start < len(addrs); start += chunkSize {
		end := start + chunkSize
		if end > len(addrs) {
			end = len(addrs)
		}
		chunk := addrs[start:end]

		var results []model.GeocodedAddress
		if batcher != nil {
			retryCfg := resilience.DefaultRetryConfig()
			retryCfg.MaxAttempts = c.cfg.BatchRetries
			retryCfg.OnRetry = resilience.RetryLogger("geocode", "batch chunk")

			chunkResults, err := resilience.RetryVal(ctx, retryCfg, func(ctx context.Context) ([]model.GeocodedAddress, error) {
				chunkCtx := ctx
				if c.cfg.ChunkTimeoutSec > 0 {
					var cancel context.CancelFunc
					chunkCtx, cancel = context.WithTimeout(ctx, time.Duration(c.cfg.ChunkTimeoutSec)*time.Second)
					defer cancel()
				}
				return batcher.GeocodeBatch(chunkCtx, chunk)
			})
			if err != nil {
				zap.L().Warn("geocode: batch chunk failed, falling back to singles",
					zap.Int("chunk_start", start),
					zap.Error(err),
				)
			} else {
				results = chunkResults
			}
		}

		for i, addr := range chunk {
			if results != nil && results[i].Matched && implausible(addr, &results[i]) == "" {
				results[i].InputAddress = addr.OneLine()
				fillFromInput(addr, &results[i])
				out[start+i] = results[i]
				continue
			}
			single, err := c.Geocode(ctx, addr)
			if err != nil {
				return nil, err
			}
			out[start+i] = *single
		}
	}
	return out, nil
}

// batchProvider returns the first provider with a native batch endpoint.
func (c *Chain) batchProvider() BatchProvider {
	for _, p := range c.providers {
		if bp, ok := p.(BatchProvider); ok {
			return bp
		}
	}
	return nil
}

// implausible names the sanity check a result failed, or returns "".
// Null-island coordinates and a ZIP sectional-center mismatch against the
// input both indicate the provider matched the wrong place entirely.
func implausible(addr Address, r *model.GeocodedAddress) string {
	if r.Latitude == 0 && r.Longitude == 0 {
		return "null_island"
	}
	if r.Latitude < -90 || r.Latitude > 90 || r.Longitude < -180 || r.Longitude > 180 {
		return "out_of_range"
	}
	if addr.Zip5 != "" && r.Zip5 != "" && len(addr.Zip5) >= 3 && len(r.Zip5) >= 3 &&
		!strings.EqualFold(addr.Zip5[:3], r.Zip5[:3]) {
		return "zip_prefix_mismatch"
	}
	return ""
}

// fillFromInput backfills fields the provider left empty from the input
// address; the input is less authoritative than a matched component but
// better than nothing for downstream keying.
func fillFromInput(addr Address, r *model.GeocodedAddress) {
	if r.State == "" {
		r.State = strings.ToUpper(addr.State)
	}
	if r.Zip5 == "" {
		r.Zip5 = addr.Zip5
	}
	if r.City == "" {
		r.City = addr.City
	}
}

func (c *Chain) cached(key string) (*model.GeocodedAddress, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.cache[key]
	if !ok || !c.now().Before(e.expiresAt) {
		return nil, false
	}
	r := e.result
	return &r, true
}

func (c *Chain) storeCached(key string, r model.GeocodedAddress, ttl time.Duration) {
	c.mu.Lock()
	c.cache[key] = chainCacheEntry{result: r, expiresAt: c.now().Add(ttl)}
	c.mu.Unlock()
}

func (c *Chain) successTTL() time.Duration {
	if c.cfg.SuccessTTLHours > 0 {
		return time.Duration(c.cfg.SuccessTTLHours) * time.Hour
	}
	return 30 * 24 * time.Hour
}

func (c *Chain) failureTTL() time.Duration {
	if c.cfg.FailureTTLHours > 0 {
		return time.Duration(c.cfg.FailureTTLHours) * time.Hour
	}
	return 6 * time.Hour
}

// cacheKey returns SHA-256 hex of the normalized address.
func cacheKey(addr Address) string {
	normalized := fmt.Sprintf("%s|%s|%s|%s",
		strings.ToLower(strings.TrimSpace(addr.Street)),
		strings.ToLower(strings.TrimSpace(addr.City)),
		strings.ToLower(strings.TrimSpace(addr.State)),
		strings.TrimSpace(addr.Zip5),
	)
	h := sha256.Sum256([]byte(normalized))
	return fmt.Sprintf("%x", h)
}
