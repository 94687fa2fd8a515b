// Package coalesce implements RequestCoalescer (spec §4.7): single-flight
// de-duplication of concurrent identical LLM calls, with a short
// success-result cache and a longer failure cooldown so platform
// re-delivery or racing handlers never amplify calls to the LLM endpoint.
package coalesce

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/tomasmach/personabridge/clock"
	"github.com/tomasmach/personabridge/errkind"
)

// Work is the call a Coalescer deduplicates, wrapped with ctx from the
// caller (already carrying REQUEST_TIMEOUT).
type Work func(ctx context.Context) (string, error)

type cacheEntry struct {
	result string
	err    error
	expiry time.Time
}

// Config carries the three windows of spec §4.7; zero values fall back to
// spec defaults.
type Config struct {
	PostCache      time.Duration // default 10s
	Cooldown       time.Duration // default 30s
	RequestTimeout time.Duration // default 60s
}

func (c Config) withDefaults() Config {
	if c.PostCache == 0 {
		c.PostCache = 10 * time.Second
	}
	if c.Cooldown == 0 {
		c.Cooldown = 30 * time.Second
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = 60 * time.Second
	}
	return c
}

// Coalescer wraps golang.org/x/sync/singleflight.Group, adding a
// completion cache and an error cooldown layered on top of the in-flight
// dedup singleflight already provides.
type Coalescer struct {
	cfg   Config
	clock clock.Clock
	group singleflight.Group

	mu    sync.Mutex
	cache map[string]cacheEntry
}

// New builds a Coalescer. c must not be nil.
func New(cfg Config, c clock.Clock) *Coalescer {
	return &Coalescer{cfg: cfg.withDefaults(), clock: c, cache: make(map[string]cacheEntry)}
}

// Dispatch runs work for fingerprint, or returns the in-flight/cached/
// cooled-down result if one already covers this fingerprint (spec §4.7).
// Fingerprints are independent of each other: two different fingerprints
// never block one another.
func (c *Coalescer) Dispatch(ctx context.Context, fingerprint string, work Work) (string, error) {
	if entry, ok := c.cachedResult(fingerprint); ok {
		return entry.result, entry.err
	}

	v, err, _ := c.group.Do(fingerprint, func() (any, error) {
		workCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
		defer cancel()

		result, workErr := work(workCtx)
		if workErr == nil {
			c.store(fingerprint, result, nil, c.cfg.PostCache)
			return result, nil
		}

		if workCtx.Err() != nil {
			workErr = errkind.New(errkind.LLMTransient, workErr, "request timed out")
		}
		c.store(fingerprint, "", workErr, c.cfg.Cooldown)
		return "", workErr
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (c *Coalescer) cachedResult(fingerprint string) (cacheEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.cache[fingerprint]
	if !ok || !c.clock.Now().Before(entry.expiry) {
		return cacheEntry{}, false
	}
	return entry, true
}

func (c *Coalescer) store(fingerprint, result string, err error, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache[fingerprint] = cacheEntry{result: result, err: err, expiry: c.clock.Now().Add(ttl)}
}

// Sweep prunes expired cache/cooldown entries. Correctness never depends
// on sweep cadence: cachedResult already treats an expired entry as absent.
func (c *Coalescer) Sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.clock.Now()
	for k, e := range c.cache {
		if !now.Before(e.expiry) {
			delete(c.cache, k)
		}
	}
}
