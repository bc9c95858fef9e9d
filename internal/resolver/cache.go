// Package resolver exchanges opaque storage handles for short-lived direct
// URLs, hiding the provider's authentication and rate limits behind a
// TTL cache.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/embygate/emby-gate/internal/logging"
	"github.com/embygate/emby-gate/internal/metrics"
)

var (
	// ErrResolutionFailed: upstream said no (or timed out). Negative-cached;
	// callers fall back to proxying the unresolved stream.
	ErrResolutionFailed = errors.New("resolver: resolution failed")
	// ErrRateLimited: no token available. Never cached; callers retry.
	ErrRateLimited = errors.New("resolver: rate limited, retry later")
)

type cacheKey struct {
	handle string
	ua     string
}

// A cache entry is immutable once written; re-resolution after expiry
// writes a fresh entry rather than mutating the old one.
type entry struct {
	url     string
	failed  bool
	expires time.Time
}

// Cache is the link resolution cache. Lookups are cheap and concurrent;
// actual upstream resolution is serialized behind one component-global
// mutex so a burst of misses, even for different handles, issues one
// upstream call at a time.
type Cache struct {
	upstream Upstream
	limiter  *Limiter
	clock    Clock
	posTTL   time.Duration
	negTTL   time.Duration
	log      zerolog.Logger

	mapMu   sync.RWMutex
	entries map[cacheKey]entry

	resolveMu sync.Mutex
}

func NewCache(upstream Upstream, limiter *Limiter, posTTL, negTTL time.Duration, clock Clock) *Cache {
	if clock == nil {
		clock = SystemClock
	}
	return &Cache{
		upstream: upstream,
		limiter:  limiter,
		clock:    clock,
		posTTL:   posTTL,
		negTTL:   negTTL,
		log:      logging.Component("resolver"),
		entries:  make(map[cacheKey]entry),
	}
}

// Resolve returns a direct URL for handle, or ErrResolutionFailed /
// ErrRateLimited. Hits never touch the upstream or the limiter.
func (c *Cache) Resolve(ctx context.Context, handle string, sig Signature) (string, error) {
	k := cacheKey{handle: handle, ua: sig.UserAgent}
	if url, err, ok := c.lookup(k); ok {
		if err != nil {
			metrics.ResolveOutcomes.WithLabelValues("negative_hit").Inc()
		} else {
			metrics.ResolveOutcomes.WithLabelValues("hit").Inc()
		}
		return url, err
	}

	c.resolveMu.Lock()
	defer c.resolveMu.Unlock()

	// Another waiter may have resolved this handle while we queued.
	if url, err, ok := c.lookup(k); ok {
		if err != nil {
			metrics.ResolveOutcomes.WithLabelValues("negative_hit").Inc()
		} else {
			metrics.ResolveOutcomes.WithLabelValues("hit").Inc()
		}
		return url, err
	}

	if !c.limiter.Take() {
		metrics.ResolveOutcomes.WithLabelValues("rate_limited").Inc()
		return "", ErrRateLimited
	}

	start := c.clock.Now()
	url, err := c.upstream.ResolveLink(ctx, handle, sig)
	metrics.ResolveUpstreamSeconds.Observe(c.clock.Now().Sub(start).Seconds())

	if err != nil || url == "" {
		c.store(k, entry{failed: true, expires: c.clock.Now().Add(c.negTTL)})
		metrics.ResolveOutcomes.WithLabelValues("failed").Inc()
		if err != nil {
			return "", fmt.Errorf("%w: %s", ErrResolutionFailed, err)
		}
		return "", ErrResolutionFailed
	}

	c.store(k, entry{url: url, expires: c.clock.Now().Add(c.posTTL)})
	metrics.ResolveOutcomes.WithLabelValues("resolved").Inc()
	return url, nil
}

func (c *Cache) lookup(k cacheKey) (string, error, bool) {
	c.mapMu.RLock()
	e, ok := c.entries[k]
	c.mapMu.RUnlock()
	if !ok {
		return "", nil, false
	}
	if !c.clock.Now().Before(e.expires) {
		c.mapMu.Lock()
		// Re-check under the write lock: only drop the entry we saw.
		if cur, ok := c.entries[k]; ok && cur.expires.Equal(e.expires) {
			delete(c.entries, k)
		}
		c.mapMu.Unlock()
		return "", nil, false
	}
	if e.failed {
		return "", ErrResolutionFailed, true
	}
	return e.url, nil, true
}

func (c *Cache) store(k cacheKey, e entry) {
	c.mapMu.Lock()
	c.entries[k] = e
	c.mapMu.Unlock()
}

// Len reports live-or-expired entry count; test hook.
func (c *Cache) Len() int {
	c.mapMu.RLock()
	defer c.mapMu.RUnlock()
	return len(c.entries)
}
