// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package gallery

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

// maxCacheEntries bounds the render cache. Past the cap the cache is
// dropped wholesale; renders are cheap enough that a cold cache only
// costs one sandbox run per active snippet.
const maxCacheEntries = 1024

// renderCache memoizes sandbox renders per (snippet revision, width).
// Concurrent requests for the same key share one execution through
// singleflight, so a popular snippet cannot stampede the sandbox.
//
// Thread Safety: safe for concurrent use.
type renderCache struct {
	group singleflight.Group

	mu      sync.Mutex
	entries map[string]string
}

func newRenderCache() *renderCache {
	return &renderCache{entries: make(map[string]string)}
}

// renderKey identifies one cacheable render. UpdatedAt is part of the
// key, so saving a snippet naturally invalidates its old entries.
func renderKey(id string, revision int64, width int) string {
	return fmt.Sprintf("%s|%d|%d", id, revision, width)
}

// Get runs render for key unless a cached result exists, deduplicating
// concurrent callers.
func (c *renderCache) Get(key string, render func() (string, error)) (out string, cached bool, err error) {
	c.mu.Lock()
	if hit, ok := c.entries[key]; ok {
		c.mu.Unlock()
		return hit, true, nil
	}
	c.mu.Unlock()

	v, err, shared := c.group.Do(key, func() (any, error) {
		out, err := render()
		if err != nil {
			return "", err
		}
		c.mu.Lock()
		if len(c.entries) >= maxCacheEntries {
			c.entries = make(map[string]string)
		}
		c.entries[key] = out
		c.mu.Unlock()
		return out, nil
	})
	if err != nil {
		return "", false, err
	}
	return v.(string), shared, nil
}

// =============================================================================
// Rate Limiting
// =============================================================================

// ipLimiter hands out one token bucket per client IP.
//
// Thread Safety: safe for concurrent use.
type ipLimiter struct {
	mu       sync.Mutex
	visitors map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

func newIPLimiter(perSecond float64, burst int) *ipLimiter {
	return &ipLimiter{
		visitors: make(map[string]*rate.Limiter),
		limit:    rate.Limit(perSecond),
		burst:    burst,
	}
}

func (l *ipLimiter) get(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.visitors[ip]
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.visitors[ip] = lim
	}
	return lim
}

// Middleware rejects clients that exceed their per-IP budget with 429.
func (l *ipLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.get(c.ClientIP()).Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}
