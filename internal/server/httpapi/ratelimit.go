package httpapi

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"authguard/internal/platform/clock"
)

type ipEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// IPRateLimiter implements per-IP rate limiting with TTL-based eviction.
type IPRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*ipEntry
	rate     rate.Limit
	burst    int
	ttl      time.Duration // entries are evicted after this duration of inactivity
	maxSize  int           // maximum number of tracked IPs
	clock    clock.Clock
}

// NewIPRateLimiter returns a limiter allowing perSecond requests per IP with the given burst.
// A non-positive perSecond disables limiting and returns nil.
func NewIPRateLimiter(perSecond float64, burst int, clk clock.Clock) *IPRateLimiter {
	if perSecond <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	if clk == nil {
		clk = clock.System{}
	}
	return &IPRateLimiter{
		limiters: make(map[string]*ipEntry),
		rate:     rate.Limit(perSecond),
		burst:    burst,
		ttl:      5 * time.Minute,
		maxSize:  10000,
		clock:    clk,
	}
}

// Allow reports whether a request from ip may proceed now.
func (i *IPRateLimiter) Allow(ip string) bool {
	now := i.clock.Now()
	return i.getLimiter(ip, now).AllowN(now, 1)
}

func (i *IPRateLimiter) getLimiter(ip string, now time.Time) *rate.Limiter {
	i.mu.Lock()
	defer i.mu.Unlock()

	if entry, ok := i.limiters[ip]; ok {
		entry.lastSeen = now
		return entry.limiter
	}
	if len(i.limiters) >= i.maxSize {
		i.evictOldest()
	}
	limiter := rate.NewLimiter(i.rate, i.burst)
	i.limiters[ip] = &ipEntry{limiter: limiter, lastSeen: now}
	return limiter
}

// Run evicts stale entries every minute until ctx is done.
func (i *IPRateLimiter) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			i.evictStale()
		}
	}
}

func (i *IPRateLimiter) evictStale() {
	i.mu.Lock()
	defer i.mu.Unlock()
	now := i.clock.Now()
	for ip, entry := range i.limiters {
		if now.Sub(entry.lastSeen) > i.ttl {
			delete(i.limiters, ip)
		}
	}
}

// evictOldest removes the oldest entry. Must be called with mu held.
func (i *IPRateLimiter) evictOldest() {
	var oldestIP string
	var oldestTime time.Time
	for ip, entry := range i.limiters {
		if oldestIP == "" || entry.lastSeen.Before(oldestTime) {
			oldestIP = ip
			oldestTime = entry.lastSeen
		}
	}
	if oldestIP != "" {
		delete(i.limiters, oldestIP)
	}
}

func (i *IPRateLimiter) size() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.limiters)
}
