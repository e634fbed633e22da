package http

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// maxIPLimiters caps the limiter map to prevent memory exhaustion from
// spoofed source addresses.
const maxIPLimiters = 10000

// IPRateLimiter manages per-IP token buckets for the webhook endpoints.
type IPRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*limiterEntry
	rate     rate.Limit
	burst    int
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewIPRateLimiter creates a per-IP rate limiter allowing r requests per
// second with the given burst capacity.
func NewIPRateLimiter(r rate.Limit, burst int) *IPRateLimiter {
	return &IPRateLimiter{
		limiters: make(map[string]*limiterEntry),
		rate:     r,
		burst:    burst,
	}
}

// Allow reports whether a request from the given IP may proceed.
func (l *IPRateLimiter) Allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, exists := l.limiters[ip]
	if !exists {
		if len(l.limiters) >= maxIPLimiters {
			l.evictOldestLocked()
		}
		entry = &limiterEntry{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.limiters[ip] = entry
	}
	entry.lastSeen = time.Now()
	return entry.limiter.Allow()
}

// evictOldestLocked removes the least recently seen entry. Must be called
// with the lock held.
func (l *IPRateLimiter) evictOldestLocked() {
	var oldestIP string
	var oldestTime time.Time
	for ip, entry := range l.limiters {
		if oldestIP == "" || entry.lastSeen.Before(oldestTime) {
			oldestIP = ip
			oldestTime = entry.lastSeen
		}
	}
	if oldestIP != "" {
		delete(l.limiters, oldestIP)
	}
}

// Cleanup removes limiters idle longer than maxAge and returns how many
// were removed.
func (l *IPRateLimiter) Cleanup(maxAge time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	cleaned := 0
	for ip, entry := range l.limiters {
		if now.Sub(entry.lastSeen) > maxAge {
			delete(l.limiters, ip)
			cleaned++
		}
	}
	return cleaned
}
