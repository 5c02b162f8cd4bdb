package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/saveenergy/netguardian/internal/config"
)

// bucket refills at perMinute tokens per minute, capped at perMinute.
type bucket struct {
	mu         sync.Mutex
	tokens     int
	lastRefill time.Time
}

func (b *bucket) take(now time.Time, perMinute int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if elapsed := now.Sub(b.lastRefill); elapsed >= time.Second {
		if add := int(elapsed.Seconds() * float64(perMinute) / 60.0); add > 0 {
			b.tokens = min(b.tokens+add, perMinute)
			b.lastRefill = now
		}
	}
	if b.tokens <= 0 {
		return false
	}
	b.tokens--
	return true
}

func (b *bucket) idleSince() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastRefill
}

// RateLimiter applies a global and a per-client token bucket to the
// history and live endpoints.
type RateLimiter struct {
	perIP     int
	global    *bucket
	globalMax int

	mu              sync.Mutex
	clients         map[string]*bucket
	lastCleanup     time.Time
	cleanupInterval time.Duration
	clientTTL       time.Duration

	resolver *ClientIPResolver
}

func NewRateLimiter(cfg *config.Config) *RateLimiter {
	now := time.Now()
	return &RateLimiter{
		perIP:           cfg.RateLimitPerIP,
		global:          &bucket{tokens: cfg.GlobalRateLimit, lastRefill: now},
		globalMax:       cfg.GlobalRateLimit,
		clients:         make(map[string]*bucket),
		lastCleanup:     now,
		cleanupInterval: 5 * time.Minute,
		clientTTL:       10 * time.Minute,
		resolver:        NewClientIPResolver(cfg),
	}
}

func (rl *RateLimiter) Allow(ip string) bool {
	now := time.Now()
	if !rl.global.take(now, rl.globalMax) {
		return false
	}
	return rl.client(ip, now).take(now, rl.perIP)
}

func (rl *RateLimiter) ClientIP(r *http.Request) string {
	return rl.resolver.FromRequest(r)
}

// SetCleanupPolicy overrides how often idle clients are evicted.
func (rl *RateLimiter) SetCleanupPolicy(interval, ttl time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.cleanupInterval = interval
	rl.clientTTL = ttl
	rl.lastCleanup = time.Now()
}

func (rl *RateLimiter) client(ip string, now time.Time) *bucket {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if rl.cleanupInterval > 0 && rl.clientTTL > 0 && now.Sub(rl.lastCleanup) >= rl.cleanupInterval {
		for key, b := range rl.clients {
			if now.Sub(b.idleSince()) >= rl.clientTTL {
				delete(rl.clients, key)
			}
		}
		rl.lastCleanup = now
	}
	b, ok := rl.clients[ip]
	if !ok {
		b = &bucket{tokens: rl.perIP, lastRefill: now}
		rl.clients[ip] = b
	}
	return b
}

// Transfer endpoints are bounded by the concurrency cap instead.
var skipRateLimitPaths = map[string]bool{
	"/api/v1/download": true,
	"/api/v1/upload":   true,
	"/api/v1/ping":     true,
}

func applyRateLimit(limiter *RateLimiter, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if skipRateLimitPaths[r.URL.Path] {
			next(w, r)
			return
		}
		if !limiter.Allow(limiter.ClientIP(r)) {
			w.Header().Set("Retry-After", "60")
			respondJSON(w, map[string]string{"error": "rate limit exceeded"}, http.StatusTooManyRequests)
			return
		}
		next(w, r)
	}
}
