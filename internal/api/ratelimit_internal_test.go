package api

import (
	"testing"
	"time"

	"github.com/saveenergy/netguardian/internal/config"
)

func TestRateLimiterCleanupRemovesStaleEntries(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.GlobalRateLimit = 1000
	cfg.RateLimitPerIP = 1000

	rl := NewRateLimiter(cfg)
	rl.SetCleanupPolicy(10*time.Millisecond, 20*time.Millisecond)

	ip := "127.0.0.1"
	if !rl.Allow(ip) {
		t.Fatalf("expected allow on first request")
	}

	rl.mu.Lock()
	rl.clients[ip].lastRefill = time.Now().Add(-time.Minute)
	rl.lastCleanup = time.Now().Add(-time.Minute)
	rl.mu.Unlock()

	rl.Allow("127.0.0.2")

	rl.mu.Lock()
	_, exists := rl.clients[ip]
	rl.mu.Unlock()
	if exists {
		t.Fatalf("expected stale client to be evicted")
	}
}

func TestBucketRefill(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name      string
		perMinute int
		idle      time.Duration
	}{
		{"low rate", 30, 2 * time.Second},
		{"very low rate", 10, 6 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := &bucket{lastRefill: now.Add(-tt.idle)}
			if !b.take(now, tt.perMinute) {
				t.Fatal("expected refill to admit one request")
			}
			if b.take(now, tt.perMinute) {
				t.Fatal("expected bucket to be empty again")
			}
		})
	}
}

func TestPerClientLimit(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.RateLimitPerIP = 2
	cfg.GlobalRateLimit = 100
	rl := NewRateLimiter(cfg)

	for i := 0; i < 2; i++ {
		if !rl.Allow("198.51.100.1") {
			t.Fatalf("request %d rejected", i)
		}
	}
	if rl.Allow("198.51.100.1") {
		t.Fatal("third request admitted")
	}
	if !rl.Allow("198.51.100.2") {
		t.Fatal("other client rejected")
	}
}
