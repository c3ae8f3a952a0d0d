// Package ratelimit implements pre-dispatch admission control for client
// requests using token bucket rate limiting.
//
// Limits are applied at three levels:
//   - Global: proxy-wide request rate
//   - Prefix: per-network prefix limit (/24 for IPv4, /64 for IPv6)
//   - IP: per source address limit
//
// A request must pass all three levels to be admitted into the call queue.
package ratelimit

import (
	"fmt"
	"math"
	"net/netip"
	"sync"
	"time"

	"github.com/cachegate/cachegate/internal/config"
)

// Limiter combines global, prefix, and per-IP rate limiters.
type Limiter struct {
	global *TokenBucket
	prefix *TokenBucket
	ip     *TokenBucket
}

// New builds a Limiter from the rate_limit config section.
func New(cfg config.RateLimitConfig) *Limiter {
	cleanup := time.Duration(math.Max(0.0, cfg.CleanupSeconds) * float64(time.Second))
	if cleanup <= 0 {
		cleanup = 60 * time.Second
	}
	maxIP := cfg.MaxIPEntries
	if maxIP <= 0 {
		maxIP = 65_536
	}
	maxPrefix := cfg.MaxPrefixEntries
	if maxPrefix <= 0 {
		maxPrefix = 16_384
	}

	return &Limiter{
		global: NewTokenBucket(TokenBucketConfig{Rate: cfg.GlobalQPS, Burst: cfg.GlobalBurst, CleanupInterval: cleanup, MaxEntries: 1}),
		prefix: NewTokenBucket(TokenBucketConfig{Rate: cfg.PrefixQPS, Burst: cfg.PrefixBurst, CleanupInterval: cleanup, MaxEntries: maxPrefix}),
		ip:     NewTokenBucket(TokenBucketConfig{Rate: cfg.IPQPS, Burst: cfg.IPBurst, CleanupInterval: cleanup, MaxEntries: maxIP}),
	}
}

// Allow checks whether a request from srcIP should be admitted.
func (l *Limiter) Allow(srcIP string) bool {
	if l == nil {
		return true
	}
	if !l.global.Allow("*") {
		return false
	}
	if !l.prefix.Allow(prefixKey(srcIP)) {
		return false
	}
	return l.ip.Allow(srcIP)
}

// AllowAddr is the allocation-light path for callers already holding a parsed netip.Addr.
func (l *Limiter) AllowAddr(addr netip.Addr) bool {
	if l == nil {
		return true
	}
	if !l.global.Allow("*") {
		return false
	}
	if !l.prefix.Allow(prefixKeyFromAddr(addr)) {
		return false
	}
	return l.ip.Allow(addr.String())
}

// Summary returns a human-readable description of the configured limits, for startup logging.
func Summary(cfg config.RateLimitConfig) string {
	fmtLimiter := func(name string, rate float64, burst int) string {
		if rate <= 0.0 || burst <= 0 {
			return name + "=disabled"
		}
		return fmt.Sprintf("%s=%gqps/%d", name, rate, burst)
	}
	return fmt.Sprintf(
		"%s %s %s cleanup_s=%g max_ip=%d max_prefix=%d",
		fmtLimiter("global", cfg.GlobalQPS, cfg.GlobalBurst),
		fmtLimiter("prefix", cfg.PrefixQPS, cfg.PrefixBurst),
		fmtLimiter("ip", cfg.IPQPS, cfg.IPBurst),
		cfg.CleanupSeconds,
		cfg.MaxIPEntries,
		cfg.MaxPrefixEntries,
	)
}

func prefixKeyFromAddr(ip netip.Addr) string {
	if ip.Is4() {
		prefix, _ := ip.Prefix(24)
		return prefix.String()
	}
	prefix, _ := ip.Prefix(64)
	return prefix.String()
}

// prefixKey converts a textual IP address to a network prefix key without
// requiring the caller to have parsed it already.
func prefixKey(ip string) string {
	var dotPositions [3]int
	dotCount := 0
	hasColon := false

	for i := 0; i < len(ip); i++ {
		switch ip[i] {
		case '.':
			if dotCount < 3 {
				dotPositions[dotCount] = i
				dotCount++
			}
		case ':':
			hasColon = true
		}
	}

	if dotCount >= 3 && !hasColon {
		return "v4:" + ip[:dotPositions[2]] + ".0/24"
	}

	if hasColon {
		addr, err := netip.ParseAddr(ip)
		if err == nil {
			pfx, err := addr.Prefix(64)
			if err == nil {
				return "v6:" + pfx.Masked().Addr().String() + "/64"
			}
		}
		return "v6:" + ip
	}

	return "ip:" + ip
}

// TokenBucketConfig configures a TokenBucket.
type TokenBucketConfig struct {
	Rate            float64       // tokens replenished per second
	Burst           int           // maximum tokens (burst capacity)
	CleanupInterval time.Duration // how often stale entries are swept
	MaxEntries      int           // maximum tracked keys, to bound memory
}

// TokenBucket implements the token bucket algorithm keyed by an arbitrary string.
type TokenBucket struct {
	rate            float64
	burst           float64
	cleanupInterval time.Duration
	maxEntries      int

	mu          sync.Mutex
	lastCleanup time.Time
	lastUpdate  map[string]time.Time
	tokens      map[string]float64
}

// NewTokenBucket creates a new rate limiter with the given configuration.
func NewTokenBucket(cfg TokenBucketConfig) *TokenBucket {
	maxEntries := cfg.MaxEntries
	if maxEntries <= 0 {
		maxEntries = 1
	}
	ci := cfg.CleanupInterval
	if ci <= 0 {
		ci = 60 * time.Second
	}
	return &TokenBucket{
		rate:            cfg.Rate,
		burst:           float64(cfg.Burst),
		cleanupInterval: ci,
		maxEntries:      maxEntries,
		lastCleanup:     time.Now(),
		lastUpdate:      map[string]time.Time{},
		tokens:          map[string]float64{},
	}
}

// Allow reports whether a request for key should be admitted, consuming a
// token if so. Rate limiting is disabled (always allow) when rate or burst
// is <= 0.
func (l *TokenBucket) Allow(key string) bool {
	if l == nil || l.rate <= 0.0 || l.burst <= 0.0 {
		return true
	}

	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastCleanup) > l.cleanupInterval {
		l.cleanupLocked(now)
	}

	last, exists := l.lastUpdate[key]
	if !exists {
		if len(l.lastUpdate) >= l.maxEntries {
			l.cleanupLocked(now)
			if len(l.lastUpdate) >= l.maxEntries {
				return false
			}
		}
		l.lastUpdate[key] = now
		l.tokens[key] = l.burst - 1.0
		return true
	}

	elapsed := now.Sub(last).Seconds()
	l.lastUpdate[key] = now

	tokens := l.tokens[key]
	if elapsed > 0 {
		tokens = math.Min(l.burst, tokens+(elapsed*l.rate))
	}

	if tokens >= 1.0 {
		l.tokens[key] = tokens - 1.0
		return true
	}

	l.tokens[key] = tokens
	return false
}

func (l *TokenBucket) cleanupLocked(now time.Time) {
	staleBefore := now.Add(-l.cleanupInterval)
	for k, last := range l.lastUpdate {
		if !last.After(staleBefore) {
			delete(l.lastUpdate, k)
			delete(l.tokens, k)
		}
	}
	l.lastCleanup = now
}
