package ratelimit

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cachegate/cachegate/internal/config"
)

func TestPrefixKey(t *testing.T) {
	assert.Equal(t, "v4:203.0.113.0/24", prefixKey("203.0.113.9"))
	assert.Equal(t, "v6:2001:db8::/64", prefixKey("2001:db8::1"))
}

func TestTokenBucket_BurstThenDeny(t *testing.T) {
	tb := NewTokenBucket(TokenBucketConfig{Rate: 1, Burst: 2, MaxEntries: 10})
	assert.True(t, tb.Allow("a"))
	assert.True(t, tb.Allow("a"))
	assert.False(t, tb.Allow("a"))
}

func TestTokenBucket_DisabledWhenNonPositive(t *testing.T) {
	tb := NewTokenBucket(TokenBucketConfig{Rate: 0, Burst: 0})
	for i := 0; i < 10; i++ {
		assert.True(t, tb.Allow("a"))
	}
}

func TestLimiter_GlobalFailsFast(t *testing.T) {
	cfg := config.RateLimitConfig{
		GlobalQPS: 1, GlobalBurst: 1,
		PrefixQPS: 1000, PrefixBurst: 1000,
		IPQPS: 1000, IPBurst: 1000,
	}
	l := New(cfg)
	assert.True(t, l.Allow("1.2.3.4"))
	assert.False(t, l.Allow("5.6.7.8"))
}

func TestLimiter_PerIPIndependent(t *testing.T) {
	cfg := config.RateLimitConfig{
		GlobalQPS: 1000, GlobalBurst: 1000,
		PrefixQPS: 1000, PrefixBurst: 1000,
		IPQPS: 1, IPBurst: 1,
	}
	l := New(cfg)
	assert.True(t, l.Allow("1.2.3.4"))
	assert.False(t, l.Allow("1.2.3.4"))
	assert.True(t, l.Allow("9.9.9.9"))
}

func TestLimiter_NilIsPermissive(t *testing.T) {
	var l *Limiter
	assert.True(t, l.Allow("anything"))
}
