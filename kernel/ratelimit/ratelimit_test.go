package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lesleslie/mahavishnu/kernel"
)

func TestAllowAdmitsAtLimitDeniesAtLimitPlusOne(t *testing.T) {
	cfg := Config{WindowLimit: 3, Window: time.Minute, Burst: 100, Rate: 100}
	l := New(cfg)
	key := Key{Subject: "alice", ToolName: "search"}
	now := time.Now()

	for i := 0; i < 3; i++ {
		require.NoError(t, l.Allow(key, now))
	}
	err := l.Allow(key, now)
	require.Error(t, err)
	var rl *kernel.RateLimited
	require.ErrorAs(t, err, &rl)
}

func TestExemptSubjectBypassesBothGates(t *testing.T) {
	cfg := Config{WindowLimit: 1, Window: time.Minute, Burst: 1, Rate: 1}
	l := New(cfg, "service-account")
	key := Key{Subject: "service-account", ToolName: "search"}
	now := time.Now()

	for i := 0; i < 10; i++ {
		require.NoError(t, l.Allow(key, now))
	}
}

func TestTokenBucketDeniesBeyondBurstEvenWithinWindow(t *testing.T) {
	cfg := Config{WindowLimit: 100, Window: time.Minute, Burst: 2, Rate: 0.001}
	l := New(cfg)
	key := Key{Subject: "bob", ToolName: "index"}
	now := time.Now()

	require.NoError(t, l.Allow(key, now))
	require.NoError(t, l.Allow(key, now))
	require.Error(t, l.Allow(key, now))
}
