// Package config loads the process-wide configuration surface from
// environment variables: per-pool scaling bounds and strategy, the
// router's inter-pool strategy, per-scope rate limits, per-adapter
// circuit breaker thresholds, per-repo bus secrets, and the scale-up
// deadline.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/lesleslie/mahavishnu/kernel/breaker"
	"github.com/lesleslie/mahavishnu/kernel/pool"
	"github.com/lesleslie/mahavishnu/kernel/ratelimit"
	"github.com/lesleslie/mahavishnu/kernel/router"
)

// PoolConfig holds the environment-supplied scaling bounds and
// intra-pool strategy for one pool ID.
type PoolConfig struct {
	Min      int
	Max      int
	Strategy pool.Strategy
}

// Config is the fully-resolved, immutable configuration for one process.
type Config struct {
	Pools          map[string]PoolConfig
	RouterStrategy router.Strategy
	Rates          map[string]ratelimit.Config
	DefaultRate    ratelimit.Config
	Circuits       map[string]breaker.Config
	BusSecrets     map[string][]byte
	SpawnBudget    time.Duration
}

// Load reads configuration from the process environment. poolIDs,
// rateScopes, circuitAdapters, and busRepos name the discovery lists
// used to find the per-entity overrides (there is no env var that
// enumerates keys by prefix, so callers provide the known set).
func Load(poolIDs, rateScopes, circuitAdapters, busRepos []string) (*Config, error) {
	cfg := &Config{
		Pools:      make(map[string]PoolConfig, len(poolIDs)),
		Rates:      make(map[string]ratelimit.Config, len(rateScopes)),
		Circuits:   make(map[string]breaker.Config, len(circuitAdapters)),
		BusSecrets: make(map[string][]byte, len(busRepos)),
	}

	for _, id := range poolIDs {
		prefix := "POOL_" + envKey(id) + "_"
		min := envIntOr(prefix+"MIN", 1)
		max := envIntOr(prefix+"MAX", min)
		if max < min {
			return nil, fmt.Errorf("config: pool %q: max (%d) below min (%d)", id, max, min)
		}
		strategy := pool.Strategy(envOr(prefix+"STRATEGY", string(pool.StrategyRoundRobin)))
		cfg.Pools[id] = PoolConfig{Min: min, Max: max, Strategy: strategy}
	}

	cfg.RouterStrategy = router.Strategy(envOr("ROUTER_STRATEGY", string(router.StrategyRoundRobin)))

	cfg.DefaultRate = ratelimit.Config{
		WindowLimit: envIntOr("RATE_DEFAULT_RPS", 10),
		Window:      time.Second,
		Burst:       envIntOr("RATE_DEFAULT_BURST", 10),
		Rate:        float64(envIntOr("RATE_DEFAULT_RPS", 10)),
	}
	for _, scope := range rateScopes {
		prefix := "RATE_" + envKey(scope) + "_"
		rps := envIntOr(prefix+"RPS", cfg.DefaultRate.WindowLimit)
		burst := envIntOr(prefix+"BURST", cfg.DefaultRate.Burst)
		cfg.Rates[scope] = ratelimit.Config{
			WindowLimit: rps,
			Window:      time.Second,
			Burst:       burst,
			Rate:        float64(rps),
		}
	}

	for _, adapter := range circuitAdapters {
		prefix := "CIRCUIT_" + envKey(adapter) + "_"
		cfg.Circuits[adapter] = breaker.Config{
			Threshold:      envIntOr(prefix+"THRESHOLD", 5),
			Window:         envDurationOr(prefix+"WINDOW", time.Minute),
			Cooldown:       envDurationOr(prefix+"COOLDOWN", 30*time.Second),
			MaxAttempts:    envIntOr(prefix+"MAX_ATTEMPTS", 3),
			InitialBackoff: envDurationOr(prefix+"INITIAL_BACKOFF", 100*time.Millisecond),
			MaxBackoff:     envDurationOr(prefix+"MAX_BACKOFF", 5*time.Second),
		}
	}

	for _, repo := range busRepos {
		key := "BUS_SECRET_" + envKey(repo)
		secret := os.Getenv(key)
		if secret == "" {
			return nil, fmt.Errorf("config: missing %s for repo %q", key, repo)
		}
		cfg.BusSecrets[repo] = []byte(secret)
	}

	cfg.SpawnBudget = time.Duration(envIntOr("SPAWN_BUDGET_SECONDS", 30)) * time.Second

	return cfg, nil
}

// envKey upper-cases and replaces characters that cannot appear in an
// environment variable name (dots, dashes) with underscores.
func envKey(s string) string {
	s = strings.ToUpper(s)
	s = strings.ReplaceAll(s, ".", "_")
	s = strings.ReplaceAll(s, "-", "_")
	return s
}

func envOr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envIntOr(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func envDurationOr(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
