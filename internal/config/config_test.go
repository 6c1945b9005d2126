package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lesleslie/mahavishnu/kernel/pool"
)

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load([]string{"p1"}, nil, nil, nil)
	require.NoError(t, err)
	require.Equal(t, PoolConfig{Min: 1, Max: 1, Strategy: pool.StrategyRoundRobin}, cfg.Pools["p1"])
	require.Equal(t, 30*time.Second, cfg.SpawnBudget)
}

func TestLoadReadsPoolOverrides(t *testing.T) {
	t.Setenv("POOL_P1_MIN", "2")
	t.Setenv("POOL_P1_MAX", "8")
	t.Setenv("POOL_P1_STRATEGY", "least-loaded")

	cfg, err := Load([]string{"p1"}, nil, nil, nil)
	require.NoError(t, err)
	require.Equal(t, PoolConfig{Min: 2, Max: 8, Strategy: pool.StrategyLeastLoaded}, cfg.Pools["p1"])
}

func TestLoadRejectsMaxBelowMin(t *testing.T) {
	t.Setenv("POOL_P1_MIN", "4")
	t.Setenv("POOL_P1_MAX", "2")

	_, err := Load([]string{"p1"}, nil, nil, nil)
	require.Error(t, err)
}

func TestLoadRequiresBusSecrets(t *testing.T) {
	_, err := Load(nil, nil, nil, []string{"repo-a"})
	require.Error(t, err)

	t.Setenv("BUS_SECRET_REPO_A", "shh")
	cfg, err := Load(nil, nil, nil, []string{"repo-a"})
	require.NoError(t, err)
	require.Equal(t, []byte("shh"), cfg.BusSecrets["repo-a"])
}

func TestLoadRateAndCircuitOverrides(t *testing.T) {
	t.Setenv("RATE_TOOLX_RPS", "20")
	t.Setenv("RATE_TOOLX_BURST", "40")
	t.Setenv("CIRCUIT_ANTHROPIC_THRESHOLD", "7")
	t.Setenv("CIRCUIT_ANTHROPIC_COOLDOWN", "1m")
	t.Setenv("CIRCUIT_ANTHROPIC_MAX_ATTEMPTS", "4")

	cfg, err := Load(nil, []string{"toolx"}, []string{"anthropic"}, nil)
	require.NoError(t, err)
	require.Equal(t, 20, cfg.Rates["toolx"].WindowLimit)
	require.Equal(t, 40, cfg.Rates["toolx"].Burst)
	require.Equal(t, 7, cfg.Circuits["anthropic"].Threshold)
	require.Equal(t, time.Minute, cfg.Circuits["anthropic"].Cooldown)
	require.Equal(t, 4, cfg.Circuits["anthropic"].MaxAttempts)
}
