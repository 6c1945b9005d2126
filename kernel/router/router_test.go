package router

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lesleslie/mahavishnu/kernel"
	"github.com/lesleslie/mahavishnu/kernel/pool"
	"github.com/lesleslie/mahavishnu/kernel/task"
)

type staticCatalog []PoolInfo

func (c staticCatalog) Pools() []PoolInfo { return c }

func TestRoutePinnedKindUnavailableReturnsNoPoolAvailable(t *testing.T) {
	catalog := staticCatalog{
		{ID: "A", Kind: pool.KindLocal, Health: pool.HealthHealthy},
		{ID: "B", Kind: pool.KindContainer, Health: pool.HealthUnhealthy},
	}
	r := New(StrategyRoundRobin)
	_, err := r.Route(task.Task{RequestedPoolKind: "container"}, catalog)
	require.ErrorIs(t, err, kernel.ErrNoPoolAvailable)
}

func TestRouteLeastLoadedPicksLowestLoadThenLowestID(t *testing.T) {
	catalog := staticCatalog{
		{ID: "B", Health: pool.HealthHealthy, Inflight: 2, MaxSize: 4},
		{ID: "A", Health: pool.HealthHealthy, Inflight: 2, MaxSize: 4},
	}
	r := New(StrategyLeastLoaded)
	id, err := r.Route(task.Task{}, catalog)
	require.NoError(t, err)
	require.Equal(t, pool.ID("A"), id, "tie on load must break by lowest pool_id")
}

func TestRouteRoundRobinSkipsUnhealthy(t *testing.T) {
	catalog := staticCatalog{
		{ID: "A", Health: pool.HealthUnhealthy},
		{ID: "B", Health: pool.HealthHealthy},
	}
	r := New(StrategyRoundRobin)
	id, err := r.Route(task.Task{}, catalog)
	require.NoError(t, err)
	require.Equal(t, pool.ID("B"), id)
}
