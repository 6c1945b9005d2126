// Package router selects a (pool, strategy-selected worker) pair for an
// incoming task. The router is required to be synchronous: it reads only
// atomic counters the pool manager maintains and performs no I/O, so
// routing latency stays predictable.
package router

import (
	"hash/fnv"
	"math/rand/v2"
	"sort"

	"github.com/lesleslie/mahavishnu/kernel"
	"github.com/lesleslie/mahavishnu/kernel/pool"
	"github.com/lesleslie/mahavishnu/kernel/task"
)

// Strategy is the inter-pool selection policy.
type Strategy string

const (
	StrategyRoundRobin  Strategy = "round-robin"
	StrategyLeastLoaded Strategy = "least-loaded"
	StrategyRandom      Strategy = "random"
	StrategyAffinity    Strategy = "affinity"
)

// Catalog is the read-only view of pools the router queries. It exposes
// only atomic-counter-backed accessors so Route never performs I/O.
type Catalog interface {
	// Pools returns the current pool snapshot. Implementations must return
	// a point-in-time copy so the router does not hold any lock across
	// Route.
	Pools() []PoolInfo
}

// PoolInfo is the read-only load/health snapshot the router consults.
type PoolInfo struct {
	ID       pool.ID
	Kind     pool.Kind
	Health   pool.Health
	Inflight int
	Queued   int
	MaxSize  int
	Priority int // carried in the snapshot; Route does not consult it
}

func (pi PoolInfo) load() float64 {
	if pi.MaxSize == 0 {
		return 0
	}
	return float64(pi.Inflight+pi.Queued) / float64(pi.MaxSize)
}

// Router is a stateful, non-suspending pool selector. State is limited to
// the round-robin cursor.
type Router struct {
	strategy Strategy
	cursor   int
}

// New constructs a Router using the given inter-pool strategy.
func New(strategy Strategy) *Router {
	return &Router{strategy: strategy}
}

// Route chooses a Pool for t. It respects t.RequestedPoolKind if present
// and a healthy pool of that kind exists; otherwise it applies the
// configured inter-pool strategy. Route never performs I/O.
func (r *Router) Route(t task.Task, catalog Catalog) (pool.ID, error) {
	pools := catalog.Pools()

	if t.RequestedPoolKind != "" {
		for _, p := range pools {
			if string(p.Kind) == t.RequestedPoolKind && p.Health != pool.HealthUnhealthy {
				return p.ID, nil
			}
		}
		return "", kernel.ErrNoPoolAvailable
	}

	healthy := make([]PoolInfo, 0, len(pools))
	for _, p := range pools {
		if p.Health != pool.HealthUnhealthy {
			healthy = append(healthy, p)
		}
	}
	if len(healthy) == 0 {
		return "", kernel.ErrNoPoolAvailable
	}

	switch r.strategy {
	case StrategyLeastLoaded:
		return r.routeLeastLoaded(healthy), nil
	case StrategyRandom:
		return routeRandom(healthy), nil
	case StrategyAffinity:
		return r.routeAffinity(t.AffinityKey, healthy), nil
	default:
		return r.routeRoundRobin(healthy), nil
	}
}

func (r *Router) routeRoundRobin(pools []PoolInfo) pool.ID {
	n := len(pools)
	idx := r.cursor % n
	r.cursor = (r.cursor + 1) % n
	return pools[idx].ID
}

func (r *Router) routeLeastLoaded(pools []PoolInfo) pool.ID {
	sorted := make([]PoolInfo, len(pools))
	copy(sorted, pools)
	sort.SliceStable(sorted, func(i, j int) bool {
		li, lj := sorted[i].load(), sorted[j].load()
		if li != lj {
			return li < lj
		}
		return sorted[i].ID < sorted[j].ID
	})
	return sorted[0].ID
}

func routeRandom(pools []PoolInfo) pool.ID {
	return pools[rand.IntN(len(pools))].ID
}

func (r *Router) routeAffinity(key string, pools []PoolInfo) pool.ID {
	if key == "" {
		return r.routeLeastLoaded(pools)
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	idx := int(h.Sum32()) % len(pools)
	if idx < 0 {
		idx += len(pools)
	}
	target := pools[idx]
	if target.Health == pool.HealthUnhealthy {
		return r.routeLeastLoaded(pools)
	}
	return target.ID
}
