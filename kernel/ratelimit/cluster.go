package ratelimit

import (
	"context"
	"strconv"
	"sync"
	"time"

	"goa.design/pulse/rmap"
)

// clusterMap is the subset of rmap.Map a ClusterBudget needs.
type clusterMap interface {
	Get(key string) (string, bool)
	SetIfNotExists(ctx context.Context, key, value string) (bool, error)
	TestAndSet(ctx context.Context, key, test, value string) (string, error)
	Subscribe() <-chan rmap.EventKind
}

type rmapClusterMap struct{ m *rmap.Map }

func (c *rmapClusterMap) Get(key string) (string, bool) { return c.m.Get(key) }
func (c *rmapClusterMap) SetIfNotExists(ctx context.Context, key, value string) (bool, error) {
	return c.m.SetIfNotExists(ctx, key, value)
}
func (c *rmapClusterMap) TestAndSet(ctx context.Context, key, test, value string) (string, error) {
	return c.m.TestAndSet(ctx, key, test, value)
}
func (c *rmapClusterMap) Subscribe() <-chan rmap.EventKind { return c.m.Subscribe() }

// ClusterBudget shares an AIMD-adjusted token budget across every
// mahavishnud process in a cluster, backed by a Pulse replicated map.
// It is an optional coordination layer on top of Limiter: adapters call
// Backoff/Probe in response to observed provider throttling. ClusterBudget
// does not adjust a Limiter itself; each node observes changes to the
// shared value through the onChange callback it passes to Watch.
type ClusterBudget struct {
	mu      sync.Mutex
	cluster clusterMap
	key     string
	min     float64
	max     float64
	step    float64

	onChange func(newBurst int)
}

// NewClusterBudget constructs a cluster-coordinated budget seeded at
// initial (clamped to [min, max]). When m is nil, NewClusterBudget returns
// nil and callers should fall back to a process-local Limiter only.
func NewClusterBudget(ctx context.Context, m *rmap.Map, key string, initial, min, max, step float64) *ClusterBudget {
	if m == nil || key == "" {
		return nil
	}
	cb := &ClusterBudget{cluster: &rmapClusterMap{m: m}, key: key, min: min, max: max, step: step}
	cb.seed(ctx, initial)
	return cb
}

// Watch subscribes to external changes to the shared budget and invokes
// onChange with the reconciled value whenever another node adjusts it.
func (cb *ClusterBudget) Watch(onChange func(newBurst int)) {
	cb.mu.Lock()
	cb.onChange = onChange
	cb.mu.Unlock()

	ch := cb.cluster.Subscribe()
	go func() {
		for range ch {
			cur, ok := cb.cluster.Get(cb.key)
			if !ok {
				continue
			}
			v, err := strconv.ParseFloat(cur, 64)
			if err != nil || v <= 0 {
				continue
			}
			cb.mu.Lock()
			handler := cb.onChange
			cb.mu.Unlock()
			if handler != nil {
				handler(int(v))
			}
		}
	}()
}

func (cb *ClusterBudget) seed(ctx context.Context, initial float64) {
	if _, ok := cb.cluster.Get(cb.key); ok {
		return
	}
	_, _ = cb.cluster.SetIfNotExists(ctx, cb.key, strconv.Itoa(int(initial)))
}

// Backoff halves the shared budget (bounded below by min), matching the
// AIMD multiplicative-decrease step every node's adapter triggers on a
// provider rate-limit signal.
func (cb *ClusterBudget) Backoff(ctx context.Context) {
	go cb.casLoop(ctx, func(cur float64) float64 {
		next := cur * 0.5
		if next < cb.min {
			next = cb.min
		}
		return next
	})
}

// Probe grows the shared budget by one additive-increase step (bounded
// above by max) after a successful adapter call.
func (cb *ClusterBudget) Probe(ctx context.Context) {
	go cb.casLoop(ctx, func(cur float64) float64 {
		next := cur + cb.step
		if next > cb.max {
			next = cb.max
		}
		return next
	})
}

func (cb *ClusterBudget) casLoop(ctx context.Context, next func(cur float64) float64) {
	const maxAttempts = 3
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	for i := 0; i < maxAttempts; i++ {
		curStr, ok := cb.cluster.Get(cb.key)
		if !ok {
			return
		}
		cur, err := strconv.ParseFloat(curStr, 64)
		if err != nil || cur <= 0 {
			return
		}
		nextVal := next(cur)
		if nextVal == cur {
			return
		}
		nextStr := strconv.Itoa(int(nextVal))
		prev, err := cb.cluster.TestAndSet(ctx, cb.key, curStr, nextStr)
		if err != nil {
			return
		}
		if prev == curStr {
			return
		}
	}
}
