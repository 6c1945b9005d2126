// Package pool implements the Pool Manager: ownership of a named
// collection of workers, scaling bounds, health, and a per-pool memory
// handle.
package pool

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/lesleslie/mahavishnu/kernel/worker"
)

// ID strongly types a pool identifier.
type ID string

// Kind enumerates the supported pool kinds.
type Kind string

const (
	KindLocal     Kind = "local"
	KindDelegated Kind = "delegated"
	KindContainer Kind = "container"
)

// Strategy is the intra-pool worker-selection policy.
type Strategy string

const (
	StrategyRoundRobin  Strategy = "round-robin"
	StrategyLeastLoaded Strategy = "least-loaded"
	StrategyRandom      Strategy = "random"
	StrategyAffinity    Strategy = "affinity"
)

// Health is the aggregate health of a pool.
type Health string

const (
	HealthHealthy   Health = "healthy"
	HealthDegraded  Health = "degraded"
	HealthUnhealthy Health = "unhealthy"
)

// MemoryHandle is the opaque per-pool capability set {put, get, search}.
// The core requires only this narrow contract; the concrete store backing
// it (in-process index, vector DB, ...) is an external collaborator.
type MemoryHandle interface {
	Put(key string, value []byte) error
	Get(key string) ([]byte, bool, error)
	Search(query string, k int) ([]Candidate, error)
}

// Candidate is one ranked result from a memory search.
type Candidate struct {
	Score      float64
	ArtifactID string
	Metadata   map[string]any
}

// Config describes how to create a pool.
type Config struct {
	Kind         Kind
	Min          int
	Max          int
	Strategy     Strategy
	Memory       MemoryHandle
	SpawnMeta    func(slot int) worker.LauncherMetadata
	ResourceQuota ResourceQuota // consulted for Kind == KindContainer
	Delegate     DelegateClient // consulted for Kind == KindDelegated
}

// ResourceQuota reports how many additional workers a container pool may
// spawn, per the external resource-quota signal named in the design.
type ResourceQuota interface {
	Available(kind string) (int, bool)
}

// DelegateClient proxies execute to a peer orchestrator for a delegated
// pool; "workers" in a delegated pool are logical slots tracking
// outstanding peer requests, not local processes.
type DelegateClient interface {
	Execute(taskPayload []byte) ([]byte, error)
}

// recentActivity tracks per-worker fault counts in a trailing window for
// degraded/unhealthy health computation.
type recentActivity struct {
	faults    int
	lastFault time.Time
}

// Pool is a named set of workers with a kind and scaling policy.
//
// Invariants: min_workers ≤ current_size ≤ max_workers; no worker appears
// in two pools (enforced by the owning Manager never sharing handles);
// destroying a pool transitions all its workers to closing.
type Pool struct {
	ID     ID
	Kind   Kind
	Config Config

	mu       sync.RWMutex
	handles  []*worker.Handle
	cursor   int // round-robin cursor
	activity map[worker.ID]*recentActivity
	closing  bool
	slots    int // delegated pool outstanding-request count

	inflight atomic.Int64 // tasks currently executing
	queued   atomic.Int64 // tasks waiting in the intra-pool FIFO
}

// Inflight returns the number of tasks this pool is currently executing.
// The router reads this (and Queued) directly with no lock or I/O, per the
// synchronous-routing requirement.
func (p *Pool) Inflight() int64 { return p.inflight.Load() }

// Queued returns the number of tasks waiting in this pool's intra-pool
// FIFO for a worker to free up.
func (p *Pool) Queued() int64 { return p.queued.Load() }

const (
	degradedFaultRatio = 0.5
	faultWindow        = 5 * time.Minute
)

func newPool(id ID, cfg Config) *Pool {
	return &Pool{
		ID:       id,
		Kind:     cfg.Kind,
		Config:   cfg,
		activity: make(map[worker.ID]*recentActivity),
	}
}

// CurrentSize returns the number of workers currently owned by the pool.
func (p *Pool) CurrentSize() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.handles)
}

// Health computes {healthy, degraded, unhealthy} per the design's
// formula: healthy iff current_size >= min_workers and at least one
// worker is idle or running; degraded if the fault count of workers whose
// last fault falls within faultWindow (5 minutes), divided by
// current_size, exceeds degradedFaultRatio (0.5); unhealthy if
// current_size == 0 or all workers are faulted. The window and the ratio
// are package constants and are not configurable per pool.
func (p *Pool) Health() Health {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if len(p.handles) == 0 {
		return HealthUnhealthy
	}
	faulted := 0
	usable := false
	for _, h := range p.handles {
		switch h.State() {
		case worker.StateFaulted:
			faulted++
		case worker.StateIdle, worker.StateRunning:
			usable = true
		}
	}
	if faulted == len(p.handles) {
		return HealthUnhealthy
	}
	if len(p.handles) < p.Config.Min || !usable {
		return HealthUnhealthy
	}

	recentFaults := 0
	cutoff := time.Now().Add(-faultWindow)
	for _, a := range p.activity {
		if a.lastFault.After(cutoff) {
			recentFaults += a.faults
		}
	}
	if float64(recentFaults)/float64(len(p.handles)) > degradedFaultRatio {
		return HealthDegraded
	}
	return HealthHealthy
}

func (p *Pool) recordFault(id worker.ID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	a, ok := p.activity[id]
	if !ok {
		a = &recentActivity{}
		p.activity[id] = a
	}
	a.faults++
	a.lastFault = time.Now()
}
