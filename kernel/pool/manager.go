package pool

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/lesleslie/mahavishnu/kernel"
	"github.com/lesleslie/mahavishnu/kernel/task"
	"github.com/lesleslie/mahavishnu/kernel/telemetry"
	"github.com/lesleslie/mahavishnu/kernel/worker"
)

// spawnBudget bounds a scale-up operation's overall deadline.
const spawnBudget = 30 * time.Second

// queuedTask is a task waiting in a pool's bounded intra-pool FIFO.
type queuedTask struct {
	t    task.Task
	done chan queueResult
}

type queueResult struct {
	res task.Result
	err error
}

// Manager owns a named collection of Pools.
type Manager struct {
	workers *worker.Manager
	logger  telemetry.Logger
	metrics telemetry.Metrics

	mu    sync.RWMutex
	pools map[ID]*Pool
	queue map[ID]chan queuedTask
}

// NewManager constructs a pool Manager bound to a worker Manager.
func NewManager(workers *worker.Manager, logger telemetry.Logger, metrics telemetry.Metrics) *Manager {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}
	return &Manager{
		workers: workers,
		logger:  logger,
		metrics: metrics,
		pools:   make(map[ID]*Pool),
		queue:   make(map[ID]chan queuedTask),
	}
}

// CreatePool creates a new pool and scales it up to cfg.Min workers.
func (m *Manager) CreatePool(ctx context.Context, cfg Config) (*Pool, error) {
	id := ID(uuid.NewString())
	p := newPool(id, cfg)

	m.mu.Lock()
	m.pools[id] = p
	m.queue[id] = make(chan queuedTask, cfg.Max*2)
	m.mu.Unlock()

	go m.dispatchLoop(p)

	if cfg.Min > 0 {
		if _, err := m.Scale(ctx, p, cfg.Min); err != nil {
			return p, err
		}
	}
	m.logger.Info(ctx, "pool created", "pool_id", string(id), "kind", string(cfg.Kind))
	return p, nil
}

// Pool looks up a pool by ID.
func (m *Manager) Pool(id ID) (*Pool, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.pools[id]
	return p, ok
}

// Pools returns a snapshot of all pools, sorted by ID, for the router's
// catalog. Iterating a Go map directly would hand the router a
// differently-ordered slice on every call, which would break
// routeAffinity's whole purpose (the same affinity_key hashing to a
// different index into a reordered slice).
func (m *Manager) Pools() []*Pool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Pool, 0, len(m.pools))
	for _, p := range m.pools {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Scale resizes p to target, clamped to [min_workers, max_workers].
// Scaling up spawns N workers in parallel within spawnBudget; scaling down
// closes victims selected idle-first, then lowest recent activity.
func (m *Manager) Scale(ctx context.Context, p *Pool, target int) (int, error) {
	clamped := target
	if clamped < p.Config.Min {
		clamped = p.Config.Min
	}
	if clamped > p.Config.Max {
		clamped = p.Config.Max
	}
	if quota := p.Config.ResourceQuota; p.Kind == KindContainer && quota != nil {
		if avail, ok := quota.Available(string(p.Kind)); ok && clamped > p.CurrentSize()+avail {
			clamped = p.CurrentSize() + avail
		}
	}

	current := p.CurrentSize()
	switch {
	case clamped > current:
		return m.scaleUp(ctx, p, clamped-current)
	case clamped < current:
		return m.scaleDown(ctx, p, current-clamped)
	default:
		return current, nil
	}
}

func (m *Manager) scaleUp(ctx context.Context, p *Pool, n int) (int, error) {
	budgetCtx, cancel := context.WithTimeout(ctx, spawnBudget)
	defer cancel()

	var g errgroup.Group
	results := make([]*worker.Handle, n)
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			meta := worker.LauncherMetadata{}
			if p.Config.SpawnMeta != nil {
				meta = p.Config.SpawnMeta(i)
			}
			h, err := m.workers.Spawn(budgetCtx, workerKindFor(p.Kind), meta)
			if err != nil {
				return err
			}
			results[i] = h
			return nil
		})
	}
	_ = g.Wait() // partial spawns are kept; errors reflected via final size

	p.mu.Lock()
	spawned := 0
	for _, h := range results {
		if h != nil {
			p.handles = append(p.handles, h)
			spawned++
		}
	}
	size := len(p.handles)
	p.mu.Unlock()

	m.metrics.RecordGauge("pool.size", float64(size), "pool_id", string(p.ID))
	return size, nil
}

func (m *Manager) scaleDown(ctx context.Context, p *Pool, n int) (int, error) {
	p.mu.Lock()
	victims := idleScaleDownVictims(p.handles, n)
	victimSet := make(map[worker.ID]struct{}, len(victims))
	for _, v := range victims {
		victimSet[v.ID] = struct{}{}
	}
	remaining := p.handles[:0:0]
	for _, h := range p.handles {
		if _, isVictim := victimSet[h.ID]; !isVictim {
			remaining = append(remaining, h)
		}
	}
	p.handles = remaining
	size := len(p.handles)
	p.mu.Unlock()

	for _, v := range victims {
		_ = m.workers.Close(ctx, v)
	}
	return size, nil
}

func workerKindFor(k Kind) worker.Kind {
	switch k {
	case KindContainer:
		return worker.KindContainer
	case KindDelegated:
		return worker.KindRemoteDelegate
	default:
		return worker.KindSubprocessAI
	}
}

// Execute selects a worker per p's intra-pool strategy and runs t on it.
// If no worker is idle, t is enqueued in the bounded FIFO (depth =
// max_workers*2); enqueuing beyond that bound fails with Overloaded.
func (m *Manager) Execute(ctx context.Context, p *Pool, t task.Task) (task.Result, error) {
	if p.Kind == KindDelegated && p.Config.Delegate != nil {
		return m.executeDelegated(p, t)
	}

	p.mu.Lock()
	h, ok := p.selectWorker(t.AffinityKey)
	p.mu.Unlock()
	if ok {
		p.inflight.Add(1)
		res, err := m.workers.Execute(ctx, h, t)
		p.inflight.Add(-1)
		if err != nil || res.Status == task.ResultFailed {
			p.recordFault(h.ID)
		}
		return res, err
	}

	m.mu.RLock()
	q := m.queue[p.ID]
	m.mu.RUnlock()

	qt := queuedTask{t: t, done: make(chan queueResult, 1)}
	select {
	case q <- qt:
		p.queued.Add(1)
	default:
		return task.Result{}, &kernel.Overloaded{RetryAfter: time.Second}
	}

	select {
	case r := <-qt.done:
		return r.res, r.err
	case <-ctx.Done():
		return task.Result{}, ctx.Err()
	}
}

func (m *Manager) executeDelegated(p *Pool, t task.Task) (task.Result, error) {
	p.mu.Lock()
	if p.slots >= p.Config.Max {
		p.mu.Unlock()
		return task.Result{}, &kernel.Overloaded{RetryAfter: time.Second}
	}
	p.slots++
	p.mu.Unlock()
	p.inflight.Add(1)
	defer func() {
		p.inflight.Add(-1)
		p.mu.Lock()
		p.slots--
		p.mu.Unlock()
	}()

	artifact, err := p.Config.Delegate.Execute(t.Payload.Raw)
	if err != nil {
		return task.Result{TaskID: t.ID, Status: task.ResultFailed}, err
	}
	return task.Result{TaskID: t.ID, Status: task.ResultCompleted, Artifact: artifact}, nil
}

// dispatchLoop drains p's FIFO whenever a worker frees up. It owns no
// separate priority tiers per pool as the router already orders inter-pool
// dispatch; within a pool, dispatch is FIFO.
func (m *Manager) dispatchLoop(p *Pool) {
	m.mu.RLock()
	q := m.queue[p.ID]
	m.mu.RUnlock()

	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for range ticker.C {
		p.mu.RLock()
		closing := p.closing
		p.mu.RUnlock()
		if closing {
			m.drainQueueCancelled(p, q)
			return
		}
		p.mu.Lock()
		h, ok := p.selectWorker("")
		p.mu.Unlock()
		if !ok {
			continue
		}
		select {
		case qt := <-q:
			p.queued.Add(-1)
			p.inflight.Add(1)
			go func(h *worker.Handle, qt queuedTask) {
				res, err := m.workers.Execute(context.Background(), h, qt.t)
				p.inflight.Add(-1)
				qt.done <- queueResult{res, err}
			}(h, qt)
		default:
		}
	}
}

func (m *Manager) drainQueueCancelled(p *Pool, q chan queuedTask) {
	for {
		select {
		case qt := <-q:
			p.queued.Add(-1)
			qt.done <- queueResult{res: task.Result{TaskID: qt.t.ID, Status: task.ResultCancelled}}
		default:
			return
		}
	}
}

// Close drains p: stop admitting, let running tasks complete to their
// deadlines, then close all workers. Idle, faulted, or already-cancelling
// workers are closed immediately; a running worker is only closed once its
// in-flight Execute returns, which worker.Manager.Execute itself bounds to
// the task's own deadline.
func (m *Manager) Close(ctx context.Context, p *Pool) error {
	p.mu.Lock()
	p.closing = true
	handles := make([]*worker.Handle, len(p.handles))
	copy(handles, p.handles)
	p.mu.Unlock()

	var g errgroup.Group
	for _, h := range handles {
		h := h
		g.Go(func() error {
			m.awaitIdle(ctx, h)
			return m.workers.Close(ctx, h)
		})
	}
	err := g.Wait()

	p.mu.Lock()
	p.handles = nil
	p.mu.Unlock()
	return err
}

// awaitIdle blocks until h is no longer running a task, or ctx is done.
func (m *Manager) awaitIdle(ctx context.Context, h *worker.Handle) {
	if h.State() != worker.StateRunning {
		return
	}
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if h.State() != worker.StateRunning {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// MemoryPut writes a key/value pair into p's memory handle.
func (m *Manager) MemoryPut(p *Pool, key string, value []byte) error {
	if p.Config.Memory == nil {
		return fmt.Errorf("pool %s: no memory handle configured", p.ID)
	}
	return p.Config.Memory.Put(key, value)
}

// MemorySearch queries p's memory handle for ranked candidates.
func (m *Manager) MemorySearch(p *Pool, query string, k int) ([]Candidate, error) {
	if p.Config.Memory == nil {
		return nil, fmt.Errorf("pool %s: no memory handle configured", p.ID)
	}
	return p.Config.Memory.Search(query, k)
}
