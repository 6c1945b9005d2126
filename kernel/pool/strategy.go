package pool

import (
	"hash/fnv"
	"math/rand/v2"
	"sort"
	"time"

	"github.com/lesleslie/mahavishnu/kernel/worker"
)

// selectWorker picks an idle worker from p.handles per p.Config.Strategy.
// Callers must hold p.mu for writing (round-robin advances the cursor). Returns (nil, false) if no worker is idle.
func (p *Pool) selectWorker(affinityKey string) (*worker.Handle, bool) {
	switch p.Config.Strategy {
	case StrategyLeastLoaded:
		return p.selectLeastLoaded()
	case StrategyRandom:
		return p.selectRandom()
	case StrategyAffinity:
		if h, ok := p.selectAffinity(affinityKey); ok {
			return h, true
		}
		return p.selectLeastLoaded()
	default: // StrategyRoundRobin
		return p.selectRoundRobin()
	}
}

func (p *Pool) selectRoundRobin() (*worker.Handle, bool) {
	n := len(p.handles)
	if n == 0 {
		return nil, false
	}
	for i := 0; i < n; i++ {
		idx := (p.cursor + i) % n
		if p.handles[idx].State() == worker.StateIdle {
			p.cursor = (idx + 1) % n
			return p.handles[idx], true
		}
	}
	return nil, false
}

// selectLeastLoaded picks the idle worker with the oldest last_task_end
// (SpawnTime for a worker that has never run a task), ties broken on
// worker_id.
func (p *Pool) selectLeastLoaded() (*worker.Handle, bool) {
	var best *worker.Handle
	for _, h := range p.handles {
		if h.State() != worker.StateIdle {
			continue
		}
		if best == nil {
			best = h
			continue
		}
		hActivity, bestActivity := activityTime(h), activityTime(best)
		if hActivity.Before(bestActivity) ||
			(hActivity.Equal(bestActivity) && h.ID < best.ID) {
			best = h
		}
	}
	return best, best != nil
}

// activityTime is the timestamp selectLeastLoaded and idleScaleDownVictims
// order workers by: the worker's last_task_end, or its SpawnTime if it has
// never executed a task.
func activityTime(h *worker.Handle) time.Time {
	if t := h.LastTaskEnd(); !t.IsZero() {
		return t
	}
	return h.SpawnTime
}

func (p *Pool) selectRandom() (*worker.Handle, bool) {
	idle := make([]*worker.Handle, 0, len(p.handles))
	for _, h := range p.handles {
		if h.State() == worker.StateIdle {
			idle = append(idle, h)
		}
	}
	if len(idle) == 0 {
		return nil, false
	}
	return idle[rand.IntN(len(idle))], true
}

func (p *Pool) selectAffinity(key string) (*worker.Handle, bool) {
	n := len(p.handles)
	if n == 0 || key == "" {
		return nil, false
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	idx := int(h.Sum32()) % n
	if idx < 0 {
		idx += n
	}
	if p.handles[idx].State() == worker.StateIdle {
		return p.handles[idx], true
	}
	return nil, false
}

// idleScaleDownVictims selects up to n workers to close when scaling
// down: idle first, then lowest recent activity (oldest activityTime,
// matching selectLeastLoaded's tie-break rule).
func idleScaleDownVictims(handles []*worker.Handle, n int) []*worker.Handle {
	sorted := make([]*worker.Handle, len(handles))
	copy(sorted, handles)
	sort.SliceStable(sorted, func(i, j int) bool {
		si, sj := sorted[i].State(), sorted[j].State()
		idleI, idleJ := si == worker.StateIdle, sj == worker.StateIdle
		if idleI != idleJ {
			return idleI
		}
		return activityTime(sorted[i]).Before(activityTime(sorted[j]))
	})
	if n > len(sorted) {
		n = len(sorted)
	}
	return sorted[:n]
}
