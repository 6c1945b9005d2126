// Package aggregator fans out unified memory search across pools and
// merges the results, tolerating partial per-pool failure.
package aggregator

import (
	"context"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lesleslie/mahavishnu/kernel/pool"
	"github.com/lesleslie/mahavishnu/kernel/telemetry"
)

// defaultPoolDeadline bounds how long any single pool's search may take
// before its contribution is dropped.
const defaultPoolDeadline = 2 * time.Second

// Searcher is the subset of pool.Manager the aggregator needs: searching
// one named pool's memory handle.
type Searcher interface {
	MemorySearch(p *pool.Pool, query string, k int) ([]pool.Candidate, error)
}

// Aggregator implements the Aggregator responsibility (C7).
type Aggregator struct {
	searcher     Searcher
	poolDeadline time.Duration
	logger       telemetry.Logger
}

// New constructs an Aggregator. poolDeadline of zero uses the 2s default.
func New(searcher Searcher, poolDeadline time.Duration, logger telemetry.Logger) *Aggregator {
	if poolDeadline <= 0 {
		poolDeadline = defaultPoolDeadline
	}
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &Aggregator{searcher: searcher, poolDeadline: poolDeadline, logger: logger}
}

// Result is the merged response envelope: ranked candidates plus the set
// of pools whose contribution was dropped due to error or timeout.
type Result struct {
	Candidates []RankedCandidate
	Failed     []pool.ID
}

// RankedCandidate attaches the originating pool to a pool.Candidate so
// dedupe and tie-break can use (pool_id, artifact_hash).
type RankedCandidate struct {
	pool.Candidate
	PoolID       pool.ID
	PoolPriority int
}

// PoolRef is the minimal shape Search needs about each candidate pool: its
// identity and configured priority (used only for merge tie-breaks, never
// for selection — selection is the caller's concern via pool_filter).
type PoolRef struct {
	Pool     *pool.Pool
	Priority int
}

// Search fans out memory_search to every pool in pools (already filtered
// by any pool_filter the caller applied) in parallel, bounded by
// len(pools) concurrent calls, merges candidates by descending score,
// deduplicates by (pool_id, artifact_hash), and truncates to k. Ties break
// by higher configured pool priority, then lexicographic pool_id.
func (a *Aggregator) Search(ctx context.Context, query string, k int, pools []PoolRef) Result {
	type poolResult struct {
		id         pool.ID
		priority   int
		candidates []pool.Candidate
		err        error
	}

	results := make([]poolResult, len(pools))
	g, gctx := errgroup.WithContext(ctx)
	for i, ref := range pools {
		i, ref := i, ref
		g.Go(func() error {
			deadlineCtx, cancel := context.WithTimeout(gctx, a.poolDeadline)
			defer cancel()

			done := make(chan struct{})
			var candidates []pool.Candidate
			var err error
			go func() {
				candidates, err = a.searcher.MemorySearch(ref.Pool, query, k)
				close(done)
			}()

			select {
			case <-done:
				results[i] = poolResult{id: ref.Pool.ID, priority: ref.Priority, candidates: candidates, err: err}
			case <-deadlineCtx.Done():
				results[i] = poolResult{id: ref.Pool.ID, priority: ref.Priority, err: deadlineCtx.Err()}
			}
			return nil // partial failure never aborts the fan-out
		})
	}
	_ = g.Wait()

	var merged []RankedCandidate
	seen := make(map[string]struct{})
	var failed []pool.ID
	succeeded := false
	for _, r := range results {
		if r.err != nil {
			failed = append(failed, r.id)
			a.logger.Warn(ctx, "pool memory search failed", "pool_id", string(r.id), "error", r.err)
			continue
		}
		succeeded = true
		for _, c := range r.candidates {
			dedupeKey := string(r.id) + "\x00" + c.ArtifactID
			if _, dup := seen[dedupeKey]; dup {
				continue
			}
			seen[dedupeKey] = struct{}{}
			merged = append(merged, RankedCandidate{Candidate: c, PoolID: r.id, PoolPriority: r.priority})
		}
	}
	_ = succeeded // overall call succeeds as long as at least one pool returned; caller decides how to surface an all-failed Result

	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].Score != merged[j].Score {
			return merged[i].Score > merged[j].Score
		}
		if merged[i].PoolPriority != merged[j].PoolPriority {
			return merged[i].PoolPriority > merged[j].PoolPriority
		}
		return merged[i].PoolID < merged[j].PoolID
	})
	if k > 0 && len(merged) > k {
		merged = merged[:k]
	}

	return Result{Candidates: merged, Failed: failed}
}
