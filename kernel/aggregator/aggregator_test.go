package aggregator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lesleslie/mahavishnu/kernel/pool"
)

type fakeSearcher struct {
	byPool map[pool.ID][]pool.Candidate
	errs   map[pool.ID]error
	delay  map[pool.ID]time.Duration
}

func (f fakeSearcher) MemorySearch(p *pool.Pool, query string, k int) ([]pool.Candidate, error) {
	if d, ok := f.delay[p.ID]; ok {
		time.Sleep(d)
	}
	if err, ok := f.errs[p.ID]; ok {
		return nil, err
	}
	return f.byPool[p.ID], nil
}

func TestSearchMergesByScoreDescending(t *testing.T) {
	p1 := &pool.Pool{ID: "p1"}
	p2 := &pool.Pool{ID: "p2"}
	searcher := fakeSearcher{byPool: map[pool.ID][]pool.Candidate{
		"p1": {{Score: 0.5, ArtifactID: "a1"}},
		"p2": {{Score: 0.9, ArtifactID: "a2"}},
	}}
	agg := New(searcher, time.Second, nil)

	result := agg.Search(context.Background(), "q", 10, []PoolRef{
		{Pool: p1, Priority: 1},
		{Pool: p2, Priority: 1},
	})

	require.Empty(t, result.Failed)
	require.Len(t, result.Candidates, 2)
	require.Equal(t, "a2", result.Candidates[0].ArtifactID)
	require.Equal(t, "a1", result.Candidates[1].ArtifactID)
}

func TestSearchDedupesByPoolAndArtifact(t *testing.T) {
	p1 := &pool.Pool{ID: "p1"}
	searcher := fakeSearcher{byPool: map[pool.ID][]pool.Candidate{
		"p1": {{Score: 0.5, ArtifactID: "a1"}, {Score: 0.5, ArtifactID: "a1"}},
	}}
	agg := New(searcher, time.Second, nil)

	result := agg.Search(context.Background(), "q", 10, []PoolRef{{Pool: p1, Priority: 0}})
	require.Len(t, result.Candidates, 1)
}

func TestSearchTruncatesToK(t *testing.T) {
	p1 := &pool.Pool{ID: "p1"}
	searcher := fakeSearcher{byPool: map[pool.ID][]pool.Candidate{
		"p1": {{Score: 0.9, ArtifactID: "a1"}, {Score: 0.8, ArtifactID: "a2"}, {Score: 0.7, ArtifactID: "a3"}},
	}}
	agg := New(searcher, time.Second, nil)

	result := agg.Search(context.Background(), "q", 2, []PoolRef{{Pool: p1, Priority: 0}})
	require.Len(t, result.Candidates, 2)
}

func TestSearchToleratesOnePoolFailure(t *testing.T) {
	p1 := &pool.Pool{ID: "p1"}
	p2 := &pool.Pool{ID: "p2"}
	searcher := fakeSearcher{
		byPool: map[pool.ID][]pool.Candidate{"p1": {{Score: 0.5, ArtifactID: "a1"}}},
		errs:   map[pool.ID]error{"p2": errors.New("boom")},
	}
	agg := New(searcher, time.Second, nil)

	result := agg.Search(context.Background(), "q", 10, []PoolRef{
		{Pool: p1, Priority: 0},
		{Pool: p2, Priority: 0},
	})
	require.Len(t, result.Candidates, 1)
	require.Equal(t, []pool.ID{"p2"}, result.Failed)
}

func TestSearchDropsPoolExceedingDeadline(t *testing.T) {
	p1 := &pool.Pool{ID: "p1"}
	searcher := fakeSearcher{delay: map[pool.ID]time.Duration{"p1": 50 * time.Millisecond}}
	agg := New(searcher, 5*time.Millisecond, nil)

	result := agg.Search(context.Background(), "q", 10, []PoolRef{{Pool: p1, Priority: 0}})
	require.Empty(t, result.Candidates)
	require.Equal(t, []pool.ID{"p1"}, result.Failed)
}
