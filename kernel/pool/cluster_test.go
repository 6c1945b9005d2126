package pool

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"goa.design/pulse/rmap"

	"github.com/lesleslie/mahavishnu/kernel/worker"
)

type fakeClusterMap struct {
	values map[string]string
}

func newFakeClusterMap() *fakeClusterMap {
	return &fakeClusterMap{values: make(map[string]string)}
}

func (f *fakeClusterMap) Set(ctx context.Context, key, value string) (string, error) {
	f.values[key] = value
	return value, nil
}

func (f *fakeClusterMap) Get(key string) (string, bool) {
	v, ok := f.values[key]
	return v, ok
}

func (f *fakeClusterMap) Delete(ctx context.Context, key string) (string, error) {
	v := f.values[key]
	delete(f.values, key)
	return v, nil
}

func (f *fakeClusterMap) Keys() []string {
	out := make([]string, 0, len(f.values))
	for k := range f.values {
		out = append(out, k)
	}
	return out
}

func (f *fakeClusterMap) Subscribe() <-chan rmap.EventKind       { return make(chan rmap.EventKind) }
func (f *fakeClusterMap) Unsubscribe(ch <-chan rmap.EventKind)    {}

func TestNewClusterHealthNilMapReturnsNil(t *testing.T) {
	require.Nil(t, NewClusterHealth(nil, "node-a", time.Second))
}

func TestClusterHealthPublishAndRead(t *testing.T) {
	fm := newFakeClusterMap()
	ch := &ClusterHealth{cluster: fm, nodeID: "node-a", interval: time.Second, stopCh: make(chan struct{})}

	workers := worker.NewManager(nil, nil)
	mgr := NewManager(workers, nil, nil)
	p, err := mgr.CreatePool(context.Background(), Config{Kind: KindLocal, Min: 0, Max: 1, Strategy: StrategyRoundRobin})
	require.NoError(t, err)

	ch.publishOnce(context.Background(), mgr)

	got := ch.ClusterHealth(p.ID)
	require.Equal(t, HealthUnhealthy, got["node-a"])
}

func TestClusterHealthCloseRemovesEntries(t *testing.T) {
	fm := newFakeClusterMap()
	ch := &ClusterHealth{cluster: fm, nodeID: "node-a", interval: time.Second, stopCh: make(chan struct{})}

	workers := worker.NewManager(nil, nil)
	mgr := NewManager(workers, nil, nil)
	p, err := mgr.CreatePool(context.Background(), Config{Kind: KindLocal, Min: 0, Max: 1, Strategy: StrategyRoundRobin})
	require.NoError(t, err)

	ch.publishOnce(context.Background(), mgr)
	require.NoError(t, ch.Close(context.Background(), mgr))
	require.Empty(t, ch.ClusterHealth(p.ID))
}
