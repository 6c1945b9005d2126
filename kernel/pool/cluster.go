package pool

import (
	"context"
	"strings"
	"sync"
	"time"

	"goa.design/pulse/rmap"
)

// clusterMap is the subset of rmap.Map ClusterHealth needs.
type clusterMap interface {
	Set(ctx context.Context, key, value string) (string, error)
	Get(key string) (string, bool)
	Delete(ctx context.Context, key string) (string, error)
	Keys() []string
	Subscribe() <-chan rmap.EventKind
	Unsubscribe(<-chan rmap.EventKind)
}

type rmapClusterMap struct{ m *rmap.Map }

func (c *rmapClusterMap) Set(ctx context.Context, key, value string) (string, error) {
	return c.m.Set(ctx, key, value)
}
func (c *rmapClusterMap) Get(key string) (string, bool) { return c.m.Get(key) }
func (c *rmapClusterMap) Delete(ctx context.Context, key string) (string, error) {
	return c.m.Delete(ctx, key)
}
func (c *rmapClusterMap) Keys() []string                      { return c.m.Keys() }
func (c *rmapClusterMap) Subscribe() <-chan rmap.EventKind     { return c.m.Subscribe() }
func (c *rmapClusterMap) Unsubscribe(ch <-chan rmap.EventKind) { c.m.Unsubscribe(ch) }

// ClusterHealth publishes this node's pool health to a Pulse replicated
// map on an interval, and reports the cluster-wide view by merging every
// node's last-published entry for a pool ID. It is an optional layer on
// top of Manager: a process with no Redis configured simply runs without
// one, and Manager.Health still answers from local state only.
type ClusterHealth struct {
	cluster  clusterMap
	nodeID   string
	interval time.Duration

	stopOnce sync.Once
	stopCh   chan struct{}
}

const clusterHealthKeyPrefix = "pool:health:"

// NewClusterHealth constructs a cluster-wide health publisher keyed by
// nodeID under m. When m is nil, NewClusterHealth returns nil and callers
// should fall back to Manager's local-only health.
func NewClusterHealth(m *rmap.Map, nodeID string, interval time.Duration) *ClusterHealth {
	if m == nil || nodeID == "" {
		return nil
	}
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &ClusterHealth{
		cluster:  &rmapClusterMap{m: m},
		nodeID:   nodeID,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Publish starts a ticker that writes mgr's local pool healths to the
// shared map every interval, until ctx is cancelled or Close is called.
func (ch *ClusterHealth) Publish(ctx context.Context, mgr *Manager) {
	ticker := time.NewTicker(ch.interval)
	go func() {
		defer ticker.Stop()
		ch.publishOnce(ctx, mgr)
		for {
			select {
			case <-ticker.C:
				ch.publishOnce(ctx, mgr)
			case <-ch.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (ch *ClusterHealth) publishOnce(ctx context.Context, mgr *Manager) {
	for _, p := range mgr.Pools() {
		key := ch.key(p.ID)
		_, _ = ch.cluster.Set(ctx, key, string(p.Health()))
	}
}

// ClusterHealth reports every node's last-published health for id, keyed
// by node ID. An empty map means no node has published health for id yet
// (or the entries have expired from the replicated map).
func (ch *ClusterHealth) ClusterHealth(id ID) map[string]Health {
	out := make(map[string]Health)
	suffix := "pool=" + string(id)
	for _, k := range ch.cluster.Keys() {
		if !strings.HasSuffix(k, suffix) {
			continue
		}
		node := strings.TrimSuffix(strings.TrimPrefix(k, clusterHealthKeyPrefix), ":"+suffix)
		if v, ok := ch.cluster.Get(k); ok {
			out[node] = Health(v)
		}
	}
	return out
}

func (ch *ClusterHealth) key(id ID) string {
	return clusterHealthKeyPrefix + ch.nodeID + ":pool=" + string(id)
}

// Close stops publishing and removes this node's entries from the shared
// map so stale health doesn't linger after a clean shutdown.
func (ch *ClusterHealth) Close(ctx context.Context, mgr *Manager) error {
	var err error
	ch.stopOnce.Do(func() {
		close(ch.stopCh)
		for _, p := range mgr.Pools() {
			if _, delErr := ch.cluster.Delete(ctx, ch.key(p.ID)); delErr != nil {
				err = delErr
			}
		}
	})
	return err
}
