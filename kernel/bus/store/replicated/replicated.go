// Package replicated provides a replicated-map hot cache in front of a
// durable bus store.
//
// Get is served from a Pulse replicated map (rmap), backed by Redis, so a
// multi-node deployment shares a read view of individual messages without
// every get round-tripping to the durable store; a cache miss falls
// through to the durable store and repopulates the cache. ListByRecipient
// always reads the durable store. Writes go to the durable store first,
// then to the cache.
package replicated

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/lesleslie/mahavishnu/kernel/bus/store"
)

// Map is the minimal replicated-map contract the hot cache needs.
// Satisfied by *rmap.Map from goa.design/pulse/rmap. Defined here to keep
// this package unit-testable without Redis.
type Map interface {
	Delete(ctx context.Context, key string) (string, error)
	Get(key string) (string, bool)
	Keys() []string
	Set(ctx context.Context, key, value string) (string, error)
}

// Store wraps a durable store.Store with an rmap read cache.
type Store struct {
	m       Map
	backing store.Store
}

var _ store.Store = (*Store)(nil)

const messageKeyPrefix = "bus:message:"

// New creates a hot-cache store over backing, using m for the shared
// cache layer.
func New(m Map, backing store.Store) *Store {
	return &Store{m: m, backing: backing}
}

func (s *Store) Save(ctx context.Context, e *store.Envelope) error {
	if err := s.backing.Save(ctx, e); err != nil {
		return err
	}
	b, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal message %q: %w", e.MessageID, err)
	}
	if _, err := s.m.Set(ctx, messageKey(e.MessageID), string(b)); err != nil {
		return fmt.Errorf("cache message %q: %w", e.MessageID, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, messageID string) (*store.Envelope, error) {
	if val, ok := s.m.Get(messageKey(messageID)); ok {
		var e store.Envelope
		if err := json.Unmarshal([]byte(val), &e); err != nil {
			return nil, fmt.Errorf("unmarshal cached message %q: %w", messageID, err)
		}
		return &e, nil
	}
	e, err := s.backing.Get(ctx, messageID)
	if err != nil {
		return nil, err
	}
	s.repopulate(ctx, e)
	return e, nil
}

func (s *Store) ListByRecipient(ctx context.Context, recipient string) ([]*store.Envelope, error) {
	// List always consults the durable store: the cache indexes by
	// message_id, not recipient, and rmap.Keys() gives no ordering
	// guarantee a priority/timestamp sort could rely on.
	return s.backing.ListByRecipient(ctx, recipient)
}

func (s *Store) UpdateStatus(ctx context.Context, messageID, status string) error {
	if err := s.backing.UpdateStatus(ctx, messageID, status); err != nil {
		return err
	}
	e, err := s.backing.Get(ctx, messageID)
	if err != nil {
		return err
	}
	s.repopulate(ctx, e)
	return nil
}

func (s *Store) repopulate(ctx context.Context, e *store.Envelope) {
	b, err := json.Marshal(e)
	if err != nil {
		return
	}
	_, _ = s.m.Set(ctx, messageKey(e.MessageID), string(b))
}

func messageKey(id string) string {
	return messageKeyPrefix + id
}
