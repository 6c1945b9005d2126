// Package memory provides an in-memory implementation of the bus store.
//
// Suitable for development, testing, and single-node deployments where
// persistence across restarts is not required.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/lesleslie/mahavishnu/kernel/bus/store"
)

// Store is an in-memory implementation of store.Store. Safe for
// concurrent use.
type Store struct {
	mu       sync.RWMutex
	messages map[string]*store.Envelope
}

var _ store.Store = (*Store)(nil)

// New creates a new in-memory store.
func New() *Store {
	return &Store{messages: make(map[string]*store.Envelope)}
}

func (s *Store) Save(ctx context.Context, e *store.Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *e
	s.messages[e.MessageID] = &cp
	return nil
}

func (s *Store) Get(ctx context.Context, messageID string) (*store.Envelope, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.messages[messageID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (s *Store) ListByRecipient(ctx context.Context, recipient string) ([]*store.Envelope, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*store.Envelope, 0)
	for _, e := range s.messages {
		if e.To == recipient {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		if out[i].Timestamp != out[j].Timestamp {
			return out[i].Timestamp > out[j].Timestamp
		}
		return out[i].MessageID > out[j].MessageID
	})
	return out, nil
}

func (s *Store) UpdateStatus(ctx context.Context, messageID, status string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.messages[messageID]
	if !ok {
		return store.ErrNotFound
	}
	e.Status = status
	return nil
}
