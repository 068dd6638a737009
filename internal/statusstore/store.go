// Package statusstore keeps the last heartbeat seen from each store's player.
// It holds one row per store; status itself is derived by callers on read.
package statusstore

import (
	"context"
	"sync"
	"time"
)

// Heartbeat is the single row kept per store.
type Heartbeat struct {
	StoreID  string
	DeviceID string
	LastSeen time.Time
}

// Store is the persistence abstraction for heartbeats.
type Store interface {
	// Upsert records hb as the latest heartbeat for hb.StoreID. The most
	// recent write wins; no ordering beyond that is guaranteed.
	Upsert(ctx context.Context, hb Heartbeat) error

	// Get returns the latest heartbeat for storeID. ok is false if none has
	// ever been recorded.
	Get(ctx context.Context, storeID string) (hb Heartbeat, ok bool, err error)

	Close() error
}

// MemoryStore is a concurrency-safe in-memory implementation of Store.
type MemoryStore struct {
	mu   sync.RWMutex
	rows map[string]Heartbeat
}

// NewMemoryStore returns a new empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: make(map[string]Heartbeat)}
}

// Upsert implements Store.Upsert.
func (s *MemoryStore) Upsert(ctx context.Context, hb Heartbeat) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[hb.StoreID] = hb
	return nil
}

// Get implements Store.Get.
func (s *MemoryStore) Get(ctx context.Context, storeID string) (Heartbeat, bool, error) {
	if err := ctx.Err(); err != nil {
		return Heartbeat{}, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	hb, ok := s.rows[storeID]
	return hb, ok, nil
}

// Close implements Store.Close. It is a no-op.
func (s *MemoryStore) Close() error { return nil }
