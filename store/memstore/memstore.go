// Package memstore provides a goroutine-safe in-memory implementation of the
// durable store interface, for tests and ephemeral use.
package memstore

import (
	"context"
	"sync"

	"github.com/gigview/offline-cache/store"
)

// MemStore is an in-memory store.Store. The zero value is not usable; use New.
type MemStore struct {
	mu      sync.RWMutex
	records map[string][]byte

	// failWrites, when set, causes Write to return the given error. Used to
	// exercise the cache's error-swallowing path in tests.
	failWrites error
	failReads  error
}

// New creates an empty MemStore.
func New() *MemStore {
	return &MemStore{
		records: make(map[string][]byte),
	}
}

// FailWrites makes subsequent Write calls return err. Pass nil to restore
// normal behavior.
func (m *MemStore) FailWrites(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failWrites = err
}

// FailReads makes subsequent Read calls return err. Pass nil to restore
// normal behavior.
func (m *MemStore) FailReads(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failReads = err
}

// Read returns the blob stored under key, or store.ErrNotFound.
func (m *MemStore) Read(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.failReads != nil {
		return nil, m.failReads
	}

	val, ok := m.records[key]
	if !ok {
		return nil, store.ErrNotFound
	}

	data := make([]byte, len(val))
	copy(data, val)
	return data, nil
}

// Write stores the blob under key, replacing any prior value.
func (m *MemStore) Write(_ context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failWrites != nil {
		return m.failWrites
	}

	cloned := make([]byte, len(data))
	copy(cloned, data)
	m.records[key] = cloned
	return nil
}

// Delete removes the blob under key.
func (m *MemStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, key)
	return nil
}

// DeleteMany removes a batch of keys.
func (m *MemStore) DeleteMany(_ context.Context, keys []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range keys {
		delete(m.records, key)
	}
	return nil
}

// ListKeys returns all stored keys.
func (m *MemStore) ListKeys(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]string, 0, len(m.records))
	for k := range m.records {
		keys = append(keys, k)
	}
	return keys, nil
}

// Len returns the number of stored records.
func (m *MemStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

// Compile-time interface check
var _ store.Store = (*MemStore)(nil)
