package repository

import (
	"context"
	"sync"
)

// MemoryRepository is an in-memory Repository. Values do not survive the process;
// used with CREDENTIAL_STORE=memory and in tests.
type MemoryRepository struct {
	mu sync.RWMutex
	m  map[string]string
}

// NewMemoryRepository returns an empty in-memory slot repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{m: make(map[string]string)}
}

// Get returns the value for slot if present.
func (r *MemoryRepository) Get(ctx context.Context, slot string) (string, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.m[slot]
	return v, ok, nil
}

// Put stores value under slot.
func (r *MemoryRepository) Put(ctx context.Context, slot, value string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.m[slot] = value
	return nil
}

// Delete removes slot.
func (r *MemoryRepository) Delete(ctx context.Context, slot string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.m, slot)
	return nil
}
