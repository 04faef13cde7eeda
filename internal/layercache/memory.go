// SPDX-License-Identifier: MPL-2.0

package layercache

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/runner-service/envprov/pkg/recipe"
)

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[recipe.StepKey]Entry
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[recipe.StepKey]Entry)}
}

// Get returns the entry for key, or ErrNotFound.
func (s *MemoryStore) Get(ctx context.Context, key recipe.StepKey) (Entry, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return Entry{}, ErrNotFound
	}
	return e, nil
}

// PutIfAbsent stores e unless an entry for e.Key exists.
func (s *MemoryStore) PutIfAbsent(ctx context.Context, e Entry) (Entry, bool, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, false, err
	}
	if err := e.Validate(); err != nil {
		return Entry{}, false, fmt.Errorf("invalid cache entry: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.entries[e.Key]; ok {
		return existing, false, nil
	}
	s.entries[e.Key] = e
	return e, true, nil
}

// Delete removes the entry for key.
func (s *MemoryStore) Delete(ctx context.Context, key recipe.StepKey) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

// List returns every entry, oldest first.
func (s *MemoryStore) List(ctx context.Context) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	out := slices.Collect(maps.Values(s.entries))
	s.mu.Unlock()
	slices.SortStableFunc(out, func(a, b Entry) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return out, nil
}

// NopStore never stores anything. Every lookup misses and every put reports
// the entry as newly created.
type NopStore struct{}

// Get always returns ErrNotFound.
func (NopStore) Get(context.Context, recipe.StepKey) (Entry, error) { return Entry{}, ErrNotFound }

// PutIfAbsent returns e without storing it.
func (NopStore) PutIfAbsent(_ context.Context, e Entry) (Entry, bool, error) { return e, true, nil }

// Delete does nothing.
func (NopStore) Delete(context.Context, recipe.StepKey) error { return nil }

// List returns nothing.
func (NopStore) List(context.Context) ([]Entry, error) { return nil, nil }
