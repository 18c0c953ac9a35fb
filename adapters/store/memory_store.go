package store

import (
	"context"
	"sync"

	"github.com/layer-3/guardian/core"
	"github.com/layer-3/guardian/ports"
)

// MemoryStore is an in-memory implementation of the Store interface.
// Updates run under a single lock, so they never conflict.
type MemoryStore struct {
	state    *core.State
	settings map[string]string
	mu       sync.RWMutex
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() ports.Store {
	return &MemoryStore{
		state:    core.NewState(),
		settings: make(map[string]string),
	}
}

// Load returns a copy of the current state
func (s *MemoryStore) Load(ctx context.Context) (*core.State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.state.Clone(), nil
}

// Update applies fn to a copy of the state and swaps it in on success
func (s *MemoryStore) Update(ctx context.Context, fn func(*core.State) error) (*core.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.state.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	next.Dedupe()
	next.Version = s.state.Version + 1
	s.state = next

	return next.Clone(), nil
}

// Get retrieves a setting by key
func (s *MemoryStore) Get(ctx context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	value, ok := s.settings[key]
	if !ok {
		return "", core.ErrNotFound
	}
	return value, nil
}

// Set stores a setting
func (s *MemoryStore) Set(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.settings[key] = value
	return nil
}
