// Package values holds the in-memory field values of one wizard session.
package values

import (
	"sync"

	"github.com/pitabwire/casewizard/model"
)

// Store maps field keys to their current values. It performs no validation
// and never triggers persistence; the autosave coordinator is the only writer
// after seeding.
type Store struct {
	mu     sync.RWMutex
	values map[string]any
	seeded bool
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{values: make(map[string]any)}
}

// Seed populates the store from persisted case fields. It may be called once;
// later calls are ignored and return false.
func (s *Store) Seed(entries []model.FieldEntry) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seeded {
		return false
	}
	for _, e := range entries {
		s.values[e.Key] = e.Value
	}
	s.seeded = true
	return true
}

// Get returns the current value and whether the key has ever been set.
func (s *Store) Get(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}

// Set overwrites the value for key.
func (s *Store) Set(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
}

// Filled reports whether key holds a value that counts as filled: absent,
// nil and "" are unfilled for every field type.
func (s *Store) Filled(key string) bool {
	v, ok := s.Get(key)
	if !ok || v == nil {
		return false
	}
	if str, isStr := v.(string); isStr && str == "" {
		return false
	}
	return true
}
