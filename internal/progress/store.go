// Package progress stores the last visited wizard step per subject and case
// so a reopened session resumes where the user left off.
package progress

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Position is the resume point of one subject on one case.
type Position struct {
	ProcedureCode string    `json:"procedure_code"`
	StepKey       string    `json:"step_key"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Store persists resume positions. The owner is the subject (or tenant)
// the session belongs to.
type Store interface {
	// Load returns the stored position. found is false when nothing is stored.
	Load(ctx context.Context, owner, caseID string) (pos Position, found bool, err error)

	// Save overwrites the position.
	Save(ctx context.Context, owner, caseID string, pos Position) error

	// Delete removes the position. Deleting a missing key is not an error.
	Delete(ctx context.Context, owner, caseID string) error
}

// Key builds the storage key for a position.
func Key(owner, caseID string) string {
	return fmt.Sprintf("progress:%s:%s", owner, caseID)
}

// --- MemoryStore ---

// MemoryStore is an in-memory Store with TTL support. Suitable for testing
// and single-instance deployments.
type MemoryStore struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.RWMutex
	entries map[string]memEntry
}

type memEntry struct {
	pos       Position
	expiresAt time.Time
}

// NewMemoryStore creates a MemoryStore. A zero ttl keeps entries forever.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]memEntry),
	}
}

// Load returns the stored position unless it has expired.
func (s *MemoryStore) Load(_ context.Context, owner, caseID string) (Position, bool, error) {
	key := Key(owner, caseID)
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok {
		return Position{}, false, nil
	}
	if !e.expiresAt.IsZero() && s.now().After(e.expiresAt) {
		s.mu.Lock()
		delete(s.entries, key)
		s.mu.Unlock()
		return Position{}, false, nil
	}
	return e.pos, true, nil
}

// Save stores pos.
func (s *MemoryStore) Save(_ context.Context, owner, caseID string, pos Position) error {
	e := memEntry{pos: pos}
	if s.ttl > 0 {
		e.expiresAt = s.now().Add(s.ttl)
	}
	s.mu.Lock()
	s.entries[Key(owner, caseID)] = e
	s.mu.Unlock()
	return nil
}

// Delete removes the position.
func (s *MemoryStore) Delete(_ context.Context, owner, caseID string) error {
	s.mu.Lock()
	delete(s.entries, Key(owner, caseID))
	s.mu.Unlock()
	return nil
}

// Len returns the number of entries (including expired ones). For testing.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
