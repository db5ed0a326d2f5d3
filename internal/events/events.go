// Package events publishes wizard domain events to subscribers outside the
// session: a message bus in production, a recorder in tests.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event types.
const (
	SessionOpened     = "session_opened"
	SessionClosed     = "session_closed"
	FieldSaved        = "field_saved"
	FieldSaveFailed   = "field_save_failed"
	NotesSaved        = "notes_saved"
	ValidationApplied = "validation_applied"
	ProcedureBound    = "procedure_bound"
	CaseSubmitted     = "case_submitted"
	StatusChanged     = "status_changed"
)

// Event is one domain event.
type Event struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	CaseID    string         `json:"case_id"`
	SessionID string         `json:"session_id,omitempty"`
	Owner     string         `json:"owner,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// New returns an event with a fresh ID and the current time.
func New(typ, caseID, sessionID string, data map[string]any) Event {
	return Event{
		ID:        uuid.New().String(),
		Type:      typ,
		CaseID:    caseID,
		SessionID: sessionID,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
}

// Publisher delivers events. Publish must not block on slow consumers for
// longer than the context allows.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Nop discards every event.
type Nop struct{}

// Publish does nothing.
func (Nop) Publish(context.Context, Event) error { return nil }

// Recorder keeps every published event in memory. For testing.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Publish appends e.
func (r *Recorder) Publish(_ context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Types returns the recorded event types in order.
func (r *Recorder) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}
