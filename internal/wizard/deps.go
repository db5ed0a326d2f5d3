// Package wizard implements the wizard controller: one Session per opened
// case that wires the schema, value store, autosave, validation and status
// gate together and exposes the navigation, binding and submit operations.
package wizard

import (
	"time"

	"go.uber.org/zap"

	"github.com/pitabwire/casewizard/internal/autosave"
	"github.com/pitabwire/casewizard/internal/clock"
	"github.com/pitabwire/casewizard/internal/events"
	"github.com/pitabwire/casewizard/internal/progress"
	"github.com/pitabwire/casewizard/internal/schema"
	"github.com/pitabwire/casewizard/internal/validation"
	"github.com/pitabwire/casewizard/model"
)

// Observer receives controller metrics. Implemented by observability.Metrics.
type Observer interface {
	autosave.Observer
	validation.Observer
	RecordSubmit(outcome string)
	SetActiveSessions(n int)
}

// Timing holds the fixed debounce delays.
type Timing struct {
	FieldDebounce time.Duration
	NotesDebounce time.Duration
	SavedDisplay  time.Duration
}

// Deps are the collaborators shared by all sessions.
type Deps struct {
	API       model.CaseAPI
	Catalogue *schema.Cache
	Clock     clock.Clock
	Progress  progress.Store
	Events    events.Publisher
	Observer  Observer
	Logger    *zap.Logger
	Timing    Timing
}

func (d Deps) withDefaults() Deps {
	if d.Catalogue == nil {
		d.Catalogue = schema.NewCache(d.API, 0, 0)
	}
	if d.Clock == nil {
		d.Clock = clock.Real{}
	}
	if d.Progress == nil {
		d.Progress = progress.NewMemoryStore(0)
	}
	if d.Events == nil {
		d.Events = events.Nop{}
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Timing.FieldDebounce <= 0 {
		d.Timing.FieldDebounce = autosave.DefaultFieldDelay
	}
	if d.Timing.NotesDebounce <= 0 {
		d.Timing.NotesDebounce = autosave.DefaultNotesDelay
	}
	if d.Timing.SavedDisplay <= 0 {
		d.Timing.SavedDisplay = autosave.DefaultSavedDisplay
	}
	return d
}
