// Package validation runs server-side case validation and indexes the
// returned errors by field and by step.
package validation

import (
	"context"
	"sync"
	"time"

	"github.com/pitabwire/casewizard/model"
)

// Trigger names why a validation run was started.
type Trigger string

const (
	TriggerNavigate  Trigger = "navigate"
	TriggerExplicit  Trigger = "explicit"
	TriggerPreSubmit Trigger = "pre_submit"
	TriggerRecovery  Trigger = "case_invalid"
)

// ValidateFunc calls the remote validate operation.
type ValidateFunc func(ctx context.Context) (model.ValidationResult, error)

// Observer records validation outcomes. Implemented by observability.Metrics.
type Observer interface {
	RecordValidation(trigger, outcome string, duration time.Duration)
}

// Outcome is the result of one Run.
type Outcome struct {
	// Applied is false when a newer run had already been applied.
	Applied bool
	Result  model.ValidationResult
	// NoProcedure is set when the server reported NO_PROCEDURE_BOUND.
	NoProcedure bool
	Err         error
}

// Orchestrator serialises validation results. Runs may overlap; a result is
// applied only if no later-issued run has been applied before it.
type Orchestrator struct {
	validate ValidateFunc
	stepOf   StepResolver
	observer Observer
	now      func() time.Time

	mu          sync.Mutex
	issued      uint64
	lastApplied uint64
	index       *Index
	validated   bool
}

// New returns an Orchestrator with an empty index. stepOf fills in the step
// of errors the server reports against a field only; it may be nil.
func New(validate ValidateFunc, stepOf StepResolver, observer Observer) *Orchestrator {
	return &Orchestrator{
		validate: validate,
		stepOf:   stepOf,
		observer: observer,
		now:      time.Now,
		index:    NewIndex(nil, nil),
	}
}

// Run issues a validation call and applies its result unless superseded.
// NO_PROCEDURE_BOUND is reported through Outcome.NoProcedure and leaves the
// index untouched. Other call errors are returned in Outcome.Err. A failed
// run is dropped as stale once a later run has been issued, and a
// successful one once a later run has been applied; stale runs return the
// zero Outcome.
func (o *Orchestrator) Run(ctx context.Context, trigger Trigger) Outcome {
	o.mu.Lock()
	o.issued++
	token := o.issued
	o.mu.Unlock()

	start := o.now()
	result, err := o.validate(ctx)
	elapsed := o.now().Sub(start)

	if err != nil {
		o.mu.Lock()
		stale := token < o.issued || token <= o.lastApplied
		o.mu.Unlock()
		switch {
		case stale:
			o.record(trigger, "stale", elapsed)
			return Outcome{}
		case model.CodeOf(err) == model.ErrNoProcedureBound:
			o.record(trigger, "no_procedure", elapsed)
			return Outcome{NoProcedure: true, Err: err}
		}
		o.record(trigger, "error", elapsed)
		return Outcome{Err: err}
	}

	// Built outside mu: stepOf may take the caller's locks.
	idx := NewIndex(result.Errors, o.stepOf)

	o.mu.Lock()
	if token <= o.lastApplied {
		o.mu.Unlock()
		o.record(trigger, "stale", elapsed)
		return Outcome{}
	}
	o.lastApplied = token
	o.index = idx
	o.validated = true
	o.mu.Unlock()

	if result.Valid && len(result.Errors) == 0 {
		o.record(trigger, "valid", elapsed)
	} else {
		o.record(trigger, "invalid", elapsed)
	}
	return Outcome{Applied: true, Result: result}
}

// Index returns the currently applied error index. The returned index is
// immutable.
func (o *Orchestrator) Index() *Index {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.index
}

// Validated reports whether any result has been applied yet.
func (o *Orchestrator) Validated() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.validated
}

// Reset clears the applied errors and invalidates runs still in flight.
func (o *Orchestrator) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.lastApplied = o.issued
	o.index = NewIndex(nil, nil)
	o.validated = false
}

func (o *Orchestrator) record(trigger Trigger, outcome string, d time.Duration) {
	if o.observer != nil {
		o.observer.RecordValidation(string(trigger), outcome, d)
	}
}
