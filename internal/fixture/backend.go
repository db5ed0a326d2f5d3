package fixture

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/pitabwire/casewizard/internal/status"
	"github.com/pitabwire/casewizard/internal/values"
	"github.com/pitabwire/casewizard/model"
)

// Backend is an in-memory case service seeded from a fixture Set. It applies
// the same status guards and validation codes as the real service. Safe for
// concurrent use.
type Backend struct {
	mu         sync.RWMutex
	procedures map[string]model.ProcedureSchema
	cases      map[string]*model.Case
	loaded     atomic.Bool
}

var _ model.CaseAPI = (*Backend)(nil)

// NewBackend returns a Backend holding set.
func NewBackend(set Set) *Backend {
	b := &Backend{
		procedures: make(map[string]model.ProcedureSchema),
		cases:      make(map[string]*model.Case),
	}
	b.Replace(set)
	return b
}

// Replace swaps in the procedures of set. Cases are only added: a case that
// already exists keeps its runtime state.
func (b *Backend) Replace(set Set) {
	procs := make(map[string]model.ProcedureSchema, len(set.Procedures))
	for _, p := range set.Procedures {
		procs[p.Code] = p
	}

	b.mu.Lock()
	b.procedures = procs
	for _, c := range set.Cases {
		if _, ok := b.cases[c.ID]; !ok {
			cp := copyCase(c)
			b.cases[c.ID] = &cp
		}
	}
	b.mu.Unlock()

	b.loaded.Store(true)
}

// Loaded reports whether a fixture set has been installed.
func (b *Backend) Loaded() bool { return b.loaded.Load() }

// HealthCheck always succeeds once the fixtures are loaded.
func (b *Backend) HealthCheck(_ context.Context) error {
	if !b.Loaded() {
		return errors.New("fixtures not loaded")
	}
	return nil
}

// CreateCase adds an empty DRAFT case, optionally bound to procedure code.
func (b *Backend) CreateCase(_ context.Context, code string) (model.Case, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := &model.Case{ID: uuid.NewString(), Status: model.CaseDraft}
	if code != "" {
		if _, ok := b.procedures[code]; !ok {
			return model.Case{}, model.NewNotFoundError(fmt.Sprintf("procedure %q not found", code))
		}
		c.BoundProcedure = &model.ProcedureRef{Code: code}
	}
	b.cases[c.ID] = c
	return copyCase(*c), nil
}

// GetCase returns a copy of the case.
func (b *Backend) GetCase(_ context.Context, _ *model.RequestContext, caseID string) (model.Case, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	c, err := b.caseLocked(caseID)
	if err != nil {
		return model.Case{}, err
	}
	return copyCase(*c), nil
}

// GetProcedureSchema returns the schema of a procedure.
func (b *Backend) GetProcedureSchema(_ context.Context, _ *model.RequestContext, code string) (model.ProcedureSchema, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	p, ok := b.procedures[code]
	if !ok {
		return model.ProcedureSchema{}, model.NewNotFoundError(fmt.Sprintf("procedure %q not found", code))
	}
	return p, nil
}

// ListProcedures returns the catalogue sorted by code.
func (b *Backend) ListProcedures(_ context.Context, _ *model.RequestContext) ([]model.ProcedureSummary, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]model.ProcedureSummary, 0, len(b.procedures))
	for _, p := range b.procedures {
		out = append(out, model.ProcedureSummary{Code: p.Code, Name: p.Name, Version: p.Version})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

// BindProcedure binds a procedure to an editable case.
func (b *Backend) BindProcedure(_ context.Context, _ *model.RequestContext, caseID, code string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, err := b.caseLocked(caseID)
	if err != nil {
		return err
	}
	if err := status.CanBind(status.BindContext{
		Status:        c.Status,
		BoundCode:     boundCode(c),
		RequestedCode: code,
	}).Error(); err != nil {
		return err
	}
	if _, ok := b.procedures[code]; !ok {
		return model.NewNotFoundError(fmt.Sprintf("procedure %q not found", code))
	}
	c.BoundProcedure = &model.ProcedureRef{Code: code}
	touch(c)
	return nil
}

// PutField upserts one field of an editable, bound case.
func (b *Backend) PutField(_ context.Context, _ *model.RequestContext, caseID, key string, value any) (model.FieldEntry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, err := b.caseLocked(caseID)
	if err != nil {
		return model.FieldEntry{}, err
	}
	if err := status.CanEdit(c.Status).Error(); err != nil {
		return model.FieldEntry{}, err
	}
	p, ok := b.procedures[boundCode(c)]
	if !ok {
		return model.FieldEntry{}, model.NewNoProcedureBoundError(caseID)
	}
	if !hasField(p, key) {
		return model.FieldEntry{}, model.NewBadRequestError(fmt.Sprintf("unknown field %q", key))
	}

	entry := model.FieldEntry{Key: key, Value: value}
	i := slices.IndexFunc(c.Fields, func(f model.FieldEntry) bool { return f.Key == key })
	if i >= 0 {
		c.Fields[i] = entry
	} else {
		c.Fields = append(c.Fields, entry)
	}
	touch(c)
	return entry, nil
}

// PutNotes replaces the notes of an editable case.
func (b *Backend) PutNotes(_ context.Context, _ *model.RequestContext, caseID, notes string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, err := b.caseLocked(caseID)
	if err != nil {
		return err
	}
	if err := status.CanEdit(c.Status).Error(); err != nil {
		return err
	}
	c.Notes = notes
	touch(c)
	return nil
}

// Validate checks the case against its bound procedure.
func (b *Backend) Validate(_ context.Context, _ *model.RequestContext, caseID string) (model.ValidationResult, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	c, err := b.caseLocked(caseID)
	if err != nil {
		return model.ValidationResult{}, err
	}
	p, ok := b.procedures[boundCode(c)]
	if !ok {
		return model.ValidationResult{}, model.NewNoProcedureBoundError(caseID)
	}
	errs := check(p, c.Fields)
	return model.ValidationResult{Valid: len(errs) == 0, Errors: errs}, nil
}

// Submit moves a valid case to PREPARED.
func (b *Backend) Submit(_ context.Context, _ *model.RequestContext, caseID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, err := b.caseLocked(caseID)
	if err != nil {
		return err
	}
	if err := status.CanEdit(c.Status).Error(); err != nil {
		return err
	}
	p, ok := b.procedures[boundCode(c)]
	if !ok {
		return model.NewNoProcedureBoundError(caseID)
	}
	if errs := check(p, c.Fields); len(errs) > 0 {
		return model.NewCaseInvalidError(fmt.Sprintf("case has %d validation error(s)", len(errs)))
	}
	touch(c)
	return b.transitionLocked(c, model.CasePrepared)
}

// Reopen moves a PREPARED case back to IN_PROCESS.
func (b *Backend) Reopen(_ context.Context, caseID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, err := b.caseLocked(caseID)
	if err != nil {
		return err
	}
	if c.Status != model.CasePrepared {
		return model.NewInvalidTransitionError(c.Status, model.CaseInProcess)
	}
	return b.transitionLocked(c, model.CaseInProcess)
}

// SetStatus applies a lifecycle transition, refusing ones the lifecycle does
// not allow.
func (b *Backend) SetStatus(_ context.Context, caseID string, to model.CaseStatus) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, err := b.caseLocked(caseID)
	if err != nil {
		return err
	}
	return b.transitionLocked(c, to)
}

func (b *Backend) transitionLocked(c *model.Case, to model.CaseStatus) error {
	if err := status.CanTransition(c.Status, to).Error(); err != nil {
		return err
	}
	c.Status = to
	return nil
}

func (b *Backend) caseLocked(caseID string) (*model.Case, error) {
	c, ok := b.cases[caseID]
	if !ok {
		return nil, model.NewNotFoundError(fmt.Sprintf("case %q not found", caseID))
	}
	return c, nil
}

// touch records the first edit of a DRAFT case.
func touch(c *model.Case) {
	if c.Status == model.CaseDraft {
		c.Status = model.CaseInProcess
	}
}

func boundCode(c *model.Case) string {
	if c.BoundProcedure == nil {
		return ""
	}
	return c.BoundProcedure.Code
}

func hasField(p model.ProcedureSchema, key string) bool {
	for _, st := range p.Steps {
		for _, f := range st.Fields {
			if f.Key == key {
				return true
			}
		}
	}
	return false
}

// check reports required fields left empty, numbers out of range and
// selections outside the option set.
func check(p model.ProcedureSchema, fields []model.FieldEntry) []model.ValidationError {
	store := values.NewStore()
	store.Seed(fields)

	var errs []model.ValidationError
	for _, st := range p.Steps {
		for _, f := range st.Fields {
			if msg := checkField(f, store); msg != "" {
				errs = append(errs, model.ValidationError{StepKey: st.Key, FieldKey: f.Key, Message: msg})
			}
		}
	}
	return errs
}

func checkField(f model.Field, store *values.Store) string {
	if !store.Filled(f.Key) {
		if f.Required {
			return "This field is required"
		}
		return ""
	}
	v, _ := store.Get(f.Key)

	switch f.Type {
	case model.FieldNumber:
		n, ok := v.(float64)
		if !ok {
			return "Must be a number"
		}
		if f.Config.Min != nil && n < *f.Config.Min {
			return fmt.Sprintf("Must be at least %v", *f.Config.Min)
		}
		if f.Config.Max != nil && n > *f.Config.Max {
			return fmt.Sprintf("Must be at most %v", *f.Config.Max)
		}
	case model.FieldSelect:
		if len(f.Config.Options) > 0 && !slices.Contains(f.Config.Options, fmt.Sprint(v)) {
			return "Not a valid option"
		}
	}
	return ""
}

func copyCase(c model.Case) model.Case {
	c.Fields = slices.Clone(c.Fields)
	if c.BoundProcedure != nil {
		ref := *c.BoundProcedure
		c.BoundProcedure = &ref
	}
	return c
}
