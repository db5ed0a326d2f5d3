package wizard

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pitabwire/casewizard/internal/clock"
	"github.com/pitabwire/casewizard/internal/events"
	"github.com/pitabwire/casewizard/internal/progress"
	"github.com/pitabwire/casewizard/internal/schema"
	"github.com/pitabwire/casewizard/model"
)

type putCall struct {
	key   string
	value any
}

// fakeAPI is an in-memory case service. validations are consumed in order;
// once exhausted, validation reports the case as valid.
type fakeAPI struct {
	mu          sync.Mutex
	c           model.Case
	schemas     map[string]model.ProcedureSchema
	validations []validationReply
	putErr      error
	submitErr   error
	submitTo    model.CaseStatus

	puts          []putCall
	notes         []string
	binds         []string
	validateCalls int
	submitCalls   int

	// onValidate and onGetCase run before each reply, outside mu.
	onValidate func()
	onGetCase  func()
}

type validationReply struct {
	result model.ValidationResult
	err    error
}

func newFakeAPI(c model.Case) *fakeAPI {
	return &fakeAPI{
		c:        c,
		schemas:  map[string]model.ProcedureSchema{"IMPORT": importSchema()},
		submitTo: model.CasePrepared,
	}
}

func (f *fakeAPI) GetCase(_ context.Context, _ *model.RequestContext, caseID string) (model.Case, error) {
	f.mu.Lock()
	hook := f.onGetCase
	f.mu.Unlock()
	if hook != nil {
		hook()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if caseID != f.c.ID {
		return model.Case{}, model.NewNotFoundError("case not found")
	}
	out := f.c
	out.Fields = append([]model.FieldEntry(nil), f.c.Fields...)
	return out, nil
}

func (f *fakeAPI) GetProcedureSchema(_ context.Context, _ *model.RequestContext, code string) (model.ProcedureSchema, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.schemas[code]
	if !ok {
		return model.ProcedureSchema{}, model.NewNotFoundError("procedure not found")
	}
	return s, nil
}

func (f *fakeAPI) ListProcedures(context.Context, *model.RequestContext) ([]model.ProcedureSummary, error) {
	return []model.ProcedureSummary{{Code: "IMPORT", Name: "Import declaration", Version: "1"}}, nil
}

func (f *fakeAPI) BindProcedure(_ context.Context, _ *model.RequestContext, _, code string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.binds = append(f.binds, code)
	f.c.BoundProcedure = &model.ProcedureRef{Code: code}
	return nil
}

func (f *fakeAPI) PutField(_ context.Context, _ *model.RequestContext, _, key string, value any) (model.FieldEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.puts = append(f.puts, putCall{key: key, value: value})
	if f.putErr != nil {
		return model.FieldEntry{}, f.putErr
	}
	return model.FieldEntry{Key: key, Value: value}, nil
}

func (f *fakeAPI) PutNotes(_ context.Context, _ *model.RequestContext, _, notes string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notes = append(f.notes, notes)
	return nil
}

func (f *fakeAPI) Validate(context.Context, *model.RequestContext, string) (model.ValidationResult, error) {
	f.mu.Lock()
	hook := f.onValidate
	f.mu.Unlock()
	if hook != nil {
		hook()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.validateCalls++
	if len(f.validations) == 0 {
		return model.ValidationResult{Valid: true}, nil
	}
	r := f.validations[0]
	f.validations = f.validations[1:]
	return r.result, r.err
}

func (f *fakeAPI) Submit(context.Context, *model.RequestContext, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitCalls++
	if f.submitErr != nil {
		return f.submitErr
	}
	f.c.Status = f.submitTo
	return nil
}

func (f *fakeAPI) setStatus(st model.CaseStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.c.Status = st
}

func (f *fakeAPI) putCalls() []putCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]putCall(nil), f.puts...)
}

func (f *fakeAPI) counts() (validate, submit int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.validateCalls, f.submitCalls
}

type fakeObserver struct {
	mu      sync.Mutex
	submits []string
	active  int
}

func (o *fakeObserver) RecordAutosave(string, string, time.Duration)   {}
func (o *fakeObserver) RecordAutosaveCoalesced(string)                 {}
func (o *fakeObserver) RecordValidation(string, string, time.Duration) {}

func (o *fakeObserver) RecordSubmit(outcome string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.submits = append(o.submits, outcome)
}

func (o *fakeObserver) SetActiveSessions(n int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.active = n
}

func (o *fakeObserver) lastSubmit() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.submits) == 0 {
		return ""
	}
	return o.submits[len(o.submits)-1]
}

var weightLabel = "Weight (kg)"

func importSchema() model.ProcedureSchema {
	return model.ProcedureSchema{
		Code:    "IMPORT",
		Name:    "Import declaration",
		Version: "1",
		Steps: []model.Step{
			{Key: "goods", Title: "Goods", Order: 2, Fields: []model.Field{
				{Key: "weight_kg", Type: model.FieldNumber, Required: true, Order: 1, Config: model.FieldConfig{Label: &weightLabel}},
				{Key: "hazardous", Type: model.FieldBoolean, Order: 2},
			}},
			{Key: "parties", Title: "Parties", Order: 1, Fields: []model.Field{
				{Key: "consignee_name", Type: model.FieldText, Required: true, Order: 1},
				{Key: "origin", Type: model.FieldCountry, Order: 2},
			}},
			{Key: "review", Title: "Review", Order: 3},
		},
	}
}

func boundCase(st model.CaseStatus) model.Case {
	return model.Case{
		ID:             "case-1",
		Status:         st,
		BoundProcedure: &model.ProcedureRef{Code: "IMPORT"},
		Fields:         []model.FieldEntry{{Key: "consignee_name", Value: "ACME GmbH"}},
	}
}

type harness struct {
	api      *fakeAPI
	clock    *clock.Manual
	events   *events.Recorder
	progress *progress.MemoryStore
	observer *fakeObserver
	deps     Deps
	rctx     *model.RequestContext
}

func newHarness(c model.Case) *harness {
	h := &harness{
		api:      newFakeAPI(c),
		clock:    clock.NewManual(time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)),
		events:   &events.Recorder{},
		progress: progress.NewMemoryStore(0),
		observer: &fakeObserver{},
		rctx:     &model.RequestContext{SubjectID: "user-1", Token: "t"},
	}
	h.deps = Deps{
		API:       h.api,
		Catalogue: schema.NewCache(h.api, 0, 0),
		Clock:     h.clock,
		Progress:  h.progress,
		Events:    h.events,
		Observer:  h.observer,
	}
	return h
}

func (h *harness) open(t *testing.T) *Session {
	t.Helper()
	s, err := Open(context.Background(), h.deps, h.rctx, h.api.c.ID)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func hasBanner(v model.WizardView, kind string) bool {
	for _, b := range v.Banners {
		if b.Kind == kind {
			return true
		}
	}
	return false
}

func fieldOf(v model.WizardView, key string) (model.FieldDescriptor, bool) {
	for _, f := range v.Fields {
		if f.Key == key {
			return f, true
		}
	}
	return model.FieldDescriptor{}, false
}

func containsType(types []string, want string) bool {
	for _, typ := range types {
		if typ == want {
			return true
		}
	}
	return false
}

func TestOpen_BoundCase(t *testing.T) {
	h := newHarness(boundCase(model.CaseInProcess))
	s := h.open(t)

	v := s.View()
	if v.Mode != model.ModeWizard {
		t.Fatalf("Mode = %q, want %q", v.Mode, model.ModeWizard)
	}
	if v.CurrentStep != "parties" {
		t.Errorf("CurrentStep = %q, want parties", v.CurrentStep)
	}
	if len(v.Steps) != 3 {
		t.Fatalf("len(Steps) = %d, want 3", len(v.Steps))
	}
	if v.Steps[0].State != model.StepActive || v.Steps[1].State != model.StepUpcoming {
		t.Errorf("step states = %q,%q, want active,upcoming", v.Steps[0].State, v.Steps[1].State)
	}
	f, ok := fieldOf(v, "consignee_name")
	if !ok || f.Value != "ACME GmbH" {
		t.Errorf("consignee_name = %+v, want seeded value", f)
	}
	if v.Readonly || hasBanner(v, model.BannerReadonly) {
		t.Error("IN_PROCESS case should be editable")
	}
	if !containsType(h.events.Types(), events.SessionOpened) {
		t.Errorf("events = %v, want session_opened", h.events.Types())
	}
}

func TestOpen_UnknownCase(t *testing.T) {
	h := newHarness(boundCase(model.CaseInProcess))
	_, err := Open(context.Background(), h.deps, h.rctx, "missing")
	if model.CodeOf(err) != model.ErrNotFound {
		t.Errorf("Open() code = %q, want %q", model.CodeOf(err), model.ErrNotFound)
	}
}

func TestSession_EditDebouncesToSinglePut(t *testing.T) {
	h := newHarness(boundCase(model.CaseInProcess))
	s := h.open(t)
	ctx := context.Background()

	if _, err := s.GoToStep(ctx, "goods"); err != nil {
		t.Fatalf("GoToStep() error = %v", err)
	}
	for _, raw := range []string{"1", "12", "12.", "12.5"} {
		if _, err := s.Edit(ctx, "weight_kg", raw); err != nil {
			t.Fatalf("Edit(%q) error = %v", raw, err)
		}
		h.clock.Advance(100 * time.Millisecond)
	}
	if got := len(h.api.putCalls()); got != 0 {
		t.Fatalf("PutField calls before debounce = %d, want 0", got)
	}

	v := s.View()
	f, _ := fieldOf(v, "weight_kg")
	if !f.Pending || f.SaveState != model.SaveIdle {
		t.Errorf("before fire: pending=%v state=%q, want pending idle", f.Pending, f.SaveState)
	}

	h.clock.Advance(600 * time.Millisecond)
	puts := h.api.putCalls()
	if len(puts) != 1 {
		t.Fatalf("PutField calls = %d, want 1", len(puts))
	}
	if puts[0].key != "weight_kg" || puts[0].value != 12.5 {
		t.Errorf("PutField = %+v, want weight_kg 12.5", puts[0])
	}

	f, _ = fieldOf(s.View(), "weight_kg")
	if f.SaveState != model.SaveSaved {
		t.Errorf("after save state = %q, want saved", f.SaveState)
	}
	h.clock.Advance(2 * time.Second)
	f, _ = fieldOf(s.View(), "weight_kg")
	if f.SaveState != model.SaveIdle {
		t.Errorf("after display state = %q, want idle", f.SaveState)
	}
	if !containsType(h.events.Types(), events.FieldSaved) {
		t.Errorf("events = %v, want field_saved", h.events.Types())
	}
}

func TestSession_EditRejectsUnknownField(t *testing.T) {
	h := newHarness(boundCase(model.CaseInProcess))
	s := h.open(t)

	_, err := s.Edit(context.Background(), "nope", "x")
	if model.CodeOf(err) != model.ErrNotFound {
		t.Errorf("Edit() code = %q, want %q", model.CodeOf(err), model.ErrNotFound)
	}
}

func TestSession_SaveErrorShownOnField(t *testing.T) {
	h := newHarness(boundCase(model.CaseInProcess))
	h.api.putErr = model.NewBackendUnavailableError()
	s := h.open(t)

	if _, err := s.Edit(context.Background(), "consignee_name", "Globex"); err != nil {
		t.Fatalf("Edit() error = %v", err)
	}
	h.clock.Advance(time.Second)

	f, _ := fieldOf(s.View(), "consignee_name")
	if f.SaveState != model.SaveError {
		t.Errorf("SaveState = %q, want error", f.SaveState)
	}
	if f.Value != "Globex" {
		t.Errorf("Value = %v, want optimistic Globex", f.Value)
	}
	if !containsType(h.events.Types(), events.FieldSaveFailed) {
		t.Errorf("events = %v, want field_save_failed", h.events.Types())
	}
}

func TestSession_FieldOnlyErrorsCountOnOwningStep(t *testing.T) {
	h := newHarness(boundCase(model.CaseInProcess))
	h.api.validations = []validationReply{{result: model.ValidationResult{Errors: []model.ValidationError{
		{FieldKey: "weight_kg", Message: "weight must be positive"},
	}}}}
	s := h.open(t)

	v, err := s.Validate(context.Background())
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if v.Steps[1].Key != "goods" || v.Steps[1].ErrorCount != 1 || v.Steps[1].State != model.StepUpcoming {
		t.Errorf("goods = %+v, want upcoming with 1 error", v.Steps[1])
	}
	if v.Steps[0].ErrorCount != 0 {
		t.Errorf("parties = %+v, want no errors", v.Steps[0])
	}
}

func TestSession_NavigationValidatesAndCountsErrors(t *testing.T) {
	h := newHarness(boundCase(model.CaseInProcess))
	h.api.validations = []validationReply{{result: model.ValidationResult{Errors: []model.ValidationError{
		{StepKey: "parties", FieldKey: "consignee_name", Message: "consignee is required"},
		{StepKey: "goods", FieldKey: "weight_kg", Message: "weight must be positive"},
		{StepKey: "goods", FieldKey: "weight_kg", Message: "second message ignored"},
	}}}}
	s := h.open(t)

	v, err := s.Next(context.Background())
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if v.CurrentStep != "goods" {
		t.Fatalf("CurrentStep = %q, want goods", v.CurrentStep)
	}
	if v.ErrorCount != 3 || !v.Validated {
		t.Errorf("ErrorCount = %d validated = %v, want 3 true", v.ErrorCount, v.Validated)
	}
	if v.Steps[0].State != model.StepError || v.Steps[0].ErrorCount != 1 {
		t.Errorf("parties = %+v, want error with 1", v.Steps[0])
	}
	if v.Steps[1].State != model.StepActiveError || v.Steps[1].ErrorCount != 2 {
		t.Errorf("goods = %+v, want active_error with 2", v.Steps[1])
	}
	f, _ := fieldOf(v, "weight_kg")
	if !f.Invalid || f.Error != "weight must be positive" {
		t.Errorf("weight_kg error = %q invalid = %v, want first message", f.Error, f.Invalid)
	}

	pos, found, _ := h.progress.Load(context.Background(), "user-1", "case-1")
	if !found || pos.StepKey != "goods" {
		t.Errorf("saved position = %+v found = %v, want goods", pos, found)
	}
}

func TestSession_NavigationBounds(t *testing.T) {
	h := newHarness(boundCase(model.CaseInProcess))
	s := h.open(t)
	ctx := context.Background()

	v, err := s.Prev(ctx)
	if err != nil {
		t.Fatalf("Prev() error = %v", err)
	}
	if v.CurrentIndex != 0 {
		t.Errorf("CurrentIndex = %d, want 0", v.CurrentIndex)
	}
	if calls, _ := h.api.counts(); calls != 0 {
		t.Errorf("validate calls on no-op = %d, want 0", calls)
	}

	if _, err := s.GoToStep(ctx, "review"); err != nil {
		t.Fatalf("GoToStep() error = %v", err)
	}
	v, _ = s.Next(ctx)
	if v.CurrentStep != "review" {
		t.Errorf("CurrentStep = %q, want review", v.CurrentStep)
	}
	if calls, _ := h.api.counts(); calls != 1 {
		t.Errorf("validate calls = %d, want 1", calls)
	}

	_, err = s.GoToStep(ctx, "customs")
	if model.CodeOf(err) != model.ErrNotFound {
		t.Errorf("GoToStep(unknown) code = %q, want %q", model.CodeOf(err), model.ErrNotFound)
	}
}

func TestSession_ValidationFailureDoesNotBlockNavigation(t *testing.T) {
	h := newHarness(boundCase(model.CaseInProcess))
	h.api.validations = []validationReply{{err: model.NewBackendUnavailableError()}}
	s := h.open(t)

	v, err := s.Next(context.Background())
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if v.CurrentStep != "goods" {
		t.Errorf("CurrentStep = %q, want goods", v.CurrentStep)
	}
	if !hasBanner(v, model.BannerError) {
		t.Errorf("banners = %+v, want error banner", v.Banners)
	}
}

func TestSession_SubmitRejectedLocally(t *testing.T) {
	h := newHarness(boundCase(model.CaseInProcess))
	h.api.validations = []validationReply{{result: model.ValidationResult{Errors: []model.ValidationError{
		{StepKey: "goods", FieldKey: "weight_kg", Message: "weight is required"},
	}}}}
	s := h.open(t)

	v, err := s.Submit(context.Background())
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if !hasBanner(v, model.BannerSubmitBlocked) {
		t.Errorf("banners = %+v, want submit_blocked", v.Banners)
	}
	if _, submits := h.api.counts(); submits != 0 {
		t.Errorf("Submit calls = %d, want 0", submits)
	}
	if got := h.observer.lastSubmit(); got != "blocked_local" {
		t.Errorf("submit outcome = %q, want blocked_local", got)
	}
}

func TestSession_SubmitFlushesPendingSaves(t *testing.T) {
	h := newHarness(boundCase(model.CaseInProcess))
	s := h.open(t)
	ctx := context.Background()

	if _, err := s.Edit(ctx, "consignee_name", "Initech"); err != nil {
		t.Fatalf("Edit() error = %v", err)
	}
	v, err := s.Submit(ctx)
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	puts := h.api.putCalls()
	if len(puts) != 1 || puts[0].value != "Initech" {
		t.Errorf("PutField = %+v, want flushed Initech", puts)
	}
	if v.Mode != model.ModeExited || v.Status != model.CasePrepared || !v.Readonly {
		t.Errorf("view = mode %q status %q readonly %v, want exited PREPARED true", v.Mode, v.Status, v.Readonly)
	}
	if !hasBanner(v, model.BannerReadonly) {
		t.Errorf("banners = %+v, want readonly", v.Banners)
	}
	if _, found, _ := h.progress.Load(ctx, "user-1", "case-1"); found {
		t.Error("progress should be cleared after submit")
	}
	types := h.events.Types()
	if !containsType(types, events.CaseSubmitted) || !containsType(types, events.StatusChanged) {
		t.Errorf("events = %v, want case_submitted and status_changed", types)
	}
	if got := h.observer.lastSubmit(); got != "submitted" {
		t.Errorf("submit outcome = %q, want submitted", got)
	}

	// Pending timers were consumed by the flush.
	h.clock.Advance(time.Second)
	if got := len(h.api.putCalls()); got != 1 {
		t.Errorf("PutField calls after advance = %d, want 1", got)
	}
}

func TestSession_SubmitBlockedByEditDuringValidation(t *testing.T) {
	h := newHarness(boundCase(model.CaseInProcess))
	s := h.open(t)
	ctx := context.Background()

	h.api.mu.Lock()
	h.api.onValidate = func() {
		if _, err := s.Edit(ctx, "consignee_name", "Late Edit Ltd"); err != nil {
			t.Errorf("Edit() during validation error = %v", err)
		}
	}
	h.api.mu.Unlock()

	v, err := s.Submit(ctx)
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if _, submits := h.api.counts(); submits != 0 {
		t.Errorf("Submit calls = %d, want 0 while a save is pending", submits)
	}
	var blocked *model.Banner
	for i := range v.Banners {
		if v.Banners[i].Kind == model.BannerSubmitBlocked {
			blocked = &v.Banners[i]
		}
	}
	if blocked == nil || blocked.Code != model.ErrConflict {
		t.Fatalf("banners = %+v, want submit_blocked CONFLICT", v.Banners)
	}
	if got := h.observer.lastSubmit(); got != "blocked_local" {
		t.Errorf("submit outcome = %q, want blocked_local", got)
	}

	h.clock.Advance(time.Second)
	puts := h.api.putCalls()
	if len(puts) != 1 || puts[0].value != "Late Edit Ltd" {
		t.Errorf("PutField = %+v, want the late edit saved on its own timer", puts)
	}
}

func TestSession_SubmitBlockedByFailedFlush(t *testing.T) {
	h := newHarness(boundCase(model.CaseInProcess))
	h.api.putErr = model.NewBackendUnavailableError()
	s := h.open(t)
	ctx := context.Background()

	if _, err := s.Edit(ctx, "consignee_name", "Initech"); err != nil {
		t.Fatalf("Edit() error = %v", err)
	}
	v, err := s.Submit(ctx)
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if !hasBanner(v, model.BannerSubmitBlocked) {
		t.Errorf("banners = %+v, want submit_blocked", v.Banners)
	}
	if validate, submits := h.api.counts(); validate != 0 || submits != 0 {
		t.Errorf("validate = %d submit = %d, want 0 0", validate, submits)
	}
}

func TestSession_SubmitCaseInvalidRevalidates(t *testing.T) {
	h := newHarness(boundCase(model.CaseInProcess))
	h.api.submitErr = model.NewCaseInvalidError("case does not validate")
	h.api.validations = []validationReply{
		{result: model.ValidationResult{Valid: true}},
		{result: model.ValidationResult{Errors: []model.ValidationError{
			{StepKey: "goods", FieldKey: "weight_kg", Message: "weight exceeds limit"},
		}}},
	}
	s := h.open(t)

	v, err := s.Submit(context.Background())
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	validate, submits := h.api.counts()
	if validate != 2 || submits != 1 {
		t.Errorf("validate = %d submit = %d, want 2 1", validate, submits)
	}
	if !hasBanner(v, model.BannerCaseInvalid) {
		t.Errorf("banners = %+v, want case_invalid", v.Banners)
	}
	if v.ErrorCount != 1 || v.Steps[1].ErrorCount != 1 {
		t.Errorf("ErrorCount = %d goods = %d, want 1 1", v.ErrorCount, v.Steps[1].ErrorCount)
	}
	if v.Mode != model.ModeWizard {
		t.Errorf("Mode = %q, want wizard", v.Mode)
	}
	if got := h.observer.lastSubmit(); got != "case_invalid" {
		t.Errorf("submit outcome = %q, want case_invalid", got)
	}
}

func TestSession_SubmitGenericFailureIsDismissible(t *testing.T) {
	h := newHarness(boundCase(model.CaseInProcess))
	h.api.submitErr = model.NewBackendTimeoutError()
	s := h.open(t)

	v, err := s.Submit(context.Background())
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if !hasBanner(v, model.BannerError) {
		t.Fatalf("banners = %+v, want error", v.Banners)
	}
	v = s.DismissBanner(model.BannerError)
	if hasBanner(v, model.BannerError) {
		t.Error("error banner should be dismissible")
	}
}

func TestSession_ReadonlyRefusesMutations(t *testing.T) {
	for _, st := range []model.CaseStatus{model.CasePrepared, model.CaseCompleted, model.CaseArchived} {
		t.Run(string(st), func(t *testing.T) {
			h := newHarness(boundCase(st))
			s := h.open(t)
			ctx := context.Background()

			v := s.View()
			if !v.Readonly || !hasBanner(v, model.BannerReadonly) {
				t.Errorf("readonly = %v banners = %+v, want readonly banner", v.Readonly, v.Banners)
			}
			for _, f := range v.Fields {
				if !f.Disabled {
					t.Errorf("field %s not disabled", f.Key)
				}
			}

			if _, err := s.Edit(ctx, "consignee_name", "x"); model.CodeOf(err) != model.ErrCaseReadonly {
				t.Errorf("Edit() code = %q, want CASE_READONLY", model.CodeOf(err))
			}
			if _, err := s.EditNotes(ctx, "x"); model.CodeOf(err) != model.ErrCaseReadonly {
				t.Errorf("EditNotes() code = %q, want CASE_READONLY", model.CodeOf(err))
			}
			if _, err := s.BindProcedure(ctx, "EXPORT"); model.CodeOf(err) != model.ErrCaseReadonly {
				t.Errorf("BindProcedure() code = %q, want CASE_READONLY", model.CodeOf(err))
			}
			if _, err := s.Submit(ctx); model.CodeOf(err) != model.ErrCaseReadonly {
				t.Errorf("Submit() code = %q, want CASE_READONLY", model.CodeOf(err))
			}

			// Navigation still works and does not validate.
			if v, err := s.Next(ctx); err != nil || v.CurrentStep != "goods" {
				t.Errorf("Next() = %q, %v, want goods", v.CurrentStep, err)
			}

			h.clock.Advance(5 * time.Second)
			validate, submits := h.api.counts()
			if len(h.api.putCalls()) != 0 || len(h.api.binds) != 0 || submits != 0 || validate != 0 {
				t.Errorf("remote calls on read-only case: puts=%d binds=%d submits=%d validate=%d",
					len(h.api.putCalls()), len(h.api.binds), submits, validate)
			}
		})
	}
}

func TestSession_StatusChangeDropsQueuedSaves(t *testing.T) {
	h := newHarness(boundCase(model.CaseInProcess))
	s := h.open(t)
	ctx := context.Background()

	if _, err := s.Edit(ctx, "consignee_name", "Umbrella"); err != nil {
		t.Fatalf("Edit() error = %v", err)
	}
	h.api.setStatus(model.CasePrepared)

	v, err := s.Reload(ctx)
	if err != nil {
		t.Fatalf("Reload() error = %v", err)
	}
	if !v.Readonly || v.Status != model.CasePrepared {
		t.Errorf("status = %q readonly = %v, want PREPARED true", v.Status, v.Readonly)
	}

	h.clock.Advance(5 * time.Second)
	if got := len(h.api.putCalls()); got != 0 {
		t.Errorf("PutField calls = %d, want 0", got)
	}
	if _, err := s.Edit(ctx, "consignee_name", "again"); model.CodeOf(err) != model.ErrCaseReadonly {
		t.Errorf("Edit() code = %q, want CASE_READONLY", model.CodeOf(err))
	}
}

func TestSession_ReopenedCaseIsEditable(t *testing.T) {
	h := newHarness(boundCase(model.CasePrepared))
	s := h.open(t)

	h.api.setStatus(model.CaseInProcess)
	v, _ := s.Reload(context.Background())
	if v.Readonly || hasBanner(v, model.BannerReadonly) {
		t.Errorf("readonly = %v banners = %+v, want editable", v.Readonly, v.Banners)
	}
	if _, err := s.Edit(context.Background(), "consignee_name", "x"); err != nil {
		t.Errorf("Edit() error = %v", err)
	}
}

func TestSession_UnboundCaseSelectsProcedure(t *testing.T) {
	c := boundCase(model.CaseDraft)
	c.BoundProcedure = nil
	h := newHarness(c)
	s := h.open(t)
	ctx := context.Background()

	v := s.View()
	if v.Mode != model.ModeSelectProcedure {
		t.Fatalf("Mode = %q, want select_procedure", v.Mode)
	}
	if len(v.Procedures) != 1 || v.Procedures[0].Code != "IMPORT" {
		t.Errorf("Procedures = %+v, want IMPORT", v.Procedures)
	}
	if !hasBanner(v, model.BannerNoProcedure) {
		t.Errorf("banners = %+v, want no_procedure", v.Banners)
	}
	if _, err := s.Next(ctx); model.CodeOf(err) != model.ErrNoProcedureBound {
		t.Errorf("Next() code = %q, want NO_PROCEDURE_BOUND", model.CodeOf(err))
	}
	if _, err := s.Edit(ctx, "weight_kg", "1"); model.CodeOf(err) != model.ErrNoProcedureBound {
		t.Errorf("Edit() code = %q, want NO_PROCEDURE_BOUND", model.CodeOf(err))
	}

	v, err := s.BindProcedure(ctx, "IMPORT")
	if err != nil {
		t.Fatalf("BindProcedure() error = %v", err)
	}
	if v.Mode != model.ModeWizard || v.CurrentStep != "parties" {
		t.Errorf("view = mode %q step %q, want wizard parties", v.Mode, v.CurrentStep)
	}
	if hasBanner(v, model.BannerNoProcedure) {
		t.Error("no_procedure banner should be cleared")
	}
	if len(h.api.binds) != 1 {
		t.Errorf("BindProcedure calls = %d, want 1", len(h.api.binds))
	}
	if !containsType(h.events.Types(), events.ProcedureBound) {
		t.Errorf("events = %v, want procedure_bound", h.events.Types())
	}

	if _, err := s.BindProcedure(ctx, "EXPORT"); model.CodeOf(err) != model.ErrProcedureAlreadyBound {
		t.Errorf("rebind code = %q, want PROCEDURE_ALREADY_BOUND", model.CodeOf(err))
	}
}

func TestSession_BindFailureBecomesBanner(t *testing.T) {
	c := boundCase(model.CaseDraft)
	c.BoundProcedure = nil
	h := newHarness(c)
	s := h.open(t)

	v, err := s.BindProcedure(context.Background(), "UNKNOWN")
	if err != nil {
		t.Fatalf("BindProcedure() error = %v", err)
	}
	if v.Mode != model.ModeSelectProcedure {
		t.Errorf("Mode = %q, want select_procedure", v.Mode)
	}
	if !hasBanner(v, model.BannerError) {
		t.Errorf("banners = %+v, want error", v.Banners)
	}
}

func TestSession_NoProcedureFromValidationSwitchesToSelection(t *testing.T) {
	h := newHarness(boundCase(model.CaseInProcess))
	h.api.validations = []validationReply{{err: model.NewNoProcedureBoundError("case-1")}}
	s := h.open(t)

	v, err := s.Next(context.Background())
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if v.Mode != model.ModeSelectProcedure {
		t.Errorf("Mode = %q, want select_procedure", v.Mode)
	}
	if len(v.Procedures) == 0 {
		t.Error("procedure catalogue should be loaded")
	}
}

func TestSession_ResumesLastStep(t *testing.T) {
	h := newHarness(boundCase(model.CaseInProcess))
	s := h.open(t)
	if _, err := s.GoToStep(context.Background(), "review"); err != nil {
		t.Fatalf("GoToStep() error = %v", err)
	}
	s.Close()

	again := h.open(t)
	if got := again.View().CurrentStep; got != "review" {
		t.Errorf("resumed step = %q, want review", got)
	}
}

func TestSession_NotesDebounce(t *testing.T) {
	h := newHarness(boundCase(model.CaseInProcess))
	s := h.open(t)
	ctx := context.Background()

	for _, text := range []string{"call", "call broker", "call broker on monday"} {
		if _, err := s.EditNotes(ctx, text); err != nil {
			t.Fatalf("EditNotes() error = %v", err)
		}
		h.clock.Advance(time.Second)
	}
	if len(h.api.notes) != 0 {
		t.Fatalf("PutNotes calls = %d, want 0", len(h.api.notes))
	}
	h.clock.Advance(1500 * time.Millisecond)
	if len(h.api.notes) != 1 || h.api.notes[0] != "call broker on monday" {
		t.Errorf("PutNotes = %v, want final text once", h.api.notes)
	}
	v := s.View()
	if v.Notes != "call broker on monday" || v.NotesSaveState != model.SaveSaved {
		t.Errorf("notes = %q state = %q, want saved text", v.Notes, v.NotesSaveState)
	}
}

func TestSession_MappingReady(t *testing.T) {
	h := newHarness(boundCase(model.CaseInProcess))
	s := h.open(t)

	if s.MappingReady() {
		t.Fatal("MappingReady() = true with weight_kg empty")
	}
	if _, err := s.Edit(context.Background(), "weight_kg", "3"); err != nil {
		t.Fatalf("Edit() error = %v", err)
	}
	if !s.MappingReady() {
		t.Error("MappingReady() = false with all required fields filled")
	}
	if _, err := s.Edit(context.Background(), "consignee_name", ""); err != nil {
		t.Fatalf("Edit() error = %v", err)
	}
	if s.MappingReady() {
		t.Error("MappingReady() = true with empty consignee_name")
	}
}

func TestSession_SubscribeReceivesSaveStates(t *testing.T) {
	h := newHarness(boundCase(model.CaseInProcess))
	s := h.open(t)
	ch, cancel := s.Subscribe(32)
	defer cancel()

	if _, err := s.Edit(context.Background(), "consignee_name", "Hooli"); err != nil {
		t.Fatalf("Edit() error = %v", err)
	}
	h.clock.Advance(time.Second)

	var states []model.SaveState
	for len(ch) > 0 {
		n := <-ch
		if sc, ok := n.Data.(SaveStateChange); ok && n.Type == NotifySaveState && sc.Key == "consignee_name" {
			states = append(states, sc.State)
		}
	}
	want := []model.SaveState{model.SaveIdle, model.SaveSaving, model.SaveSaved}
	if len(states) != len(want) {
		t.Fatalf("states = %v, want %v", states, want)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Errorf("states[%d] = %q, want %q", i, states[i], want[i])
		}
	}
}

func TestSession_CloseIsIdempotent(t *testing.T) {
	h := newHarness(boundCase(model.CaseInProcess))
	s := h.open(t)
	ch, _ := s.Subscribe(1)

	if _, err := s.Edit(context.Background(), "consignee_name", "x"); err != nil {
		t.Fatalf("Edit() error = %v", err)
	}
	s.Close()
	s.Close()

	h.clock.Advance(time.Second)
	if got := len(h.api.putCalls()); got != 0 {
		t.Errorf("PutField calls after close = %d, want 0", got)
	}
	for range ch {
	}
	if _, err := s.Validate(context.Background()); model.CodeOf(err) != model.ErrSessionClosed {
		t.Errorf("Validate() code = %q, want SESSION_CLOSED", model.CodeOf(err))
	}
	if n := len(h.events.Types()); h.events.Types()[n-1] != events.SessionClosed {
		t.Errorf("last event = %q, want session_closed", h.events.Types()[n-1])
	}
}

func TestErrorBanner(t *testing.T) {
	b := errorBanner(errors.New("boom"))
	if b.Kind != model.BannerError || !b.Dismissible || b.Code != model.ErrInternalError {
		t.Errorf("errorBanner = %+v", b)
	}
}

func TestSession_FlushSavesPendingEdits(t *testing.T) {
	h := newHarness(boundCase(model.CaseInProcess))
	s := h.open(t)
	ctx := context.Background()

	if _, err := s.Edit(ctx, "consignee_name", "Initech"); err != nil {
		t.Fatalf("Edit() error = %v", err)
	}
	if _, err := s.EditNotes(ctx, "check invoice"); err != nil {
		t.Fatalf("EditNotes() error = %v", err)
	}
	v, err := s.Flush(ctx)
	if err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	if puts := h.api.putCalls(); len(puts) != 1 || puts[0].value != "Initech" {
		t.Errorf("PutField = %+v, want Initech once", puts)
	}
	if len(h.api.notes) != 1 || h.api.notes[0] != "check invoice" {
		t.Errorf("PutNotes = %v, want flushed notes", h.api.notes)
	}
	if v.NotesSaveState != model.SaveSaved {
		t.Errorf("NotesSaveState = %q, want saved", v.NotesSaveState)
	}
}
