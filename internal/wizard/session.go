package wizard

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/pitabwire/casewizard/internal/autosave"
	"github.com/pitabwire/casewizard/internal/events"
	"github.com/pitabwire/casewizard/internal/observability"
	"github.com/pitabwire/casewizard/internal/progress"
	"github.com/pitabwire/casewizard/internal/render"
	"github.com/pitabwire/casewizard/internal/schema"
	"github.com/pitabwire/casewizard/internal/status"
	"github.com/pitabwire/casewizard/internal/validation"
	"github.com/pitabwire/casewizard/internal/values"
	"github.com/pitabwire/casewizard/model"
)

// notesKey is the autosave key of the case notes.
const notesKey = "notes"

// Session is the controller state of one wizard over one case.
//
// Lock order: mu, then the autosave coordinators, then the leaf locks
// (values store, notesMu, subMu). Network calls are never made with mu held.
type Session struct {
	id     string
	caseID string
	owner  string
	rctx   *model.RequestContext
	base   context.Context
	deps   Deps
	logger *zap.Logger

	values     *values.Store
	fields     *autosave.Coordinator
	notesSave  *autosave.Coordinator
	validation *validation.Orchestrator

	// caseStatus is read by the autosave gate without taking mu.
	caseStatus atomic.Value
	lastActive atomic.Int64

	mu         sync.Mutex
	mode       model.WizardMode
	idx        *schema.Index
	procedures []model.ProcedureSummary
	current    int
	banners    []model.Banner
	closed     bool

	notesMu sync.Mutex
	notes   string

	subMu      sync.Mutex
	subs       map[uint64]chan Notification
	nextSub    uint64
	subsClosed bool
}

// Open loads the case and, when a procedure is bound, its schema, then seeds
// the value store and restores the last visited step. An unbound case opens
// in procedure selection mode.
func Open(ctx context.Context, deps Deps, rctx *model.RequestContext, caseID string) (*Session, error) {
	deps = deps.withDefaults()

	ctx, span := observability.StartSpan(ctx, "wizard.open", observability.AttrCaseID.String(caseID))
	c, err := deps.API.GetCase(ctx, rctx, caseID)
	if err != nil {
		observability.EndSpanWithError(span, err)
		return nil, err
	}

	s := newSession(deps, rctx, c)
	span.SetAttributes(observability.AttrSessionID.String(s.id))

	if c.BoundProcedure == nil || c.BoundProcedure.Code == "" {
		s.enterSelection(ctx)
	} else {
		idx, err := deps.Catalogue.Schema(ctx, rctx, c.BoundProcedure.Code)
		if err != nil {
			observability.EndSpanWithError(span, err)
			s.Close()
			return nil, err
		}
		s.mu.Lock()
		s.bindIndexLocked(idx)
		s.mu.Unlock()
		s.restorePosition(ctx)
	}
	observability.EndSpanWithError(span, nil)

	if status.IsReadonly(c.Status) {
		s.mu.Lock()
		s.setBannerLocked(readonlyBanner(c.Status))
		s.mu.Unlock()
	}

	s.logger.Info("wizard session opened",
		zap.String("status", string(c.Status)),
		zap.String("mode", string(s.Mode())),
	)
	s.publish(events.SessionOpened, map[string]any{"status": c.Status})
	return s, nil
}

func newSession(deps Deps, rctx *model.RequestContext, c model.Case) *Session {
	id := uuid.New().String()
	s := &Session{
		id:     id,
		caseID: c.ID,
		owner:  rctx.Owner(),
		rctx:   rctx,
		base:   model.WithRequestContext(context.Background(), rctx),
		deps:   deps,
		logger: deps.Logger.With(zap.String("session_id", id), zap.String("case_id", c.ID)),
		values: values.NewStore(),
		mode:   model.ModeWizard,
		notes:  c.Notes,
		subs:   make(map[uint64]chan Notification),
	}
	s.caseStatus.Store(c.Status)
	s.values.Seed(c.Fields)
	s.touch()

	gate := func() error { return status.CanEdit(s.Status()).Error() }

	s.fields = autosave.New(autosave.Options{
		Kind:         "field",
		Delay:        deps.Timing.FieldDebounce,
		SavedDisplay: deps.Timing.SavedDisplay,
		Clock:        deps.Clock,
		Persist:      s.persistField,
		Sink:         s.values,
		Gate:         gate,
		Listener:     s.saveListener("field"),
		Observer:     deps.Observer,
		Logger:       s.logger,
		Context:      s.base,
	})
	s.notesSave = autosave.New(autosave.Options{
		Kind:         "notes",
		Delay:        deps.Timing.NotesDebounce,
		SavedDisplay: deps.Timing.SavedDisplay,
		Clock:        deps.Clock,
		Persist:      s.persistNotes,
		Sink: autosave.SinkFunc(func(_ string, v any) {
			text, _ := v.(string)
			s.notesMu.Lock()
			s.notes = text
			s.notesMu.Unlock()
		}),
		Gate:     gate,
		Listener: s.saveListener("notes"),
		Observer: deps.Observer,
		Logger:   s.logger,
		Context:  s.base,
	})
	s.validation = validation.New(func(ctx context.Context) (model.ValidationResult, error) {
		return deps.API.Validate(ctx, rctx, c.ID)
	}, s.stepOf, deps.Observer)
	return s
}

// stepOf resolves the owning step of a field in the bound schema.
func (s *Session) stepOf(fieldKey string) (string, bool) {
	s.mu.Lock()
	idx := s.idx
	s.mu.Unlock()
	if idx == nil {
		return "", false
	}
	return idx.StepOf(fieldKey)
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// CaseID returns the case the session edits.
func (s *Session) CaseID() string { return s.caseID }

// Owner returns the subject that opened the session.
func (s *Session) Owner() string { return s.owner }

// Status returns the last known case status.
func (s *Session) Status() model.CaseStatus {
	st, _ := s.caseStatus.Load().(model.CaseStatus)
	return st
}

// Readonly reports whether the case currently refuses mutations.
func (s *Session) Readonly() bool { return status.IsReadonly(s.Status()) }

// Mode returns the flow the client should render.
func (s *Session) Mode() model.WizardMode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// LastActive returns the time of the last operation on the session.
func (s *Session) LastActive() time.Time {
	return time.Unix(0, s.lastActive.Load())
}

func (s *Session) touch() {
	s.lastActive.Store(s.deps.Clock.Now().UnixNano())
}

// View returns the current render state.
func (s *Session) View() model.WizardView {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewLocked()
}

// Edit coerces raw input for fieldKey and hands it to autosave.
func (s *Session) Edit(_ context.Context, fieldKey string, raw any) (model.WizardView, error) {
	s.touch()
	s.mu.Lock()
	if err := s.editableLocked(); err != nil {
		s.mu.Unlock()
		return model.WizardView{}, err
	}
	f, ok := s.idx.Field(fieldKey)
	s.mu.Unlock()
	if !ok {
		return model.WizardView{}, model.NewNotFoundError("unknown field " + fieldKey)
	}

	v, err := render.CoerceIn(f, raw)
	if err != nil {
		return model.WizardView{}, err
	}
	if err := s.fields.Edit(fieldKey, v); err != nil {
		return model.WizardView{}, err
	}
	return s.View(), nil
}

// EditNotes hands the case notes to the notes autosave.
func (s *Session) EditNotes(_ context.Context, text string) (model.WizardView, error) {
	s.touch()
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return model.WizardView{}, model.NewSessionClosedError()
	}
	s.mu.Unlock()

	if err := s.notesSave.Edit(notesKey, text); err != nil {
		return model.WizardView{}, err
	}
	return s.View(), nil
}

// Next moves to the following step. On the last step it is a no-op.
func (s *Session) Next(ctx context.Context) (model.WizardView, error) {
	return s.navigate(ctx, "next", func(cur, n int) (int, error) {
		if cur+1 >= n {
			return cur, nil
		}
		return cur + 1, nil
	})
}

// Prev moves to the preceding step. On the first step it is a no-op.
func (s *Session) Prev(ctx context.Context) (model.WizardView, error) {
	return s.navigate(ctx, "prev", func(cur, _ int) (int, error) {
		if cur == 0 {
			return cur, nil
		}
		return cur - 1, nil
	})
}

// GoToStep jumps to the step with stepKey.
func (s *Session) GoToStep(ctx context.Context, stepKey string) (model.WizardView, error) {
	return s.navigate(ctx, "goto", func(cur, _ int) (int, error) {
		i, ok := s.idx.StepIndex(stepKey)
		if !ok {
			return cur, model.NewNotFoundError("unknown step " + stepKey)
		}
		return i, nil
	})
}

// navigate validates as a side effect, then moves the step pointer. The
// validation result never blocks the move. Validation is skipped on
// read-only cases.
func (s *Session) navigate(ctx context.Context, op string, pick func(cur, n int) (int, error)) (model.WizardView, error) {
	s.touch()
	s.mu.Lock()
	if err := s.usableLocked(); err != nil {
		s.mu.Unlock()
		return model.WizardView{}, err
	}
	target, err := pick(s.current, s.idx.Len())
	moved := target != s.current
	s.mu.Unlock()
	if err != nil {
		return model.WizardView{}, err
	}
	if !moved {
		return s.View(), nil
	}

	if !s.Readonly() {
		s.runValidation(ctx, validation.TriggerNavigate)
	}

	s.mu.Lock()
	if s.mode != model.ModeWizard || s.idx == nil || target >= s.idx.Len() {
		v := s.viewLocked()
		s.mu.Unlock()
		return v, nil
	}
	s.current = target
	step, _ := s.idx.Step(target)
	code := s.idx.Code()
	v := s.viewLocked()
	s.mu.Unlock()

	s.logger.Debug("wizard navigated", zap.String("op", op), zap.String("step_key", step.Key))
	s.savePosition(ctx, code, step.Key)
	s.broadcast(Notification{Type: NotifyView, Data: v})
	return v, nil
}

// Validate runs an explicit validation.
func (s *Session) Validate(ctx context.Context) (model.WizardView, error) {
	s.touch()
	s.mu.Lock()
	if err := s.usableLocked(); err != nil {
		s.mu.Unlock()
		return model.WizardView{}, err
	}
	s.mu.Unlock()

	s.runValidation(ctx, validation.TriggerExplicit)
	return s.View(), nil
}

// BindProcedure binds a procedure to the case and enters the stepped form.
// Remote failures become a banner.
func (s *Session) BindProcedure(ctx context.Context, code string) (model.WizardView, error) {
	s.touch()
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return model.WizardView{}, model.NewSessionClosedError()
	}
	bound := ""
	if s.mode == model.ModeWizard && s.idx != nil {
		bound = s.idx.Code()
	}
	g := status.CanBind(status.BindContext{Status: s.Status(), BoundCode: bound, RequestedCode: code})
	s.mu.Unlock()
	if !g.Allowed {
		return model.WizardView{}, g.Error()
	}
	if bound == code {
		return s.View(), nil
	}

	ctx, span := observability.StartSpan(ctx, "wizard.bind_procedure", s.attrs(observability.AttrProcedureCode.String(code))...)
	err := s.deps.API.BindProcedure(ctx, s.rctx, s.caseID, code)
	var idx *schema.Index
	if err == nil {
		idx, err = s.deps.Catalogue.Schema(ctx, s.rctx, code)
	}
	observability.EndSpanWithError(span, err)
	if err != nil {
		s.logger.Warn("bind procedure failed", zap.String("procedure_code", code), zap.Error(err))
		s.mu.Lock()
		s.setBannerLocked(errorBanner(err))
		v := s.viewLocked()
		s.mu.Unlock()
		return v, nil
	}

	s.validation.Reset()
	s.mu.Lock()
	s.bindIndexLocked(idx)
	s.current = 0
	s.procedures = nil
	s.clearBannerLocked(model.BannerNoProcedure)
	v := s.viewLocked()
	s.mu.Unlock()

	s.logger.Info("procedure bound", zap.String("procedure_code", code))
	s.publish(events.ProcedureBound, map[string]any{"procedure_code": code})
	s.broadcast(Notification{Type: NotifyView, Data: v})
	return v, nil
}

// Submit flushes pending saves, validates and submits the case. Local
// rejection, CASE_INVALID and generic failures become banners; only caller
// mistakes are returned as errors.
func (s *Session) Submit(ctx context.Context) (model.WizardView, error) {
	s.touch()
	s.mu.Lock()
	if err := s.editableLocked(); err != nil {
		s.mu.Unlock()
		if model.CodeOf(err) == model.ErrCaseReadonly {
			s.record("readonly")
		}
		return model.WizardView{}, err
	}
	s.clearBannerLocked(model.BannerSubmitBlocked)
	s.clearBannerLocked(model.BannerCaseInvalid)
	s.mu.Unlock()

	ctx, span := observability.StartSpan(ctx, "wizard.submit", s.attrs()...)
	defer span.End()

	if err := s.flush(ctx); err != nil {
		s.logger.Warn("flush before submit failed", zap.Error(err))
		s.record("blocked_local")
		return s.withBanner(model.Banner{
			Kind:        model.BannerSubmitBlocked,
			Code:        model.CodeOf(err),
			Message:     "Some changes could not be saved. Fix them before submitting.",
			Blocking:    true,
			Dismissible: true,
		}), nil
	}

	out := s.runValidation(ctx, validation.TriggerPreSubmit)
	if out.NoProcedure {
		s.record("blocked_local")
		return s.View(), nil
	}
	if out.Err != nil {
		s.record("error")
		return s.View(), nil
	}
	// Edits made while validating are not covered by the flush above.
	g := status.CanSubmit(status.SubmitContext{
		Status:      s.Status(),
		Bound:       true,
		ErrorCount:  s.validation.Index().Len(),
		PendingSave: len(s.fields.PendingKeys())+len(s.notesSave.PendingKeys()) > 0,
	})
	if !g.Allowed && g.Code != model.ErrCaseReadonly {
		s.record("blocked_local")
		return s.withBanner(model.Banner{
			Kind:        model.BannerSubmitBlocked,
			Code:        g.Code,
			Message:     g.Reason,
			Blocking:    true,
			Dismissible: g.Code == model.ErrConflict,
		}), nil
	}

	if s.Readonly() {
		s.record("readonly")
		return model.WizardView{}, model.NewCaseReadonlyError(s.Status())
	}

	err := s.deps.API.Submit(ctx, s.rctx, s.caseID)
	if err != nil {
		if model.CodeOf(err) == model.ErrCaseInvalid {
			s.record("case_invalid")
			s.logger.Info("submit rejected as invalid, revalidating")
			s.runValidation(ctx, validation.TriggerRecovery)
			return s.withBanner(model.Banner{
				Kind:     model.BannerCaseInvalid,
				Code:     model.ErrCaseInvalid,
				Message:  model.AsEnvelope(err).Message,
				Blocking: true,
			}), nil
		}
		s.record("error")
		s.logger.Warn("submit failed", zap.Error(err))
		return s.withBanner(errorBanner(err)), nil
	}

	s.record("submitted")
	s.logger.Info("case submitted")
	s.publish(events.CaseSubmitted, nil)

	if c, err := s.deps.API.GetCase(ctx, s.rctx, s.caseID); err != nil {
		s.logger.Warn("reload after submit failed", zap.Error(err))
	} else {
		s.applyStatus(c.Status)
	}

	s.mu.Lock()
	s.mode = model.ModeExited
	v := s.viewLocked()
	s.mu.Unlock()

	if err := s.deps.Progress.Delete(ctx, s.owner, s.caseID); err != nil {
		s.logger.Warn("clear progress failed", zap.Error(err))
	}
	s.broadcast(Notification{Type: NotifyView, Data: v})
	return v, nil
}

// Reload refetches the case and applies a server-side status change.
func (s *Session) Reload(ctx context.Context) (model.WizardView, error) {
	s.touch()
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return model.WizardView{}, model.NewSessionClosedError()
	}
	s.mu.Unlock()

	c, err := s.deps.API.GetCase(ctx, s.rctx, s.caseID)
	if err != nil {
		return s.withBanner(errorBanner(err)), nil
	}
	s.applyStatus(c.Status)
	return s.View(), nil
}

// DismissBanner removes a dismissible banner of the given kind.
func (s *Session) DismissBanner(kind string) model.WizardView {
	s.touch()
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.banners[:0]
	for _, b := range s.banners {
		if b.Kind == kind && b.Dismissible {
			continue
		}
		out = append(out, b)
	}
	s.banners = out
	return s.viewLocked()
}

// MappingReady reports whether every required field of every step is filled.
func (s *Session) MappingReady() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.allRequiredFilledLocked()
}

// Close cancels all timers and releases subscribers. It is idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.fields.Close()
	s.notesSave.Close()
	s.closeSubscribers()
	s.logger.Info("wizard session closed")
	s.publish(events.SessionClosed, nil)
}

// applyStatus records a server-reported status. The gate closes before the
// timers are cancelled so a timer racing the transition is dropped.
func (s *Session) applyStatus(to model.CaseStatus) {
	from := s.Status()
	if from == to {
		return
	}
	if g := status.CanTransition(from, to); !g.Allowed {
		s.logger.Warn("unexpected case status transition", zap.String("from", string(from)), zap.String("to", string(to)))
	}
	s.caseStatus.Store(to)

	readonly := status.IsReadonly(to)
	if readonly {
		s.fields.CancelAll()
		s.notesSave.CancelAll()
	}

	s.mu.Lock()
	if readonly {
		s.setBannerLocked(readonlyBanner(to))
	} else {
		s.clearBannerLocked(model.BannerReadonly)
	}
	s.mu.Unlock()

	s.logger.Info("case status changed", zap.String("from", string(from)), zap.String("to", string(to)))
	s.publish(events.StatusChanged, map[string]any{"from": from, "to": to})
	s.broadcast(Notification{Type: NotifyStatus, Data: StatusChange{From: from, To: to, Readonly: readonly}})
}

// runValidation applies a validation outcome to banners and subscribers.
func (s *Session) runValidation(ctx context.Context, trigger validation.Trigger) validation.Outcome {
	ctx, span := observability.StartSpan(ctx, "wizard.validate", s.attrs(observability.AttrTrigger.String(string(trigger)))...)
	out := s.validation.Run(ctx, trigger)
	observability.EndSpanWithError(span, out.Err)

	switch {
	case out.NoProcedure:
		s.logger.Warn("validation reports no procedure bound")
		s.mu.Lock()
		s.idx = nil
		s.current = 0
		s.mu.Unlock()
		s.enterSelection(ctx)
	case out.Err != nil:
		s.logger.Warn("validation failed", zap.Error(out.Err))
		s.mu.Lock()
		s.setBannerLocked(errorBanner(out.Err))
		s.mu.Unlock()
	case out.Applied:
		idx := s.validation.Index()
		s.mu.Lock()
		if idx.Len() == 0 {
			s.clearBannerLocked(model.BannerSubmitBlocked)
			s.clearBannerLocked(model.BannerCaseInvalid)
		}
		s.mu.Unlock()
		s.publish(events.ValidationApplied, map[string]any{"valid": out.Result.Valid, "error_count": idx.Len()})
		s.broadcast(Notification{Type: NotifyValidation, Data: ValidationSummary{
			Valid:      out.Result.Valid && idx.Len() == 0,
			ErrorCount: idx.Len(),
			Errors:     idx.Errors(),
		}})
	}
	return out
}

// enterSelection switches to procedure selection and loads the catalogue.
func (s *Session) enterSelection(ctx context.Context) {
	list, err := s.deps.Catalogue.Procedures(ctx, s.rctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.mode = model.ModeSelectProcedure
	s.setBannerLocked(model.Banner{
		Kind:     model.BannerNoProcedure,
		Code:     model.ErrNoProcedureBound,
		Message:  "Select a procedure to start preparing this case.",
		Blocking: true,
	})
	if err != nil {
		s.logger.Warn("list procedures failed", zap.Error(err))
		s.setBannerLocked(errorBanner(err))
		return
	}
	s.procedures = list
}

func (s *Session) bindIndexLocked(idx *schema.Index) {
	s.idx = idx
	s.mode = model.ModeWizard
	for _, p := range idx.Problems() {
		s.logger.Warn("procedure schema problem", zap.String("procedure_code", idx.Code()), zap.String("problem", p.String()))
	}
}

func (s *Session) restorePosition(ctx context.Context) {
	pos, found, err := s.deps.Progress.Load(ctx, s.owner, s.caseID)
	if err != nil {
		s.logger.Warn("load progress failed", zap.Error(err))
		return
	}
	if !found {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.idx == nil || pos.ProcedureCode != s.idx.Code() {
		return
	}
	if i, ok := s.idx.StepIndex(pos.StepKey); ok {
		s.current = i
	}
}

func (s *Session) savePosition(ctx context.Context, code, stepKey string) {
	pos := progress.Position{ProcedureCode: code, StepKey: stepKey, UpdatedAt: s.deps.Clock.Now()}
	if err := s.deps.Progress.Save(ctx, s.owner, s.caseID, pos); err != nil {
		s.logger.Warn("save progress failed", zap.Error(err))
	}
}

// Flush saves every pending field and notes edit now and returns the view.
// Headless callers use it in place of waiting out the debounce.
func (s *Session) Flush(ctx context.Context) (model.WizardView, error) {
	s.touch()
	if err := s.flush(ctx); err != nil {
		return s.View(), err
	}
	return s.View(), nil
}

func (s *Session) flush(ctx context.Context) error {
	if err := s.fields.Flush(ctx); err != nil {
		return err
	}
	return s.notesSave.Flush(ctx)
}

func (s *Session) persistField(ctx context.Context, key string, value any) error {
	ctx, span := observability.StartSpan(ctx, "wizard.put_field", s.attrs(observability.AttrFieldKey.String(key))...)
	_, err := s.deps.API.PutField(ctx, s.rctx, s.caseID, key, value)
	observability.EndSpanWithError(span, err)
	return err
}

func (s *Session) persistNotes(ctx context.Context, _ string, value any) error {
	text, _ := value.(string)
	ctx, span := observability.StartSpan(ctx, "wizard.put_notes", s.attrs()...)
	err := s.deps.API.PutNotes(ctx, s.rctx, s.caseID, text)
	observability.EndSpanWithError(span, err)
	return err
}

func (s *Session) saveListener(scope string) autosave.Listener {
	return func(key string, state model.SaveState) {
		s.broadcast(Notification{Type: NotifySaveState, Data: SaveStateChange{Scope: scope, Key: key, State: state}})
		switch {
		case state == model.SaveSaved && scope == "notes":
			s.publish(events.NotesSaved, nil)
		case state == model.SaveSaved:
			s.publish(events.FieldSaved, map[string]any{"field_key": key})
		case state == model.SaveError:
			s.publish(events.FieldSaveFailed, map[string]any{"field_key": key, "scope": scope})
		}
	}
}

// usableLocked requires an open session in the stepped form.
func (s *Session) usableLocked() error {
	if s.closed {
		return model.NewSessionClosedError()
	}
	if s.mode == model.ModeSelectProcedure || s.idx == nil {
		return model.NewNoProcedureBoundError(s.caseID)
	}
	if s.mode == model.ModeExited {
		return model.NewConflictError("the wizard has been exited")
	}
	return nil
}

// editableLocked additionally requires an editable case status.
func (s *Session) editableLocked() error {
	if err := s.usableLocked(); err != nil {
		return err
	}
	return status.CanEdit(s.Status()).Error()
}

func (s *Session) setBannerLocked(b model.Banner) {
	for i := range s.banners {
		if s.banners[i].Kind == b.Kind {
			s.banners[i] = b
			return
		}
	}
	s.banners = append(s.banners, b)
}

func (s *Session) clearBannerLocked(kind string) {
	out := s.banners[:0]
	for _, b := range s.banners {
		if b.Kind != kind {
			out = append(out, b)
		}
	}
	s.banners = out
}

func (s *Session) withBanner(b model.Banner) model.WizardView {
	s.mu.Lock()
	s.setBannerLocked(b)
	v := s.viewLocked()
	s.mu.Unlock()
	s.broadcast(Notification{Type: NotifyBanner, Data: b})
	return v
}

func (s *Session) record(outcome string) {
	if s.deps.Observer != nil {
		s.deps.Observer.RecordSubmit(outcome)
	}
}

func (s *Session) publish(typ string, data map[string]any) {
	e := events.New(typ, s.caseID, s.id, data)
	e.Owner = s.owner
	ctx, cancel := context.WithTimeout(s.base, 2*time.Second)
	defer cancel()
	if err := s.deps.Events.Publish(ctx, e); err != nil {
		s.logger.Warn("publish event failed", zap.String("event", typ), zap.Error(err))
	}
}

func (s *Session) attrs(extra ...attribute.KeyValue) []attribute.KeyValue {
	return observability.SessionAttrs(s.caseID, s.id, extra...)
}

func readonlyBanner(st model.CaseStatus) model.Banner {
	return model.Banner{
		Kind:     model.BannerReadonly,
		Code:     model.ErrCaseReadonly,
		Message:  "This case is " + string(st) + " and can no longer be edited.",
		Blocking: true,
	}
}

func errorBanner(err error) model.Banner {
	ee := model.AsEnvelope(err)
	return model.Banner{
		Kind:        model.BannerError,
		Code:        ee.Code,
		Message:     ee.Message,
		Dismissible: true,
	}
}
