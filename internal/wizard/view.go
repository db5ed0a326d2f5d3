package wizard

import (
	"github.com/pitabwire/casewizard/internal/render"
	"github.com/pitabwire/casewizard/internal/status"
	"github.com/pitabwire/casewizard/model"
)

func (s *Session) viewLocked() model.WizardView {
	st := s.Status()
	readonly := status.IsReadonly(st)

	s.notesMu.Lock()
	notes := s.notes
	s.notesMu.Unlock()

	v := model.WizardView{
		SessionID:      s.id,
		CaseID:         s.caseID,
		Status:         st,
		Readonly:       readonly,
		Mode:           s.mode,
		CurrentIndex:   s.current,
		Banners:        append([]model.Banner(nil), s.banners...),
		Notes:          notes,
		NotesSaveState: s.notesSave.Status(notesKey).State,
	}

	if s.mode == model.ModeSelectProcedure || s.idx == nil {
		v.Procedures = append([]model.ProcedureSummary(nil), s.procedures...)
		return v
	}

	summary := s.idx.Summary()
	v.Procedure = &summary

	errs := s.validation.Index()
	v.Validated = s.validation.Validated()
	v.ErrorCount = errs.Len()

	for i, step := range s.idx.Steps() {
		count := errs.StepCount(step.Key)
		v.Steps = append(v.Steps, model.StepDescriptor{
			Key:        step.Key,
			Title:      step.Title,
			Index:      i,
			State:      stepState(i, s.current, count),
			ErrorCount: count,
		})
	}

	step, ok := s.idx.Step(s.current)
	if ok {
		v.CurrentStep = step.Key
		disabled := readonly || s.mode == model.ModeExited
		for _, f := range step.Fields {
			value, present := s.values.Get(f.Key)
			save := s.fields.Status(f.Key)
			msg, _ := errs.FieldError(f.Key)
			v.Fields = append(v.Fields, render.Render(f, render.State{
				Value:     value,
				Present:   present,
				Disabled:  disabled,
				Error:     msg,
				SaveState: save.State,
				Pending:   save.Pending,
			}))
		}
	}

	v.MappingReady = s.allRequiredFilledLocked()
	return v
}

// stepState derives the stepper state of step i. Steps before the current
// one are complete or in error; the current one is active, flagged when it
// has errors.
func stepState(i, current, errorCount int) model.StepState {
	switch {
	case i < current && errorCount > 0:
		return model.StepError
	case i < current:
		return model.StepComplete
	case i == current && errorCount > 0:
		return model.StepActiveError
	case i == current:
		return model.StepActive
	default:
		return model.StepUpcoming
	}
}

// allRequiredFilledLocked is recomputed on every call from the schema and the
// value store. nil and "" count as unfilled for every type.
func (s *Session) allRequiredFilledLocked() bool {
	if s.idx == nil {
		return false
	}
	for _, f := range s.idx.Fields() {
		if f.Required && !s.values.Filled(f.Key) {
			return false
		}
	}
	return true
}
