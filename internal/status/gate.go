// Package status holds the case status lifecycle rules. Guards are pure
// functions that evaluate preconditions without side effects.
package status

import (
	"fmt"

	"github.com/pitabwire/casewizard/model"
)

// GuardResult is the outcome of a guard evaluation.
type GuardResult struct {
	Allowed bool
	Code    string
	Reason  string
}

// Error converts the guard result to an error envelope if not allowed.
func (r GuardResult) Error() error {
	if r.Allowed {
		return nil
	}
	return &model.ErrorEnvelope{Code: r.Code, Message: r.Reason}
}

var transitions = map[model.CaseStatus][]model.CaseStatus{
	model.CaseDraft:     {model.CaseInProcess},
	model.CaseInProcess: {model.CasePrepared},
	model.CasePrepared:  {model.CaseCompleted, model.CaseInProcess},
	model.CaseCompleted: {model.CaseArchived},
	model.CaseArchived:  nil,
}

// IsReadonly reports whether a case in status s refuses field edits and
// procedure binding. Only DRAFT and IN_PROCESS are editable; unknown
// statuses are read-only.
func IsReadonly(s model.CaseStatus) bool {
	return s != model.CaseDraft && s != model.CaseInProcess
}

// Known reports whether s is a lifecycle status.
func Known(s model.CaseStatus) bool {
	_, ok := transitions[s]
	return ok
}

// Next returns the statuses reachable from s in one transition.
func Next(s model.CaseStatus) []model.CaseStatus {
	return append([]model.CaseStatus(nil), transitions[s]...)
}

// CanEdit evaluates whether field values or notes may be written.
func CanEdit(s model.CaseStatus) GuardResult {
	if IsReadonly(s) {
		return GuardResult{
			Code:   model.ErrCaseReadonly,
			Reason: fmt.Sprintf("case is read-only in status %s", s),
		}
	}
	return GuardResult{Allowed: true}
}

// BindContext provides context for procedure binding guards.
type BindContext struct {
	Status        model.CaseStatus
	BoundCode     string // empty if no procedure is bound
	RequestedCode string
}

// CanBind evaluates whether a procedure may be bound.
// Rules:
// - Case must be editable
// - A procedure code must be given
// - A case already bound to a different procedure cannot be re-bound
func CanBind(ctx BindContext) GuardResult {
	if g := CanEdit(ctx.Status); !g.Allowed {
		return g
	}
	if ctx.RequestedCode == "" {
		return GuardResult{Code: model.ErrBadRequest, Reason: "procedure code is required"}
	}
	if ctx.BoundCode != "" && ctx.BoundCode != ctx.RequestedCode {
		return GuardResult{
			Code:   model.ErrProcedureAlreadyBound,
			Reason: fmt.Sprintf("case is already bound to procedure %s", ctx.BoundCode),
		}
	}
	return GuardResult{Allowed: true}
}

// SubmitContext provides context for submission guards.
type SubmitContext struct {
	Status      model.CaseStatus
	Bound       bool
	ErrorCount  int
	PendingSave bool
}

// CanSubmit evaluates whether a case may be submitted.
// Rules:
// - Case must be editable
// - A procedure must be bound
// - No validation errors may be outstanding
// - No field save may be pending
func CanSubmit(ctx SubmitContext) GuardResult {
	if g := CanEdit(ctx.Status); !g.Allowed {
		return g
	}
	if !ctx.Bound {
		return GuardResult{Code: model.ErrNoProcedureBound, Reason: "no procedure is bound to the case"}
	}
	if ctx.ErrorCount > 0 {
		return GuardResult{
			Code:   model.ErrCaseInvalid,
			Reason: fmt.Sprintf("case has %d validation error(s)", ctx.ErrorCount),
		}
	}
	if ctx.PendingSave {
		return GuardResult{Code: model.ErrConflict, Reason: "field changes are still being saved"}
	}
	return GuardResult{Allowed: true}
}

// CanTransition evaluates whether a case may move from one status to another.
func CanTransition(from, to model.CaseStatus) GuardResult {
	for _, s := range transitions[from] {
		if s == to {
			return GuardResult{Allowed: true}
		}
	}
	return GuardResult{
		Code:   model.ErrInvalidTransition,
		Reason: fmt.Sprintf("case cannot move from %s to %s", from, to),
	}
}
