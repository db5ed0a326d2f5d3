package model

import "context"

// CaseAPI is the request/response contract of the remote case service. Every
// method may fail with an *ErrorEnvelope; unrecognised codes are opaque.
//
// rctx carries the caller's forwarded credentials and may be nil for
// unauthenticated development backends.
type CaseAPI interface {
	GetCase(ctx context.Context, rctx *RequestContext, caseID string) (Case, error)
	GetProcedureSchema(ctx context.Context, rctx *RequestContext, code string) (ProcedureSchema, error)
	ListProcedures(ctx context.Context, rctx *RequestContext) ([]ProcedureSummary, error)
	BindProcedure(ctx context.Context, rctx *RequestContext, caseID, code string) error

	// PutField is an idempotent upsert and echoes the stored entry.
	PutField(ctx context.Context, rctx *RequestContext, caseID, key string, value any) (FieldEntry, error)
	PutNotes(ctx context.Context, rctx *RequestContext, caseID, notes string) error

	// Validate fails with NO_PROCEDURE_BOUND when the case has no schema.
	Validate(ctx context.Context, rctx *RequestContext, caseID string) (ValidationResult, error)

	// Submit fails with CASE_INVALID when the case does not validate.
	Submit(ctx context.Context, rctx *RequestContext, caseID string) error
}
