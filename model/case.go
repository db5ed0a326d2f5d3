package model

// CaseStatus is the lifecycle status of a declaration case.
type CaseStatus string

const (
	CaseDraft     CaseStatus = "DRAFT"
	CaseInProcess CaseStatus = "IN_PROCESS"
	CasePrepared  CaseStatus = "PREPARED"
	CaseCompleted CaseStatus = "COMPLETED"
	CaseArchived  CaseStatus = "ARCHIVED"
)

// Case is a declaration being prepared, as returned by getCase.
type Case struct {
	ID             string        `json:"id" yaml:"id"`
	Status         CaseStatus    `json:"status" yaml:"status"`
	Fields         []FieldEntry  `json:"fields" yaml:"fields"`
	BoundProcedure *ProcedureRef `json:"boundProcedure" yaml:"boundProcedure,omitempty"`
	Notes          string        `json:"notes,omitempty" yaml:"notes,omitempty"`
}

// FieldEntry is a persisted field value.
type FieldEntry struct {
	Key   string `json:"key" yaml:"key"`
	Value any    `json:"value" yaml:"value"`
}

// ProcedureRef identifies the procedure bound to a case.
type ProcedureRef struct {
	Code string `json:"code" yaml:"code"`
}

// ValidationError is a single server-side validation failure.
type ValidationError struct {
	StepKey  string `json:"step_key"`
	FieldKey string `json:"field_key"`
	Message  string `json:"message"`
}

// ValidationResult is the response of the validate operation.
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors"`
}
