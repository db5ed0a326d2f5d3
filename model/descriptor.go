package model

// SaveState is the per-field autosave status.
type SaveState string

const (
	SaveIdle   SaveState = "idle"
	SaveSaving SaveState = "saving"
	SaveSaved  SaveState = "saved"
	SaveError  SaveState = "error"
)

// StepState is the visual state of a step in the stepper.
type StepState string

const (
	StepComplete    StepState = "complete"
	StepError       StepState = "error"
	StepActive      StepState = "active"
	StepActiveError StepState = "active_error"
	StepUpcoming    StepState = "upcoming"
)

// WizardMode tells the client which flow to render.
type WizardMode string

const (
	ModeSelectProcedure WizardMode = "select_procedure"
	ModeWizard          WizardMode = "wizard"
	ModeExited          WizardMode = "exited"
)

// Banner kinds.
const (
	BannerReadonly      = "readonly"
	BannerNoProcedure   = "no_procedure"
	BannerCaseInvalid   = "case_invalid"
	BannerSubmitBlocked = "submit_blocked"
	BannerError         = "error"
)

// Banner is a non-field message shown above the form.
type Banner struct {
	Kind        string `json:"kind"`
	Code        string `json:"code,omitempty"`
	Message     string `json:"message"`
	Blocking    bool   `json:"blocking"`
	Dismissible bool   `json:"dismissible"`
}

// OptionDescriptor is a resolved choice for SELECT, COUNTRY and CURRENCY fields.
type OptionDescriptor struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// FieldDescriptor is a field resolved for display: label, widget, coerced
// value, error and save state.
type FieldDescriptor struct {
	Key         string             `json:"key"`
	Type        FieldType          `json:"type"`
	Widget      string             `json:"widget"`
	Label       string             `json:"label"`
	Required    bool               `json:"required"`
	Placeholder string             `json:"placeholder,omitempty"`
	Description string             `json:"description,omitempty"`
	MaxLength   *int               `json:"max_length,omitempty"`
	Min         *float64           `json:"min,omitempty"`
	Max         *float64           `json:"max,omitempty"`
	Step        *float64           `json:"step,omitempty"`
	Options     []OptionDescriptor `json:"options,omitempty"`
	Value       any                `json:"value"`
	Disabled    bool               `json:"disabled"`
	Error       string             `json:"error,omitempty"`
	Invalid     bool               `json:"invalid"`
	SaveState   SaveState          `json:"save_state"`
	Pending     bool               `json:"pending"`
}

// StepDescriptor is one entry of the stepper.
type StepDescriptor struct {
	Key        string    `json:"key"`
	Title      string    `json:"title"`
	Index      int       `json:"index"`
	State      StepState `json:"state"`
	ErrorCount int       `json:"error_count"`
}

// WizardView is the complete render state of a wizard session.
type WizardView struct {
	SessionID      string             `json:"session_id"`
	CaseID         string             `json:"case_id"`
	Status         CaseStatus         `json:"status"`
	Readonly       bool               `json:"readonly"`
	Mode           WizardMode         `json:"mode"`
	Procedure      *ProcedureSummary  `json:"procedure,omitempty"`
	Procedures     []ProcedureSummary `json:"procedures,omitempty"`
	Steps          []StepDescriptor   `json:"steps,omitempty"`
	CurrentStep    string             `json:"current_step,omitempty"`
	CurrentIndex   int                `json:"current_index"`
	Fields         []FieldDescriptor  `json:"fields,omitempty"`
	Banners        []Banner           `json:"banners,omitempty"`
	ErrorCount     int                `json:"error_count"`
	Validated      bool               `json:"validated"`
	MappingReady   bool               `json:"mapping_ready"`
	Notes          string             `json:"notes"`
	NotesSaveState SaveState          `json:"notes_save_state"`
}
