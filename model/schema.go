package model

// FieldType is the type tag of a procedure field. Unknown tags are kept as-is
// and rendered as TEXT.
type FieldType string

const (
	FieldText     FieldType = "TEXT"
	FieldNumber   FieldType = "NUMBER"
	FieldBoolean  FieldType = "BOOLEAN"
	FieldSelect   FieldType = "SELECT"
	FieldCountry  FieldType = "COUNTRY"
	FieldCurrency FieldType = "CURRENCY"
)

// ProcedureSchema is one version of a customs procedure. It is immutable once
// fetched.
type ProcedureSchema struct {
	Code    string `json:"code" yaml:"code"`
	Name    string `json:"name,omitempty" yaml:"name,omitempty"`
	Version string `json:"version" yaml:"version"`
	Steps   []Step `json:"steps" yaml:"steps"`
}

// Step groups fields shown together. Key is unique within a schema.
type Step struct {
	Key    string  `json:"key" yaml:"key"`
	Title  string  `json:"title" yaml:"title"`
	Order  int     `json:"order" yaml:"order"`
	Fields []Field `json:"fields" yaml:"fields"`
}

// Field is a single input. Key is unique across the whole schema.
type Field struct {
	Key      string      `json:"key" yaml:"key"`
	Type     FieldType   `json:"type" yaml:"type"`
	Required bool        `json:"required" yaml:"required"`
	Config   FieldConfig `json:"config" yaml:"config"`
	Order    int         `json:"order" yaml:"order"`
}

// FieldConfig is the permissive per-field configuration bag. Interpretation is
// type-dependent; Options is only meaningful for SELECT.
type FieldConfig struct {
	Label       *string  `json:"label,omitempty" yaml:"label,omitempty"`
	Title       *string  `json:"title,omitempty" yaml:"title,omitempty"`
	Placeholder string   `json:"placeholder,omitempty" yaml:"placeholder,omitempty"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	MaxLength   *int     `json:"maxLength,omitempty" yaml:"maxLength,omitempty"`
	Min         *float64 `json:"min,omitempty" yaml:"min,omitempty"`
	Max         *float64 `json:"max,omitempty" yaml:"max,omitempty"`
	Step        *float64 `json:"step,omitempty" yaml:"step,omitempty"`
	Options     []string `json:"options,omitempty" yaml:"options,omitempty"`
	Default     any      `json:"default,omitempty" yaml:"default,omitempty"`
}

// ProcedureSummary is one entry of the procedure catalogue.
type ProcedureSummary struct {
	Code    string `json:"code" yaml:"code"`
	Name    string `json:"name" yaml:"name"`
	Version string `json:"version" yaml:"version"`
}
