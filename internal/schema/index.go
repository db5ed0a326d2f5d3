// Package schema turns a procedure schema payload into the sorted, indexed,
// immutable model the wizard works against, and caches the procedure
// catalogue across sessions.
package schema

import (
	"fmt"
	"sort"

	"github.com/pitabwire/casewizard/model"
)

// Problem is a structural defect found while indexing a schema. Problems are
// never fatal: the offending entry is skipped and the first occurrence wins.
type Problem struct {
	StepKey  string
	FieldKey string
	Message  string
}

func (p Problem) String() string {
	switch {
	case p.FieldKey != "":
		return fmt.Sprintf("step %q field %q: %s", p.StepKey, p.FieldKey, p.Message)
	case p.StepKey != "":
		return fmt.Sprintf("step %q: %s", p.StepKey, p.Message)
	default:
		return p.Message
	}
}

// Index is the immutable view of one ProcedureSchema: steps sorted by order,
// fields sorted by order within each step, and O(1) lookups from field key to
// field and owning step.
type Index struct {
	code    string
	name    string
	version string

	steps     []model.Step
	stepPos   map[string]int
	fieldStep map[string]string
	fields    map[string]model.Field
	problems  []Problem
}

// New builds an Index from a raw schema payload. The payload is copied; later
// changes to raw do not affect the Index.
func New(raw model.ProcedureSchema) *Index {
	idx := &Index{
		code:      raw.Code,
		name:      raw.Name,
		version:   raw.Version,
		stepPos:   make(map[string]int, len(raw.Steps)),
		fieldStep: make(map[string]string),
		fields:    make(map[string]model.Field),
	}

	steps := make([]model.Step, len(raw.Steps))
	copy(steps, raw.Steps)
	sort.SliceStable(steps, func(i, j int) bool { return steps[i].Order < steps[j].Order })

	for _, st := range steps {
		if st.Key == "" {
			idx.problems = append(idx.problems, Problem{Message: "step with empty key skipped"})
			continue
		}
		if _, dup := idx.stepPos[st.Key]; dup {
			idx.problems = append(idx.problems, Problem{StepKey: st.Key, Message: "duplicate step key skipped"})
			continue
		}

		fields := make([]model.Field, 0, len(st.Fields))
		for _, f := range st.Fields {
			switch {
			case f.Key == "":
				idx.problems = append(idx.problems, Problem{StepKey: st.Key, Message: "field with empty key skipped"})
				continue
			case idx.fieldStep[f.Key] != "":
				idx.problems = append(idx.problems, Problem{
					StepKey:  st.Key,
					FieldKey: f.Key,
					Message:  fmt.Sprintf("duplicate field key (already in step %q) skipped", idx.fieldStep[f.Key]),
				})
				continue
			}
			if !KnownType(f.Type) {
				idx.problems = append(idx.problems, Problem{
					StepKey:  st.Key,
					FieldKey: f.Key,
					Message:  fmt.Sprintf("unknown field type %q rendered as TEXT", f.Type),
				})
			}
			if f.Type == model.FieldSelect && len(f.Config.Options) == 0 {
				idx.problems = append(idx.problems, Problem{
					StepKey:  st.Key,
					FieldKey: f.Key,
					Message:  "SELECT field has no options",
				})
			}
			idx.fieldStep[f.Key] = st.Key
			idx.fields[f.Key] = f
			fields = append(fields, f)
		}
		sort.SliceStable(fields, func(i, j int) bool { return fields[i].Order < fields[j].Order })

		st.Fields = fields
		idx.stepPos[st.Key] = len(idx.steps)
		idx.steps = append(idx.steps, st)
	}

	return idx
}

// KnownType reports whether t is one of the field types the renderer handles
// natively.
func KnownType(t model.FieldType) bool {
	switch t {
	case model.FieldText, model.FieldNumber, model.FieldBoolean,
		model.FieldSelect, model.FieldCountry, model.FieldCurrency:
		return true
	}
	return false
}

// Code returns the procedure code.
func (idx *Index) Code() string { return idx.code }

// Summary returns the catalogue entry for this schema.
func (idx *Index) Summary() model.ProcedureSummary {
	return model.ProcedureSummary{Code: idx.code, Name: idx.name, Version: idx.version}
}

// Len returns the number of steps.
func (idx *Index) Len() int { return len(idx.steps) }

// Steps returns the sorted steps. Callers must not modify the result.
func (idx *Index) Steps() []model.Step { return idx.steps }

// Step returns the step at position i.
func (idx *Index) Step(i int) (model.Step, bool) {
	if i < 0 || i >= len(idx.steps) {
		return model.Step{}, false
	}
	return idx.steps[i], true
}

// StepIndex returns the position of the step with the given key.
func (idx *Index) StepIndex(key string) (int, bool) {
	i, ok := idx.stepPos[key]
	return i, ok
}

// StepOf returns the key of the step owning fieldKey.
func (idx *Index) StepOf(fieldKey string) (string, bool) {
	k, ok := idx.fieldStep[fieldKey]
	return k, ok
}

// Field returns the field definition for key.
func (idx *Index) Field(key string) (model.Field, bool) {
	f, ok := idx.fields[key]
	return f, ok
}

// Fields returns every field in display order: by step, then by field order.
func (idx *Index) Fields() []model.Field {
	out := make([]model.Field, 0, len(idx.fields))
	for _, st := range idx.steps {
		out = append(out, st.Fields...)
	}
	return out
}

// Problems returns the structural defects found while indexing.
func (idx *Index) Problems() []Problem { return idx.problems }
