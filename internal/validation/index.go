package validation

import "github.com/pitabwire/casewizard/model"

// Index is an immutable view over one validation result.
type Index struct {
	errors  []model.ValidationError
	byField map[string]string
	byStep  map[string]int
}

// StepResolver maps a field key to the key of the step that owns it.
type StepResolver func(fieldKey string) (string, bool)

// NewIndex builds the lookups. The first error for a field wins. An error
// that names a field but no step is attributed to the step stepOf reports.
func NewIndex(errs []model.ValidationError, stepOf StepResolver) *Index {
	idx := &Index{
		errors:  append([]model.ValidationError(nil), errs...),
		byField: make(map[string]string, len(errs)),
		byStep:  make(map[string]int),
	}
	for i := range idx.errors {
		e := &idx.errors[i]
		if e.StepKey == "" && e.FieldKey != "" && stepOf != nil {
			if step, ok := stepOf(e.FieldKey); ok {
				e.StepKey = step
			}
		}
		if e.FieldKey != "" {
			if _, seen := idx.byField[e.FieldKey]; !seen {
				idx.byField[e.FieldKey] = e.Message
			}
		}
		idx.byStep[e.StepKey]++
	}
	return idx
}

// FieldError returns the first message reported for fieldKey.
func (idx *Index) FieldError(fieldKey string) (string, bool) {
	msg, ok := idx.byField[fieldKey]
	return msg, ok
}

// StepCount returns the number of errors reported for stepKey.
func (idx *Index) StepCount(stepKey string) int {
	return idx.byStep[stepKey]
}

// Len returns the total number of errors.
func (idx *Index) Len() int { return len(idx.errors) }

// Errors returns a copy of the raw error list.
func (idx *Index) Errors() []model.ValidationError {
	return append([]model.ValidationError(nil), idx.errors...)
}
