// Package render resolves procedure fields into display descriptors and
// coerces raw user input into stored values. Behaviour is selected from a
// dispatch table keyed by field type; unknown types use the TEXT entry.
package render

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/pitabwire/casewizard/model"
)

// Widgets.
const (
	WidgetText     = "text"
	WidgetNumber   = "number"
	WidgetCheckbox = "checkbox"
	WidgetSelect   = "select"
)

// Kind is the capability set of one field type.
type Kind struct {
	Type   model.FieldType
	Widget string

	// CoerceIn converts raw user input into the value stored and persisted.
	CoerceIn func(f model.Field, raw any) (any, error)

	// CoerceOut converts a stored value into the value shown by the widget.
	CoerceOut func(f model.Field, stored any) any

	// Options lists the closed choice set, or nil for free input.
	Options func(f model.Field) []model.OptionDescriptor
}

var kinds = map[model.FieldType]Kind{
	model.FieldText: {
		Type:      model.FieldText,
		Widget:    WidgetText,
		CoerceIn:  func(_ model.Field, raw any) (any, error) { return textIn(raw), nil },
		CoerceOut: func(_ model.Field, stored any) any { return textOut(stored) },
	},
	model.FieldNumber: {
		Type:      model.FieldNumber,
		Widget:    WidgetNumber,
		CoerceIn:  func(_ model.Field, raw any) (any, error) { return numberValue(raw), nil },
		CoerceOut: func(_ model.Field, stored any) any { return numberValue(stored) },
	},
	model.FieldBoolean: {
		Type:      model.FieldBoolean,
		Widget:    WidgetCheckbox,
		CoerceIn:  func(_ model.Field, raw any) (any, error) { return checkedIn(raw), nil },
		CoerceOut: func(_ model.Field, stored any) any { return Truthy(stored) },
	},
	model.FieldSelect:   choiceKind(model.FieldSelect, selectOptions),
	model.FieldCountry:  choiceKind(model.FieldCountry, func(model.Field) []model.OptionDescriptor { return Countries }),
	model.FieldCurrency: choiceKind(model.FieldCurrency, func(model.Field) []model.OptionDescriptor { return Currencies }),
}

// KindOf returns the dispatch entry for t, falling back to TEXT.
func KindOf(t model.FieldType) Kind {
	if k, ok := kinds[t]; ok {
		return k
	}
	return kinds[model.FieldText]
}

// CoerceIn converts raw input for f. It only fails when a choice field
// receives a value outside its option set.
func CoerceIn(f model.Field, raw any) (any, error) {
	return KindOf(f.Type).CoerceIn(f, raw)
}

// CoerceOut converts a stored value of f for display.
func CoerceOut(f model.Field, stored any) any {
	return KindOf(f.Type).CoerceOut(f, stored)
}

// FormatNumber serialises a number the way a number input displays it.
func FormatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func choiceKind(t model.FieldType, options func(model.Field) []model.OptionDescriptor) Kind {
	return Kind{
		Type:    t,
		Widget:  WidgetSelect,
		Options: options,
		CoerceIn: func(f model.Field, raw any) (any, error) {
			v := choiceValue(raw)
			if v == nil {
				return nil, nil
			}
			if !hasOption(options(f), v.(string)) {
				return nil, model.NewBadRequestError(
					fmt.Sprintf("%q is not an allowed value for %s", v, f.Key),
				)
			}
			return v, nil
		},
		CoerceOut: func(_ model.Field, stored any) any { return choiceValue(stored) },
	}
}

func selectOptions(f model.Field) []model.OptionDescriptor {
	out := make([]model.OptionDescriptor, 0, len(f.Config.Options))
	for _, o := range f.Config.Options {
		out = append(out, model.OptionDescriptor{Label: o, Value: o})
	}
	return out
}

func hasOption(options []model.OptionDescriptor, v string) bool {
	for _, o := range options {
		if o.Value == v {
			return true
		}
	}
	return false
}

// textIn passes strings through; the empty string is a legitimate value.
func textIn(raw any) any {
	switch v := raw.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return scalarString(v)
	}
}

func textOut(stored any) any {
	switch v := stored.(type) {
	case nil:
		return nil
	case string:
		return v
	default:
		return scalarString(v)
	}
}

// numberValue maps empty, unparsable and non-finite input to nil.
func numberValue(raw any) any {
	var f float64
	switch v := raw.(type) {
	case nil:
		return nil
	case float64:
		f = v
	case float32:
		f = float64(v)
	case int:
		f = float64(v)
	case int64:
		f = float64(v)
	case json.Number:
		parsed, err := v.Float64()
		if err != nil {
			return nil
		}
		f = parsed
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return nil
		}
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil
		}
		f = parsed
	default:
		return nil
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return f
}

// checkedIn reads a checkbox submission.
func checkedIn(raw any) bool {
	switch v := raw.(type) {
	case bool:
		return v
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "on", "1", "yes":
			return true
		}
		return false
	default:
		return Truthy(v)
	}
}

// Truthy applies loose truthiness: nil, false, zero, NaN and "" are false,
// everything else is true.
func Truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case string:
		return x != ""
	case float64:
		return x != 0 && !math.IsNaN(x)
	case float32:
		return x != 0 && !math.IsNaN(float64(x))
	case int:
		return x != 0
	case int64:
		return x != 0
	case json.Number:
		f, err := x.Float64()
		return err == nil && f != 0
	default:
		return true
	}
}

// choiceValue maps the empty selection to nil, never "".
func choiceValue(raw any) any {
	switch v := raw.(type) {
	case nil:
		return nil
	case string:
		if v == "" {
			return nil
		}
		return v
	default:
		s := scalarString(v)
		if s == "" {
			return nil
		}
		return s
	}
}

func scalarString(v any) string {
	switch x := v.(type) {
	case float64:
		return FormatNumber(x)
	case bool:
		return strconv.FormatBool(x)
	default:
		return fmt.Sprint(x)
	}
}
