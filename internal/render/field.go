package render

import "github.com/pitabwire/casewizard/model"

// State is the per-field runtime state merged into a descriptor.
type State struct {
	Value     any
	Present   bool
	Disabled  bool
	Error     string
	SaveState model.SaveState
	Pending   bool
}

// Label resolves the display label: config title, then config label, then
// key. A title or label that is present but empty still wins.
func Label(f model.Field) string {
	switch {
	case f.Config.Title != nil:
		return *f.Config.Title
	case f.Config.Label != nil:
		return *f.Config.Label
	default:
		return f.Key
	}
}

// Render builds the descriptor for f. When no value is present the configured
// default is shown without being stored.
func Render(f model.Field, st State) model.FieldDescriptor {
	k := KindOf(f.Type)

	stored := st.Value
	if !st.Present {
		stored = f.Config.Default
	}

	save := st.SaveState
	if save == "" {
		save = model.SaveIdle
	}

	d := model.FieldDescriptor{
		Key:         f.Key,
		Type:        k.Type,
		Widget:      k.Widget,
		Label:       Label(f),
		Required:    f.Required,
		Placeholder: f.Config.Placeholder,
		Description: f.Config.Description,
		Value:       k.CoerceOut(f, stored),
		Disabled:    st.Disabled,
		Error:       st.Error,
		Invalid:     st.Error != "",
		SaveState:   save,
		Pending:     st.Pending,
	}

	switch k.Type {
	case model.FieldText:
		d.MaxLength = f.Config.MaxLength
	case model.FieldNumber:
		d.Min, d.Max, d.Step = f.Config.Min, f.Config.Max, f.Config.Step
	}
	if k.Options != nil {
		d.Options = k.Options(f)
	}
	return d
}
