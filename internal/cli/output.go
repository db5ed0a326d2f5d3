package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/pitabwire/casewizard/internal/render"
	"github.com/pitabwire/casewizard/model"
)

var (
	okColor    = color.New(color.FgGreen)
	warnColor  = color.New(color.FgYellow)
	errColor   = color.New(color.FgRed)
	dimColor   = color.New(color.Faint)
	titleColor = color.New(color.Bold)
	stepColor  = color.New(color.FgCyan)
)

// PrintError writes err to w, including the error code when there is one.
func PrintError(w io.Writer, err error) {
	ee := model.AsEnvelope(err)
	if ee.Code == model.ErrInternalError {
		errColor.Fprintf(w, "Error: %v\n", err)
		return
	}
	errColor.Fprintf(w, "Error [%s]: %s\n", ee.Code, ee.Message)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func statusColor(st model.CaseStatus) *color.Color {
	switch st {
	case model.CaseDraft, model.CaseInProcess:
		return okColor
	case model.CasePrepared:
		return stepColor
	default:
		return warnColor
	}
}

func saveStateText(st model.SaveState) string {
	switch st {
	case model.SaveSaving:
		return warnColor.Sprint("saving")
	case model.SaveSaved:
		return okColor.Sprint("saved")
	case model.SaveError:
		return errColor.Sprint("save failed")
	default:
		return ""
	}
}

func stepMarker(st model.StepState) string {
	switch st {
	case model.StepComplete:
		return okColor.Sprint("✓")
	case model.StepError, model.StepActiveError:
		return errColor.Sprint("!")
	case model.StepActive:
		return stepColor.Sprint("●")
	default:
		return dimColor.Sprint("○")
	}
}

// printView renders the session view the way the wizard page lays it out:
// header, banners, stepper, then the fields of the current step.
func printView(w io.Writer, v model.WizardView) {
	header := fmt.Sprintf("Case %s", v.CaseID)
	fmt.Fprintf(w, "%s  %s", titleColor.Sprint(header), statusColor(v.Status).Sprint(v.Status))
	if v.Readonly {
		fmt.Fprintf(w, "  %s", warnColor.Sprint("[read-only]"))
	}
	fmt.Fprintln(w)
	if v.Procedure != nil {
		fmt.Fprintf(w, "Procedure: %s (%s v%s)\n", v.Procedure.Name, v.Procedure.Code, v.Procedure.Version)
	}

	for _, b := range v.Banners {
		c := warnColor
		if b.Blocking {
			c = errColor
		}
		fmt.Fprintf(w, "%s %s\n", c.Sprintf("[%s]", b.Kind), b.Message)
	}

	switch v.Mode {
	case model.ModeSelectProcedure:
		fmt.Fprintln(w, "No procedure is bound. Available procedures:")
		for _, p := range v.Procedures {
			fmt.Fprintf(w, "  %-12s %s\n", p.Code, p.Name)
		}
		return
	case model.ModeExited:
		return
	}

	fmt.Fprintln(w)
	for _, s := range v.Steps {
		line := fmt.Sprintf("%s %d. %s", stepMarker(s.State), s.Index+1, s.Title)
		if s.ErrorCount > 0 {
			line += errColor.Sprintf(" (%d)", s.ErrorCount)
		}
		fmt.Fprintln(w, line)
	}

	fmt.Fprintln(w)
	for _, f := range v.Fields {
		printField(w, f)
	}
	if v.Notes != "" {
		fmt.Fprintf(w, "\nNotes: %s %s\n", v.Notes, saveStateText(v.NotesSaveState))
	}
}

func printField(w io.Writer, f model.FieldDescriptor) {
	req := " "
	if f.Required {
		req = "*"
	}
	fmt.Fprintf(w, "%s %-24s %s", req, f.Key, displayValue(f))
	if s := saveStateText(f.SaveState); s != "" {
		fmt.Fprintf(w, "  %s", s)
	}
	fmt.Fprintln(w)
	if f.Error != "" {
		fmt.Fprintf(w, "    %s\n", errColor.Sprint(f.Error))
	}
}

func displayValue(f model.FieldDescriptor) string {
	switch v := f.Value.(type) {
	case nil:
		return dimColor.Sprint("-")
	case string:
		if v == "" {
			return dimColor.Sprint("-")
		}
		return v
	case bool:
		if v {
			return "yes"
		}
		return "no"
	case float64:
		return render.FormatNumber(v)
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}
