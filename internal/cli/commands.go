package cli

import (
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/pitabwire/casewizard/internal/wizard"
	"github.com/pitabwire/casewizard/model"
)

func newProceduresCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "procedures",
		Short: "List the procedures a case can be bound to",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := a.context(cmd)
			defer cancel()

			list, err := a.api.ListProcedures(ctx, a.requestContext())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if a.asJSON {
				return printJSON(out, list)
			}
			if len(list) == 0 {
				fmt.Fprintln(out, "No procedures available")
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, titleColor.Sprint("CODE")+"\t"+titleColor.Sprint("NAME")+"\t"+titleColor.Sprint("VERSION"))
			for _, p := range list {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", p.Code, p.Name, p.Version)
			}
			return tw.Flush()
		},
	}
}

func newShowCmd(a *app) *cobra.Command {
	var step string
	cmd := &cobra.Command{
		Use:   "show <case-id>",
		Short: "Show a case the way the wizard presents it",
		Long: `Show a case the way the wizard presents it.

Without --step the session resumes at the last step recorded for the
subject, or the first step.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd, args[0], func(s *wizard.Session) (model.WizardView, error) {
				if step != "" {
					return s.GoToStep(cmd.Context(), step)
				}
				return s.View(), nil
			})
		},
	}
	cmd.Flags().StringVar(&step, "step", "", "step key to show")
	return cmd
}

func newSetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "set <case-id> <field>=<value>...",
		Short: "Set field values and save them",
		Long: `Set field values and save them.

Values are given as text and converted by field type. A number that does
not parse clears the field, booleans accept true/false/yes/no and
selections must be one of the allowed options. An empty value clears the
field.`,
		Example: `  casectl set case-42 consignee_name="ACME GmbH" weight_kg=12.5`,
		Args:    cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			assignments, err := parseAssignments(args[1:])
			if err != nil {
				return err
			}
			errOut := cmd.ErrOrStderr()
			return a.withSession(cmd, args[0], func(s *wizard.Session) (model.WizardView, error) {
				var rejected int
				for _, kv := range assignments {
					if _, err := s.Edit(cmd.Context(), kv.key, kv.value); err != nil {
						switch model.CodeOf(err) {
						case model.ErrCaseReadonly, model.ErrNoProcedureBound:
							return model.WizardView{}, err
						}
						errColor.Fprintf(errOut, "%s: %s\n", kv.key, model.AsEnvelope(err).Message)
						rejected++
					}
				}
				v, err := s.Flush(cmd.Context())
				if err != nil {
					return v, err
				}
				if rejected > 0 {
					return v, fmt.Errorf("%d of %d value(s) rejected", rejected, len(assignments))
				}
				return v, nil
			})
		},
	}
}

func newNotesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "notes <case-id> <text>",
		Short: "Replace the case notes",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd, args[0], func(s *wizard.Session) (model.WizardView, error) {
				if _, err := s.EditNotes(cmd.Context(), args[1]); err != nil {
					return model.WizardView{}, err
				}
				return s.Flush(cmd.Context())
			})
		},
	}
}

func newBindCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "bind <case-id> <procedure-code>",
		Short: "Bind a procedure to a case that has none",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd, args[0], func(s *wizard.Session) (model.WizardView, error) {
				v, err := s.BindProcedure(cmd.Context(), args[1])
				if err != nil {
					return v, err
				}
				if b, ok := banner(v, model.BannerError); ok {
					return v, errors.New(b.Message)
				}
				return v, nil
			})
		},
	}
}

func newValidateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <case-id>",
		Short: "Validate a case and report errors per step",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd, args[0], func(s *wizard.Session) (model.WizardView, error) {
				v, err := s.Validate(cmd.Context())
				if err != nil {
					return v, err
				}
				if v.ErrorCount > 0 {
					return v, fmt.Errorf("%d validation error(s)", v.ErrorCount)
				}
				return v, nil
			})
		},
	}
}

func newSubmitCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "submit <case-id>",
		Short: "Submit a case for declaration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd, args[0], func(s *wizard.Session) (model.WizardView, error) {
				v, err := s.Submit(cmd.Context())
				if err != nil {
					return v, err
				}
				for _, kind := range []string{model.BannerSubmitBlocked, model.BannerCaseInvalid, model.BannerError} {
					if b, ok := banner(v, kind); ok {
						return v, errors.New(b.Message)
					}
				}
				okColor.Fprintf(cmd.OutOrStdout(), "Case %s submitted, status %s\n", v.CaseID, v.Status)
				return v, nil
			})
		},
	}
}

// withSession opens a session on caseID, runs op and prints the resulting
// view. The view is printed even when op fails so banners and field errors
// are visible.
func (a *app) withSession(cmd *cobra.Command, caseID string, op func(*wizard.Session) (model.WizardView, error)) error {
	ctx, cancel := a.context(cmd)
	defer cancel()
	cmd.SetContext(ctx)

	s, err := a.open(ctx, caseID)
	if err != nil {
		return err
	}
	defer s.Close()

	v, opErr := op(s)
	if v.SessionID == "" {
		v = s.View()
	}

	out := cmd.OutOrStdout()
	if a.asJSON {
		if err := printJSON(out, v); err != nil {
			return err
		}
	} else {
		printView(out, v)
	}
	return opErr
}

type assignment struct {
	key   string
	value string
}

func parseAssignments(args []string) ([]assignment, error) {
	out := make([]assignment, 0, len(args))
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid assignment %q, want field=value", arg)
		}
		out = append(out, assignment{key: key, value: value})
	}
	return out, nil
}

func banner(v model.WizardView, kind string) (model.Banner, bool) {
	for _, b := range v.Banners {
		if b.Kind == kind {
			return b, true
		}
	}
	return model.Banner{}, false
}
