// Package cli implements casectl, a command line client that drives wizard
// sessions headlessly against the case service or a fixture directory.
package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pitabwire/casewizard/internal/clock"
	"github.com/pitabwire/casewizard/internal/config"
	"github.com/pitabwire/casewizard/internal/fixture"
	"github.com/pitabwire/casewizard/internal/remote"
	"github.com/pitabwire/casewizard/internal/wizard"
	"github.com/pitabwire/casewizard/model"
)

// TokenEnv is read when --token is not given.
const TokenEnv = "CASEWIZARD_TOKEN"

// Options configure the root command. API, when set, replaces backend
// selection from flags.
type Options struct {
	Version string
	API     model.CaseAPI
}

type app struct {
	opts Options

	configPath string
	baseURL    string
	fixtures   string
	token      string
	subject    string
	timeout    time.Duration
	asJSON     bool
	noColor    bool
	verbose    bool

	cfg    *config.Config
	api    model.CaseAPI
	logger *zap.Logger
}

// NewRootCmd creates the root command with all subcommands.
func NewRootCmd(opts Options) *cobra.Command {
	a := &app{opts: opts}

	rootCmd := &cobra.Command{
		Use:   "casectl",
		Short: "Work on customs declaration cases from the command line",
		Long: `casectl opens a wizard session on a case, applies the requested
operation and saves pending edits before it exits.

Cases are read from the remote case service (--base-url or --config), or
from a fixture directory (--fixtures).`,
		Version:           opts.Version,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error { return a.setup() },
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "server configuration file to take the backend settings from")
	flags.StringVar(&a.baseURL, "base-url", "", "case service base URL")
	flags.StringVar(&a.fixtures, "fixtures", "", "serve cases from this fixture directory instead of the case service")
	flags.StringVar(&a.token, "token", "", "bearer token forwarded to the case service (default $"+TokenEnv+")")
	flags.StringVar(&a.subject, "subject", "casectl", "owner recorded for the resume position")
	flags.DurationVar(&a.timeout, "timeout", 30*time.Second, "overall timeout per command")
	flags.BoolVar(&a.asJSON, "json", false, "print the resulting view as JSON")
	flags.BoolVar(&a.noColor, "no-color", false, "disable colored output")
	flags.BoolVarP(&a.verbose, "verbose", "v", false, "log session activity to stderr")

	rootCmd.AddCommand(newProceduresCmd(a))
	rootCmd.AddCommand(newShowCmd(a))
	rootCmd.AddCommand(newSetCmd(a))
	rootCmd.AddCommand(newNotesCmd(a))
	rootCmd.AddCommand(newBindCmd(a))
	rootCmd.AddCommand(newValidateCmd(a))
	rootCmd.AddCommand(newSubmitCmd(a))

	return rootCmd
}

func (a *app) setup() error {
	if a.noColor {
		color.NoColor = true
	}
	if a.token == "" {
		a.token = os.Getenv(TokenEnv)
	}

	a.logger = zap.NewNop()
	if a.verbose {
		l, err := zap.NewDevelopment()
		if err != nil {
			return err
		}
		a.logger = l
	}

	a.cfg = config.Defaults()
	if a.configPath != "" {
		cfg, err := config.Load(a.configPath)
		if err != nil {
			return err
		}
		a.cfg = cfg
	}
	if a.baseURL != "" {
		a.cfg.Backend.Driver = config.BackendRemote
		a.cfg.Remote.BaseURL = a.baseURL
	}
	if a.fixtures != "" {
		a.cfg.Backend.Driver = config.BackendFixture
		a.cfg.Fixtures.Directory = a.fixtures
	}

	api, err := a.backend()
	if err != nil {
		return err
	}
	a.api = api
	return nil
}

func (a *app) backend() (model.CaseAPI, error) {
	if a.opts.API != nil {
		return a.opts.API, nil
	}
	if a.cfg.Backend.Driver == config.BackendFixture {
		set, err := fixture.LoadDir(a.cfg.Fixtures.Directory)
		if err != nil {
			return nil, err
		}
		return fixture.NewBackend(set), nil
	}
	if a.token == "" {
		return nil, fmt.Errorf("a bearer token is required: pass --token or set %s", TokenEnv)
	}
	return remote.New(remote.Options{Config: a.cfg.Remote, Logger: a.logger})
}

func (a *app) context(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), a.timeout)
}

func (a *app) requestContext() *model.RequestContext {
	return &model.RequestContext{
		SubjectID: a.subject,
		Token:     a.token,
	}
}

// open starts a session on caseID. The caller must Close it.
func (a *app) open(ctx context.Context, caseID string) (*wizard.Session, error) {
	deps := wizard.Deps{
		API:    a.api,
		Clock:  clock.Real{},
		Logger: a.logger,
		Timing: wizard.Timing{
			FieldDebounce: a.cfg.Autosave.FieldDebounce,
			NotesDebounce: a.cfg.Autosave.NotesDebounce,
			SavedDisplay:  a.cfg.Autosave.SavedDisplay,
		},
	}
	return wizard.Open(ctx, deps, a.requestContext(), caseID)
}
