// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/runner-service/envprov/internal/config"
	"github.com/runner-service/envprov/internal/container"
	"github.com/runner-service/envprov/internal/issue"
	"github.com/runner-service/envprov/internal/layercache"
	"github.com/runner-service/envprov/internal/observability"
	"github.com/runner-service/envprov/internal/provision"
)

// defaultGuideStyle is the glamour style used for troubleshooting guides.
const defaultGuideStyle = "dark"

type (
	// EngineFactory returns a container engine, preferring the given type.
	EngineFactory func(preferred container.EngineType) (container.Engine, error)

	// App wires CLI services and shared dependencies. Every command handler
	// receives an App and reads configuration and the engine through it.
	App struct {
		Config     config.Provider
		NewEngine  EngineFactory
		stdout     io.Writer
		stderr     io.Writer
		guideStyle string
		buildDir   string

		// global flag values; empty means "use configuration"
		verbose     bool
		cfgFile     string
		engineName  string
		logLevel    string
		metricsFile string
	}

	// Dependencies defines the injection points for building an App. Nil
	// fields are replaced with production defaults by NewApp.
	Dependencies struct {
		Config     config.Provider
		NewEngine  EngineFactory
		Stdout     io.Writer
		Stderr     io.Writer
		GuideStyle string
		// BuildContextDir is where per-step build contexts are created;
		// empty selects the provisioner default.
		BuildContextDir string
	}

	// session holds the services one command invocation needs.
	session struct {
		cfg         *config.Config
		cfgPath     string
		level       log.Level
		engine      container.Engine
		store       *layercache.FileStore
		provisioner *provision.LayerProvisioner
	}
)

// NewApp creates an App, filling unset dependencies with production defaults.
func NewApp(deps Dependencies) *App {
	app := &App{
		Config:     deps.Config,
		NewEngine:  deps.NewEngine,
		stdout:     deps.Stdout,
		stderr:     deps.Stderr,
		guideStyle: deps.GuideStyle,
		buildDir:   deps.BuildContextDir,
	}
	if app.Config == nil {
		app.Config = config.NewProvider()
	}
	if app.NewEngine == nil {
		app.NewEngine = func(preferred container.EngineType) (container.Engine, error) {
			return container.NewEngine(preferred)
		}
	}
	if app.stdout == nil {
		app.stdout = os.Stdout
	}
	if app.stderr == nil {
		app.stderr = os.Stderr
	}
	if app.guideStyle == "" {
		app.guideStyle = defaultGuideStyle
	}
	return app
}

// loadConfig loads the configuration and applies global flag overrides.
func (a *App) loadConfig(ctx context.Context) (*config.Config, string, error) {
	cfg, path, err := a.Config.Load(ctx, config.LoadOptions{ConfigFilePath: a.cfgFile})
	if err != nil {
		return nil, "", err
	}

	if a.engineName != "" {
		cfg.ContainerEngine = config.ContainerEngine(a.engineName)
	}
	switch {
	case a.logLevel != "":
		cfg.LogLevel = config.LogLevel(a.logLevel)
	case a.verbose:
		cfg.LogLevel = config.LogLevelDebug
	}
	if a.metricsFile != "" {
		cfg.MetricsFile = a.metricsFile
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", issue.NewErrorContext().
			WithOperation("apply command-line overrides").
			WithGuide(issue.ConfigLoadFailedId).
			WithSuggestion("Check the values passed to --engine and --log-level").
			Wrap(err).
			BuildError()
	}
	return cfg, path, nil
}

// logger returns a component logger writing to stderr.
func (a *App) logger(component string, level log.Level) *log.Logger {
	return observability.NewLogger(a.stderr, component, level)
}

// openStore loads configuration and opens the step cache without touching
// the container engine.
func (a *App) openStore(ctx context.Context) (*session, error) {
	cfg, path, err := a.loadConfig(ctx)
	if err != nil {
		return nil, err
	}
	level, err := observability.ParseLevel(cfg.LogLevel.String())
	if err != nil {
		return nil, err
	}
	return &session{
		cfg:     cfg,
		cfgPath: path,
		level:   level,
		store:   layercache.NewFileStore(cfg.CacheDir, a.logger("layercache", level)),
	}, nil
}

// newSession loads configuration, selects the engine and builds the provisioner.
func (a *App) newSession(ctx context.Context) (*session, error) {
	s, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}

	engine, err := a.NewEngine(container.EngineType(s.cfg.ContainerEngine))
	if err != nil {
		return nil, engineNotFoundError(s.cfg.ContainerEngine, err)
	}
	s.engine = engine

	pcfg := provision.DefaultConfig()
	pcfg.TagPrefix = s.cfg.TagPrefix
	if s.cfg.TagSuffix != "" {
		pcfg.TagSuffix = s.cfg.TagSuffix
	}
	pcfg.Check = s.cfg.Check
	pcfg.BuildContextDir = a.buildDir
	if a.verbose {
		pcfg.Output = a.stderr
	}

	s.provisioner = provision.NewLayerProvisioner(engine, pcfg,
		provision.WithStore(s.store),
		provision.WithLogger(a.logger("provision", s.level)),
	)
	return s, nil
}

// printError writes err and, when one is linked, its troubleshooting guide.
// Joined errors are reported one by one.
func (a *App) printError(err error) {
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		for _, e := range joined.Unwrap() {
			a.printError(e)
		}
		return
	}

	fmt.Fprintln(a.stderr, ErrorStyle.Render("Error: ")+formatErrorForDisplay(err, a.verbose))

	id, ok := issue.GuideFor(err)
	if !ok {
		return
	}
	guide := issue.Get(id)
	if guide == nil {
		return
	}
	rendered, renderErr := guide.Render(a.guideStyle)
	if renderErr != nil {
		return
	}
	fmt.Fprint(a.stderr, rendered)
}

// exit converts err into an ExitError carrying the status for its kind.
// The caller has already reported err, so cobra and fang are silenced.
func (a *App) exit(cmd *cobra.Command, err error) error {
	cmd.SilenceErrors = true
	cmd.SilenceUsage = true
	return &ExitError{Code: provision.ExitCodeFor(err), Err: err}
}

// fail reports err and returns the matching ExitError.
func (a *App) fail(cmd *cobra.Command, err error) error {
	a.printError(err)
	return a.exit(cmd, err)
}

// formatErrorForDisplay formats an error for user display.
// ActionableErrors use their own formatting; verbose mode shows the full chain.
func formatErrorForDisplay(err error, verboseMode bool) string {
	var ae *issue.ActionableError
	if errors.As(err, &ae) {
		return ae.Format(verboseMode)
	}
	return err.Error()
}

func engineNotFoundError(preferred config.ContainerEngine, cause error) error {
	return issue.NewErrorContext().
		WithOperation("select container engine").
		WithResource(preferred.String()).
		WithGuide(issue.ContainerEngineNotFoundId).
		WithSuggestions(
			"Install docker or podman and make sure its daemon or socket is running",
			"Pick the other engine with --engine or container_engine in config.cue",
		).
		Wrap(cause).
		BuildError()
}

// usageError reports an invalid flag combination. It exits with the
// validation status.
func usageError(cause error) error {
	return issue.NewErrorContext().
		WithOperation("parse flags").
		Wrap(fmt.Errorf("%w: %w", provision.ErrValidation, cause)).
		BuildError()
}
