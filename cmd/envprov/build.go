// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/runner-service/envprov/internal/container"
	"github.com/runner-service/envprov/internal/observability"
	"github.com/runner-service/envprov/internal/provision"
	"github.com/runner-service/envprov/internal/watch"
	"github.com/runner-service/envprov/pkg/recipe"
)

var (
	errTagsWithManyRecipes = errors.New("--tag can only be used when building a single recipe")
	errWatchWithoutFiles   = errors.New("--watch needs at least one recipe file; presets never change")
)

type (
	buildFlags struct {
		tags         []string
		noCache      bool
		noCheck      bool
		retries      int
		retryBackoff time.Duration
		parallel     int
		watch        bool
		debounce     time.Duration
	}

	// retryingProvisioner retries whole builds that fail with a transient
	// engine error. Completed steps are cached, so a retry resumes at the
	// step that failed.
	retryingProvisioner struct {
		inner    provision.Provisioner
		attempts int
		backoff  time.Duration
		logger   *log.Logger
	}
)

var _ provision.Provisioner = (*retryingProvisioner)(nil)

func newBuildCommand(app *App) *cobra.Command {
	var flags buildFlags

	cmd := &cobra.Command{
		Use:   "build <recipe|preset>...",
		Short: "Build and tag the image for one or more recipes",
		Long: `Build and tag the image for one or more recipes.

Steps run in order: select base, set working directory, install packages
and purge caches, set default command. The image is tagged only after every
step and the pre-publish check succeed. Exit status names the failing step:
2 invalid recipe or default command, 3 base resolution, 4 working directory,
5 package installation.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBuild(cmd, app, args, flags)
		},
	}

	cmd.Flags().StringArrayVarP(&flags.tags, "tag", "t", nil, "tag to apply instead of the default (repeatable)")
	cmd.Flags().BoolVar(&flags.noCache, "no-cache", false, "rebuild every step, ignoring recorded steps")
	cmd.Flags().BoolVar(&flags.noCheck, "no-check", false, "skip the pre-publish default command check")
	cmd.Flags().IntVar(&flags.retries, "retries", 0, "retry builds failing with transient engine errors (default from config)")
	cmd.Flags().DurationVar(&flags.retryBackoff, "retry-backoff", 0, "wait before the first retry, doubled each time (default from config)")
	cmd.Flags().IntVar(&flags.parallel, "parallel", 0, "maximum concurrent builds, 0 for unbounded (default from config)")
	cmd.Flags().BoolVarP(&flags.watch, "watch", "w", false, "rebuild recipe files whenever they change, until interrupted")
	cmd.Flags().DurationVar(&flags.debounce, "watch-debounce", watch.DefaultDebounce, "quiet period before a change triggers a rebuild")

	return cmd
}

func runBuild(cmd *cobra.Command, app *App, args []string, flags buildFlags) error {
	ctx := cmd.Context()

	if len(flags.tags) > 0 && len(args) > 1 {
		return app.fail(cmd, usageError(errTagsWithManyRecipes))
	}
	if flags.watch && !slices.ContainsFunc(args, isRecipeFile) {
		return app.fail(cmd, usageError(errWatchWithoutFiles))
	}

	recipes, err := resolveRecipes(args)
	if err != nil {
		return app.fail(cmd, err)
	}

	s, err := app.newSession(ctx)
	if err != nil {
		return app.fail(cmd, err)
	}

	retries, backoff, parallel := s.cfg.Retries, s.cfg.RetryBackoff, s.cfg.Parallelism
	if cmd.Flags().Changed("retries") {
		retries = flags.retries
	}
	if cmd.Flags().Changed("retry-backoff") {
		backoff = flags.retryBackoff
	}
	if cmd.Flags().Changed("parallel") {
		parallel = flags.parallel
	}
	if retries < 0 || parallel < 0 {
		return app.fail(cmd, usageError(errors.New("--retries and --parallel must not be negative")))
	}

	opts := []provision.Option{provision.WithNoCache(flags.noCache)}
	if flags.noCheck {
		opts = append(opts, provision.WithCheck(false))
	}
	if len(flags.tags) > 0 {
		opts = append(opts, provision.WithTags(flags.tags...))
	}

	p := &retryingProvisioner{
		inner:    s.provisioner,
		attempts: retries + 1,
		backoff:  backoff,
		logger:   app.logger("build", s.level),
	}
	b := &batch{app: app, metricsFile: s.cfg.MetricsFile, provisioner: p, parallel: parallel, opts: opts}

	failed := b.run(ctx, recipes)
	if !flags.watch {
		if failed != nil {
			return app.exit(cmd, failed)
		}
		return nil
	}

	if err := b.watch(ctx, args, flags.debounce, app.logger("watch", s.level)); err != nil {
		return app.fail(cmd, err)
	}
	return nil
}

// batch provisions a set of recipes and reports every outcome.
type batch struct {
	app         *App
	metricsFile string // empty to skip
	provisioner *retryingProvisioner
	parallel    int
	opts        []provision.Option
}

// run returns the first failure after printing all of them.
func (b *batch) run(ctx context.Context, recipes []*recipe.Recipe) error {
	outcomes := provision.ProvisionAll(ctx, b.provisioner, recipes, b.parallel, b.opts...)

	if b.metricsFile != "" {
		if err := observability.WriteTextfile(b.metricsFile); err != nil {
			b.provisioner.logger.Warn("could not write metrics", "file", b.metricsFile, "err", err)
		}
	}

	var failed error
	for _, o := range outcomes {
		if o.Err != nil {
			b.app.printError(o.Err)
			if failed == nil {
				failed = o.Err
			}
			continue
		}
		printBuildResult(b.app, o.Recipe, o.Result)
	}
	return failed
}

// watch rebuilds the recipe files among args as they change. Build failures
// are reported and watching continues; it returns nil once ctx is canceled.
func (b *batch) watch(ctx context.Context, args []string, debounce time.Duration, logger *log.Logger) error {
	files := slices.DeleteFunc(slices.Clone(args), func(arg string) bool { return !isRecipeFile(arg) })

	w, err := watch.New(watch.Config{
		Files:    files,
		Debounce: debounce,
		Logger:   logger,
		OnChange: func(ctx context.Context, changed []string) error {
			recipes, err := resolveRecipes(changed)
			if err != nil {
				b.app.printError(err)
				return nil
			}
			fmt.Fprintf(b.app.stdout, "%s\n", SubtitleStyle.Render("rebuilding after change"))
			if err := b.run(ctx, recipes); err != nil && ctx.Err() == nil {
				logger.Warn("rebuild failed", "recipes", len(recipes))
			}
			return nil
		},
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(b.app.stdout, "%s\n", SubtitleStyle.Render(fmt.Sprintf("watching %d recipe file(s), interrupt to stop", len(files))))
	return w.Run(ctx)
}

func printBuildResult(app *App, r *recipe.Recipe, res *provision.Result) {
	var total time.Duration
	for _, st := range res.Steps {
		total += st.Duration
	}
	fmt.Fprintf(app.stdout, "%s %s %s\n",
		SuccessStyle.Render("✓"),
		TitleStyle.Render(r.DisplayName()),
		VerboseStyle.Render(fmt.Sprintf("(%d steps, %d cached, %s)",
			len(res.Steps), res.CachedSteps(), total.Round(time.Millisecond))),
	)
	for _, tag := range res.Tags {
		fmt.Fprintf(app.stdout, "  %s\n", CmdStyle.Render(tag))
	}
}

// Provision runs the inner provisioner until it succeeds, fails with a
// non-transient error or runs out of attempts.
func (p *retryingProvisioner) Provision(ctx context.Context, r *recipe.Recipe, opts ...provision.Option) (*provision.Result, error) {
	var res *provision.Result
	err := container.RetryWithBackoff(ctx, p.attempts, p.backoff, func(attempt int) (bool, error) {
		if attempt > 0 {
			p.logger.Warn("retrying build", "recipe", r.DisplayName(), "attempt", attempt+1, "of", p.attempts)
		}
		var err error
		res, err = p.inner.Provision(ctx, r, opts...)
		return provision.IsTransient(err), err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}
