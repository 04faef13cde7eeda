// SPDX-License-Identifier: MPL-2.0

package provision

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/singleflight"

	"github.com/runner-service/envprov/internal/container"
	"github.com/runner-service/envprov/internal/layercache"
	"github.com/runner-service/envprov/internal/observability"
	"github.com/runner-service/envprov/pkg/recipe"
)

// Compile-time interface check
var _ Provisioner = (*LayerProvisioner)(nil)

type (
	// LayerProvisioner builds one intermediate image per step and records
	// each in a layer cache keyed by the chained step key.
	//
	// Unchanged steps are reused: a recipe whose package set changes rebuilds
	// only the install step and the default command step.
	LayerProvisioner struct {
		engine container.Engine
		store  layercache.Store
		config *Config
		logger *log.Logger
		now    func() time.Time
		group  singleflight.Group
	}

	// LayerOption configures a LayerProvisioner.
	LayerOption func(*LayerProvisioner)

	// stepOutcome is the shared result of one step execution.
	stepOutcome struct {
		ref    string
		cached bool
	}
)

// WithStore sets the layer cache. The default stores nothing.
func WithStore(store layercache.Store) LayerOption {
	return func(p *LayerProvisioner) {
		p.store = store
	}
}

// WithLogger sets the logger.
func WithLogger(logger *log.Logger) LayerOption {
	return func(p *LayerProvisioner) {
		p.logger = logger
	}
}

// WithClock sets the time source for cache entry timestamps and prune ages.
func WithClock(now func() time.Time) LayerOption {
	return func(p *LayerProvisioner) {
		p.now = now
	}
}

// NewLayerProvisioner creates a new LayerProvisioner. A nil cfg uses DefaultConfig.
func NewLayerProvisioner(engine container.Engine, cfg *Config, opts ...LayerOption) *LayerProvisioner {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	p := &LayerProvisioner{
		engine: engine,
		store:  layercache.NopStore{},
		config: cfg,
		logger: observability.Discard(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Config returns the provisioner's configuration.
func (p *LayerProvisioner) Config() *Config {
	return p.config
}

// Provision validates r, runs its steps, optionally checks that the default
// command exists, and tags the final step image. opts apply to this call only.
func (p *LayerProvisioner) Provision(ctx context.Context, r *recipe.Recipe, opts ...Option) (*Result, error) {
	cfg := p.config.Clone()
	cfg.Apply(opts...)

	start := time.Now()
	observability.BuildsInFlight.Inc()
	defer observability.BuildsInFlight.Dec()

	result, err := p.provision(ctx, r, cfg)

	name := recipe.DefaultName
	if r != nil {
		name = r.DisplayName()
	}
	outcome := observability.OutcomeOK
	if err != nil {
		outcome = observability.OutcomeFailed
		p.logger.Error("build failed", "recipe", name, "err", err)
	} else {
		p.logger.Info("build finished",
			"recipe", name,
			"tag", result.ImageTag,
			"cached", fmt.Sprintf("%d/%d", result.CachedSteps(), len(result.Steps)),
			"duration", time.Since(start).Round(time.Millisecond))
	}
	observability.ObserveBuild(name, outcome, time.Since(start))

	return result, err
}

func (p *LayerProvisioner) provision(ctx context.Context, r *recipe.Recipe, cfg *Config) (*Result, error) {
	if r == nil {
		return nil, recipeInvalidError(r, errors.New("recipe is nil"))
	}
	if err := r.Validate(); err != nil {
		return nil, recipeInvalidError(r, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, configInvalidError(err)
	}

	steps := r.Steps()
	keys := recipe.Keys(steps)
	result := &Result{
		RecipeKey: keys[len(keys)-1],
		Steps:     make([]StepResult, 0, len(steps)),
	}

	var parentRef string
	var parentKey recipe.StepKey
	for i, step := range steps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		sr, err := p.runStep(ctx, cfg, r, step, keys[i], parentKey, parentRef)
		if err != nil {
			// An engine killed by cancellation reports its own exit status.
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, stepFailedError(r, &StepError{Step: i, Key: keys[i], Kind: step.Kind(), Err: err})
		}
		result.Steps = append(result.Steps, sr)
		parentRef, parentKey = sr.ImageRef, sr.Key
	}

	if cfg.Check {
		if err := p.checkExecutable(ctx, r, parentRef); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			last := len(steps) - 1
			return nil, stepFailedError(r, &StepError{Step: last, Key: keys[last], Kind: steps[last].Kind(), Err: err})
		}
	}

	tags := cfg.ArtifactTags(r, result.RecipeKey)
	if err := p.applyTags(ctx, parentRef, tags); err != nil {
		return nil, err
	}
	result.ImageTag = tags[0]
	result.Tags = tags

	return result, nil
}

// applyTags names image with every tag. If one fails, the tags this call
// created are removed again so that a failed build publishes nothing.
func (p *LayerProvisioner) applyTags(ctx context.Context, image string, tags []string) error {
	var created []string
	for _, tag := range tags {
		existed, existsErr := p.engine.ImageExists(ctx, tag)
		err := p.engine.Tag(ctx, image, tag)
		if err == nil {
			if existsErr != nil || !existed {
				created = append(created, tag)
			}
			continue
		}

		cleanupCtx := context.WithoutCancel(ctx)
		for _, c := range created {
			if rmErr := p.engine.RemoveImage(cleanupCtx, c, false); rmErr != nil {
				p.logger.Warn("failed to remove tag of failed build", "tag", c, "err", rmErr)
			}
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return tagFailedError(image, tag, err)
	}
	return nil
}

// runStep reuses or executes one step. Concurrent calls for the same key
// share a single execution.
func (p *LayerProvisioner) runStep(
	ctx context.Context,
	cfg *Config,
	r *recipe.Recipe,
	step recipe.Step,
	key, parentKey recipe.StepKey,
	parentRef string,
) (StepResult, error) {
	start := time.Now()
	var (
		res singleflight.Result
		ran bool
	)
	for {
		ran = false
		ch := p.group.DoChan(key.String(), func() (any, error) {
			ran = true
			out, err := p.resolveStep(ctx, cfg, r, step, key, parentKey, parentRef)
			if err != nil && ctx.Err() != nil {
				// Mark the failure as a cancellation so that waiters whose
				// own context is live run the step again.
				return nil, fmt.Errorf("%w: %w", ctx.Err(), err)
			}
			return out, err
		})

		select {
		case <-ctx.Done():
			observability.ObserveStep(step.Kind().String(), observability.OutcomeFailed, time.Since(start))
			return StepResult{}, ctx.Err()
		case res = <-ch:
		}

		if res.Err != nil && !ran && ctx.Err() == nil && isCancellation(res.Err) {
			p.logger.Debug("shared step was canceled by another build, running it again",
				"recipe", r.DisplayName(), "step", step.Kind(), "key", key.Short())
			continue
		}
		break
	}
	d := time.Since(start)
	v, err := res.Val, res.Err

	if err != nil {
		observability.ObserveStep(step.Kind().String(), observability.OutcomeFailed, d)
		return StepResult{}, err
	}

	out := v.(stepOutcome)
	// Callers that waited on another build of the same key reused its image.
	cached := out.cached || !ran
	outcome := observability.OutcomeBuilt
	if cached {
		outcome = observability.OutcomeCached
	}
	observability.ObserveStep(step.Kind().String(), outcome, d)

	return StepResult{
		Kind:     step.Kind(),
		Key:      key,
		ImageRef: out.ref,
		Cached:   cached,
		Duration: d,
	}, nil
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func (p *LayerProvisioner) resolveStep(
	ctx context.Context,
	cfg *Config,
	r *recipe.Recipe,
	step recipe.Step,
	key, parentKey recipe.StepKey,
	parentRef string,
) (stepOutcome, error) {
	logger := p.logger.With("recipe", r.DisplayName(), "step", step.Kind(), "key", key.Short())

	if !cfg.NoCache {
		if ref, ok := p.lookup(ctx, logger, key); ok {
			logger.Debug("step cached", "image", ref)
			return stepOutcome{ref: ref, cached: true}, nil
		}
	}

	start := time.Now()
	ref := cfg.LayerRef(key)
	if err := p.execute(ctx, cfg, step, key, parentRef, ref); err != nil {
		return stepOutcome{}, err
	}
	d := time.Since(start)
	logger.Info("step built", "image", ref, "duration", d.Round(time.Millisecond))

	entry := layercache.Entry{
		Key:       key,
		Parent:    parentKey,
		Kind:      step.Kind(),
		ImageRef:  ref,
		Recipe:    r.DisplayName(),
		CreatedAt: p.now().UTC(),
		Duration:  d,
	}
	if id, err := p.engine.InspectImageID(ctx, ref); err == nil {
		entry.ImageID = id
	}
	// The image exists either way; a failed record only costs a rebuild later.
	if _, created, err := p.store.PutIfAbsent(ctx, entry); err != nil {
		logger.Warn("failed to record step", "err", err)
	} else if !created {
		logger.Debug("step already recorded by another build")
	}

	return stepOutcome{ref: ref}, nil
}

// lookup returns the image of a recorded step if it is still present.
// Entries whose image has been removed are dropped.
func (p *LayerProvisioner) lookup(ctx context.Context, logger *log.Logger, key recipe.StepKey) (string, bool) {
	entry, err := p.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, layercache.ErrNotFound) {
			logger.Warn("cache lookup failed", "err", err)
		}
		return "", false
	}

	exists, err := p.engine.ImageExists(ctx, entry.ImageRef)
	if err != nil {
		logger.Warn("cache image check failed", "image", entry.ImageRef, "err", err)
		return "", false
	}
	if !exists {
		logger.Debug("dropping stale cache entry", "image", entry.ImageRef)
		if err := p.store.Delete(ctx, key); err != nil {
			logger.Warn("failed to drop stale cache entry", "err", err)
		}
		return "", false
	}
	return entry.ImageRef, true
}

// execute produces the image ref for step on top of parentRef.
func (p *LayerProvisioner) execute(
	ctx context.Context,
	cfg *Config,
	step recipe.Step,
	key recipe.StepKey,
	parentRef, ref string,
) error {
	switch s := step.(type) {
	case recipe.SelectBase:
		return p.selectBase(ctx, s, ref)
	case recipe.SetDefaultCommand:
		return p.build(ctx, cfg, step, parentRef, ref, map[string]string{
			LabelRecipeKey: key.String(),
		})
	default:
		return p.build(ctx, cfg, step, parentRef, ref, nil)
	}
}

// selectBase materializes the base locally, pulling it when absent, and
// names it as the first step image.
func (p *LayerProvisioner) selectBase(ctx context.Context, s recipe.SelectBase, ref string) error {
	source := s.Ref.String()
	exists, err := p.engine.ImageExists(ctx, source)
	if err != nil {
		return fmt.Errorf("check base image %s: %w", source, err)
	}
	if !exists {
		source = s.Ref.Normalized()
		p.logger.Info("pulling base image", "image", source)
		if err := p.engine.Pull(ctx, source); err != nil {
			return err
		}
	}
	return p.engine.Tag(ctx, source, ref)
}

func (p *LayerProvisioner) build(
	ctx context.Context,
	cfg *Config,
	step recipe.Step,
	parentRef, ref string,
	labels map[string]string,
) error {
	dir, cleanup, err := prepareBuildContext(cfg.BuildContextDir, stepContainerfile(parentRef, step))
	if err != nil {
		return err
	}
	defer cleanup()

	return p.engine.Build(ctx, container.BuildOptions{
		ContextDir: dir,
		Dockerfile: containerfileName,
		Tag:        ref,
		Labels:     labels,
		NoCache:    cfg.NoCache,
		Stdout:     cfg.Output,
		Stderr:     cfg.Output,
	})
}

// checkExecutable verifies that the default command's executable resolves
// on the search path of image.
func (p *LayerProvisioner) checkExecutable(ctx context.Context, r *recipe.Recipe, image string) error {
	exe := r.Executable()
	var stderr bytes.Buffer
	res, err := p.engine.Run(ctx, container.RunOptions{
		Image:      image,
		Entrypoint: "/bin/sh",
		Command:    []string{"-c", `command -v "$1"`, "sh", exe},
		Network:    "none",
		Remove:     true,
		Stderr:     &stderr,
	})
	if err != nil {
		return err
	}
	if res.Error != nil {
		return fmt.Errorf("run pre-publish check: %w", res.Error)
	}
	if res.ExitCode != 0 {
		msg := fmt.Sprintf("executable %q not found on the search path of %s", exe, image)
		if s := strings.TrimSpace(stderr.String()); s != "" {
			msg += ": " + s
		}
		return errors.New(msg)
	}
	p.logger.Debug("pre-publish check passed", "executable", exe)
	return nil
}

// Plan returns the steps of r with their keys, images and cache status
// without building anything.
func (p *LayerProvisioner) Plan(ctx context.Context, r *recipe.Recipe, opts ...Option) ([]PlannedStep, error) {
	cfg := p.config.Clone()
	cfg.Apply(opts...)

	if err := r.Validate(); err != nil {
		return nil, recipeInvalidError(r, err)
	}

	steps := r.Steps()
	keys := recipe.Keys(steps)
	plan := make([]PlannedStep, len(steps))
	var parent recipe.StepKey
	for i, step := range steps {
		ps := PlannedStep{
			Kind:      step.Kind(),
			Key:       keys[i],
			Parent:    parent,
			Directive: step.Directive(),
			ImageRef:  cfg.LayerRef(keys[i]),
		}
		if !cfg.NoCache {
			if ref, ok := p.peek(ctx, keys[i]); ok {
				ps.ImageRef, ps.Cached = ref, true
			}
		}
		plan[i] = ps
		parent = keys[i]
	}
	return plan, nil
}

// peek is lookup without side effects.
func (p *LayerProvisioner) peek(ctx context.Context, key recipe.StepKey) (string, bool) {
	entry, err := p.store.Get(ctx, key)
	if err != nil {
		return "", false
	}
	exists, err := p.engine.ImageExists(ctx, entry.ImageRef)
	if err != nil || !exists {
		return "", false
	}
	return entry.ImageRef, true
}

// Prune removes recorded step images and their entries. With olderThan > 0
// only entries created before now-olderThan are removed. It returns the
// number of entries removed.
func (p *LayerProvisioner) Prune(ctx context.Context, olderThan time.Duration) (int, error) {
	entries, err := p.store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list cache entries: %w", err)
	}

	cutoff := p.now().Add(-olderThan)
	removed := 0
	var errs []error
	// Newest first so that child images go before their parents.
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		if olderThan > 0 && e.CreatedAt.After(cutoff) {
			continue
		}
		if err := p.engine.RemoveImage(ctx, e.ImageRef, false); err != nil {
			exists, existsErr := p.engine.ImageExists(ctx, e.ImageRef)
			if existsErr != nil || exists {
				errs = append(errs, fmt.Errorf("remove %s: %w", e.ImageRef, err))
				continue
			}
		}
		if err := p.store.Delete(ctx, e.Key); err != nil {
			errs = append(errs, fmt.Errorf("delete cache entry %s: %w", e.Key.Short(), err))
			continue
		}
		removed++
		p.logger.Debug("pruned step", "image", e.ImageRef, "step", e.Kind)
	}
	return removed, errors.Join(errs...)
}
