// SPDX-License-Identifier: MPL-2.0

package provision

import (
	"context"
	"time"

	"github.com/runner-service/envprov/pkg/recipe"
)

type (
	// Provisioner turns a recipe into a tagged, immutable image.
	Provisioner interface {
		// Provision runs the four steps of r in order and tags the result.
		// Nothing is tagged unless every step succeeds.
		Provision(ctx context.Context, r *recipe.Recipe, opts ...Option) (*Result, error)
	}

	// Result contains the output of a provisioning operation.
	Result struct {
		// ImageTag is the first artifact tag (e.g., "envprov/c:3f2a9c01b7de").
		ImageTag string
		// Tags are all tags applied to the artifact.
		Tags []string
		// RecipeKey is the key of the last step and identifies the artifact.
		RecipeKey recipe.StepKey
		// Steps describes each step in order.
		Steps []StepResult
	}

	// StepResult describes one executed or reused step.
	StepResult struct {
		// Kind is the step kind.
		Kind recipe.StepKind
		// Key is the step key.
		Key recipe.StepKey
		// ImageRef is the intermediate image holding the step result.
		ImageRef string
		// Cached is true when the step was reused without running.
		Cached bool
		// Duration is how long the step took in this run.
		Duration time.Duration
	}

	// PlannedStep describes a step without running it.
	PlannedStep struct {
		// Kind is the step kind.
		Kind recipe.StepKind
		// Key is the step key.
		Key recipe.StepKey
		// Parent is the key of the preceding step.
		Parent recipe.StepKey
		// Directive is the instruction the step applies.
		Directive string
		// ImageRef is the intermediate image the step produces.
		ImageRef string
		// Cached is true when a build would reuse the step.
		Cached bool
	}
)

// CachedSteps returns how many steps were reused.
func (r *Result) CachedSteps() int {
	n := 0
	for _, s := range r.Steps {
		if s.Cached {
			n++
		}
	}
	return n
}
