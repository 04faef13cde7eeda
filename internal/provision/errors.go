// SPDX-License-Identifier: MPL-2.0

package provision

import (
	"context"
	"errors"
	"fmt"

	"github.com/runner-service/envprov/internal/container"
	"github.com/runner-service/envprov/internal/issue"
	"github.com/runner-service/envprov/pkg/recipe"
)

// Exit statuses reported for each failure kind.
const (
	ExitOK           = 0
	ExitFailure      = 1
	ExitValidation   = 2
	ExitResolution   = 3
	ExitFilesystem   = 4
	ExitInstallation = 5
	ExitInterrupted  = 130
)

var (
	// ErrValidation marks a recipe that is malformed or whose artifact
	// cannot run its default command.
	ErrValidation = errors.New("validation failed")
	// ErrResolution marks a base reference that could not be resolved.
	ErrResolution = errors.New("base resolution failed")
	// ErrFilesystem marks a working directory that could not be created.
	ErrFilesystem = errors.New("filesystem setup failed")
	// ErrInstallation marks a failed package index refresh or install.
	ErrInstallation = errors.New("package installation failed")
)

// StepError is returned when a provisioning step fails. errors.Is matches
// both the kind sentinel and the underlying engine error.
type StepError struct {
	// Step is the zero-based position of the step.
	Step int
	// Key is the step key.
	Key recipe.StepKey
	// Kind is the step kind.
	Kind recipe.StepKind
	// Err is the cause.
	Err error
}

// Error implements the error interface.
func (e *StepError) Error() string {
	return fmt.Sprintf("step %d (%s, key %s): %v: %v", e.Step+1, e.Kind, e.Key.Short(), e.Sentinel(), e.Err)
}

// Unwrap returns the kind sentinel and the cause.
func (e *StepError) Unwrap() []error { return []error{e.Sentinel(), e.Err} }

// Sentinel returns the sentinel error for the step kind.
func (e *StepError) Sentinel() error { return sentinelFor(e.Kind) }

func sentinelFor(kind recipe.StepKind) error {
	switch kind {
	case recipe.StepSelectBase:
		return ErrResolution
	case recipe.StepSetWorkdir:
		return ErrFilesystem
	case recipe.StepInstallPackages:
		return ErrInstallation
	default:
		return ErrValidation
	}
}

func guideFor(kind recipe.StepKind) issue.Id {
	switch kind {
	case recipe.StepSelectBase:
		return issue.BaseResolutionFailedId
	case recipe.StepSetWorkdir:
		return issue.WorkdirFailedId
	case recipe.StepInstallPackages:
		return issue.PackageInstallFailedId
	default:
		return issue.DefaultCommandInvalidId
	}
}

// ExitCodeFor maps an error to the process exit status for its kind.
func ExitCodeFor(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, context.Canceled):
		return ExitInterrupted
	case errors.Is(err, ErrValidation), errors.Is(err, recipe.ErrInvalidRecipe):
		return ExitValidation
	case errors.Is(err, ErrResolution):
		return ExitResolution
	case errors.Is(err, ErrFilesystem):
		return ExitFilesystem
	case errors.Is(err, ErrInstallation):
		return ExitInstallation
	default:
		return ExitFailure
	}
}

// IsTransient reports whether a failed build may succeed when retried.
// Validation problems never are.
func IsTransient(err error) bool {
	if errors.Is(err, ErrValidation) || errors.Is(err, recipe.ErrInvalidRecipe) {
		return false
	}
	return container.IsTransientError(err)
}

// --- Actionable Error Helpers ---

func recipeInvalidError(r *recipe.Recipe, cause error) error {
	return issue.NewErrorContext().
		WithOperation("validate recipe").
		WithResource(recipeResource(r)).
		WithGuide(issue.RecipeInvalidId).
		Wrap(fmt.Errorf("%w: %w", ErrValidation, cause)).
		BuildError()
}

func configInvalidError(cause error) error {
	return issue.NewErrorContext().
		WithOperation("apply provision options").
		WithSuggestion("Image tags must be valid references such as envprov/c:latest").
		Wrap(fmt.Errorf("%w: %w", ErrValidation, cause)).
		BuildError()
}

func stepFailedError(r *recipe.Recipe, se *StepError) error {
	return issue.NewErrorContext().
		WithOperation("provision " + se.Kind.String()).
		WithResource(recipeResource(r)).
		WithGuide(guideFor(se.Kind)).
		Wrap(se).
		BuildError()
}

func tagFailedError(image, tag string, cause error) error {
	return issue.NewErrorContext().
		WithOperation("tag image").
		WithResource(tag).
		WithSuggestion("Check that " + image + " still exists in local storage").
		Wrap(cause).
		BuildError()
}

func recipeResource(r *recipe.Recipe) string {
	if r == nil {
		return ""
	}
	if r.Source != "" {
		return r.Source
	}
	return r.DisplayName()
}
