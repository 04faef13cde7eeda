// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"
	"strings"

	"github.com/runner-service/envprov/internal/issue"
	"github.com/runner-service/envprov/pkg/recipe"
)

// resolveRecipe loads arg as a recipe file when one exists at that path and
// falls back to a built-in preset of that name otherwise.
func resolveRecipe(arg string) (*recipe.Recipe, error) {
	if strings.TrimSpace(arg) == "" {
		return nil, recipeLoadError(arg, fmt.Errorf("%w: empty recipe argument", recipe.ErrInvalidRecipe))
	}

	info, err := os.Stat(arg)
	switch {
	case err == nil && info.IsDir():
		return nil, recipeLoadError(arg, fmt.Errorf("%w: %s is a directory", recipe.ErrInvalidRecipe, arg))
	case err == nil:
		r, loadErr := recipe.Load(arg)
		if loadErr != nil {
			return nil, recipeLoadError(arg, loadErr)
		}
		return r, nil
	case !errors.Is(err, fs.ErrNotExist):
		return nil, recipeLoadError(arg, err)
	}

	if slices.Contains(recipe.PresetNames(), arg) {
		r, presetErr := recipe.Preset(arg)
		if presetErr != nil {
			return nil, recipeLoadError(arg, presetErr)
		}
		return r, nil
	}

	return nil, issue.NewErrorContext().
		WithOperation("load recipe").
		WithResource(arg).
		WithGuide(issue.RecipeInvalidId).
		WithSuggestions(
			"Pass the path of a recipe file",
			"Or name a built-in preset: "+strings.Join(recipe.PresetNames(), ", "),
		).
		Wrap(fmt.Errorf("%w: no recipe file or preset named %q", recipe.ErrInvalidRecipe, arg)).
		BuildError()
}

// resolveRecipes resolves every argument and reports all failures together.
func resolveRecipes(args []string) ([]*recipe.Recipe, error) {
	recipes := make([]*recipe.Recipe, 0, len(args))
	var errs []error
	for _, arg := range args {
		r, err := resolveRecipe(arg)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		recipes = append(recipes, r)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return recipes, nil
}

func recipeLoadError(arg string, cause error) error {
	return issue.NewErrorContext().
		WithOperation("load recipe").
		WithResource(arg).
		WithGuide(issue.RecipeInvalidId).
		Wrap(cause).
		BuildError()
}

// isRecipeFile reports whether arg names a regular file rather than a preset.
func isRecipeFile(arg string) bool {
	info, err := os.Stat(arg)
	return err == nil && info.Mode().IsRegular()
}
