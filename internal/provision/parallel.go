// SPDX-License-Identifier: MPL-2.0

package provision

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/runner-service/envprov/pkg/recipe"
)

// Outcome is the result of one recipe in a ProvisionAll run.
type Outcome struct {
	Recipe *recipe.Recipe
	Result *Result
	Err    error
}

// ProvisionAll provisions independent recipes with at most parallelism
// builds running at once. A failed recipe does not stop the others.
// Outcomes are returned in the order of recipes.
func ProvisionAll(ctx context.Context, p Provisioner, recipes []*recipe.Recipe, parallelism int, opts ...Option) []Outcome {
	out := make([]Outcome, len(recipes))

	var g errgroup.Group
	if parallelism > 0 {
		g.SetLimit(parallelism)
	}
	for i, r := range recipes {
		g.Go(func() error {
			res, err := p.Provision(ctx, r, opts...)
			out[i] = Outcome{Recipe: r, Result: res, Err: err}
			return nil
		})
	}
	_ = g.Wait() // Builds report through out

	return out
}

// FirstError returns the first failed outcome's error, or nil.
func FirstError(outcomes []Outcome) error {
	for _, o := range outcomes {
		if o.Err != nil {
			return o.Err
		}
	}
	return nil
}
