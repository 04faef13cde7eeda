// SPDX-License-Identifier: MPL-2.0

// Package recipe models the declarative recipe from which an execution
// environment image is provisioned.
//
// A recipe names a base image, a working directory, a package set, and a
// default command. It is modeled as an ordered list of four steps
// (SelectBase, SetWorkdir, InstallPackages, SetDefaultCommand), each with a
// content-derived StepKey chained from its parent, so cache identity is a pure
// function of the recipe:
//
//	r, err := recipe.Load("runner/Dockerfile.c")
//	if err != nil {
//		return err
//	}
//	keys := recipe.Keys(r.Steps())
//
// Recipes can be written as a Dockerfile subset (FROM, WORKDIR, RUN, CMD),
// or as CUE, TOML, or YAML documents. All formats are validated the same way.
package recipe
