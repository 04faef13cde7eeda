// SPDX-License-Identifier: MPL-2.0

// Package provision builds execution environment images from recipes.
//
// A recipe is provisioned as four ordered steps: select the base image, set
// the working directory, install the package set, and set the default
// command. Each step produces an intermediate image named by its step key
// and is recorded in a layer cache, so unchanged steps are reused across
// builds. The final image is tagged only after every step succeeds:
//
//	p := provision.NewLayerProvisioner(engine, provision.DefaultConfig(),
//		provision.WithStore(store))
//	result, err := p.Provision(ctx, r)
//	// result.ImageTag names the immutable artifact
//
// Failures are returned as *StepError values wrapping one of ErrResolution,
// ErrFilesystem, ErrInstallation, or ErrValidation.
package provision
