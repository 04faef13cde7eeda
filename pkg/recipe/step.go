// SPDX-License-Identifier: MPL-2.0

package recipe

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

const (
	// StepSelectBase resolves and materializes the base image.
	StepSelectBase StepKind = "select-base"
	// StepSetWorkdir creates and selects the working directory.
	StepSetWorkdir StepKind = "set-workdir"
	// StepInstallPackages installs the package set and purges package caches.
	StepInstallPackages StepKind = "install-packages"
	// StepSetDefaultCommand records the default command as image metadata.
	StepSetDefaultCommand StepKind = "set-default-command"
)

type (
	// StepKind identifies one of the four provisioning steps.
	StepKind string

	// Step is one idempotent, independently cacheable provisioning step.
	Step interface {
		// Kind returns the step kind.
		Kind() StepKind
		// Directive returns the Dockerfile instruction for the step, or ""
		// when the step contributes nothing to the image.
		Directive() string
		// Canonical returns the content that identifies the step for caching.
		Canonical() string
	}

	// SelectBase selects the base image.
	SelectBase struct {
		Ref ImageRef
	}

	// SetWorkdir sets the working directory.
	SetWorkdir struct {
		Path WorkdirPath
	}

	// InstallPackages installs an ordered package set as one atomic step.
	InstallPackages struct {
		Manager  PackageManager
		Packages []PackageName
	}

	// SetDefaultCommand declares the default command. It never runs at build time.
	SetDefaultCommand struct {
		Args []string
	}
)

// String returns the string representation of the StepKind.
func (k StepKind) String() string { return string(k) }

// Validate returns an error if the kind is not one of the four step kinds.
func (k StepKind) Validate() error {
	switch k {
	case StepSelectBase, StepSetWorkdir, StepInstallPackages, StepSetDefaultCommand:
		return nil
	default:
		return fmt.Errorf("unknown step kind %q", string(k))
	}
}

// Kind implements Step.
func (SelectBase) Kind() StepKind { return StepSelectBase }

// Directive implements Step.
func (s SelectBase) Directive() string { return "FROM " + string(s.Ref) }

// Canonical implements Step. The base layer is keyed by reference identity.
func (s SelectBase) Canonical() string { return s.Ref.Normalized() }

// Kind implements Step.
func (SetWorkdir) Kind() StepKind { return StepSetWorkdir }

// Directive implements Step.
func (s SetWorkdir) Directive() string { return "WORKDIR " + s.Path.Effective() }

// Canonical implements Step.
func (s SetWorkdir) Canonical() string { return s.Path.Effective() }

// Kind implements Step.
func (InstallPackages) Kind() StepKind { return StepInstallPackages }

// Empty reports whether the package set is empty.
func (s InstallPackages) Empty() bool { return len(s.Packages) == 0 }

// Directive implements Step. An empty package set only purges the caches,
// so index files shipped by the base never reach the artifact.
func (s InstallPackages) Directive() string {
	if s.Empty() {
		return "RUN " + s.Manager.PurgeExpression()
	}
	return "RUN " + s.Manager.InstallExpression(s.Packages)
}

// Canonical implements Step.
func (s InstallPackages) Canonical() string {
	names := make([]string, 0, len(s.Packages)+1)
	names = append(names, s.Manager.String())
	for _, p := range s.Packages {
		names = append(names, string(p))
	}
	return strings.Join(names, "\x00")
}

// Kind implements Step.
func (SetDefaultCommand) Kind() StepKind { return StepSetDefaultCommand }

// Directive implements Step. The command is always rendered in exec form.
func (s SetDefaultCommand) Directive() string { return "CMD " + execForm(s.Args) }

// Canonical implements Step.
func (s SetDefaultCommand) Canonical() string { return execForm(s.Args) }

// execForm encodes args as a JSON array without HTML escaping.
func execForm(args []string) string {
	if args == nil {
		args = []string{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(args) // []string always encodes
	return strings.TrimSuffix(buf.String(), "\n")
}

// Steps returns the recipe as its four steps in provisioning order.
func (r *Recipe) Steps() []Step {
	return []Step{
		SelectBase{Ref: r.Base},
		SetWorkdir{Path: r.Workdir},
		InstallPackages{Manager: r.PackageManager.Resolved(), Packages: r.Packages},
		SetDefaultCommand{Args: r.Command},
	}
}
