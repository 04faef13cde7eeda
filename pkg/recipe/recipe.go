// SPDX-License-Identifier: MPL-2.0

package recipe

import (
	"errors"
	"fmt"
	"path"
	"regexp"
	"slices"
	"strings"

	"github.com/distribution/reference"
)

// DefaultName is used for recipes that neither declare a name nor have a
// file name to derive one from.
const DefaultName = "recipe"

var (
	namePattern        = regexp.MustCompile(`^[a-z0-9]+(?:[._-][a-z0-9]+)*$`)
	packageNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9+._:~=<>-]*$`)
)

type (
	// ImageRef is a base artifact reference: a name plus an optional tag or digest
	// (e.g., "gcc:latest", "docker.io/library/openjdk:17-slim").
	ImageRef string

	// WorkdirPath is the working directory inside the provisioned filesystem.
	// It must be absolute: a relative WORKDIR would resolve against the base
	// image's own working directory, which the recipe cannot see.
	WorkdirPath string

	// PackageName is a single package-manager package, optionally pinned
	// (e.g., "gcc", "libc6-dev=2.36-9", "musl-dev>1.2").
	PackageName string

	// Recipe is the declarative description of an execution environment.
	// All fields are fixed at build time; the resulting artifact is immutable.
	Recipe struct {
		// Name identifies the variant ("c", "java"); used in default image tags.
		Name string `json:"name,omitempty" toml:"name,omitempty" yaml:"name,omitempty"`
		// Base is the image providing the OS filesystem and the toolchain.
		Base ImageRef `json:"base" toml:"base" yaml:"base"`
		// Workdir becomes the default process working directory.
		Workdir WorkdirPath `json:"workdir" toml:"workdir" yaml:"workdir"`
		// PackageManager selects the install expression; empty means apt.
		PackageManager PackageManager `json:"package_manager,omitempty" toml:"package_manager,omitempty" yaml:"package_manager,omitempty"`
		// Packages is the ordered package set. It may be empty.
		Packages []PackageName `json:"packages,omitempty" toml:"packages,omitempty" yaml:"packages,omitempty"`
		// Command is the default command, executable first.
		Command []string `json:"command" toml:"command" yaml:"command"`

		// Source is the file the recipe was loaded from, if any.
		Source string `json:"-" toml:"-" yaml:"-"`
	}
)

// String returns the reference as written.
func (r ImageRef) String() string { return string(r) }

// Validate returns an error if the reference cannot be parsed as an image name.
func (r ImageRef) Validate() error {
	if strings.TrimSpace(string(r)) == "" {
		return fieldError("base", "base image reference is required")
	}
	if _, err := reference.ParseNormalizedNamed(string(r)); err != nil {
		return fieldError("base", "invalid image reference %q: %v", string(r), err)
	}
	return nil
}

// Normalized returns the fully-qualified form of the reference
// (e.g., "gcc:latest" -> "docker.io/library/gcc:latest"). Untagged references
// get the implicit "latest" tag. Invalid references are returned unchanged.
func (r ImageRef) Normalized() string {
	named, err := reference.ParseNormalizedNamed(string(r))
	if err != nil {
		return string(r)
	}
	return reference.TagNameOnly(named).String()
}

// String returns the path as written.
func (p WorkdirPath) String() string { return string(p) }

// Validate returns an error if the path is empty, relative or contains
// control characters.
func (p WorkdirPath) Validate() error {
	s := strings.TrimSpace(string(p))
	if s == "" {
		return fieldError("workdir", "working directory is required")
	}
	if strings.ContainsAny(s, "\x00\n\r") {
		return fieldError("workdir", "working directory %q contains control characters", string(p))
	}
	if !path.IsAbs(s) {
		return fieldError("workdir", "working directory %q must be absolute", s)
	}
	return nil
}

// Effective returns the cleaned path the container process starts in.
func (p WorkdirPath) Effective() string {
	return path.Clean(strings.TrimSpace(string(p)))
}

// String returns the package name as written.
func (n PackageName) String() string { return string(n) }

// Validate returns an error if the name contains characters that are not
// valid in apt or apk package arguments.
func (n PackageName) Validate() error {
	if !packageNamePattern.MatchString(string(n)) {
		return fmt.Errorf("invalid package name %q", string(n))
	}
	return nil
}

// DisplayName returns Name, or DefaultName when Name is empty.
func (r *Recipe) DisplayName() string {
	if r.Name == "" {
		return DefaultName
	}
	return r.Name
}

// Executable returns the program the default command invokes.
func (r *Recipe) Executable() string {
	if len(r.Command) == 0 {
		return ""
	}
	return r.Command[0]
}

// Validate checks every field and returns all problems joined together.
// Each problem is a *ValidationError wrapping ErrInvalidRecipe.
func (r *Recipe) Validate() error {
	var errs []error

	if r.Name != "" && !namePattern.MatchString(r.Name) {
		errs = append(errs, fieldError("name", "invalid recipe name %q (lowercase letters, digits, '.', '_' and '-')", r.Name))
	}
	if err := r.Base.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := r.Workdir.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := r.PackageManager.Validate(); err != nil {
		errs = append(errs, err)
	}

	seen := make(map[PackageName]int, len(r.Packages))
	for i, pkg := range r.Packages {
		field := fmt.Sprintf("packages[%d]", i)
		if err := pkg.Validate(); err != nil {
			errs = append(errs, fieldError(field, "%v", err))
			continue
		}
		if first, dup := seen[pkg]; dup {
			errs = append(errs, fieldError(field, "duplicate package %q (also packages[%d])", pkg, first))
			continue
		}
		seen[pkg] = i
	}

	switch {
	case len(r.Command) == 0:
		errs = append(errs, fieldError("command", "default command must not be empty"))
	case strings.TrimSpace(r.Command[0]) == "":
		errs = append(errs, fieldError("command[0]", "executable name must not be empty"))
	}
	for i, arg := range r.Command {
		if strings.ContainsRune(arg, 0) {
			errs = append(errs, fieldError(fmt.Sprintf("command[%d]", i), "argument contains a NUL byte"))
		}
	}

	for _, err := range errs {
		var ve *ValidationError
		if errors.As(err, &ve) && ve.Source == "" {
			ve.Source = r.Source
		}
	}
	return errors.Join(errs...)
}

// Clone returns a deep copy of the recipe.
func (r *Recipe) Clone() *Recipe {
	c := *r
	c.Packages = slices.Clone(r.Packages)
	c.Command = slices.Clone(r.Command)
	return &c
}
