// SPDX-License-Identifier: MPL-2.0

package container

import (
	"context"
	"errors"
	"fmt"
	"io"
)

const (
	// EngineTypePodman selects the podman CLI.
	EngineTypePodman EngineType = "podman"
	// EngineTypeDocker selects the docker CLI.
	EngineTypeDocker EngineType = "docker"
)

// ErrNoEngineAvailable is the sentinel error wrapped by EngineNotAvailableError.
var ErrNoEngineAvailable = errors.New("no container engine available")

type (
	// Engine is the set of image operations the provisioner needs from a
	// container runtime.
	Engine interface {
		// Name returns the engine name (docker or podman).
		Name() string
		// Available reports whether the engine binary exists and its daemon answers.
		Available() bool
		// Version returns the engine version.
		Version(ctx context.Context) (string, error)

		// Build builds an image from a Containerfile.
		Build(ctx context.Context, opts BuildOptions) error
		// Run runs a command in a new container. A non-zero exit status is
		// reported in RunResult, not as an error.
		Run(ctx context.Context, opts RunOptions) (*RunResult, error)
		// ImageExists reports whether image is present in local storage.
		ImageExists(ctx context.Context, image string) (bool, error)
		// Pull fetches image from its registry.
		Pull(ctx context.Context, image string) error
		// Tag adds the target name to the source image.
		Tag(ctx context.Context, source, target string) error
		// RemoveImage removes an image or tag.
		RemoveImage(ctx context.Context, image string, force bool) error
		// InspectImageID returns the content ID of an image.
		InspectImageID(ctx context.Context, image string) (string, error)
	}

	// BuildOptions contains options for building an image.
	BuildOptions struct {
		// ContextDir is the build context directory.
		ContextDir string
		// Dockerfile is the Containerfile path, relative to ContextDir.
		Dockerfile string
		// Tag is the image tag.
		Tag string
		// BuildArgs are build-time variables.
		BuildArgs map[string]string
		// Labels are added to the image metadata.
		Labels map[string]string
		// NoCache disables the engine's own layer cache.
		NoCache bool
		// Pull always attempts to pull a newer version of the base image.
		Pull bool
		// Stdout receives build output.
		Stdout io.Writer
		// Stderr receives build diagnostics.
		Stderr io.Writer
	}

	// RunOptions contains options for running a container.
	RunOptions struct {
		// Image is the image to run.
		Image string
		// Entrypoint overrides the image entrypoint.
		Entrypoint string
		// Command is the command (or entrypoint arguments) to run.
		Command []string
		// WorkDir overrides the image working directory.
		WorkDir string
		// Env contains environment variables.
		Env map[string]string
		// Network selects the container network ("none" disables networking).
		Network string
		// Remove deletes the container after it exits.
		Remove bool
		// Stdin is the standard input.
		Stdin io.Reader
		// Stdout receives standard output.
		Stdout io.Writer
		// Stderr receives standard error.
		Stderr io.Writer
	}

	// RunResult contains the result of running a container.
	RunResult struct {
		// ExitCode is the exit status of the container process.
		ExitCode int
		// Error is set when the engine itself could not run the container.
		Error error
	}

	// EngineType identifies the container engine type.
	EngineType string

	// EngineNotAvailableError is returned when no usable container engine exists.
	EngineNotAvailableError struct {
		Engine string
		Reason string
	}
)

// String returns the string representation of the EngineType.
func (t EngineType) String() string { return string(t) }

// Validate returns an error if the type is not docker or podman.
func (t EngineType) Validate() error {
	switch t {
	case EngineTypeDocker, EngineTypePodman:
		return nil
	default:
		return fmt.Errorf("unknown container engine type %q (valid: docker, podman)", string(t))
	}
}

// Error implements the error interface.
func (e *EngineNotAvailableError) Error() string {
	return fmt.Sprintf("container engine '%s' is not available: %s", e.Engine, e.Reason)
}

// Unwrap returns ErrNoEngineAvailable for errors.Is() compatibility.
func (e *EngineNotAvailableError) Unwrap() error { return ErrNoEngineAvailable }

// NewEngine returns the preferred engine, falling back to the other one when
// the preferred engine is not available.
func NewEngine(preferred EngineType, opts ...BaseCLIEngineOption) (Engine, error) {
	if err := preferred.Validate(); err != nil {
		return nil, err
	}

	candidates := []Engine{NewDockerEngine(opts...), NewPodmanEngine(opts...)}
	if preferred == EngineTypePodman {
		candidates[0], candidates[1] = candidates[1], candidates[0]
	}
	for _, e := range candidates {
		if e.Available() {
			return e, nil
		}
	}

	return nil, &EngineNotAvailableError{
		Engine: string(preferred),
		Reason: fmt.Sprintf("%s is not installed or not accessible, and the %s fallback is also not available",
			candidates[0].Name(), candidates[1].Name()),
	}
}

// AutoDetectEngine returns the first available engine, trying docker first.
func AutoDetectEngine(opts ...BaseCLIEngineOption) (Engine, error) {
	for _, e := range []Engine{NewDockerEngine(opts...), NewPodmanEngine(opts...)} {
		if e.Available() {
			return e, nil
		}
	}
	return nil, &EngineNotAvailableError{
		Engine: "any",
		Reason: "no container engine (docker or podman) is available on this system",
	}
}
