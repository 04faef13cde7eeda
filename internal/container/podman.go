// SPDX-License-Identifier: MPL-2.0

package container

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// PodmanEngine implements the Engine interface using the Podman CLI.
type PodmanEngine struct {
	*BaseCLIEngine
}

// NewPodmanEngine creates a new Podman engine.
func NewPodmanEngine(opts ...BaseCLIEngineOption) *PodmanEngine {
	path, _ := exec.LookPath("podman")
	allOpts := append([]BaseCLIEngineOption{WithName(string(EngineTypePodman))}, opts...)
	return &PodmanEngine{
		BaseCLIEngine: NewBaseCLIEngine(path, allOpts...),
	}
}

// Name returns the engine name.
func (e *PodmanEngine) Name() string {
	return string(EngineTypePodman)
}

// Available checks that the podman CLI exists and can reach its storage.
func (e *PodmanEngine) Available() bool {
	if e.BinaryPath() == "" {
		return false
	}
	return e.RunCommandStatus(context.Background(), "version", "--format", "{{.Version}}") == nil
}

// Version returns the Podman version.
func (e *PodmanEngine) Version(ctx context.Context) (string, error) {
	out, err := e.RunCommandWithOutput(ctx, "version", "--format", "{{.Version}}")
	if err != nil {
		return "", fmt.Errorf("failed to get podman version: %w", err)
	}
	return strings.TrimSpace(out), nil
}

// ImageExists checks whether an image is present in local storage.
// podman has a dedicated subcommand that exits 1 when the image is missing.
func (e *PodmanEngine) ImageExists(ctx context.Context, image string) (bool, error) {
	return e.imageExistsByStatus(ctx, "image", "exists", image)
}

// Build builds an image in docker format so that CMD and labels survive
// engines that only read the docker image config.
func (e *PodmanEngine) Build(ctx context.Context, opts BuildOptions) error {
	if opts.ContextDir == "" {
		return e.BaseCLIEngine.Build(ctx, opts)
	}
	args := e.BuildArgs(opts)
	args = append([]string{args[0], "--format", "docker"}, args[1:]...)
	if _, err := e.runCaptured(ctx, opts.Stdout, opts.Stderr, args...); err != nil {
		return buildContainerError(e.name, opts, err)
	}
	return nil
}
