// SPDX-License-Identifier: MPL-2.0

package container

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"

	"github.com/runner-service/envprov/internal/issue"
)

// stderrTailSize bounds how much engine stderr is kept for error messages.
const stderrTailSize = 4 << 10

type (
	// ExecCommandFunc is the function signature for creating exec.Cmd.
	// This allows injection of mock implementations for testing.
	ExecCommandFunc func(ctx context.Context, name string, arg ...string) *exec.Cmd

	// BaseCLIEngineOption configures a BaseCLIEngine.
	BaseCLIEngineOption func(*BaseCLIEngine)

	// BaseCLIEngine provides the implementation shared by CLI-based engines.
	// Docker and Podman embed it; only version probing and image existence
	// checks differ between them.
	BaseCLIEngine struct {
		name        string // engine name for error messages
		binaryPath  string
		execCommand ExecCommandFunc
	}

	// EngineCommandError is returned when an engine command exits non-zero.
	// Stderr holds the tail of the command's diagnostic output.
	EngineCommandError struct {
		Engine string
		Args   []string
		Stderr string
		Err    error
	}

	// tailBuffer keeps the last max bytes written to it.
	tailBuffer struct {
		buf []byte
		max int
	}
)

// Error implements the error interface.
func (e *EngineCommandError) Error() string {
	msg := fmt.Sprintf("%s %s: %v", e.Engine, strings.Join(e.Args, " "), e.Err)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

// Unwrap returns the underlying exec error.
func (e *EngineCommandError) Unwrap() error { return e.Err }

// ExitCode returns the engine process exit status, or -1 if it did not exit.
func (e *EngineCommandError) ExitCode() int {
	var exitErr *exec.ExitError
	if errors.As(e.Err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.max; over > 0 {
		b.buf = b.buf[over:]
	}
	return len(p), nil
}

func (b *tailBuffer) String() string { return strings.TrimSpace(string(b.buf)) }

// --- Option Functions ---

// WithName sets the engine name used in error messages.
func WithName(name string) BaseCLIEngineOption {
	return func(e *BaseCLIEngine) {
		e.name = name
	}
}

// WithExecCommand sets a custom exec command function for testing.
func WithExecCommand(fn ExecCommandFunc) BaseCLIEngineOption {
	return func(e *BaseCLIEngine) {
		e.execCommand = fn
	}
}

// WithBinaryPath overrides the engine binary found on PATH.
func WithBinaryPath(path string) BaseCLIEngineOption {
	return func(e *BaseCLIEngine) {
		e.binaryPath = path
	}
}

// --- Constructor ---

// NewBaseCLIEngine creates a new base engine with the given binary path.
func NewBaseCLIEngine(binaryPath string, opts ...BaseCLIEngineOption) *BaseCLIEngine {
	e := &BaseCLIEngine{
		binaryPath:  binaryPath,
		execCommand: exec.CommandContext,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// BinaryPath returns the path to the container engine binary.
func (e *BaseCLIEngine) BinaryPath() string {
	return e.binaryPath
}

// --- Argument Builders ---

// BuildArgs constructs arguments for a container build command.
//
// Generated command: <binary> build [options] <context>
func (e *BaseCLIEngine) BuildArgs(opts BuildOptions) []string {
	args := []string{"build"}

	if opts.Dockerfile != "" {
		dockerfilePath := opts.Dockerfile
		if !filepath.IsAbs(dockerfilePath) && opts.ContextDir != "" {
			dockerfilePath = filepath.Join(opts.ContextDir, dockerfilePath)
		}
		args = append(args, "-f", dockerfilePath)
	}

	if opts.Tag != "" {
		args = append(args, "-t", opts.Tag)
	}

	if opts.NoCache {
		args = append(args, "--no-cache")
	}

	if opts.Pull {
		args = append(args, "--pull")
	}

	for _, k := range slices.Sorted(maps.Keys(opts.Labels)) {
		args = append(args, "--label", k+"="+opts.Labels[k])
	}

	for _, k := range slices.Sorted(maps.Keys(opts.BuildArgs)) {
		args = append(args, "--build-arg", k+"="+opts.BuildArgs[k])
	}

	args = append(args, opts.ContextDir)

	return args
}

// RunArgs constructs arguments for a container run command.
//
// Generated command: <binary> run [options] <image> [command...]
func (e *BaseCLIEngine) RunArgs(opts RunOptions) []string {
	args := []string{"run"}

	if opts.Remove {
		args = append(args, "--rm")
	}

	if opts.Network != "" {
		args = append(args, "--network", opts.Network)
	}

	if opts.Entrypoint != "" {
		args = append(args, "--entrypoint", opts.Entrypoint)
	}

	if opts.WorkDir != "" {
		args = append(args, "-w", opts.WorkDir)
	}

	if opts.Stdin != nil {
		args = append(args, "-i")
	}

	for _, k := range slices.Sorted(maps.Keys(opts.Env)) {
		args = append(args, "-e", k+"="+opts.Env[k])
	}

	args = append(args, opts.Image)
	args = append(args, opts.Command...)

	return args
}

// PullArgs constructs arguments for an image pull command.
func (e *BaseCLIEngine) PullArgs(image string) []string {
	return []string{"pull", image}
}

// TagArgs constructs arguments for an image tag command.
func (e *BaseCLIEngine) TagArgs(source, target string) []string {
	return []string{"tag", source, target}
}

// RemoveImageArgs constructs arguments for an image remove command.
func (e *BaseCLIEngine) RemoveImageArgs(image string, force bool) []string {
	args := []string{"rmi"}
	if force {
		args = append(args, "-f")
	}
	args = append(args, image)
	return args
}

// InspectImageIDArgs constructs arguments that print an image's content ID.
func (e *BaseCLIEngine) InspectImageIDArgs(image string) []string {
	return []string{"image", "inspect", "--format", "{{.Id}}", image}
}

// --- Command Execution ---

// CreateCommand creates an exec.Cmd for the given arguments.
func (e *BaseCLIEngine) CreateCommand(ctx context.Context, args ...string) *exec.Cmd {
	return e.execCommand(ctx, e.binaryPath, args...)
}

// RunCommandStatus executes a command and returns only the error status.
// On failure the error carries the tail of the command's stderr.
func (e *BaseCLIEngine) RunCommandStatus(ctx context.Context, args ...string) error {
	_, err := e.runCaptured(ctx, nil, nil, args...)
	return err
}

// RunCommandWithOutput executes a command and returns its stdout.
func (e *BaseCLIEngine) RunCommandWithOutput(ctx context.Context, args ...string) (string, error) {
	var out bytes.Buffer
	if _, err := e.runCaptured(ctx, &out, nil, args...); err != nil {
		return "", err
	}
	return out.String(), nil
}

// runCaptured runs a command, teeing stderr into a bounded buffer so that a
// failure can report what the engine printed.
func (e *BaseCLIEngine) runCaptured(ctx context.Context, stdout, stderr io.Writer, args ...string) (*exec.Cmd, error) {
	tail := &tailBuffer{max: stderrTailSize}
	cmd := e.CreateCommand(ctx, args...)
	cmd.Stdout = stdout
	if stderr != nil {
		cmd.Stderr = io.MultiWriter(stderr, tail)
	} else {
		cmd.Stderr = tail
	}

	if err := cmd.Run(); err != nil {
		return cmd, &EngineCommandError{Engine: e.name, Args: args, Stderr: tail.String(), Err: err}
	}
	return cmd, nil
}

// --- Promoted Engine Methods (shared by Docker and Podman) ---

// Build builds an image from a Containerfile.
func (e *BaseCLIEngine) Build(ctx context.Context, opts BuildOptions) error {
	if opts.ContextDir == "" {
		return errors.New("build context directory is required")
	}

	if _, err := e.runCaptured(ctx, opts.Stdout, opts.Stderr, e.BuildArgs(opts)...); err != nil {
		return buildContainerError(e.name, opts, err)
	}
	return nil
}

// Run runs a command in a container and returns the result.
// A non-zero exit code is captured in RunResult.ExitCode (not returned as error).
// Only infrastructure failures (binary not found, etc.) set RunResult.Error.
func (e *BaseCLIEngine) Run(ctx context.Context, opts RunOptions) (*RunResult, error) {
	if opts.Image == "" {
		return nil, errors.New("image is required")
	}

	cmd := e.CreateCommand(ctx, e.RunArgs(opts)...)
	cmd.Stdin = opts.Stdin
	cmd.Stdout = opts.Stdout
	cmd.Stderr = opts.Stderr

	result := &RunResult{}
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		} else {
			result.ExitCode = 1
			result.Error = err
		}
	}
	return result, nil
}

// Pull fetches an image from its registry.
func (e *BaseCLIEngine) Pull(ctx context.Context, image string) error {
	if err := e.RunCommandStatus(ctx, e.PullArgs(image)...); err != nil {
		return pullImageError(e.name, image, err)
	}
	return nil
}

// Tag adds target as a name for the source image.
func (e *BaseCLIEngine) Tag(ctx context.Context, source, target string) error {
	return e.RunCommandStatus(ctx, e.TagArgs(source, target)...)
}

// RemoveImage removes an image.
func (e *BaseCLIEngine) RemoveImage(ctx context.Context, image string, force bool) error {
	return e.RunCommandStatus(ctx, e.RemoveImageArgs(image, force)...)
}

// InspectImageID returns the content ID of an image.
func (e *BaseCLIEngine) InspectImageID(ctx context.Context, image string) (string, error) {
	out, err := e.RunCommandWithOutput(ctx, e.InspectImageIDArgs(image)...)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// imageExistsByStatus maps the exit status of an inspect-style command to
// presence: exit 0 means present, any other exit means absent, and a failure
// to run the binary at all is an error.
func (e *BaseCLIEngine) imageExistsByStatus(ctx context.Context, args ...string) (bool, error) {
	err := e.RunCommandStatus(ctx, args...)
	if err == nil {
		return true, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return false, nil
	}
	return false, err
}

// --- Actionable Error Helpers ---

// buildContainerError creates an actionable error for container build failures.
func buildContainerError(engine string, opts BuildOptions, cause error) error {
	ctx := issue.NewErrorContext().
		WithOperation("build container image")

	switch {
	case opts.Tag != "":
		ctx.WithResource(opts.Tag)
	case opts.Dockerfile != "":
		ctx.WithResource(opts.Dockerfile)
	}

	ctx.WithSuggestion("Check the engine output above for the failing instruction")
	ctx.WithSuggestion("Verify the base image is available (try: " + engine + " images)")
	ctx.WithSuggestion("Run with --verbose to stream full build output")

	return ctx.Wrap(cause).BuildError()
}

// pullImageError creates an actionable error for image pull failures.
func pullImageError(engine, image string, cause error) error {
	return issue.NewErrorContext().
		WithOperation("pull image").
		WithResource(image).
		WithSuggestions(
			"Check the image name and tag for typos",
			"Verify registry access (try: "+engine+" pull "+image+")",
			"Log in first if the registry requires authentication",
		).
		Wrap(cause).
		BuildError()
}
