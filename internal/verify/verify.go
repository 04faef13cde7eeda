// SPDX-License-Identifier: MPL-2.0

// Package verify checks that a provisioned image has the properties its
// recipe promises: the default executable resolves, the working directory
// is the writable process cwd, package caches were purged, and the default
// command runs.
package verify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/runner-service/envprov/internal/container"
	"github.com/runner-service/envprov/internal/observability"
	"github.com/runner-service/envprov/pkg/recipe"
)

// Check names.
const (
	CheckExecutable = "executable-on-path"
	CheckWorkdir    = "workdir-writable"
	CheckCaches     = "package-caches-purged"
	CheckVersion    = "default-command-runs"
)

// ErrImageNotFound is returned when the image to verify is not in local storage.
var ErrImageNotFound = errors.New("image not found")

// versionArgs lists executables that do not accept --version.
var versionArgs = map[string][]string{
	"go": {"version"},
}

type (
	// CheckResult is the outcome of one check.
	CheckResult struct {
		Name     string
		Passed   bool
		Detail   string
		Duration time.Duration
	}

	// Report collects the results of every check against one image.
	Report struct {
		Image  string
		Checks []CheckResult
	}

	// Verifier runs checks through a container engine.
	Verifier struct {
		engine container.Engine
		logger *log.Logger
	}

	// check probes one property. It returns the outcome detail and whether
	// the property holds, or an error if the engine could not run it.
	check struct {
		name string
		run  func(ctx context.Context, image string, r *recipe.Recipe) (detail string, ok bool, err error)
	}

	// probe is the captured result of a container run.
	probe struct {
		exitCode int
		stdout   string
		stderr   string
	}
)

// Passed reports whether every check passed.
func (r *Report) Passed() bool {
	for _, c := range r.Checks {
		if !c.Passed {
			return false
		}
	}
	return len(r.Checks) > 0
}

// Failed returns the checks that did not pass.
func (r *Report) Failed() []CheckResult {
	var out []CheckResult
	for _, c := range r.Checks {
		if !c.Passed {
			out = append(out, c)
		}
	}
	return out
}

// New creates a Verifier. A nil logger discards output.
func New(engine container.Engine, logger *log.Logger) *Verifier {
	if logger == nil {
		logger = observability.Discard()
	}
	return &Verifier{engine: engine, logger: logger}
}

// Verify runs every check against image, which must have been built from r.
// Failed checks are reported in the Report; the error is reserved for
// problems running the checks at all.
func (v *Verifier) Verify(ctx context.Context, image string, r *recipe.Recipe) (*Report, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	exists, err := v.engine.ImageExists(ctx, image)
	if err != nil {
		return nil, fmt.Errorf("check image %s: %w", image, err)
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrImageNotFound, image)
	}

	report := &Report{Image: image}
	for _, c := range v.checks() {
		start := time.Now()
		detail, ok, err := c.run(ctx, image, r)
		if err != nil {
			return nil, fmt.Errorf("run check %s: %w", c.name, err)
		}
		res := CheckResult{Name: c.name, Passed: ok, Detail: detail, Duration: time.Since(start)}
		report.Checks = append(report.Checks, res)
		v.logger.Debug("check finished", "check", c.name, "passed", ok, "detail", detail)
	}
	return report, nil
}

func (v *Verifier) checks() []check {
	return []check{
		{name: CheckExecutable, run: v.checkExecutable},
		{name: CheckWorkdir, run: v.checkWorkdir},
		{name: CheckCaches, run: v.checkCaches},
		{name: CheckVersion, run: v.checkVersion},
	}
}

func (v *Verifier) checkExecutable(ctx context.Context, image string, r *recipe.Recipe) (string, bool, error) {
	p, err := v.shell(ctx, image, `command -v "$1"`, r.Executable())
	if err != nil {
		return "", false, err
	}
	if p.exitCode != 0 {
		return fmt.Sprintf("%s not found on PATH", r.Executable()), false, nil
	}
	return strings.TrimSpace(p.stdout), true, nil
}

func (v *Verifier) checkWorkdir(ctx context.Context, image string, r *recipe.Recipe) (string, bool, error) {
	p, err := v.shell(ctx, image, `pwd && probe=.envprov-probe.$$ && touch "$probe" && rm "$probe"`)
	if err != nil {
		return "", false, err
	}
	want := r.Workdir.Effective()
	cwd, _, _ := strings.Cut(strings.TrimSpace(p.stdout), "\n")
	switch {
	case cwd != want:
		return fmt.Sprintf("process starts in %q, want %q", cwd, want), false, nil
	case p.exitCode != 0:
		return fmt.Sprintf("%s is not writable: %s", want, lastLine(p.stderr)), false, nil
	}
	return want, true, nil
}

func (v *Verifier) checkCaches(ctx context.Context, image string, r *recipe.Recipe) (string, bool, error) {
	dirs := r.PackageManager.CacheDirs()
	script := `for d in "$@"; do if [ -d "$d" ] && [ -n "$(ls -A "$d")" ]; then echo "$d"; fi; done`
	p, err := v.shell(ctx, image, script, dirs...)
	if err != nil {
		return "", false, err
	}
	if p.exitCode != 0 {
		return fmt.Sprintf("cache probe exited %d: %s", p.exitCode, lastLine(p.stderr)), false, nil
	}
	if dirty := strings.Fields(p.stdout); len(dirty) > 0 {
		return "not empty: " + strings.Join(dirty, ", "), false, nil
	}
	return strings.Join(dirs, ", ") + " empty or absent", true, nil
}

func (v *Verifier) checkVersion(ctx context.Context, image string, r *recipe.Recipe) (string, bool, error) {
	args := versionArgs[r.Executable()]
	if args == nil {
		args = []string{"--version"}
	}
	p, err := v.run(ctx, container.RunOptions{
		Image:   image,
		Command: append([]string{r.Executable()}, args...),
	})
	if err != nil {
		return "", false, err
	}
	out := strings.TrimSpace(p.stdout)
	if out == "" {
		out = strings.TrimSpace(p.stderr)
	}
	switch {
	case p.exitCode != 0:
		return fmt.Sprintf("exited %d: %s", p.exitCode, lastLine(out)), false, nil
	case out == "":
		return "printed nothing", false, nil
	}
	first, _, _ := strings.Cut(out, "\n")
	return first, true, nil
}

// shell runs script with /bin/sh in image; args become $1...
func (v *Verifier) shell(ctx context.Context, image, script string, args ...string) (probe, error) {
	return v.run(ctx, container.RunOptions{
		Image:      image,
		Entrypoint: "/bin/sh",
		Command:    append([]string{"-c", script, "sh"}, args...),
	})
}

func (v *Verifier) run(ctx context.Context, opts container.RunOptions) (probe, error) {
	var stdout, stderr bytes.Buffer
	opts.Network = "none"
	opts.Remove = true
	opts.Stdout = &stdout
	opts.Stderr = &stderr

	res, err := v.engine.Run(ctx, opts)
	if err != nil {
		return probe{}, err
	}
	if res.Error != nil {
		return probe{}, res.Error
	}
	return probe{exitCode: res.ExitCode, stdout: stdout.String(), stderr: stderr.String()}, nil
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
