// SPDX-License-Identifier: MPL-2.0

package verify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/runner-service/envprov/internal/container"
	"github.com/runner-service/envprov/pkg/recipe"
)

// scriptedEngine answers Run calls from a table keyed by a substring of the
// joined command line. Only the methods Verify uses are implemented.
type scriptedEngine struct {
	container.Engine

	images    map[string]bool
	responses map[string]response
	runErr    error
	runs      []container.RunOptions
}

type response struct {
	exitCode int
	stdout   string
	stderr   string
}

func (e *scriptedEngine) ImageExists(_ context.Context, image string) (bool, error) {
	return e.images[image], nil
}

func (e *scriptedEngine) Run(_ context.Context, opts container.RunOptions) (*container.RunResult, error) {
	e.runs = append(e.runs, opts)
	if e.runErr != nil {
		return nil, e.runErr
	}
	line := strings.Join(opts.Command, " ")
	for marker, resp := range e.responses {
		if strings.Contains(line, marker) {
			fmt.Fprint(opts.Stdout, resp.stdout)
			fmt.Fprint(opts.Stderr, resp.stderr)
			return &container.RunResult{ExitCode: resp.exitCode}, nil
		}
	}
	return &container.RunResult{ExitCode: 127}, nil
}

func healthyResponses() map[string]response {
	return map[string]response{
		"command -v": {stdout: "/usr/local/bin/gcc\n"},
		"pwd":        {stdout: "/workspace\n"},
		"ls -A":      {},
		"--version":  {stdout: "gcc (GCC) 14.2.0\nCopyright (C) 2024\n"},
	}
}

func testRecipe() *recipe.Recipe {
	return &recipe.Recipe{
		Name:    "c",
		Base:    "gcc:latest",
		Workdir: "/workspace",
		Command: []string{"gcc"},
	}
}

func TestVerify_AllPass(t *testing.T) {
	t.Parallel()

	eng := &scriptedEngine{images: map[string]bool{"envprov/c:1": true}, responses: healthyResponses()}
	report, err := New(eng, nil).Verify(t.Context(), "envprov/c:1", testRecipe())
	if err != nil {
		t.Fatalf("Verify() error: %v", err)
	}

	if !report.Passed() {
		t.Fatalf("expected all checks to pass, failed: %+v", report.Failed())
	}
	wantNames := []string{CheckExecutable, CheckWorkdir, CheckCaches, CheckVersion}
	for i, c := range report.Checks {
		if c.Name != wantNames[i] {
			t.Errorf("Checks[%d].Name = %s, want %s", i, c.Name, wantNames[i])
		}
	}
	if report.Checks[0].Detail != "/usr/local/bin/gcc" {
		t.Errorf("executable detail = %q", report.Checks[0].Detail)
	}
	if report.Checks[3].Detail != "gcc (GCC) 14.2.0" {
		t.Errorf("version detail = %q", report.Checks[3].Detail)
	}

	for _, run := range eng.runs {
		if run.Network != "none" || !run.Remove {
			t.Errorf("probe containers must be removed and offline: %+v", run)
		}
		if run.WorkDir != "" {
			t.Errorf("probes must not override the working directory, got %q", run.WorkDir)
		}
	}
	if last := eng.runs[len(eng.runs)-1]; last.Entrypoint != "" || last.Command[0] != "gcc" {
		t.Errorf("version probe should run the default executable directly, got %+v", last)
	}
}

func TestVerify_Failures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		marker string
		resp   response
		check  string
		detail string
	}{
		{
			name:   "executable missing",
			marker: "command -v",
			resp:   response{exitCode: 1},
			check:  CheckExecutable,
			detail: "gcc not found on PATH",
		},
		{
			name:   "wrong working directory",
			marker: "pwd",
			resp:   response{stdout: "/\n"},
			check:  CheckWorkdir,
			detail: `process starts in "/", want "/workspace"`,
		},
		{
			name:   "working directory read-only",
			marker: "pwd",
			resp:   response{exitCode: 1, stdout: "/workspace\n", stderr: "touch: cannot touch '.envprov-probe.1': Read-only file system\n"},
			check:  CheckWorkdir,
			detail: "/workspace is not writable",
		},
		{
			name:   "apt lists left behind",
			marker: "ls -A",
			resp:   response{stdout: "/var/lib/apt/lists\n"},
			check:  CheckCaches,
			detail: "not empty: /var/lib/apt/lists",
		},
		{
			name:   "version exits non-zero",
			marker: "--version",
			resp:   response{exitCode: 2, stderr: "unknown flag\n"},
			check:  CheckVersion,
			detail: "exited 2: unknown flag",
		},
		{
			name:   "version prints nothing",
			marker: "--version",
			resp:   response{},
			check:  CheckVersion,
			detail: "printed nothing",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			responses := healthyResponses()
			responses[tt.marker] = tt.resp
			eng := &scriptedEngine{images: map[string]bool{"img": true}, responses: responses}

			report, err := New(eng, nil).Verify(t.Context(), "img", testRecipe())
			if err != nil {
				t.Fatalf("Verify() error: %v", err)
			}
			if report.Passed() {
				t.Fatal("expected report to fail")
			}
			failed := report.Failed()
			if len(failed) != 1 || failed[0].Name != tt.check {
				t.Fatalf("failed checks = %+v, want only %s", failed, tt.check)
			}
			if !strings.HasPrefix(failed[0].Detail, tt.detail) {
				t.Errorf("detail = %q, want prefix %q", failed[0].Detail, tt.detail)
			}
		})
	}
}

func TestVerify_GoUsesVersionSubcommand(t *testing.T) {
	t.Parallel()

	r := testRecipe()
	r.Command = []string{"go"}
	r.PackageManager = recipe.PackageManagerAPK
	responses := healthyResponses()
	responses["go version"] = response{stdout: "go version go1.22.12 linux/amd64\n"}
	delete(responses, "--version")
	eng := &scriptedEngine{images: map[string]bool{"img": true}, responses: responses}

	report, err := New(eng, nil).Verify(t.Context(), "img", r)
	if err != nil {
		t.Fatalf("Verify() error: %v", err)
	}
	if !report.Passed() {
		t.Errorf("expected pass, failed: %+v", report.Failed())
	}

	cacheRun := eng.runs[2]
	if got := cacheRun.Command[len(cacheRun.Command)-1]; got != "/var/cache/apk" {
		t.Errorf("apk recipes should probe /var/cache/apk, got %q", got)
	}
}

func TestVerify_Errors(t *testing.T) {
	t.Parallel()

	t.Run("image missing", func(t *testing.T) {
		t.Parallel()

		eng := &scriptedEngine{images: map[string]bool{}}
		_, err := New(eng, nil).Verify(t.Context(), "nope", testRecipe())
		if !errors.Is(err, ErrImageNotFound) {
			t.Errorf("expected ErrImageNotFound, got %v", err)
		}
	})

	t.Run("engine cannot run", func(t *testing.T) {
		t.Parallel()

		runErr := errors.New("docker: not found")
		eng := &scriptedEngine{images: map[string]bool{"img": true}, runErr: runErr}
		_, err := New(eng, nil).Verify(t.Context(), "img", testRecipe())
		if !errors.Is(err, runErr) {
			t.Errorf("expected engine error, got %v", err)
		}
	})

	t.Run("invalid recipe", func(t *testing.T) {
		t.Parallel()

		r := testRecipe()
		r.Command = nil
		_, err := New(&scriptedEngine{}, nil).Verify(t.Context(), "img", r)
		if !errors.Is(err, recipe.ErrInvalidRecipe) {
			t.Errorf("expected ErrInvalidRecipe, got %v", err)
		}
	})
}

func TestReport_PassedEmpty(t *testing.T) {
	t.Parallel()

	if (&Report{}).Passed() {
		t.Error("a report without checks must not pass")
	}
}
