// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/runner-service/envprov/internal/config"
	"github.com/runner-service/envprov/internal/container"
)

type (
	// fakeEngine keeps an in-memory image set and records pulls, builds
	// and tags, for exercising commands without Docker/Podman.
	fakeEngine struct {
		mu sync.Mutex

		images map[string]bool
		calls  []string

		pullErr     error
		runExitCode int
		// runFunc answers Run when set, returning stdout and exit status
		runFunc func(opts container.RunOptions) (string, int)
	}

	// stubProvider returns a fixed configuration.
	stubProvider struct {
		cfg *config.Config
		err error
	}

	// testApp bundles an App with its captured output.
	testApp struct {
		app    *App
		engine *fakeEngine
		stdout *bytes.Buffer
		stderr *bytes.Buffer
	}
)

func newFakeEngine(images ...string) *fakeEngine {
	e := &fakeEngine{images: make(map[string]bool)}
	for _, img := range images {
		e.images[img] = true
	}
	return e
}

func (e *fakeEngine) Name() string    { return "fake" }
func (e *fakeEngine) Available() bool { return true }

func (e *fakeEngine) Version(context.Context) (string, error) { return "fake-1.0", nil }

func (e *fakeEngine) Build(_ context.Context, opts container.BuildOptions) error {
	data, err := os.ReadFile(filepath.Join(opts.ContextDir, opts.Dockerfile))
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, "build "+opts.Tag)

	first, _, _ := strings.Cut(string(data), "\n")
	if parent := strings.TrimPrefix(first, "FROM "); !e.images[parent] {
		return fmt.Errorf("parent image %s not found", parent)
	}
	e.images[opts.Tag] = true
	return nil
}

func (e *fakeEngine) Run(_ context.Context, opts container.RunOptions) (*container.RunResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, "run "+opts.Image)
	if e.runFunc == nil {
		return &container.RunResult{ExitCode: e.runExitCode}, nil
	}
	out, code := e.runFunc(opts)
	if opts.Stdout != nil {
		fmt.Fprint(opts.Stdout, out)
	}
	return &container.RunResult{ExitCode: code}, nil
}

func (e *fakeEngine) ImageExists(_ context.Context, image string) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.images[image], nil
}

func (e *fakeEngine) Pull(_ context.Context, image string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, "pull "+image)
	if e.pullErr != nil {
		return e.pullErr
	}
	e.images[image] = true
	return nil
}

func (e *fakeEngine) Tag(_ context.Context, source, target string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, "tag "+source+" "+target)
	if !e.images[source] {
		return fmt.Errorf("no such image: %s", source)
	}
	e.images[target] = true
	return nil
}

func (e *fakeEngine) RemoveImage(_ context.Context, image string, _ bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, "rmi "+image)
	if !e.images[image] {
		return errors.New("no such image")
	}
	delete(e.images, image)
	return nil
}

func (e *fakeEngine) InspectImageID(_ context.Context, image string) (string, error) {
	return "sha256:" + image, nil
}

func (e *fakeEngine) hasImage(image string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.images[image]
}

func (e *fakeEngine) callsWithPrefix(prefix string) []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []string
	for _, c := range e.calls {
		if strings.HasPrefix(c, prefix) {
			out = append(out, c)
		}
	}
	return out
}

func (p *stubProvider) Load(context.Context, config.LoadOptions) (*config.Config, string, error) {
	if p.err != nil {
		return nil, "", p.err
	}
	cfg := *p.cfg
	return &cfg, "", nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.CacheDir = filepath.Join(t.TempDir(), "steps")
	cfg.TagSuffix = ""
	cfg.LogLevel = config.LogLevelError
	return cfg
}

func newTestApp(t *testing.T, cfg *config.Config, engine *fakeEngine) *testApp {
	t.Helper()
	ta := &testApp{engine: engine, stdout: &bytes.Buffer{}, stderr: &bytes.Buffer{}}
	ta.app = NewApp(Dependencies{
		Config: &stubProvider{cfg: cfg},
		NewEngine: func(container.EngineType) (container.Engine, error) {
			if engine == nil {
				return nil, &container.EngineNotAvailableError{Engine: "docker", Reason: "not installed"}
			}
			return engine, nil
		},
		Stdout:          ta.stdout,
		Stderr:          ta.stderr,
		GuideStyle:      "notty",
		BuildContextDir: t.TempDir(),
	})
	return ta
}

// run executes the command line against a fresh command tree.
func (ta *testApp) run(t *testing.T, args ...string) error {
	t.Helper()
	root := NewRootCommand(ta.app)
	root.SetArgs(args)
	root.SetOut(ta.stdout)
	root.SetErr(ta.stderr)
	return root.ExecuteContext(t.Context())
}

// exitCode returns the status err would make the process exit with.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return 1
}

func writeRecipe(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write recipe: %v", err)
	}
	return path
}
