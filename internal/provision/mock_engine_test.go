// SPDX-License-Identifier: MPL-2.0

package provision

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/runner-service/envprov/internal/container"
	"github.com/runner-service/envprov/pkg/recipe"
)

// mockEngine implements container.Engine over an in-memory image set,
// for testing provisioner logic without requiring real Docker/Podman.
type mockEngine struct {
	mu sync.Mutex

	// images holds every image name present in local storage
	images map[string]bool
	// calls records mutating operations in order ("pull x", "tag a b", "build t", "run i", "rmi i")
	calls []string
	// containerfiles maps build tags to the Containerfile they were built from
	containerfiles map[string]string
	// labels maps build tags to their labels
	labels map[string]map[string]string

	// pullErr is returned by Pull
	pullErr error
	// buildErr maps a directive keyword (WORKDIR, RUN, CMD) to the error its build returns
	buildErr map[string]error
	// runExitCode is the exit status of Run
	runExitCode int
	// tagErr is returned by Tag when the target matches
	tagErr map[string]error
	// buildGate, when set, runs before each build with the directive keyword
	// of its last line and can block or fail it
	buildGate func(ctx context.Context, keyword string) error
}

func newMockEngine(images ...string) *mockEngine {
	m := &mockEngine{
		images:         make(map[string]bool),
		containerfiles: make(map[string]string),
		labels:         make(map[string]map[string]string),
		buildErr:       make(map[string]error),
		tagErr:         make(map[string]error),
	}
	for _, img := range images {
		m.images[img] = true
	}
	return m
}

func (m *mockEngine) record(format string, args ...any) {
	m.calls = append(m.calls, fmt.Sprintf(format, args...))
}

func (m *mockEngine) Name() string    { return "mock" }
func (m *mockEngine) Available() bool { return true }

func (m *mockEngine) Version(_ context.Context) (string, error) {
	return "mock-1.0.0", nil
}

func (m *mockEngine) Build(ctx context.Context, opts container.BuildOptions) error {
	data, err := os.ReadFile(filepath.Join(opts.ContextDir, opts.Dockerfile))
	if err != nil {
		return err
	}
	content := string(data)
	lines := strings.Split(strings.TrimSpace(content), "\n")
	keyword, _, _ := strings.Cut(lines[len(lines)-1], " ")

	if m.buildGate != nil {
		if err := m.buildGate(ctx, keyword); err != nil {
			return err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("build %s", opts.Tag)

	from := strings.TrimPrefix(lines[0], "FROM ")
	if !m.images[from] {
		return fmt.Errorf("parent image %s not found", from)
	}
	if err := m.buildErr[keyword]; err != nil {
		return err
	}

	m.containerfiles[opts.Tag] = content
	m.labels[opts.Tag] = opts.Labels
	m.images[opts.Tag] = true
	return nil
}

func (m *mockEngine) Run(_ context.Context, opts container.RunOptions) (*container.RunResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("run %s", opts.Image)
	return &container.RunResult{ExitCode: m.runExitCode}, nil
}

func (m *mockEngine) ImageExists(_ context.Context, image string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.images[image], nil
}

func (m *mockEngine) Pull(_ context.Context, image string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("pull %s", image)
	if m.pullErr != nil {
		return m.pullErr
	}
	m.images[image] = true
	return nil
}

func (m *mockEngine) Tag(_ context.Context, source, target string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("tag %s %s", source, target)
	if err := m.tagErr[target]; err != nil {
		return err
	}
	if !m.images[source] {
		return fmt.Errorf("no such image: %s", source)
	}
	m.images[target] = true
	return nil
}

func (m *mockEngine) RemoveImage(_ context.Context, image string, _ bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("rmi %s", image)
	if !m.images[image] {
		return errors.New("no such image")
	}
	delete(m.images, image)
	return nil
}

func (m *mockEngine) InspectImageID(_ context.Context, image string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.images[image] {
		return "", errors.New("no such image")
	}
	return "sha256:" + strings.Repeat("0", 8) + image, nil
}

// callsWithPrefix returns recorded calls starting with prefix.
func (m *mockEngine) callsWithPrefix(prefix string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, c := range m.calls {
		if strings.HasPrefix(c, prefix) {
			out = append(out, c)
		}
	}
	return out
}

func (m *mockEngine) allCalls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.calls)
}

func (m *mockEngine) hasImage(image string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.images[image]
}

func (m *mockEngine) resetCalls() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

// testConfig returns a config whose build contexts live in a test temp dir.
func testConfig(t *testing.T) *Config {
	t.Helper()
	return &Config{
		LayerRepository: DefaultLayerRepository,
		TagPrefix:       DefaultTagPrefix,
		Check:           true,
		BuildContextDir: t.TempDir(),
	}
}

// cRecipe returns the C compiler recipe with one package.
func cRecipe() *recipe.Recipe {
	return &recipe.Recipe{
		Name:     "c",
		Base:     "gcc:latest",
		Workdir:  "/workspace",
		Packages: []recipe.PackageName{"make"},
		Command:  []string{"gcc"},
	}
}
