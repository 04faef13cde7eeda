// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"errors"
	"strings"
	"testing"

	"github.com/runner-service/envprov/internal/config"
	"github.com/runner-service/envprov/internal/container"
	"github.com/runner-service/envprov/internal/provision"
	"github.com/runner-service/envprov/pkg/recipe"
)

// healthyImage answers verification probes the way a correctly built
// C image would.
func healthyImage(opts container.RunOptions) (string, int) {
	if opts.Entrypoint == "" {
		return "gcc (GCC) 14.2.0\n", 0
	}
	script := opts.Command[1]
	switch {
	case strings.Contains(script, "command -v"):
		return "/usr/local/bin/gcc\n", 0
	case strings.Contains(script, "pwd"):
		return "/workspace\n", 0
	default:
		return "", 0
	}
}

func TestRender(t *testing.T) {
	t.Parallel()

	ta := newTestApp(t, testConfig(t), nil)
	if err := ta.run(t, "render", "c"); err != nil {
		t.Fatalf("render c: %v", err)
	}

	r, err := recipe.Preset("c")
	if err != nil {
		t.Fatal(err)
	}
	if got := ta.stdout.String(); got != r.Dockerfile() {
		t.Errorf("render output = %q, want %q", got, r.Dockerfile())
	}
}

func TestRender_RecipeFile(t *testing.T) {
	t.Parallel()

	ta := newTestApp(t, testConfig(t), nil)
	if err := ta.run(t, "render", writeRecipe(t, "c.recipe", cRecipeWithMake)); err != nil {
		t.Fatalf("render: %v", err)
	}
	out := ta.stdout.String()
	for _, want := range []string{"FROM gcc:latest", "WORKDIR /workspace", "make", "rm -rf /var/lib/apt/lists/*", `CMD ["gcc"]`} {
		if !strings.Contains(out, want) {
			t.Errorf("render output lacks %q:\n%s", want, out)
		}
	}
}

func TestPlan(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	engine := newFakeEngine("gcc:latest")

	before := newTestApp(t, cfg, engine)
	if err := before.run(t, "plan", "c"); err != nil {
		t.Fatalf("plan: %v", err)
	}
	if strings.Contains(before.stdout.String(), "cached") {
		t.Errorf("plan before any build reports cached steps:\n%s", before.stdout)
	}
	if builds := engine.callsWithPrefix("build"); len(builds) != 0 {
		t.Errorf("plan built images: %v", builds)
	}

	if err := newTestApp(t, cfg, engine).run(t, "build", "c"); err != nil {
		t.Fatalf("build: %v", err)
	}

	after := newTestApp(t, cfg, engine)
	if err := after.run(t, "plan", "c"); err != nil {
		t.Fatalf("plan: %v", err)
	}
	out := after.stdout.String()
	if got := strings.Count(out, "cached"); got != 4 {
		t.Errorf("plan after build shows %d cached steps, want 4:\n%s", got, out)
	}
	if !strings.Contains(out, "envprov/c:"+presetKey(t, "c").Short()) {
		t.Errorf("plan lacks the default tag:\n%s", out)
	}
	if !strings.Contains(out, "RUN rm -rf /var/lib/apt/lists/*") {
		t.Errorf("plan does not show the cache purge of the empty package step:\n%s", out)
	}
}

func TestVerify(t *testing.T) {
	t.Parallel()

	t.Run("healthy image", func(t *testing.T) {
		t.Parallel()
		engine := newFakeEngine("envprov/c:1")
		engine.runFunc = healthyImage
		ta := newTestApp(t, testConfig(t), engine)

		if err := ta.run(t, "verify", "envprov/c:1", "--recipe", "c"); err != nil {
			t.Fatalf("verify: %v\nstdout: %s", err, ta.stdout)
		}
		if !strings.Contains(ta.stdout.String(), "all checks passed") {
			t.Errorf("stdout = %q", ta.stdout)
		}
	})

	t.Run("executable missing", func(t *testing.T) {
		t.Parallel()
		engine := newFakeEngine("envprov/c:1")
		engine.runFunc = func(opts container.RunOptions) (string, int) {
			if opts.Entrypoint != "" && strings.Contains(opts.Command[1], "command -v") {
				return "", 127
			}
			return healthyImage(opts)
		}
		ta := newTestApp(t, testConfig(t), engine)

		err := ta.run(t, "verify", "envprov/c:1", "--recipe", "c")
		if !errors.Is(err, errVerificationFailed) || exitCode(err) != 1 {
			t.Fatalf("verify error = %v, want verification failure", err)
		}
		if !strings.Contains(ta.stdout.String(), "1 of 4 checks failed") {
			t.Errorf("stdout = %q", ta.stdout)
		}
	})

	t.Run("image missing", func(t *testing.T) {
		t.Parallel()
		ta := newTestApp(t, testConfig(t), newFakeEngine())

		err := ta.run(t, "verify", "envprov/c:1", "--recipe", "c")
		if exitCode(err) != provision.ExitFailure {
			t.Fatalf("exit code = %d, want %d", exitCode(err), provision.ExitFailure)
		}
		if !strings.Contains(ta.stderr.String(), "envprov/c:1") {
			t.Errorf("stderr = %q, want the image name", ta.stderr)
		}
	})
}

func TestPresets(t *testing.T) {
	t.Parallel()

	ta := newTestApp(t, testConfig(t), nil)
	if err := ta.run(t, "presets"); err != nil {
		t.Fatalf("presets: %v", err)
	}
	out := ta.stdout.String()
	for _, name := range recipe.PresetNames() {
		if !strings.Contains(out, name) {
			t.Errorf("presets output lacks %q:\n%s", name, out)
		}
	}
	if !strings.Contains(out, "gcc:latest") {
		t.Errorf("presets output lacks the C base image:\n%s", out)
	}
}

func TestCache_ListAndPrune(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	engine := newFakeEngine("gcc:latest")

	empty := newTestApp(t, cfg, nil)
	if err := empty.run(t, "cache", "ls"); err != nil {
		t.Fatalf("cache ls: %v", err)
	}
	if !strings.Contains(empty.stdout.String(), "no recorded steps") {
		t.Errorf("cache ls on empty cache = %q", empty.stdout)
	}

	if err := newTestApp(t, cfg, engine).run(t, "build", "c"); err != nil {
		t.Fatalf("build: %v", err)
	}

	ls := newTestApp(t, cfg, nil)
	if err := ls.run(t, "cache", "ls"); err != nil {
		t.Fatalf("cache ls: %v", err)
	}
	if got := strings.Count(ls.stdout.String(), "envprov-layer:"); got != 4 {
		t.Errorf("cache ls lists %d steps, want 4:\n%s", got, ls.stdout)
	}

	prune := newTestApp(t, cfg, engine)
	if err := prune.run(t, "cache", "prune"); err != nil {
		t.Fatalf("cache prune: %v\nstderr: %s", err, prune.stderr)
	}
	if !strings.Contains(prune.stdout.String(), "pruned 4 step(s)") {
		t.Errorf("cache prune output = %q", prune.stdout)
	}
	if !engine.hasImage("envprov/c:" + presetKey(t, "c").Short()) {
		t.Error("prune removed the published artifact tag")
	}
}

func TestConfigShow(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.TagPrefix = "runners"
	ta := newTestApp(t, cfg, nil)

	if err := ta.run(t, "config", "show"); err != nil {
		t.Fatalf("config show: %v", err)
	}
	out := ta.stdout.String()
	for _, want := range []string{"tag_prefix: runners", "container_engine: docker", "(using defaults)"} {
		if !strings.Contains(out, want) {
			t.Errorf("config show lacks %q:\n%s", want, out)
		}
	}
}

func TestConfigDump_Overrides(t *testing.T) {
	t.Parallel()

	ta := newTestApp(t, testConfig(t), nil)
	if err := ta.run(t, "--engine", "podman", "--log-level", "warn", "config", "dump"); err != nil {
		t.Fatalf("config dump: %v", err)
	}
	out := ta.stdout.String()
	if !strings.Contains(out, `container_engine: "podman"`) || !strings.Contains(out, `log_level:        "warn"`) {
		t.Errorf("config dump ignores flag overrides:\n%s", out)
	}
}

func TestGlobalFlags_InvalidOverride(t *testing.T) {
	t.Parallel()

	ta := newTestApp(t, testConfig(t), nil)
	err := ta.run(t, "--engine", "containerd", "config", "show")
	if err == nil {
		t.Fatal("expected an error for an unknown engine")
	}
	if !errors.Is(err, config.ErrInvalidContainerEngine) {
		t.Errorf("error = %v, want ErrInvalidContainerEngine", err)
	}
}

func TestConfigLoadFailure(t *testing.T) {
	t.Parallel()

	ta := newTestApp(t, testConfig(t), nil)
	ta.app.Config = &stubProvider{err: errors.New("config.cue: syntax error")}

	err := ta.run(t, "build", "c")
	if exitCode(err) != provision.ExitFailure {
		t.Errorf("exit code = %d, want %d", exitCode(err), provision.ExitFailure)
	}
	if !strings.Contains(ta.stderr.String(), "syntax error") {
		t.Errorf("stderr = %q", ta.stderr)
	}
}
