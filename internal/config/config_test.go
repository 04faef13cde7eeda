// SPDX-License-Identifier: MPL-2.0

package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/runner-service/envprov/internal/issue"
)

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, ConfigFileName+"."+ConfigFileExt)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaultConfig(t *testing.T) {
	t.Setenv("XDG_CACHE_HOME", "/tmp/xdg-cache")

	cfg := DefaultConfig()

	if cfg.ContainerEngine != ContainerEngineDocker {
		t.Errorf("expected default container engine to be docker, got %s", cfg.ContainerEngine)
	}
	if cfg.CacheDir != filepath.Join("/tmp/xdg-cache", AppName, "steps") {
		t.Errorf("unexpected cache dir %q", cfg.CacheDir)
	}
	if !cfg.Check {
		t.Error("expected the pre-publish check to be enabled by default")
	}
	if cfg.Retries != 0 {
		t.Errorf("expected no retries by default, got %d", cfg.Retries)
	}
	if cfg.LogLevel != LogLevelInfo {
		t.Errorf("expected info log level, got %s", cfg.LogLevel)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should be valid: %v", err)
	}
}

func TestConfigDir(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/tmp/test-xdg-config")

	dir, err := ConfigDir()
	if err != nil {
		t.Fatalf("ConfigDir() returned error: %v", err)
	}
	if want := filepath.Join("/tmp/test-xdg-config", AppName); dir != want {
		t.Errorf("ConfigDir() = %s, want %s", dir, want)
	}

	t.Setenv("XDG_CONFIG_HOME", "")
	dir, err = ConfigDir()
	if err != nil {
		t.Fatalf("ConfigDir() returned error: %v", err)
	}
	home, _ := os.UserHomeDir()
	if want := filepath.Join(home, ".config", AppName); dir != want {
		t.Errorf("ConfigDir() = %s, want %s", dir, want)
	}
}

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	t.Parallel()

	cfg, path, err := NewProvider().Load(t.Context(), LoadOptions{ConfigDirPath: t.TempDir()})
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if path != "" {
		t.Errorf("expected no config file, got %q", path)
	}
	if cfg.ContainerEngine != ContainerEngineDocker || !cfg.Check || cfg.RetryBackoff != 2*time.Second {
		t.Errorf("expected defaults, got %+v", cfg)
	}
}

func TestLoad_File(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	want := writeConfig(t, dir, `
container_engine: "podman"
cache_dir:        "/var/cache/envprov"
tag_prefix:       "runner"
tag_suffix:       "ci"
check:            false
parallelism:      3
retries:          2
retry_backoff:    "500ms"
log_level:        "debug"
metrics_file:     "/var/lib/node_exporter/envprov.prom"
`)

	cfg, path, err := NewProvider().Load(t.Context(), LoadOptions{ConfigDirPath: dir})
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if path != want {
		t.Errorf("path = %q, want %q", path, want)
	}

	expected := Config{
		ContainerEngine: ContainerEnginePodman,
		CacheDir:        "/var/cache/envprov",
		TagPrefix:       "runner",
		TagSuffix:       "ci",
		Check:           false,
		Parallelism:     3,
		Retries:         2,
		RetryBackoff:    500 * time.Millisecond,
		LogLevel:        LogLevelDebug,
		MetricsFile:     "/var/lib/node_exporter/envprov.prom",
	}
	if *cfg != expected {
		t.Errorf("Load() =\n%+v\nwant\n%+v", *cfg, expected)
	}
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeConfig(t, dir, `retries: 1`)

	cfg, _, err := NewProvider().Load(t.Context(), LoadOptions{ConfigDirPath: dir})
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Retries != 1 {
		t.Errorf("Retries = %d, want 1", cfg.Retries)
	}
	if cfg.ContainerEngine != ContainerEngineDocker || !cfg.Check {
		t.Errorf("unset fields should keep defaults, got %+v", cfg)
	}
}

func TestLoad_InvalidFiles(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		wantMsg string
	}{
		{"unknown engine", `container_engine: "lxc"`, "container_engine"},
		{"unknown field", `engine: "docker"`, "engine"},
		{"negative retries", `retries: -1`, "retries"},
		{"bad backoff", `retry_backoff: "soon"`, "retry_backoff"},
		{"syntax error", `retries: [`, ""},
		{"bad tag prefix", `tag_prefix: "Has Spaces"`, "tag_prefix"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			dir := t.TempDir()
			writeConfig(t, dir, tt.content)

			_, _, err := NewProvider().Load(t.Context(), LoadOptions{ConfigDirPath: dir})
			if err == nil {
				t.Fatal("expected error")
			}
			var ae *issue.ActionableError
			if !errors.As(err, &ae) {
				t.Fatalf("expected *issue.ActionableError, got %T: %v", err, err)
			}
			if guide, ok := issue.GuideFor(err); !ok || guide != issue.ConfigLoadFailedId {
				t.Errorf("GuideFor() = %v, %v", guide, ok)
			}
			if tt.wantMsg != "" && !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("error %q should mention %q", err, tt.wantMsg)
			}
		})
	}
}

func TestLoad_ExplicitFile(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, t.TempDir(), `parallelism: 5`)
	cfg, got, err := NewProvider().Load(t.Context(), LoadOptions{ConfigFilePath: path})
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if got != path || cfg.Parallelism != 5 {
		t.Errorf("Load() = %+v from %q", cfg, got)
	}

	_, _, err = NewProvider().Load(t.Context(), LoadOptions{ConfigFilePath: filepath.Join(t.TempDir(), "missing.cue")})
	if err == nil || !strings.Contains(err.Error(), "config file not found") {
		t.Errorf("expected not found error, got %v", err)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `retries: 1
check: true`)
	t.Setenv("ENVPROV_RETRIES", "4")
	t.Setenv("ENVPROV_CHECK", "false")
	t.Setenv("ENVPROV_CONTAINER_ENGINE", "podman")
	t.Setenv("ENVPROV_RETRY_BACKOFF", "3s")

	cfg, _, err := NewProvider().Load(t.Context(), LoadOptions{ConfigDirPath: dir})
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Retries != 4 || cfg.Check || cfg.ContainerEngine != ContainerEnginePodman || cfg.RetryBackoff != 3*time.Second {
		t.Errorf("environment should override the file, got %+v", cfg)
	}
}

func TestLoad_InvalidEnv(t *testing.T) {
	t.Setenv("ENVPROV_LOG_LEVEL", "chatty")

	_, _, err := NewProvider().Load(t.Context(), LoadOptions{ConfigDirPath: t.TempDir()})
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
	if !errors.Is(err, ErrInvalidLogLevel) {
		t.Errorf("expected ErrInvalidLogLevel, got %v", err)
	}
}

func TestLoad_Canceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	if _, _, err := NewProvider().Load(ctx, LoadOptions{ConfigDirPath: t.TempDir()}); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestGenerateCUE_LoadsBack(t *testing.T) {
	t.Parallel()

	in := DefaultConfig()
	in.TagSuffix = "nightly"
	in.Retries = 3
	in.RetryBackoff = 90 * time.Second
	in.MetricsFile = "/tmp/envprov.prom"

	dir := t.TempDir()
	writeConfig(t, dir, GenerateCUE(in))

	out, _, err := NewProvider().Load(t.Context(), LoadOptions{ConfigDirPath: dir})
	if err != nil {
		t.Fatalf("generated config does not load: %v\n%s", err, GenerateCUE(in))
	}
	if *out != *in {
		t.Errorf("loaded config differs:\n got %+v\nwant %+v", *out, *in)
	}
}

func TestFormatBackoff(t *testing.T) {
	t.Parallel()

	tests := map[time.Duration]string{
		2 * time.Second:        "2s",
		90 * time.Second:       "90s",
		2 * time.Minute:        "2m",
		250 * time.Millisecond: "250ms",
		0:                      "0s",
	}
	for d, want := range tests {
		if got := formatBackoff(d); got != want {
			t.Errorf("formatBackoff(%s) = %q, want %q", d, got, want)
		}
	}
}

func TestCreateDefaultConfig(t *testing.T) {
	dir := t.TempDir()
	SetConfigDirOverride(dir)
	t.Cleanup(Reset)

	path, created, err := CreateDefaultConfig()
	if err != nil {
		t.Fatalf("CreateDefaultConfig() error: %v", err)
	}
	if !created || path != filepath.Join(dir, "config.cue") {
		t.Errorf("CreateDefaultConfig() = %q, %v", path, created)
	}

	if err := os.WriteFile(path, []byte("retries: 7\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, created, err = CreateDefaultConfig()
	if err != nil || created {
		t.Errorf("existing config must not be overwritten: created=%v err=%v", created, err)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "retries: 7\n" {
		t.Errorf("config was modified: %q", data)
	}
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	valid := Config{ContainerEngine: ContainerEngineDocker, CacheDir: "/c", LogLevel: LogLevelInfo}

	tests := []struct {
		name       string
		mutate     func(*Config)
		wantFields int
	}{
		{"valid", func(*Config) {}, 0},
		{"bad engine", func(c *Config) { c.ContainerEngine = "lxc" }, 1},
		{"empty cache dir", func(c *Config) { c.CacheDir = " " }, 1},
		{"negatives", func(c *Config) { c.Parallelism = -1; c.Retries = -1; c.RetryBackoff = -time.Second }, 3},
		{"bad level", func(c *Config) { c.LogLevel = "" }, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := valid
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantFields == 0 {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
				return
			}
			var ce *InvalidConfigError
			if !errors.As(err, &ce) {
				t.Fatalf("expected *InvalidConfigError, got %T: %v", err, err)
			}
			if len(ce.FieldErrors) != tt.wantFields {
				t.Errorf("expected %d field errors, got %d: %v", tt.wantFields, len(ce.FieldErrors), ce.FieldErrors)
			}
		})
	}
}

func TestLoadOptions_Validate(t *testing.T) {
	t.Parallel()

	if err := (LoadOptions{}).Validate(); err != nil {
		t.Errorf("empty LoadOptions should be valid, got error: %v", err)
	}
	err := LoadOptions{ConfigFilePath: "   ", ConfigDirPath: "\t"}.Validate()
	if !errors.Is(err, ErrInvalidLoadOptions) {
		t.Fatalf("error should wrap ErrInvalidLoadOptions, got: %v", err)
	}
	var loadErr *InvalidLoadOptionsError
	if !errors.As(err, &loadErr) || len(loadErr.FieldErrors) != 2 {
		t.Errorf("expected 2 field errors, got %v", err)
	}
}
