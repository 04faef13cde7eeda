// SPDX-License-Identifier: MPL-2.0

package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	// ContainerEnginePodman uses Podman as the container runtime.
	ContainerEnginePodman ContainerEngine = "podman"
	// ContainerEngineDocker uses Docker as the container runtime.
	ContainerEngineDocker ContainerEngine = "docker"

	// LogLevelDebug logs every step decision.
	LogLevelDebug LogLevel = "debug"
	// LogLevelInfo logs built steps and finished builds.
	LogLevelInfo LogLevel = "info"
	// LogLevelWarn logs cache problems and failures only.
	LogLevelWarn LogLevel = "warn"
	// LogLevelError logs failures only.
	LogLevelError LogLevel = "error"
)

var (
	// ErrInvalidContainerEngine is returned when a ContainerEngine value is not recognized.
	ErrInvalidContainerEngine = errors.New("invalid container engine")
	// ErrInvalidLogLevel is returned when a LogLevel value is not recognized.
	ErrInvalidLogLevel = errors.New("invalid log level")
	// ErrInvalidConfig is the sentinel error wrapped by InvalidConfigError.
	ErrInvalidConfig = errors.New("invalid config")
)

type (
	// ContainerEngine specifies which container runtime to use.
	ContainerEngine string

	// LogLevel is the configured logging verbosity.
	LogLevel string

	// Config holds the application configuration.
	Config struct {
		// ContainerEngine is the preferred engine: "podman" or "docker".
		ContainerEngine ContainerEngine `json:"container_engine" mapstructure:"container_engine"`
		// CacheDir is the step cache directory.
		CacheDir string `json:"cache_dir" mapstructure:"cache_dir"`
		// TagPrefix is the repository namespace of default artifact tags.
		TagPrefix string `json:"tag_prefix" mapstructure:"tag_prefix"`
		// TagSuffix is appended to default artifact tags.
		TagSuffix string `json:"tag_suffix" mapstructure:"tag_suffix"`
		// Check runs the pre-publish default command check.
		Check bool `json:"check" mapstructure:"check"`
		// Parallelism bounds concurrent builds; 0 means unbounded.
		Parallelism int `json:"parallelism" mapstructure:"parallelism"`
		// Retries is how many times a build failing with a transient engine
		// error is retried.
		Retries int `json:"retries" mapstructure:"retries"`
		// RetryBackoff is the wait before the first retry.
		RetryBackoff time.Duration `json:"retry_backoff" mapstructure:"retry_backoff"`
		// LogLevel is the logging verbosity.
		LogLevel LogLevel `json:"log_level" mapstructure:"log_level"`
		// MetricsFile receives build metrics in the textfile format when set.
		MetricsFile string `json:"metrics_file" mapstructure:"metrics_file"`
	}

	// InvalidConfigError is returned when Config.Validate finds problems.
	// It wraps ErrInvalidConfig for errors.Is() compatibility.
	InvalidConfigError struct {
		FieldErrors []error
	}
)

// String returns the string representation of the ContainerEngine.
func (ce ContainerEngine) String() string { return string(ce) }

// Validate returns an error if the engine is not podman or docker.
func (ce ContainerEngine) Validate() error {
	switch ce {
	case ContainerEnginePodman, ContainerEngineDocker:
		return nil
	default:
		return fmt.Errorf("%w: %q (valid: podman, docker)", ErrInvalidContainerEngine, string(ce))
	}
}

// String returns the string representation of the LogLevel.
func (l LogLevel) String() string { return string(l) }

// Validate returns an error if the level is not recognized.
func (l LogLevel) Validate() error {
	switch l {
	case LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError:
		return nil
	default:
		return fmt.Errorf("%w: %q (valid: debug, info, warn, error)", ErrInvalidLogLevel, string(l))
	}
}

// Error implements the error interface.
func (e *InvalidConfigError) Error() string {
	msgs := make([]string, len(e.FieldErrors))
	for i, err := range e.FieldErrors {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("invalid config (%d errors): %s", len(e.FieldErrors), strings.Join(msgs, "; "))
}

// Unwrap returns ErrInvalidConfig and the field errors, so errors.Is()
// matches both the sentinel and field sentinels such as ErrInvalidLogLevel.
func (e *InvalidConfigError) Unwrap() []error {
	return append([]error{ErrInvalidConfig}, e.FieldErrors...)
}

// Validate checks every field. Values loaded from files are already checked
// by the schema; this catches environment and flag overrides.
func (c *Config) Validate() error {
	var errs []error
	if err := c.ContainerEngine.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := c.LogLevel.Validate(); err != nil {
		errs = append(errs, err)
	}
	if strings.TrimSpace(c.CacheDir) == "" {
		errs = append(errs, errors.New("cache_dir must not be empty"))
	}
	if c.Parallelism < 0 {
		errs = append(errs, fmt.Errorf("parallelism must not be negative, got %d", c.Parallelism))
	}
	if c.Retries < 0 {
		errs = append(errs, fmt.Errorf("retries must not be negative, got %d", c.Retries))
	}
	if c.RetryBackoff < 0 {
		errs = append(errs, fmt.Errorf("retry_backoff must not be negative, got %s", c.RetryBackoff))
	}
	if len(errs) > 0 {
		return &InvalidConfigError{FieldErrors: errs}
	}
	return nil
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	cacheDir, err := CacheDir()
	if err != nil {
		cacheDir = ".envprov-cache"
	}
	return &Config{
		ContainerEngine: ContainerEngineDocker,
		CacheDir:        cacheDir,
		TagPrefix:       "envprov",
		Check:           true,
		Parallelism:     0,
		Retries:         0,
		RetryBackoff:    2 * time.Second,
		LogLevel:        LogLevelInfo,
	}
}
