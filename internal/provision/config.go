// SPDX-License-Identifier: MPL-2.0

package provision

import (
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"slices"
	"strings"

	"github.com/distribution/reference"

	"github.com/runner-service/envprov/pkg/recipe"
)

const (
	// DefaultLayerRepository names the intermediate step images.
	DefaultLayerRepository = "envprov-layer"
	// DefaultTagPrefix is the repository namespace of final artifacts.
	DefaultTagPrefix = "envprov"

	// LabelRecipeKey carries the recipe key on the final artifact.
	LabelRecipeKey = "io.envprov.recipe-key"

	// TagSuffixEnv overrides Config.TagSuffix in DefaultConfig.
	TagSuffixEnv = "ENVPROV_TAG_SUFFIX"
)

var (
	// ErrInvalidProvisionConfig is the sentinel error wrapped by InvalidProvisionConfigError.
	ErrInvalidProvisionConfig = errors.New("invalid provision config")

	tagSuffixPattern = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9_.-]{0,63}$`)
)

type (
	// Config holds the settings of one provisioning run.
	Config struct {
		// LayerRepository is the repository of intermediate step images.
		// Default: envprov-layer
		LayerRepository string

		// TagPrefix is prepended to the recipe name in the default artifact tag.
		// Empty means the tag is just "<name>:<key>".
		TagPrefix string

		// TagSuffix is an optional suffix appended to the default artifact tag.
		// This enables test isolation by making each test's images unique.
		// Can be set via the ENVPROV_TAG_SUFFIX environment variable.
		TagSuffix string

		// Tags replaces the default artifact tag when non-empty.
		Tags []string

		// Check runs the pre-publish check before tagging.
		Check bool

		// NoCache ignores recorded steps and rebuilds every step.
		NoCache bool

		// BuildContextDir is where temporary build contexts are created.
		// Empty selects a visible directory under $HOME.
		BuildContextDir string

		// Output receives engine build output. Nil discards it.
		Output io.Writer
	}

	// Option is a functional option for configuring a Config.
	Option func(*Config)

	// InvalidProvisionConfigError is returned when Config.Validate finds problems.
	InvalidProvisionConfigError struct {
		FieldErrors []error
	}
)

// Error implements the error interface.
func (e *InvalidProvisionConfigError) Error() string {
	msgs := make([]string, len(e.FieldErrors))
	for i, err := range e.FieldErrors {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("invalid provision config (%d errors): %s", len(e.FieldErrors), strings.Join(msgs, "; "))
}

// Unwrap returns ErrInvalidProvisionConfig for errors.Is() compatibility.
func (e *InvalidProvisionConfigError) Unwrap() error { return ErrInvalidProvisionConfig }

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		LayerRepository: DefaultLayerRepository,
		TagPrefix:       DefaultTagPrefix,
		TagSuffix:       os.Getenv(TagSuffixEnv),
		Check:           true,
	}
}

// WithTags returns an Option that replaces the default artifact tag.
func WithTags(tags ...string) Option {
	return func(c *Config) {
		c.Tags = slices.Clone(tags)
	}
}

// WithTagPrefix returns an Option that sets TagPrefix on the config.
func WithTagPrefix(prefix string) Option {
	return func(c *Config) {
		c.TagPrefix = prefix
	}
}

// WithTagSuffix returns an Option that sets TagSuffix on the config.
// This is primarily used for test isolation to ensure parallel tests
// don't compete for the same artifact tags.
func WithTagSuffix(suffix string) Option {
	return func(c *Config) {
		c.TagSuffix = suffix
	}
}

// WithLayerRepository returns an Option that sets LayerRepository on the config.
func WithLayerRepository(repo string) Option {
	return func(c *Config) {
		c.LayerRepository = repo
	}
}

// WithCheck returns an Option that enables or disables the pre-publish check.
func WithCheck(check bool) Option {
	return func(c *Config) {
		c.Check = check
	}
}

// WithNoCache returns an Option that sets NoCache on the config.
func WithNoCache(noCache bool) Option {
	return func(c *Config) {
		c.NoCache = noCache
	}
}

// WithBuildContextDir returns an Option that sets BuildContextDir on the config.
func WithBuildContextDir(dir string) Option {
	return func(c *Config) {
		c.BuildContextDir = dir
	}
}

// WithOutput returns an Option that streams engine build output to w.
func WithOutput(w io.Writer) Option {
	return func(c *Config) {
		c.Output = w
	}
}

// Apply applies the given options to the config.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}

// Clone returns a copy of the config that can be modified independently.
func (c *Config) Clone() *Config {
	out := *c
	out.Tags = slices.Clone(c.Tags)
	return &out
}

// Validate checks the tag settings. A zero Config is valid.
func (c *Config) Validate() error {
	var errs []error

	if c.LayerRepository != "" {
		if _, err := reference.ParseNormalizedNamed(c.LayerRepository); err != nil {
			errs = append(errs, fmt.Errorf("layer repository %q: %w", c.LayerRepository, err))
		}
	}
	if c.TagPrefix != "" {
		if _, err := reference.ParseNormalizedNamed(c.TagPrefix + "/x"); err != nil {
			errs = append(errs, fmt.Errorf("tag prefix %q: %w", c.TagPrefix, err))
		}
	}
	if c.TagSuffix != "" && !tagSuffixPattern.MatchString(c.TagSuffix) {
		errs = append(errs, fmt.Errorf("tag suffix %q contains characters not allowed in a tag", c.TagSuffix))
	}
	for _, tag := range c.Tags {
		if err := validateTag(tag); err != nil {
			errs = append(errs, err)
		}
	}
	if strings.TrimSpace(c.BuildContextDir) == "" && c.BuildContextDir != "" {
		errs = append(errs, errors.New("build context directory must not be whitespace"))
	}

	if len(errs) > 0 {
		return &InvalidProvisionConfigError{FieldErrors: errs}
	}
	return nil
}

// LayerRef returns the intermediate image reference of the step with key.
func (c *Config) LayerRef(key recipe.StepKey) string {
	repo := c.LayerRepository
	if repo == "" {
		repo = DefaultLayerRepository
	}
	return repo + ":" + key.String()
}

// ArtifactTags returns the tags applied to the final artifact of r.
// Explicit Tags win; otherwise the tag is "<prefix>/<name>:<key12>[-suffix]".
func (c *Config) ArtifactTags(r *recipe.Recipe, key recipe.StepKey) []string {
	if len(c.Tags) > 0 {
		return slices.Clone(c.Tags)
	}
	repo := r.DisplayName()
	if c.TagPrefix != "" {
		repo = c.TagPrefix + "/" + repo
	}
	tag := key.Short()
	if c.TagSuffix != "" {
		tag += "-" + c.TagSuffix
	}
	return []string{repo + ":" + tag}
}

// validateTag rejects references that cannot name a local image.
func validateTag(tag string) error {
	named, err := reference.ParseNormalizedNamed(tag)
	if err != nil {
		return fmt.Errorf("tag %q: %w", tag, err)
	}
	if _, ok := named.(reference.Digested); ok {
		return fmt.Errorf("tag %q: digest references cannot be used as tags", tag)
	}
	return nil
}
