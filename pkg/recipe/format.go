// SPDX-License-Identifier: MPL-2.0

package recipe

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/runner-service/envprov/pkg/cueutil"
)

const (
	// FormatDockerfile is the line-oriented FROM/WORKDIR/RUN/CMD format.
	FormatDockerfile Format = "dockerfile"
	// FormatCUE is a CUE document validated against the #Recipe schema.
	FormatCUE Format = "cue"
	// FormatTOML is a TOML document.
	FormatTOML Format = "toml"
	// FormatYAML is a YAML document.
	FormatYAML Format = "yaml"

	// MaxRecipeSize bounds recipe files read from disk.
	MaxRecipeSize int64 = 1 << 20
)

//go:embed recipe_schema.cue
var recipeSchema []byte

var nameSanitizer = regexp.MustCompile(`[^a-z0-9._-]+`)

// Format is a recipe file format.
type Format string

// String returns the format name.
func (f Format) String() string { return string(f) }

// FormatFromPath infers the format from a file name. Dockerfile-style names
// (Dockerfile, Dockerfile.c, c.Dockerfile, Containerfile) and *.recipe use
// the line-oriented format.
func FormatFromPath(p string) (Format, error) {
	base := filepath.Base(p)
	lower := strings.ToLower(base)
	switch ext := strings.ToLower(filepath.Ext(base)); {
	case ext == ".cue":
		return FormatCUE, nil
	case ext == ".toml":
		return FormatTOML, nil
	case ext == ".yaml" || ext == ".yml":
		return FormatYAML, nil
	case ext == ".recipe" || ext == ".dockerfile" || ext == ".containerfile":
		return FormatDockerfile, nil
	case strings.HasPrefix(lower, "dockerfile") || strings.HasPrefix(lower, "containerfile"):
		return FormatDockerfile, nil
	default:
		return "", fmt.Errorf("cannot infer recipe format from %q (use .recipe, Dockerfile.*, .cue, .toml, or .yaml)", base)
	}
}

// Load reads and validates the recipe at path. When the recipe does not
// declare a name, one is derived from the file name.
func Load(path string) (*Recipe, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, &ValidationError{Source: path, Msg: err.Error()}
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open recipe: %w", err)
	}
	defer func() { _ = f.Close() }() // Read-only file; close error non-critical

	data, err := io.ReadAll(io.LimitReader(f, MaxRecipeSize+1))
	if err != nil {
		return nil, fmt.Errorf("read recipe %s: %w", path, err)
	}
	if err := cueutil.CheckFileSize(data, MaxRecipeSize, path); err != nil {
		return nil, &ValidationError{Source: path, Msg: err.Error()}
	}

	r, err := Parse(data, format, path)
	if err != nil {
		return nil, err
	}
	if r.Name == "" {
		r.Name = NameFromPath(path)
	}
	return r, nil
}

// Parse decodes and validates a recipe in the given format.
func Parse(data []byte, format Format, source string) (*Recipe, error) {
	var (
		r   *Recipe
		err error
	)
	switch format {
	case FormatDockerfile:
		return ParseDockerfile(data, source)
	case FormatCUE:
		r, err = parseCUE(data, source)
	case FormatTOML:
		r, err = parseTOML(data)
	case FormatYAML:
		r, err = parseYAML(data)
	default:
		return nil, &ValidationError{Source: source, Msg: fmt.Sprintf("unknown recipe format %q", format)}
	}
	if err != nil {
		var ve *ValidationError
		if errors.As(err, &ve) {
			return nil, err
		}
		return nil, &ValidationError{Source: source, Msg: err.Error()}
	}

	r.Source = source
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

func parseCUE(data []byte, source string) (*Recipe, error) {
	filename := source
	if filename == "" {
		filename = "<input>"
	}
	return cueutil.Decode[Recipe](recipeSchema, data, "#Recipe", cueutil.WithFilename(filename))
}

func parseTOML(data []byte) (*Recipe, error) {
	var r Recipe
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&r); err != nil {
		// The strict-mode error message does not name the offending keys.
		var sme *toml.StrictMissingError
		if errors.As(err, &sme) {
			fields := make([]string, 0, len(sme.Errors))
			for _, de := range sme.Errors {
				row, _ := de.Position()
				fields = append(fields, fmt.Sprintf("%s (line %d)", strings.Join(de.Key(), "."), row))
			}
			return nil, fmt.Errorf("decode TOML: unknown field %s", strings.Join(fields, ", "))
		}
		return nil, fmt.Errorf("decode TOML: %w", err)
	}
	return &r, nil
}

func parseYAML(data []byte) (*Recipe, error) {
	var r Recipe
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&r); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("empty YAML document")
		}
		return nil, fmt.Errorf("decode YAML: %w", err)
	}
	return &r, nil
}

// NameFromPath derives a recipe name from a file name:
// "Dockerfile.c" -> "c", "java.recipe" -> "java", "runner/go.cue" -> "go".
// A bare "Dockerfile" yields DefaultName.
func NameFromPath(p string) string {
	base := strings.ToLower(filepath.Base(p))
	for _, prefix := range []string{"dockerfile.", "containerfile."} {
		if rest, ok := strings.CutPrefix(base, prefix); ok {
			base = rest
			break
		}
	}
	if ext := filepath.Ext(base); ext != "" && base != ext {
		base = strings.TrimSuffix(base, ext)
	}
	if base == "dockerfile" || base == "containerfile" {
		return DefaultName
	}
	name := strings.Trim(nameSanitizer.ReplaceAllString(base, "-"), "._-")
	if name == "" {
		return DefaultName
	}
	return name
}
