// SPDX-License-Identifier: MPL-2.0

package recipe

import (
	"embed"
	"fmt"
	"path"
	"sort"
	"strings"
)

//go:embed presets/*.Dockerfile
var presetFS embed.FS

// PresetNames returns the names of the built-in runner variants, sorted.
func PresetNames() []string {
	entries, err := presetFS.ReadDir("presets")
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, strings.TrimSuffix(e.Name(), ".Dockerfile"))
	}
	sort.Strings(names)
	return names
}

// Preset returns the built-in recipe with the given name.
func Preset(name string) (*Recipe, error) {
	file := path.Join("presets", name+".Dockerfile")
	data, err := presetFS.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("unknown preset %q (available: %s)", name, strings.Join(PresetNames(), ", "))
	}
	r, err := ParseDockerfile(data, "preset:"+name)
	if err != nil {
		return nil, err
	}
	r.Name = name
	return r, nil
}

// Presets returns every built-in recipe, ordered by name.
func Presets() ([]*Recipe, error) {
	names := PresetNames()
	out := make([]*Recipe, 0, len(names))
	for _, name := range names {
		r, err := Preset(name)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}
