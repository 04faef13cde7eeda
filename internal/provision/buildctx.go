// SPDX-License-Identifier: MPL-2.0

package provision

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/runner-service/envprov/pkg/recipe"
)

// containerfileName is the Containerfile written into every build context.
const containerfileName = "Containerfile"

// stepContainerfile renders the one-instruction Containerfile that applies
// step on top of the parent image.
func stepContainerfile(parent string, step recipe.Step) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "FROM %s\n", parent)
	sb.WriteString(step.Directive())
	sb.WriteString("\n")
	return sb.String()
}

// prepareBuildContext creates a temporary directory holding containerfile.
//
// Note: Docker installed via Snap has limited filesystem access:
// - Cannot access /tmp (different namespace)
// - Cannot access hidden directories like ~/.cache (home interface restriction)
// - CAN access visible directories in $HOME like ~/envprov-build
//
// Without an explicit parent, a visible directory in the user's home is used.
func prepareBuildContext(parent, containerfile string) (dir string, cleanup func(), err error) {
	if parent == "" {
		parent = defaultBuildContextParent()
	}

	if err := os.MkdirAll(parent, 0o755); err != nil {
		return "", nil, fmt.Errorf("failed to create build context parent directory: %w", err)
	}

	dir, err = os.MkdirTemp(parent, "ctx-*")
	if err != nil {
		return "", nil, fmt.Errorf("failed to create build context: %w", err)
	}

	cleanup = func() {
		_ = os.RemoveAll(dir) // Temp dir; error non-critical
	}

	if err := os.WriteFile(filepath.Join(dir, containerfileName), []byte(containerfile), 0o644); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("failed to write %s: %w", containerfileName, err)
	}

	return dir, cleanup, nil
}

func defaultBuildContextParent() string {
	// HOME may be set but missing (sandboxed test runners).
	if home, err := os.UserHomeDir(); err == nil {
		if _, err := os.Stat(home); err == nil {
			return filepath.Join(home, "envprov-build")
		}
	}
	if cwd, err := os.Getwd(); err == nil {
		return filepath.Join(cwd, ".envprov-build")
	}
	// Last resort: may fail with Snap Docker
	return filepath.Join(os.TempDir(), "envprov-build")
}
