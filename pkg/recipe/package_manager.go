// SPDX-License-Identifier: MPL-2.0

package recipe

import (
	"strings"

	"mvdan.cc/sh/v3/syntax"
)

const (
	// PackageManagerAPT installs with apt-get (Debian and Ubuntu based images).
	PackageManagerAPT PackageManager = "apt"
	// PackageManagerAPK installs with apk (Alpine based images).
	PackageManagerAPK PackageManager = "apk"
)

// PackageManager selects how the package set is installed and which
// transient state is purged afterwards. The zero value means apt.
type PackageManager string

// String returns the resolved manager name.
func (m PackageManager) String() string { return string(m.Resolved()) }

// Validate returns an error if the manager is not recognized.
func (m PackageManager) Validate() error {
	switch m {
	case "", PackageManagerAPT, PackageManagerAPK:
		return nil
	default:
		return fieldError("package_manager", "unknown package manager %q (valid: apt, apk)", string(m))
	}
}

// Resolved returns the manager with the zero value mapped to apt.
func (m PackageManager) Resolved() PackageManager {
	if m == "" {
		return PackageManagerAPT
	}
	return m
}

// CacheDirs returns the directories that hold package indexes and download
// caches. They must be empty or absent in a provisioned artifact.
func (m PackageManager) CacheDirs() []string {
	switch m.Resolved() {
	case PackageManagerAPK:
		return []string{"/var/cache/apk"}
	default:
		return []string{"/var/lib/apt/lists", "/var/cache/apt/archives/partial"}
	}
}

// purgeGlobs returns the rm operands that clear CacheDirs.
func (m PackageManager) purgeGlobs() []string {
	switch m.Resolved() {
	case PackageManagerAPK:
		return []string{"/var/cache/apk/*"}
	default:
		return []string{"/var/lib/apt/lists/*"}
	}
}

// InstallExpression returns the shell expression that refreshes the package
// index, installs pkgs without recommended extras, and purges the index and
// download caches, joined with && so they run as one layer.
func (m PackageManager) InstallExpression(pkgs []PackageName) string {
	quoted := make([]string, 0, len(pkgs))
	for _, p := range pkgs {
		quoted = append(quoted, quoteWord(string(p)))
	}

	var install []string
	switch m.Resolved() {
	case PackageManagerAPK:
		install = []string{"apk update", "apk add --no-cache"}
	default:
		install = []string{"apt-get update", "apt-get install -y --no-install-recommends"}
	}
	if len(quoted) > 0 {
		install[1] += " " + strings.Join(quoted, " ")
	}

	parts := append(install, m.PurgeExpression())
	return strings.Join(parts, " && ")
}

// PurgeExpression returns the shell expression that clears CacheDirs.
func (m PackageManager) PurgeExpression() string {
	return "rm -rf " + strings.Join(m.purgeGlobs(), " ")
}

// quoteWord quotes s for a POSIX shell when it contains special characters.
func quoteWord(s string) string {
	q, err := syntax.Quote(s, syntax.LangPOSIX)
	if err != nil {
		return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
	}
	return q
}
