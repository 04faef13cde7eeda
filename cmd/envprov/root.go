// SPDX-License-Identifier: MPL-2.0

// Package cmd contains all CLI commands for envprov.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"
)

var (
	// Version is the semantic version (set via -ldflags).
	Version = "dev"
	// Commit is the git commit hash (set via -ldflags).
	Commit = "unknown"
	// BuildDate is the build timestamp (set via -ldflags).
	BuildDate = "unknown"
)

// NewRootCommand builds the command tree around app.
func NewRootCommand(app *App) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "envprov",
		Short: "Build immutable compiler images from recipes",
		Long: TitleStyle.Render("envprov") + SubtitleStyle.Render(" - Build immutable compiler images from recipes") + `

envprov turns a recipe (base image, working directory, package set and
default command) into a tagged container image. Each step is cached by a
key chained from every step before it, so changing the package set only
rebuilds the install and command steps.

Recipes are Dockerfile subsets (.recipe, Dockerfile.*), CUE, TOML or YAML
files. Built-in presets can be named instead of a path.

` + SubtitleStyle.Render("Examples:") + `
  envprov build c                 Build the built-in C preset
  envprov build ./java.recipe     Build a recipe file
  envprov plan c                  Show which steps would be rebuilt
  envprov verify envprov/c:abc123 --recipe c
  envprov cache prune --older-than 168h`,
	}

	rootCmd.PersistentFlags().BoolVarP(&app.verbose, "verbose", "v", false, "enable verbose output and stream engine build output")
	rootCmd.PersistentFlags().StringVar(&app.cfgFile, "config", "", "config file (default is $XDG_CONFIG_HOME/envprov/config.cue)")
	rootCmd.PersistentFlags().StringVar(&app.engineName, "engine", "", "container engine: docker or podman")
	rootCmd.PersistentFlags().StringVar(&app.logLevel, "log-level", "", "log level: debug, info, warn or error")
	rootCmd.PersistentFlags().StringVar(&app.metricsFile, "metrics-file", "", "write build metrics in the textfile collector format")

	rootCmd.AddCommand(
		newBuildCommand(app),
		newRenderCommand(app),
		newPlanCommand(app),
		newVerifyCommand(app),
		newPresetsCommand(app),
		newCacheCommand(app),
		newConfigCommand(app),
	)

	return rootCmd
}

// getVersionString returns a formatted version string for display.
func getVersionString() string {
	if Version == "dev" {
		return "dev (built from source)"
	}
	return fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, BuildDate)
}

// Execute runs the CLI with production dependencies and exits with the
// status of the failed command, if any. It is called by main.main().
func Execute() {
	app := NewApp(Dependencies{})
	if err := fang.Execute(
		context.Background(),
		NewRootCommand(app),
		fang.WithVersion(getVersionString()),
		fang.WithNotifySignal(os.Interrupt),
	); err != nil {
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.Code)
		}
		os.Exit(1)
	}
}
