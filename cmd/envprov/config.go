// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/runner-service/envprov/internal/config"
)

// newConfigCommand creates the `envprov config` command tree.
func newConfigCommand(app *App) *cobra.Command {
	cfgCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage envprov configuration",
		Long: `Manage envprov configuration.

Configuration is read from $XDG_CONFIG_HOME/envprov/config.cue (or the file
given with --config) and validated against the embedded schema.
ENVPROV_<FIELD> environment variables override file values.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, path, err := app.loadConfig(cmd.Context())
			if err != nil {
				return app.fail(cmd, err)
			}
			showConfig(app, cfg, path)
			return nil
		},
	})

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Create the default configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, created, err := config.CreateDefaultConfig()
			if err != nil {
				return app.fail(cmd, err)
			}
			if !created {
				fmt.Fprintf(app.stdout, "%s %s\n", WarningStyle.Render("config file already exists:"), path)
				return nil
			}
			fmt.Fprintf(app.stdout, "%s %s\n", SuccessStyle.Render("created"), path)
			return nil
		},
	})

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show the configuration file path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if app.cfgFile != "" {
				fmt.Fprintln(app.stdout, app.cfgFile)
				return nil
			}
			path, err := config.ConfigFilePath()
			if err != nil {
				return app.fail(cmd, err)
			}
			fmt.Fprintln(app.stdout, path)
			return nil
		},
	})

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "dump",
		Short: "Output the effective configuration as CUE",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := app.loadConfig(cmd.Context())
			if err != nil {
				return app.fail(cmd, err)
			}
			fmt.Fprint(app.stdout, config.GenerateCUE(cfg))
			return nil
		},
	})

	return cfgCmd
}

func showConfig(app *App, cfg *config.Config, path string) {
	keyStyle, valueStyle := CmdStyle, SuccessStyle

	fmt.Fprintln(app.stdout, TitleStyle.Render("Current Configuration"))
	fmt.Fprintln(app.stdout)
	if path == "" {
		fmt.Fprintf(app.stdout, "%s: %s\n", keyStyle.Render("Config file"), SubtitleStyle.Render("(using defaults)"))
	} else {
		fmt.Fprintf(app.stdout, "%s: %s\n", keyStyle.Render("Config file"), path)
	}
	fmt.Fprintln(app.stdout)

	rows := []struct{ key, value string }{
		{"container_engine", cfg.ContainerEngine.String()},
		{"cache_dir", cfg.CacheDir},
		{"tag_prefix", cfg.TagPrefix},
		{"tag_suffix", cfg.TagSuffix},
		{"check", strconv.FormatBool(cfg.Check)},
		{"parallelism", strconv.Itoa(cfg.Parallelism)},
		{"retries", strconv.Itoa(cfg.Retries)},
		{"retry_backoff", cfg.RetryBackoff.String()},
		{"log_level", cfg.LogLevel.String()},
		{"metrics_file", cfg.MetricsFile},
	}
	for _, row := range rows {
		value := valueStyle.Render(row.value)
		if row.value == "" {
			value = SubtitleStyle.Render("(unset)")
		}
		fmt.Fprintf(app.stdout, "%s: %s\n", keyStyle.Render(row.key), value)
	}
}
