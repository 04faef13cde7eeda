// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/runner-service/envprov/internal/issue"
	"github.com/runner-service/envprov/internal/layercache"
)

func newCacheCommand(app *App) *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and prune recorded build steps",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cacheCmd.AddCommand(&cobra.Command{
		Use:   "ls",
		Short: "List recorded steps, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := app.openStore(cmd.Context())
			if err != nil {
				return app.fail(cmd, err)
			}
			entries, err := s.store.List(cmd.Context())
			if err != nil {
				return app.fail(cmd, cacheUnavailableError(s.store.Dir(), err))
			}
			printEntries(app, entries, time.Now())
			return nil
		},
	})

	var olderThan time.Duration
	pruneCmd := &cobra.Command{
		Use:   "prune",
		Short: "Remove recorded step images and their entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := app.newSession(cmd.Context())
			if err != nil {
				return app.fail(cmd, err)
			}
			removed, err := s.provisioner.Prune(cmd.Context(), olderThan)
			fmt.Fprintf(app.stdout, "%s %d step(s)\n", SuccessStyle.Render("pruned"), removed)
			if err != nil {
				return app.fail(cmd, cacheUnavailableError(s.store.Dir(), err))
			}
			return nil
		},
	}
	pruneCmd.Flags().DurationVar(&olderThan, "older-than", 0, "only prune steps recorded before this long ago (0 prunes all)")
	cacheCmd.AddCommand(pruneCmd)

	return cacheCmd
}

func printEntries(app *App, entries []layercache.Entry, now time.Time) {
	if len(entries) == 0 {
		fmt.Fprintln(app.stdout, SubtitleStyle.Render("(no recorded steps)"))
		return
	}
	for _, e := range entries {
		fmt.Fprintf(app.stdout, "%s  %-20s  %-10s  %s  %s\n",
			CmdStyle.Render(e.Key.Short()),
			e.Kind,
			e.Recipe,
			VerboseStyle.Render(now.Sub(e.CreatedAt).Round(time.Second).String()+" ago"),
			e.ImageRef)
	}
}

func cacheUnavailableError(dir string, cause error) error {
	return issue.NewErrorContext().
		WithOperation("access step cache").
		WithResource(dir).
		WithGuide(issue.CacheUnavailableId).
		Wrap(cause).
		BuildError()
}
