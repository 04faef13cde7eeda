// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/runner-service/envprov/pkg/recipe"
)

func newPresetsCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "presets",
		Short: "List the built-in recipes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			presets, err := recipe.Presets()
			if err != nil {
				return app.fail(cmd, err)
			}
			for _, r := range presets {
				fmt.Fprintf(app.stdout, "%s  %s  %s\n",
					TitleStyle.Render(fmt.Sprintf("%-8s", r.Name)),
					CmdStyle.Render(r.Base.String()),
					VerboseStyle.Render(strings.Join(r.Command, " ")))
			}
			return nil
		},
	}
}
