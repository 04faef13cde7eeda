// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newRenderCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "render <recipe|preset>",
		Short: "Print the Containerfile equivalent of a recipe",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := resolveRecipe(args[0])
			if err != nil {
				return app.fail(cmd, err)
			}
			fmt.Fprint(app.stdout, r.Dockerfile())
			return nil
		},
	}
}
