// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/runner-service/envprov/internal/provision"
	"github.com/runner-service/envprov/pkg/recipe"
)

func newPlanCommand(app *App) *cobra.Command {
	var (
		tags    []string
		noCache bool
	)

	cmd := &cobra.Command{
		Use:   "plan <recipe|preset>",
		Short: "Show step keys and which steps a build would reuse",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := resolveRecipe(args[0])
			if err != nil {
				return app.fail(cmd, err)
			}
			s, err := app.newSession(cmd.Context())
			if err != nil {
				return app.fail(cmd, err)
			}

			opts := []provision.Option{provision.WithNoCache(noCache)}
			if len(tags) > 0 {
				opts = append(opts, provision.WithTags(tags...))
			}
			steps, err := s.provisioner.Plan(cmd.Context(), r, opts...)
			if err != nil {
				return app.fail(cmd, err)
			}

			cfg := s.provisioner.Config().Clone()
			cfg.Apply(opts...)
			printPlan(app, r, steps, cfg.ArtifactTags(r, steps[len(steps)-1].Key))
			return nil
		},
	}

	cmd.Flags().StringArrayVarP(&tags, "tag", "t", nil, "tag a build would apply instead of the default")
	cmd.Flags().BoolVar(&noCache, "no-cache", false, "plan as if no step were recorded")

	return cmd
}

func printPlan(app *App, r *recipe.Recipe, steps []provision.PlannedStep, tags []string) {
	key := steps[len(steps)-1].Key
	fmt.Fprintf(app.stdout, "%s %s\n\n",
		TitleStyle.Render("Plan for "+r.DisplayName()),
		VerboseStyle.Render("(key "+key.Short()+")"))

	for _, st := range steps {
		status := WarningStyle.Render(fmt.Sprintf("%-6s", "build"))
		if st.Cached {
			status = SuccessStyle.Render(fmt.Sprintf("%-6s", "cached"))
		}
		fmt.Fprintf(app.stdout, "  %s  %-20s  %s  %s\n",
			status, st.Kind, CmdStyle.Render(st.Key.Short()), st.Directive)
	}

	fmt.Fprintf(app.stdout, "\n%s\n", SubtitleStyle.Render("Tags:"))
	for _, tag := range tags {
		fmt.Fprintf(app.stdout, "  %s\n", CmdStyle.Render(tag))
	}
}
