// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/runner-service/envprov/internal/issue"
	"github.com/runner-service/envprov/internal/verify"
)

var errVerificationFailed = errors.New("image does not satisfy its recipe")

func newVerifyCommand(app *App) *cobra.Command {
	var recipeArg string

	cmd := &cobra.Command{
		Use:   "verify <image>",
		Short: "Check a built image against its recipe",
		Long: `Check a built image against its recipe.

The checks run in throwaway containers without network access:
  - the default executable is on the search path
  - the working directory is the default and is writable
  - package-manager cache directories are empty or absent
  - the default command answers --version`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := resolveRecipe(recipeArg)
			if err != nil {
				return app.fail(cmd, err)
			}
			s, err := app.newSession(cmd.Context())
			if err != nil {
				return app.fail(cmd, err)
			}

			report, err := verify.New(s.engine, app.logger("verify", s.level)).Verify(cmd.Context(), args[0], r)
			if err != nil {
				return app.fail(cmd, verifyFailedError(args[0], err))
			}

			printReport(app, report)
			if !report.Passed() {
				cmd.SilenceErrors = true
				cmd.SilenceUsage = true
				return &ExitError{Code: 1, Err: errVerificationFailed}
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&recipeArg, "recipe", "r", "", "recipe file or preset the image was built from")
	_ = cmd.MarkFlagRequired("recipe")

	return cmd
}

func printReport(app *App, report *verify.Report) {
	fmt.Fprintln(app.stdout, TitleStyle.Render("Verify "+report.Image))
	for _, c := range report.Checks {
		mark := SuccessStyle.Render("✓")
		if !c.Passed {
			mark = ErrorStyle.Render("✗")
		}
		fmt.Fprintf(app.stdout, "  %s %-22s %s\n", mark, c.Name,
			VerboseStyle.Render(fmt.Sprintf("%s (%s)", c.Detail, c.Duration.Round(time.Millisecond))))
	}
	if report.Passed() {
		fmt.Fprintln(app.stdout, SuccessStyle.Render("all checks passed"))
		return
	}
	fmt.Fprintln(app.stdout, ErrorStyle.Render(fmt.Sprintf("%d of %d checks failed", len(report.Failed()), len(report.Checks))))
}

func verifyFailedError(image string, cause error) error {
	return issue.NewErrorContext().
		WithOperation("verify image").
		WithResource(image).
		WithSuggestion("Build the image first (try: envprov build <recipe>)").
		Wrap(cause).
		BuildError()
}
