// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/layerkit/layerkit/internal/issue"
)

func newExplainCommand(_ *App) *cobra.Command {
	var style string
	cmd := &cobra.Command{
		Use:   "explain [kind]",
		Short: "Explain a failure kind and how to fix it",
		Long: `Explain a failure kind and how to fix it.

Without an argument, every documented kind is listed. Kind names are
matched case-insensitively, e.g. 'layerkit explain regionnotfound'.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if len(args) == 0 {
				for _, is := range issue.Values() {
					fmt.Fprintf(out, "  %s\n", CmdStyle.Render(is.Name()))
				}
				return nil
			}
			is := issue.Lookup(args[0])
			if is == nil {
				return &ExitError{Code: ExitUsage, Err: fmt.Errorf("unknown kind %q; run 'layerkit explain' for the list", args[0])}
			}
			rendered, err := is.Render(style)
			if err != nil {
				return fmt.Errorf("render guide: %w", err)
			}
			fmt.Fprint(out, rendered)
			return nil
		},
	}
	cmd.Flags().StringVar(&style, "style", "", "glamour style: dark, light, notty, or a JSON style file (default: auto)")
	return cmd
}
