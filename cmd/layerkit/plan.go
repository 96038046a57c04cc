// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/layerkit/layerkit/internal/provision"
)

func newPlanCommand(app *App) *cobra.Command {
	flags := &manifestFlags{}
	cmd := &cobra.Command{
		Use:   "plan <manifest>",
		Short: "Show the ordered steps of a manifest",
		Long: `Show the ordered steps of a manifest without running them.

Each step lists the steps it depends on. Steps that run earlier than they
were declared are reported as reorder notices; with --strict-order the
manifest is rejected instead.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.loadConfig(cmd.Context())
			if err != nil {
				return err
			}
			b, err := flags.plan(cfg, args[0])
			if err != nil {
				return err
			}
			printPlan(cmd.OutOrStdout(), b)
			return nil
		},
	}
	flags.register(cmd.Flags())
	return cmd
}

func printPlan(out io.Writer, b *provision.Build) {
	p := b.Plan
	fmt.Fprintf(out, "%s %s (%s order)\n\n", TitleStyle.Render("Plan for"), b.Manifest.Name, p.Policy())
	for i, name := range p.Order() {
		s, _ := p.Step(name)
		fmt.Fprintf(out, "%3d. %s %s\n", i+1, CmdStyle.Render(name), SubtitleStyle.Render("["+string(s.Class)+"]"))
		if s.Description != "" {
			fmt.Fprintf(out, "     %s\n", s.Description)
		}
		if deps := p.Dependencies(name); len(deps) > 0 {
			fmt.Fprintf(out, "     after: %s\n", strings.Join(deps, ", "))
		}
		if unbound := p.Unbound(name); len(unbound) > 0 {
			keys := make([]string, len(unbound))
			for j, r := range unbound {
				keys[j] = r.String()
			}
			fmt.Fprintf(out, "     expects on target: %s\n", strings.Join(keys, ", "))
		}
	}
	if moves := p.Moves(); len(moves) > 0 {
		fmt.Fprintln(out)
		for _, mv := range moves {
			fmt.Fprintln(out, WarningStyle.Render(fmt.Sprintf("reordered: %s runs before %s", mv.Step, mv.Before)))
		}
	}
}

func newRenderCommand(app *App) *cobra.Command {
	flags := &manifestFlags{}
	cmd := &cobra.Command{
		Use:   "render <manifest>",
		Short: "Print the Dockerfile of the provisioning layer",
		Long: `Print the Dockerfile of the provisioning layer.

Sources are copied from sources/<name> in the build context; 'layerkit
image' lays the context out that way.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.loadConfig(cmd.Context())
			if err != nil {
				return err
			}
			b, err := flags.plan(cfg, args[0])
			if err != nil {
				return err
			}
			dockerfile, err := provision.Render(b)
			if err != nil {
				return err
			}
			_, err = io.WriteString(cmd.OutOrStdout(), dockerfile)
			return err
		},
	}
	flags.register(cmd.Flags())
	return cmd
}
