// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/layerkit/layerkit/internal/report"
)

func newReportCommand(_ *App) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "report <file>",
		Short: "Print a build report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := report.Read(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(r)
			}
			printReport(out, r)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON")
	return cmd
}

func printReport(out io.Writer, r *report.Report) {
	title := fmt.Sprintf("Build %s of %s", r.BuildID, r.Manifest)
	if r.DryRun {
		title += " (dry run)"
	}
	fmt.Fprintln(out, TitleStyle.Render(title))
	fmt.Fprintf(out, "%s %s\n", SubtitleStyle.Render("root:    "), r.Root)
	fmt.Fprintf(out, "%s %s\n", SubtitleStyle.Render("started: "), r.Started.Format("2006-01-02 15:04:05Z07:00"))
	fmt.Fprintf(out, "%s %s\n", SubtitleStyle.Render("duration:"), r.Duration)
	if r.Digest != "" {
		fmt.Fprintf(out, "%s %s\n", SubtitleStyle.Render("digest:  "), r.Digest)
	}
	fmt.Fprintln(out)

	for _, mv := range r.Moves {
		fmt.Fprintln(out, WarningStyle.Render(fmt.Sprintf("reordered: %s runs before %s", mv.Step, mv.Before)))
	}
	for _, s := range r.Steps {
		line := fmt.Sprintf("  %s %s", statusStyle(s.Status).Render(fmt.Sprintf("%-9s", s.Status)), CmdStyle.Render(s.Name))
		if s.Attempts > 1 {
			line += SubtitleStyle.Render(fmt.Sprintf(" (%d attempts)", s.Attempts))
		}
		if s.Summary != "" {
			line += SubtitleStyle.Render("  " + s.Summary)
		}
		fmt.Fprintln(out, line)
		if s.Error != "" {
			fmt.Fprintf(out, "      %s %s\n", ErrorStyle.Render(s.Kind+":"), s.Error)
		}
	}
	fmt.Fprintf(out, "\n%s %s", TitleStyle.Render("state:"), statusStyle(r.State).Render(r.State))
	if r.Failed() {
		fmt.Fprintf(out, " at %s", r.FailedStep)
	}
	fmt.Fprintln(out)
}
