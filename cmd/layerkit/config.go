// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/layerkit/layerkit/internal/config"
)

// newConfigCommand creates the `layerkit config` command tree.
func newConfigCommand(app *App) *cobra.Command {
	cfgCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage layerkit configuration",
		Long: `Manage layerkit configuration.

Configuration is stored in:
  - Linux: ~/.config/layerkit/config.cue
  - macOS: ~/Library/Application Support/layerkit/config.cue
  - Windows: %APPDATA%\layerkit\config.cue

LAYERKIT_<KEY> environment variables override file values, e.g.
LAYERKIT_LOG_LEVEL=debug or LAYERKIT_RETRY_ATTEMPTS=5.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.loadConfig(cmd.Context())
			if err != nil {
				return err
			}
			showConfig(cmd.OutOrStdout(), app.Config.Path(), cfg)
			return nil
		},
	})

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Create default configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, created, err := config.CreateDefaultConfig("")
			if err != nil {
				return err
			}
			if !created {
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", WarningStyle.Render("Configuration already exists:"), path)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", SuccessStyle.Render("Created configuration:"), path)
			return nil
		},
	})

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "dump",
		Short: "Output the effective configuration as CUE",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.loadConfig(cmd.Context())
			if err != nil {
				return err
			}
			_, err = io.WriteString(cmd.OutOrStdout(), config.GenerateCUE(cfg))
			return err
		},
	})

	return cfgCmd
}

func showConfig(out io.Writer, path string, cfg *config.Config) {
	keyStyle := CmdStyle
	valueStyle := SuccessStyle

	fmt.Fprintln(out, TitleStyle.Render("Current Configuration"))
	fmt.Fprintln(out)
	if path != "" {
		fmt.Fprintf(out, "%s: %s\n", keyStyle.Render("Config file"), path)
	} else {
		fmt.Fprintf(out, "%s: %s\n", keyStyle.Render("Config file"), SubtitleStyle.Render("(using defaults)"))
	}
	fmt.Fprintln(out)

	row := func(key string, value any) {
		fmt.Fprintf(out, "%s: %s\n", keyStyle.Render(key), valueStyle.Render(fmt.Sprint(value)))
	}
	row("log.level", cfg.Log.Level)
	row("log.format", cfg.Log.Format)
	row("container_engine", cfg.ContainerEngine)
	row("order", cfg.Order)
	row("concurrency", cfg.Concurrency)
	row("retry.attempts", cfg.Retry.Attempts)
	row("retry.initial_backoff", cfg.Retry.InitialBackoff)
	row("retry.max_backoff", cfg.Retry.MaxBackoff)
	row("fetch.timeout", cfg.Fetch.Timeout)
	row("image.tag_prefix", cfg.Image.TagPrefix)
	if cfg.ReportDir == "" {
		fmt.Fprintf(out, "%s: %s\n", keyStyle.Render("report_dir"), SubtitleStyle.Render("(disabled)"))
	} else {
		row("report_dir", cfg.ReportDir)
	}
}
