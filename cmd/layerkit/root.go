// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"

	"github.com/layerkit/layerkit/internal/config"
	"github.com/layerkit/layerkit/internal/logging"
)

var (
	// Version is the semantic version (set via -ldflags).
	Version = "dev"
	// Commit is the git commit hash (set via -ldflags).
	Commit = "unknown"
	// BuildDate is the build timestamp (set via -ldflags).
	BuildDate = "unknown"
)

type (
	// App wires CLI services and shared dependencies. Every command handler
	// receives the App and reads configuration and output streams from it.
	App struct {
		Config  config.Provider
		stdout  io.Writer
		stderr  io.Writer
		verbose bool
		cfgFile string
	}

	// Dependencies defines the injection points for building an App. Nil
	// fields are replaced with production defaults by NewApp.
	Dependencies struct {
		Config config.Provider
		Stdout io.Writer
		Stderr io.Writer
	}
)

// NewApp creates an App from deps.
func NewApp(deps Dependencies) *App {
	app := &App{Config: deps.Config, stdout: deps.Stdout, stderr: deps.Stderr}
	if app.Config == nil {
		app.Config = config.NewProvider()
	}
	if app.stdout == nil {
		app.stdout = os.Stdout
	}
	if app.stderr == nil {
		app.stderr = os.Stderr
	}
	return app
}

// NewRootCommand builds the layerkit command tree.
func NewRootCommand(app *App) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "layerkit",
		Short: "Provision container image layers from a declarative manifest",
		Long: TitleStyle.Render("layerkit") + SubtitleStyle.Render(" - container image provisioning orchestrator") + `

layerkit reads a manifest of sources, system and language packages, prefix
rewrites, a runtime identity and writable regions, orders the work by its
real dependencies and applies it to a root filesystem or a container image.

Manifests may be written in CUE, YAML, TOML, JSON(C) or HCL.

` + SubtitleStyle.Render("Examples:") + `
  layerkit plan layerkit.cue                 Show the ordered steps
  layerkit build layerkit.cue --root /mnt    Provision a mounted root
  layerkit build layerkit.cue --dry-run      Simulate without writing
  layerkit render layerkit.cue               Print the Dockerfile
  layerkit image layerkit.cue                Build a cached image
  layerkit explain RegionNotFound            Explain a failure kind`,
		SilenceUsage: true,
	}
	rootCmd.SetOut(app.stdout)
	rootCmd.SetErr(app.stderr)

	rootCmd.PersistentFlags().BoolVarP(&app.verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().StringVar(&app.cfgFile, "config", "", "config file (default is $XDG_CONFIG_HOME/layerkit/config.cue)")

	rootCmd.AddCommand(
		newBuildCommand(app),
		newPlanCommand(app),
		newRenderCommand(app),
		newImageCommand(app),
		newDigestCommand(app),
		newReportCommand(app),
		newExplainCommand(app),
		newConfigCommand(app),
	)
	return rootCmd
}

// getVersionString returns a formatted version string for display.
func getVersionString() string {
	if Version == "dev" {
		return "dev (built from source)"
	}
	return fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, BuildDate)
}

// Run executes the command line args and returns the process exit code.
func (a *App) Run(ctx context.Context, args []string) int {
	rootCmd := NewRootCommand(a)
	rootCmd.SetArgs(args)
	// Use fang.Execute for enhanced Cobra styling
	// Pass version via fang.WithVersion() since fang overrides rootCmd.Version
	err := fang.Execute(
		ctx,
		rootCmd,
		fang.WithVersion(getVersionString()),
		fang.WithNotifySignal(os.Interrupt),
		fang.WithErrorHandler(func(w io.Writer, _ fang.Styles, err error) {
			fmt.Fprintln(w, ErrorStyle.Render(failureLine(err, a.verbose)))
		}),
	)
	return exitCode(err)
}

// Execute runs the CLI with the process arguments and exits.
// This is called by main.main().
func Execute() {
	os.Exit(NewApp(Dependencies{}).Run(context.Background(), os.Args[1:]))
}

// loadConfig loads the effective configuration. Failures exit with the
// usage code, like invalid manifests.
func (a *App) loadConfig(ctx context.Context) (*config.Config, error) {
	cfg, err := a.Config.Load(ctx, config.LoadOptions{ConfigFilePath: a.cfgFile})
	if err != nil {
		return nil, &ExitError{Code: ExitUsage, Err: err}
	}
	return cfg, nil
}

// newLogger builds the structured logger from cfg; --verbose lowers the
// level to debug.
func (a *App) newLogger(cfg *config.Config) (*slog.Logger, error) {
	opts := logging.Options{Level: cfg.Log.Level, Format: logging.Format(cfg.Log.Format)}
	if a.verbose {
		opts.Level = "debug"
	}
	logger, err := logging.New(a.stderr, opts)
	if err != nil {
		return nil, &ExitError{Code: ExitUsage, Err: fmt.Errorf("configure logging: %w", err)}
	}
	return logger, nil
}
