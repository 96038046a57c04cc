// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/layerkit/layerkit/internal/config"
	"github.com/layerkit/layerkit/internal/fsys"
	"github.com/layerkit/layerkit/internal/pipeline"
	"github.com/layerkit/layerkit/internal/provision"
	"github.com/layerkit/layerkit/internal/report"
	"github.com/layerkit/layerkit/internal/shell"
)

// buildOptions holds the flags of `layerkit build`.
type buildOptions struct {
	manifestFlags
	root       string
	sourceRoot string
	jobs       int
	dryRun     bool
	reportPath string
	watch      bool
}

func newBuildCommand(app *App) *cobra.Command {
	opts := &buildOptions{}
	cmd := &cobra.Command{
		Use:   "build <manifest>",
		Short: "Provision a root filesystem from a manifest",
		Long: `Provision a root filesystem from a manifest.

Steps run in dependency order against --root. A failing step stops the
build; nothing after it runs and nothing before it is rolled back. The
exit code names the failure kind (see 'layerkit explain').`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.watch {
				return watchBuild(cmd.Context(), app, opts, args[0], cmd.OutOrStdout())
			}
			return runBuild(cmd.Context(), app, opts, args[0], cmd.OutOrStdout())
		},
	}
	opts.register(cmd.Flags())
	cmd.Flags().StringVar(&opts.root, "root", "/", "root filesystem to provision")
	cmd.Flags().StringVar(&opts.sourceRoot, "source-root", "", "directory local sources are read from (default: the manifest's directory)")
	cmd.Flags().IntVarP(&opts.jobs, "jobs", "j", 0, "run up to n independent steps at once (default: config concurrency)")
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "simulate the build in memory and print the commands it would run")
	cmd.Flags().StringVar(&opts.reportPath, "report", "", "write a CBOR build report to this file")
	cmd.Flags().BoolVarP(&opts.watch, "watch", "w", false, "rebuild whenever the manifest or a local source changes")
	return cmd
}

func runBuild(ctx context.Context, app *App, opts *buildOptions, manifestPath string, out io.Writer) error {
	cfg, err := app.loadConfig(ctx)
	if err != nil {
		return err
	}
	logger, err := app.newLogger(cfg)
	if err != nil {
		return err
	}
	b, err := opts.plan(cfg, manifestPath)
	if err != nil {
		return err
	}
	for _, mv := range b.Plan.Moves() {
		fmt.Fprintln(out, WarningStyle.Render(fmt.Sprintf("reordered: %s runs before %s", mv.Step, mv.Before)))
	}

	root, err := filepath.Abs(opts.root)
	if err != nil {
		return fmt.Errorf("resolve root %s: %w", opts.root, err)
	}
	srcRoot, err := sourceRoot(opts.sourceRoot, manifestPath)
	if err != nil {
		return err
	}

	env := &pipeline.Env{
		FS:      fsys.OS(root),
		Sources: fsys.OS(srcRoot),
		Root:    root,
		Logger:  logger,
		DryRun:  opts.dryRun,
	}
	orchOpts := []pipeline.Option{
		pipeline.WithConcurrency(opts.concurrency(cfg)),
		pipeline.WithRetry(retryPolicy(cfg)),
		pipeline.WithObserver(transitionLogger(logger)),
		pipeline.WithLockHolder(fmt.Sprintf("layerkit build %s (pid %d)", b.Manifest.Name, os.Getpid())),
	}
	var recorder *shell.Recorder
	if opts.dryRun {
		env.FS = fsys.Overlay(env.FS)
		recorder = shell.NewRecorder(nil)
		env.Runner = recorder
		orchOpts = append(orchOpts, pipeline.WithoutLock())
	} else {
		env.Runner = shell.NewInterpRunner(shell.WithRoot(root), shell.WithLogger(logger))
		restore := fsys.PinUmask()
		defer restore()
	}

	res, runErr := pipeline.New(orchOpts...).Run(ctx, b.Plan, env)
	if res == nil {
		return runErr
	}
	printResult(out, res)
	if recorder != nil {
		fmt.Fprintln(out)
		fmt.Fprintln(out, TitleStyle.Render("Commands (dry run)"))
		for _, line := range recorder.Lines() {
			fmt.Fprintln(out, "  "+CmdStyle.Render(line))
		}
	}

	if path := opts.reportFile(cfg); path != "" {
		if err := writeReport(path, b, res, env.FS, root, opts.dryRun); err != nil {
			logger.Error("failed to write build report", "path", path, "error", err)
		} else {
			fmt.Fprintf(out, "%s %s\n", SubtitleStyle.Render("report:"), path)
		}
	}
	return runErr
}

func (o *buildOptions) concurrency(cfg *config.Config) int {
	if o.jobs > 0 {
		return o.jobs
	}
	return cfg.Concurrency
}

// reportFile is --report, or a file named after the build time in the
// configured report directory.
func (o *buildOptions) reportFile(cfg *config.Config) string {
	if o.reportPath != "" {
		return o.reportPath
	}
	if cfg.ReportDir == "" {
		return ""
	}
	return filepath.Join(cfg.ReportDir, "build-"+time.Now().UTC().Format("20060102T150405Z")+".cbor")
}

func writeReport(path string, b *provision.Build, res *pipeline.Result, target afero.Fs, root string, dryRun bool) error {
	meta := report.Meta{Manifest: b.Manifest.Name, Root: root, DryRun: dryRun}
	if res.Status.State == pipeline.StateCompleted {
		digest, err := fsys.TreeDigest(target, "/")
		if err != nil {
			return fmt.Errorf("digest %s: %w", root, err)
		}
		meta.Digest = digest
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return report.Write(path, report.New(meta, res))
}

// printResult writes one line per step and the final state.
func printResult(out io.Writer, res *pipeline.Result) {
	for _, s := range res.Steps {
		status := statusStyle(string(s.Status)).Render(fmt.Sprintf("%-9s", s.Status))
		line := fmt.Sprintf("  %s %s", status, CmdStyle.Render(s.Name))
		if s.Summary != "" {
			line += SubtitleStyle.Render("  " + s.Summary)
		}
		fmt.Fprintln(out, line)
	}
	fmt.Fprintf(out, "%s %s\n", TitleStyle.Render("state:"), statusStyle(string(res.Status.State)).Render(res.Status.String()))
}

func transitionLogger(logger *slog.Logger) pipeline.Observer {
	return func(t pipeline.Transition) {
		logger.Debug("pipeline transition", "from", t.From.String(), "to", t.To.String())
	}
}
