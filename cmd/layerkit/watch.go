// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/layerkit/layerkit/internal/watch"
)

// watchBuild runs the build once, then again whenever the manifest or a
// local source changes, until ctx is cancelled. Failures of individual
// runs are printed and do not stop the loop.
func watchBuild(ctx context.Context, app *App, opts *buildOptions, manifestPath string, out io.Writer) error {
	cfg, err := app.loadConfig(ctx)
	if err != nil {
		return err
	}
	logger, err := app.newLogger(cfg)
	if err != nil {
		return err
	}
	srcRoot, err := sourceRoot(opts.sourceRoot, manifestPath)
	if err != nil {
		return err
	}

	rerun := func(ctx context.Context) {
		if err := runBuild(ctx, app, opts, manifestPath, out); err != nil {
			fmt.Fprintln(out, ErrorStyle.Render(failureLine(err, app.verbose)))
		}
	}

	w, err := watch.New(watch.Config{
		Dir:      srcRoot,
		Files:    []string{manifestPath},
		Ignore:   rootIgnore(srcRoot, opts.root),
		OnChange: func(ctx context.Context, changed []string) error {
			fmt.Fprintf(out, "\n%s %s\n", SubtitleStyle.Render("changed:"), strings.Join(changed, ", "))
			rerun(ctx)
			return nil
		},
		Logger: logger,
	})
	if err != nil {
		return err
	}

	rerun(ctx)
	fmt.Fprintf(out, "%s %s\n", SubtitleStyle.Render("watching"), srcRoot)
	return w.Run(ctx)
}

// rootIgnore keeps a target root nested in the source tree from
// retriggering the build it was just written by.
func rootIgnore(srcRoot, root string) []string {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil
	}
	rel, err := filepath.Rel(srcRoot, abs)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return nil
	}
	return []string{filepath.ToSlash(rel) + "/**"}
}
