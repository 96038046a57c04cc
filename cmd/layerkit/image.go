// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/layerkit/layerkit/internal/container"
	"github.com/layerkit/layerkit/internal/fsys"
	"github.com/layerkit/layerkit/internal/issue"
	"github.com/layerkit/layerkit/internal/provision"
)

type imageOptions struct {
	manifestFlags
	sourceRoot   string
	engine       string
	tagPrefix    string
	forceRebuild bool
	noCache      bool
}

func newImageCommand(app *App) *cobra.Command {
	opts := &imageOptions{}
	cmd := &cobra.Command{
		Use:   "image <manifest>",
		Short: "Build a provisioned container image",
		Long: `Build a provisioned container image with Docker or Podman.

The image is tagged with a hash of the rendered Dockerfile and the staged
sources. An unchanged manifest with unchanged sources reuses the existing
image unless --force-rebuild is given.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := app.loadConfig(ctx)
			if err != nil {
				return err
			}
			logger, err := app.newLogger(cfg)
			if err != nil {
				return err
			}
			b, err := opts.plan(cfg, args[0])
			if err != nil {
				return err
			}
			srcRoot, err := sourceRoot(opts.sourceRoot, args[0])
			if err != nil {
				return err
			}

			engineType := container.EngineType(opts.engine)
			if engineType == "" {
				engineType = container.EngineType(cfg.ContainerEngine)
			}
			if ok, errs := engineType.IsValid(); !ok {
				return &ExitError{Code: ExitUsage, Err: errs[0]}
			}
			engine, err := container.NewEngine(engineType)
			if err != nil {
				if errors.Is(err, container.ErrNoEngine) {
					return issue.NewErrorContext().
						WithOperation("build provisioned image").
						WithSuggestions(issue.Get(issue.EngineNotAvailableId).Suggestions()...).
						Wrap(err).
						BuildError()
				}
				return err
			}

			tagPrefix := opts.tagPrefix
			if tagPrefix == "" {
				tagPrefix = cfg.Image.TagPrefix
			}
			pcfg := provision.DefaultConfig()
			pcfg.Apply(
				provision.WithTagPrefix(tagPrefix),
				provision.WithForceRebuild(opts.forceRebuild),
				provision.WithNoCache(opts.noCache),
				provision.WithRetry(container.RetryPolicy{
					Attempts:       cfg.Retry.Attempts,
					InitialBackoff: cfg.Retry.InitialBackoff,
					MaxBackoff:     cfg.Retry.MaxBackoff,
				}),
				provision.WithImageDownloader(newDownloader(cfg)),
				provision.WithOutput(cmd.ErrOrStderr(), cmd.ErrOrStderr()),
				provision.WithLogger(logger),
			)

			res, err := provision.NewImageBuilder(engine, fsys.OS(srcRoot), pcfg).Provision(ctx, b)
			if err != nil {
				return err
			}
			state := "built"
			if res.Cached {
				state = "cached"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", SuccessStyle.Render(state+":"), res.ImageTag)
			return nil
		},
	}
	opts.register(cmd.Flags())
	cmd.Flags().StringVar(&opts.sourceRoot, "source-root", "", "directory local sources are read from (default: the manifest's directory)")
	cmd.Flags().StringVar(&opts.engine, "engine", "", "container engine: docker, podman or auto (default: config container_engine)")
	cmd.Flags().StringVar(&opts.tagPrefix, "tag-prefix", "", "repository part of the image tag (default: config image.tag_prefix)")
	cmd.Flags().BoolVar(&opts.forceRebuild, "force-rebuild", false, "rebuild even when an image with the same content hash exists")
	cmd.Flags().BoolVar(&opts.noCache, "no-cache", false, "disable the engine's layer cache")
	return cmd
}
