// SPDX-License-Identifier: MPL-2.0

package provision

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/afero"
	"github.com/zeebo/blake3"

	"github.com/layerkit/layerkit/internal/container"
	"github.com/layerkit/layerkit/internal/fetch"
	"github.com/layerkit/layerkit/internal/fsys"
)

// Compile-time interface check
var _ Provisioner = (*ImageBuilder)(nil)

type (
	// Provisioner turns a planned build into a container image.
	Provisioner interface {
		Provision(ctx context.Context, b *Build) (*Result, error)
	}

	// Result contains the output of a provisioning operation.
	Result struct {
		// ImageTag is the tag of the provisioned image, e.g.
		// "layerkit-provisioned:3f9a1c0e5b7d".
		ImageTag string
		// Key is the full content hash the tag is derived from.
		Key string
		// Cached is true when an existing image was reused.
		Cached bool
		// Dockerfile is the rendered provisioning layer.
		Dockerfile string
	}

	// ImageBuilder builds provisioned images with a container engine.
	//
	// Images are cached by a BLAKE3 hash of the rendered Dockerfile and the
	// staged build context, so an unchanged manifest with unchanged
	// sources reuses the existing image.
	ImageBuilder struct {
		engine  container.Engine
		sources afero.Fs
		config  *Config
	}
)

// NewImageBuilder creates an ImageBuilder reading local sources from
// sources.
func NewImageBuilder(engine container.Engine, sources afero.Fs, cfg *Config) *ImageBuilder {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.TagPrefix == "" {
		cfg.TagPrefix = DefaultTagPrefix
	}
	return &ImageBuilder{engine: engine, sources: sources, config: cfg}
}

// Config returns the builder's configuration.
func (b *ImageBuilder) Config() *Config {
	return b.config
}

// Provision renders b, stages its sources into a build context and builds
// the image unless one with the same content hash exists.
func (b *ImageBuilder) Provision(ctx context.Context, build *Build) (*Result, error) {
	dockerfile, err := Render(build)
	if err != nil {
		return nil, err
	}

	buildCtx, cleanup, err := b.prepareBuildContext(ctx, build, dockerfile)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	key, err := CacheKey(dockerfile, fsys.OS(buildCtx))
	if err != nil {
		return nil, fmt.Errorf("failed to calculate cache key: %w", err)
	}
	res := &Result{ImageTag: b.buildTag(key[:12]), Key: key, Dockerfile: dockerfile}
	logger := b.config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if !b.config.ForceRebuild {
		exists, err := b.engine.ImageExists(ctx, res.ImageTag)
		if err != nil {
			logger.Debug("image lookup failed, building", "tag", res.ImageTag, "error", err)
		}
		if exists {
			logger.Info("provisioned image cached", "tag", res.ImageTag)
			res.Cached = true
			return res, nil
		}
	}

	opts := container.BuildOptions{
		ContextDir: buildCtx,
		Dockerfile: "Dockerfile",
		Tag:        res.ImageTag,
		NoCache:    b.config.NoCache,
		Labels: map[string]string{
			"io.layerkit.manifest":  build.Manifest.Name,
			"io.layerkit.cache-key": key,
		},
		Stdout: b.config.Stdout,
		Stderr: b.config.Stderr,
	}
	err = container.Retry(ctx, b.config.Retry, logger, func(attempt int) error {
		logger.Info("building provisioned image", "engine", b.engine.Name(), "tag", res.ImageTag, "attempt", attempt)
		return b.engine.Build(ctx, opts)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build provisioned image: %w", err)
	}
	return res, nil
}

// buildTag constructs the image tag with optional suffix.
func (b *ImageBuilder) buildTag(hash string) string {
	if b.config.TagSuffix != "" {
		return fmt.Sprintf("%s:%s-%s", b.config.TagPrefix, hash, b.config.TagSuffix)
	}
	return fmt.Sprintf("%s:%s", b.config.TagPrefix, hash)
}

// prepareBuildContext creates a temporary directory holding the Dockerfile
// and every source staged at its ContextPath.
func (b *ImageBuilder) prepareBuildContext(ctx context.Context, build *Build, dockerfile string) (dir string, cleanup func(), err error) {
	if err := os.MkdirAll(b.config.BuildDir, 0o755); err != nil {
		return "", nil, fmt.Errorf("failed to create build context parent directory: %w", err)
	}
	tmpDir, err := os.MkdirTemp(b.config.BuildDir, "ctx-*")
	if err != nil {
		return "", nil, fmt.Errorf("failed to create temp directory: %w", err)
	}
	cleanup = func() {
		_ = os.RemoveAll(tmpDir) // Cleanup temp dir; error non-critical
	}

	target := fsys.OS(tmpDir)
	stager := fetch.NewStager(b.sources, target, b.config.Downloader)
	for _, src := range build.Manifest.Sources {
		staged := src
		staged.To = "/" + ContextPath(src)
		if _, err := stager.Stage(ctx, staged); err != nil {
			cleanup()
			return "", nil, err
		}
	}

	if err := fsys.WriteFileAtomic(target, "/Dockerfile", []byte(dockerfile), 0o644); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("failed to write Dockerfile: %w", err)
	}
	return tmpDir, cleanup, nil
}

// CacheKey hashes a rendered Dockerfile together with the sources staged in
// a build context. Modification times do not contribute, so restaging the
// same content yields the same key.
func CacheKey(dockerfile string, buildCtx afero.Fs) (string, error) {
	h := blake3.New()
	_, _ = io.WriteString(h, "dockerfile\x00"+dockerfile)

	root := "/" + ContextSourcesDir
	ok, err := fsys.Exists(buildCtx, root)
	if err != nil {
		return "", err
	}
	if ok {
		digest, err := fsys.TreeDigest(buildCtx, root)
		if err != nil {
			return "", err
		}
		_, _ = io.WriteString(h, "\x00sources\x00"+string(digest))
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
