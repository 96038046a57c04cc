// SPDX-License-Identifier: MPL-2.0

package provision

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/layerkit/layerkit/internal/container"
	"github.com/layerkit/layerkit/internal/fetch"
)

// DefaultTagPrefix is the repository of provisioned image tags.
const DefaultTagPrefix = "layerkit-provisioned"

type (
	// Config holds configuration for building provisioned images.
	Config struct {
		// ForceRebuild bypasses cached images and forces a rebuild
		ForceRebuild bool

		// NoCache disables the engine's layer cache for the build
		NoCache bool

		// TagPrefix is the repository part of the image tag.
		// Default: layerkit-provisioned
		TagPrefix string

		// TagSuffix is an optional suffix appended to provisioned image tags.
		// This enables test isolation by making each test's images unique.
		// Can be set via LAYERKIT_PROVISION_TAG_SUFFIX.
		TagSuffix string

		// BuildDir is the parent directory of temporary build contexts.
		// Default: ~/layerkit-build
		BuildDir string

		// Retry bounds retries of transient engine failures.
		Retry container.RetryPolicy

		// Downloader fetches remote sources into the build context.
		Downloader *fetch.Downloader

		// Stdout and Stderr receive build output. Default: os.Stderr.
		Stdout io.Writer
		Stderr io.Writer

		Logger *slog.Logger
	}

	// Option is a functional option for configuring a Config.
	Option func(*Config)
)

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		TagPrefix: DefaultTagPrefix,
		TagSuffix: os.Getenv("LAYERKIT_PROVISION_TAG_SUFFIX"),
		BuildDir:  defaultBuildDir(),
		Retry:     container.DefaultRetryPolicy,
		Stdout:    os.Stderr,
		Stderr:    os.Stderr,
		Logger:    slog.Default(),
	}
}

// WithForceRebuild returns an Option that sets ForceRebuild on the config.
func WithForceRebuild(force bool) Option {
	return func(c *Config) {
		c.ForceRebuild = force
	}
}

// WithNoCache returns an Option that sets NoCache on the config.
func WithNoCache(noCache bool) Option {
	return func(c *Config) {
		c.NoCache = noCache
	}
}

// WithTagPrefix returns an Option that sets TagPrefix on the config.
func WithTagPrefix(prefix string) Option {
	return func(c *Config) {
		c.TagPrefix = prefix
	}
}

// WithTagSuffix returns an Option that sets TagSuffix on the config.
func WithTagSuffix(suffix string) Option {
	return func(c *Config) {
		c.TagSuffix = suffix
	}
}

// WithBuildDir returns an Option that sets BuildDir on the config.
func WithBuildDir(dir string) Option {
	return func(c *Config) {
		c.BuildDir = dir
	}
}

// WithRetry returns an Option that sets the engine retry policy.
func WithRetry(p container.RetryPolicy) Option {
	return func(c *Config) {
		c.Retry = p
	}
}

// WithImageDownloader returns an Option that sets the downloader used for
// remote sources.
func WithImageDownloader(d *fetch.Downloader) Option {
	return func(c *Config) {
		c.Downloader = d
	}
}

// WithOutput returns an Option that sets where build output goes.
func WithOutput(stdout, stderr io.Writer) Option {
	return func(c *Config) {
		c.Stdout = stdout
		c.Stderr = stderr
	}
}

// WithLogger returns an Option that sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = l
	}
}

// Apply applies the given options to the config.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}

// defaultBuildDir picks a visible directory under $HOME. Docker installed
// as a snap cannot read /tmp or hidden directories in $HOME.
func defaultBuildDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		if _, err := os.Stat(home); err == nil {
			return filepath.Join(home, "layerkit-build")
		}
	}
	if cwd, err := os.Getwd(); err == nil {
		return filepath.Join(cwd, ".layerkit-build")
	}
	return filepath.Join(os.TempDir(), "layerkit-build")
}
