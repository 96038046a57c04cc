// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
	"github.com/spf13/pflag"

	"github.com/layerkit/layerkit/internal/config"
	"github.com/layerkit/layerkit/internal/fetch"
	"github.com/layerkit/layerkit/internal/issue"
	"github.com/layerkit/layerkit/internal/pipeline"
	"github.com/layerkit/layerkit/internal/provision"
	"github.com/layerkit/layerkit/pkg/manifest"
)

// manifestFlags are the flags shared by every command that plans a manifest.
type manifestFlags struct {
	vars        []string
	strictOrder bool
}

func (f *manifestFlags) register(fs *pflag.FlagSet) {
	fs.StringArrayVar(&f.vars, "var", nil, "manifest variable as key=value (cue and hcl manifests); repeatable")
	fs.BoolVar(&f.strictOrder, "strict-order", false, "reject manifests whose order contradicts a dependency")
}

// parseVars turns key=value pairs into a map. Later pairs win.
func parseVars(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	vars := make(map[string]string, len(pairs))
	for _, kv := range pairs {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			return nil, &ExitError{Code: ExitUsage, Err: fmt.Errorf("invalid --var %q: want key=value", kv)}
		}
		vars[key] = value
	}
	return vars, nil
}

// loadManifest reads and validates the manifest at path.
func (f *manifestFlags) loadManifest(path string) (*manifest.Manifest, error) {
	vars, err := parseVars(f.vars)
	if err != nil {
		return nil, err
	}
	m, err := manifest.Load(afero.NewOsFs(), path, vars)
	if err != nil {
		return nil, issue.NewErrorContext().
			WithOperation("load manifest").
			WithResource(path).
			WithSuggestions(issue.Get(issue.InvalidManifestId).Suggestions()...).
			Wrap(err).
			BuildError()
	}
	return m, nil
}

// policy resolves the ordering policy: --strict-order wins over config.
func (f *manifestFlags) policy(cfg *config.Config) pipeline.Policy {
	if f.strictOrder || cfg.Order == config.OrderStrict {
		return pipeline.PolicyStrict
	}
	return pipeline.PolicyReorder
}

// plan loads the manifest at path and plans it with cfg's settings.
func (f *manifestFlags) plan(cfg *config.Config, path string) (*provision.Build, error) {
	m, err := f.loadManifest(path)
	if err != nil {
		return nil, err
	}
	planner := provision.NewPlanner(
		provision.WithPolicy(f.policy(cfg)),
		provision.WithDownloader(newDownloader(cfg)),
	)
	return planner.Plan(m)
}

func newDownloader(cfg *config.Config) *fetch.Downloader {
	return fetch.NewDownloader(
		fetch.WithTimeout(cfg.Fetch.Timeout),
		fetch.WithUserAgent("layerkit/"+Version),
	)
}

// sourceRoot returns the directory local sources are resolved against: the
// flag value, or the manifest's directory.
func sourceRoot(flag, manifestPath string) (string, error) {
	dir := flag
	if dir == "" {
		dir = filepath.Dir(manifestPath)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolve source root %s: %w", dir, err)
	}
	return abs, nil
}

func retryPolicy(cfg *config.Config) pipeline.RetryPolicy {
	return pipeline.RetryPolicy{
		Attempts:       cfg.Retry.Attempts,
		InitialBackoff: cfg.Retry.InitialBackoff,
		MaxBackoff:     cfg.Retry.MaxBackoff,
	}
}
