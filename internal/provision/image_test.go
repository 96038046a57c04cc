// SPDX-License-Identifier: MPL-2.0

package provision

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/layerkit/layerkit/internal/container"
	"github.com/layerkit/layerkit/internal/logging"
	"github.com/layerkit/layerkit/internal/testutil"
)

// fakeEngine is an in-memory container.Engine. Build inspects the build
// context while it still exists and records the image as present.
type fakeEngine struct {
	mu         sync.Mutex
	images     map[string]bool
	builds     []container.BuildOptions
	dockerfile string
	staged     []string
	failures   int
	failWith   error
}

var _ container.Engine = (*fakeEngine)(nil)

func newFakeEngine() *fakeEngine {
	return &fakeEngine{images: make(map[string]bool)}
}

func (e *fakeEngine) Name() string { return "fake" }

func (e *fakeEngine) Available() bool { return true }

func (e *fakeEngine) ImageExists(_ context.Context, image string) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.images[image], nil
}

func (e *fakeEngine) Build(_ context.Context, opts container.BuildOptions) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.builds = append(e.builds, opts)
	if e.failures > 0 {
		e.failures--
		return e.failWith
	}

	data, err := os.ReadFile(filepath.Join(opts.ContextDir, opts.Dockerfile))
	if err != nil {
		return err
	}
	e.dockerfile = string(data)
	e.staged = nil
	root := filepath.Join(opts.ContextDir, ContextSourcesDir)
	err = filepath.WalkDir(root, func(p string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, _ := filepath.Rel(opts.ContextDir, p)
		e.staged = append(e.staged, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return err
	}
	e.images[opts.Tag] = true
	return nil
}

func (e *fakeEngine) buildCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.builds)
}

func testConfig(t *testing.T, opts ...Option) *Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.TagSuffix = ""
	cfg.BuildDir = t.TempDir()
	cfg.Retry = container.RetryPolicy{Attempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond}
	cfg.Apply(WithOutput(io.Discard, io.Discard), WithLogger(logging.Discard()))
	cfg.Apply(opts...)
	return cfg
}

func TestImageBuilder_BuildsAndCaches(t *testing.T) {
	t.Parallel()

	engine := newFakeEngine()
	cfg := testConfig(t)
	builder := NewImageBuilder(engine, webappSources(t), cfg)
	b := mustPlan(t, webappManifest())

	first, err := builder.Provision(context.Background(), b)
	if err != nil {
		t.Fatalf("Provision() error = %v", err)
	}
	if first.Cached {
		t.Error("first Provision() reported a cached image")
	}
	if !strings.HasPrefix(first.ImageTag, DefaultTagPrefix+":") || len(first.ImageTag) != len(DefaultTagPrefix)+1+12 {
		t.Errorf("ImageTag = %q, want %s:<12 hex>", first.ImageTag, DefaultTagPrefix)
	}
	if engine.dockerfile != first.Dockerfile {
		t.Error("engine saw a different Dockerfile than the result reports")
	}
	for _, want := range []string{"sources/client/index.html", "sources/server/server.py", "sources/bar-src/setup.py"} {
		if !slices.Contains(engine.staged, want) {
			t.Errorf("build context lacks %s, staged %v", want, engine.staged)
		}
	}
	opts := engine.builds[0]
	if opts.Labels["io.layerkit.manifest"] != "webapp" || opts.Labels["io.layerkit.cache-key"] != first.Key {
		t.Errorf("labels = %v", opts.Labels)
	}
	if _, err := os.Stat(opts.ContextDir); !os.IsNotExist(err) {
		t.Errorf("build context %s not cleaned up", opts.ContextDir)
	}

	second, err := builder.Provision(context.Background(), b)
	if err != nil {
		t.Fatalf("second Provision() error = %v", err)
	}
	if !second.Cached || second.ImageTag != first.ImageTag {
		t.Errorf("second Provision() = %+v, want cached %s", second, first.ImageTag)
	}
	if engine.buildCount() != 1 {
		t.Errorf("engine built %d times, want 1", engine.buildCount())
	}
}

func TestImageBuilder_ForceRebuild(t *testing.T) {
	t.Parallel()

	engine := newFakeEngine()
	builder := NewImageBuilder(engine, webappSources(t), testConfig(t, WithForceRebuild(true), WithNoCache(true)))
	b := mustPlan(t, webappManifest())

	for range 2 {
		if _, err := builder.Provision(context.Background(), b); err != nil {
			t.Fatalf("Provision() error = %v", err)
		}
	}
	if engine.buildCount() != 2 {
		t.Errorf("engine built %d times, want 2", engine.buildCount())
	}
	if !engine.builds[1].NoCache {
		t.Error("NoCache not passed to the engine")
	}
}

func TestImageBuilder_SourceChangeAltersTag(t *testing.T) {
	t.Parallel()

	engine := newFakeEngine()
	sources := webappSources(t)
	builder := NewImageBuilder(engine, sources, testConfig(t))
	b := mustPlan(t, webappManifest())

	before, err := builder.Provision(context.Background(), b)
	if err != nil {
		t.Fatalf("Provision() error = %v", err)
	}
	testutil.MustWriteFile(t, sources, "/server/server.py", "app = object()\n", 0o755)
	after, err := builder.Provision(context.Background(), b)
	if err != nil {
		t.Fatalf("Provision() error = %v", err)
	}
	if after.ImageTag == before.ImageTag {
		t.Errorf("tag %s unchanged after a source edit", after.ImageTag)
	}
	if after.Cached {
		t.Error("changed sources reused the cached image")
	}
}

func TestImageBuilder_RetriesTransientFailures(t *testing.T) {
	t.Parallel()

	engine := newFakeEngine()
	engine.failures = 2
	engine.failWith = errors.New("dial tcp: connection refused")
	builder := NewImageBuilder(engine, webappSources(t), testConfig(t))

	res, err := builder.Provision(context.Background(), mustPlan(t, webappManifest()))
	if err != nil {
		t.Fatalf("Provision() error = %v", err)
	}
	if engine.buildCount() != 3 {
		t.Errorf("engine built %d times, want 3", engine.buildCount())
	}
	if res.Cached {
		t.Error("retried build reported cached")
	}
}

func TestImageBuilder_PermanentFailure(t *testing.T) {
	t.Parallel()

	engine := newFakeEngine()
	engine.failures = 5
	engine.failWith = errors.New("unknown instruction: FORM")
	builder := NewImageBuilder(engine, webappSources(t), testConfig(t))

	_, err := builder.Provision(context.Background(), mustPlan(t, webappManifest()))
	if err == nil || !strings.Contains(err.Error(), "unknown instruction") {
		t.Fatalf("Provision() error = %v, want the build failure", err)
	}
	if engine.buildCount() != 1 {
		t.Errorf("permanent failure retried: %d builds", engine.buildCount())
	}
}

func TestImageBuilder_TagSuffix(t *testing.T) {
	t.Parallel()

	builder := NewImageBuilder(newFakeEngine(), webappSources(t), testConfig(t, WithTagPrefix("acme/app"), WithTagSuffix("ci42")))
	res, err := builder.Provision(context.Background(), mustPlan(t, webappManifest()))
	if err != nil {
		t.Fatalf("Provision() error = %v", err)
	}
	if !strings.HasPrefix(res.ImageTag, "acme/app:") || !strings.HasSuffix(res.ImageTag, "-ci42") {
		t.Errorf("ImageTag = %q, want acme/app:<hash>-ci42", res.ImageTag)
	}
}

func TestCacheKey_IgnoresModTimes(t *testing.T) {
	t.Parallel()

	ctx := webappSources(t)
	testutil.MustWriteFile(t, ctx, "/sources/client/index.html", "<html>", 0o644)
	k1, err := CacheKey("FROM scratch\n", ctx)
	if err != nil {
		t.Fatalf("CacheKey() error = %v", err)
	}
	if err := ctx.Chtimes("/sources/client/index.html", time.Unix(0, 0), time.Unix(0, 0)); err != nil {
		t.Fatal(err)
	}
	k2, err := CacheKey("FROM scratch\n", ctx)
	if err != nil {
		t.Fatalf("CacheKey() error = %v", err)
	}
	if k1 != k2 {
		t.Error("modification time changed the cache key")
	}
	k3, err := CacheKey("FROM alpine\n", ctx)
	if err != nil {
		t.Fatalf("CacheKey() error = %v", err)
	}
	if k3 == k1 {
		t.Error("Dockerfile change kept the cache key")
	}
}
