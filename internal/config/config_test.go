// SPDX-License-Identifier: MPL-2.0

package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/layerkit/layerkit/internal/issue"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, ConfigFileName+"."+ConfigFileExt)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaultConfig_IsValid(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	if ok, errs := cfg.IsValid(); !ok {
		t.Fatalf("default config invalid: %v", errs)
	}
	if cfg.Concurrency != 1 || cfg.Order != OrderReorder {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if cfg.Retry.Attempts != 3 || cfg.Retry.InitialBackoff != 2*time.Second {
		t.Errorf("unexpected retry defaults: %+v", cfg.Retry)
	}
}

func TestLoad_DefaultsWhenNoFile(t *testing.T) {
	t.Parallel()

	p := NewProvider()
	cfg, err := p.Load(context.Background(), LoadOptions{ConfigDirPath: t.TempDir()})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if p.Path() != "" {
		t.Errorf("Path() = %q, want empty", p.Path())
	}
	if cfg.Image.TagPrefix != "layerkit-provisioned" {
		t.Errorf("TagPrefix = %q", cfg.Image.TagPrefix)
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
log: level: "debug"
order: "strict"
concurrency: 4
retry: {
	attempts: 5
	initial_backoff: "500ms"
}
image: tag_prefix: "registry.local/app"
`)
	p := NewProvider()
	cfg, err := p.Load(context.Background(), LoadOptions{ConfigFilePath: path})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if p.Path() != path {
		t.Errorf("Path() = %q, want %q", p.Path(), path)
	}
	if cfg.Log.Level != "debug" || cfg.Order != OrderStrict || cfg.Concurrency != 4 {
		t.Errorf("file values not applied: %+v", cfg)
	}
	if cfg.Retry.Attempts != 5 || cfg.Retry.InitialBackoff != 500*time.Millisecond {
		t.Errorf("retry = %+v", cfg.Retry)
	}
	if cfg.Retry.MaxBackoff != 30*time.Second {
		t.Errorf("unset max_backoff should keep its default, got %s", cfg.Retry.MaxBackoff)
	}
	if cfg.Image.TagPrefix != "registry.local/app" {
		t.Errorf("TagPrefix = %q", cfg.Image.TagPrefix)
	}
}

func TestLoad_SchemaViolation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
	}{
		{"unknown engine", `container_engine: "lxc"`},
		{"zero concurrency", `concurrency: 0`},
		{"bad duration", `retry: max_backoff: "soon"`},
		{"unknown key", `colour: "blue"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := NewProvider().Load(context.Background(), LoadOptions{ConfigFilePath: writeConfig(t, tt.body)})
			var ae *issue.ActionableError
			if !errors.As(err, &ae) {
				t.Fatalf("expected ActionableError, got %v", err)
			}
			if ae.Operation != "load configuration" {
				t.Errorf("Operation = %q", ae.Operation)
			}
		})
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	t.Parallel()

	_, err := NewProvider().Load(context.Background(), LoadOptions{ConfigFilePath: filepath.Join(t.TempDir(), "nope.cue")})
	if err == nil || !strings.Contains(err.Error(), "config file not found") {
		t.Errorf("expected not-found error, got %v", err)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("LAYERKIT_RETRY_ATTEMPTS", "7")
	t.Setenv("LAYERKIT_CONTAINER_ENGINE", "docker")
	t.Setenv("LAYERKIT_FETCH_TIMEOUT", "90s")

	path := writeConfig(t, `retry: attempts: 2`)
	cfg, err := NewProvider().Load(context.Background(), LoadOptions{ConfigFilePath: path})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Retry.Attempts != 7 {
		t.Errorf("env should override file: attempts = %d", cfg.Retry.Attempts)
	}
	if cfg.ContainerEngine != ContainerEngineDocker {
		t.Errorf("ContainerEngine = %q", cfg.ContainerEngine)
	}
	if cfg.Fetch.Timeout != 90*time.Second {
		t.Errorf("Fetch.Timeout = %s", cfg.Fetch.Timeout)
	}
}

func TestLoad_InvalidEnvOverride(t *testing.T) {
	t.Setenv("LAYERKIT_ORDER", "random")

	_, err := NewProvider().Load(context.Background(), LoadOptions{ConfigDirPath: t.TempDir()})
	if !errors.Is(err, ErrInvalidOrderPolicy) {
		t.Errorf("expected ErrInvalidOrderPolicy, got %v", err)
	}
	if !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestLoad_Canceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewProvider().Load(ctx, LoadOptions{}); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestRetryConfig_IsValid(t *testing.T) {
	t.Parallel()

	ok, errs := RetryConfig{Attempts: 0, InitialBackoff: time.Minute, MaxBackoff: time.Second}.IsValid()
	if ok || len(errs) != 2 {
		t.Fatalf("IsValid() = %v, %v", ok, errs)
	}
	for _, err := range errs {
		if !errors.Is(err, ErrInvalidRetryConfig) {
			t.Errorf("error %v does not wrap ErrInvalidRetryConfig", err)
		}
	}
}

func TestCreateDefaultConfig_RoundTrip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path, created, err := CreateDefaultConfig(dir)
	if err != nil || !created {
		t.Fatalf("CreateDefaultConfig() = %q, %v, %v", path, created, err)
	}
	if _, again, err := CreateDefaultConfig(dir); err != nil || again {
		t.Errorf("second CreateDefaultConfig() created = %v, err = %v", again, err)
	}

	cfg, err := NewProvider().Load(context.Background(), LoadOptions{ConfigFilePath: path})
	if err != nil {
		t.Fatalf("generated config does not load: %v", err)
	}
	want := DefaultConfig()
	if cfg.Retry != want.Retry || cfg.Fetch != want.Fetch || cfg.Image != want.Image || cfg.Log != want.Log {
		t.Errorf("round trip mismatch:\ngot  %+v\nwant %+v", cfg, want)
	}
}
