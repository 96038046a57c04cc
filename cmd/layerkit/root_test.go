// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/layerkit/layerkit/internal/config"
)

// staticConfig is a config.Provider returning fixed values, so tests never
// read the user's configuration.
type staticConfig struct {
	cfg *config.Config
}

func (s staticConfig) Load(context.Context, config.LoadOptions) (*config.Config, error) {
	return s.cfg, nil
}

func (s staticConfig) Path() string { return "" }

// runCLI runs the command tree in-process and returns the exit code with
// both output streams.
func runCLI(t *testing.T, args ...string) (code int, stdout, stderr string) {
	t.Helper()
	var out, errOut bytes.Buffer
	cfg := config.DefaultConfig()
	cfg.Retry.InitialBackoff = 0
	app := NewApp(Dependencies{Config: staticConfig{cfg: cfg}, Stdout: &out, Stderr: &errOut})
	code = app.Run(context.Background(), args)
	return code, out.String(), errOut.String()
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestGetVersionString(t *testing.T) {
	// Not parallel: subtests mutate package-level Version/Commit/BuildDate vars.

	t.Run("ldflags version takes priority", func(t *testing.T) {
		origVersion, origCommit, origBuildDate := Version, Commit, BuildDate
		t.Cleanup(func() {
			Version, Commit, BuildDate = origVersion, origCommit, origBuildDate
		})

		Version = "v1.2.3"
		Commit = "abc1234"
		BuildDate = "2025-06-15T10:00:00Z"

		got := getVersionString()
		want := "v1.2.3 (commit: abc1234, built: 2025-06-15T10:00:00Z)"
		if got != want {
			t.Errorf("getVersionString() = %q, want %q", got, want)
		}
	})

	t.Run("dev build", func(t *testing.T) {
		origVersion := Version
		t.Cleanup(func() { Version = origVersion })

		Version = "dev"
		if got := getVersionString(); got != "dev (built from source)" {
			t.Errorf("getVersionString() = %q", got)
		}
	})
}

func TestRootCommand_HasSubcommands(t *testing.T) {
	t.Parallel()

	root := NewRootCommand(NewApp(Dependencies{Stdout: &bytes.Buffer{}, Stderr: &bytes.Buffer{}}))
	for _, name := range []string{"build", "plan", "render", "image", "digest", "report", "explain", "config"} {
		found := false
		for _, c := range root.Commands() {
			if c.Name() == name {
				found = true
			}
		}
		if !found {
			t.Errorf("root command lacks %q", name)
		}
	}
}

func TestExplain(t *testing.T) {
	t.Parallel()

	code, out, _ := runCLI(t, "explain")
	if code != 0 || !strings.Contains(out, "RegionNotFound") {
		t.Errorf("explain = %d, %q", code, out)
	}

	code, out, _ = runCLI(t, "explain", "regionnotfound", "--style", "notty")
	if code != 0 || !strings.Contains(out, "Region") {
		t.Errorf("explain regionnotfound = %d, %q", code, out)
	}

	if code, _, _ := runCLI(t, "explain", "NoSuchKind"); code != ExitUsage {
		t.Errorf("explain NoSuchKind exit = %d, want %d", code, ExitUsage)
	}
}
