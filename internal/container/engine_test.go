// SPDX-License-Identifier: MPL-2.0

package container

import (
	"bytes"
	"context"
	"errors"
	"slices"
	"strings"
	"testing"

	"github.com/layerkit/layerkit/internal/issue"
)

func TestBuildArgs(t *testing.T) {
	t.Parallel()

	e := NewBaseCLIEngine("docker")
	args := e.BuildArgs(BuildOptions{
		ContextDir: "/tmp/ctx",
		Dockerfile: "Dockerfile",
		Tag:        "layerkit-provisioned:abc123",
		NoCache:    true,
		BuildArgs:  map[string]string{"ZED": "1", "ALPHA": "2"},
		Labels:     map[string]string{"org.layerkit.manifest": "webapp"},
	})

	want := []string{
		"build",
		"-f", "/tmp/ctx/Dockerfile",
		"-t", "layerkit-provisioned:abc123",
		"--no-cache",
		"--build-arg", "ALPHA=2",
		"--build-arg", "ZED=1",
		"--label", "org.layerkit.manifest=webapp",
		"/tmp/ctx",
	}
	if !slices.Equal(args, want) {
		t.Errorf("BuildArgs() =\n%v\nwant\n%v", args, want)
	}
}

func TestBuildArgs_AbsoluteDockerfile(t *testing.T) {
	t.Parallel()

	args := NewBaseCLIEngine("podman").BuildArgs(BuildOptions{ContextDir: "/ctx", Dockerfile: "/elsewhere/Dockerfile"})
	if !slices.Equal(args, []string{"build", "-f", "/elsewhere/Dockerfile", "/ctx"}) {
		t.Errorf("BuildArgs() = %v", args)
	}
}

func TestEngineType_IsValid(t *testing.T) {
	t.Parallel()

	for _, et := range []EngineType{EngineTypeDocker, EngineTypePodman, EngineTypeAuto, ""} {
		if ok, errs := et.IsValid(); !ok {
			t.Errorf("EngineType(%q).IsValid() = false, %v", et, errs)
		}
	}
	ok, errs := EngineType("containerd").IsValid()
	if ok || len(errs) != 1 || !errors.Is(errs[0], ErrInvalidEngineType) {
		t.Errorf("EngineType(containerd).IsValid() = %v, %v", ok, errs)
	}
}

func TestNewEngine_UnknownType(t *testing.T) {
	t.Parallel()

	if _, err := NewEngine("lxc"); !errors.Is(err, ErrInvalidEngineType) {
		t.Errorf("expected ErrInvalidEngineType, got %v", err)
	}
}

func TestEngineNotAvailableError(t *testing.T) {
	t.Parallel()

	err := error(&EngineNotAvailableError{Engine: "docker", Reason: "not installed"})
	if !errors.Is(err, ErrNoEngine) {
		t.Error("expected errors.Is(err, ErrNoEngine)")
	}
	if !strings.Contains(err.Error(), "'docker' is not available: not installed") {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestDockerEngine_Available(t *testing.T) {
	t.Parallel()

	up, _ := newMockDocker(t, "", "", 0)
	if !up.Available() {
		t.Error("expected docker to be available")
	}
	down, _ := newMockDocker(t, "", "Cannot connect to the Docker daemon", 1)
	if down.Available() {
		t.Error("expected docker to be unavailable when the daemon is down")
	}
	missing := NewDockerEngine(WithBinaryPath(""))
	if missing.Available() {
		t.Error("expected docker without a binary to be unavailable")
	}
}

func TestDockerEngine_ImageExists(t *testing.T) {
	t.Parallel()

	e, rec := newMockDocker(t, "3f9a1c2b7d4e\n", "", 0)
	ok, err := e.ImageExists(context.Background(), "layerkit-provisioned:abc")
	if err != nil || !ok {
		t.Fatalf("ImageExists() = %v, %v", ok, err)
	}
	if got := rec.LastArgs(); !slices.Equal(got, []string{"image", "ls", "--quiet", "layerkit-provisioned:abc"}) {
		t.Errorf("args = %v", got)
	}

	absent, _ := newMockDocker(t, "", "", 0)
	if ok, err := absent.ImageExists(context.Background(), "x"); err != nil || ok {
		t.Errorf("ImageExists(absent) = %v, %v", ok, err)
	}

	// A daemon that cannot answer must not look like a cache miss.
	down, _ := newMockDocker(t, "", "Cannot connect to the Docker daemon", 1)
	if _, err := down.ImageExists(context.Background(), "x"); err == nil {
		t.Error("expected error when the daemon is down")
	}
}

func TestPodmanEngine_Available(t *testing.T) {
	t.Parallel()

	e, rec := newMockPodman(t, "5.2.0\n", "", 0)
	if !e.Available() {
		t.Error("expected podman to be available")
	}
	rec.AssertArgsContain(t, "{{.Client.Version}}")
	if NewPodmanEngine(WithBinaryPath("")).Available() {
		t.Error("expected podman without a binary to be unavailable")
	}
}

func TestPodmanEngine_ImageExists(t *testing.T) {
	t.Parallel()

	absent, rec := newMockPodman(t, "", "", 1)
	ok, err := absent.ImageExists(context.Background(), "img")
	if err != nil || ok {
		t.Errorf("ImageExists(absent) = %v, %v", ok, err)
	}
	rec.AssertArgsContain(t, "image exists img")

	broken, _ := newMockPodman(t, "", "storage corrupted", 125)
	if _, err := broken.ImageExists(context.Background(), "img"); err == nil {
		t.Error("expected error for exit code 125")
	}
}

func TestBuild_Success(t *testing.T) {
	t.Parallel()

	e, rec := newMockPodman(t, "STEP 1/4: FROM debian\n", "", 0)
	var stdout bytes.Buffer
	err := e.Build(context.Background(), BuildOptions{ContextDir: "/ctx", Dockerfile: "Dockerfile", Tag: "t:1", Stdout: &stdout})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if !strings.Contains(stdout.String(), "STEP 1/4") {
		t.Errorf("build output not streamed: %q", stdout.String())
	}
	rec.AssertInvocationCount(t, 1)
	if !rec.HasArgPair("-t", "t:1") {
		t.Errorf("missing tag in %v", rec.LastArgs())
	}
}

func TestBuild_FailureIsActionable(t *testing.T) {
	t.Parallel()

	e, _ := newMockDocker(t, "", "ERROR: failed to solve: debian:nope: not found", 1)
	var stderr bytes.Buffer
	err := e.Build(context.Background(), BuildOptions{ContextDir: "/ctx", Tag: "t:1", Stderr: &stderr})
	if err == nil {
		t.Fatal("expected build error")
	}

	var ae *issue.ActionableError
	if !errors.As(err, &ae) {
		t.Fatalf("expected *issue.ActionableError, got %T", err)
	}
	if ae.Resource != "/ctx/Dockerfile" {
		t.Errorf("Resource = %q", ae.Resource)
	}
	if !ae.HasSuggestions() {
		t.Error("expected suggestions")
	}
	var ce *CommandError
	if !errors.As(err, &ce) || !strings.Contains(ce.Stderr, "failed to solve") {
		t.Errorf("expected CommandError with stderr tail, got %v", err)
	}
	if !strings.Contains(stderr.String(), "failed to solve") {
		t.Errorf("stderr not streamed: %q", stderr.String())
	}
	if IsTransientError(err) {
		t.Error("a missing base image is not transient")
	}
}
