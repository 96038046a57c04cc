// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"errors"
	"fmt"
	"testing"

	"github.com/layerkit/layerkit/internal/config"
	"github.com/layerkit/layerkit/internal/fault"
	"github.com/layerkit/layerkit/internal/pipeline"
	"github.com/layerkit/layerkit/pkg/manifest"
)

func TestExitCode(t *testing.T) {
	t.Parallel()

	stepErr := func(kind fault.Kind) error {
		return &pipeline.StepError{Step: "s", Err: fault.Newf(kind, "/x", "boom")}
	}
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "nil", err: nil, want: 0},
		{name: "source not found", err: stepErr(fault.KindSourceNotFound), want: 10},
		{name: "package unavailable", err: stepErr(fault.KindPackageUnavailable), want: 11},
		{name: "install failed", err: stepErr(fault.KindInstallFailed), want: 12},
		{name: "rewrite target missing", err: stepErr(fault.KindRewriteTargetMissing), want: 13},
		{name: "region not found", err: stepErr(fault.KindRegionNotFound), want: 14},
		{name: "identity conflict", err: stepErr(fault.KindIdentityConflict), want: 15},
		{name: "order violation", err: fault.Newf(fault.KindOrderViolation, "", "x"), want: 16},
		{name: "invalid manifest fault", err: fault.Newf(fault.KindInvalidManifest, "m", "x"), want: 2},
		{name: "manifest validation", err: fmt.Errorf("load: %w", manifest.ErrInvalid), want: 2},
		{name: "config", err: fmt.Errorf("load: %w", config.ErrInvalidConfig), want: 2},
		{name: "explicit", err: &ExitError{Code: 7}, want: 7},
		{name: "other", err: errors.New("boom"), want: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := exitCode(tt.err); got != tt.want {
				t.Errorf("exitCode(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

func TestFailureLine(t *testing.T) {
	t.Parallel()

	err := &pipeline.StepError{
		Step: "grant:regions",
		Err:  fault.Newf(fault.KindRegionNotFound, "/srv/data", "no step creates the region"),
	}
	got := failureLine(err, false)
	want := `layerkit: step "grant:regions" failed: RegionNotFound: ` + err.Err.Error()
	if got != want {
		t.Errorf("failureLine() = %q, want %q", got, want)
	}

	if got := failureLine(errors.New("boom"), false); got != "layerkit: boom" {
		t.Errorf("failureLine(plain) = %q", got)
	}
}

func TestExitError(t *testing.T) {
	t.Parallel()

	inner := errors.New("inner")
	e := &ExitError{Code: 3, Err: inner}
	if !errors.Is(e, inner) || e.Error() != "inner" {
		t.Errorf("ExitError does not wrap its cause: %v", e)
	}
	if (&ExitError{Code: 3}).Error() != "exit status 3" {
		t.Error("ExitError without cause has the wrong message")
	}
}
