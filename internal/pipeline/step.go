// SPDX-License-Identifier: MPL-2.0

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/afero"

	"github.com/layerkit/layerkit/internal/clock"
	"github.com/layerkit/layerkit/internal/shell"
)

const (
	// SafeToRepeat steps converge: running them again leaves the same state.
	// Only these are retried.
	SafeToRepeat Class = "safe-to-repeat"
	// MustRunOnce steps are never retried within a build.
	MustRunOnce Class = "must-run-once"
)

// ErrInvalidClass is returned when an idempotency class name is unknown.
var ErrInvalidClass = errors.New("invalid step class")

type (
	// Class is a step's idempotency class.
	Class string

	// Step is one unit of provisioning work. Steps are immutable once a
	// Plan is built from them.
	Step struct {
		// Name identifies the step in logs, reports and failure lines.
		Name string
		// Description is a short human-readable summary for plans.
		Description string
		Class       Class
		Inputs      []Resource
		Outputs     []Resource
		// After names steps that must complete first regardless of
		// resources.
		After []string
		// Run performs the work.
		Run func(ctx context.Context, env *Env) (Outcome, error)
		// Check verifies the step's post-condition. Optional.
		Check func(ctx context.Context, env *Env) error
		// Unsatisfied builds the error reported when an input is neither
		// produced by another step nor present in the target. Optional.
		Unsatisfied func(Resource) error
	}

	// Outcome is what a successful step reports back.
	Outcome struct {
		// Changed is false when the step found its work already done.
		Changed bool
		// Summary is a one-line description of what happened.
		Summary string
		// Details is attached to the report as is.
		Details any
	}

	// Env is the explicit execution context handed to every step.
	Env struct {
		// FS is the target root. All reads and writes go through it.
		FS afero.Fs
		// Sources is where local artifacts are staged from.
		Sources afero.Fs
		// Root is the host path of FS, for commands that need it.
		Root   string
		Runner shell.Runner
		Logger *slog.Logger
		Clock  clock.Clock
		// DryRun marks a simulated build: commands are recorded, not run,
		// so post-conditions are skipped.
		DryRun bool
	}
)

// IsValid returns whether the Class is one of the defined classes.
func (c Class) IsValid() (bool, []error) {
	switch c {
	case SafeToRepeat, MustRunOnce:
		return true, nil
	default:
		return false, []error{fmt.Errorf("%w: %q", ErrInvalidClass, string(c))}
	}
}

func (e *Env) logger() *slog.Logger {
	if e.Logger == nil {
		return slog.Default()
	}
	return e.Logger
}

func (e *Env) clock() clock.Clock {
	if e.Clock == nil {
		return clock.Real{}
	}
	return e.Clock
}
