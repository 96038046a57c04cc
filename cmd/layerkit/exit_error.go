// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"errors"
	"fmt"

	"github.com/layerkit/layerkit/internal/config"
	"github.com/layerkit/layerkit/internal/fault"
	"github.com/layerkit/layerkit/internal/issue"
	"github.com/layerkit/layerkit/internal/pipeline"
	"github.com/layerkit/layerkit/pkg/manifest"
)

const (
	// ExitFailure is the code of failures without a fault kind.
	ExitFailure = 1
	// ExitUsage is the code of invalid manifests and configuration.
	ExitUsage = 2
)

// ExitError signals a non-zero exit code without forcing os.Exit in RunE handlers.
type ExitError struct {
	Code int
	Err  error
}

// Error returns the error message for ExitError.
func (e *ExitError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("exit status %d", e.Code)
}

// Unwrap returns the underlying error, if any.
func (e *ExitError) Unwrap() error {
	return e.Err
}

// exitCode maps err to the process exit code: the fault kind's code when one
// is in the chain, 2 for manifest and configuration problems, 1 otherwise.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	if kind := fault.KindOf(err); kind != fault.KindUnknown {
		return kind.ExitCode()
	}
	switch {
	case errors.Is(err, manifest.ErrInvalid),
		errors.Is(err, manifest.ErrUnknownFormat),
		errors.Is(err, manifest.ErrVarsUnsupported),
		errors.Is(err, config.ErrInvalidConfig):
		return ExitUsage
	}
	return ExitFailure
}

// failureLine renders err as the single stderr line of a failed run. Step
// failures name the step and the fault kind.
func failureLine(err error, verbose bool) string {
	var stepErr *pipeline.StepError
	if errors.As(err, &stepErr) {
		kind := fault.KindOf(stepErr.Err)
		if kind == fault.KindUnknown {
			return fmt.Sprintf("layerkit: step %q failed: %v", stepErr.Step, stepErr.Err)
		}
		return fmt.Sprintf("layerkit: step %q failed: %s: %v", stepErr.Step, kind, stepErr.Err)
	}
	return "layerkit: " + formatErrorForDisplay(err, verbose)
}

// formatErrorForDisplay formats an error for user display.
// If the error is an ActionableError, it uses the Format method.
// In verbose mode, shows the full error chain.
func formatErrorForDisplay(err error, verboseMode bool) string {
	var ae *issue.ActionableError
	if errors.As(err, &ae) {
		return ae.Format(verboseMode)
	}
	return err.Error()
}
