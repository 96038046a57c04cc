// SPDX-License-Identifier: MPL-2.0

package pipeline

import (
	"fmt"
	"strings"

	"github.com/layerkit/layerkit/internal/fault"
)

type (
	// StepError attributes a failure to the step that produced it.
	StepError struct {
		Step string
		Err  error
	}

	// OrderError reports a declaration order that contradicts the
	// dependency graph under PolicyStrict.
	OrderError struct {
		Moves []Move
	}
)

func (e *StepError) Error() string {
	return fmt.Sprintf("step %q failed: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// Kind returns the fault kind of the underlying error.
func (e *StepError) Kind() fault.Kind { return fault.KindOf(e.Err) }

func (e *OrderError) Error() string {
	parts := make([]string, len(e.Moves))
	for i, m := range e.Moves {
		parts[i] = fmt.Sprintf("%s must run before %s", m.Step, m.Before)
	}
	return "declared order contradicts dependencies: " + strings.Join(parts, "; ")
}
