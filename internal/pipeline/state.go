// SPDX-License-Identifier: MPL-2.0

package pipeline

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/layerkit/layerkit/internal/clock"
)

const (
	// StatePending is the state before the first step starts.
	StatePending State = "pending"
	// StateRunning holds while a step executes.
	StateRunning State = "running"
	// StateFailed is terminal: a step failed and no later step ran.
	StateFailed State = "failed"
	// StateCompleted is terminal: every step succeeded.
	StateCompleted State = "completed"
)

// ErrInvalidTransition is returned for a state change the machine forbids.
var ErrInvalidTransition = errors.New("invalid pipeline state transition")

type (
	// State is the orchestrator's lifecycle state.
	State string

	// Status is a state together with the step it refers to. Step is set
	// for Running and Failed; Cause only for Failed.
	Status struct {
		State State
		Step  string
		Cause error
	}

	// Transition records one state change.
	Transition struct {
		From Status
		To   Status
		At   time.Time
	}

	// Observer is notified of every transition, in order.
	Observer func(Transition)

	// machine tracks the pipeline state and validates every change.
	machine struct {
		// notify serializes transitions so observers see them in order.
		notify    sync.Mutex
		mu        sync.Mutex
		current   Status
		clock     clock.Clock
		observers []Observer
		history   []Transition
	}
)

func (s Status) String() string {
	switch s.State {
	case StateRunning:
		return fmt.Sprintf("running(%s)", s.Step)
	case StateFailed:
		return fmt.Sprintf("failed(%s)", s.Step)
	default:
		return string(s.State)
	}
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateFailed || s == StateCompleted
}

func newMachine(c clock.Clock, observers []Observer) *machine {
	return &machine{current: Status{State: StatePending}, clock: c, observers: observers}
}

// allowed reports whether from -> to is a legal change:
//
//	pending -> running(s) | failed(s) | completed
//	running(s) -> running(t) | failed(t) | completed
func allowed(from, to Status) bool {
	switch from.State {
	case StatePending:
		return (to.State == StateRunning || to.State == StateFailed) && to.Step != "" ||
			to.State == StateCompleted
	case StateRunning:
		return (to.State == StateRunning || to.State == StateFailed) && to.Step != "" ||
			to.State == StateCompleted
	default:
		return false
	}
}

func (m *machine) transition(to Status) error {
	m.notify.Lock()
	defer m.notify.Unlock()

	m.mu.Lock()
	from := m.current
	if !allowed(from, to) {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	t := Transition{From: from, To: to, At: m.clock.Now()}
	m.current = to
	m.history = append(m.history, t)
	observers := m.observers
	m.mu.Unlock()

	for _, o := range observers {
		o(t)
	}
	return nil
}

func (m *machine) status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

func (m *machine) transitions() []Transition {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Transition, len(m.history))
	copy(out, m.history)
	return out
}
