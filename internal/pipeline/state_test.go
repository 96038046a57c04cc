// SPDX-License-Identifier: MPL-2.0

package pipeline

import (
	"errors"
	"testing"
	"time"

	"github.com/layerkit/layerkit/internal/clock"
)

func TestMachine_Transitions(t *testing.T) {
	t.Parallel()

	running := func(s string) Status { return Status{State: StateRunning, Step: s} }
	failed := func(s string) Status { return Status{State: StateFailed, Step: s} }
	completed := Status{State: StateCompleted}

	tests := []struct {
		name  string
		path  []Status
		valid bool
	}{
		{"happy path", []Status{running("a"), running("b"), completed}, true},
		{"fail midway", []Status{running("a"), failed("a")}, true},
		{"preflight failure", []Status{failed("rewrite:1")}, true},
		{"empty plan", []Status{completed}, true},
		{"running without step", []Status{{State: StateRunning}}, false},
		{"leave failed", []Status{running("a"), failed("a"), running("b")}, false},
		{"leave completed", []Status{completed, running("a")}, false},
		{"back to pending", []Status{running("a"), {State: StatePending}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			m := newMachine(clock.NewFake(time.Time{}, 0), nil)
			var err error
			for _, to := range tt.path {
				if err = m.transition(to); err != nil {
					break
				}
			}
			if tt.valid && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tt.valid && !errors.Is(err, ErrInvalidTransition) {
				t.Fatalf("expected ErrInvalidTransition, got %v", err)
			}
		})
	}
}

func TestMachine_NotifiesInOrder(t *testing.T) {
	t.Parallel()

	var seen []string
	obs := func(tr Transition) { seen = append(seen, tr.From.String()+">"+tr.To.String()) }
	m := newMachine(clock.NewFake(time.Time{}, time.Second), []Observer{obs})
	for _, to := range []Status{{State: StateRunning, Step: "a"}, {State: StateCompleted}} {
		if err := m.transition(to); err != nil {
			t.Fatal(err)
		}
	}
	want := []string{"pending>running(a)", "running(a)>completed"}
	if len(seen) != len(want) || seen[0] != want[0] || seen[1] != want[1] {
		t.Errorf("observer saw %v, want %v", seen, want)
	}
	if h := m.transitions(); !h[1].At.After(h[0].At) {
		t.Error("transition timestamps should come from the clock")
	}
}
