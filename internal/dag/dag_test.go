// SPDX-License-Identifier: MPL-2.0

package dag

import (
	"errors"
	"slices"
	"testing"
)

func TestTopologicalSort_EmptyGraph(t *testing.T) {
	t.Parallel()
	order, err := New().TopologicalSort()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if order != nil {
		t.Errorf("expected nil, got %v", order)
	}
}

func TestTopologicalSort_InstallChain(t *testing.T) {
	t.Parallel()
	g := New()
	g.AddEdge("install:apt:gcc", "install:apt:libfoo-dev")
	g.AddEdge("install:apt:libfoo-dev", "install:pip:bar")
	g.AddEdge("install:pip:bar", "override:pip:bar")

	order, err := g.TopologicalSort()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"install:apt:gcc", "install:apt:libfoo-dev", "install:pip:bar", "override:pip:bar"}
	if !slices.Equal(order, want) {
		t.Errorf("expected %v, got %v", want, order)
	}
}

func TestTopologicalSort_InsertionOrderTieBreak(t *testing.T) {
	t.Parallel()
	g := New()
	// bar is declared first but links against libfoo-dev.
	for _, n := range []string{"install:pip:bar", "stage:client", "install:apt:libfoo-dev", "stage:server"} {
		g.AddNode(n)
	}
	g.AddEdge("install:apt:libfoo-dev", "install:pip:bar")

	order, err := g.TopologicalSort()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"stage:client", "install:apt:libfoo-dev", "install:pip:bar", "stage:server"}
	if !slices.Equal(order, want) {
		t.Errorf("expected %v, got %v", want, order)
	}
}

func TestTopologicalSort_Diamond(t *testing.T) {
	t.Parallel()
	g := New()
	g.AddEdge("A", "B")
	g.AddEdge("A", "C")
	g.AddEdge("B", "D")
	g.AddEdge("C", "D")

	order, err := g.TopologicalSort()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !slices.Equal(order, []string{"A", "B", "C", "D"}) {
		t.Errorf("got %v", order)
	}
}

func TestTopologicalSort_Cycles(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		edges [][2]string
		want  []string
	}{
		{"simple", [][2]string{{"A", "B"}, {"B", "A"}}, []string{"A", "B"}},
		{"self loop", [][2]string{{"A", "A"}}, []string{"A"}},
		{"with tail", [][2]string{{"X", "A"}, {"A", "B"}, {"B", "C"}, {"C", "A"}}, []string{"A", "B", "C"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			g := New()
			for _, e := range tt.edges {
				g.AddEdge(e[0], e[1])
			}
			_, err := g.TopologicalSort()
			var cycleErr *CycleError
			if !errors.As(err, &cycleErr) {
				t.Fatalf("expected CycleError, got %v", err)
			}
			if !slices.Equal(cycleErr.Cycle, tt.want) {
				t.Errorf("Cycle = %v, want %v", cycleErr.Cycle, tt.want)
			}
		})
	}
}

func TestAddEdge_Duplicates(t *testing.T) {
	t.Parallel()
	g := New()
	g.AddEdge("A", "B")
	g.AddEdge("A", "B")

	if got := len(g.Edges()); got != 1 {
		t.Errorf("expected 1 edge, got %d", got)
	}
	order, err := g.TopologicalSort()
	if err != nil || !slices.Equal(order, []string{"A", "B"}) {
		t.Errorf("order = %v, err = %v", order, err)
	}
}

func TestLevels(t *testing.T) {
	t.Parallel()
	g := New()
	g.AddNode("stage:client")
	g.AddNode("stage:server")
	g.AddEdge("install:apt:libfoo-dev", "install:pip:bar")
	g.AddEdge("stage:client", "rewrite:0")
	g.AddEdge("install:pip:bar", "rewrite:0")

	levels, err := g.Levels()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := [][]string{
		{"stage:client", "stage:server", "install:apt:libfoo-dev"},
		{"install:pip:bar"},
		{"rewrite:0"},
	}
	if len(levels) != len(want) {
		t.Fatalf("levels = %v", levels)
	}
	for i := range want {
		if !slices.Equal(levels[i], want[i]) {
			t.Errorf("level %d = %v, want %v", i, levels[i], want[i])
		}
	}
}

func TestViolations(t *testing.T) {
	t.Parallel()
	g := New()
	g.AddEdge("install:apt:libfoo-dev", "install:pip:bar")
	g.AddEdge("stage:client", "rewrite:0")

	got := g.Violations([]string{"install:pip:bar", "install:apt:libfoo-dev", "stage:client", "rewrite:0"})
	want := []Edge{{From: "install:apt:libfoo-dev", To: "install:pip:bar"}}
	if !slices.Equal(got, want) {
		t.Errorf("Violations() = %v, want %v", got, want)
	}
	if v := g.Violations([]string{"install:apt:libfoo-dev", "install:pip:bar"}); len(v) != 0 {
		t.Errorf("expected no violations, got %v", v)
	}
}

func TestPredecessors(t *testing.T) {
	t.Parallel()
	g := New()
	g.AddNode("a")
	g.AddNode("b")
	g.AddEdge("b", "c")
	g.AddEdge("a", "c")

	if got := g.Predecessors("c"); !slices.Equal(got, []string{"a", "b"}) {
		t.Errorf("Predecessors() = %v", got)
	}
	if !g.HasEdge("a", "c") || g.HasEdge("c", "a") {
		t.Error("HasEdge mismatch")
	}
}

func TestCycleError_Message(t *testing.T) {
	t.Parallel()
	err := &CycleError{Cycle: []string{"A", "B", "C"}}
	expected := "dependency cycle detected: A -> B -> C"
	if err.Error() != expected {
		t.Errorf("expected %q, got %q", expected, err.Error())
	}
}
