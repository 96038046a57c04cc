// SPDX-License-Identifier: MPL-2.0

package pipeline

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/layerkit/layerkit/internal/dag"
	"github.com/layerkit/layerkit/internal/fault"
)

const (
	// PolicyReorder runs steps in dependency order, keeping declaration
	// order wherever dependencies allow.
	PolicyReorder Policy = "reorder"
	// PolicyStrict rejects a declaration order that contradicts a
	// dependency.
	PolicyStrict Policy = "strict"
)

// ErrInvalidPolicy is returned when an ordering policy name is unknown.
var ErrInvalidPolicy = errors.New("invalid ordering policy")

type (
	// Policy decides what happens when declaration order and dependency
	// order disagree.
	Policy string

	// Move records a step that runs earlier than declared because Before
	// depends on it.
	Move struct {
		Step   string
		Before string
	}

	// Plan is a validated, ordered set of steps.
	Plan struct {
		steps   []Step
		index   map[string]int
		graph   *dag.Graph
		order   []string
		levels  [][]string
		moves   []Move
		unbound map[string][]Resource
		policy  Policy
	}
)

// IsValid returns whether the Policy is one of the defined policies.
func (p Policy) IsValid() (bool, []error) {
	switch p {
	case PolicyReorder, PolicyStrict:
		return true, nil
	default:
		return false, []error{fmt.Errorf("%w: %q", ErrInvalidPolicy, string(p))}
	}
}

// NewPlan derives the dependency graph of steps and orders it. Edges come
// from explicit After names and from outputs that touch another step's
// inputs. Under PolicyStrict any edge pointing backwards in the declared
// order is an OrderViolation; a cycle is always a DependencyCycle.
func NewPlan(steps []Step, policy Policy) (*Plan, error) {
	if policy == "" {
		policy = PolicyReorder
	}
	if ok, errs := policy.IsValid(); !ok {
		return nil, errs[0]
	}

	p := &Plan{
		steps:   slices.Clone(steps),
		index:   make(map[string]int, len(steps)),
		graph:   dag.New(),
		unbound: make(map[string][]Resource),
		policy:  policy,
	}
	declared := make([]string, 0, len(steps))
	for i, s := range p.steps {
		if s.Name == "" {
			return nil, fault.Newf(fault.KindInvalidManifest, "", "step %d has no name", i)
		}
		if _, dup := p.index[s.Name]; dup {
			return nil, fault.Newf(fault.KindInvalidManifest, s.Name, "duplicate step name")
		}
		if ok, errs := s.Class.IsValid(); !ok {
			return nil, fault.New(fault.KindInvalidManifest, s.Name, errs[0])
		}
		if s.Run == nil {
			return nil, fault.Newf(fault.KindInvalidManifest, s.Name, "step has no action")
		}
		p.index[s.Name] = i
		p.graph.AddNode(s.Name)
		declared = append(declared, s.Name)
	}

	for _, s := range p.steps {
		for _, dep := range s.After {
			if _, ok := p.index[dep]; !ok {
				return nil, fault.Newf(fault.KindInvalidManifest, s.Name, "depends on unknown step %q", dep)
			}
			p.graph.AddEdge(dep, s.Name)
		}
		for _, in := range s.Inputs {
			bound := false
			for _, other := range p.steps {
				if other.Name == s.Name {
					continue
				}
				for _, out := range other.Outputs {
					if out.Touches(in) {
						p.graph.AddEdge(other.Name, s.Name)
					}
					if out.Satisfies(in) {
						bound = true
					}
				}
			}
			if !bound {
				p.unbound[s.Name] = append(p.unbound[s.Name], in)
			}
		}
	}

	order, err := p.graph.TopologicalSort()
	if err != nil {
		var cycle *dag.CycleError
		if errors.As(err, &cycle) {
			return nil, fault.New(fault.KindDependencyCycle, strings.Join(cycle.Cycle, ", "), err)
		}
		return nil, err
	}
	p.order = order

	for _, e := range p.graph.Violations(declared) {
		p.moves = append(p.moves, Move{Step: e.From, Before: e.To})
	}
	if policy == PolicyStrict && len(p.moves) > 0 {
		return nil, fault.New(fault.KindOrderViolation, p.moves[0].Before, &OrderError{Moves: p.moves})
	}

	levels, err := p.graph.Levels()
	if err != nil {
		return nil, err
	}
	p.levels = levels
	return p, nil
}

// Order returns step names in execution order.
func (p *Plan) Order() []string { return slices.Clone(p.order) }

// Levels groups step names into batches of mutually independent steps.
func (p *Plan) Levels() [][]string {
	out := make([][]string, len(p.levels))
	for i, l := range p.levels {
		out[i] = slices.Clone(l)
	}
	return out
}

// Moves returns the steps that run earlier than declared.
func (p *Plan) Moves() []Move { return slices.Clone(p.moves) }

// Edges returns every dependency in the plan.
func (p *Plan) Edges() []dag.Edge { return p.graph.Edges() }

// Policy returns the ordering policy the plan was built with.
func (p *Plan) Policy() Policy { return p.policy }

// Step returns the named step.
func (p *Plan) Step(name string) (Step, bool) {
	i, ok := p.index[name]
	if !ok {
		return Step{}, false
	}
	return p.steps[i], true
}

// Steps returns the steps in execution order.
func (p *Plan) Steps() []Step {
	out := make([]Step, len(p.order))
	for i, name := range p.order {
		out[i] = p.steps[p.index[name]]
	}
	return out
}

// Unbound returns the inputs of a step that no other step produces. They
// must already exist in the target when the pipeline starts.
func (p *Plan) Unbound(name string) []Resource {
	return slices.Clone(p.unbound[name])
}

// Dependencies returns the names of the steps name directly waits for.
func (p *Plan) Dependencies(name string) []string {
	return p.graph.Predecessors(name)
}
