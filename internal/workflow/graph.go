package workflow

import (
	"context"
	"fmt"

	"github.com/ashureev/interviewd/internal/domain"
)

// End is the pseudo step that stops a run.
const End = "__end__"

// Step transforms the session state. It receives its own copy.
type Step func(ctx context.Context, st domain.SessionState) (domain.SessionState, error)

// Route picks the next step by name. Routes must not have side effects.
type Route func(st domain.SessionState) string

type node struct {
	step  Step
	next  string
	route Route
}

// Graph is a small directed graph of named steps joined by direct edges and
// routing predicates.
type Graph struct {
	nodes    map[string]node
	maxSteps int
}

// NewGraph creates an empty graph that aborts after maxSteps steps.
func NewGraph(maxSteps int) *Graph {
	if maxSteps <= 0 {
		maxSteps = 32
	}
	return &Graph{nodes: make(map[string]node), maxSteps: maxSteps}
}

// AddStep registers a step.
func (g *Graph) AddStep(name string, s Step) *Graph {
	g.nodes[name] = node{step: s}
	return g
}

// AddEdge always runs to after from.
func (g *Graph) AddEdge(from, to string) *Graph {
	n := g.nodes[from]
	n.next = to
	g.nodes[from] = n
	return g
}

// AddRoute evaluates r after from to choose the next step.
func (g *Graph) AddRoute(from string, r Route) *Graph {
	n := g.nodes[from]
	n.route = r
	g.nodes[from] = n
	return g
}

// Run executes from entry until End. It returns the final state and the
// names of the steps that ran.
func (g *Graph) Run(ctx context.Context, entry string, st domain.SessionState) (domain.SessionState, []string, error) {
	var trail []string
	current := entry
	for current != End {
		if len(trail) >= g.maxSteps {
			return st, trail, fmt.Errorf("workflow exceeded %d steps (trail %v)", g.maxSteps, trail)
		}
		if err := ctx.Err(); err != nil {
			return st, trail, err
		}
		n, ok := g.nodes[current]
		if !ok || n.step == nil {
			return st, trail, fmt.Errorf("workflow step %q is not defined", current)
		}

		next, err := n.step(ctx, st.Clone())
		trail = append(trail, current)
		if err != nil {
			return st, trail, fmt.Errorf("step %s: %w", current, err)
		}
		st = next

		switch {
		case n.route != nil:
			current = n.route(st)
		case n.next != "":
			current = n.next
		default:
			current = End
		}
	}
	return st, trail, nil
}
