// Package dag validates and executes a step graph: cycle/uniqueness/reference checks up front,
// then a bounded-concurrency scheduler that admits ready nodes in deterministic order.
package dag

import (
	"fmt"
	"sort"

	multierror "github.com/hashicorp/go-multierror"

	"github.com/loomforge/loomforge/common/gerror"
)

// Node is one vertex in the step graph. Needs returns the names of this node's prerequisites.
type Node interface {
	Name() string
	Needs() []string
}

// Graph is a validated, acyclic collection of nodes. Cycles are found with a plain three-color
// depth-first search: the step graph here has a handful of nodes and one edge
// shape (named prerequisites), which doesn't warrant pulling in a general-purpose graph library.
type Graph struct {
	nodes map[string]Node
	// names holds insertion order, used to tie-break deterministic admission among
	// simultaneously-ready nodes that compare equal by name (never true today, since names are
	// unique, but kept so ties are resolved the same way sort-then-insertion-order promises).
	names []string
}

// NewGraph validates vertices and returns the resulting Graph. Validation failures are reported
// as a single accumulated gerror with failure kind validation_error.
func NewGraph(vertices []Node) (*Graph, error) {
	nodes := make(map[string]Node, len(vertices))
	names := make([]string, 0, len(vertices))
	var result *multierror.Error

	for _, v := range vertices {
		if _, exists := nodes[v.Name()]; exists {
			result = multierror.Append(result, fmt.Errorf("duplicate node name: %q", v.Name()))
			continue
		}
		nodes[v.Name()] = v
		names = append(names, v.Name())
	}

	for _, v := range vertices {
		for _, need := range v.Needs() {
			if _, ok := nodes[need]; !ok {
				result = multierror.Append(result, fmt.Errorf("node %q depends on undefined node %q", v.Name(), need))
			}
		}
	}

	if err := result.ErrorOrNil(); err != nil {
		return nil, gerror.NewErrValidationFailed(err.Error())
	}

	g := &Graph{nodes: nodes, names: names}
	if cyclePath, ok := g.findCycle(); ok {
		return nil, gerror.NewErrValidationFailed(fmt.Sprintf("step graph has a cycle: %v", cyclePath))
	}
	return g, nil
}

// findCycle runs a depth-first search looking for a back edge. It returns the cycle's node
// names in traversal order when one is found.
func (g *Graph) findCycle() ([]string, bool) {
	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[string]int, len(g.names))
	var path []string

	var visit func(name string) ([]string, bool)
	visit = func(name string) ([]string, bool) {
		state[name] = visiting
		path = append(path, name)
		for _, need := range g.nodes[name].Needs() {
			switch state[need] {
			case visiting:
				return append(append([]string{}, path...), need), true
			case unvisited:
				if cyc, found := visit(need); found {
					return cyc, true
				}
			}
		}
		path = path[:len(path)-1]
		state[name] = done
		return nil, false
	}

	for _, name := range g.names {
		if state[name] == unvisited {
			if cyc, found := visit(name); found {
				return cyc, true
			}
		}
	}
	return nil, false
}

// Names returns every node name in insertion order.
func (g *Graph) Names() []string {
	out := make([]string, len(g.names))
	copy(out, g.names)
	return out
}

// Node looks up a node by name.
func (g *Graph) Node(name string) Node {
	return g.nodes[name]
}

// Downstream returns the set of node names that transitively depend on name, used to propagate
// dependency_failed when a step exhausts its retries.
func (g *Graph) Downstream(name string) []string {
	direct := make(map[string][]string, len(g.nodes))
	for _, n := range g.nodes {
		for _, need := range n.Needs() {
			direct[need] = append(direct[need], n.Name())
		}
	}

	seen := map[string]bool{}
	var out []string
	var visit func(string)
	visit = func(cur string) {
		for _, child := range direct[cur] {
			if !seen[child] {
				seen[child] = true
				out = append(out, child)
				visit(child)
			}
		}
	}
	visit(name)
	sort.Strings(out)
	return out
}
