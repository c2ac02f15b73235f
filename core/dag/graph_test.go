package dag

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeNode struct {
	name  string
	needs []string
}

func (n fakeNode) Name() string    { return n.name }
func (n fakeNode) Needs() []string { return n.needs }

func nodes(specs ...fakeNode) []Node {
	out := make([]Node, len(specs))
	for i, s := range specs {
		out[i] = s
	}
	return out
}

func TestNewGraphAcceptsValidDAG(t *testing.T) {
	g, err := NewGraph(nodes(
		fakeNode{name: "architect"},
		fakeNode{name: "builder", needs: []string{"architect"}},
		fakeNode{name: "docs", needs: []string{"architect"}},
		fakeNode{name: "qa", needs: []string{"builder", "docs"}},
	))
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"architect", "builder", "docs", "qa"}, g.Names())
}

func TestNewGraphRejectsDuplicateNames(t *testing.T) {
	_, err := NewGraph(nodes(
		fakeNode{name: "architect"},
		fakeNode{name: "architect"},
	))
	require.Error(t, err)
}

func TestNewGraphRejectsUndefinedReference(t *testing.T) {
	_, err := NewGraph(nodes(
		fakeNode{name: "builder", needs: []string{"architect"}},
	))
	require.Error(t, err)
}

func TestNewGraphRejectsCycle(t *testing.T) {
	_, err := NewGraph(nodes(
		fakeNode{name: "a", needs: []string{"b"}},
		fakeNode{name: "b", needs: []string{"a"}},
	))
	require.Error(t, err)
}

func TestDownstreamReturnsTransitiveDependents(t *testing.T) {
	g, err := NewGraph(nodes(
		fakeNode{name: "architect"},
		fakeNode{name: "builder", needs: []string{"architect"}},
		fakeNode{name: "docs", needs: []string{"architect"}},
		fakeNode{name: "qa", needs: []string{"builder", "docs"}},
	))
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"builder", "docs", "qa"}, g.Downstream("architect"))
	require.ElementsMatch(t, []string{"qa"}, g.Downstream("builder"))
	require.Empty(t, g.Downstream("qa"))
}
