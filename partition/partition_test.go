package partition

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harishsg993010/tfx/graphdef"
)

// testOutputs mirrors the declared outputs of the three example graphs under
// testdata: "main" calls into "graph_a" and "graph_b", and "graph_b" itself
// calls into "graph_a".
var testOutputs = map[string][]string{
	"main":    {"AddN_1"},
	"graph_a": {"embedding_lookup/Identity"},
	"graph_b": {"Add_1"},
}

func loadTestGraphs(t *testing.T) map[string]*graphdef.Graph {
	t.Helper()
	return must.M1(graphdef.LoadAll(map[string]string{
		"main":    filepath.Join("testdata", "main_graph.json"),
		"graph_a": filepath.Join("testdata", "graph_a.json"),
		"graph_b": filepath.Join("testdata", "graph_b.json"),
	}))
}

func buildGraph(t *testing.T, name string, nodes ...*graphdef.NodeDef) *graphdef.Graph {
	t.Helper()
	return must.M1(graphdef.NewGraph(&graphdef.GraphDef{Name: name, Nodes: nodes}))
}

func TestPartitionGraphMain(t *testing.T) {
	graphs := loadTestGraphs(t)
	specs, err := PartitionGraph(graphs["main"], testOutputs["main"])
	require.NoError(t, err)
	require.Len(t, specs, 6)

	// Layer 0 remote ops (remote_op_a, remote_op_b) come first, each preceded
	// by the subgraph computing its inputs, then layer 1 (remote_op_a_1),
	// then the subgraph computing the declared outputs.
	assert.Equal(t, []string{"ids_a"}, specs[0].OutputNames)
	assert.Equal(t, "remote_op_a", specs[1].RemoteOp)
	assert.Equal(t, []string{"ids_b"}, specs[2].OutputNames)
	assert.Equal(t, "remote_op_b", specs[3].RemoteOp)
	assert.Equal(t, "remote_op_a_1", specs[4].RemoteOp)
	assert.Equal(t, []string{"AddN_1"}, specs[5].OutputNames)

	// remote_op_a_1 consumes another remote op directly, so there is no
	// subgraph spec between remote_op_b and it.
	assert.Equal(t, []string{"remote_op_b"}, specs[4].InputNames)
	assert.Equal(t, []string{"remote_op_a", "remote_op_a_1", "remote_op_b"}, specs[5].InputNames)
}

func TestPartitionGraphWithoutRemoteOps(t *testing.T) {
	graphs := loadTestGraphs(t)
	specs, err := PartitionGraph(graphs["graph_a"], testOutputs["graph_a"])
	require.NoError(t, err)
	require.Len(t, specs, 1)
	spec := specs[0]
	assert.False(t, spec.IsRemoteOp)
	assert.Equal(t, []string{"ids"}, spec.InputNames)
	assert.Equal(t, []string{"embedding_lookup/Identity"}, spec.OutputNames)
	assert.Len(t, spec.Subgraph.Nodes, 4)
}

func TestRemoteOpSpecs(t *testing.T) {
	graphs := loadTestGraphs(t)
	for name, outputs := range testOutputs {
		specs, err := PartitionGraph(graphs[name], outputs)
		require.NoError(t, err)
		for _, spec := range specs {
			if !spec.IsRemoteOp {
				continue
			}
			assert.Nil(t, spec.Subgraph)
			assert.Len(t, spec.OutputNames, 1)
			assert.Equal(t, spec.RemoteOp, spec.OutputNames[0])
			assert.NotEmpty(t, spec.RemoteGraph)
		}
	}
}

func TestSubgraphsMatchGoldenSet(t *testing.T) {
	graphs := loadTestGraphs(t)
	for name, outputs := range testOutputs {
		specs, err := PartitionGraph(graphs[name], outputs)
		require.NoError(t, err)
		for _, spec := range specs {
			if spec.IsRemoteOp {
				continue
			}
			golden := goldenSubgraph(t, name, spec)
			require.Equal(t, golden, spec.Subgraph,
				"graph %q, spec inputs %v", name, spec.InputNames)
		}
	}
}

func goldenSubgraph(t *testing.T, graphName string, spec *ExecutionSpec) *graphdef.GraphDef {
	t.Helper()
	filename := "input_names-" + strings.Join(spec.InputNames, "-") + ".json"
	path := filepath.Join("testdata", "golden", graphName, filename)
	f := must.M1(os.Open(path))
	defer f.Close()
	return must.M1(graphdef.Parse(f))
}

// reachableNodes returns every node name backward-reachable from the outputs,
// traversing through remote-op boundaries.
func reachableNodes(t *testing.T, g *graphdef.Graph, outputs []string) map[string]bool {
	t.Helper()
	seen := make(map[string]bool)
	stack := append([]string(nil), outputs...)
	for len(stack) > 0 {
		name := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[name] {
			continue
		}
		seen[name] = true
		node, found := g.Node(name)
		require.True(t, found, "node %q", name)
		for _, input := range node.Inputs {
			stack = append(stack, graphdef.ParseInputRef(input).Node)
		}
	}
	return seen
}

// ownedNodes returns the names a subgraph spec actually computes, skipping
// the placeholders the partitioner inserted for boundaries.
func ownedNodes(t *testing.T, g *graphdef.Graph, spec *ExecutionSpec) []string {
	t.Helper()
	var owned []string
	for _, node := range spec.Subgraph.Nodes {
		orig, found := g.Node(node.Name)
		require.True(t, found, "subgraph node %q not in original graph", node.Name)
		if orig.IsRemoteOp() {
			continue // boundary placeholder for a remote op
		}
		if node.Op == PlaceholderOp && orig.Op != PlaceholderOp {
			continue // boundary placeholder for a node owned by an earlier spec
		}
		owned = append(owned, node.Name)
	}
	return owned
}

func TestPartitionCoverage(t *testing.T) {
	graphs := loadTestGraphs(t)
	for name, outputs := range testOutputs {
		g := graphs[name]
		specs, err := PartitionGraph(g, outputs)
		require.NoError(t, err)

		covered := make(map[string]bool)
		for _, spec := range specs {
			if spec.IsRemoteOp {
				covered[spec.RemoteOp] = true
				continue
			}
			for _, owned := range ownedNodes(t, g, spec) {
				assert.Falsef(t, covered[owned], "graph %q: node %q owned by two specs", name, owned)
				covered[owned] = true
			}
		}
		assert.Equal(t, reachableNodes(t, g, outputs), covered, "graph %q", name)
	}
}

func TestPartitionIdempotence(t *testing.T) {
	graphs := loadTestGraphs(t)
	for name, outputs := range testOutputs {
		first, err := PartitionGraph(graphs[name], outputs)
		require.NoError(t, err)
		second, err := PartitionGraph(graphs[name], outputs)
		require.NoError(t, err)
		require.Equal(t, first, second, "graph %q", name)
	}
}

func TestSubgraphRoundTrip(t *testing.T) {
	graphs := loadTestGraphs(t)
	for name, outputs := range testOutputs {
		specs, err := PartitionGraph(graphs[name], outputs)
		require.NoError(t, err)
		for _, spec := range specs {
			if spec.IsRemoteOp {
				continue
			}
			var buf bytes.Buffer
			require.NoError(t, spec.WriteSubgraph(&buf))
			def, err := graphdef.Parse(&buf)
			require.NoError(t, err)
			reloaded, err := graphdef.NewGraph(def)
			require.NoError(t, err)
			for _, output := range spec.OutputNames {
				_, found := reloaded.Node(output)
				assert.Truef(t, found, "graph %q: output %q missing after round trip", name, output)
			}
			require.Equal(t, spec.Subgraph, def)
		}
	}
}

func TestPartitionOutputIsRemoteOp(t *testing.T) {
	graphs := loadTestGraphs(t)
	specs, err := PartitionGraph(graphs["main"], []string{"remote_op_a"})
	require.NoError(t, err)
	require.Len(t, specs, 2)
	assert.False(t, specs[0].IsRemoteOp)
	assert.Equal(t, []string{"ids_a"}, specs[0].OutputNames)
	assert.True(t, specs[1].IsRemoteOp)
	assert.Equal(t, "remote_op_a", specs[1].RemoteOp)
}

func TestPartitionGroupsOverlappingOutputs(t *testing.T) {
	g := buildGraph(t, "shared",
		&graphdef.NodeDef{Name: "base", Op: "Const", Inputs: []string{}},
		&graphdef.NodeDef{Name: "x", Op: "Neg", Inputs: []string{"base"}},
		&graphdef.NodeDef{Name: "y", Op: "Exp", Inputs: []string{"base"}},
	)
	specs, err := PartitionGraph(g, []string{"x", "y"})
	require.NoError(t, err)
	require.Len(t, specs, 1)
	assert.Equal(t, []string{"x", "y"}, specs[0].OutputNames)
	assert.Len(t, specs[0].Subgraph.Nodes, 3)
}

func TestPartitionKeepsDisjointOutputsApart(t *testing.T) {
	g := buildGraph(t, "disjoint",
		&graphdef.NodeDef{Name: "a", Op: "Const", Inputs: []string{}},
		&graphdef.NodeDef{Name: "x", Op: "Neg", Inputs: []string{"a"}},
		&graphdef.NodeDef{Name: "b", Op: "Const", Inputs: []string{}},
		&graphdef.NodeDef{Name: "y", Op: "Exp", Inputs: []string{"b"}},
	)
	specs, err := PartitionGraph(g, []string{"x", "y"})
	require.NoError(t, err)
	require.Len(t, specs, 2)
	assert.Equal(t, []string{"x"}, specs[0].OutputNames)
	assert.Equal(t, []string{"y"}, specs[1].OutputNames)
}

func TestPartitionPassThroughOutput(t *testing.T) {
	// "c" feeds a remote op, so it is owned by the remote op's input
	// subgraph; declaring it as a graph output must still yield a covering
	// spec.
	g := buildGraph(t, "passthrough",
		&graphdef.NodeDef{Name: "c", Op: "Const", Inputs: []string{}},
		&graphdef.NodeDef{Name: "r", Op: "RemoteCall", Inputs: []string{"c"}, RemoteGraph: "other"},
		&graphdef.NodeDef{Name: "out", Op: "Identity", Inputs: []string{"r"}},
	)
	specs, err := PartitionGraph(g, []string{"out", "c"})
	require.NoError(t, err)
	require.Len(t, specs, 4)
	assert.Equal(t, []string{"c"}, specs[0].OutputNames)
	assert.Equal(t, "r", specs[1].RemoteOp)
	assert.Equal(t, []string{"out"}, specs[2].OutputNames)

	passThrough := specs[3]
	assert.Equal(t, []string{"c"}, passThrough.OutputNames)
	assert.Equal(t, []string{"c"}, passThrough.InputNames)
	require.Len(t, passThrough.Subgraph.Nodes, 1)
	assert.Equal(t, PlaceholderOp, passThrough.Subgraph.Nodes[0].Op)
}

func TestPartitionUnresolvedOutput(t *testing.T) {
	graphs := loadTestGraphs(t)
	_, err := PartitionGraph(graphs["main"], []string{"AddN_1", "nope"})
	var outputErr *UnresolvedOutputError
	require.ErrorAs(t, err, &outputErr)
	assert.Equal(t, "main", outputErr.Graph)
	assert.Equal(t, "nope", outputErr.Output)
}

func TestPartitionMissingNode(t *testing.T) {
	g := buildGraph(t, "dangling",
		&graphdef.NodeDef{Name: "out", Op: "Identity", Inputs: []string{"ghost"}},
	)
	_, err := PartitionGraph(g, []string{"out"})
	var missingErr *MissingNodeError
	require.ErrorAs(t, err, &missingErr)
	assert.Equal(t, "ghost", missingErr.Node)
	assert.Equal(t, "out", missingErr.ReferencedBy)
}
