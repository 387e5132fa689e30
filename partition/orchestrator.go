package partition

import (
	"sort"

	"github.com/pkg/errors"
	"golang.org/x/exp/maps"
	"k8s.io/klog/v2"

	"github.com/harishsg993010/tfx/graphdef"
)

// PartitionAll partitions a named collection of graphs whose remote ops
// reference each other, returning the ordered execution specs per graph name.
// outputNames maps each graph name to its declared outputs.
//
// Graphs are processed so that a referenced graph is always partitioned
// before the graphs calling into it: only then does a downstream consumer
// have the referenced graph's resolved shape available when it materializes a
// remote-op spec. The computation itself is order-independent, so this is a
// sequencing guarantee for consumers, not a concurrency constraint.
//
// It fails with *UnknownGraphReferenceError if a remote op references a graph
// name absent from the collection, and propagates the single-graph errors of
// PartitionGraph unchanged. On any failure no specs are returned.
func PartitionAll(graphs map[string]*graphdef.Graph, outputNames map[string][]string) (map[string][]*ExecutionSpec, error) {
	relations, opToGraph, err := RemoteOpRelations(graphs, outputNames)
	if err != nil {
		return nil, err
	}
	layers, err := Layers(relations)
	if err != nil {
		return nil, err
	}

	order := graphOrder(graphs, opToGraph, layers)
	result := make(map[string][]*ExecutionSpec, len(graphs))
	for _, name := range order {
		klog.V(1).Infof("Partitioning graph %q (outputs: %v)", name, outputNames[name])
		specs, err := PartitionGraph(graphs[name], outputNames[name])
		if err != nil {
			return nil, err
		}
		result[name] = specs
	}
	return result, nil
}

// RemoteOpRelations builds the remote-op relation map across a collection of
// graphs: for every remote op reachable from its graph's declared outputs,
// the remote ops appearing in the graph it references, restricted to those
// reachable from that graph's declared outputs. The second return value maps
// each remote-op name back to the graph containing it.
//
// The map is built once per collection and read-only afterwards; callers pass
// it around as a value, there is no shared mutable state behind it.
func RemoteOpRelations(graphs map[string]*graphdef.Graph, outputNames map[string][]string) (map[string][]string, map[string]string, error) {
	graphNames := maps.Keys(graphs)
	sort.Strings(graphNames)

	// Remote ops reachable from each graph's declared outputs.
	reachable := make(map[string][]string, len(graphs))
	opToGraph := make(map[string]string)
	for _, name := range graphNames {
		ops, err := reachableRemoteOps(graphs[name], outputNames[name])
		if err != nil {
			return nil, nil, err
		}
		reachable[name] = ops
		for _, op := range ops {
			if other, found := opToGraph[op]; found {
				return nil, nil, errors.Errorf(
					"remote-op node name %q is used by both graph %q and graph %q; remote-op names must be unique across a collection",
					op, other, name)
			}
			opToGraph[op] = name
		}
	}

	relations := make(map[string][]string, len(opToGraph))
	for _, name := range graphNames {
		for _, op := range reachable[name] {
			node, _ := graphs[name].Node(op)
			if _, found := graphs[node.RemoteGraph]; !found {
				return nil, nil, &UnknownGraphReferenceError{
					Graph:      name,
					RemoteOp:   op,
					Referenced: node.RemoteGraph,
				}
			}
			// reachable is keyed by the collection's map keys, which is also
			// the namespace remote_graph references live in. A graph's stored
			// name may differ from its key.
			relations[op] = reachable[node.RemoteGraph]
		}
	}
	return relations, opToGraph, nil
}

// reachableRemoteOps returns the remote-op node names backward-reachable from
// the declared outputs, traversing through remote-op boundaries, sorted.
func reachableRemoteOps(g *graphdef.Graph, outputs []string) ([]string, error) {
	remoteOps := make(map[string]bool)
	seen := make(map[string]bool)
	stack := make([]inputEdge, 0, len(outputs))
	for _, output := range outputs {
		stack = append(stack, inputEdge{node: output})
	}
	for len(stack) > 0 {
		edge := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[edge.node] {
			continue
		}
		seen[edge.node] = true
		node, found := g.Node(edge.node)
		if !found {
			if edge.from == "" {
				return nil, &UnresolvedOutputError{Graph: g.Name(), Output: edge.node}
			}
			return nil, &MissingNodeError{Graph: g.Name(), Node: edge.node, ReferencedBy: edge.from}
		}
		if node.IsRemoteOp() {
			remoteOps[node.Name] = true
		}
		stack = appendInputs(stack, node)
	}
	sorted := maps.Keys(remoteOps)
	sort.Strings(sorted)
	return sorted, nil
}

// graphOrder sequences the graph names so that referenced graphs come first:
// ascending by the highest layer of the remote ops each graph contains
// (graphs with none first), name order breaking ties. A graph calling into
// another always contains a remote op layered strictly above everything in
// the referenced graph, so this respects the reference structure.
func graphOrder(graphs map[string]*graphdef.Graph, opToGraph map[string]string, layers [][]string) []string {
	maxLayer := make(map[string]int, len(graphs))
	for name := range graphs {
		maxLayer[name] = -1
	}
	for idx, layer := range layers {
		for _, op := range layer {
			maxLayer[opToGraph[op]] = idx
		}
	}
	order := maps.Keys(graphs)
	sort.Slice(order, func(i, j int) bool {
		if maxLayer[order[i]] != maxLayer[order[j]] {
			return maxLayer[order[i]] < maxLayer[order[j]]
		}
		return order[i] < order[j]
	})
	return order
}
