// Package partition decomposes computation graphs at remote-op boundaries
// into executable specifications.
//
// A remote op marks a call into another named graph. Partitioning walks node
// dependencies backward from a graph's declared outputs, cutting the
// traversal wherever it reaches a remote op, and emits one ExecutionSpec per
// maximal non-remote connected region plus one per remote op. Specs are
// ordered so that every spec's inputs are produced by earlier specs, which is
// what a downstream execution system needs to run them in sequence.
//
// PartitionGraph handles a single graph; PartitionAll coordinates a
// collection of graphs whose remote ops reference each other, using Layers to
// order the work. All operations are pure functions over immutable input
// graphs, so independent runs may proceed in parallel without coordination.
package partition

import (
	"sort"

	"github.com/gomlx/exceptions"
	"k8s.io/klog/v2"

	"github.com/harishsg993010/tfx/graphdef"
)

// PlaceholderOp is the operation kind used for graph-level inputs and for the
// boundary placeholders the partitioner inserts into subgraphs.
const PlaceholderOp = "Placeholder"

// raised wraps errors thrown inside the partitioner, so the boundary recovery
// only catches our own failures and never masks unrelated panics.
type raised struct{ err error }

func (r raised) Error() string { return r.err.Error() }

func throw(err error) {
	panic(raised{err})
}

// PartitionGraph partitions one graph into the ordered list of execution
// specs that computes the given declared outputs.
//
// It fails with *UnresolvedOutputError if a declared output is absent from
// the graph, *MissingNodeError if an input reference dangles, and
// *CycleError if the graph's remote ops depend on each other cyclically.
func PartitionGraph(g *graphdef.Graph, outputNames []string) (specs []*ExecutionSpec, err error) {
	p := &partitioner{
		graph:       g,
		outputs:     outputNames,
		placed:      make(map[string]bool),
		remoteSpecs: make(map[string]*ExecutionSpec),
	}
	exc := exceptions.TryCatch[raised](func() { specs = p.run() })
	if exc.err != nil {
		return nil, exc.err
	}
	return specs, nil
}

// partitioner holds the state of a single-graph partitioning run.
type partitioner struct {
	graph   *graphdef.Graph
	outputs []string

	// placed maps non-remote node names to true once some subgraph spec owns
	// them. It is what guarantees each node lands in exactly one spec.
	placed map[string]bool

	// remoteSpecs dedupes remote-op specs by remote-op node name.
	remoteSpecs map[string]*ExecutionSpec

	specs []*ExecutionSpec
}

func (p *partitioner) run() []*ExecutionSpec {
	for _, output := range p.outputs {
		if _, found := p.graph.Node(output); !found {
			throw(&UnresolvedOutputError{Graph: p.graph.Name(), Output: output})
		}
	}

	// Remote ops are resolved innermost-first: each layer's remote ops only
	// depend on remote ops from earlier layers, so by the time a remote-op
	// spec is emitted, the specs computing its inputs already exist.
	relations := p.remoteOpRelations()
	layers, err := Layers(relations)
	if err != nil {
		throw(err)
	}
	for _, layer := range layers {
		for _, remoteOp := range layer {
			p.emitRemoteOp(remoteOp)
		}
	}

	p.emitDeclaredOutputs()

	klog.V(2).Infof("Partitioned graph %q: %d node(s), %d declared output(s), %d spec(s)",
		p.graph.Name(), p.graph.NumNodes(), len(p.outputs), len(p.specs))
	return p.specs
}

// remoteOpRelations builds the intra-graph remote-op relation map: for every
// remote op backward-reachable from the declared outputs, the set of its
// nearest remote-op predecessors. Dangling input references anywhere in the
// reachable region are reported here.
func (p *partitioner) remoteOpRelations() map[string][]string {
	var remoteOps []string
	seen := make(map[string]bool)
	stack := make([]inputEdge, 0, len(p.outputs))
	for _, output := range p.outputs {
		stack = append(stack, inputEdge{node: output})
	}
	for len(stack) > 0 {
		edge := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[edge.node] {
			continue
		}
		seen[edge.node] = true
		node := p.node(edge)
		if node.IsRemoteOp() {
			remoteOps = append(remoteOps, node.Name)
		}
		stack = appendInputs(stack, node)
	}

	relations := make(map[string][]string, len(remoteOps))
	for _, remoteOp := range remoteOps {
		node, _ := p.graph.Node(remoteOp)
		relations[remoteOp] = p.nearestRemotePredecessors(node)
	}
	return relations
}

// nearestRemotePredecessors walks backward from the node's inputs and returns
// the first remote op found on each path, sorted.
func (p *partitioner) nearestRemotePredecessors(node *graphdef.NodeDef) []string {
	deps := make(map[string]bool)
	seen := make(map[string]bool)
	stack := appendInputs(nil, node)
	for len(stack) > 0 {
		edge := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[edge.node] {
			continue
		}
		seen[edge.node] = true
		next := p.node(edge)
		if next.IsRemoteOp() {
			deps[next.Name] = true
			continue
		}
		stack = appendInputs(stack, next)
	}
	sorted := make([]string, 0, len(deps))
	for dep := range deps {
		sorted = append(sorted, dep)
	}
	sort.Strings(sorted)
	return sorted
}

// emitRemoteOp emits the subgraph spec computing the remote op's inputs (when
// it contributes any not-yet-placed nodes) followed by the remote op's own
// spec.
func (p *partitioner) emitRemoteOp(remoteOp string) {
	node, _ := p.graph.Node(remoteOp)
	roots := inputRoots(node)
	region := p.traverse(roots)
	if len(region.visited) > 0 {
		p.commit(region)
	}
	spec := &ExecutionSpec{
		InputNames:  rootNames(roots),
		OutputNames: []string{remoteOp},
		IsRemoteOp:  true,
		RemoteOp:    remoteOp,
		RemoteGraph: node.RemoteGraph,
	}
	p.remoteSpecs[remoteOp] = spec
	p.specs = append(p.specs, spec)
}

// emitDeclaredOutputs emits the subgraph specs covering the graph's declared
// outputs. Outputs whose backward traversals overlap in a non-remote node are
// grouped into a single spec, so shared computation is never duplicated;
// outputs that are themselves remote ops are already covered by their
// remote-op spec.
func (p *partitioner) emitDeclaredOutputs() {
	var regions []*region
	seen := make(map[string]bool)
	for _, output := range p.outputs {
		if seen[output] {
			continue
		}
		seen[output] = true
		node, _ := p.graph.Node(output)
		if node.IsRemoteOp() {
			continue
		}
		r := p.traverse([]inputEdge{{node: output}})
		if len(r.outputs) == 0 {
			// The output was already placed by a remote op's input subgraph;
			// it still needs a covering spec, which degenerates to a
			// pass-through of the earlier spec's value.
			r.outputs = []string{output}
		}
		regions = append(regions, r)
	}

	// Merge regions that share a node. Merging can create new overlaps, so
	// repeat until a fixed point: the result is the set of maximal non-remote
	// connected regions.
	merged := true
	for merged {
		merged = false
		for ii := 0; ii < len(regions) && !merged; ii++ {
			for jj := ii + 1; jj < len(regions); jj++ {
				if !regions[ii].overlaps(regions[jj]) {
					continue
				}
				regions[ii].absorb(regions[jj])
				regions = append(regions[:jj], regions[jj+1:]...)
				merged = true
				break
			}
		}
	}

	for _, r := range regions {
		p.commit(r)
	}
}

// region is the result of one backward traversal: the non-remote nodes it
// visited, the boundaries it stopped at, and the outputs that rooted it.
type region struct {
	outputs    []string
	visited    map[string]bool
	boundaries map[string]bool
}

func (r *region) overlaps(other *region) bool {
	small, large := r.visited, other.visited
	if len(small) > len(large) {
		small, large = large, small
	}
	for name := range small {
		if large[name] {
			return true
		}
	}
	return false
}

func (r *region) absorb(other *region) {
	r.outputs = append(r.outputs, other.outputs...)
	for name := range other.visited {
		r.visited[name] = true
	}
	for name := range other.boundaries {
		r.boundaries[name] = true
	}
}

// inputEdge is a work-stack entry: a node name to visit and the node whose
// input list referenced it, kept for error reporting.
type inputEdge struct {
	node string
	from string
}

// node resolves a work-stack entry, failing with *MissingNodeError on a
// dangling reference.
func (p *partitioner) node(edge inputEdge) *graphdef.NodeDef {
	node, found := p.graph.Node(edge.node)
	if !found {
		throw(&MissingNodeError{Graph: p.graph.Name(), Node: edge.node, ReferencedBy: edge.from})
	}
	return node
}

func appendInputs(stack []inputEdge, node *graphdef.NodeDef) []inputEdge {
	for _, input := range node.Inputs {
		ref := graphdef.ParseInputRef(input)
		stack = append(stack, inputEdge{node: ref.Node, from: node.Name})
	}
	return stack
}

func inputRoots(node *graphdef.NodeDef) []inputEdge {
	var roots []inputEdge
	seen := make(map[string]bool)
	for _, input := range node.Inputs {
		ref := graphdef.ParseInputRef(input)
		if seen[ref.Node] {
			continue
		}
		seen[ref.Node] = true
		roots = append(roots, inputEdge{node: ref.Node, from: node.Name})
	}
	return roots
}

func rootNames(roots []inputEdge) []string {
	names := make([]string, len(roots))
	for ii, root := range roots {
		names[ii] = root.node
	}
	return names
}

// traverse walks backward from the given roots, collecting not-yet-placed
// non-remote nodes. Remote ops and nodes owned by earlier specs are recorded
// as boundaries and not expanded. It does not modify partitioner state.
func (p *partitioner) traverse(roots []inputEdge) *region {
	r := &region{
		visited:    make(map[string]bool),
		boundaries: make(map[string]bool),
	}
	stack := make([]inputEdge, len(roots))
	copy(stack, roots)
	for len(stack) > 0 {
		edge := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if r.visited[edge.node] || r.boundaries[edge.node] {
			continue
		}
		node := p.node(edge)
		if node.IsRemoteOp() || p.placed[edge.node] {
			r.boundaries[edge.node] = true
			continue
		}
		r.visited[edge.node] = true
		stack = appendInputs(stack, node)
	}

	// The outputs of the region are the roots it actually computes itself;
	// roots that turned out to be boundaries are produced by earlier specs.
	for _, root := range roots {
		if r.visited[root.node] {
			r.outputs = append(r.outputs, root.node)
		}
	}
	return r
}

// commit materializes a region as a subgraph spec and marks its nodes as
// placed. The subgraph holds the region's nodes in their original declaration
// order, plus one placeholder per boundary so it stays self-contained when
// serialized and reloaded on its own.
func (p *partitioner) commit(r *region) {
	boundaries := make([]string, 0, len(r.boundaries))
	for name := range r.boundaries {
		boundaries = append(boundaries, name)
	}
	sort.Strings(boundaries)

	subgraph := &graphdef.GraphDef{Name: p.graph.Name()}
	for _, name := range boundaries {
		subgraph.Nodes = append(subgraph.Nodes, &graphdef.NodeDef{
			Name:   name,
			Op:     PlaceholderOp,
			Inputs: []string{},
		})
	}
	inputNames := append([]string(nil), boundaries...)
	for _, node := range p.graph.Nodes() {
		if !r.visited[node.Name] {
			continue
		}
		subgraph.Nodes = append(subgraph.Nodes, node.Clone())
		if node.Op == PlaceholderOp {
			// Graph-level inputs count as spec inputs too.
			inputNames = append(inputNames, node.Name)
		}
		p.placed[node.Name] = true
	}
	sort.Strings(inputNames)

	p.specs = append(p.specs, &ExecutionSpec{
		Subgraph:    subgraph,
		InputNames:  inputNames,
		OutputNames: r.outputs,
	})
}
