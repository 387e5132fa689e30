// Package graphdef defines the serialized form of computation graphs and the
// loader that turns them into immutable in-memory graphs.
//
// A graph definition is a JSON document with a name and an ordered list of
// node definitions. Each node has a unique name, an operation kind and a list
// of input references. Input references are node names, optionally carrying a
// ":<k>" output-index suffix for multi-output nodes, or a "^" prefix marking a
// control dependency.
//
// A node whose RemoteGraph field is set is a "remote op": a call boundary
// into another named graph. Remote ops are never expanded by consumers of this
// package; they are resolved by the partitioning layer (see the partition
// package).
package graphdef

import (
	"strconv"
	"strings"
)

// NodeDef is the serialized form of a single operation in a graph.
type NodeDef struct {
	Name   string   `json:"name"`
	Op     string   `json:"op"`
	Inputs []string `json:"inputs"`

	// RemoteGraph names the graph this node calls into, if the node is a
	// remote op. Empty for ordinary nodes.
	RemoteGraph string `json:"remote_graph,omitempty"`
}

// IsRemoteOp reports whether the node is a call boundary into another graph.
func (n *NodeDef) IsRemoteOp() bool { return n.RemoteGraph != "" }

// Clone returns a deep copy of the node definition.
func (n *NodeDef) Clone() *NodeDef {
	c := &NodeDef{Name: n.Name, Op: n.Op, RemoteGraph: n.RemoteGraph}
	if n.Inputs != nil {
		c.Inputs = make([]string, len(n.Inputs))
		copy(c.Inputs, n.Inputs)
	}
	return c
}

// GraphDef is the serialized form of a whole graph: a name plus an ordered
// list of node definitions.
type GraphDef struct {
	Name  string     `json:"name"`
	Nodes []*NodeDef `json:"nodes"`
}

// Clone returns a deep copy of the graph definition.
func (g *GraphDef) Clone() *GraphDef {
	c := &GraphDef{Name: g.Name, Nodes: make([]*NodeDef, len(g.Nodes))}
	for ii, node := range g.Nodes {
		c.Nodes[ii] = node.Clone()
	}
	return c
}

// InputRef is a parsed input reference of a node: the producing node's name,
// which of its outputs is consumed, and whether the edge is a control
// dependency (in which case Index is meaningless).
type InputRef struct {
	Node      string
	Index     int
	IsControl bool
}

// ParseInputRef parses a serialized input reference. "x" and "x:0" refer to
// the first output of node x, "x:2" to its third output, and "^x" to a
// control dependency on x. A malformed index suffix is treated as part of the
// node name, matching the permissive behavior of graph importers.
func ParseInputRef(ref string) InputRef {
	if strings.HasPrefix(ref, "^") {
		return InputRef{Node: ref[1:], IsControl: true}
	}
	if pos := strings.LastIndexByte(ref, ':'); pos >= 0 {
		if idx, err := strconv.Atoi(ref[pos+1:]); err == nil && idx >= 0 {
			return InputRef{Node: ref[:pos], Index: idx}
		}
	}
	return InputRef{Node: ref}
}

// String re-renders the reference in its serialized form.
func (r InputRef) String() string {
	if r.IsControl {
		return "^" + r.Node
	}
	if r.Index > 0 {
		return r.Node + ":" + strconv.Itoa(r.Index)
	}
	return r.Node
}

// Graph is the immutable in-memory representation of a loaded graph
// definition. Once built it is never mutated, so it can be shared freely
// across concurrent partitioning runs.
type Graph struct {
	name  string
	def   *GraphDef
	nodes map[string]*NodeDef
}

// NewGraph indexes a graph definition into a Graph. It fails with a
// *ParseError if any two nodes share a name or a node has an empty name.
// The definition is not copied: callers must not mutate it afterwards.
func NewGraph(def *GraphDef) (*Graph, error) {
	g := &Graph{
		name:  def.Name,
		def:   def,
		nodes: make(map[string]*NodeDef, len(def.Nodes)),
	}
	for ii, node := range def.Nodes {
		if node.Name == "" {
			return nil, &ParseError{Graph: def.Name, Msg: "node #" + strconv.Itoa(ii) + " has an empty name"}
		}
		if _, found := g.nodes[node.Name]; found {
			return nil, &ParseError{Graph: def.Name, Msg: "duplicate node name " + strconv.Quote(node.Name)}
		}
		g.nodes[node.Name] = node
	}
	return g, nil
}

// Name of the graph, set from its definition (or overridden by LoadAll).
func (g *Graph) Name() string { return g.name }

// Def returns the underlying graph definition. It must be treated as
// read-only.
func (g *Graph) Def() *GraphDef { return g.def }

// Nodes returns the node definitions in their original declaration order.
// The returned slice must be treated as read-only.
func (g *Graph) Nodes() []*NodeDef { return g.def.Nodes }

// NumNodes returns the number of nodes in the graph.
func (g *Graph) NumNodes() int { return len(g.def.Nodes) }

// Node returns the node with the given name, or false if there is none.
func (g *Graph) Node(name string) (*NodeDef, bool) {
	node, found := g.nodes[name]
	return node, found
}
