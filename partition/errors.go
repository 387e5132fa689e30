package partition

import (
	"fmt"
	"strings"
)

// CycleError indicates a cyclic remote-op dependency found while layering a
// relation map.
type CycleError struct {
	// Remaining holds the remote-op names that could not be assigned to any
	// layer, sorted.
	Remaining []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("cyclic remote-op dependency among [%s]", strings.Join(e.Remaining, ", "))
}

// MissingNodeError indicates a node input reference that points at a node
// absent from the graph.
type MissingNodeError struct {
	Graph string
	Node  string

	// ReferencedBy is the node whose input list contains the dangling
	// reference. Empty when the reference came from a declared output list.
	ReferencedBy string
}

func (e *MissingNodeError) Error() string {
	if e.ReferencedBy == "" {
		return fmt.Sprintf("graph %q has no node %q", e.Graph, e.Node)
	}
	return fmt.Sprintf("graph %q has no node %q, referenced as an input of %q", e.Graph, e.Node, e.ReferencedBy)
}

// UnresolvedOutputError indicates a declared output name that is not present
// in the graph being partitioned.
type UnresolvedOutputError struct {
	Graph  string
	Output string
}

func (e *UnresolvedOutputError) Error() string {
	return fmt.Sprintf("declared output %q not found in graph %q", e.Output, e.Graph)
}

// UnknownGraphReferenceError indicates a remote op whose referenced graph is
// absent from the collection handed to PartitionAll.
type UnknownGraphReferenceError struct {
	Graph      string // graph containing the remote op
	RemoteOp   string // name of the remote op node
	Referenced string // the missing graph name
}

func (e *UnknownGraphReferenceError) Error() string {
	return fmt.Sprintf("remote op %q in graph %q references unknown graph %q", e.RemoteOp, e.Graph, e.Referenced)
}
