package partition

import (
	"io"

	"github.com/harishsg993010/tfx/graphdef"
)

// ExecutionSpec is the unit of partitioned output. It comes in two flavors:
//
//   - A subgraph spec owns a self-contained subgraph able to compute its
//     OutputNames given values for its InputNames. Boundary inputs (remote
//     ops and nodes computed by earlier specs) appear inside the subgraph as
//     Placeholder nodes of the same name, so the subgraph serializes and
//     reloads independently.
//
//   - A remote-op spec has no subgraph. It carries only the remote op's name
//     and its single output name, and marks a call boundary to be resolved by
//     a downstream execution system. A remote op referenced by several
//     subgraphs is represented by one spec, shared by reference.
type ExecutionSpec struct {
	// Subgraph is nil if and only if IsRemoteOp is true.
	Subgraph *graphdef.GraphDef `json:"subgraph,omitempty"`

	// InputNames are the names whose values must be available before this
	// spec executes: sorted boundary and graph-level input names for subgraph
	// specs, the remote op's input node names (in input order) for remote-op
	// specs.
	InputNames []string `json:"input_names"`

	// OutputNames are the values this spec produces. A remote-op spec always
	// has exactly one, the remote op's own name.
	OutputNames []string `json:"output_names"`

	IsRemoteOp bool `json:"is_remote_op"`

	// RemoteOp is the remote op's node name, set only for remote-op specs.
	RemoteOp string `json:"remote_op,omitempty"`

	// RemoteGraph names the graph the remote op calls into, set only for
	// remote-op specs.
	RemoteGraph string `json:"remote_graph,omitempty"`
}

// WriteSubgraph serializes the spec's subgraph in the graph definition wire
// format, so it can be independently reloaded with graphdef.Parse. It must
// only be called on subgraph specs.
func (s *ExecutionSpec) WriteSubgraph(w io.Writer) error {
	return graphdef.Write(w, s.Subgraph)
}
