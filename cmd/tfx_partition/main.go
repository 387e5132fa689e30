// tfx_partition splits a collection of TensorFlow-style graphs with remote ops
// into execution specs that a beam pipeline (or any executor) can run layer by
// layer.
//
// Graphs are given as repeated name=path pairs, and desired outputs as
// graph:node pairs. The resulting specs are written as JSON files under the
// output directory, one subdirectory per graph.
//
// Example:
//
//	tfx_partition -graph main=main_graph.json -graph graph_a=graph_a.json \
//	    -output main:AddN_1 -output graph_a:embedding_lookup/Identity \
//	    -output_dir ./specs
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/harishsg993010/tfx/graphdef"
	"github.com/harishsg993010/tfx/partition"
	"github.com/janpfeifer/must"
	"k8s.io/klog/v2"
)

var (
	flagGraphs  stringList
	flagOutputs stringList

	flagOutputDir = flag.String("output_dir", "", "Directory where the execution spec files are written. "+
		"One subdirectory is created per graph, holding one JSON file per execution spec.")
)

// stringList collects repeated occurrences of a flag.
type stringList []string

func (l *stringList) String() string { return strings.Join(*l, ",") }

func (l *stringList) Set(v string) error {
	*l = append(*l, v)
	return nil
}

func main() {
	klog.InitFlags(nil)
	flag.Var(&flagGraphs, "graph", "Graph to partition, as name=path. Repeat for multiple graphs. "+
		"The name is how remote ops in other graphs refer to it.")
	flag.Var(&flagOutputs, "output", "Requested output, as graph:node. Repeat for multiple outputs.")
	flag.Parse()

	if len(flagGraphs) == 0 {
		klog.Errorf("No graphs given. See 'tfx_partition -help'.")
		os.Exit(1)
	}
	if len(flagOutputs) == 0 {
		klog.Errorf("No outputs given. See 'tfx_partition -help'.")
		os.Exit(1)
	}
	if *flagOutputDir == "" {
		klog.Errorf("Missing -output_dir. See 'tfx_partition -help'.")
		os.Exit(1)
	}

	nameToPath := make(map[string]string, len(flagGraphs))
	for _, pair := range flagGraphs {
		name, path, ok := strings.Cut(pair, "=")
		if !ok {
			klog.Errorf("Invalid -graph value %q, want name=path.", pair)
			os.Exit(1)
		}
		nameToPath[name] = path
	}
	outputNames := make(map[string][]string)
	for _, pair := range flagOutputs {
		graphName, node, ok := strings.Cut(pair, ":")
		if !ok {
			klog.Errorf("Invalid -output value %q, want graph:node.", pair)
			os.Exit(1)
		}
		outputNames[graphName] = append(outputNames[graphName], node)
	}

	graphs := must.M1(graphdef.LoadAll(nameToPath))
	specs := must.M1(partition.PartitionAll(graphs, outputNames))
	for graphName, graphSpecs := range specs {
		dir := filepath.Join(*flagOutputDir, graphName)
		must.M(os.MkdirAll(dir, 0o755))
		for _, spec := range graphSpecs {
			writeSpec(dir, spec)
		}
	}
}

func writeSpec(dir string, spec *partition.ExecutionSpec) {
	fileName := fmt.Sprintf("input_names-%s.json", strings.Join(spec.InputNames, "-"))
	if spec.IsRemoteOp {
		fileName = fmt.Sprintf("remote_op-%s.json", spec.RemoteOp)
	}
	f := must.M1(os.Create(filepath.Join(dir, fileName)))
	defer func() { must.M(f.Close()) }()
	if spec.IsRemoteOp {
		enc := json.NewEncoder(f)
		enc.SetIndent("", "  ")
		must.M(enc.Encode(spec))
		return
	}
	must.M(spec.WriteSubgraph(f))
}
