package graphdef

import (
	"bytes"
	"encoding/json"
	"io"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
	"k8s.io/klog/v2"
)

// Parse decodes a graph definition from JSON. Unknown fields are rejected, so
// typos in hand-written definitions surface as a *ParseError instead of being
// silently dropped.
func Parse(r io.Reader) (*GraphDef, error) {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	var def GraphDef
	if err := dec.Decode(&def); err != nil {
		return nil, &ParseError{Msg: "invalid graph definition", Err: err}
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, &ParseError{Graph: def.Name, Msg: "trailing data after graph definition"}
	}
	if def.Nodes == nil {
		return nil, &ParseError{Graph: def.Name, Msg: `missing required field "nodes"`}
	}
	return &def, nil
}

// Write encodes the graph definition as indented JSON, the same wire format
// accepted by Parse.
func Write(w io.Writer, def *GraphDef) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(def); err != nil {
		return errors.Wrapf(err, "encoding graph %q", def.Name)
	}
	return nil
}

// Load reads and indexes a serialized graph definition from a file.
func Load(path string) (*Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading graph definition from %q", path)
	}
	def, err := Parse(bytes.NewReader(data))
	if err != nil {
		if pErr, ok := err.(*ParseError); ok {
			pErr.Path = path
		}
		return nil, err
	}
	g, err := NewGraph(def)
	if err != nil {
		if pErr, ok := err.(*ParseError); ok {
			pErr.Path = path
		}
		return nil, err
	}
	klog.V(1).Infof("Loaded graph %q (%d nodes, %s) from %s",
		g.Name(), g.NumNodes(), humanize.Bytes(uint64(len(data))), path)
	return g, nil
}

// LoadAll loads a collection of graphs from files. The map keys become the
// graph names, overriding whatever name is stored in each file: remote ops
// reference graphs by these names.
func LoadAll(nameToPath map[string]string) (map[string]*Graph, error) {
	graphs := make(map[string]*Graph, len(nameToPath))
	names := maps.Keys(nameToPath)
	slices.Sort(names)
	for _, name := range names {
		g, err := Load(nameToPath[name])
		if err != nil {
			return nil, err
		}
		g.name = name
		graphs[name] = g
	}
	return graphs, nil
}

// Save writes a graph definition to a file in the same format read by Load.
func Save(path string, def *GraphDef) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "creating %q", path)
	}
	if err = Write(f, def); err != nil {
		_ = f.Close()
		return err
	}
	if err = f.Close(); err != nil {
		return errors.Wrapf(err, "writing %q", path)
	}
	return nil
}
