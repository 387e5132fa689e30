package graphdef

import "fmt"

// ParseError indicates a malformed serialized graph definition: invalid JSON,
// unknown fields, empty or duplicate node names. It is returned by Parse,
// NewGraph and the Load functions.
type ParseError struct {
	// Path of the file being loaded, when known.
	Path string

	// Graph names the graph being parsed, when known.
	Graph string

	Msg string
	Err error
}

func (e *ParseError) Error() string {
	where := e.Path
	if where == "" {
		where = e.Graph
	}
	switch {
	case where != "" && e.Err != nil:
		return fmt.Sprintf("parsing graph %q: %s: %v", where, e.Msg, e.Err)
	case where != "":
		return fmt.Sprintf("parsing graph %q: %s", where, e.Msg)
	case e.Err != nil:
		return fmt.Sprintf("parsing graph: %s: %v", e.Msg, e.Err)
	}
	return "parsing graph: " + e.Msg
}

func (e *ParseError) Unwrap() error { return e.Err }
