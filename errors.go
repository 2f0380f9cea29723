package lumen

import (
	"fmt"
)

// SchemaError reports a malformed or unknown construct in the raw scene
// graph. It aborts the whole load; Path names the offending node.
type SchemaError struct {
	Path string
	Msg  string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("schema error at %q: %s", e.Path, e.Msg)
}

// TypeMismatchError reports an edge between two ports whose types have no
// registered conversion. It aborts the whole compile.
type TypeMismatchError struct {
	From     PortRef
	To       PortRef
	FromType PortType
	ToType   PortType
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("type mismatch: port %s (%s) cannot feed port %s (%s)",
		e.From, e.FromType, e.To, e.ToType)
}

// CycleError reports a dataflow cycle that does not pass through a stateful
// node. Cycles are only legal through nodes holding state across frames.
type CycleError struct {
	Nodes []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("illegal cycle through pure nodes: %v", e.Nodes)
}
