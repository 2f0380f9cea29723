package lumen

import (
	"fmt"

	"github.com/google/uuid"
)

// conversions is the fixed registry of legal implicit conversions. The key
// is {from, to}; the value names the convert op inserted on the edge.
var conversions = map[[2]PortType]string{
	{TypeVec3, TypeScalar}: "norm",
	{TypeScalar, TypeVec3}: "splat",
	{TypeColor, TypeVec3}:  "rgb",
	{TypeVec3, TypeColor}:  "clamp01",
}

// Validate infers a semantic type for every port, inserts explicit
// conversion nodes where source and destination disagree and the registry
// allows it, and rejects cycles that do not pass through a stateful node.
// It returns a fresh graph; the input is not touched.
func Validate(g Graph) (Graph, error) {
	out := g.Clone()

	types, err := inferPortTypes(&out)
	if err != nil {
		return Graph{}, err
	}

	// Insert conversions edge by edge. Edges created here connect ports of
	// equal type, so a single pass suffices.
	var edges []GraphEdge
	for _, e := range out.Edges {
		srcType, err := sourceType(&out, types, e)
		if err != nil {
			return Graph{}, err
		}
		dstType, err := portType(&out, types, e.To, false)
		if err != nil {
			return Graph{}, err
		}
		if srcType == dstType {
			edges = append(edges, e)
			continue
		}
		op, ok := conversions[[2]PortType{srcType, dstType}]
		if !ok {
			return Graph{}, &TypeMismatchError{
				From: e.From, To: e.To, FromType: srcType, ToType: dstType,
			}
		}
		convId := "convert-" + uuid.NewString()
		out.Nodes = append(out.Nodes, Node{Id: convId, Kind: KindConvert, Op: op})
		types[PortRef{Node: convId, Port: "in"}] = srcType
		types[PortRef{Node: convId, Port: "out"}] = dstType
		edges = append(edges,
			GraphEdge{From: e.From, To: PortRef{Node: convId, Port: "in"}, Transform: e.Transform},
			GraphEdge{From: PortRef{Node: convId, Port: "out"}, To: e.To},
		)
	}
	out.Edges = edges

	if err := rejectPureCycles(&out); err != nil {
		return Graph{}, err
	}
	return out, nil
}

// inferPortTypes fixes the types of all declared ports and propagates
// through polymorphic math, memory and const nodes until stable.
func inferPortTypes(g *Graph) (map[PortRef]PortType, error) {
	types := make(map[PortRef]PortType)

	for _, n := range g.Nodes {
		switch n.Kind {
		case KindConst:
			types[PortRef{Node: n.Id, Port: "out"}] = TypeScalar
		case KindMath:
			if n.Op == "norm" {
				types[PortRef{Node: n.Id, Port: "out"}] = TypeScalar
			}
		}
	}

	// Polymorphic inputs resolve from their incoming edge; outputs follow
	// inputs. Iterate to a fixed point; the graph is finite and types only
	// ever go from unknown to known, so this terminates.
	for changed := true; changed; {
		changed = false
		for _, e := range g.Edges {
			dst := g.node(e.To.Node)
			if dst == nil {
				continue
			}
			srcType, err := sourceType(g, types, e)
			if err != nil || srcType == TypeInvalid {
				continue
			}
			in := PortRef{Node: dst.Id, Port: e.To.Port}
			if _, known := types[in]; !known {
				types[in] = srcType
				changed = true
			}
			outPort := PortRef{Node: dst.Id, Port: "out"}
			if _, known := types[outPort]; !known {
				switch dst.Kind {
				case KindMemory:
					types[outPort] = srcType
					changed = true
				case KindMath:
					if dst.Op != "norm" && e.To.Port == "a" {
						types[outPort] = srcType
						changed = true
					}
				}
			}
		}
	}
	return types, nil
}

// sourceType resolves the effective type flowing out of an edge's source,
// accounting for the edge transform.
func sourceType(g *Graph, types map[PortRef]PortType, e GraphEdge) (PortType, error) {
	t, err := portType(g, types, e.From, true)
	if err != nil {
		return TypeInvalid, err
	}
	return transformOutType(e.Transform, t), nil
}

func transformOutType(f *PureFunc, in PortType) PortType {
	if f == nil {
		return in
	}
	switch f.Op {
	case "const":
		// On an event edge the constant annotates the payload (emit count)
		// without retyping the port.
		if in == TypeEvent {
			return TypeEvent
		}
		return TypeScalar
	case "norm":
		return TypeScalar
	case "splat":
		return TypeVec3
	case "clamp01":
		return TypeColor
	}
	return in
}

// portType resolves a declared or inferred port type. output selects the
// direction: true for source ports, false for destination ports.
func portType(g *Graph, types map[PortRef]PortType, ref PortRef, output bool) (PortType, error) {
	if ent := g.entity(ref.Node); ent != nil {
		if output && ent.Collider != nil {
			switch ref.Port {
			case "impact":
				return TypeEvent, nil
			case "position", "velocity":
				return TypeVec3, nil
			}
		}
		if !output && ent.Visual != nil {
			switch ref.Port {
			case "color":
				return TypeColor, nil
			case "intensity":
				return TypeScalar, nil
			}
		}
		return TypeInvalid, &SchemaError{
			Path: nodePath("entities", ent.Id),
			Msg:  fmt.Sprintf("entity has no %s port %q", direction(output), ref.Port),
		}
	}
	if sys := g.system(ref.Node); sys != nil {
		if !output {
			switch ref.Port {
			case "emit":
				return TypeEvent, nil
			case "origin":
				return TypeVec3, nil
			}
		}
		return TypeInvalid, &SchemaError{
			Path: nodePath("particleSystems", sys.Id),
			Msg:  fmt.Sprintf("particle system has no %s port %q", direction(output), ref.Port),
		}
	}
	if a := g.audioNode(ref.Node); a != nil {
		if !output && a.Kind == "output" {
			switch ref.Port {
			case "trigger":
				return TypeEvent, nil
			case "frequency", "gain":
				return TypeScalar, nil
			}
		}
		return TypeInvalid, &SchemaError{
			Path: nodePath("audioGraph", a.Id),
			Msg:  fmt.Sprintf("audio node has no %s port %q", direction(output), ref.Port),
		}
	}
	if n := g.node(ref.Node); n != nil {
		if t, ok := types[ref]; ok {
			return t, nil
		}
		return TypeInvalid, nil // not yet inferred
	}
	return TypeInvalid, &SchemaError{Path: ref.Node, Msg: "unknown node in port reference"}
}

func direction(output bool) string {
	if output {
		return "output"
	}
	return "input"
}

// rejectPureCycles runs a depth-first search over free dataflow nodes.
// Edges leaving a stateful node carry last frame's value and are skipped;
// any remaining back edge is an illegal combinational cycle.
func rejectPureCycles(g *Graph) error {
	succ := make(map[string][]string)
	for _, e := range g.Edges {
		src := g.node(e.From.Node)
		dst := g.node(e.To.Node)
		if src == nil || dst == nil || src.Stateful {
			continue
		}
		succ[src.Id] = append(succ[src.Id], dst.Id)
	}

	const (
		white = 0
		grey  = 1
		black = 2
	)
	color := make(map[string]int)
	var stack []string

	var visit func(id string) error
	visit = func(id string) error {
		color[id] = grey
		stack = append(stack, id)
		for _, next := range succ[id] {
			switch color[next] {
			case grey:
				// Trim the stack back to the cycle entry for the report.
				start := 0
				for i, s := range stack {
					if s == next {
						start = i
						break
					}
				}
				return &CycleError{Nodes: append(append([]string(nil), stack[start:]...), next)}
			case white:
				if err := visit(next); err != nil {
					return err
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[id] = black
		return nil
	}

	for _, n := range g.Nodes {
		if color[n.Id] == white {
			if err := visit(n.Id); err != nil {
				return err
			}
		}
	}
	return nil
}
