package lumen

import (
	"fmt"

	"github.com/google/uuid"
)

// ExpandMacros desugars shorthand constructs into primitive nodes and
// explicit typed edges. It returns a fresh graph; the input is not touched.
//
// Shorthand handled here:
//   - Entity.OnImpact actions ("burst", "play-sound") become edges out of
//     the entity's impact port, plus const nodes for literal parameters.
//   - ParticleSystemDef.EmitTrigger becomes an explicit edge into the
//     system's emit port.
//
// Any unknown construct fails with a SchemaError naming the node path.
func ExpandMacros(g Graph) (Graph, error) {
	out := g.Clone()

	if err := out.checkUniqueIds(); err != nil {
		return Graph{}, err
	}

	for i := range out.Nodes {
		n := &out.Nodes[i]
		switch n.Kind {
		case KindConst, KindMath, KindConvert, KindMemory:
		default:
			return Graph{}, &SchemaError{
				Path: nodePath("nodes", n.Id),
				Msg:  fmt.Sprintf("unknown node kind %q", n.Kind),
			}
		}
		if n.Kind == KindMemory {
			n.Stateful = true
		}
	}

	for i := range out.Audio.Nodes {
		a := &out.Audio.Nodes[i]
		switch a.Kind {
		case "oscillator", "envelope", "filter", "output":
		default:
			return Graph{}, &SchemaError{
				Path: nodePath("audioGraph", a.Id),
				Msg:  fmt.Sprintf("unknown audio node kind %q", a.Kind),
			}
		}
	}

	for i := range out.Entities {
		ent := &out.Entities[i]
		if len(ent.OnImpact) == 0 {
			continue
		}
		if ent.Collider == nil {
			return Graph{}, &SchemaError{
				Path: nodePath("entities", ent.Id),
				Msg:  "on-impact requires a collider",
			}
		}
		for _, action := range ent.OnImpact {
			if err := expandImpactAction(&out, ent, action); err != nil {
				return Graph{}, err
			}
		}
		ent.OnImpact = nil
	}

	for i := range out.Systems {
		sys := &out.Systems[i]
		if sys.EmitTrigger == (PortRef{}) {
			continue
		}
		out.Edges = append(out.Edges, GraphEdge{
			From: sys.EmitTrigger,
			To:   PortRef{Node: sys.Id, Port: "emit"},
		})
		sys.EmitTrigger = PortRef{}
	}

	return out, nil
}

func expandImpactAction(g *Graph, ent *Entity, action ImpactAction) error {
	impact := PortRef{Node: ent.Id, Port: "impact"}
	position := PortRef{Node: ent.Id, Port: "position"}

	switch action.Do {
	case "burst":
		sys := g.system(action.Target)
		if sys == nil {
			return &SchemaError{
				Path: nodePath("entities", ent.Id) + "/on-impact/burst",
				Msg:  fmt.Sprintf("unknown particle system %q", action.Target),
			}
		}
		var transform *PureFunc
		if count, ok := action.Params["count"]; ok {
			transform = &PureFunc{Op: "const", K: count}
		}
		g.Edges = append(g.Edges,
			GraphEdge{From: impact, To: PortRef{Node: sys.Id, Port: "emit"}, Transform: transform},
			GraphEdge{From: position, To: PortRef{Node: sys.Id, Port: "origin"}},
		)

	case "play-sound":
		node := g.audioNode(action.Target)
		if node == nil || node.Kind != "output" {
			return &SchemaError{
				Path: nodePath("entities", ent.Id) + "/on-impact/play-sound",
				Msg:  fmt.Sprintf("%q is not an audio output node", action.Target),
			}
		}
		g.Edges = append(g.Edges, GraphEdge{
			From: impact,
			To:   PortRef{Node: node.Id, Port: "trigger"},
		})
		if freq, ok := action.Params["frequency"]; ok {
			constId := "const-" + uuid.NewString()
			g.Nodes = append(g.Nodes, Node{
				Id:     constId,
				Kind:   KindConst,
				Params: map[string]float32{"value": freq},
				Path:   nodePath("entities", ent.Id) + "/on-impact/play-sound",
			})
			g.Edges = append(g.Edges, GraphEdge{
				From: PortRef{Node: constId, Port: "out"},
				To:   PortRef{Node: node.Id, Port: "frequency"},
			})
		}

	default:
		return &SchemaError{
			Path: nodePath("entities", ent.Id) + "/on-impact/" + action.Do,
			Msg:  fmt.Sprintf("unknown impact action %q", action.Do),
		}
	}
	return nil
}

func nodePath(section, id string) string { return section + "/" + id }
