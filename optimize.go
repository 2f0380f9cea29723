package lumen

import (
	"fmt"
	"hash/fnv"
	"sort"
)

// Optimize runs the three semantics-preserving passes in order. Each pass
// is a pure Graph -> Graph function; sink outputs are identical before and
// after, modulo floating-point evaluation order.
func Optimize(g Graph) Graph {
	return FuseBuffers(EliminateDeadNodes(DeduplicateNodes(g)))
}

// DeduplicateNodes is common-subexpression elimination: pure free nodes
// with the same operation and the same already-deduplicated inputs collapse
// to one node with fanned-out outputs.
func DeduplicateNodes(g Graph) Graph {
	out := g.Clone()

	canon := make(map[string]string)
	resolve := func(id string) string {
		for {
			rep, ok := canon[id]
			if !ok {
				return id
			}
			id = rep
		}
	}

	incoming := make(map[string][]GraphEdge)
	for _, e := range out.Edges {
		incoming[e.To.Node] = append(incoming[e.To.Node], e)
	}

	for changed := true; changed; {
		changed = false
		byKey := make(map[uint64]string)
		for _, n := range out.Nodes {
			if n.Stateful || resolve(n.Id) != n.Id {
				continue
			}
			key := cseKey(n, incoming[n.Id], resolve)
			if rep, ok := byKey[key]; ok && rep != n.Id {
				canon[n.Id] = rep
				changed = true
				continue
			}
			byKey[key] = n.Id
		}
	}

	if len(canon) == 0 {
		return out
	}

	// Rewrite edges onto the representatives and drop exact duplicates.
	seen := make(map[string]bool)
	var edges []GraphEdge
	for _, e := range out.Edges {
		e.From.Node = resolve(e.From.Node)
		e.To.Node = resolve(e.To.Node)
		k := edgeKey(e)
		if seen[k] {
			continue
		}
		seen[k] = true
		edges = append(edges, e)
	}
	out.Edges = edges

	var nodes []Node
	for _, n := range out.Nodes {
		if resolve(n.Id) == n.Id {
			nodes = append(nodes, n)
		}
	}
	out.Nodes = nodes
	return out
}

// cseKey hashes a node's operation and its resolved inputs, in the spirit
// of the archetype key hashing the ECS uses.
func cseKey(n Node, in []GraphEdge, resolve func(string) string) uint64 {
	h := fnv.New64a()
	fmt.Fprintf(h, "%s|%s|", n.Kind, n.Op)

	params := make([]string, 0, len(n.Params))
	for k, v := range n.Params {
		params = append(params, fmt.Sprintf("%s=%v", k, v))
	}
	sort.Strings(params)
	for _, p := range params {
		fmt.Fprintf(h, "%s;", p)
	}

	inputs := make([]string, 0, len(in))
	for _, e := range in {
		inputs = append(inputs, fmt.Sprintf("%s<-%s:%s/%s",
			e.To.Port, resolve(e.From.Node), e.From.Port, transformKey(e.Transform)))
	}
	sort.Strings(inputs)
	for _, s := range inputs {
		fmt.Fprintf(h, "%s;", s)
	}
	return h.Sum64()
}

func transformKey(f *PureFunc) string {
	if f == nil {
		return ""
	}
	return fmt.Sprintf("%s(%v)", f.Op, f.K)
}

func edgeKey(e GraphEdge) string {
	return e.From.String() + ">" + e.To.String() + "|" + transformKey(e.Transform)
}

// EliminateDeadNodes removes free nodes unreachable from any declared sink.
// Sinks are particle system inputs, audio output nodes and entity visual
// inputs; entity, system and audio declarations themselves always survive.
func EliminateDeadNodes(g Graph) Graph {
	out := g.Clone()

	isSink := func(ref PortRef) bool {
		if out.system(ref.Node) != nil {
			return true
		}
		if a := out.audioNode(ref.Node); a != nil {
			return true
		}
		if ent := out.entity(ref.Node); ent != nil && ent.Visual != nil {
			return true
		}
		return false
	}

	// Walk edges backwards from the sinks.
	producers := make(map[string][]string) // consumer node -> producer nodes
	for _, e := range out.Edges {
		producers[e.To.Node] = append(producers[e.To.Node], e.From.Node)
	}

	live := make(map[string]bool)
	var frontier []string
	for _, e := range out.Edges {
		if isSink(e.To) {
			frontier = append(frontier, e.From.Node, e.To.Node)
		}
	}
	for len(frontier) > 0 {
		id := frontier[len(frontier)-1]
		frontier = frontier[:len(frontier)-1]
		if live[id] {
			continue
		}
		live[id] = true
		frontier = append(frontier, producers[id]...)
	}

	var nodes []Node
	for _, n := range out.Nodes {
		if live[n.Id] {
			nodes = append(nodes, n)
		}
	}
	out.Nodes = nodes

	eliminated := func(id string) bool {
		return g.node(id) != nil && out.node(id) == nil
	}
	var edges []GraphEdge
	for _, e := range out.Edges {
		if eliminated(e.From.Node) || eliminated(e.To.Node) {
			continue
		}
		edges = append(edges, e)
	}
	out.Edges = edges
	return out
}

// FuseBuffers marks particle systems whose emit and update passes can be
// encoded into one command buffer: legal whenever no CPU readback
// intervenes between the two passes on the shared particle buffer.
func FuseBuffers(g Graph) Graph {
	out := g.Clone()
	for i := range out.Systems {
		out.Systems[i].FusePasses = !out.Systems[i].DebugReadback
	}
	return out
}
