package lumen

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl32"
)

// PortType is the semantic type of a graph port.
type PortType int

const (
	TypeInvalid PortType = iota
	TypeVec3
	TypeScalar
	TypeEvent
	TypeColor
)

func (t PortType) String() string {
	switch t {
	case TypeVec3:
		return "vec3"
	case TypeScalar:
		return "scalar"
	case TypeEvent:
		return "event"
	case TypeColor:
		return "color"
	}
	return "invalid"
}

// PortRef addresses one port on one node. Node may name an entity, a
// particle system, an audio node or a free dataflow node.
type PortRef struct {
	Node string
	Port string
}

func (r PortRef) String() string { return r.Node + ":" + r.Port }

// NodeKind discriminates free dataflow nodes.
type NodeKind string

const (
	KindConst   NodeKind = "const"
	KindMath    NodeKind = "math"
	KindConvert NodeKind = "convert"
	KindMemory  NodeKind = "memory" // holds its input across one frame
)

// Node is a free dataflow node. Entities, particle systems and audio nodes
// carry their ports implicitly; Nodes holds everything else.
type Node struct {
	Id       string
	Kind     NodeKind
	Op       string // for KindMath: "add", "mul", "scale", "norm"; for KindConvert: conversion name
	Stateful bool   // legal cycle anchor
	Params   map[string]float32
	Path     string // source location for diagnostics
}

// PureFunc is an optional transform applied along an edge. It must be free
// of side effects; the router and validator may duplicate or reorder calls.
type PureFunc struct {
	Op string  // "scale", "const", "norm", "splat", "clamp01"
	K  float32 // parameter for "scale" and "const"
}

// GraphEdge connects two type-compatible ports, optionally through a
// transform.
type GraphEdge struct {
	From      PortRef
	To        PortRef
	Transform *PureFunc
}

// Value is a runtime dataflow value passing over an edge.
type Value struct {
	Type   PortType
	Vec    mgl32.Vec3 // vec3 and color payloads
	Scalar float32
}

// Apply evaluates a pure transform over v.
func (f *PureFunc) Apply(v Value) Value {
	if f == nil {
		return v
	}
	switch f.Op {
	case "scale":
		if v.Type == TypeScalar {
			return Value{Type: TypeScalar, Scalar: v.Scalar * f.K}
		}
		return Value{Type: v.Type, Vec: v.Vec.Mul(f.K)}
	case "const":
		if v.Type == TypeEvent {
			return Value{Type: TypeEvent, Scalar: f.K}
		}
		return Value{Type: TypeScalar, Scalar: f.K}
	case "norm":
		return Value{Type: TypeScalar, Scalar: v.Vec.Len()}
	case "splat":
		return Value{Type: TypeVec3, Vec: mgl32.Vec3{v.Scalar, v.Scalar, v.Scalar}}
	case "clamp01":
		out := v.Vec
		for i := 0; i < 3; i++ {
			if out[i] < 0 {
				out[i] = 0
			} else if out[i] > 1 {
				out[i] = 1
			}
		}
		return Value{Type: TypeColor, Vec: out}
	}
	return v
}

// Graph is the canonical scene graph IR. Compiler passes treat it as
// immutable and return fresh values; see Clone.
type Graph struct {
	Entities []Entity
	Systems  []ParticleSystemDef
	Nodes    []Node
	Edges    []GraphEdge
	Audio    AudioGraphDef
}

// Clone deep-copies g so a pass can rewrite freely without aliasing the
// input graph.
func (g *Graph) Clone() Graph {
	out := Graph{
		Entities: make([]Entity, len(g.Entities)),
		Systems:  append([]ParticleSystemDef(nil), g.Systems...),
		Nodes:    make([]Node, len(g.Nodes)),
		Edges:    make([]GraphEdge, len(g.Edges)),
		Audio:    g.Audio.clone(),
	}
	for i, e := range g.Entities {
		out.Entities[i] = e.clone()
	}
	for i, n := range g.Nodes {
		c := n
		if n.Params != nil {
			c.Params = make(map[string]float32, len(n.Params))
			for k, v := range n.Params {
				c.Params[k] = v
			}
		}
		out.Nodes[i] = c
	}
	for i, e := range g.Edges {
		c := e
		if e.Transform != nil {
			t := *e.Transform
			c.Transform = &t
		}
		out.Edges[i] = c
	}
	return out
}

func (g *Graph) node(id string) *Node {
	for i := range g.Nodes {
		if g.Nodes[i].Id == id {
			return &g.Nodes[i]
		}
	}
	return nil
}

func (g *Graph) entity(id string) *Entity {
	for i := range g.Entities {
		if g.Entities[i].Id == id {
			return &g.Entities[i]
		}
	}
	return nil
}

func (g *Graph) system(id string) *ParticleSystemDef {
	for i := range g.Systems {
		if g.Systems[i].Id == id {
			return &g.Systems[i]
		}
	}
	return nil
}

func (g *Graph) audioNode(id string) *AudioNodeDef {
	for i := range g.Audio.Nodes {
		if g.Audio.Nodes[i].Id == id {
			return &g.Audio.Nodes[i]
		}
	}
	return nil
}

// checkUniqueIds rejects duplicate ids across all namespaces sharing the
// PortRef.Node space.
func (g *Graph) checkUniqueIds() error {
	seen := map[string]string{}
	claim := func(id, what string) error {
		if id == "" {
			return &SchemaError{Path: what, Msg: "empty id"}
		}
		if prev, ok := seen[id]; ok {
			return &SchemaError{Path: what + "/" + id, Msg: fmt.Sprintf("id already used by %s", prev)}
		}
		seen[id] = what
		return nil
	}
	for _, e := range g.Entities {
		if err := claim(e.Id, "entities"); err != nil {
			return err
		}
	}
	for _, s := range g.Systems {
		if err := claim(s.Id, "particleSystems"); err != nil {
			return err
		}
	}
	for _, n := range g.Nodes {
		if err := claim(n.Id, "nodes"); err != nil {
			return err
		}
	}
	for _, a := range g.Audio.Nodes {
		if err := claim(a.Id, "audioGraph"); err != nil {
			return err
		}
	}
	return nil
}
