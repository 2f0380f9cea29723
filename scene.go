package lumen

import (
	"github.com/go-gl/mathgl/mgl32"
)

// Entity is a declarative scene object. Optional components are nil when
// absent. Entities with a collider expose the output ports "impact" (event),
// "position" (vec3) and "velocity" (vec3); entities with a visual expose the
// input ports "color" (color) and "intensity" (scalar).
type Entity struct {
	Id        string
	Transform TransformComponent
	Rigidbody *RigidbodyComponent
	Collider  *ColliderComponent
	Visual    *VisualComponent

	// OnImpact is shorthand for explicit edges out of the impact port; the
	// macro expander rewrites it away.
	OnImpact []ImpactAction
}

func (e Entity) clone() Entity {
	c := e
	if e.Rigidbody != nil {
		rb := *e.Rigidbody
		c.Rigidbody = &rb
	}
	if e.Collider != nil {
		col := *e.Collider
		c.Collider = &col
	}
	if e.Visual != nil {
		v := *e.Visual
		c.Visual = &v
	}
	c.OnImpact = append([]ImpactAction(nil), e.OnImpact...)
	return c
}

type TransformComponent struct {
	Position mgl32.Vec3
	Rotation mgl32.Quat
	Scale    mgl32.Vec3
}

type RigidbodyComponent struct {
	Velocity     mgl32.Vec3
	Mass         float32
	GravityScale float32
	IsStatic     bool
}

type ColliderShape int

const (
	ShapeBox ColliderShape = iota
	ShapeSphere
)

type ColliderComponent struct {
	Shape       ColliderShape
	HalfExtents mgl32.Vec3 // for Box
	Radius      float32    // for Sphere
	Restitution float32
}

type VisualComponent struct {
	Color     mgl32.Vec3
	Intensity float32
}

// ImpactAction is the sugared "on-impact: <action>" form. Do names the
// action ("burst" or "play-sound"), Target the particle system or audio
// node it drives.
type ImpactAction struct {
	Do     string
	Target string
	Params map[string]float32
}

// EvictionPolicy selects what happens when an emit exceeds remaining
// capacity.
type EvictionPolicy int

const (
	// EvictOldest overwrites the oldest slots first (ring policy).
	EvictOldest EvictionPolicy = iota
	// EvictReject drops the surplus of the emit instead.
	EvictReject
)

// ParticleSystemDef declares one GPU particle system. MaxParticles is fixed
// at compile time.
type ParticleSystemDef struct {
	Id             string
	MaxParticles   uint32
	ShaderTemplate string // "" selects the built-in template
	EmitTrigger    PortRef
	Properties     PropertyRanges
	Eviction       EvictionPolicy

	// DebugReadback requests a CPU copy of the particle buffer between the
	// emit and update passes, which forbids fusing them.
	DebugReadback bool

	// FusePasses is set by the buffer fusion pass; when true the engine
	// encodes emit and update into a single command buffer.
	FusePasses bool
}

// PropertyRanges are the user-supplied parameters baked into the compiled
// emit kernel. Ranges are sampled uniformly per particle.
type PropertyRanges struct {
	Life      [2]float32
	Speed     [2]float32
	Size      [2]float32
	ColorMin  mgl32.Vec3
	ColorMax  mgl32.Vec3
	EmitCount uint32 // particles per trigger
}

// AudioGraphDef is the declarative audio node graph. Synthesis lives in the
// audio package; the scene graph only knows ids, kinds and wiring. Audio
// output nodes expose the input ports "trigger" (event), "frequency"
// (scalar) and "gain" (scalar).
type AudioGraphDef struct {
	Nodes []AudioNodeDef
}

func (a AudioGraphDef) clone() AudioGraphDef {
	out := AudioGraphDef{Nodes: make([]AudioNodeDef, len(a.Nodes))}
	for i, n := range a.Nodes {
		c := n
		if n.Params != nil {
			c.Params = make(map[string]float32, len(n.Params))
			for k, v := range n.Params {
				c.Params[k] = v
			}
		}
		out.Nodes[i] = c
	}
	return out
}

type AudioNodeDef struct {
	Id     string
	Kind   string // "oscillator", "envelope", "filter", "output"
	Input  string // id of the upstream audio node, "" for oscillators
	Params map[string]float32
}
