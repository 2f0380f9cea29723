package lumen

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl32"
)

// CollisionEvent is one contact reported by the external collision
// detector. Entity names the collider entity the event originates at.
type CollisionEvent struct {
	Entity   string
	Position mgl32.Vec3
	Velocity mgl32.Vec3
}

// CollisionSource is the polling contract of the collision collaborator.
// PollEvents must not block; it returns whatever accumulated since the
// last poll.
type CollisionSource interface {
	PollEvents() []CollisionEvent
}

// ParticleActuator receives routed emit requests. The compute engine
// implements it per system; the frame loop fans out by system id.
type ParticleActuator interface {
	Emit(system string, origin mgl32.Vec3, count uint32) error
}

// AudioActuator receives routed trigger requests.
type AudioActuator interface {
	Trigger(node string, params map[string]float32) error
}

// VisualActuator receives routed writes into entity visual ports. May be
// nil on a router drain when no renderer is attached.
type VisualActuator interface {
	SetColor(entity string, color mgl32.Vec3)
	SetIntensity(entity string, intensity float32)
}

type sinkKind int

const (
	sinkEmit sinkKind = iota
	sinkOrigin
	sinkAudioTrigger
	sinkAudioFrequency
	sinkAudioGain
	sinkVisualColor
	sinkVisualIntensity
	sinkMemory
)

// routeStep is one hop of a compiled route: the edge transform, then an
// optional free node applied in line. Math nodes resolve their second
// operand statically at build time or from the memory latch at run time.
type routeStep struct {
	transform *PureFunc
	node      *Node
	operandB  float32
	bFromNode string // memory node id supplying operand b, "" when operandB is baked
}

// Route is one statically compiled path from a source port to a sink.
type Route struct {
	Source PortRef
	Steps  []routeStep
	Sink   sinkKind
	Target string
}

// RouteTable holds every compiled route, keyed for frame-time dispatch.
type RouteTable struct {
	// byEntity indexes event routes by the collider entity they start at.
	byEntity map[string][]Route
	// fromMemory holds routes that start at a memory node's out port; they
	// fire at the top of the next drain with the latched value.
	fromMemory map[string][]Route
	// audioParams are parameters wired from const nodes, baked per output
	// node at build time.
	audioParams map[string]map[string]float32
	// defaultCount is each system's per-trigger emit count.
	defaultCount map[string]uint32
}

// BuildRoutes compiles the dataflow edges of a validated, optimized graph
// into a static route table. Only paths reachable from collider event
// ports or memory latches become runtime routes; const wiring into audio
// parameters is folded here.
func BuildRoutes(g *Graph) (*RouteTable, error) {
	t := &RouteTable{
		byEntity:     map[string][]Route{},
		fromMemory:   map[string][]Route{},
		audioParams:  map[string]map[string]float32{},
		defaultCount: map[string]uint32{},
	}
	for _, sys := range g.Systems {
		t.defaultCount[sys.Id] = sys.Properties.EmitCount
	}

	outEdges := map[string][]GraphEdge{}
	for _, e := range g.Edges {
		outEdges[e.From.Node] = append(outEdges[e.From.Node], e)
	}

	for _, ent := range g.Entities {
		if ent.Collider == nil {
			continue
		}
		for _, e := range outEdges[ent.Id] {
			routes, err := walkRoute(g, outEdges, e, nil, 0)
			if err != nil {
				return nil, err
			}
			for i := range routes {
				routes[i].Source = e.From
			}
			t.byEntity[ent.Id] = append(t.byEntity[ent.Id], routes...)
		}
	}

	for _, n := range g.Nodes {
		switch n.Kind {
		case KindMemory:
			for _, e := range outEdges[n.Id] {
				routes, err := walkRoute(g, outEdges, e, nil, 0)
				if err != nil {
					return nil, err
				}
				for i := range routes {
					routes[i].Source = e.From
				}
				t.fromMemory[n.Id] = append(t.fromMemory[n.Id], routes...)
			}
		case KindConst:
			for _, e := range outEdges[n.Id] {
				a := g.audioNode(e.To.Node)
				if a == nil {
					continue
				}
				p := t.audioParams[a.Id]
				if p == nil {
					p = map[string]float32{}
					t.audioParams[a.Id] = p
				}
				v := (&PureFunc{Op: "const", K: n.Params["value"]}).Apply(Value{})
				if e.Transform != nil {
					v = e.Transform.Apply(v)
				}
				p[e.To.Port] = v.Scalar
			}
		}
	}

	return t, nil
}

const maxRouteDepth = 64

// walkRoute follows an edge through free dataflow nodes until it reaches
// a sink, fanning out at every branch. Validation has already rejected
// combinational cycles; the depth guard is only a backstop.
func walkRoute(g *Graph, outEdges map[string][]GraphEdge, e GraphEdge, steps []routeStep, depth int) ([]Route, error) {
	if depth > maxRouteDepth {
		return nil, &SchemaError{Path: e.From.String(), Msg: "route depth limit exceeded"}
	}

	if sink, target, ok := classifySink(g, e.To); ok {
		return []Route{{
			Steps: append(append([]routeStep(nil), steps...), routeStep{transform: e.Transform}),
			Sink:  sink, Target: target,
		}}, nil
	}

	n := g.node(e.To.Node)
	if n == nil {
		return nil, &SchemaError{Path: e.To.String(), Msg: "edge into unknown node"}
	}
	if n.Kind == KindMemory {
		// The value latches here; downstream edges fire next drain.
		return []Route{{
			Steps: append(append([]routeStep(nil), steps...), routeStep{transform: e.Transform}),
			Sink:  sinkMemory, Target: n.Id,
		}}, nil
	}
	if e.To.Port != "a" && e.To.Port != "in" {
		// Secondary operands are resolved statically by operandFor; the
		// route follows the primary input only.
		return nil, nil
	}

	step := routeStep{transform: e.Transform, node: n}
	if n.Kind == KindMath && needsOperandB(n.Op) {
		b, from, err := operandFor(g, outEdges, n)
		if err != nil {
			return nil, err
		}
		step.operandB = b
		step.bFromNode = from
	}

	var routes []Route
	next := append(append([]routeStep(nil), steps...), step)
	for _, out := range outEdges[n.Id] {
		if out.From.Port != "out" && out.From.Port != "" {
			continue
		}
		sub, err := walkRoute(g, outEdges, out, next, depth+1)
		if err != nil {
			return nil, err
		}
		routes = append(routes, sub...)
	}
	return routes, nil
}

func needsOperandB(op string) bool { return op == "add" || op == "mul" }

// operandFor resolves a math node's "b" input: a const node, a memory
// latch, or the node's own "b" parameter.
func operandFor(g *Graph, outEdges map[string][]GraphEdge, n *Node) (float32, string, error) {
	for _, edges := range outEdges {
		for _, e := range edges {
			if e.To.Node != n.Id || e.To.Port != "b" {
				continue
			}
			src := g.node(e.From.Node)
			if src == nil {
				continue
			}
			switch src.Kind {
			case KindConst:
				return src.Params["value"], "", nil
			case KindMemory:
				return 0, src.Id, nil
			}
		}
	}
	if v, ok := n.Params["b"]; ok {
		return v, "", nil
	}
	return 0, "", &SchemaError{
		Path: nodePath("nodes", n.Id),
		Msg:  fmt.Sprintf("math op %q needs a const or memory operand b", n.Op),
	}
}

func classifySink(g *Graph, ref PortRef) (sinkKind, string, bool) {
	if sys := g.system(ref.Node); sys != nil {
		switch ref.Port {
		case "emit":
			return sinkEmit, sys.Id, true
		case "origin":
			return sinkOrigin, sys.Id, true
		}
	}
	if a := g.audioNode(ref.Node); a != nil {
		switch ref.Port {
		case "trigger":
			return sinkAudioTrigger, a.Id, true
		case "frequency":
			return sinkAudioFrequency, a.Id, true
		case "gain":
			return sinkAudioGain, a.Id, true
		}
	}
	if ent := g.entity(ref.Node); ent != nil && ent.Visual != nil {
		switch ref.Port {
		case "color":
			return sinkVisualColor, ent.Id, true
		case "intensity":
			return sinkVisualIntensity, ent.Id, true
		}
	}
	return 0, "", false
}

// EventRouter queues collision events and applies their compiled routes
// on an explicit synchronous drain, so every event of frame N takes full
// effect before frame N's update dispatch.
type EventRouter struct {
	table *RouteTable
	queue []CollisionEvent
	log   Logger

	// memory collects the latches written during the current drain;
	// latched holds the previous drain's map, the only one reads see.
	memory  map[string]Value
	latched map[string]Value
}

func NewEventRouter(table *RouteTable, log Logger) *EventRouter {
	return &EventRouter{
		table:  table,
		memory: map[string]Value{},
		log:    log,
	}
}

// Poll pulls pending events from the collision source into the queue.
func (r *EventRouter) Poll(src CollisionSource) {
	r.queue = append(r.queue, src.PollEvents()...)
}

// Post enqueues a single event directly.
func (r *EventRouter) Post(ev CollisionEvent) {
	r.queue = append(r.queue, ev)
}

// Pending reports how many events are queued.
func (r *EventRouter) Pending() int { return len(r.queue) }

// Drain applies all queued events in arrival order, then clears the
// queue. Actuator failures skip the affected effect and are logged, never
// fatal. Returns the number of events applied.
func (r *EventRouter) Drain(particles ParticleActuator, audio AudioActuator, visual VisualActuator) int {
	r.latched = r.memory
	r.memory = map[string]Value{}
	for nodeId, v := range r.latched {
		for _, route := range r.table.fromMemory[nodeId] {
			r.applyRoute(route, v, CollisionEvent{}, nil, nil, particles, audio, visual)
		}
	}

	n := len(r.queue)
	for _, ev := range r.queue {
		r.applyEvent(ev, particles, audio, visual)
	}
	r.queue = r.queue[:0]
	return n
}

func (r *EventRouter) applyEvent(ev CollisionEvent, particles ParticleActuator, audio AudioActuator, visual VisualActuator) {
	routes := r.table.byEntity[ev.Entity]
	if len(routes) == 0 {
		return
	}

	// Parameter sinks resolve before trigger sinks so an emit sees its
	// origin and an audio trigger sees its frequency and gain.
	origins := map[string]mgl32.Vec3{}
	params := map[string]map[string]float32{}
	for _, route := range routes {
		switch route.Sink {
		case sinkEmit, sinkAudioTrigger:
			continue
		}
		r.applyRoute(route, seedValue(route.Source, ev), ev, origins, params, particles, audio, visual)
	}
	for _, route := range routes {
		switch route.Sink {
		case sinkEmit, sinkAudioTrigger:
			r.applyRoute(route, seedValue(route.Source, ev), ev, origins, params, particles, audio, visual)
		}
	}
}

func seedValue(src PortRef, ev CollisionEvent) Value {
	switch src.Port {
	case "impact":
		return Value{Type: TypeEvent}
	case "position":
		return Value{Type: TypeVec3, Vec: ev.Position}
	case "velocity":
		return Value{Type: TypeVec3, Vec: ev.Velocity}
	}
	return Value{}
}

func (r *EventRouter) applyRoute(route Route, v Value, ev CollisionEvent,
	origins map[string]mgl32.Vec3, params map[string]map[string]float32,
	particles ParticleActuator, audio AudioActuator, visual VisualActuator) {

	for _, step := range route.Steps {
		v = step.transform.Apply(v)
		if step.node != nil {
			v = r.evalNode(step, v)
		}
	}

	switch route.Sink {
	case sinkEmit:
		count := r.table.defaultCount[route.Target]
		if v.Scalar > 0 {
			count = uint32(v.Scalar)
		}
		origin := ev.Position
		if origins != nil {
			if o, ok := origins[route.Target]; ok {
				origin = o
			}
		}
		if err := particles.Emit(route.Target, origin, count); err != nil {
			r.log.Warnf("router: emit into %s skipped: %v", route.Target, err)
		}
	case sinkOrigin:
		if origins != nil {
			origins[route.Target] = v.Vec
		}
	case sinkAudioTrigger:
		p := map[string]float32{}
		for k, val := range r.table.audioParams[route.Target] {
			p[k] = val
		}
		if params != nil {
			for k, val := range params[route.Target] {
				p[k] = val
			}
		}
		if err := audio.Trigger(route.Target, p); err != nil {
			r.log.Warnf("router: trigger of %s skipped: %v", route.Target, err)
		}
	case sinkAudioFrequency, sinkAudioGain:
		if params == nil {
			return
		}
		p := params[route.Target]
		if p == nil {
			p = map[string]float32{}
			params[route.Target] = p
		}
		if route.Sink == sinkAudioFrequency {
			p["frequency"] = v.Scalar
		} else {
			p["gain"] = v.Scalar
		}
	case sinkVisualColor:
		if visual != nil {
			visual.SetColor(route.Target, v.Vec)
		}
	case sinkVisualIntensity:
		if visual != nil {
			visual.SetIntensity(route.Target, v.Scalar)
		}
	case sinkMemory:
		r.memory[route.Target] = v
	}
}

// evalNode applies a free dataflow node to the routed value.
func (r *EventRouter) evalNode(step routeStep, v Value) Value {
	n := step.node
	switch n.Kind {
	case KindConvert:
		return applyConversion(n.Op, v)
	case KindConst:
		return Value{Type: TypeScalar, Scalar: n.Params["value"]}
	case KindMath:
		b := step.operandB
		if step.bFromNode != "" {
			// Latched operands are one drain old; writes made during
			// this drain become visible on the next one.
			b = r.latched[step.bFromNode].Scalar
		}
		switch n.Op {
		case "add":
			if v.Type == TypeScalar {
				return Value{Type: TypeScalar, Scalar: v.Scalar + b}
			}
			return Value{Type: v.Type, Vec: v.Vec.Add(mgl32.Vec3{b, b, b})}
		case "mul":
			if v.Type == TypeScalar {
				return Value{Type: TypeScalar, Scalar: v.Scalar * b}
			}
			return Value{Type: v.Type, Vec: v.Vec.Mul(b)}
		case "scale":
			return (&PureFunc{Op: "scale", K: n.Params["k"]}).Apply(v)
		case "norm":
			return Value{Type: TypeScalar, Scalar: v.Vec.Len()}
		}
	}
	return v
}

// applyConversion evaluates a registered implicit conversion.
func applyConversion(op string, v Value) Value {
	switch op {
	case "norm":
		return Value{Type: TypeScalar, Scalar: v.Vec.Len()}
	case "splat":
		return Value{Type: TypeVec3, Vec: mgl32.Vec3{v.Scalar, v.Scalar, v.Scalar}}
	case "rgb":
		return Value{Type: TypeVec3, Vec: v.Vec}
	case "clamp01":
		return (&PureFunc{Op: "clamp01"}).Apply(v)
	}
	return v
}
