package lumen

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type emitCall struct {
	system string
	origin mgl32.Vec3
	count  uint32
}

type triggerCall struct {
	node   string
	params map[string]float32
}

type fakeActuators struct {
	emits    []emitCall
	triggers []triggerCall
}

func (f *fakeActuators) Emit(system string, origin mgl32.Vec3, count uint32) error {
	f.emits = append(f.emits, emitCall{system, origin, count})
	return nil
}

func (f *fakeActuators) Trigger(node string, params map[string]float32) error {
	f.triggers = append(f.triggers, triggerCall{node, params})
	return nil
}

type sliceSource struct {
	events []CollisionEvent
}

func (s *sliceSource) PollEvents() []CollisionEvent {
	out := s.events
	s.events = nil
	return out
}

func compiledRoutes(t *testing.T, g Graph) *RouteTable {
	t.Helper()
	expanded := mustExpand(t, g)
	validated, err := Validate(expanded)
	require.NoError(t, err)
	optimized := Optimize(validated)
	table, err := BuildRoutes(&optimized)
	require.NoError(t, err)
	return table
}

func TestRouterEmitsOnImpact(t *testing.T) {
	table := compiledRoutes(t, sampleScene())
	router := NewEventRouter(table, NewDefaultLogger("test", false))
	acts := &fakeActuators{}

	router.Post(CollisionEvent{
		Entity:   "ball",
		Position: mgl32.Vec3{1, 0, 2},
		Velocity: mgl32.Vec3{0, -3, 0},
	})
	n := router.Drain(acts, acts, nil)

	assert.Equal(t, 1, n)
	require.Len(t, acts.emits, 1)
	assert.Equal(t, "sparks", acts.emits[0].system)
	assert.Equal(t, mgl32.Vec3{1, 0, 2}, acts.emits[0].origin)
	assert.Equal(t, uint32(20), acts.emits[0].count, "burst count overrides the system default")
}

func TestRouterTriggersAudioWithParams(t *testing.T) {
	table := compiledRoutes(t, sampleScene())
	router := NewEventRouter(table, NewDefaultLogger("test", false))
	acts := &fakeActuators{}

	router.Post(CollisionEvent{Entity: "ball", Position: mgl32.Vec3{0, 0, 0}})
	router.Drain(acts, acts, nil)

	require.Len(t, acts.triggers, 1)
	assert.Equal(t, "thud", acts.triggers[0].node)
	assert.Equal(t, float32(220), acts.triggers[0].params["frequency"],
		"the play-sound frequency literal reaches the trigger")
}

func TestRouterDefaultEmitCount(t *testing.T) {
	g := sampleScene()
	g.Entities[0].OnImpact = []ImpactAction{{Do: "burst", Target: "sparks"}}

	table := compiledRoutes(t, g)
	router := NewEventRouter(table, NewDefaultLogger("test", false))
	acts := &fakeActuators{}

	router.Post(CollisionEvent{Entity: "ball", Position: mgl32.Vec3{5, 5, 5}})
	router.Drain(acts, acts, nil)

	require.Len(t, acts.emits, 1)
	assert.Equal(t, uint32(32), acts.emits[0].count, "without a count the system default applies")
	assert.Equal(t, mgl32.Vec3{5, 5, 5}, acts.emits[0].origin)
}

func TestRouterQueueIsExplicit(t *testing.T) {
	table := compiledRoutes(t, sampleScene())
	router := NewEventRouter(table, NewDefaultLogger("test", false))
	acts := &fakeActuators{}

	src := &sliceSource{events: []CollisionEvent{
		{Entity: "ball", Position: mgl32.Vec3{1, 0, 0}},
		{Entity: "ball", Position: mgl32.Vec3{2, 0, 0}},
	}}
	router.Poll(src)
	assert.Equal(t, 2, router.Pending())
	assert.Empty(t, acts.emits, "nothing fires before the drain")

	router.Drain(acts, acts, nil)
	assert.Equal(t, 0, router.Pending())
	require.Len(t, acts.emits, 2)
	// Arrival order is preserved.
	assert.Equal(t, float32(1), acts.emits[0].origin.X())
	assert.Equal(t, float32(2), acts.emits[1].origin.X())
}

func TestRouterIgnoresUnroutedEntities(t *testing.T) {
	table := compiledRoutes(t, sampleScene())
	router := NewEventRouter(table, NewDefaultLogger("test", false))
	acts := &fakeActuators{}

	router.Post(CollisionEvent{Entity: "ghost"})
	router.Drain(acts, acts, nil)

	assert.Empty(t, acts.emits)
	assert.Empty(t, acts.triggers)
}

func TestRouterVelocityThroughConversion(t *testing.T) {
	g := sampleScene()
	g.Entities[0].OnImpact = nil
	// Impact speed drives the lamp intensity through the norm conversion.
	g.Edges = []GraphEdge{
		{From: PortRef{Node: "ball", Port: "velocity"}, To: PortRef{Node: "lamp", Port: "intensity"}},
	}

	table := compiledRoutes(t, g)
	router := NewEventRouter(table, NewDefaultLogger("test", false))
	visuals := NewVisualState()

	router.Post(CollisionEvent{Entity: "ball", Velocity: mgl32.Vec3{3, 4, 0}})
	router.Drain(&fakeActuators{}, &fakeActuators{}, visuals)

	assert.InDelta(t, 5.0, visuals.Intensities["lamp"], 1e-5)
}

func TestRouterMemoryLatchesOneDrain(t *testing.T) {
	g := sampleScene()
	g.Entities[0].OnImpact = nil
	g.Nodes = []Node{{Id: "hold", Kind: KindMemory}}
	g.Edges = []GraphEdge{
		{From: PortRef{Node: "ball", Port: "velocity"}, To: PortRef{Node: "hold", Port: "in"}, Transform: &PureFunc{Op: "norm"}},
		{From: PortRef{Node: "hold", Port: "out"}, To: PortRef{Node: "lamp", Port: "intensity"}},
	}

	table := compiledRoutes(t, g)
	router := NewEventRouter(table, NewDefaultLogger("test", false))
	visuals := NewVisualState()
	acts := &fakeActuators{}

	router.Post(CollisionEvent{Entity: "ball", Velocity: mgl32.Vec3{0, 6, 0}})
	router.Drain(acts, acts, visuals)
	_, latched := visuals.Intensities["lamp"]
	assert.False(t, latched, "a memory node delays its value by one drain")

	router.Drain(acts, acts, visuals)
	assert.InDelta(t, 6.0, visuals.Intensities["lamp"], 1e-5)
}

func TestRouterMemoryOperandLagsOneDrain(t *testing.T) {
	g := sampleScene()
	g.Entities[0].OnImpact = nil
	// The impact speed held from the previous drain scales the current one.
	g.Nodes = []Node{
		{Id: "hold", Kind: KindMemory},
		{Id: "amp", Kind: KindMath, Op: "mul"},
	}
	g.Edges = []GraphEdge{
		{From: PortRef{Node: "ball", Port: "velocity"}, To: PortRef{Node: "hold", Port: "in"}, Transform: &PureFunc{Op: "norm"}},
		{From: PortRef{Node: "ball", Port: "velocity"}, To: PortRef{Node: "amp", Port: "a"}, Transform: &PureFunc{Op: "norm"}},
		{From: PortRef{Node: "hold", Port: "out"}, To: PortRef{Node: "amp", Port: "b"}},
		{From: PortRef{Node: "amp", Port: "out"}, To: PortRef{Node: "lamp", Port: "intensity"}},
	}

	table := compiledRoutes(t, g)
	router := NewEventRouter(table, NewDefaultLogger("test", false))
	visuals := NewVisualState()
	acts := &fakeActuators{}

	router.Post(CollisionEvent{Entity: "ball", Velocity: mgl32.Vec3{0, 2, 0}})
	router.Drain(acts, acts, visuals)
	assert.InDelta(t, 0.0, visuals.Intensities["lamp"], 1e-5,
		"nothing is held before the first drain completes")

	router.Post(CollisionEvent{Entity: "ball", Velocity: mgl32.Vec3{0, 3, 0}})
	router.Drain(acts, acts, visuals)
	assert.InDelta(t, 6.0, visuals.Intensities["lamp"], 1e-5,
		"the operand is the previous drain's latch, not this one's")
}

func TestRouterSkipsFailingActuator(t *testing.T) {
	table := compiledRoutes(t, sampleScene())
	router := NewEventRouter(table, NewDefaultLogger("test", false))

	failing := &failingActuators{}
	router.Post(CollisionEvent{Entity: "ball"})
	n := router.Drain(failing, failing, nil)

	assert.Equal(t, 1, n, "actuator failures skip the effect, never abort the drain")
}

type failingActuators struct{}

func (failingActuators) Emit(string, mgl32.Vec3, uint32) error {
	return assert.AnError
}

func (failingActuators) Trigger(string, map[string]float32) error {
	return assert.AnError
}
