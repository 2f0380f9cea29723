package lumen

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/lumen3d/lumen/audio"
	"github.com/lumen3d/lumen/gpu"
)

// Renderer is the drawing collaborator. Present receives each system's
// engine so the renderer can bind the particle buffer; only the buffer's
// logical layout is guaranteed.
type Renderer interface {
	Present(system string, engine *gpu.Engine)
}

// VisualState holds the routed values of entity visual ports for the
// renderer to read. It is the default VisualActuator.
type VisualState struct {
	Colors      map[string]mgl32.Vec3
	Intensities map[string]float32
}

func NewVisualState() *VisualState {
	return &VisualState{
		Colors:      map[string]mgl32.Vec3{},
		Intensities: map[string]float32{},
	}
}

func (v *VisualState) SetColor(entity string, color mgl32.Vec3) {
	v.Colors[entity] = color
}

func (v *VisualState) SetIntensity(entity string, intensity float32) {
	v.Intensities[entity] = intensity
}

// SceneRuntime is the live form of a compiled scene: one compute engine
// per particle system, the audio graph and the event router. It is the
// particle and audio actuator the router drains into.
type SceneRuntime struct {
	Engines map[string]*gpu.Engine
	Audio   *audio.Graph
	Router  *EventRouter
	Visuals *VisualState

	Collisions CollisionSource
	Renderer   Renderer

	log Logger
}

func (rt *SceneRuntime) Emit(system string, origin mgl32.Vec3, count uint32) error {
	eng, ok := rt.Engines[system]
	if !ok {
		return fmt.Errorf("no engine for particle system %q", system)
	}
	return eng.Emit(origin, count)
}

func (rt *SceneRuntime) Trigger(node string, params map[string]float32) error {
	if rt.Audio == nil {
		return nil
	}
	return rt.Audio.Trigger(node, params)
}

// Engine returns the compute engine of one system, or nil.
func (rt *SceneRuntime) Engine(system string) *gpu.Engine {
	return rt.Engines[system]
}

// Release frees every engine's GPU resources.
func (rt *SceneRuntime) Release() {
	for _, eng := range rt.Engines {
		eng.Release()
	}
}

// SceneModule installs a compiled scene into the frame loop. Stages:
// engines open their command streams in Prelude, events poll and drain in
// PreUpdate so every emit of frame N precedes frame N's update dispatch,
// Update steps the kernels, Present hands buffers to the renderer and
// Finale submits and applies queued resets.
type SceneModule struct {
	Scene      *CompiledScene
	Collisions CollisionSource
	Renderer   Renderer

	// NewBackend builds the backend per plan; nil selects the wgpu backend
	// against the GpuState resource.
	NewBackend func(plan *gpu.Plan) gpu.Backend

	// AudioSink receives triggered sounds; nil plays through the speaker.
	AudioSink audio.Sink
}

func (m SceneModule) Install(app *App) {
	log := ResourceOf[DefaultLogger](app)
	if log == nil {
		panic("SceneModule requires LoggingModule")
	}

	newBackend := m.NewBackend
	if newBackend == nil {
		gs := ResourceOf[GpuState](app)
		if gs == nil {
			panic("SceneModule requires PlatformWindowModule or an explicit NewBackend")
		}
		newBackend = func(*gpu.Plan) gpu.Backend {
			return gpu.NewWgpuBackend(gs.Device(), log)
		}
	}

	engines := make(map[string]*gpu.Engine, len(m.Scene.Plans))
	for id, plan := range m.Scene.Plans {
		eng, err := gpu.NewEngine(plan, newBackend(plan), log)
		if err != nil {
			panic(fmt.Sprintf("particle system %s: %v", id, err))
		}
		engines[id] = eng
	}

	var graph *audio.Graph
	if len(m.Scene.Audio) > 0 {
		sink := m.AudioSink
		if sink == nil {
			s, err := audio.NewSpeakerSink(audio.DefaultSampleRate)
			if err != nil {
				panic(err)
			}
			sink = s
		}
		g, err := audio.Compile(m.Scene.Audio, sink, audio.DefaultSampleRate, log)
		if err != nil {
			panic(err)
		}
		graph = g
	}

	rt := &SceneRuntime{
		Engines:    engines,
		Audio:      graph,
		Router:     NewEventRouter(m.Scene.Routes, log),
		Visuals:    NewVisualState(),
		Collisions: m.Collisions,
		Renderer:   m.Renderer,
		log:        log,
	}
	app.AddResources(rt)

	app.UseSystem(Prelude, beginFrameSystem)
	app.UseSystem(PreUpdate, routeEventsSystem)
	app.UseSystem(Update, stepParticlesSystem)
	app.UseSystem(Present, presentSystem)
	app.UseSystem(Finale, endFrameSystem)
}

func beginFrameSystem(rt *SceneRuntime) {
	for id, eng := range rt.Engines {
		if err := eng.BeginFrame(); err != nil {
			rt.log.Errorf("system %s: begin frame: %v", id, err)
		}
	}
}

// routeEventsSystem drains this frame's collisions before any update
// dispatch, so a collision is visible in the frame it occurs.
func routeEventsSystem(rt *SceneRuntime) {
	if rt.Collisions != nil {
		rt.Router.Poll(rt.Collisions)
	}
	rt.Router.Drain(rt, rt, rt.Visuals)
}

func stepParticlesSystem(rt *SceneRuntime, timeResource *Time) {
	dt := timeResource.DeltaSeconds()
	for id, eng := range rt.Engines {
		if err := eng.Step(dt); err != nil {
			rt.log.Errorf("system %s: step: %v", id, err)
		}
	}
}

func presentSystem(rt *SceneRuntime) {
	if rt.Renderer == nil {
		return
	}
	for id, eng := range rt.Engines {
		rt.Renderer.Present(id, eng)
	}
}

func endFrameSystem(rt *SceneRuntime) {
	for id, eng := range rt.Engines {
		if err := eng.EndFrame(); err != nil {
			rt.log.Errorf("system %s: end frame: %v", id, err)
		}
	}
}
