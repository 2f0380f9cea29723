package gpu

import (
	"github.com/go-gl/mathgl/mgl32"
)

// Logger is the subset of logging the engine needs. The root package's
// DefaultLogger satisfies it.
type Logger interface {
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
}

// Backend executes the compiled kernels. The wgpu backend drives a real
// device; the CPU backend runs the same kernels in software for tests and
// machines without a usable adapter.
type Backend interface {
	Init(plan *Plan) error
	BeginFrame() error
	// WriteUniforms stages the uniform block for the next dispatch. The
	// block is always written whole.
	WriteUniforms(data []byte)
	DispatchEmit(groups uint32)
	DispatchUpdate(groups uint32)
	EndFrame() error
	// Wait blocks until all submitted work completed. Shutdown and the
	// ordering-violation fallback only; never the hot path.
	Wait()
	ClearParticles()
	ReadParticles() ([]byte, error)
	Release()
}

// Engine owns the particle and uniform buffers of one compiled system for
// its whole lifetime. Buffers are created once and reused every frame.
// All methods must be called from the frame loop goroutine.
type Engine struct {
	plan    *Plan
	backend Backend
	log     Logger

	// DebugChecks turns ordering violations into panics instead of
	// a logged serialization fallback.
	DebugChecks bool

	gravity float32
	time    float32

	cursor uint32 // next ring slot
	live   uint32 // allocation estimate, saturates at MaxParticles

	inFrame      bool
	pendingReset bool
	lost         bool
}

// NewEngine initializes backend for plan and returns the engine.
func NewEngine(plan *Plan, backend Backend, log Logger) (*Engine, error) {
	if err := backend.Init(plan); err != nil {
		return nil, &DeviceLost{Cause: err}
	}
	return &Engine{
		plan:    plan,
		backend: backend,
		log:     log,
		gravity: 9.81,
	}, nil
}

func (e *Engine) Plan() *Plan { return e.plan }

// Live returns the engine's allocation estimate: slots written since the
// last wrap or reset. Deaths inside the update kernel are not visible to
// the host, so this is an upper bound.
func (e *Engine) Live() uint32 { return e.live }

func (e *Engine) SetGravity(g float32) { e.gravity = g }

// BeginFrame opens the frame's command stream. Recovery from a lost device
// happens here: the pipeline is rebuilt before any new dispatch.
func (e *Engine) BeginFrame() error {
	if e.inFrame {
		e.violate("BeginFrame")
		if err := e.EndFrame(); err != nil {
			return err
		}
		e.backend.Wait()
	}
	if e.lost {
		e.log.Infof("system %s: reinitializing after device loss", e.plan.SystemID)
		if err := e.backend.Init(e.plan); err != nil {
			return &DeviceLost{Cause: err}
		}
		e.lost = false
	}
	if err := e.backend.BeginFrame(); err != nil {
		return e.markLost(err)
	}
	e.inFrame = true
	return nil
}

// Emit seeds count particles at origin into a ring-allocated slice of
// slots. When count exceeds the remaining capacity the oldest slots are
// overwritten first (or the surplus is dropped under RejectSurplus); either
// way the condition is logged and never fatal.
func (e *Engine) Emit(origin mgl32.Vec3, count uint32) error {
	if !e.inFrame {
		e.violate("Emit")
		if err := e.BeginFrame(); err != nil {
			return err
		}
	}
	if count == 0 {
		return nil
	}

	max := e.plan.MaxParticles
	remaining := max - e.live
	requested := count
	base := e.cursor

	if e.plan.Spec.RejectSurplus {
		if count > remaining {
			count = remaining
			e.log.Warnf("%v", &CapacityExceeded{
				System: e.plan.SystemID, Requested: requested, Remaining: remaining,
			})
			if count == 0 {
				return nil
			}
		}
		e.cursor = (e.cursor + count) % max
	} else {
		if count > remaining {
			evicted := count - remaining
			if evicted > max {
				evicted = max
			}
			e.log.Warnf("%v", &CapacityExceeded{
				System: e.plan.SystemID, Requested: requested, Remaining: remaining,
				Evicted: evicted,
			})
		}
		if count > max {
			// Two invocations must never share a slot within one pass, so
			// only the newest MaxParticles writes are dispatched; the rest
			// would be overwritten in the same pass anyway.
			base = (base + count - max) % max
			count = max
		}
		e.cursor = (base + count) % max
	}
	e.live += count
	if e.live > max {
		e.live = max
	}

	u := Uniforms{
		Gravity:       e.gravity,
		ParticleCount: max,
		EmitCount:     count,
		EmitPosition:  [3]float32{origin.X(), origin.Y(), origin.Z()},
		EmitBase:      base,
		Time:          e.time,
	}
	e.backend.WriteUniforms(e.plan.PackUniforms(u))
	e.backend.DispatchEmit(groupsFor(count, e.plan.WorkgroupSize))
	return nil
}

// Step advances every slot by dt. Dead slots are skipped inside the kernel;
// the host always dispatches the full buffer.
func (e *Engine) Step(dt float32) error {
	if !e.inFrame {
		e.violate("Step")
		if err := e.BeginFrame(); err != nil {
			return err
		}
	}
	e.time += dt
	u := Uniforms{
		Dt:            dt,
		Gravity:       e.gravity,
		ParticleCount: e.plan.MaxParticles,
		Time:          e.time,
	}
	e.backend.WriteUniforms(e.plan.PackUniforms(u))
	e.backend.DispatchUpdate(groupsFor(e.plan.MaxParticles, e.plan.WorkgroupSize))
	return nil
}

// EndFrame submits the frame's command stream. With pass fusion enabled
// this is the single submission point of the frame.
func (e *Engine) EndFrame() error {
	if !e.inFrame {
		e.violate("EndFrame")
		return nil
	}
	e.inFrame = false
	if err := e.backend.EndFrame(); err != nil {
		return e.markLost(err)
	}
	if e.pendingReset {
		e.pendingReset = false
		e.applyReset()
	}
	return nil
}

// Reset clears all particle slots. Mid-frame requests are queued and
// applied at the frame boundary; resetting a buffer with in-flight work is
// never safe.
func (e *Engine) Reset() {
	if e.inFrame {
		e.log.Debugf("system %s: reset queued to frame boundary", e.plan.SystemID)
		e.pendingReset = true
		return
	}
	e.applyReset()
}

func (e *Engine) applyReset() {
	e.backend.ClearParticles()
	e.cursor = 0
	e.live = 0
	e.time = 0
}

// ReadParticles copies the particle buffer back to the CPU. Debug and
// shutdown tooling only; it waits for the device.
func (e *Engine) ReadParticles() ([]byte, error) {
	if e.inFrame {
		e.violate("ReadParticles")
		if err := e.EndFrame(); err != nil {
			return nil, err
		}
		e.backend.Wait()
	}
	buf, err := e.backend.ReadParticles()
	if err != nil {
		return nil, e.markLost(err)
	}
	return buf, nil
}

// Release waits for outstanding work and frees the buffers. The engine is
// unusable afterwards.
func (e *Engine) Release() {
	e.backend.Wait()
	e.backend.Release()
}

func (e *Engine) markLost(err error) error {
	e.lost = true
	lost := &DeviceLost{Cause: err}
	e.log.Errorf("system %s: %v", e.plan.SystemID, lost)
	return lost
}

func (e *Engine) violate(op string) {
	v := &OrderingViolation{System: e.plan.SystemID, Op: op}
	if e.DebugChecks {
		panic(v.Error())
	}
	e.log.Errorf("%v; serializing submissions for this frame", v)
}

func groupsFor(n, workgroup uint32) uint32 {
	return (n + workgroup - 1) / workgroup
}
