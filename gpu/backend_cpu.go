package gpu

import (
	"encoding/binary"
	"math"
)

// CPUBackend runs the particle kernels in software over the same byte
// layout the GPU uses. It is the reference implementation: tests assert
// against it, and hosts without a usable adapter can fall back to it.
// Dispatches execute immediately, so frame bracketing only counts
// submissions.
type CPUBackend struct {
	plan      *Plan
	particles []byte
	uniforms  []byte

	// Submissions counts frame submissions (fused) or per-dispatch
	// submissions (unfused), mirroring the wgpu backend's queue usage.
	Submissions int

	framePasses int
}

func NewCPUBackend() *CPUBackend { return &CPUBackend{} }

func (b *CPUBackend) Init(plan *Plan) error {
	b.plan = plan
	b.particles = make([]byte, plan.Particle.Stride*plan.MaxParticles)
	b.uniforms = make([]byte, plan.Uniform.Stride)
	return nil
}

func (b *CPUBackend) BeginFrame() error {
	b.framePasses = 0
	return nil
}

func (b *CPUBackend) WriteUniforms(data []byte) {
	copy(b.uniforms, data)
}

func (b *CPUBackend) DispatchEmit(groups uint32) {
	u := b.plan.UnpackUniforms(b.uniforms)
	threads := groups * b.plan.WorkgroupSize
	for idx := uint32(0); idx < threads; idx++ {
		b.emitKernel(u, idx)
	}
	b.countPass()
}

func (b *CPUBackend) DispatchUpdate(groups uint32) {
	u := b.plan.UnpackUniforms(b.uniforms)
	threads := groups * b.plan.WorkgroupSize
	for idx := uint32(0); idx < threads; idx++ {
		b.updateKernel(u, idx)
	}
	b.countPass()
}

func (b *CPUBackend) countPass() {
	if b.plan.Spec.Fused {
		b.framePasses++
		return
	}
	b.Submissions++
}

func (b *CPUBackend) EndFrame() error {
	if b.plan.Spec.Fused && b.framePasses > 0 {
		b.Submissions++
		b.framePasses = 0
	}
	return nil
}

func (b *CPUBackend) Wait() {}

func (b *CPUBackend) ClearParticles() {
	for i := range b.particles {
		b.particles[i] = 0
	}
}

func (b *CPUBackend) ReadParticles() ([]byte, error) {
	out := make([]byte, len(b.particles))
	copy(out, b.particles)
	return out, nil
}

func (b *CPUBackend) Release() {
	b.particles = nil
	b.uniforms = nil
}

// pcg is the same hash the WGSL module uses; uint32 arithmetic wraps
// identically on both sides.
func pcg(v uint32) uint32 {
	state := v*747796405 + 2891336453
	word := ((state >> ((state >> 28) + 4)) ^ state) * 277803737
	return (word >> 22) ^ word
}

type rng struct{ seed uint32 }

func (r *rng) next01() float32 {
	r.seed = pcg(r.seed)
	return float32(r.seed) / float32(4294967295)
}

// lerp uses the same formulation WGSL specifies for mix, so both kernels
// round identically at every step.
func lerp(a, b, t float32) float32 { return a*(1-t) + b*t }

// emitKernel mirrors the emit entry point of particles.wgsl; the draw
// order must stay in sync with the template.
func (b *CPUBackend) emitKernel(u Uniforms, idx uint32) {
	if idx >= u.EmitCount {
		return
	}
	slot := (u.EmitBase + idx) % u.ParticleCount
	r := rng{seed: math.Float32bits(u.Time) ^ (idx * 2654435761)}

	spec := b.plan.Spec
	life := lerp(spec.Life[0], spec.Life[1], r.next01())
	speed := lerp(spec.Speed[0], spec.Speed[1], r.next01())
	size := lerp(spec.Size[0], spec.Size[1], r.next01())
	var color [3]float32
	for i := 0; i < 3; i++ {
		color[i] = lerp(spec.ColorMin[i], spec.ColorMax[i], r.next01())
	}

	y := 2*r.next01() - 1
	phi := 6.2831853 * r.next01()
	planar := float32(math.Sqrt(math.Max(0, float64(1-y*y))))
	dir := [3]float32{
		planar * float32(math.Cos(float64(phi))),
		y,
		planar * float32(math.Sin(float64(phi))),
	}

	b.writeVec3(slot, "position", u.EmitPosition)
	b.writeVec3(slot, "velocity", [3]float32{dir[0] * speed, dir[1] * speed, dir[2] * speed})
	b.writeF32(slot, "life", life)
	b.writeF32(slot, "size", size)
	b.writeVec3(slot, "color", color)
	b.writeF32(slot, "_pad", 0)
}

// updateKernel mirrors the update entry point: semi-implicit Euler, life
// decrement, size rescale from remaining life, early-out for dead slots.
func (b *CPUBackend) updateKernel(u Uniforms, idx uint32) {
	if idx >= u.ParticleCount {
		return
	}
	life := b.readF32(idx, "life")
	if life <= 0 {
		return
	}
	vel := b.readVec3(idx, "velocity")
	pos := b.readVec3(idx, "position")

	vel[1] = vel[1] - u.Gravity*u.Dt
	for i := 0; i < 3; i++ {
		pos[i] = pos[i] + vel[i]*u.Dt
	}
	remaining := life - u.Dt
	size := b.readF32(idx, "size")
	size = size * (float32(math.Max(float64(remaining), 0)) / life)

	b.writeVec3(idx, "velocity", vel)
	b.writeVec3(idx, "position", pos)
	b.writeF32(idx, "size", size)
	b.writeF32(idx, "life", remaining)
}

func (b *CPUBackend) fieldAt(slot uint32, name string) []byte {
	base := slot*b.plan.Particle.Stride + b.plan.Particle.Offset(name)
	return b.particles[base:]
}

func (b *CPUBackend) readF32(slot uint32, name string) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(b.fieldAt(slot, name)))
}

func (b *CPUBackend) writeF32(slot uint32, name string, v float32) {
	binary.LittleEndian.PutUint32(b.fieldAt(slot, name), math.Float32bits(v))
}

func (b *CPUBackend) readVec3(slot uint32, name string) [3]float32 {
	buf := b.fieldAt(slot, name)
	var out [3]float32
	for i := 0; i < 3; i++ {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return out
}

func (b *CPUBackend) writeVec3(slot uint32, name string, v [3]float32) {
	buf := b.fieldAt(slot, name)
	for i := 0; i < 3; i++ {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v[i]))
	}
}

var _ Backend = (*CPUBackend)(nil)
