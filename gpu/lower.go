package gpu

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/lumen3d/lumen/gpu/shaders"
)

// SystemSpec is a validated particle system handed down from the compiler
// pipeline. All values are fixed for the lifetime of the compiled plan.
type SystemSpec struct {
	ID           string
	MaxParticles uint32
	Template     string // "" selects the built-in particle template

	Life     [2]float32
	Speed    [2]float32
	Size     [2]float32
	ColorMin [3]float32
	ColorMax [3]float32

	EmitCount uint32 // particles per trigger

	// RejectSurplus switches the over-capacity policy from ring eviction
	// (overwrite oldest) to dropping the surplus.
	RejectSurplus bool

	// Fused allows encoding emit and update into one command buffer.
	Fused bool
}

// Binding describes one entry of the compute bind group.
type Binding struct {
	Group   uint32
	Binding uint32
	Kind    string // "storage-rw" or "uniform"
	MinSize uint32
}

// Plan is the lowered form of a particle system: exact buffer layouts, the
// instantiated WGSL module and the bind group shape. A plan is immutable;
// engines share it read-only.
type Plan struct {
	SystemID      string
	MaxParticles  uint32
	WorkgroupSize uint32

	Particle BufferLayout
	Uniform  BufferLayout

	WGSL        string
	EmitEntry   string
	UpdateEntry string
	Bindings    []Binding

	Spec SystemSpec
}

// DefaultWorkgroupSize matches the 64-thread workgroups used throughout
// the compute passes.
const DefaultWorkgroupSize uint32 = 64

// Lower converts a validated particle system into buffer layouts, shader
// entry points and a bind group descriptor. Deterministic: the same spec
// always produces byte-identical layouts and WGSL.
func Lower(spec SystemSpec) (*Plan, error) {
	if spec.MaxParticles == 0 {
		return nil, fmt.Errorf("lower %s: maxParticles must be positive", spec.ID)
	}
	switch spec.Template {
	case "", "particles":
	default:
		return nil, fmt.Errorf("lower %s: unknown shader template %q", spec.ID, spec.Template)
	}
	if spec.Life[0] > spec.Life[1] || spec.Speed[0] > spec.Speed[1] || spec.Size[0] > spec.Size[1] {
		return nil, fmt.Errorf("lower %s: property range min exceeds max", spec.ID)
	}
	if spec.Life[1] <= 0 {
		return nil, fmt.Errorf("lower %s: life range must be positive", spec.ID)
	}

	particle, err := ComputeLayout("Particle", particleFields())
	if err != nil {
		return nil, err
	}
	uniform, err := ComputeLayout("Uniforms", uniformFields())
	if err != nil {
		return nil, err
	}
	if err := checkDeclaredLayout(&particle, shaders.ParticleOffsets, shaders.ParticleStride); err != nil {
		return nil, fmt.Errorf("lower %s: %w", spec.ID, err)
	}
	if err := checkDeclaredLayout(&uniform, shaders.UniformOffsets, shaders.UniformSize); err != nil {
		return nil, fmt.Errorf("lower %s: %w", spec.ID, err)
	}

	wgsl := instantiateTemplate(spec)

	return &Plan{
		SystemID:      spec.ID,
		MaxParticles:  spec.MaxParticles,
		WorkgroupSize: DefaultWorkgroupSize,
		Particle:      particle,
		Uniform:       uniform,
		WGSL:          wgsl,
		EmitEntry:     "emit",
		UpdateEntry:   "update",
		Bindings: []Binding{
			{Group: 0, Binding: 0, Kind: "storage-rw", MinSize: particle.Stride * spec.MaxParticles},
			{Group: 0, Binding: 1, Kind: "uniform", MinSize: uniform.Stride},
		},
		Spec: spec,
	}, nil
}

// checkDeclaredLayout compares a computed layout against the offsets the
// WGSL template declares. A mismatch means the template text and the Go
// layout rules drifted apart, which must never reach the driver.
func checkDeclaredLayout(l *BufferLayout, declared map[string]uint32, stride uint32) error {
	if len(l.Fields) != len(declared) {
		return fmt.Errorf("layout %s: %d fields computed, %d declared by template",
			l.Name, len(l.Fields), len(declared))
	}
	for _, f := range l.Fields {
		want, ok := declared[f.Name]
		if !ok {
			return fmt.Errorf("layout %s: field %q not declared by template", l.Name, f.Name)
		}
		if f.Offset != want {
			return fmt.Errorf("layout %s: field %q at offset %d, template declares %d",
				l.Name, f.Name, f.Offset, want)
		}
	}
	if l.Stride != stride {
		return fmt.Errorf("layout %s: stride %d, template declares %d", l.Name, l.Stride, stride)
	}
	return nil
}

func instantiateTemplate(spec SystemSpec) string {
	r := strings.NewReplacer(
		"{{WORKGROUP_SIZE}}", strconv.FormatUint(uint64(DefaultWorkgroupSize), 10),
		"{{LIFE_MIN}}", wgslFloat(spec.Life[0]),
		"{{LIFE_MAX}}", wgslFloat(spec.Life[1]),
		"{{SPEED_MIN}}", wgslFloat(spec.Speed[0]),
		"{{SPEED_MAX}}", wgslFloat(spec.Speed[1]),
		"{{SIZE_MIN}}", wgslFloat(spec.Size[0]),
		"{{SIZE_MAX}}", wgslFloat(spec.Size[1]),
		"{{COLOR_MIN}}", wgslVec3(spec.ColorMin),
		"{{COLOR_MAX}}", wgslVec3(spec.ColorMax),
	)
	return r.Replace(shaders.ParticlesWGSL)
}

// wgslFloat renders a float32 as a WGSL f32 literal, shortest exact form.
func wgslFloat(v float32) string {
	s := strconv.FormatFloat(float64(v), 'g', -1, 32)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return s
}

func wgslVec3(v [3]float32) string {
	return fmt.Sprintf("vec3<f32>(%s, %s, %s)", wgslFloat(v[0]), wgslFloat(v[1]), wgslFloat(v[2]))
}

// Uniforms is the CPU-side uniform block. It is packed and fully rewritten
// before every dispatch; no field is ever patched in place.
type Uniforms struct {
	Dt            float32
	Gravity       float32
	ParticleCount uint32
	EmitCount     uint32
	EmitPosition  [3]float32
	EmitBase      uint32
	Time          float32
}

// Pack serializes u at the offsets the plan's uniform layout dictates.
func (p *Plan) PackUniforms(u Uniforms) []byte {
	buf := make([]byte, p.Uniform.Stride)
	le := binary.LittleEndian
	le.PutUint32(buf[p.Uniform.Offset("dt"):], math.Float32bits(u.Dt))
	le.PutUint32(buf[p.Uniform.Offset("gravity"):], math.Float32bits(u.Gravity))
	le.PutUint32(buf[p.Uniform.Offset("particle_count"):], u.ParticleCount)
	le.PutUint32(buf[p.Uniform.Offset("emit_count"):], u.EmitCount)
	pos := p.Uniform.Offset("emit_position")
	for i := 0; i < 3; i++ {
		le.PutUint32(buf[pos+uint32(i)*4:], math.Float32bits(u.EmitPosition[i]))
	}
	le.PutUint32(buf[p.Uniform.Offset("emit_base"):], u.EmitBase)
	le.PutUint32(buf[p.Uniform.Offset("time"):], math.Float32bits(u.Time))
	return buf
}

// UnpackUniforms is the inverse of PackUniforms; the CPU backend uses it to
// read the current block before running a kernel.
func (p *Plan) UnpackUniforms(buf []byte) Uniforms {
	le := binary.LittleEndian
	var u Uniforms
	u.Dt = math.Float32frombits(le.Uint32(buf[p.Uniform.Offset("dt"):]))
	u.Gravity = math.Float32frombits(le.Uint32(buf[p.Uniform.Offset("gravity"):]))
	u.ParticleCount = le.Uint32(buf[p.Uniform.Offset("particle_count"):])
	u.EmitCount = le.Uint32(buf[p.Uniform.Offset("emit_count"):])
	pos := p.Uniform.Offset("emit_position")
	for i := 0; i < 3; i++ {
		u.EmitPosition[i] = math.Float32frombits(le.Uint32(buf[pos+uint32(i)*4:]))
	}
	u.EmitBase = le.Uint32(buf[p.Uniform.Offset("emit_base"):])
	u.Time = math.Float32frombits(le.Uint32(buf[p.Uniform.Offset("time"):]))
	return u
}

// Particle is the decoded CPU view of one GPU particle slot, for readback
// consumers and tests.
type Particle struct {
	Position [3]float32
	Velocity [3]float32
	Life     float32
	Size     float32
	Color    [3]float32
}

// DecodeParticles decodes a raw particle buffer using the plan's layout.
func (p *Plan) DecodeParticles(buf []byte) []Particle {
	n := uint32(len(buf)) / p.Particle.Stride
	out := make([]Particle, n)
	le := binary.LittleEndian
	posOff := p.Particle.Offset("position")
	velOff := p.Particle.Offset("velocity")
	lifeOff := p.Particle.Offset("life")
	sizeOff := p.Particle.Offset("size")
	colOff := p.Particle.Offset("color")
	for i := uint32(0); i < n; i++ {
		base := i * p.Particle.Stride
		for j := uint32(0); j < 3; j++ {
			out[i].Position[j] = math.Float32frombits(le.Uint32(buf[base+posOff+j*4:]))
			out[i].Velocity[j] = math.Float32frombits(le.Uint32(buf[base+velOff+j*4:]))
			out[i].Color[j] = math.Float32frombits(le.Uint32(buf[base+colOff+j*4:]))
		}
		out[i].Life = math.Float32frombits(le.Uint32(buf[base+lifeOff:]))
		out[i].Size = math.Float32frombits(le.Uint32(buf[base+sizeOff:]))
	}
	return out
}
