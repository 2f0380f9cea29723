package shaders

import (
	_ "embed"
)

//go:embed particles.wgsl
var ParticlesWGSL string

// Declared layout of the structs in particles.wgsl. Lowering cross-checks
// its computed layouts against these tables; any drift between the template
// text and the CPU-side layout is a compile error, not a runtime one.
var (
	ParticleOffsets = map[string]uint32{
		"position": 0,
		"velocity": 16,
		"life":     28,
		"size":     32,
		"color":    48,
		"_pad":     60,
	}
	ParticleStride uint32 = 64

	UniformOffsets = map[string]uint32{
		"dt":             0,
		"gravity":        4,
		"particle_count": 8,
		"emit_count":     12,
		"emit_position":  16,
		"emit_base":      28,
		"time":           32,
	}
	UniformSize uint32 = 48
)
