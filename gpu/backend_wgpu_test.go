package gpu

import (
	"testing"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The explicit layout must mirror the plan's binding descriptors exactly;
// both kernels dispatch against bind groups built from it.
func TestBindGroupLayoutEntriesMatchPlan(t *testing.T) {
	plan, err := Lower(testSpec())
	require.NoError(t, err)

	entries := bindGroupLayoutEntries(plan.Bindings)
	require.Len(t, entries, 2)

	assert.Equal(t, uint32(0), entries[0].Binding)
	assert.Equal(t, wgpu.BufferBindingTypeStorage, entries[0].Buffer.Type)
	assert.Equal(t, uint64(plan.Particle.Stride*plan.MaxParticles), entries[0].Buffer.MinBindingSize)

	assert.Equal(t, uint32(1), entries[1].Binding)
	assert.Equal(t, wgpu.BufferBindingTypeUniform, entries[1].Buffer.Type)
	assert.Equal(t, uint64(plan.Uniform.Stride), entries[1].Buffer.MinBindingSize)

	for _, e := range entries {
		assert.Equal(t, wgpu.ShaderStageCompute, e.Visibility)
	}
}
