package gpu

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopLogger struct{}

func (nopLogger) Debugf(format string, args ...any) {}
func (nopLogger) Infof(format string, args ...any)  {}
func (nopLogger) Warnf(format string, args ...any)  {}
func (nopLogger) Errorf(format string, args ...any) {}

func newTestEngine(t *testing.T, mutate func(*SystemSpec)) (*Engine, *CPUBackend) {
	t.Helper()
	spec := testSpec()
	if mutate != nil {
		mutate(&spec)
	}
	plan, err := Lower(spec)
	require.NoError(t, err)
	backend := NewCPUBackend()
	eng, err := NewEngine(plan, backend, nopLogger{})
	require.NoError(t, err)
	return eng, backend
}

func liveParticles(t *testing.T, eng *Engine) []Particle {
	t.Helper()
	buf, err := eng.ReadParticles()
	require.NoError(t, err)
	var live []Particle
	for _, p := range eng.Plan().DecodeParticles(buf) {
		if p.Life > 0 {
			live = append(live, p)
		}
	}
	return live
}

func TestEmitLeavesExactlyCountLive(t *testing.T) {
	eng, _ := newTestEngine(t, nil)

	require.NoError(t, eng.BeginFrame())
	require.NoError(t, eng.Emit(mgl32.Vec3{1, 2, 3}, 40))
	require.NoError(t, eng.EndFrame())

	live := liveParticles(t, eng)
	assert.Len(t, live, 40)
	for _, p := range live {
		assert.Equal(t, [3]float32{1, 2, 3}, p.Position)
	}
}

func TestStepZeroDtIsNoOp(t *testing.T) {
	eng, backend := newTestEngine(t, nil)

	require.NoError(t, eng.BeginFrame())
	require.NoError(t, eng.Emit(mgl32.Vec3{0, 5, 0}, 64))
	require.NoError(t, eng.EndFrame())

	before := make([]byte, len(backend.particles))
	copy(before, backend.particles)

	require.NoError(t, eng.BeginFrame())
	require.NoError(t, eng.Step(0))
	require.NoError(t, eng.EndFrame())

	assert.Equal(t, before, backend.particles, "zero-dt step must leave the buffer bit-identical")
}

func TestStepAppliesExactGravityDelta(t *testing.T) {
	eng, _ := newTestEngine(t, nil)

	require.NoError(t, eng.BeginFrame())
	require.NoError(t, eng.Emit(mgl32.Vec3{}, 50))
	require.NoError(t, eng.EndFrame())

	buf, err := eng.ReadParticles()
	require.NoError(t, err)
	before := eng.Plan().DecodeParticles(buf)

	require.NoError(t, eng.BeginFrame())
	require.NoError(t, eng.Step(0.016))
	require.NoError(t, eng.EndFrame())

	buf, err = eng.ReadParticles()
	require.NoError(t, err)
	after := eng.Plan().DecodeParticles(buf)

	delta := float32(9.81) * float32(0.016)
	for i := range before {
		if before[i].Life <= 0 {
			continue
		}
		assert.Equal(t, before[i].Velocity[1]-delta, after[i].Velocity[1],
			"slot %d velocity.y must drop by exactly gravity*dt", i)
	}
}

func TestRingEvictionOverwritesOldest(t *testing.T) {
	eng, _ := newTestEngine(t, func(s *SystemSpec) { s.MaxParticles = 64 })

	// Fill the ring, then emit 36 more from a different origin: slots 0-35
	// hold the new origin, 36-63 keep the old one.
	require.NoError(t, eng.BeginFrame())
	require.NoError(t, eng.Emit(mgl32.Vec3{1, 0, 0}, 64))
	require.NoError(t, eng.Emit(mgl32.Vec3{2, 0, 0}, 36))
	require.NoError(t, eng.EndFrame())

	buf, err := eng.ReadParticles()
	require.NoError(t, err)
	slots := eng.Plan().DecodeParticles(buf)
	require.Len(t, slots, 64)

	for i, p := range slots {
		require.Greater(t, p.Life, float32(0), "slot %d", i)
		if i < 36 {
			assert.Equal(t, float32(2), p.Position[0], "slot %d should be overwritten", i)
		} else {
			assert.Equal(t, float32(1), p.Position[0], "slot %d should survive", i)
		}
	}
	assert.Equal(t, uint32(64), eng.Live())
}

func TestOverCapacityEmitClampsToMax(t *testing.T) {
	eng, _ := newTestEngine(t, func(s *SystemSpec) { s.MaxParticles = 64 })

	require.NoError(t, eng.BeginFrame())
	require.NoError(t, eng.Emit(mgl32.Vec3{}, 100))
	require.NoError(t, eng.EndFrame())

	assert.Len(t, liveParticles(t, eng), 64)
	assert.Equal(t, uint32(64), eng.Live())
}

func TestRejectPolicyDropsSurplus(t *testing.T) {
	eng, _ := newTestEngine(t, func(s *SystemSpec) {
		s.MaxParticles = 64
		s.RejectSurplus = true
	})

	require.NoError(t, eng.BeginFrame())
	require.NoError(t, eng.Emit(mgl32.Vec3{1, 0, 0}, 50))
	require.NoError(t, eng.Emit(mgl32.Vec3{2, 0, 0}, 50))
	require.NoError(t, eng.EndFrame())

	buf, err := eng.ReadParticles()
	require.NoError(t, err)
	slots := eng.Plan().DecodeParticles(buf)

	assert.Len(t, liveParticles(t, eng), 64)
	// The first emit survives untouched; only 14 of the second fit.
	for i := 0; i < 50; i++ {
		assert.Equal(t, float32(1), slots[i].Position[0], "slot %d", i)
	}
	for i := 50; i < 64; i++ {
		assert.Equal(t, float32(2), slots[i].Position[0], "slot %d", i)
	}
}

func TestEmitVisibleBeforeStepInSameFrame(t *testing.T) {
	eng, _ := newTestEngine(t, func(s *SystemSpec) { s.Fused = true })

	require.NoError(t, eng.BeginFrame())
	require.NoError(t, eng.Emit(mgl32.Vec3{3, 3, 3}, 10))
	require.NoError(t, eng.Step(0.016))
	require.NoError(t, eng.EndFrame())

	live := liveParticles(t, eng)
	require.Len(t, live, 10)
	for _, p := range live {
		// One update pass already ran over the emitted slots.
		assert.Less(t, p.Life, float32(2))
		assert.NotEqual(t, [3]float32{3, 3, 3}, p.Position)
	}
}

func TestFusedFrameSubmitsOnce(t *testing.T) {
	eng, backend := newTestEngine(t, func(s *SystemSpec) { s.Fused = true })

	require.NoError(t, eng.BeginFrame())
	require.NoError(t, eng.Emit(mgl32.Vec3{}, 10))
	require.NoError(t, eng.Step(0.016))
	require.NoError(t, eng.EndFrame())

	assert.Equal(t, 1, backend.Submissions)
}

func TestUnfusedFrameSubmitsPerDispatch(t *testing.T) {
	eng, backend := newTestEngine(t, nil)

	require.NoError(t, eng.BeginFrame())
	require.NoError(t, eng.Emit(mgl32.Vec3{}, 10))
	require.NoError(t, eng.Step(0.016))
	require.NoError(t, eng.EndFrame())

	assert.Equal(t, 2, backend.Submissions)
}

func TestResetMidFrameIsDeferred(t *testing.T) {
	eng, _ := newTestEngine(t, nil)

	require.NoError(t, eng.BeginFrame())
	require.NoError(t, eng.Emit(mgl32.Vec3{}, 20))
	eng.Reset()
	require.NoError(t, eng.Step(0.016))
	require.NoError(t, eng.EndFrame())

	// Applied at the frame boundary, not mid-flight.
	assert.Empty(t, liveParticles(t, eng))
	assert.Equal(t, uint32(0), eng.Live())
}

func TestOrderingViolationPanicsUnderDebugChecks(t *testing.T) {
	eng, _ := newTestEngine(t, nil)
	eng.DebugChecks = true

	assert.Panics(t, func() { _ = eng.Emit(mgl32.Vec3{}, 1) })
}

func TestOrderingViolationSerializedInRelease(t *testing.T) {
	eng, _ := newTestEngine(t, nil)

	// Without debug checks the engine recovers by opening a frame itself.
	require.NoError(t, eng.Emit(mgl32.Vec3{}, 5))
	require.NoError(t, eng.EndFrame())
	assert.Len(t, liveParticles(t, eng), 5)
}
