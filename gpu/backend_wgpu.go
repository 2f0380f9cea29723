package gpu

import (
	"fmt"

	"github.com/cogentcore/webgpu/wgpu"
)

const (
	// uniformSlotStride honors minUniformBufferOffsetAlignment so every
	// dispatch of a frame gets its own fully-written uniform block.
	uniformSlotStride = 256
	uniformSlots      = 16
)

// WgpuBackend executes the particle kernels on a wgpu device. Buffers and
// pipelines are created once in Init and reused every frame; with pass
// fusion all of a frame's passes go into one command buffer, so the
// queue's in-order execution guarantees emit-before-update without
// explicit barriers.
type WgpuBackend struct {
	device *wgpu.Device
	queue  *wgpu.Queue
	log    Logger

	plan           *Plan
	emitPipeline   *wgpu.ComputePipeline
	updatePipeline *wgpu.ComputePipeline
	particleBuf    *wgpu.Buffer
	uniformBuf     *wgpu.Buffer
	bindGroups     [uniformSlots]*wgpu.BindGroup

	encoder *wgpu.CommandEncoder
	slot    int
	pending []byte
	err     error
}

func NewWgpuBackend(device *wgpu.Device, log Logger) *WgpuBackend {
	return &WgpuBackend{
		device: device,
		queue:  device.GetQueue(),
		log:    log,
	}
}

func (b *WgpuBackend) Init(plan *Plan) error {
	b.releasePipeline()
	b.plan = plan

	shader, err := b.device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label:          plan.SystemID,
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{Code: plan.WGSL},
	})
	if err != nil {
		return fmt.Errorf("create shader module: %w", err)
	}
	defer shader.Release()

	// One explicit layout shared by both pipelines, so the per-slot bind
	// groups are compatible with either dispatch.
	bgl, err := b.device.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{
		Label:   plan.SystemID + "/bgl",
		Entries: bindGroupLayoutEntries(plan.Bindings),
	})
	if err != nil {
		return fmt.Errorf("create bind group layout: %w", err)
	}
	defer bgl.Release()
	pipelineLayout, err := b.device.CreatePipelineLayout(&wgpu.PipelineLayoutDescriptor{
		Label:            plan.SystemID + "/layout",
		BindGroupLayouts: []*wgpu.BindGroupLayout{bgl},
	})
	if err != nil {
		return fmt.Errorf("create pipeline layout: %w", err)
	}
	defer pipelineLayout.Release()

	b.emitPipeline, err = b.device.CreateComputePipeline(&wgpu.ComputePipelineDescriptor{
		Label:  plan.SystemID + "/emit",
		Layout: pipelineLayout,
		Compute: wgpu.ProgrammableStageDescriptor{
			Module:     shader,
			EntryPoint: plan.EmitEntry,
		},
	})
	if err != nil {
		return fmt.Errorf("create emit pipeline: %w", err)
	}
	b.updatePipeline, err = b.device.CreateComputePipeline(&wgpu.ComputePipelineDescriptor{
		Label:  plan.SystemID + "/update",
		Layout: pipelineLayout,
		Compute: wgpu.ProgrammableStageDescriptor{
			Module:     shader,
			EntryPoint: plan.UpdateEntry,
		},
	})
	if err != nil {
		return fmt.Errorf("create update pipeline: %w", err)
	}

	if b.particleBuf == nil {
		b.particleBuf, err = b.device.CreateBuffer(&wgpu.BufferDescriptor{
			Label: plan.SystemID + "/particles",
			Size:  uint64(plan.Particle.Stride * plan.MaxParticles),
			Usage: wgpu.BufferUsageStorage | wgpu.BufferUsageCopySrc | wgpu.BufferUsageCopyDst,
		})
		if err != nil {
			return fmt.Errorf("create particle buffer: %w", err)
		}
	}
	if b.uniformBuf == nil {
		b.uniformBuf, err = b.device.CreateBuffer(&wgpu.BufferDescriptor{
			Label: plan.SystemID + "/uniforms",
			Size:  uint64(uniformSlotStride * uniformSlots),
			Usage: wgpu.BufferUsageUniform | wgpu.BufferUsageCopyDst,
		})
		if err != nil {
			return fmt.Errorf("create uniform buffer: %w", err)
		}
	}

	for i := 0; i < uniformSlots; i++ {
		b.bindGroups[i], err = b.device.CreateBindGroup(&wgpu.BindGroupDescriptor{
			Label:  fmt.Sprintf("%s/bind-%d", plan.SystemID, i),
			Layout: bgl,
			Entries: []wgpu.BindGroupEntry{
				{Binding: 0, Buffer: b.particleBuf, Size: wgpu.WholeSize},
				{
					Binding: 1,
					Buffer:  b.uniformBuf,
					Offset:  uint64(i * uniformSlotStride),
					Size:    uint64(plan.Uniform.Stride),
				},
			},
		})
		if err != nil {
			return fmt.Errorf("create bind group %d: %w", i, err)
		}
	}
	return nil
}

// bindGroupLayoutEntries maps a plan's binding descriptors onto wgpu layout
// entries. Both kernels see the same resources, so one layout serves both.
func bindGroupLayoutEntries(bindings []Binding) []wgpu.BindGroupLayoutEntry {
	entries := make([]wgpu.BindGroupLayoutEntry, len(bindings))
	for i, bd := range bindings {
		typ := wgpu.BufferBindingTypeUniform
		if bd.Kind == "storage-rw" {
			typ = wgpu.BufferBindingTypeStorage
		}
		entries[i] = wgpu.BindGroupLayoutEntry{
			Binding:    bd.Binding,
			Visibility: wgpu.ShaderStageCompute,
			Buffer: wgpu.BufferBindingLayout{
				Type:           typ,
				MinBindingSize: uint64(bd.MinSize),
			},
		}
	}
	return entries
}

func (b *WgpuBackend) BeginFrame() error {
	b.slot = 0
	b.err = nil
	if !b.plan.Spec.Fused {
		return nil
	}
	enc, err := b.device.CreateCommandEncoder(nil)
	if err != nil {
		return fmt.Errorf("create command encoder: %w", err)
	}
	b.encoder = enc
	return nil
}

func (b *WgpuBackend) WriteUniforms(data []byte) {
	b.pending = append(b.pending[:0], data...)
}

func (b *WgpuBackend) DispatchEmit(groups uint32) {
	b.dispatch(b.emitPipeline, groups)
}

func (b *WgpuBackend) DispatchUpdate(groups uint32) {
	b.dispatch(b.updatePipeline, groups)
}

func (b *WgpuBackend) dispatch(pipeline *wgpu.ComputePipeline, groups uint32) {
	if b.err != nil {
		return
	}
	if b.slot >= uniformSlots {
		// Uniform arena exhausted; flush mid-frame. One extra
		// synchronization point, still correctly ordered.
		b.log.Debugf("system %s: uniform arena full, flushing frame early", b.plan.SystemID)
		if err := b.flush(); err != nil {
			b.err = err
			return
		}
		b.slot = 0
		if b.plan.Spec.Fused {
			enc, err := b.device.CreateCommandEncoder(nil)
			if err != nil {
				b.err = err
				return
			}
			b.encoder = enc
		}
	}

	slot := b.slot
	b.slot++
	b.queue.WriteBuffer(b.uniformBuf, uint64(slot*uniformSlotStride), b.pending)

	encoder := b.encoder
	if encoder == nil {
		enc, err := b.device.CreateCommandEncoder(nil)
		if err != nil {
			b.err = err
			return
		}
		encoder = enc
	}

	pass := encoder.BeginComputePass(nil)
	pass.SetPipeline(pipeline)
	pass.SetBindGroup(0, b.bindGroups[slot], nil)
	pass.DispatchWorkgroups(groups, 1, 1)
	pass.End()

	if b.encoder == nil {
		// Unfused: one command buffer per dispatch.
		cmd, err := encoder.Finish(nil)
		if err != nil {
			b.err = err
			return
		}
		b.queue.Submit(cmd)
		cmd.Release()
		encoder.Release()
	}
}

func (b *WgpuBackend) EndFrame() error {
	if b.err != nil {
		b.releaseEncoder()
		return b.err
	}
	return b.flush()
}

func (b *WgpuBackend) flush() error {
	if b.encoder == nil {
		return nil
	}
	cmd, err := b.encoder.Finish(nil)
	if err != nil {
		b.releaseEncoder()
		return fmt.Errorf("finish command buffer: %w", err)
	}
	b.queue.Submit(cmd)
	cmd.Release()
	b.encoder.Release()
	b.encoder = nil
	return nil
}

func (b *WgpuBackend) Wait() {
	b.device.Poll(true, nil)
}

func (b *WgpuBackend) ClearParticles() {
	zero := make([]byte, b.plan.Particle.Stride*b.plan.MaxParticles)
	b.queue.WriteBuffer(b.particleBuf, 0, zero)
}

// ReadParticles copies the particle buffer into a staging buffer and maps
// it synchronously. Not for the hot path.
func (b *WgpuBackend) ReadParticles() ([]byte, error) {
	size := uint64(b.plan.Particle.Stride * b.plan.MaxParticles)
	staging, err := b.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: b.plan.SystemID + "/readback",
		Size:  size,
		Usage: wgpu.BufferUsageMapRead | wgpu.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("create readback buffer: %w", err)
	}
	defer staging.Release()

	enc, err := b.device.CreateCommandEncoder(nil)
	if err != nil {
		return nil, fmt.Errorf("create readback encoder: %w", err)
	}
	enc.CopyBufferToBuffer(b.particleBuf, 0, staging, 0, size)
	cmd, err := enc.Finish(nil)
	if err != nil {
		enc.Release()
		return nil, fmt.Errorf("finish readback: %w", err)
	}
	b.queue.Submit(cmd)
	cmd.Release()
	enc.Release()

	var status wgpu.BufferMapAsyncStatus
	staging.MapAsync(wgpu.MapModeRead, 0, size, func(s wgpu.BufferMapAsyncStatus) {
		status = s
	})
	b.device.Poll(true, nil)
	if status != wgpu.BufferMapAsyncStatusSuccess {
		return nil, fmt.Errorf("readback map failed: status %d", status)
	}
	mapped := staging.GetMappedRange(0, uint(size))
	out := make([]byte, size)
	copy(out, mapped)
	staging.Unmap()
	return out, nil
}

func (b *WgpuBackend) releaseEncoder() {
	if b.encoder != nil {
		b.encoder.Release()
		b.encoder = nil
	}
}

func (b *WgpuBackend) releasePipeline() {
	for i := range b.bindGroups {
		if b.bindGroups[i] != nil {
			b.bindGroups[i].Release()
			b.bindGroups[i] = nil
		}
	}
	if b.emitPipeline != nil {
		b.emitPipeline.Release()
		b.emitPipeline = nil
	}
	if b.updatePipeline != nil {
		b.updatePipeline.Release()
		b.updatePipeline = nil
	}
}

func (b *WgpuBackend) Release() {
	b.releaseEncoder()
	b.releasePipeline()
	if b.particleBuf != nil {
		b.particleBuf.Release()
		b.particleBuf = nil
	}
	if b.uniformBuf != nil {
		b.uniformBuf.Release()
		b.uniformBuf = nil
	}
}

var _ Backend = (*WgpuBackend)(nil)
