package webgpu

import (
	"fmt"

	"github.com/gogpu/gpuprobe/gpucore"
	"github.com/gogpu/wgpu"
)

type encoder struct {
	d    *Device
	enc  *wgpu.CommandEncoder
	pass *computePass
	done bool
}

type computePass struct {
	e     *encoder
	pass  *wgpu.ComputePassEncoder
	ended bool
}

// CreateCommandEncoder begins recording a command sequence.
func (d *Device) CreateCommandEncoder(label string) (gpucore.CommandEncoder, error) {
	enc, err := d.device.CreateCommandEncoder(&wgpu.CommandEncoderDescriptor{Label: label})
	if err != nil {
		return nil, fmt.Errorf("webgpu: create command encoder: %w", err)
	}
	return &encoder{d: d, enc: enc}, nil
}

func (e *encoder) ready() error {
	switch {
	case e.done:
		return gpucore.ErrEncoderFinished
	case e.pass != nil && !e.pass.ended:
		return gpucore.ErrPassOpen
	}
	return nil
}

func (e *encoder) BeginComputePass(label string) (gpucore.ComputePassEncoder, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	p, err := e.enc.BeginComputePass(&wgpu.ComputePassDescriptor{Label: label})
	if err != nil {
		return nil, fmt.Errorf("webgpu: begin compute pass: %w", err)
	}
	e.pass = &computePass{e: e, pass: p}
	return e.pass, nil
}

func (e *encoder) CopyBufferToBuffer(src gpucore.BufferID, srcOffset uint64, dst gpucore.BufferID, dstOffset uint64, size uint64) error {
	if err := e.ready(); err != nil {
		return err
	}
	s, err := e.d.buffer(src)
	if err != nil {
		return err
	}
	t, err := e.d.buffer(dst)
	if err != nil {
		return err
	}
	if srcOffset+size > s.Size() || dstOffset+size > t.Size() {
		return fmt.Errorf("%w: %d bytes from %d into %d", gpucore.ErrCopyRange, size, srcOffset, dstOffset)
	}
	// Recording errors surface from Finish.
	e.enc.CopyBufferToBuffer(s, srcOffset, t, dstOffset, size)
	return nil
}

func (e *encoder) Finish() (gpucore.CommandBufferID, error) {
	if err := e.ready(); err != nil {
		return gpucore.InvalidID, err
	}
	e.done = true
	cb, err := e.enc.Finish()
	if err != nil {
		return gpucore.InvalidID, fmt.Errorf("webgpu: finish: %w", err)
	}
	d := e.d
	d.mu.Lock()
	defer d.mu.Unlock()
	id := gpucore.CommandBufferID(d.newID())
	d.commandBuffers[id] = cb
	return id, nil
}

func (e *encoder) Discard() {
	if e.done {
		return
	}
	e.done = true
	e.enc.DiscardEncoding()
}

func (p *computePass) SetPipeline(id gpucore.ComputePipelineID) error {
	if p.ended {
		return gpucore.ErrPassEnded
	}
	p.e.d.mu.Lock()
	pl, ok := p.e.d.pipelines[id]
	p.e.d.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: compute pipeline %d", gpucore.ErrUnknownResource, id)
	}
	p.pass.SetPipeline(pl)
	return nil
}

func (p *computePass) SetBindGroup(index uint32, id gpucore.BindGroupID) error {
	if p.ended {
		return gpucore.ErrPassEnded
	}
	p.e.d.mu.Lock()
	bg, ok := p.e.d.bindGroups[id]
	p.e.d.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: bind group %d", gpucore.ErrUnknownResource, id)
	}
	p.pass.SetBindGroup(index, bg, nil)
	return nil
}

func (p *computePass) Dispatch(x, y, z uint32) error {
	if p.ended {
		return gpucore.ErrPassEnded
	}
	p.pass.Dispatch(x, y, z)
	return nil
}

func (p *computePass) End() error {
	if p.ended {
		return gpucore.ErrPassEnded
	}
	p.ended = true
	return p.pass.End()
}
