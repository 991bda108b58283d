package simgpu

import (
	"fmt"
	"sort"

	"github.com/gogpu/gpuprobe/gpucore"
	"github.com/gogpu/gpuprobe/internal/probelog"
)

// EncoderState represents the state of a simulated command encoder.
type EncoderState int

const (
	// EncoderStateRecording means the encoder accepts commands.
	EncoderStateRecording EncoderState = iota

	// EncoderStateLocked means a compute pass is open.
	EncoderStateLocked

	// EncoderStateFinished means the encoder was finished or discarded.
	EncoderStateFinished
)

// String returns the string representation of EncoderState.
func (s EncoderState) String() string {
	switch s {
	case EncoderStateRecording:
		return "Recording"
	case EncoderStateLocked:
		return "Locked"
	case EncoderStateFinished:
		return "Finished"
	default:
		return fmt.Sprintf("Unknown(%d)", int(s))
	}
}

type commandKind int

const (
	cmdDispatch commandKind = iota
	cmdCopy
)

type command struct {
	kind commandKind

	// dispatch
	pipeline gpucore.ComputePipelineID
	groups   [4]gpucore.BindGroupID
	count    [3]uint32

	// copy
	src, dst       gpucore.BufferID
	srcOff, dstOff uint64
	size           uint64
}

type commandBuffer struct {
	label     string
	cmds      []command
	submitted bool
}

// encoder records commands for the simulated device.
//
// State Machine:
//
//	Recording -> BeginComputePass -> Locked -> End -> Recording
//	Recording -> Finish/Discard -> Finished
type encoder struct {
	d     *Device
	label string
	state EncoderState
	cmds  []command
}

// computePass records compute commands into its parent encoder.
type computePass struct {
	enc      *encoder
	label    string
	ended    bool
	pipeline gpucore.ComputePipelineID
	groups   [4]gpucore.BindGroupID
}

// CreateCommandEncoder begins recording a command sequence.
func (d *Device) CreateCommandEncoder(label string) (gpucore.CommandEncoder, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, ErrClosed
	}
	return &encoder{d: d, label: label}, nil
}

func (e *encoder) BeginComputePass(label string) (gpucore.ComputePassEncoder, error) {
	switch e.state {
	case EncoderStateLocked:
		return nil, gpucore.ErrPassOpen
	case EncoderStateFinished:
		return nil, gpucore.ErrEncoderFinished
	}
	e.state = EncoderStateLocked
	return &computePass{enc: e, label: label}, nil
}

func (e *encoder) CopyBufferToBuffer(src gpucore.BufferID, srcOffset uint64, dst gpucore.BufferID, dstOffset uint64, size uint64) error {
	switch e.state {
	case EncoderStateLocked:
		return fmt.Errorf("%w: copy recorded inside compute pass", gpucore.ErrPassOpen)
	case EncoderStateFinished:
		return gpucore.ErrEncoderFinished
	}
	if src == dst {
		return fmt.Errorf("%w: source and destination are the same buffer", gpucore.ErrCopyRange)
	}
	if srcOffset%4 != 0 || dstOffset%4 != 0 || size%4 != 0 {
		return fmt.Errorf("%w: offsets and size must be 4-byte aligned", gpucore.ErrCopyRange)
	}

	d := e.d
	d.mu.Lock()
	defer d.mu.Unlock()
	sb, ok := d.buffers[src]
	if !ok {
		return fmt.Errorf("%w: buffer %d", gpucore.ErrUnknownResource, src)
	}
	db, ok := d.buffers[dst]
	if !ok {
		return fmt.Errorf("%w: buffer %d", gpucore.ErrUnknownResource, dst)
	}
	if !sb.usage.Contains(gpucore.BufferUsageCopySrc) {
		return fmt.Errorf("%w: buffer %q lacks CopySrc", gpucore.ErrInvalidUsage, sb.label)
	}
	if !db.usage.Contains(gpucore.BufferUsageCopyDst) {
		return fmt.Errorf("%w: buffer %q lacks CopyDst", gpucore.ErrInvalidUsage, db.label)
	}
	if srcOffset+size > sb.size || dstOffset+size > db.size {
		return fmt.Errorf("%w: %d bytes from %q+%d to %q+%d",
			gpucore.ErrCopyRange, size, sb.label, srcOffset, db.label, dstOffset)
	}
	e.cmds = append(e.cmds, command{
		kind:   cmdCopy,
		src:    src,
		dst:    dst,
		srcOff: srcOffset,
		dstOff: dstOffset,
		size:   size,
	})
	return nil
}

func (e *encoder) Finish() (gpucore.CommandBufferID, error) {
	switch e.state {
	case EncoderStateLocked:
		return gpucore.InvalidID, fmt.Errorf("%w: end the compute pass before Finish", gpucore.ErrPassOpen)
	case EncoderStateFinished:
		return gpucore.InvalidID, gpucore.ErrEncoderFinished
	}
	e.state = EncoderStateFinished

	d := e.d
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return gpucore.InvalidID, ErrClosed
	}
	id := gpucore.CommandBufferID(d.newID())
	d.commandBuffers[id] = &commandBuffer{label: e.label, cmds: e.cmds}
	e.cmds = nil
	return id, nil
}

func (e *encoder) Discard() {
	e.state = EncoderStateFinished
	e.cmds = nil
}

func (p *computePass) SetPipeline(pipeline gpucore.ComputePipelineID) error {
	if p.ended {
		return gpucore.ErrPassEnded
	}
	d := p.enc.d
	d.mu.Lock()
	_, ok := d.pipelines[pipeline]
	d.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: compute pipeline %d", gpucore.ErrUnknownResource, pipeline)
	}
	p.pipeline = pipeline
	return nil
}

func (p *computePass) SetBindGroup(index uint32, group gpucore.BindGroupID) error {
	if p.ended {
		return gpucore.ErrPassEnded
	}
	if index >= uint32(len(p.groups)) {
		return fmt.Errorf("simgpu: bind group index %d exceeds maximum (%d)", index, len(p.groups)-1)
	}
	d := p.enc.d
	d.mu.Lock()
	_, ok := d.bindGroups[group]
	d.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: bind group %d", gpucore.ErrUnknownResource, group)
	}
	p.groups[index] = group
	return nil
}

func (p *computePass) Dispatch(x, y, z uint32) error {
	if p.ended {
		return gpucore.ErrPassEnded
	}
	if p.pipeline == gpucore.InvalidID {
		return ErrNoPipeline
	}
	d := p.enc.d
	d.mu.Lock()
	defer d.mu.Unlock()
	pl, ok := d.pipelines[p.pipeline]
	if !ok {
		return fmt.Errorf("%w: compute pipeline %d", gpucore.ErrUnknownResource, p.pipeline)
	}
	if layout, ok := d.pipelineLayouts[pl.layout]; ok {
		for i := range layout.groups {
			if i >= len(p.groups) || p.groups[i] == gpucore.InvalidID {
				return fmt.Errorf("%w: group %d", ErrMissingBindGroup, i)
			}
		}
	}
	limit := d.cfg.limits.MaxComputeWorkgroupsPerDimension
	if x > limit || y > limit || z > limit {
		return fmt.Errorf("simgpu: workgroup count (%d, %d, %d) exceeds device limit %d", x, y, z, limit)
	}
	p.enc.cmds = append(p.enc.cmds, command{
		kind:     cmdDispatch,
		pipeline: p.pipeline,
		groups:   p.groups,
		count:    [3]uint32{x, y, z},
	})
	return nil
}

func (p *computePass) End() error {
	if p.ended {
		return gpucore.ErrPassEnded
	}
	p.ended = true
	p.enc.state = EncoderStateRecording
	return nil
}

// Submit queues finished command buffers. Execution happens on Poll.
func (d *Device) Submit(ids ...gpucore.CommandBufferID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	var cmds []command
	for _, id := range ids {
		cb, ok := d.commandBuffers[id]
		if !ok {
			return fmt.Errorf("%w: command buffer %d", gpucore.ErrUnknownResource, id)
		}
		if cb.submitted {
			return fmt.Errorf("%w: %q", gpucore.ErrAlreadySubmitted, cb.label)
		}
		if err := d.checkIdleLocked(cb.cmds); err != nil {
			return err
		}
		cmds = append(cmds, cb.cmds...)
	}
	for _, id := range ids {
		d.commandBuffers[id].submitted = true
	}
	d.submitted++
	d.queue = append(d.queue, &submission{index: d.submitted, cmds: cmds})
	d.signal()
	return nil
}

// checkIdleLocked rejects submissions touching mapped or pending buffers.
func (d *Device) checkIdleLocked(cmds []command) error {
	check := func(id gpucore.BufferID) error {
		if b, ok := d.buffers[id]; ok && b.state != gpucore.MapStateUnmapped {
			return fmt.Errorf("%w: %q is %v", gpucore.ErrBufferInUse, b.label, b.state)
		}
		return nil
	}
	for _, c := range cmds {
		switch c.kind {
		case cmdCopy:
			if err := check(c.src); err != nil {
				return err
			}
			if err := check(c.dst); err != nil {
				return err
			}
		case cmdDispatch:
			for _, g := range c.groups {
				bg, ok := d.bindGroups[g]
				if !ok {
					continue
				}
				for _, e := range bg.entries {
					if err := check(e.Buffer); err != nil {
						return err
					}
				}
			}
		}
	}
	return nil
}

// DestroyCommandBuffer releases an unsubmitted command buffer.
func (d *Device) DestroyCommandBuffer(id gpucore.CommandBufferID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.commandBuffers, id)
}

// executeLocked runs one submission. Resources destroyed after submission
// are skipped, mirroring a device that kept them alive only as long as
// the queue referenced them.
func (d *Device) executeLocked(s *submission) {
	for _, c := range s.cmds {
		switch c.kind {
		case cmdCopy:
			sb, ok1 := d.buffers[c.src]
			db, ok2 := d.buffers[c.dst]
			if !ok1 || !ok2 {
				probelog.Logger().Warn("simgpu: copy skipped, buffer destroyed", "submission", s.index)
				continue
			}
			copy(db.data[c.dstOff:c.dstOff+c.size], sb.data[c.srcOff:c.srcOff+c.size])
		case cmdDispatch:
			d.dispatchLocked(s.index, c)
		}
	}
}

func (d *Device) dispatchLocked(index uint64, c command) {
	pl, ok := d.pipelines[c.pipeline]
	if !ok {
		probelog.Logger().Warn("simgpu: dispatch skipped, pipeline destroyed", "submission", index)
		return
	}
	bindings := d.bindingsLocked(c.groups[0])
	d.dispatches = append(d.dispatches, c.count)

	wg := pl.workgroup
	nx, ny, nz := c.count[0]*wg[0], c.count[1]*wg[1], c.count[2]*wg[2]
	for z := uint32(0); z < nz; z++ {
		for y := uint32(0); y < ny; y++ {
			for x := uint32(0); x < nx; x++ {
				pl.kernel([3]uint32{x, y, z}, bindings)
				d.invocations++
			}
		}
	}
}

// bindingsLocked resolves group 0 into per-binding byte ranges.
func (d *Device) bindingsLocked(group gpucore.BindGroupID) [][]byte {
	bg, ok := d.bindGroups[group]
	if !ok {
		return nil
	}
	entries := make([]gpucore.BindGroupEntry, len(bg.entries))
	copy(entries, bg.entries)
	sort.Slice(entries, func(i, j int) bool { return entries[i].Binding < entries[j].Binding })

	var out [][]byte
	for _, e := range entries {
		b, ok := d.buffers[e.Buffer]
		if !ok {
			continue
		}
		size := e.Size
		if size == 0 {
			size = b.size - e.Offset
		}
		for uint32(len(out)) <= e.Binding {
			out = append(out, nil)
		}
		out[e.Binding] = b.data[e.Offset : e.Offset+size : e.Offset+size]
	}
	return out
}
