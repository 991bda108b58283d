package webgpu

import (
	"context"
	"fmt"
	"sync"

	"github.com/gogpu/gpuprobe/gpucore"
	"github.com/gogpu/gpuprobe/internal/probelog"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu"
)

// Device adapts a *wgpu.Device to gpucore.Device.
//
// Resources are tracked in ID tables so the round-trip stages never hold
// wgpu handles directly. Map callbacks run after the mutex is released.
//
// A Device opened with Open owns its instance, adapter and wgpu device and
// drives map completion from Poll. A Device created with FromProvider
// shares a device owned by someone else, who is expected to poll it; map
// completions are then delivered from a watcher goroutine.
type Device struct {
	mu sync.Mutex

	instance *wgpu.Instance
	adapter  *wgpu.Adapter
	device   *wgpu.Device
	queue    *wgpu.Queue
	info     gpucore.AdapterInfo
	owned    bool
	external bool
	closed   bool

	// done is closed by Close and stops map watchers.
	done   chan struct{}
	nextID uint64

	buffers         map[gpucore.BufferID]*wgpu.Buffer
	ranges          map[gpucore.BufferID][]*wgpu.MappedRange
	pending         map[gpucore.BufferID]*pendingMap
	shaders         map[gpucore.ShaderModuleID]*wgpu.ShaderModule
	layouts         map[gpucore.BindGroupLayoutID]*wgpu.BindGroupLayout
	pipelineLayouts map[gpucore.PipelineLayoutID]*wgpu.PipelineLayout
	pipelines       map[gpucore.ComputePipelineID]*wgpu.ComputePipeline
	bindGroups      map[gpucore.BindGroupID]*wgpu.BindGroup
	commandBuffers  map[gpucore.CommandBufferID]*wgpu.CommandBuffer

	captureDepth int
}

type pendingMap struct {
	handle *wgpu.MapPending
	cb     gpucore.MapCallback
}

type firing struct {
	cb     gpucore.MapCallback
	status gpucore.MapStatus
}

func newDevice(dev *wgpu.Device, info gpucore.AdapterInfo) *Device {
	return &Device{
		device:          dev,
		queue:           dev.Queue(),
		info:            info,
		done:            make(chan struct{}),
		buffers:         make(map[gpucore.BufferID]*wgpu.Buffer),
		ranges:          make(map[gpucore.BufferID][]*wgpu.MappedRange),
		pending:         make(map[gpucore.BufferID]*pendingMap),
		shaders:         make(map[gpucore.ShaderModuleID]*wgpu.ShaderModule),
		layouts:         make(map[gpucore.BindGroupLayoutID]*wgpu.BindGroupLayout),
		pipelineLayouts: make(map[gpucore.PipelineLayoutID]*wgpu.PipelineLayout),
		pipelines:       make(map[gpucore.ComputePipelineID]*wgpu.ComputePipeline),
		bindGroups:      make(map[gpucore.BindGroupID]*wgpu.BindGroup),
		commandBuffers:  make(map[gpucore.CommandBufferID]*wgpu.CommandBuffer),
	}
}

func (d *Device) newID() uint64 {
	d.nextID++
	return d.nextID
}

// Info returns metadata about the adapter behind the device.
func (d *Device) Info() gpucore.AdapterInfo { return d.info }

// Limits returns the limits the wgpu device was created with.
func (d *Device) Limits() gpucore.Limits { return d.device.Limits() }

// Features reports mappable primary buffers: gogpu/wgpu accepts storage
// usage combined with MapRead or MapWrite on every native backend.
func (d *Device) Features() gpucore.Features { return gpucore.FeatureMappablePrimaryBuffers }

// ExternalPolling reports whether the device is shared with a provider
// that drives it.
func (d *Device) ExternalPolling() bool { return d.external }

// Wgpu returns the underlying wgpu device.
func (d *Device) Wgpu() *wgpu.Device { return d.device }

// CreateBuffer creates a wgpu buffer.
func (d *Device) CreateBuffer(desc *gpucore.BufferDesc) (gpucore.BufferID, error) {
	if desc == nil {
		return gpucore.InvalidID, fmt.Errorf("%w: nil descriptor", gpucore.ErrInvalidBufferSize)
	}
	buf, err := d.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label:            desc.Label,
		Size:             desc.Size,
		Usage:            desc.Usage,
		MappedAtCreation: desc.MappedAtCreation,
	})
	if err != nil {
		return gpucore.InvalidID, createErr(err, nil)
	}
	return d.addBuffer(buf)
}

// CreateBufferInit creates a buffer and fills it through the queue's
// staging path. CopyDst is added to the usage for the upload.
func (d *Device) CreateBufferInit(desc *gpucore.BufferDesc, contents []byte) (gpucore.BufferID, error) {
	if desc == nil || len(contents) == 0 {
		return gpucore.InvalidID, fmt.Errorf("%w: contents are empty", gpucore.ErrInvalidBufferSize)
	}
	if d.queue == nil {
		return gpucore.InvalidID, ErrNoQueue
	}
	size := alignUp4(uint64(len(contents)))
	buf, err := d.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: desc.Label,
		Size:  size,
		Usage: desc.Usage | gpucore.BufferUsageCopyDst,
	})
	if err != nil {
		return gpucore.InvalidID, createErr(err, nil)
	}
	data := contents
	if uint64(len(data)) != size {
		data = make([]byte, size)
		copy(data, contents)
	}
	if err := d.queue.WriteBuffer(buf, 0, data); err != nil {
		buf.Release()
		return gpucore.InvalidID, createErr(err, nil)
	}
	return d.addBuffer(buf)
}

func (d *Device) addBuffer(buf *wgpu.Buffer) (gpucore.BufferID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		buf.Release()
		return gpucore.InvalidID, ErrClosed
	}
	id := gpucore.BufferID(d.newID())
	d.buffers[id] = buf
	return id, nil
}

func (d *Device) buffer(id gpucore.BufferID) (*wgpu.Buffer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	buf, ok := d.buffers[id]
	if !ok {
		return nil, fmt.Errorf("%w: buffer %d", gpucore.ErrUnknownResource, id)
	}
	return buf, nil
}

// WriteMapped copies data into a mapped buffer. The range stays
// registered until Unmap.
func (d *Device) WriteMapped(id gpucore.BufferID, offset uint64, data []byte) error {
	view, err := d.MappedRange(id, offset, alignUp4(uint64(len(data))))
	if err != nil {
		return err
	}
	copy(view, data)
	return nil
}

// MappedRange returns a view of a mapped region, valid until Unmap.
func (d *Device) MappedRange(id gpucore.BufferID, offset, size uint64) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	buf, ok := d.buffers[id]
	if !ok {
		return nil, fmt.Errorf("%w: buffer %d", gpucore.ErrUnknownResource, id)
	}
	r, err := buf.MappedRange(offset, size)
	if err != nil {
		return nil, mapErr(err)
	}
	d.ranges[id] = append(d.ranges[id], r)
	return r.Bytes(), nil
}

// Unmap unmaps a buffer or cancels its pending map.
func (d *Device) Unmap(id gpucore.BufferID) error {
	d.mu.Lock()
	buf, ok := d.buffers[id]
	if !ok {
		d.mu.Unlock()
		return fmt.Errorf("%w: buffer %d", gpucore.ErrUnknownResource, id)
	}
	d.releaseRangesLocked(id)
	pm := d.dropPendingLocked(id)
	d.mu.Unlock()

	err := buf.Unmap()
	if pm != nil {
		pm.cb(gpucore.MapStatusCanceled)
	}
	return mapErr(err)
}

func (d *Device) releaseRangesLocked(id gpucore.BufferID) {
	for _, r := range d.ranges[id] {
		r.Release()
	}
	delete(d.ranges, id)
}

// dropPendingLocked forgets the pending map of id. In polling mode the
// handle is released here; a watcher goroutine owns it otherwise.
func (d *Device) dropPendingLocked(id gpucore.BufferID) *pendingMap {
	pm, ok := d.pending[id]
	if !ok {
		return nil
	}
	delete(d.pending, id)
	if !d.external {
		pm.handle.Release()
	}
	return pm
}

// DestroyBuffer releases a buffer. A pending map resolves as destroyed.
func (d *Device) DestroyBuffer(id gpucore.BufferID) {
	d.mu.Lock()
	buf, ok := d.buffers[id]
	if !ok {
		d.mu.Unlock()
		return
	}
	delete(d.buffers, id)
	d.releaseRangesLocked(id)
	pm := d.dropPendingLocked(id)
	d.mu.Unlock()

	buf.Release()
	if pm != nil {
		pm.cb(gpucore.MapStatusDestroyed)
	}
}

// MapState returns the mapping state of a buffer.
func (d *Device) MapState(id gpucore.BufferID) gpucore.MapState {
	d.mu.Lock()
	buf, ok := d.buffers[id]
	d.mu.Unlock()
	if !ok {
		return gpucore.MapStateDestroyed
	}
	switch buf.MapState() {
	case wgpu.MapStatePending:
		return gpucore.MapStatePending
	case wgpu.MapStateMapped:
		return gpucore.MapStateMapped
	default:
		return gpucore.MapStateUnmapped
	}
}

// MapAsync requests a host mapping. Validation failures are returned
// synchronously and cb never fires for them.
func (d *Device) MapAsync(id gpucore.BufferID, mode gpucore.MapMode, offset, size uint64, cb gpucore.MapCallback) error {
	if cb == nil {
		return fmt.Errorf("%w: nil map callback", gpucore.ErrInvalidUsage)
	}
	var wmode wgpu.MapMode
	switch mode {
	case gpucore.MapModeRead:
		wmode = wgpu.MapModeRead
	case gpucore.MapModeWrite:
		wmode = wgpu.MapModeWrite
	default:
		return fmt.Errorf("%w: map mode %v", gpucore.ErrInvalidUsage, mode)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	buf, ok := d.buffers[id]
	if !ok {
		return fmt.Errorf("%w: buffer %d", gpucore.ErrUnknownResource, id)
	}
	if _, busy := d.pending[id]; busy {
		return gpucore.ErrMapAlreadyPending
	}
	handle, err := buf.MapAsync(wmode, offset, size)
	if err != nil {
		return mapErr(err)
	}
	pm := &pendingMap{handle: handle, cb: cb}
	d.pending[id] = pm
	if d.external {
		go d.watch(id, pm)
	}
	return nil
}

// watch waits for a map on a device polled by its provider.
func (d *Device) watch(id gpucore.BufferID, pm *pendingMap) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-d.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	err := pm.handle.Wait(ctx)
	pm.handle.Release()
	if ctx.Err() != nil {
		return
	}

	d.mu.Lock()
	if d.pending[id] != pm {
		// Unmap, DestroyBuffer or Close already resolved it.
		d.mu.Unlock()
		return
	}
	delete(d.pending, id)
	d.mu.Unlock()
	pm.cb(statusOf(err))
}

// Poll drives the wgpu device and dispatches ready map callbacks.
func (d *Device) Poll(wait bool) bool {
	pt := wgpu.PollPoll
	if wait {
		pt = wgpu.PollWait
	}
	d.device.Poll(pt)

	d.mu.Lock()
	var ready []firing
	if !d.external {
		for id, pm := range d.pending {
			done, err := pm.handle.Status()
			if !done {
				continue
			}
			delete(d.pending, id)
			pm.handle.Release()
			ready = append(ready, firing{cb: pm.cb, status: statusOf(err)})
		}
	}
	idle := len(d.pending) == 0
	d.mu.Unlock()

	for _, f := range ready {
		f.cb(f.status)
	}
	return idle
}

// CreateShaderModule compiles WGSL source.
func (d *Device) CreateShaderModule(label, wgsl string) (gpucore.ShaderModuleID, error) {
	m, err := d.device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{Label: label, WGSL: wgsl})
	if err != nil {
		return gpucore.InvalidID, createErr(err, gpucore.ErrShaderCompilation)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	id := gpucore.ShaderModuleID(d.newID())
	d.shaders[id] = m
	return id, nil
}

// DestroyShaderModule releases a shader module.
func (d *Device) DestroyShaderModule(id gpucore.ShaderModuleID) {
	d.mu.Lock()
	m, ok := d.shaders[id]
	delete(d.shaders, id)
	d.mu.Unlock()
	if ok {
		m.Release()
	}
}

// CreateBindGroupLayout creates a layout of compute-visible storage
// buffer bindings.
func (d *Device) CreateBindGroupLayout(desc *gpucore.BindGroupLayoutDesc) (gpucore.BindGroupLayoutID, error) {
	entries := make([]wgpu.BindGroupLayoutEntry, len(desc.Entries))
	for i, e := range desc.Entries {
		typ := gputypes.BufferBindingTypeStorage
		if e.ReadOnly {
			typ = gputypes.BufferBindingTypeReadOnlyStorage
		}
		entries[i] = wgpu.BindGroupLayoutEntry{
			Binding:    e.Binding,
			Visibility: wgpu.ShaderStageCompute,
			Buffer: &gputypes.BufferBindingLayout{
				Type:           typ,
				MinBindingSize: e.MinBindingSize,
			},
		}
	}
	l, err := d.device.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{Label: desc.Label, Entries: entries})
	if err != nil {
		return gpucore.InvalidID, createErr(err, nil)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	id := gpucore.BindGroupLayoutID(d.newID())
	d.layouts[id] = l
	return id, nil
}

// DestroyBindGroupLayout releases a bind group layout.
func (d *Device) DestroyBindGroupLayout(id gpucore.BindGroupLayoutID) {
	d.mu.Lock()
	l, ok := d.layouts[id]
	delete(d.layouts, id)
	d.mu.Unlock()
	if ok {
		l.Release()
	}
}

// CreatePipelineLayout creates a pipeline layout.
func (d *Device) CreatePipelineLayout(desc *gpucore.PipelineLayoutDesc) (gpucore.PipelineLayoutID, error) {
	d.mu.Lock()
	layouts := make([]*wgpu.BindGroupLayout, len(desc.BindGroupLayouts))
	for i, lid := range desc.BindGroupLayouts {
		l, ok := d.layouts[lid]
		if !ok {
			d.mu.Unlock()
			return gpucore.InvalidID, fmt.Errorf("%w: bind group layout %d", gpucore.ErrUnknownResource, lid)
		}
		layouts[i] = l
	}
	d.mu.Unlock()

	pl, err := d.device.CreatePipelineLayout(&wgpu.PipelineLayoutDescriptor{Label: desc.Label, BindGroupLayouts: layouts})
	if err != nil {
		return gpucore.InvalidID, createErr(err, nil)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	id := gpucore.PipelineLayoutID(d.newID())
	d.pipelineLayouts[id] = pl
	return id, nil
}

// DestroyPipelineLayout releases a pipeline layout.
func (d *Device) DestroyPipelineLayout(id gpucore.PipelineLayoutID) {
	d.mu.Lock()
	pl, ok := d.pipelineLayouts[id]
	delete(d.pipelineLayouts, id)
	d.mu.Unlock()
	if ok {
		pl.Release()
	}
}

// CreateComputePipeline creates a compute pipeline. wgpu validates the
// workgroup size against the device limits itself, so desc.WorkgroupSize
// is informational here.
func (d *Device) CreateComputePipeline(desc *gpucore.ComputePipelineDesc) (gpucore.ComputePipelineID, error) {
	d.mu.Lock()
	layout, lok := d.pipelineLayouts[desc.Layout]
	module, mok := d.shaders[desc.ShaderModule]
	d.mu.Unlock()
	if !lok || !mok {
		return gpucore.InvalidID, fmt.Errorf("%w: layout %d or shader module %d",
			gpucore.ErrUnknownResource, desc.Layout, desc.ShaderModule)
	}

	p, err := d.device.CreateComputePipeline(&wgpu.ComputePipelineDescriptor{
		Label:      desc.Label,
		Layout:     layout,
		Module:     module,
		EntryPoint: desc.EntryPoint,
	})
	if err != nil {
		return gpucore.InvalidID, createErr(err, gpucore.ErrShaderCompilation)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	id := gpucore.ComputePipelineID(d.newID())
	d.pipelines[id] = p
	return id, nil
}

// DestroyComputePipeline releases a compute pipeline.
func (d *Device) DestroyComputePipeline(id gpucore.ComputePipelineID) {
	d.mu.Lock()
	p, ok := d.pipelines[id]
	delete(d.pipelines, id)
	d.mu.Unlock()
	if ok {
		p.Release()
	}
}

// CreateBindGroup creates a bind group of buffer bindings.
func (d *Device) CreateBindGroup(desc *gpucore.BindGroupDesc) (gpucore.BindGroupID, error) {
	d.mu.Lock()
	layout, ok := d.layouts[desc.Layout]
	if !ok {
		d.mu.Unlock()
		return gpucore.InvalidID, fmt.Errorf("%w: bind group layout %d", gpucore.ErrUnknownResource, desc.Layout)
	}
	entries := make([]wgpu.BindGroupEntry, len(desc.Entries))
	for i, e := range desc.Entries {
		buf, ok := d.buffers[e.Buffer]
		if !ok {
			d.mu.Unlock()
			return gpucore.InvalidID, fmt.Errorf("%w: buffer %d", gpucore.ErrUnknownResource, e.Buffer)
		}
		entries[i] = wgpu.BindGroupEntry{Binding: e.Binding, Buffer: buf, Offset: e.Offset, Size: e.Size}
	}
	d.mu.Unlock()

	bg, err := d.device.CreateBindGroup(&wgpu.BindGroupDescriptor{Label: desc.Label, Layout: layout, Entries: entries})
	if err != nil {
		return gpucore.InvalidID, createErr(err, gpucore.ErrInvalidUsage)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	id := gpucore.BindGroupID(d.newID())
	d.bindGroups[id] = bg
	return id, nil
}

// DestroyBindGroup releases a bind group.
func (d *Device) DestroyBindGroup(id gpucore.BindGroupID) {
	d.mu.Lock()
	bg, ok := d.bindGroups[id]
	delete(d.bindGroups, id)
	d.mu.Unlock()
	if ok {
		bg.Release()
	}
}

// Submit queues finished command buffers. On failure the buffers stay
// owned by the caller, who releases them with DestroyCommandBuffer.
func (d *Device) Submit(ids ...gpucore.CommandBufferID) error {
	if d.queue == nil {
		return ErrNoQueue
	}
	d.mu.Lock()
	cbs := make([]*wgpu.CommandBuffer, len(ids))
	for i, id := range ids {
		cb, ok := d.commandBuffers[id]
		if !ok {
			d.mu.Unlock()
			return fmt.Errorf("%w: command buffer %d", gpucore.ErrAlreadySubmitted, id)
		}
		cbs[i] = cb
	}
	d.mu.Unlock()

	index, err := d.queue.Submit(cbs...)
	if err != nil {
		return fmt.Errorf("webgpu: submit: %w", err)
	}
	d.mu.Lock()
	for _, id := range ids {
		delete(d.commandBuffers, id)
	}
	d.mu.Unlock()
	probelog.Logger().Debug("webgpu: submitted", "command_buffers", len(ids), "index", index)
	return nil
}

// DestroyCommandBuffer releases a command buffer that was never submitted.
func (d *Device) DestroyCommandBuffer(id gpucore.CommandBufferID) {
	d.mu.Lock()
	cb, ok := d.commandBuffers[id]
	delete(d.commandBuffers, id)
	d.mu.Unlock()
	if ok {
		cb.Release()
	}
}

// StartCapture pushes a validation error scope. Validation errors raised
// until the matching StopCapture are reported by it.
func (d *Device) StartCapture() {
	d.device.PushErrorScope(wgpu.ErrorFilterValidation)
	d.mu.Lock()
	d.captureDepth++
	depth := d.captureDepth
	d.mu.Unlock()
	probelog.Logger().Debug("webgpu: capture started", "depth", depth)
}

// StopCapture pops the innermost error scope.
func (d *Device) StopCapture() error {
	d.mu.Lock()
	if d.captureDepth == 0 {
		d.mu.Unlock()
		return ErrCaptureNotStarted
	}
	d.captureDepth--
	depth := d.captureDepth
	d.mu.Unlock()

	probelog.Logger().Debug("webgpu: capture stopped", "depth", depth)
	if gerr := d.device.PopErrorScope(); gerr != nil {
		return gerr
	}
	return nil
}

// Close releases every resource created through d. An owned device also
// releases the wgpu device, adapter and instance. Pending maps resolve as
// device lost.
func (d *Device) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.done)

	var lost []gpucore.MapCallback
	for id, pm := range d.pending {
		lost = append(lost, pm.cb)
		delete(d.pending, id)
		if !d.external {
			pm.handle.Release()
		}
	}
	for id := range d.ranges {
		d.releaseRangesLocked(id)
	}
	for id, cb := range d.commandBuffers {
		cb.Release()
		delete(d.commandBuffers, id)
	}
	for id, bg := range d.bindGroups {
		bg.Release()
		delete(d.bindGroups, id)
	}
	for id, p := range d.pipelines {
		p.Release()
		delete(d.pipelines, id)
	}
	for id, pl := range d.pipelineLayouts {
		pl.Release()
		delete(d.pipelineLayouts, id)
	}
	for id, l := range d.layouts {
		l.Release()
		delete(d.layouts, id)
	}
	for id, m := range d.shaders {
		m.Release()
		delete(d.shaders, id)
	}
	for id, b := range d.buffers {
		b.Release()
		delete(d.buffers, id)
	}
	d.mu.Unlock()

	for _, cb := range lost {
		cb(gpucore.MapStatusDeviceLost)
	}
	if !d.owned {
		return
	}
	d.device.Release()
	if d.adapter != nil {
		d.adapter.Release()
	}
	if d.instance != nil {
		d.instance.Release()
	}
	probelog.Logger().Debug("webgpu: device closed", "adapter", d.info.Name)
}

func alignUp4(n uint64) uint64 {
	return (n + 3) &^ 3
}

var _ gpucore.Device = (*Device)(nil)
