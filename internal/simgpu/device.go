// Package simgpu implements gpucore.Device entirely in process.
//
// The simulated device keeps buffer contents in host memory and runs
// compute dispatches as registered Go kernels keyed by entry point name.
// Submitted work does not execute at Submit time: it runs when the device
// is polled (or from a background goroutine with WithAsyncCompletion),
// which reproduces the asynchronous completion model of a real GPU.
//
// Faults can be injected to exercise every error path of the round trip
// without hardware: failed maps, maps that never signal, allocation
// ceilings, missing features and shader build failures.
package simgpu

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gogpu/gpuprobe/gpucore"
	"github.com/gogpu/gpuprobe/internal/probelog"
	"github.com/gogpu/gputypes"
)

// Simulator errors.
var (
	// ErrClosed is returned by operations on a closed device.
	ErrClosed = errors.New("simgpu: device is closed")

	// ErrNoPipeline is returned when dispatching without a pipeline.
	ErrNoPipeline = errors.New("simgpu: dispatch without a pipeline")

	// ErrMissingBindGroup is returned when dispatching while a group slot
	// required by the pipeline layout is empty.
	ErrMissingBindGroup = errors.New("simgpu: bind group required by pipeline layout is not set")

	// ErrCaptureNotStarted is returned by StopCapture without StartCapture.
	ErrCaptureNotStarted = errors.New("simgpu: capture was not started")
)

// Faults selects failures the simulated device injects.
type Faults struct {
	// FailMaps resolves every map request with MapStatusError.
	FailMaps bool

	// NeverSignal leaves map requests pending forever.
	NeverSignal bool

	// MaxAllocation caps the total bytes of live buffers (0 = unlimited).
	MaxAllocation uint64

	// FailShaderModules rejects every shader module.
	FailShaderModules bool
}

// Option configures a simulated Device.
type Option func(*config)

type config struct {
	info     gpucore.AdapterInfo
	limits   gpucore.Limits
	features gpucore.Features
	kernels  map[string]Kernel
	faults   Faults
	async    bool
}

func defaultConfig() config {
	return config{
		info: gpucore.AdapterInfo{
			Name:       "gpuprobe simulated device",
			Vendor:     "gogpu",
			DeviceType: gputypes.DeviceTypeCPU,
			Driver:     "simgpu",
			Backend:    gputypes.BackendEmpty,
		},
		limits:   gputypes.DefaultLimits(),
		features: gpucore.FeatureMappablePrimaryBuffers,
		kernels:  make(map[string]Kernel),
	}
}

// WithLimits replaces the default limits.
func WithLimits(l gpucore.Limits) Option {
	return func(c *config) { c.limits = l }
}

// WithFeatures replaces the default feature set.
func WithFeatures(f gpucore.Features) Option {
	return func(c *config) { c.features = f }
}

// WithKernel registers the kernel that runs for pipelines created with
// the given entry point.
func WithKernel(entryPoint string, k Kernel) Option {
	return func(c *config) { c.kernels[entryPoint] = k }
}

// WithFaults enables fault injection.
func WithFaults(f Faults) Option {
	return func(c *config) { c.faults = f }
}

// WithAsyncCompletion makes the device complete work and fire map
// callbacks from its own goroutine. ExternalPolling then reports true.
func WithAsyncCompletion() Option {
	return func(c *config) { c.async = true }
}

// WithInfo replaces the reported adapter info.
func WithInfo(info gpucore.AdapterInfo) Option {
	return func(c *config) { c.info = info }
}

// Device is a simulated GPU device.
//
// Thread Safety:
// Device is safe for concurrent use. All state is protected by a mutex
// and map callbacks run after the mutex is released.
type Device struct {
	mu  sync.Mutex
	cfg config

	nextID uint64
	closed bool

	buffers         map[gpucore.BufferID]*buffer
	shaders         map[gpucore.ShaderModuleID]*shaderModule
	layouts         map[gpucore.BindGroupLayoutID]*bindGroupLayout
	pipelineLayouts map[gpucore.PipelineLayoutID]*pipelineLayout
	pipelines       map[gpucore.ComputePipelineID]*computePipeline
	bindGroups      map[gpucore.BindGroupID]*bindGroup
	commandBuffers  map[gpucore.CommandBufferID]*commandBuffer

	queue       []*submission
	submitted   uint64
	completed   uint64
	pendingMaps []*pendingMap
	allocated   uint64

	captureDepth int
	captures     int

	dispatches  [][3]uint32
	invocations uint64

	wake chan struct{}
	stop chan struct{}
	done chan struct{}
}

type buffer struct {
	label    string
	size     uint64
	usage    gpucore.BufferUsage
	data     []byte
	state    gpucore.MapState
	mapMode  gpucore.MapMode
	mapStart uint64
	mapEnd   uint64
}

type pendingMap struct {
	id     gpucore.BufferID
	gate   uint64
	offset uint64
	size   uint64
	mode   gpucore.MapMode
	cb     gpucore.MapCallback
}

type submission struct {
	index uint64
	cmds  []command
}

// New creates a simulated device.
func New(opts ...Option) *Device {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	d := &Device{
		cfg:             cfg,
		buffers:         make(map[gpucore.BufferID]*buffer),
		shaders:         make(map[gpucore.ShaderModuleID]*shaderModule),
		layouts:         make(map[gpucore.BindGroupLayoutID]*bindGroupLayout),
		pipelineLayouts: make(map[gpucore.PipelineLayoutID]*pipelineLayout),
		pipelines:       make(map[gpucore.ComputePipelineID]*computePipeline),
		bindGroups:      make(map[gpucore.BindGroupID]*bindGroup),
		commandBuffers:  make(map[gpucore.CommandBufferID]*commandBuffer),
		wake:            make(chan struct{}, 1),
	}
	if cfg.async {
		d.stop = make(chan struct{})
		d.done = make(chan struct{})
		go d.run()
	}
	return d
}

// run drives the device when async completion is enabled.
func (d *Device) run() {
	defer close(d.done)
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-d.stop:
			return
		case <-d.wake:
		case <-ticker.C:
		}
		d.progress(true)
	}
}

func (d *Device) signal() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *Device) newID() uint64 {
	d.nextID++
	return d.nextID
}

// Info returns the simulated adapter info.
func (d *Device) Info() gpucore.AdapterInfo { return d.cfg.info }

// Limits returns the device limits.
func (d *Device) Limits() gpucore.Limits { return d.cfg.limits }

// Features returns the enabled features.
func (d *Device) Features() gpucore.Features { return d.cfg.features }

// ExternalPolling reports whether the device drives itself.
func (d *Device) ExternalPolling() bool { return d.cfg.async }

// CreateBuffer creates a buffer following WebGPU validation rules.
func (d *Device) CreateBuffer(desc *gpucore.BufferDesc) (gpucore.BufferID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, err := d.createBufferLocked(desc)
	if err != nil {
		return gpucore.InvalidID, err
	}
	id := gpucore.BufferID(d.newID())
	d.buffers[id] = b
	return id, nil
}

func (d *Device) createBufferLocked(desc *gpucore.BufferDesc) (*buffer, error) {
	if d.closed {
		return nil, ErrClosed
	}
	if desc == nil || desc.Size == 0 {
		return nil, fmt.Errorf("%w: size must be greater than zero", gpucore.ErrInvalidBufferSize)
	}
	if desc.MappedAtCreation && desc.Size%4 != 0 {
		return nil, fmt.Errorf("%w: mapped-at-creation size %d is not a multiple of 4",
			gpucore.ErrInvalidBufferSize, desc.Size)
	}
	u := desc.Usage
	if u == 0 {
		return nil, fmt.Errorf("%w: usage is empty", gpucore.ErrInvalidUsage)
	}
	if u.Contains(gpucore.BufferUsageMapRead) && u.Contains(gpucore.BufferUsageMapWrite) {
		return nil, fmt.Errorf("%w: MapRead and MapWrite are exclusive", gpucore.ErrInvalidUsage)
	}
	if !d.cfg.features.Contains(gpucore.FeatureMappablePrimaryBuffers) {
		if u.Contains(gpucore.BufferUsageMapRead) && u&^(gpucore.BufferUsageMapRead|gpucore.BufferUsageCopyDst) != 0 {
			return nil, fmt.Errorf("%w: MapRead combined with %v needs MappablePrimaryBuffers",
				gpucore.ErrFeatureMissing, u)
		}
		if u.Contains(gpucore.BufferUsageMapWrite) && u&^(gpucore.BufferUsageMapWrite|gpucore.BufferUsageCopySrc) != 0 {
			return nil, fmt.Errorf("%w: MapWrite combined with %v needs MappablePrimaryBuffers",
				gpucore.ErrFeatureMissing, u)
		}
	}
	if desc.Size > d.cfg.limits.MaxBufferSize {
		return nil, fmt.Errorf("%w: buffer size %d exceeds limit %d",
			gpucore.ErrResourceExhausted, desc.Size, d.cfg.limits.MaxBufferSize)
	}
	if ceiling := d.cfg.faults.MaxAllocation; ceiling > 0 && d.allocated+desc.Size > ceiling {
		return nil, fmt.Errorf("%w: allocating %d bytes would exceed %d (in use %d)",
			gpucore.ErrResourceExhausted, desc.Size, ceiling, d.allocated)
	}

	b := &buffer{
		label: desc.Label,
		size:  desc.Size,
		usage: u,
		data:  make([]byte, desc.Size),
		state: gpucore.MapStateUnmapped,
	}
	if desc.MappedAtCreation {
		b.state = gpucore.MapStateMapped
		b.mapMode = gpucore.MapModeWrite
		b.mapStart, b.mapEnd = 0, desc.Size
	}
	d.allocated += desc.Size
	return b, nil
}

// CreateBufferInit creates a buffer populated with contents.
func (d *Device) CreateBufferInit(desc *gpucore.BufferDesc, contents []byte) (gpucore.BufferID, error) {
	if len(contents) == 0 {
		return gpucore.InvalidID, fmt.Errorf("%w: contents are empty", gpucore.ErrInvalidBufferSize)
	}
	init := gpucore.BufferDesc{Usage: gpucore.BufferUsageCopyDst, Size: alignUp4(uint64(len(contents)))}
	if desc != nil {
		init.Label = desc.Label
		init.Usage = desc.Usage
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	b, err := d.createBufferLocked(&init)
	if err != nil {
		return gpucore.InvalidID, err
	}
	copy(b.data, contents)
	id := gpucore.BufferID(d.newID())
	d.buffers[id] = b
	return id, nil
}

// WriteMapped copies data into a buffer mapped for writing.
func (d *Device) WriteMapped(id gpucore.BufferID, offset uint64, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.buffers[id]
	if !ok {
		return fmt.Errorf("%w: buffer %d", gpucore.ErrUnknownResource, id)
	}
	if b.state != gpucore.MapStateMapped || b.mapMode != gpucore.MapModeWrite {
		return fmt.Errorf("%w: buffer %q is %v", gpucore.ErrNotMapped, b.label, b.state)
	}
	end := offset + uint64(len(data))
	if offset < b.mapStart || end > b.mapEnd {
		return fmt.Errorf("%w: write [%d, %d) outside mapped [%d, %d)",
			gpucore.ErrMapRange, offset, end, b.mapStart, b.mapEnd)
	}
	copy(b.data[offset:end], data)
	return nil
}

// Unmap unmaps a buffer or cancels its pending map.
func (d *Device) Unmap(id gpucore.BufferID) error {
	d.mu.Lock()
	b, ok := d.buffers[id]
	if !ok {
		d.mu.Unlock()
		return fmt.Errorf("%w: buffer %d", gpucore.ErrUnknownResource, id)
	}
	var canceled []gpucore.MapCallback
	switch b.state {
	case gpucore.MapStateMapped:
		b.state = gpucore.MapStateUnmapped
	case gpucore.MapStatePending:
		canceled = d.dropPendingLocked(id)
		b.state = gpucore.MapStateUnmapped
	default:
		d.mu.Unlock()
		return fmt.Errorf("%w: buffer %q", gpucore.ErrNotMapped, b.label)
	}
	d.mu.Unlock()

	for _, cb := range canceled {
		cb(gpucore.MapStatusCanceled)
	}
	return nil
}

// dropPendingLocked removes pending maps for id and returns their callbacks.
func (d *Device) dropPendingLocked(id gpucore.BufferID) []gpucore.MapCallback {
	var cbs []gpucore.MapCallback
	kept := d.pendingMaps[:0]
	for _, pm := range d.pendingMaps {
		if pm.id == id {
			cbs = append(cbs, pm.cb)
			continue
		}
		kept = append(kept, pm)
	}
	d.pendingMaps = kept
	return cbs
}

// DestroyBuffer releases a buffer. A pending map resolves as destroyed.
func (d *Device) DestroyBuffer(id gpucore.BufferID) {
	d.mu.Lock()
	b, ok := d.buffers[id]
	if !ok {
		d.mu.Unlock()
		return
	}
	destroyed := d.dropPendingLocked(id)
	b.state = gpucore.MapStateDestroyed
	d.allocated -= b.size
	delete(d.buffers, id)
	d.mu.Unlock()

	for _, cb := range destroyed {
		cb(gpucore.MapStatusDestroyed)
	}
}

// MapState returns the mapping state of a buffer.
func (d *Device) MapState(id gpucore.BufferID) gpucore.MapState {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.buffers[id]
	if !ok {
		return gpucore.MapStateDestroyed
	}
	return b.state
}

// MapAsync requests a mapping that resolves once all work submitted so
// far has completed.
func (d *Device) MapAsync(id gpucore.BufferID, mode gpucore.MapMode, offset, size uint64, cb gpucore.MapCallback) error {
	if cb == nil {
		return errors.New("simgpu: map callback is nil")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	b, ok := d.buffers[id]
	if !ok {
		return fmt.Errorf("%w: buffer %d", gpucore.ErrUnknownResource, id)
	}
	switch b.state {
	case gpucore.MapStatePending:
		return fmt.Errorf("%w: buffer %q", gpucore.ErrMapAlreadyPending, b.label)
	case gpucore.MapStateMapped:
		return fmt.Errorf("%w: buffer %q", gpucore.ErrMapAlreadyMapped, b.label)
	}
	switch mode {
	case gpucore.MapModeRead:
		if !b.usage.Contains(gpucore.BufferUsageMapRead) {
			return fmt.Errorf("%w: buffer %q lacks MapRead", gpucore.ErrInvalidUsage, b.label)
		}
	case gpucore.MapModeWrite:
		if !b.usage.Contains(gpucore.BufferUsageMapWrite) {
			return fmt.Errorf("%w: buffer %q lacks MapWrite", gpucore.ErrInvalidUsage, b.label)
		}
	default:
		return fmt.Errorf("%w: mode %v", gpucore.ErrInvalidUsage, mode)
	}
	if size == 0 && offset <= b.size {
		size = b.size - offset
	}
	if offset%8 != 0 || size%4 != 0 || offset+size > b.size {
		return fmt.Errorf("%w: [%d, %d) of %d bytes", gpucore.ErrMapRange, offset, offset+size, b.size)
	}

	b.state = gpucore.MapStatePending
	d.pendingMaps = append(d.pendingMaps, &pendingMap{
		id:     id,
		gate:   d.submitted,
		offset: offset,
		size:   size,
		mode:   mode,
		cb:     cb,
	})
	d.signal()
	return nil
}

// MappedRange returns a view of mapped bytes.
func (d *Device) MappedRange(id gpucore.BufferID, offset, size uint64) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.buffers[id]
	if !ok {
		return nil, fmt.Errorf("%w: buffer %d", gpucore.ErrUnknownResource, id)
	}
	if b.state != gpucore.MapStateMapped {
		return nil, fmt.Errorf("%w: buffer %q is %v", gpucore.ErrNotMapped, b.label, b.state)
	}
	end := offset + size
	if offset%8 != 0 || size%4 != 0 || offset < b.mapStart || end > b.mapEnd {
		return nil, fmt.Errorf("%w: [%d, %d) outside mapped [%d, %d)",
			gpucore.ErrMapRange, offset, end, b.mapStart, b.mapEnd)
	}
	return b.data[offset:end:end], nil
}

// Poll executes submitted work and fires ready map callbacks. Without
// wait a single submission is executed per call.
func (d *Device) Poll(wait bool) bool {
	return d.progress(wait)
}

func (d *Device) progress(all bool) bool {
	d.mu.Lock()
	for len(d.queue) > 0 {
		s := d.queue[0]
		d.queue = d.queue[1:]
		d.executeLocked(s)
		d.completed = s.index
		if !all {
			break
		}
	}

	type firing struct {
		cb     gpucore.MapCallback
		status gpucore.MapStatus
	}
	var ready []firing
	kept := d.pendingMaps[:0]
	for _, pm := range d.pendingMaps {
		if pm.gate > d.completed || d.cfg.faults.NeverSignal {
			kept = append(kept, pm)
			continue
		}
		b := d.buffers[pm.id]
		status := gpucore.MapStatusSuccess
		if d.cfg.faults.FailMaps {
			status = gpucore.MapStatusError
			b.state = gpucore.MapStateUnmapped
		} else {
			b.state = gpucore.MapStateMapped
			b.mapMode = pm.mode
			b.mapStart, b.mapEnd = pm.offset, pm.offset+pm.size
		}
		ready = append(ready, firing{cb: pm.cb, status: status})
	}
	d.pendingMaps = kept
	idle := len(d.queue) == 0
	d.mu.Unlock()

	for _, f := range ready {
		f.cb(f.status)
	}
	return idle
}

// StartCapture opens a capture bracket.
func (d *Device) StartCapture() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.captureDepth++
	d.captures++
	probelog.Logger().Debug("simgpu: capture started", "depth", d.captureDepth)
}

// StopCapture closes the innermost capture bracket.
func (d *Device) StopCapture() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.captureDepth == 0 {
		return ErrCaptureNotStarted
	}
	d.captureDepth--
	probelog.Logger().Debug("simgpu: capture stopped", "depth", d.captureDepth)
	return nil
}

// Close releases the device. Pending maps resolve as device lost.
func (d *Device) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	lost := d.pendingMaps
	d.pendingMaps = nil
	d.mu.Unlock()

	if d.stop != nil {
		close(d.stop)
		<-d.done
	}
	for _, pm := range lost {
		pm.cb(gpucore.MapStatusDeviceLost)
	}
}

// CaptureDepth returns the number of open capture brackets.
func (d *Device) CaptureDepth() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.captureDepth
}

// Captures returns the number of capture brackets ever started.
func (d *Device) Captures() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.captures
}

// Dispatches returns the workgroup counts of every executed dispatch.
func (d *Device) Dispatches() [][3]uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([][3]uint32, len(d.dispatches))
	copy(out, d.dispatches)
	return out
}

// Invocations returns the number of kernel invocations executed.
func (d *Device) Invocations() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.invocations
}

// LiveResources returns the number of resources not yet destroyed,
// excluding submitted command buffers.
func (d *Device) LiveResources() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := len(d.buffers) + len(d.shaders) + len(d.layouts) +
		len(d.pipelineLayouts) + len(d.pipelines) + len(d.bindGroups)
	for _, cb := range d.commandBuffers {
		if !cb.submitted {
			n++
		}
	}
	return n
}

func alignUp4(n uint64) uint64 {
	return (n + 3) &^ 3
}

var _ gpucore.Device = (*Device)(nil)
