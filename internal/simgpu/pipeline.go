package simgpu

import (
	"fmt"

	"github.com/gogpu/gpuprobe/gpucore"
)

type shaderModule struct {
	label  string
	source string
}

type bindGroupLayout struct {
	label   string
	entries []gpucore.BindGroupLayoutEntry
}

type pipelineLayout struct {
	label  string
	groups []gpucore.BindGroupLayoutID
}

type computePipeline struct {
	label      string
	layout     gpucore.PipelineLayoutID
	entryPoint string
	workgroup  [3]uint32
	kernel     Kernel
}

type bindGroup struct {
	label   string
	layout  gpucore.BindGroupLayoutID
	entries []gpucore.BindGroupEntry
}

// CreateShaderModule stores WGSL source. The simulator never compiles it;
// pipelines run the kernel registered for their entry point instead.
func (d *Device) CreateShaderModule(label, wgsl string) (gpucore.ShaderModuleID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return gpucore.InvalidID, ErrClosed
	}
	if d.cfg.faults.FailShaderModules {
		return gpucore.InvalidID, fmt.Errorf("%w: module %q rejected", gpucore.ErrShaderCompilation, label)
	}
	if wgsl == "" {
		return gpucore.InvalidID, fmt.Errorf("%w: module %q has no source", gpucore.ErrShaderCompilation, label)
	}
	id := gpucore.ShaderModuleID(d.newID())
	d.shaders[id] = &shaderModule{label: label, source: wgsl}
	return id, nil
}

// DestroyShaderModule releases a shader module.
func (d *Device) DestroyShaderModule(id gpucore.ShaderModuleID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.shaders, id)
}

// CreateBindGroupLayout creates a bind group layout.
func (d *Device) CreateBindGroupLayout(desc *gpucore.BindGroupLayoutDesc) (gpucore.BindGroupLayoutID, error) {
	if desc == nil {
		return gpucore.InvalidID, fmt.Errorf("%w: nil bind group layout descriptor", gpucore.ErrUnknownResource)
	}
	seen := make(map[uint32]bool, len(desc.Entries))
	for _, e := range desc.Entries {
		if seen[e.Binding] {
			return gpucore.InvalidID, fmt.Errorf("simgpu: layout %q declares binding %d twice", desc.Label, e.Binding)
		}
		seen[e.Binding] = true
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return gpucore.InvalidID, ErrClosed
	}
	id := gpucore.BindGroupLayoutID(d.newID())
	entries := make([]gpucore.BindGroupLayoutEntry, len(desc.Entries))
	copy(entries, desc.Entries)
	d.layouts[id] = &bindGroupLayout{label: desc.Label, entries: entries}
	return id, nil
}

// DestroyBindGroupLayout releases a bind group layout.
func (d *Device) DestroyBindGroupLayout(id gpucore.BindGroupLayoutID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.layouts, id)
}

// CreatePipelineLayout creates a pipeline layout.
func (d *Device) CreatePipelineLayout(desc *gpucore.PipelineLayoutDesc) (gpucore.PipelineLayoutID, error) {
	if desc == nil {
		return gpucore.InvalidID, fmt.Errorf("%w: nil pipeline layout descriptor", gpucore.ErrUnknownResource)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return gpucore.InvalidID, ErrClosed
	}
	if n := uint32(len(desc.BindGroupLayouts)); n > d.cfg.limits.MaxBindGroups {
		return gpucore.InvalidID, fmt.Errorf("simgpu: pipeline layout %q has %d groups, limit %d",
			desc.Label, n, d.cfg.limits.MaxBindGroups)
	}
	for _, l := range desc.BindGroupLayouts {
		if _, ok := d.layouts[l]; !ok {
			return gpucore.InvalidID, fmt.Errorf("%w: bind group layout %d", gpucore.ErrUnknownResource, l)
		}
	}
	id := gpucore.PipelineLayoutID(d.newID())
	groups := make([]gpucore.BindGroupLayoutID, len(desc.BindGroupLayouts))
	copy(groups, desc.BindGroupLayouts)
	d.pipelineLayouts[id] = &pipelineLayout{label: desc.Label, groups: groups}
	return id, nil
}

// DestroyPipelineLayout releases a pipeline layout.
func (d *Device) DestroyPipelineLayout(id gpucore.PipelineLayoutID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.pipelineLayouts, id)
}

// CreateComputePipeline binds the kernel registered for desc.EntryPoint.
func (d *Device) CreateComputePipeline(desc *gpucore.ComputePipelineDesc) (gpucore.ComputePipelineID, error) {
	if desc == nil {
		return gpucore.InvalidID, fmt.Errorf("%w: nil compute pipeline descriptor", gpucore.ErrUnknownResource)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return gpucore.InvalidID, ErrClosed
	}
	if _, ok := d.pipelineLayouts[desc.Layout]; !ok {
		return gpucore.InvalidID, fmt.Errorf("%w: pipeline layout %d", gpucore.ErrUnknownResource, desc.Layout)
	}
	if _, ok := d.shaders[desc.ShaderModule]; !ok {
		return gpucore.InvalidID, fmt.Errorf("%w: shader module %d", gpucore.ErrUnknownResource, desc.ShaderModule)
	}
	k, ok := d.cfg.kernels[desc.EntryPoint]
	if !ok {
		return gpucore.InvalidID, fmt.Errorf("%w: entry point %q not found", gpucore.ErrShaderCompilation, desc.EntryPoint)
	}

	wg := desc.WorkgroupSize
	for i := range wg {
		if wg[i] == 0 {
			wg[i] = 1
		}
	}
	lim := d.cfg.limits
	if wg[0] > lim.MaxComputeWorkgroupSizeX || wg[1] > lim.MaxComputeWorkgroupSizeY ||
		wg[2] > lim.MaxComputeWorkgroupSizeZ || wg[0]*wg[1]*wg[2] > lim.MaxComputeInvocationsPerWorkgroup {
		return gpucore.InvalidID, fmt.Errorf("%w: workgroup size %v exceeds device limits",
			gpucore.ErrShaderCompilation, wg)
	}

	id := gpucore.ComputePipelineID(d.newID())
	d.pipelines[id] = &computePipeline{
		label:      desc.Label,
		layout:     desc.Layout,
		entryPoint: desc.EntryPoint,
		workgroup:  wg,
		kernel:     k,
	}
	return id, nil
}

// DestroyComputePipeline releases a compute pipeline.
func (d *Device) DestroyComputePipeline(id gpucore.ComputePipelineID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.pipelines, id)
}

// CreateBindGroup validates entries against the layout and buffer usages.
func (d *Device) CreateBindGroup(desc *gpucore.BindGroupDesc) (gpucore.BindGroupID, error) {
	if desc == nil {
		return gpucore.InvalidID, fmt.Errorf("%w: nil bind group descriptor", gpucore.ErrUnknownResource)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return gpucore.InvalidID, ErrClosed
	}
	layout, ok := d.layouts[desc.Layout]
	if !ok {
		return gpucore.InvalidID, fmt.Errorf("%w: bind group layout %d", gpucore.ErrUnknownResource, desc.Layout)
	}
	if len(desc.Entries) != len(layout.entries) {
		return gpucore.InvalidID, fmt.Errorf("simgpu: bind group %q has %d entries, layout %q expects %d",
			desc.Label, len(desc.Entries), layout.label, len(layout.entries))
	}
	for _, le := range layout.entries {
		e, found := findEntry(desc.Entries, le.Binding)
		if !found {
			return gpucore.InvalidID, fmt.Errorf("simgpu: bind group %q is missing binding %d", desc.Label, le.Binding)
		}
		b, ok := d.buffers[e.Buffer]
		if !ok {
			return gpucore.InvalidID, fmt.Errorf("%w: buffer %d", gpucore.ErrUnknownResource, e.Buffer)
		}
		if !b.usage.Contains(gpucore.BufferUsageStorage) {
			return gpucore.InvalidID, fmt.Errorf("%w: buffer %q bound at %d lacks Storage",
				gpucore.ErrInvalidUsage, b.label, e.Binding)
		}
		size := e.Size
		if size == 0 && e.Offset <= b.size {
			size = b.size - e.Offset
		}
		if e.Offset+size > b.size || size == 0 {
			return gpucore.InvalidID, fmt.Errorf("simgpu: binding %d range [%d, %d) outside buffer %q of %d bytes",
				e.Binding, e.Offset, e.Offset+size, b.label, b.size)
		}
		if size < le.MinBindingSize {
			return gpucore.InvalidID, fmt.Errorf("simgpu: binding %d size %d below minimum %d",
				e.Binding, size, le.MinBindingSize)
		}
	}
	id := gpucore.BindGroupID(d.newID())
	entries := make([]gpucore.BindGroupEntry, len(desc.Entries))
	copy(entries, desc.Entries)
	d.bindGroups[id] = &bindGroup{label: desc.Label, layout: desc.Layout, entries: entries}
	return id, nil
}

// DestroyBindGroup releases a bind group.
func (d *Device) DestroyBindGroup(id gpucore.BindGroupID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.bindGroups, id)
}

func findEntry(entries []gpucore.BindGroupEntry, binding uint32) (gpucore.BindGroupEntry, bool) {
	for _, e := range entries {
		if e.Binding == binding {
			return e, true
		}
	}
	return gpucore.BindGroupEntry{}, false
}
