// Package pipeline builds the probe's fixed compute pipeline: one bind
// group layout with a single read-write storage buffer at binding 0, a
// pipeline layout over it, and a compute pipeline for the shader's entry
// point.
//
// The WGSL is reflected with naga before any device object is created, so
// a shader that does not fit the layout fails with ErrShaderCompilation
// and a diagnostic instead of an opaque driver error.
package pipeline

import (
	"fmt"

	"github.com/gogpu/gpuprobe/gpucore"
	"github.com/gogpu/gpuprobe/internal/probelog"
)

// Debug labels.
const (
	ShaderLabel         = "identity.wgsl"
	LayoutLabel         = "Dbg bind group layout"
	PipelineLayoutLabel = "Dbg pipeline Layout"
	PipelineLabel       = "Dbg pipeline"
	BindGroupLabel      = "Dbg bind group"
)

// Pipeline owns the device objects of the compute pipeline.
//
// Release destroys them in reverse creation order. It is safe to call on
// a partially built Pipeline.
type Pipeline struct {
	dev gpucore.Device

	Reflection Reflection

	Module         gpucore.ShaderModuleID
	Layout         gpucore.BindGroupLayoutID
	PipelineLayout gpucore.PipelineLayoutID
	Pipeline       gpucore.ComputePipelineID
	BindGroup      gpucore.BindGroupID
}

// Build reflects source and creates the shader module, bind group layout,
// pipeline layout and compute pipeline. On failure everything created so
// far is released.
func Build(dev gpucore.Device, source, entryPoint string) (*Pipeline, error) {
	refl, err := Reflect(source, entryPoint, dev.Limits())
	if err != nil {
		return nil, err
	}
	p := &Pipeline{dev: dev, Reflection: refl}
	if err := p.build(source); err != nil {
		p.Release()
		return nil, err
	}
	probelog.Logger().Debug("pipeline: built",
		"entry", refl.EntryPoint, "workgroup", refl.Workgroup, "binding", refl.Buffer)
	return p, nil
}

func (p *Pipeline) build(source string) error {
	var err error
	p.Module, err = p.dev.CreateShaderModule(ShaderLabel, source)
	if err != nil {
		return fmt.Errorf("pipeline: shader module: %w", err)
	}

	p.Layout, err = p.dev.CreateBindGroupLayout(&gpucore.BindGroupLayoutDesc{
		Label:   LayoutLabel,
		Entries: []gpucore.BindGroupLayoutEntry{{Binding: 0}},
	})
	if err != nil {
		return fmt.Errorf("pipeline: bind group layout: %w", err)
	}

	p.PipelineLayout, err = p.dev.CreatePipelineLayout(&gpucore.PipelineLayoutDesc{
		Label:            PipelineLayoutLabel,
		BindGroupLayouts: []gpucore.BindGroupLayoutID{p.Layout},
	})
	if err != nil {
		return fmt.Errorf("pipeline: pipeline layout: %w", err)
	}

	p.Pipeline, err = p.dev.CreateComputePipeline(&gpucore.ComputePipelineDesc{
		Label:         PipelineLabel,
		Layout:        p.PipelineLayout,
		ShaderModule:  p.Module,
		EntryPoint:    p.Reflection.EntryPoint,
		WorkgroupSize: p.Reflection.Workgroup,
	})
	if err != nil {
		return fmt.Errorf("pipeline: compute pipeline: %w", err)
	}
	return nil
}

// Bind creates the bind group that places buf at binding 0. A previous
// bind group is released first.
func (p *Pipeline) Bind(buf gpucore.BufferID, size uint64) error {
	if p.BindGroup != gpucore.InvalidID {
		p.dev.DestroyBindGroup(p.BindGroup)
		p.BindGroup = gpucore.InvalidID
	}
	bg, err := p.dev.CreateBindGroup(&gpucore.BindGroupDesc{
		Label:   BindGroupLabel,
		Layout:  p.Layout,
		Entries: []gpucore.BindGroupEntry{{Binding: 0, Buffer: buf, Size: size}},
	})
	if err != nil {
		return fmt.Errorf("pipeline: bind group: %w", err)
	}
	p.BindGroup = bg
	return nil
}

// Release destroys the pipeline objects in reverse creation order.
func (p *Pipeline) Release() {
	if p == nil || p.dev == nil {
		return
	}
	if p.BindGroup != gpucore.InvalidID {
		p.dev.DestroyBindGroup(p.BindGroup)
		p.BindGroup = gpucore.InvalidID
	}
	if p.Pipeline != gpucore.InvalidID {
		p.dev.DestroyComputePipeline(p.Pipeline)
		p.Pipeline = gpucore.InvalidID
	}
	if p.PipelineLayout != gpucore.InvalidID {
		p.dev.DestroyPipelineLayout(p.PipelineLayout)
		p.PipelineLayout = gpucore.InvalidID
	}
	if p.Layout != gpucore.InvalidID {
		p.dev.DestroyBindGroupLayout(p.Layout)
		p.Layout = gpucore.InvalidID
	}
	if p.Module != gpucore.InvalidID {
		p.dev.DestroyShaderModule(p.Module)
		p.Module = gpucore.InvalidID
	}
}
