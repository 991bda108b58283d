package pipeline

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gogpu/gpuprobe/gpucore"
	"github.com/gogpu/naga"
	"github.com/gogpu/naga/ir"
)

// Reflection is what the builder learns from the WGSL before creating
// any device object.
type Reflection struct {
	EntryPoint string
	Workgroup  [3]uint32

	// Buffer is the global bound at @group(0) @binding(0).
	Buffer string
}

// WorkgroupSize returns the number of invocations in one workgroup along X.
func (r Reflection) WorkgroupSize() uint32 {
	return r.Workgroup[0]
}

// Reflect parses, lowers and validates source with naga and checks that it
// fits the probe's fixed layout: entryPoint is a compute stage whose
// workgroup fits limits, and binding 0 of group 0 is a read-write storage
// buffer. Every failure wraps gpucore.ErrShaderCompilation.
func Reflect(source, entryPoint string, limits gpucore.Limits) (Reflection, error) {
	if strings.TrimSpace(source) == "" {
		return Reflection{}, fmt.Errorf("%w: empty shader source", gpucore.ErrShaderCompilation)
	}
	ast, err := naga.Parse(source)
	if err != nil {
		return Reflection{}, fmt.Errorf("%w: %w", gpucore.ErrShaderCompilation, err)
	}
	mod, err := naga.LowerWithSource(ast, source)
	if err != nil {
		return Reflection{}, fmt.Errorf("%w: %w", gpucore.ErrShaderCompilation, err)
	}
	verrs, err := naga.Validate(mod)
	if err != nil {
		return Reflection{}, fmt.Errorf("%w: %w", gpucore.ErrShaderCompilation, err)
	}
	if len(verrs) > 0 {
		errs := make([]error, len(verrs))
		for i := range verrs {
			errs[i] = verrs[i]
		}
		return Reflection{}, fmt.Errorf("%w: %w", gpucore.ErrShaderCompilation, errors.Join(errs...))
	}

	ep, ok := findEntryPoint(mod, entryPoint)
	if !ok {
		return Reflection{}, fmt.Errorf("%w: entry point %q not found", gpucore.ErrShaderCompilation, entryPoint)
	}
	if ep.Stage != ir.StageCompute {
		return Reflection{}, fmt.Errorf("%w: entry point %q is not a compute stage", gpucore.ErrShaderCompilation, entryPoint)
	}

	wg := ep.Workgroup
	for i := range wg {
		if wg[i] == 0 {
			wg[i] = 1
		}
	}
	if wg[0] > limits.MaxComputeWorkgroupSizeX || wg[1] > limits.MaxComputeWorkgroupSizeY ||
		wg[2] > limits.MaxComputeWorkgroupSizeZ || wg[0]*wg[1]*wg[2] > limits.MaxComputeInvocationsPerWorkgroup {
		return Reflection{}, fmt.Errorf("%w: workgroup size %v exceeds device limits", gpucore.ErrShaderCompilation, wg)
	}

	gv, ok := findBinding(mod, 0, 0)
	if !ok {
		return Reflection{}, fmt.Errorf("%w: nothing bound at @group(0) @binding(0)", gpucore.ErrShaderCompilation)
	}
	if gv.Space != ir.SpaceStorage || gv.Access != ir.StorageReadWrite {
		return Reflection{}, fmt.Errorf("%w: %q at @group(0) @binding(0) is not a read_write storage buffer",
			gpucore.ErrShaderCompilation, gv.Name)
	}

	return Reflection{EntryPoint: ep.Name, Workgroup: wg, Buffer: gv.Name}, nil
}

func findEntryPoint(mod *ir.Module, name string) (ir.EntryPoint, bool) {
	for _, ep := range mod.EntryPoints {
		if ep.Name == name {
			return ep, true
		}
	}
	return ir.EntryPoint{}, false
}

func findBinding(mod *ir.Module, group, binding uint32) (ir.GlobalVariable, bool) {
	for _, gv := range mod.GlobalVariables {
		if gv.Binding != nil && gv.Binding.Group == group && gv.Binding.Binding == binding {
			return gv, true
		}
	}
	return ir.GlobalVariable{}, false
}
