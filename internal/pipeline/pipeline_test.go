package pipeline

import (
	"errors"
	"strings"
	"testing"

	"github.com/gogpu/gpuprobe/gpucore"
	"github.com/gogpu/gpuprobe/internal/simgpu"
	"github.com/gogpu/gputypes"
)

const identityWGSL = `
@group(0) @binding(0)
var<storage, read_write> data: array<u32>;

@compute @workgroup_size(8, 1, 1)
fn main(@builtin(global_invocation_id) id: vec3<u32>) {
    let i = id.x;
    if i >= arrayLength(&data) {
        return;
    }
    data[i] = data[i];
}
`

const readOnlyWGSL = `
@group(0) @binding(0)
var<storage, read> data: array<u32>;

@group(0) @binding(1)
var<storage, read_write> out: array<u32>;

@compute @workgroup_size(8, 1, 1)
fn main(@builtin(global_invocation_id) id: vec3<u32>) {
    if id.x < arrayLength(&out) {
        out[id.x] = data[id.x];
    }
}
`

const noBindingWGSL = `
@group(0) @binding(1)
var<storage, read_write> other: array<u32>;

@compute @workgroup_size(8, 1, 1)
fn main(@builtin(global_invocation_id) id: vec3<u32>) {
    if id.x < arrayLength(&other) {
        other[id.x] = other[id.x];
    }
}
`

const wideWGSL = `
@group(0) @binding(0)
var<storage, read_write> data: array<u32>;

@compute @workgroup_size(512, 1, 1)
fn main(@builtin(global_invocation_id) id: vec3<u32>) {
    if id.x < arrayLength(&data) {
        data[id.x] = data[id.x];
    }
}
`

const fragmentWGSL = `
@fragment
fn main() -> @location(0) vec4<f32> {
    return vec4<f32>(1.0, 0.0, 0.0, 1.0);
}
`

// skipIfUnsupported skips when naga reports a feature it does not
// implement yet, so the tests track the compiler version in go.mod.
func skipIfUnsupported(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		return
	}
	msg := err.Error()
	if strings.Contains(msg, "not yet implemented") || strings.Contains(msg, "not supported") {
		t.Skipf("Skipping: naga feature not yet implemented: %v", err)
	}
}

func TestReflect_Identity(t *testing.T) {
	refl, err := Reflect(identityWGSL, "main", gputypes.DefaultLimits())
	skipIfUnsupported(t, err)
	if err != nil {
		t.Fatalf("Reflect() error = %v", err)
	}
	if refl.EntryPoint != "main" {
		t.Errorf("EntryPoint = %q, want main", refl.EntryPoint)
	}
	if refl.Workgroup != [3]uint32{8, 1, 1} || refl.WorkgroupSize() != 8 {
		t.Errorf("Workgroup = %v, want [8 1 1]", refl.Workgroup)
	}
	if refl.Buffer != "data" {
		t.Errorf("Buffer = %q, want data", refl.Buffer)
	}
}

func TestReflect_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		source string
		entry  string
		want   string
	}{
		{"empty source", "  ", "main", "empty shader source"},
		{"syntax error", "fn main( {", "main", ""},
		{"missing entry point", identityWGSL, "cs_main", "not found"},
		{"fragment stage", fragmentWGSL, "main", "not a compute stage"},
		{"workgroup over limit", wideWGSL, "main", "exceeds device limits"},
		{"no binding", noBindingWGSL, "main", "nothing bound"},
		{"read-only binding", readOnlyWGSL, "main", "not a read_write storage buffer"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Reflect(tt.source, tt.entry, gputypes.DefaultLimits())
			if err == nil {
				t.Fatal("Reflect() succeeded, want error")
			}
			if tt.want != "" {
				skipIfUnsupported(t, err)
			}
			if !errors.Is(err, gpucore.ErrShaderCompilation) {
				t.Errorf("Reflect() error = %v, want ErrShaderCompilation", err)
			}
			if tt.want != "" && !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Reflect() error = %q, want it to mention %q", err, tt.want)
			}
		})
	}
}

func TestBuild(t *testing.T) {
	d := simgpu.New(simgpu.WithKernel("main", simgpu.Identity))
	defer d.Close()

	p, err := Build(d, identityWGSL, "main")
	skipIfUnsupported(t, err)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if p.Module == gpucore.InvalidID || p.Layout == gpucore.InvalidID ||
		p.PipelineLayout == gpucore.InvalidID || p.Pipeline == gpucore.InvalidID {
		t.Fatalf("Build() left objects unset: %+v", p)
	}

	buf, err := d.CreateBuffer(&gpucore.BufferDesc{Size: 64, Usage: gpucore.BufferUsageStorage})
	if err != nil {
		t.Fatalf("CreateBuffer: %v", err)
	}
	if err := p.Bind(buf, 64); err != nil {
		t.Fatalf("Bind() error = %v", err)
	}
	first := p.BindGroup
	if err := p.Bind(buf, 64); err != nil {
		t.Fatalf("second Bind() error = %v", err)
	}
	if p.BindGroup == first {
		t.Error("second Bind() reused the previous bind group")
	}

	p.Release()
	d.DestroyBuffer(buf)
	if n := d.LiveResources(); n != 0 {
		t.Errorf("LiveResources() = %d after Release, want 0", n)
	}
	p.Release()
}

func TestBuild_ReleasesOnFailure(t *testing.T) {
	// No kernel registered: the device rejects the entry point after the
	// module and layouts exist.
	d := simgpu.New()
	defer d.Close()

	_, err := Build(d, identityWGSL, "main")
	skipIfUnsupported(t, err)
	if !errors.Is(err, gpucore.ErrShaderCompilation) {
		t.Fatalf("Build() error = %v, want ErrShaderCompilation", err)
	}
	if n := d.LiveResources(); n != 0 {
		t.Errorf("LiveResources() = %d, want 0", n)
	}
}

func TestBind_RejectsNonStorage(t *testing.T) {
	d := simgpu.New(simgpu.WithKernel("main", simgpu.Identity))
	defer d.Close()
	p, err := Build(d, identityWGSL, "main")
	skipIfUnsupported(t, err)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	defer p.Release()

	staging, _ := d.CreateBuffer(&gpucore.BufferDesc{
		Size:  16,
		Usage: gpucore.BufferUsageMapRead | gpucore.BufferUsageCopyDst,
	})
	if err := p.Bind(staging, 16); !errors.Is(err, gpucore.ErrInvalidUsage) {
		t.Errorf("Bind() error = %v, want ErrInvalidUsage", err)
	}
}

func TestRelease_Nil(t *testing.T) {
	var p *Pipeline
	p.Release()
}
