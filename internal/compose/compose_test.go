package compose

import (
	"errors"
	"fmt"
	"reflect"
	"testing"

	"github.com/gogpu/gpuprobe/gpucore"
	"github.com/gogpu/gpuprobe/internal/simgpu"
)

func TestDispatchCount(t *testing.T) {
	tests := []struct {
		n, wg uint32
		want  uint32
	}{
		{64, 8, 8},
		{65, 8, 9},
		{1, 8, 1},
		{0, 8, 0},
		{7, 8, 1},
		{8, 1, 8},
		{256, 256, 1},
		{^uint32(0), 256, 1 << 24},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d/%d", tt.n, tt.wg), func(t *testing.T) {
			got, err := DispatchCount(tt.n, tt.wg)
			if err != nil {
				t.Fatalf("DispatchCount() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("DispatchCount(%d, %d) = %d, want %d", tt.n, tt.wg, got, tt.want)
			}
		})
	}

	if _, err := DispatchCount(8, 0); !errors.Is(err, ErrZeroWorkgroup) {
		t.Errorf("DispatchCount(8, 0) error = %v, want ErrZeroWorkgroup", err)
	}
}

// tracingDevice records the order of encoder calls.
type tracingDevice struct {
	*simgpu.Device
	calls *[]string
}

func (d tracingDevice) CreateCommandEncoder(label string) (gpucore.CommandEncoder, error) {
	enc, err := d.Device.CreateCommandEncoder(label)
	if err != nil {
		return nil, err
	}
	return tracingEncoder{CommandEncoder: enc, calls: d.calls}, nil
}

type tracingEncoder struct {
	gpucore.CommandEncoder
	calls *[]string
}

func (e tracingEncoder) BeginComputePass(label string) (gpucore.ComputePassEncoder, error) {
	*e.calls = append(*e.calls, "begin")
	p, err := e.CommandEncoder.BeginComputePass(label)
	if err != nil {
		return nil, err
	}
	return tracingPass{ComputePassEncoder: p, calls: e.calls}, nil
}

func (e tracingEncoder) CopyBufferToBuffer(src gpucore.BufferID, so uint64, dst gpucore.BufferID, do uint64, size uint64) error {
	*e.calls = append(*e.calls, "copy")
	return e.CommandEncoder.CopyBufferToBuffer(src, so, dst, do, size)
}

func (e tracingEncoder) Finish() (gpucore.CommandBufferID, error) {
	*e.calls = append(*e.calls, "finish")
	return e.CommandEncoder.Finish()
}

func (e tracingEncoder) Discard() {
	*e.calls = append(*e.calls, "discard")
	e.CommandEncoder.Discard()
}

type tracingPass struct {
	gpucore.ComputePassEncoder
	calls *[]string
}

func (p tracingPass) SetPipeline(id gpucore.ComputePipelineID) error {
	*p.calls = append(*p.calls, "pipeline")
	return p.ComputePassEncoder.SetPipeline(id)
}

func (p tracingPass) SetBindGroup(i uint32, g gpucore.BindGroupID) error {
	*p.calls = append(*p.calls, "bindgroup")
	return p.ComputePassEncoder.SetBindGroup(i, g)
}

func (p tracingPass) Dispatch(x, y, z uint32) error {
	*p.calls = append(*p.calls, fmt.Sprintf("dispatch(%d,%d,%d)", x, y, z))
	return p.ComputePassEncoder.Dispatch(x, y, z)
}

func (p tracingPass) End() error {
	*p.calls = append(*p.calls, "end")
	return p.ComputePassEncoder.End()
}

// setup creates a working buffer, staging buffer and an identity pipeline
// directly on the simulated device.
func setup(t *testing.T, d *simgpu.Device, elements uint32, wg uint32) Job {
	t.Helper()
	size := uint64(elements) * 4
	mod, err := d.CreateShaderModule("m", "wgsl")
	if err != nil {
		t.Fatal(err)
	}
	bgl, _ := d.CreateBindGroupLayout(&gpucore.BindGroupLayoutDesc{Entries: []gpucore.BindGroupLayoutEntry{{Binding: 0}}})
	pl, _ := d.CreatePipelineLayout(&gpucore.PipelineLayoutDesc{BindGroupLayouts: []gpucore.BindGroupLayoutID{bgl}})
	pipe, err := d.CreateComputePipeline(&gpucore.ComputePipelineDesc{
		Layout: pl, ShaderModule: mod, EntryPoint: "main", WorkgroupSize: [3]uint32{wg, 1, 1},
	})
	if err != nil {
		t.Fatalf("CreateComputePipeline: %v", err)
	}
	working, err := d.CreateBuffer(&gpucore.BufferDesc{Size: size, Usage: gpucore.BufferUsageStorage | gpucore.BufferUsageCopySrc})
	if err != nil {
		t.Fatal(err)
	}
	staging, err := d.CreateBuffer(&gpucore.BufferDesc{Size: size, Usage: gpucore.BufferUsageMapRead | gpucore.BufferUsageCopyDst})
	if err != nil {
		t.Fatal(err)
	}
	bg, err := d.CreateBindGroup(&gpucore.BindGroupDesc{Layout: bgl, Entries: []gpucore.BindGroupEntry{{Binding: 0, Buffer: working}}})
	if err != nil {
		t.Fatal(err)
	}
	return Job{
		Pipeline: pipe, BindGroup: bg,
		Working: working, Staging: staging, Size: size,
		Elements: elements, WorkgroupSize: wg,
	}
}

func TestRecord_Order(t *testing.T) {
	d := simgpu.New(simgpu.WithKernel("main", simgpu.Identity))
	defer d.Close()
	job := setup(t, d, 65, 8)

	var calls []string
	rec, err := Record(tracingDevice{Device: d, calls: &calls}, job)
	if err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	want := []string{"begin", "pipeline", "bindgroup", "dispatch(9,1,1)", "end", "copy", "finish"}
	if !reflect.DeepEqual(calls, want) {
		t.Errorf("calls = %v, want %v", calls, want)
	}
	if rec.Dispatch != [3]uint32{9, 1, 1} {
		t.Errorf("Dispatch = %v, want [9 1 1]", rec.Dispatch)
	}
}

func TestRecord_Executes(t *testing.T) {
	d := simgpu.New(simgpu.WithKernel("main", simgpu.Add(1)))
	defer d.Close()
	job := setup(t, d, 64, 8)

	rec, err := Record(d, job)
	if err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if err := d.Submit(rec.Commands); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	d.Poll(true)

	if got := d.Dispatches(); !reflect.DeepEqual(got, [][3]uint32{{8, 1, 1}}) {
		t.Errorf("Dispatches() = %v, want [[8 1 1]]", got)
	}
	if got := d.Invocations(); got != 64 {
		t.Errorf("Invocations() = %d, want 64", got)
	}
}

func TestRecord_DiscardsOnPassError(t *testing.T) {
	d := simgpu.New(simgpu.WithKernel("main", simgpu.Identity))
	defer d.Close()
	job := setup(t, d, 16, 8)
	job.BindGroup = 999

	var calls []string
	_, err := Record(tracingDevice{Device: d, calls: &calls}, job)
	if !errors.Is(err, gpucore.ErrUnknownResource) {
		t.Fatalf("Record() error = %v, want ErrUnknownResource", err)
	}
	want := []string{"begin", "pipeline", "bindgroup", "end", "discard"}
	if !reflect.DeepEqual(calls, want) {
		t.Errorf("calls = %v, want %v", calls, want)
	}
}

func TestRecord_DiscardsOnCopyError(t *testing.T) {
	d := simgpu.New(simgpu.WithKernel("main", simgpu.Identity))
	defer d.Close()
	job := setup(t, d, 16, 8)
	job.Size = 1024

	before := d.LiveResources()
	_, err := Record(d, job)
	if !errors.Is(err, gpucore.ErrCopyRange) {
		t.Fatalf("Record() error = %v, want ErrCopyRange", err)
	}
	if n := d.LiveResources(); n != before {
		t.Errorf("LiveResources() = %d, want %d", n, before)
	}
}

func TestRecord_WorkgroupLimit(t *testing.T) {
	lim := simgpu.New().Limits()
	lim.MaxComputeWorkgroupsPerDimension = 4
	d := simgpu.New(simgpu.WithLimits(lim), simgpu.WithKernel("main", simgpu.Identity))
	defer d.Close()
	job := setup(t, d, 64, 8)

	_, err := Record(d, job)
	if !errors.Is(err, gpucore.ErrResourceExhausted) {
		t.Errorf("Record() error = %v, want ErrResourceExhausted", err)
	}
}

func TestInPass_EndsOnError(t *testing.T) {
	d := simgpu.New()
	defer d.Close()
	enc, _ := d.CreateCommandEncoder("enc")
	defer enc.Discard()

	boom := errors.New("boom")
	if err := InPass(enc, "pass", func(gpucore.ComputePassEncoder) error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("InPass() error = %v, want boom", err)
	}
	// The pass is closed, so a second one may begin.
	if err := InPass(enc, "again", func(gpucore.ComputePassEncoder) error { return nil }); err != nil {
		t.Errorf("second InPass() error = %v", err)
	}
}
