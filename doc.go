// Package gpuprobe runs a GPU compute round trip end to end and reports
// what came back.
//
// # Overview
//
// A probe run uploads a known sequence of u32 values, dispatches a compute
// shader over it in place, copies the buffer into a host-readable staging
// buffer and waits for the GPU before decoding the result. With the
// embedded identity shader the output equals the input, so any difference
// points at the device, the driver or the synchronization between them.
// It is typically run under a graphics debugger to inspect buffer contents.
//
// # Quick Start
//
//	import (
//	    "github.com/gogpu/gpuprobe"
//	    "github.com/gogpu/gpuprobe/backend"
//	    _ "github.com/gogpu/gpuprobe/backend/webgpu"
//	    _ "github.com/gogpu/wgpu/hal/allbackends"
//	)
//
//	dev, err := backend.Default(ctx, backend.Options{})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer dev.Close()
//
//	res, err := gpuprobe.Run(ctx, dev)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(res.Values) // [100 101 ... 163]
//
// # Round Trip
//
// The stages run strictly in order, once:
//
//	provision -> pipeline -> compose -> submit -> map -> wait -> decode
//
// Provisioning has two strategies. UploadHelper creates and fills the
// working buffer in one call. MapAtCreation creates it mapped, writes
// through the mapping and unmaps it; memory-capturing debuggers see that
// write, and the device must support mappable storage buffers.
//
// The dispatch covers the buffer with ceil(ElementCount/WorkgroupSize)
// workgroups; the shader skips indices past the end.
//
// # Errors
//
// Every failure is a *StageError. Its Kind places it in the taxonomy
// (AdapterUnavailable, DeviceCreationFailed, DeviceResourceExhausted,
// ShaderCompilationFailed, MappingFailed, CompletionNeverSignaled) and
// errors.Is matches the corresponding Err* sentinel. Nothing is retried.
//
// # Devices
//
// Run takes any gpucore.Device. backend/webgpu drives real hardware through
// gogpu/wgpu; backend/sim registers the in-process simulated device used by
// tests and dry runs.
package gpuprobe

// Version is the current version of gpuprobe.
const Version = "0.1.0"
