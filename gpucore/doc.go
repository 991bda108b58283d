// Package gpucore provides the GPU abstraction shared by the gpuprobe stages.
//
// This package defines the [Device] interface, which abstracts over the
// GPU implementations the probe can drive:
//   - gogpu/wgpu (Pure Go WebGPU via HAL), see backend/wgpu
//   - an in-process simulated device, see backend/sim
//
// # Architecture
//
// The round-trip stages (provision, pipeline, compose, readback) are written
// once against [Device], while thin backends translate between the interface
// and a concrete GPU API.
//
//	               +-----------------+
//	               |    gpuprobe     |
//	               |  (round trip)   |
//	               +--------+--------+
//	                        |
//	               +--------v--------+
//	               |     gpucore     |
//	               |    (Device)     |
//	               +--------+--------+
//	                        |
//	         +--------------+--------------+
//	         |                             |
//	+--------v--------+          +--------v--------+
//	|  wgpu backend   |          |   sim backend   |
//	|  (wgpu.Device)  |          | (Go kernels)    |
//	+-----------------+          +-----------------+
//
// # Resource Management
//
// GPU resources are managed via opaque IDs ([BufferID], [ComputePipelineID],
// etc.). Devices are responsible for tracking the mapping between IDs and
// actual GPU resources.
//
// # Mapping
//
// Host access to buffer memory follows the WebGPU model. [Device.MapAsync]
// registers a callback and returns immediately; the callback fires from
// [Device.Poll] (or from the host's own event loop when
// [Device.ExternalPolling] is true) once all prior GPU work touching the
// buffer has completed. Only then does [Device.MappedRange] succeed.
//
// # Errors
//
// Failures are classified by sentinel errors such as [ErrResourceExhausted]
// and [ErrMappingFailed]. Devices wrap them with context; match with
// errors.Is.
package gpucore
