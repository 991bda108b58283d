// Package webgpu runs probe rounds on real GPUs through gogpu/wgpu.
//
// The package registers itself as the "wgpu" backend when imported:
//
//	import (
//	    _ "github.com/gogpu/gpuprobe/backend/webgpu"
//	    _ "github.com/gogpu/wgpu/hal/allbackends" // Vulkan, Metal, DX12, GLES, software
//	)
//
// # Devices
//
// Open creates its own instance, adapter and device. The device polls
// itself: the completion synchronizer calls Poll until a map resolves.
//
// FromProvider wraps a device owned by a host application (any
// gpucontext.DeviceProvider exposing a *wgpu.Device). The host keeps
// polling; ExternalPolling reports true and map completions are observed
// from watcher goroutines. Device itself implements
// gpucontext.DeviceProvider, so an opened device can be shared the same way.
//
// # Uploads
//
// CreateBufferInit uploads through Queue.WriteBuffer, which stages the
// data and copies it on the next submission. Mapped-at-creation uploads go
// through CreateBuffer, WriteMapped and Unmap instead, so the two
// provisioning strategies exercise different driver paths.
//
// # Capture
//
// StartCapture and StopCapture bracket the run with a validation error
// scope. Validation errors raised inside the bracket are returned by
// StopCapture.
//
// # Errors
//
// Creation failures are classified into the gpucore taxonomy: no adapter is
// ErrAdapterUnavailable, device negotiation is ErrDeviceCreationFailed,
// out-of-memory and buffer size limits are ErrResourceExhausted, shader and
// pipeline failures are ErrShaderCompilation. The wgpu error stays in the
// chain for errors.Is.
package webgpu
