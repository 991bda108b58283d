package gpucore

// Device abstracts over the GPU implementations the probe can run on.
//
// This interface is the core abstraction that lets the round-trip stages
// work with gogpu/wgpu devices and with the in-process simulated device
// used by tests and dry runs.
//
// Resource lifecycle:
//   - Resources are created via Create* methods
//   - Resources must be explicitly destroyed via Destroy* methods
//   - Destroying a resource while in use is undefined behavior
//   - IDs become invalid after destruction and must not be reused
//
// A Device is owned by one workload at a time. Methods are safe to call
// from the goroutine that invokes MapCallback.
type Device interface {
	// === Capabilities ===

	// Info returns metadata about the adapter behind this device.
	Info() AdapterInfo

	// Limits returns the limits the device was created with.
	Limits() Limits

	// Features returns the optional features enabled on the device.
	Features() Features

	// ExternalPolling reports whether something outside the probe drives
	// device progress. When true, callers must not call Poll themselves.
	ExternalPolling() bool

	// === Buffer Management ===

	// CreateBuffer creates a GPU buffer. With MappedAtCreation the buffer
	// starts in MapStateMapped and accepts WriteMapped until Unmap.
	CreateBuffer(desc *BufferDesc) (BufferID, error)

	// CreateBufferInit creates a buffer and fills it with contents in one
	// step. desc.Size is ignored; the size is len(contents) rounded up to 4.
	CreateBufferInit(desc *BufferDesc, contents []byte) (BufferID, error)

	// WriteMapped copies data into a buffer that is mapped for writing.
	WriteMapped(id BufferID, offset uint64, data []byte) error

	// Unmap returns a mapped buffer to the unmapped state. Calling it on a
	// buffer with a pending map cancels the map.
	Unmap(id BufferID) error

	// DestroyBuffer releases a GPU buffer.
	DestroyBuffer(id BufferID)

	// MapState returns the current mapping state of a buffer.
	MapState(id BufferID) MapState

	// === Mapping ===

	// MapAsync requests a host mapping of [offset, offset+size). It returns
	// immediately; callback fires once the mapping resolves. Validation
	// failures are returned synchronously and the callback never fires.
	MapAsync(id BufferID, mode MapMode, offset, size uint64, callback MapCallback) error

	// MappedRange returns a view of a mapped region. The slice is only
	// valid until Unmap.
	MappedRange(id BufferID, offset, size uint64) ([]byte, error)

	// Poll drives the device forward and dispatches ready map callbacks.
	// With wait set it blocks until all submitted work completes.
	// Returns true when no submitted work remains in flight.
	Poll(wait bool) bool

	// === Shader and Pipeline Management ===

	// CreateShaderModule creates a shader module from WGSL source.
	CreateShaderModule(label, wgsl string) (ShaderModuleID, error)

	// DestroyShaderModule releases a shader module.
	DestroyShaderModule(id ShaderModuleID)

	// CreateBindGroupLayout creates a bind group layout.
	CreateBindGroupLayout(desc *BindGroupLayoutDesc) (BindGroupLayoutID, error)

	// DestroyBindGroupLayout releases a bind group layout.
	DestroyBindGroupLayout(id BindGroupLayoutID)

	// CreatePipelineLayout creates a pipeline layout.
	CreatePipelineLayout(desc *PipelineLayoutDesc) (PipelineLayoutID, error)

	// DestroyPipelineLayout releases a pipeline layout.
	DestroyPipelineLayout(id PipelineLayoutID)

	// CreateComputePipeline creates a compute pipeline.
	CreateComputePipeline(desc *ComputePipelineDesc) (ComputePipelineID, error)

	// DestroyComputePipeline releases a compute pipeline.
	DestroyComputePipeline(id ComputePipelineID)

	// CreateBindGroup creates a bind group.
	CreateBindGroup(desc *BindGroupDesc) (BindGroupID, error)

	// DestroyBindGroup releases a bind group.
	DestroyBindGroup(id BindGroupID)

	// === Command Recording and Execution ===

	// CreateCommandEncoder begins recording a command sequence.
	CreateCommandEncoder(label string) (CommandEncoder, error)

	// Submit queues finished command buffers for execution in order.
	// It does not wait for completion. Submitted buffers are consumed.
	Submit(buffers ...CommandBufferID) error

	// DestroyCommandBuffer releases a finished command buffer that was
	// never submitted.
	DestroyCommandBuffer(id CommandBufferID)

	// === Debugging ===

	// StartCapture begins a debugger capture bracket.
	StartCapture()

	// StopCapture ends the innermost capture bracket and reports any
	// validation error the device recorded while it was open.
	StopCapture() error

	// Close releases the device and everything it owns.
	Close()
}

// CommandEncoder records commands into a command sequence.
//
// State machine:
//
//	Recording -> BeginComputePass -> PassOpen -> End -> Recording
//	Recording -> Finish -> Finished
//
// The encoder is single-use and cannot be reused after Finish or Discard.
type CommandEncoder interface {
	// BeginComputePass begins a compute pass. The encoder accepts no other
	// commands until the returned pass is ended.
	BeginComputePass(label string) (ComputePassEncoder, error)

	// CopyBufferToBuffer records a buffer-to-buffer copy.
	CopyBufferToBuffer(src BufferID, srcOffset uint64, dst BufferID, dstOffset uint64, size uint64) error

	// Finish seals the recorded commands into a command buffer.
	Finish() (CommandBufferID, error)

	// Discard abandons recording and releases the encoder.
	Discard()
}

// ComputePassEncoder records compute commands.
//
// Usage:
//  1. Obtain encoder from CommandEncoder.BeginComputePass()
//  2. Set pipeline and bind groups
//  3. Dispatch compute workgroups
//  4. Call End() to finish recording
//
// The encoder is single-use and cannot be reused after End().
type ComputePassEncoder interface {
	// SetPipeline sets the active compute pipeline.
	SetPipeline(pipeline ComputePipelineID) error

	// SetBindGroup sets a bind group at the specified index.
	SetBindGroup(index uint32, group BindGroupID) error

	// Dispatch dispatches compute workgroups.
	// x, y, z are the number of workgroups in each dimension.
	Dispatch(x, y, z uint32) error

	// End finishes the compute pass.
	End() error
}
