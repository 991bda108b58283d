package gpucore

import (
	"fmt"

	"github.com/gogpu/gputypes"
)

// Resource IDs
//
// These opaque IDs represent GPU resources. Each device implementation
// maintains a mapping between IDs and actual backend resources.
// IDs are uint64 to accommodate various backend handle sizes.

// BufferID is an opaque handle to a GPU buffer.
type BufferID uint64

// ShaderModuleID is an opaque handle to a compiled shader module.
type ShaderModuleID uint64

// ComputePipelineID is an opaque handle to a compute pipeline.
type ComputePipelineID uint64

// BindGroupLayoutID is an opaque handle to a bind group layout.
type BindGroupLayoutID uint64

// BindGroupID is an opaque handle to a bind group.
type BindGroupID uint64

// PipelineLayoutID is an opaque handle to a pipeline layout.
type PipelineLayoutID uint64

// CommandBufferID is an opaque handle to a finished (sealed) command sequence.
type CommandBufferID uint64

// InvalidID is the zero value, representing an invalid/null resource.
const InvalidID = 0

// BufferUsage is a bitmask specifying how a buffer will be used.
type BufferUsage = gputypes.BufferUsage

// Buffer usage flags.
const (
	BufferUsageMapRead  = gputypes.BufferUsageMapRead
	BufferUsageMapWrite = gputypes.BufferUsageMapWrite
	BufferUsageCopySrc  = gputypes.BufferUsageCopySrc
	BufferUsageCopyDst  = gputypes.BufferUsageCopyDst
	BufferUsageStorage  = gputypes.BufferUsageStorage
)

// Limits are the resource limits reported by a device.
type Limits = gputypes.Limits

// AdapterInfo describes the physical adapter behind a device.
type AdapterInfo = gputypes.AdapterInfo

// Features is a bitmask of optional device capabilities that matter to
// the probe. Backends translate their native feature sets into it.
type Features uint32

const (
	// FeatureMappablePrimaryBuffers allows buffers with storage usage to be
	// host-mappable (MapWrite together with Storage, or MappedAtCreation on
	// such a buffer).
	FeatureMappablePrimaryBuffers Features = 1 << iota
)

// Contains reports whether all bits of other are set in f.
func (f Features) Contains(other Features) bool {
	return f&other == other
}

// String returns the string representation of Features.
func (f Features) String() string {
	if f == 0 {
		return "None"
	}
	if f == FeatureMappablePrimaryBuffers {
		return "MappablePrimaryBuffers"
	}
	return fmt.Sprintf("Features(%#x)", uint32(f))
}

// MapMode selects the access requested by a buffer mapping.
type MapMode uint32

const (
	// MapModeRead requests a read-only mapping.
	MapModeRead MapMode = 1
	// MapModeWrite requests a write-only mapping.
	MapModeWrite MapMode = 2
)

// String returns the string representation of MapMode.
func (m MapMode) String() string {
	switch m {
	case MapModeRead:
		return "Read"
	case MapModeWrite:
		return "Write"
	default:
		return fmt.Sprintf("Unknown(%d)", uint32(m))
	}
}

// MapState represents the mapping state of a buffer.
type MapState int

const (
	// MapStateUnmapped means the buffer is not mapped.
	MapStateUnmapped MapState = iota
	// MapStatePending means a map operation is pending.
	MapStatePending
	// MapStateMapped means the buffer is mapped and host-accessible.
	MapStateMapped
	// MapStateDestroyed means the buffer has been destroyed.
	MapStateDestroyed
)

// String returns the string representation of MapState.
func (s MapState) String() string {
	switch s {
	case MapStateUnmapped:
		return "Unmapped"
	case MapStatePending:
		return "Pending"
	case MapStateMapped:
		return "Mapped"
	case MapStateDestroyed:
		return "Destroyed"
	default:
		return fmt.Sprintf("Unknown(%d)", int(s))
	}
}

// MapStatus represents the result of an async map operation.
type MapStatus int

const (
	// MapStatusSuccess indicates mapping completed successfully.
	MapStatusSuccess MapStatus = iota
	// MapStatusError indicates the device rejected or failed the mapping.
	MapStatusError
	// MapStatusDeviceLost indicates the device was lost.
	MapStatusDeviceLost
	// MapStatusCanceled indicates the buffer was unmapped before the callback.
	MapStatusCanceled
	// MapStatusDestroyed indicates the buffer was destroyed before the callback.
	MapStatusDestroyed
)

// String returns the string representation of MapStatus.
func (s MapStatus) String() string {
	switch s {
	case MapStatusSuccess:
		return "Success"
	case MapStatusError:
		return "Error"
	case MapStatusDeviceLost:
		return "DeviceLost"
	case MapStatusCanceled:
		return "Canceled"
	case MapStatusDestroyed:
		return "Destroyed"
	default:
		return fmt.Sprintf("Unknown(%d)", int(s))
	}
}

// MapCallback receives the outcome of MapAsync. It is invoked exactly once,
// never while the device holds internal locks.
type MapCallback func(MapStatus)

// BufferDesc describes a buffer to create.
type BufferDesc struct {
	// Label is an optional debug name.
	Label string

	// Size is the buffer size in bytes.
	Size uint64

	// Usage specifies how the buffer will be used.
	Usage BufferUsage

	// MappedAtCreation creates the buffer pre-mapped for writing.
	MappedAtCreation bool
}

// BindGroupLayoutDesc describes a bind group layout.
type BindGroupLayoutDesc struct {
	// Label is an optional debug name.
	Label string

	// Entries describes each binding in the layout.
	Entries []BindGroupLayoutEntry
}

// BindGroupLayoutEntry describes a single storage buffer binding.
// Only compute-visible buffer bindings are needed by the probe.
type BindGroupLayoutEntry struct {
	// Binding is the binding number in the shader.
	Binding uint32

	// ReadOnly selects read-only-storage instead of read-write storage.
	ReadOnly bool

	// MinBindingSize is the minimum buffer size (0 = no minimum).
	MinBindingSize uint64
}

// BindGroupDesc describes a bind group.
type BindGroupDesc struct {
	// Label is an optional debug name.
	Label string

	// Layout is the bind group layout the entries must satisfy.
	Layout BindGroupLayoutID

	// Entries binds buffers to the layout slots.
	Entries []BindGroupEntry
}

// BindGroupEntry binds a buffer range to a binding slot.
type BindGroupEntry struct {
	// Binding is the binding number.
	Binding uint32

	// Buffer is the bound buffer.
	Buffer BufferID

	// Offset is the byte offset into the buffer.
	Offset uint64

	// Size is the binding size in bytes (0 = rest of buffer).
	Size uint64
}

// PipelineLayoutDesc describes a pipeline layout.
type PipelineLayoutDesc struct {
	// Label is an optional debug name.
	Label string

	// BindGroupLayouts lists the layouts in group order.
	BindGroupLayouts []BindGroupLayoutID
}

// ComputePipelineDesc describes a compute pipeline.
type ComputePipelineDesc struct {
	// Label is an optional debug name.
	Label string

	// Layout is the pipeline layout.
	Layout PipelineLayoutID

	// ShaderModule is the compute shader.
	ShaderModule ShaderModuleID

	// EntryPoint is the shader function name.
	EntryPoint string

	// WorkgroupSize is the reflected @workgroup_size of the entry point.
	// Devices that compile the shader themselves may ignore it.
	WorkgroupSize [3]uint32
}
