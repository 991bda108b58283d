package simgpu

import "encoding/binary"

// Kernel is the Go stand-in for a compute entry point. It runs once per
// invocation with the global invocation id. bindings[i] is the byte range
// bound at @group(0) @binding(i), or nil for an unused slot.
//
// Kernels must bounds-check their own indices: a dispatch rounded up to
// whole workgroups invokes ids past the end of the data.
type Kernel func(globalID [3]uint32, bindings [][]byte)

// Identity leaves binding 0 unchanged while touching every in-range
// element, the same way the identity WGSL shader reads and writes back.
func Identity(id [3]uint32, bindings [][]byte) {
	if len(bindings) == 0 {
		return
	}
	data := bindings[0]
	i := int(id[0])
	if i >= len(data)/4 {
		return
	}
	v := binary.NativeEndian.Uint32(data[i*4:])
	binary.NativeEndian.PutUint32(data[i*4:], v)
}

// Add returns a kernel that adds delta to every u32 element of binding 0.
func Add(delta uint32) Kernel {
	return func(id [3]uint32, bindings [][]byte) {
		if len(bindings) == 0 {
			return
		}
		data := bindings[0]
		i := int(id[0])
		if i >= len(data)/4 {
			return
		}
		v := binary.NativeEndian.Uint32(data[i*4:])
		binary.NativeEndian.PutUint32(data[i*4:], v+delta)
	}
}
