// Package backend provides a pluggable device registry for probe runs.
//
// The backend package lets gpuprobe run on more than one device
// implementation. Each implementation registers an Opener from an init()
// function and is selected at runtime.
//
// # Backend Registration
//
// Backends are registered on import:
//
//	import (
//		_ "github.com/gogpu/gpuprobe/backend/sim"
//		_ "github.com/gogpu/gpuprobe/backend/webgpu"
//	)
//
// # Backend Selection
//
// Use Default to open the best available device, or Open to request a
// specific backend by name:
//
//	// Real hardware if any adapter opens, the simulator otherwise
//	dev, err := backend.Default(ctx, backend.Options{})
//
//	// Or request a specific backend
//	dev, err := backend.Open(ctx, backend.BackendSim, backend.Options{})
//
// # Available Backends
//
//   - "wgpu": real GPUs through gogpu/wgpu (Vulkan, Metal, DX12, GLES)
//   - "sim": in-process simulated device (always available when imported)
package backend
