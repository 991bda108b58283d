package gpuprobe

import _ "embed"

// IdentityShader reads every element of the storage buffer at
// @group(0) @binding(0) and writes it back unchanged. Entry point "main",
// @workgroup_size(8). Invocations past arrayLength are skipped.
//
//go:embed shaders/identity.wgsl
var IdentityShader string
