// Package sim registers the in-process simulated device as the "sim"
// backend.
//
// The simulated device runs the embedded identity shader as a Go kernel,
// so a probe run completes without GPU hardware. It is the fallback
// backend and the one used for dry runs in CI.
//
//	import _ "github.com/gogpu/gpuprobe/backend/sim"
package sim

import (
	"context"

	"github.com/gogpu/gpuprobe/backend"
	"github.com/gogpu/gpuprobe/gpucore"
	"github.com/gogpu/gpuprobe/internal/simgpu"
	"github.com/gogpu/gputypes"
)

// EntryPoint is the compute entry point the simulator runs the identity
// kernel for.
const EntryPoint = "main"

func init() {
	backend.Register(backend.BackendSim, Open)
}

// Open returns a simulated device with the limits opts asks for. The
// simulated adapter always supports mappable primary buffers.
func Open(ctx context.Context, opts backend.Options) (gpucore.Device, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	label := opts.Label
	if label == "" {
		label = "gpuprobe simulated device"
	}
	return simgpu.New(
		simgpu.WithLimits(opts.Limits()),
		simgpu.WithFeatures(gpucore.FeatureMappablePrimaryBuffers),
		simgpu.WithKernel(EntryPoint, simgpu.Identity),
		simgpu.WithInfo(gpucore.AdapterInfo{
			Name:       label,
			Vendor:     "gogpu",
			DeviceType: gputypes.DeviceTypeCPU,
			Driver:     "simgpu",
			Backend:    gputypes.BackendEmpty,
		}),
	), nil
}
