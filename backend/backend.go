package backend

import (
	"context"
	"errors"

	"github.com/gogpu/gpuprobe/gpucore"
	"github.com/gogpu/gputypes"
)

// Backend names.
const (
	// BackendWGPU opens real hardware through gogpu/wgpu.
	BackendWGPU = "wgpu"

	// BackendSim opens the in-process simulated device.
	BackendSim = "sim"
)

// Common backend errors.
var (
	// ErrBackendNotAvailable is returned when a requested backend is not available.
	ErrBackendNotAvailable = errors.New("backend: not available")
)

// Options describes the device a probe run needs.
type Options struct {
	// Label is the debug label of the device.
	Label string

	// RequireMappable requests mappable primary buffers, needed by the
	// map-at-creation provisioning strategy.
	RequireMappable bool

	// Downlevel requests the downlevel default limits instead of the
	// WebGPU defaults, so the probe also runs on older hardware.
	Downlevel bool

	// ForceFallback forces a software adapter.
	ForceFallback bool

	// PowerPreference selects between low power and high performance
	// adapters.
	PowerPreference gputypes.PowerPreference
}

// Limits returns the limits implied by o.
func (o Options) Limits() gpucore.Limits {
	if o.Downlevel {
		return gputypes.DownlevelLimits()
	}
	return gputypes.DefaultLimits()
}

// Features returns the features implied by o.
func (o Options) Features() gpucore.Features {
	if o.RequireMappable {
		return gpucore.FeatureMappablePrimaryBuffers
	}
	return 0
}

// Opener opens a device. Openers are registered via Register and are
// typically called through Open or Default.
//
// An Opener reports gpucore.ErrAdapterUnavailable when no adapter matches
// and gpucore.ErrDeviceCreationFailed when feature or limit negotiation
// fails.
type Opener func(ctx context.Context, opts Options) (gpucore.Device, error)
