package webgpu

import (
	"fmt"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gpuprobe/gpucore"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu"
)

// FromProvider wraps the wgpu device of an application that already owns
// one, such as a gogpu app or another Device.
//
// The returned Device does not own the wgpu device: Close releases only
// the resources created through it. The provider must keep polling its
// device; map completions are observed from watcher goroutines.
func FromProvider(p gpucontext.DeviceProvider) (*Device, error) {
	if p == nil {
		return nil, fmt.Errorf("%w: nil provider", gpucore.ErrDeviceCreationFailed)
	}
	dev, ok := p.Device().(*wgpu.Device)
	if !ok || dev == nil {
		return nil, fmt.Errorf("%w: provider device is %T, not *wgpu.Device",
			gpucore.ErrDeviceCreationFailed, p.Device())
	}
	if dev.Queue() == nil {
		return nil, fmt.Errorf("%w: %w", gpucore.ErrDeviceCreationFailed, ErrNoQueue)
	}

	var info gpucore.AdapterInfo
	if a, ok := p.Adapter().(*wgpu.Adapter); ok && a != nil {
		info = a.Info()
	} else {
		pi := p.AdapterInfo()
		info = gpucore.AdapterInfo{Name: pi.Name, DeviceType: deviceType(pi.Type)}
	}

	d := newDevice(dev, info)
	if a, ok := p.Adapter().(*wgpu.Adapter); ok {
		d.adapter = a
	}
	d.external = true
	return d, nil
}

// Device returns the wgpu device. Together with Queue, Adapter,
// SurfaceFormat and AdapterInfo it lets a Device be handed to other
// gogpu components as a gpucontext.DeviceProvider.
func (d *Device) Device() gpucontext.Device { return d.device }

// Queue returns the wgpu queue.
func (d *Device) Queue() gpucontext.Queue { return d.queue }

// Adapter returns the wgpu adapter, or nil when it is not known.
func (d *Device) Adapter() gpucontext.Adapter {
	if d.adapter == nil {
		return nil
	}
	return d.adapter
}

// SurfaceFormat returns TextureFormatUndefined: probe devices are headless.
func (d *Device) SurfaceFormat() gputypes.TextureFormat {
	return gputypes.TextureFormatUndefined
}

// AdapterInfo returns the adapter name and type.
func (d *Device) AdapterInfo() gpucontext.AdapterInfo {
	return gpucontext.AdapterInfo{Name: d.info.Name, Type: adapterType(d.info.DeviceType)}
}

func adapterType(t gputypes.DeviceType) gpucontext.AdapterType {
	switch t {
	case gputypes.DeviceTypeDiscreteGPU:
		return gpucontext.AdapterTypeDiscrete
	case gputypes.DeviceTypeIntegratedGPU:
		return gpucontext.AdapterTypeIntegrated
	case gputypes.DeviceTypeCPU:
		return gpucontext.AdapterTypeSoftware
	default:
		return gpucontext.AdapterTypeUnknown
	}
}

func deviceType(t gpucontext.AdapterType) gputypes.DeviceType {
	switch t {
	case gpucontext.AdapterTypeDiscrete:
		return gputypes.DeviceTypeDiscreteGPU
	case gpucontext.AdapterTypeIntegrated:
		return gputypes.DeviceTypeIntegratedGPU
	case gpucontext.AdapterTypeSoftware:
		return gputypes.DeviceTypeCPU
	default:
		return gputypes.DeviceTypeOther
	}
}

var _ gpucontext.DeviceProvider = (*Device)(nil)
