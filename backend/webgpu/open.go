package webgpu

import (
	"context"
	"fmt"

	"github.com/gogpu/gpuprobe/backend"
	"github.com/gogpu/gpuprobe/gpucore"
	"github.com/gogpu/gpuprobe/internal/probelog"
	"github.com/gogpu/wgpu"
)

// DeviceLabel is the default debug label of devices opened by Open.
const DeviceLabel = "gpuprobe device"

func init() {
	backend.Register(backend.BackendWGPU, func(ctx context.Context, opts backend.Options) (gpucore.Device, error) {
		return Open(ctx, opts)
	})
}

// Open creates an instance, requests an adapter matching opts and opens a
// device on it with the limits opts asks for.
//
// Failures are classified: no adapter is gpucore.ErrAdapterUnavailable, a
// device that cannot be created (or has no queue) is
// gpucore.ErrDeviceCreationFailed.
func Open(ctx context.Context, opts backend.Options) (*Device, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	inst, adapter, err := requestAdapter(opts)
	if err != nil {
		return nil, err
	}

	label := opts.Label
	if label == "" {
		label = DeviceLabel
	}
	dev, err := adapter.RequestDevice(&wgpu.DeviceDescriptor{
		Label:          label,
		RequiredLimits: opts.Limits(),
	})
	if err != nil {
		adapter.Release()
		inst.Release()
		return nil, fmt.Errorf("%w: %w", gpucore.ErrDeviceCreationFailed, err)
	}
	if dev.Queue() == nil {
		dev.Release()
		adapter.Release()
		inst.Release()
		return nil, fmt.Errorf("%w: %w", gpucore.ErrDeviceCreationFailed, ErrNoQueue)
	}

	d := newDevice(dev, adapter.Info())
	d.instance = inst
	d.adapter = adapter
	d.owned = true

	info := d.info
	probelog.Logger().Info("webgpu: device opened",
		"adapter", info.Name, "vendor", info.Vendor, "device_type", info.DeviceType,
		"backend", info.Backend, "driver", info.Driver, "downlevel", opts.Downlevel)
	return d, nil
}

// Adapter reports the adapter Open would pick for opts without opening a
// device on it.
func Adapter(ctx context.Context, opts backend.Options) (gpucore.AdapterInfo, error) {
	if err := ctx.Err(); err != nil {
		return gpucore.AdapterInfo{}, err
	}
	inst, adapter, err := requestAdapter(opts)
	if err != nil {
		return gpucore.AdapterInfo{}, err
	}
	info := adapter.Info()
	adapter.Release()
	inst.Release()
	return info, nil
}

func requestAdapter(opts backend.Options) (*wgpu.Instance, *wgpu.Adapter, error) {
	inst, err := wgpu.CreateInstance(nil)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", gpucore.ErrAdapterUnavailable, err)
	}
	adapter, err := inst.RequestAdapter(&wgpu.RequestAdapterOptions{
		PowerPreference:      opts.PowerPreference,
		ForceFallbackAdapter: opts.ForceFallback,
	})
	if err != nil {
		inst.Release()
		return nil, nil, fmt.Errorf("%w: %w", gpucore.ErrAdapterUnavailable, err)
	}
	if adapter == nil {
		inst.Release()
		return nil, nil, fmt.Errorf("%w: %w", gpucore.ErrAdapterUnavailable, wgpu.ErrNoAdapters)
	}
	return inst, adapter, nil
}
