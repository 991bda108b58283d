package webgpu

import (
	"errors"
	"fmt"
	"testing"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gpuprobe/gpucore"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu"
	"github.com/gogpu/wgpu/core"
)

func TestCreateErr(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		fallback error
		want     error
	}{
		{"out of memory", fmt.Errorf("hal: %w", wgpu.ErrOutOfMemory), nil, gpucore.ErrResourceExhausted},
		{"max buffer size", &core.CreateBufferError{Kind: core.CreateBufferErrorMaxBufferSize}, nil, gpucore.ErrResourceExhausted},
		{"zero size", &core.CreateBufferError{Kind: core.CreateBufferErrorZeroSize}, nil, gpucore.ErrInvalidBufferSize},
		{"exclusive map usage", &core.CreateBufferError{Kind: core.CreateBufferErrorMapReadWriteExclusive}, nil, gpucore.ErrInvalidUsage},
		{"shader fallback", errors.New("parse error"), gpucore.ErrShaderCompilation, gpucore.ErrShaderCompilation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := createErr(tt.err, tt.fallback)
			if !errors.Is(got, tt.want) {
				t.Errorf("createErr() = %v, want %v", got, tt.want)
			}
			if !errors.Is(got, tt.err) {
				t.Errorf("createErr() = %v dropped the cause", got)
			}
		})
	}
	if createErr(nil, gpucore.ErrShaderCompilation) != nil {
		t.Error("createErr(nil) != nil")
	}
}

func TestMapErr(t *testing.T) {
	tests := []struct {
		err  error
		want error
	}{
		{wgpu.ErrMapAlreadyPending, gpucore.ErrMapAlreadyPending},
		{wgpu.ErrMapAlreadyMapped, gpucore.ErrMapAlreadyMapped},
		{wgpu.ErrMapNotMapped, gpucore.ErrNotMapped},
		{wgpu.ErrMapAlignment, gpucore.ErrMapRange},
		{wgpu.ErrMapRangeOverflow, gpucore.ErrMapRange},
		{wgpu.ErrMapInvalidMode, gpucore.ErrInvalidUsage},
	}
	for _, tt := range tests {
		if got := mapErr(tt.err); !errors.Is(got, tt.want) || !errors.Is(got, tt.err) {
			t.Errorf("mapErr(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
	other := errors.New("other")
	if got := mapErr(other); got != other {
		t.Errorf("mapErr(other) = %v", got)
	}
}

func TestStatusOf(t *testing.T) {
	tests := []struct {
		err  error
		want gpucore.MapStatus
	}{
		{nil, gpucore.MapStatusSuccess},
		{wgpu.ErrMapCanceled, gpucore.MapStatusCanceled},
		{wgpu.ErrBufferDestroyed, gpucore.MapStatusDestroyed},
		{wgpu.ErrMapDeviceLost, gpucore.MapStatusDeviceLost},
		{errors.New("hal"), gpucore.MapStatusError},
	}
	for _, tt := range tests {
		if got := statusOf(tt.err); got != tt.want {
			t.Errorf("statusOf(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestAdapterType(t *testing.T) {
	for _, typ := range []gpucontext.AdapterType{
		gpucontext.AdapterTypeDiscrete,
		gpucontext.AdapterTypeIntegrated,
		gpucontext.AdapterTypeSoftware,
		gpucontext.AdapterTypeUnknown,
	} {
		if got := adapterType(deviceType(typ)); got != typ {
			t.Errorf("adapterType(deviceType(%v)) = %v", typ, got)
		}
	}
	if got := adapterType(gputypes.DeviceTypeVirtualGPU); got != gpucontext.AdapterTypeUnknown {
		t.Errorf("adapterType(virtual) = %v, want unknown", got)
	}
}
