package gpucore

import (
	"errors"
	"fmt"
	"testing"
)

func TestMapState_String(t *testing.T) {
	tests := []struct {
		state MapState
		want  string
	}{
		{MapStateUnmapped, "Unmapped"},
		{MapStatePending, "Pending"},
		{MapStateMapped, "Mapped"},
		{MapStateDestroyed, "Destroyed"},
		{MapState(9), "Unknown(9)"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("MapState(%d).String() = %q, want %q", int(tt.state), got, tt.want)
		}
	}
}

func TestMapStatus_String(t *testing.T) {
	tests := []struct {
		status MapStatus
		want   string
	}{
		{MapStatusSuccess, "Success"},
		{MapStatusError, "Error"},
		{MapStatusDeviceLost, "DeviceLost"},
		{MapStatusCanceled, "Canceled"},
		{MapStatusDestroyed, "Destroyed"},
		{MapStatus(-1), "Unknown(-1)"},
	}
	for _, tt := range tests {
		if got := tt.status.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}

func TestMapMode_String(t *testing.T) {
	if got := MapModeRead.String(); got != "Read" {
		t.Errorf("MapModeRead.String() = %q", got)
	}
	if got := MapModeWrite.String(); got != "Write" {
		t.Errorf("MapModeWrite.String() = %q", got)
	}
	if got := MapMode(7).String(); got != "Unknown(7)" {
		t.Errorf("MapMode(7).String() = %q", got)
	}
}

func TestFeatures(t *testing.T) {
	var none Features
	if none.Contains(FeatureMappablePrimaryBuffers) {
		t.Error("empty feature set contains MappablePrimaryBuffers")
	}
	if !FeatureMappablePrimaryBuffers.Contains(FeatureMappablePrimaryBuffers) {
		t.Error("feature set does not contain itself")
	}
	if got := none.String(); got != "None" {
		t.Errorf("String() = %q, want None", got)
	}
	if got := FeatureMappablePrimaryBuffers.String(); got != "MappablePrimaryBuffers" {
		t.Errorf("String() = %q, want MappablePrimaryBuffers", got)
	}
}

func TestBufferUsageAliases(t *testing.T) {
	staging := BufferUsageMapRead | BufferUsageCopyDst
	if !staging.Contains(BufferUsageCopyDst) {
		t.Error("staging usage lacks CopyDst")
	}
	if staging.Contains(BufferUsageStorage) {
		t.Error("staging usage unexpectedly has Storage")
	}
}

func TestClassErrors_Wrap(t *testing.T) {
	classes := []error{
		ErrAdapterUnavailable,
		ErrDeviceCreationFailed,
		ErrResourceExhausted,
		ErrShaderCompilation,
		ErrMappingFailed,
		ErrCompletionNeverSignaled,
	}
	for i, class := range classes {
		wrapped := fmt.Errorf("%w: detail", class)
		if !errors.Is(wrapped, class) {
			t.Errorf("wrapped %v does not match its class", class)
		}
		for j, other := range classes {
			if i != j && errors.Is(wrapped, other) {
				t.Errorf("%v matches unrelated class %v", class, other)
			}
		}
	}
}
