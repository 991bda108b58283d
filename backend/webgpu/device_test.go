package webgpu_test

import (
	"context"
	"encoding/binary"
	"errors"
	"slices"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gogpu/gpuprobe"
	"github.com/gogpu/gpuprobe/backend"
	"github.com/gogpu/gpuprobe/backend/webgpu"
	"github.com/gogpu/gpuprobe/gpucore"
	_ "github.com/gogpu/wgpu/hal/software"
)

// openDevice opens the software adapter, skipping when no adapter or
// HAL integration is available.
func openDevice(t *testing.T) *webgpu.Device {
	t.Helper()
	dev, err := webgpu.Open(context.Background(), backend.Options{ForceFallback: true, Label: "test"})
	if errors.Is(err, gpucore.ErrAdapterUnavailable) || errors.Is(err, gpucore.ErrDeviceCreationFailed) {
		t.Skipf("skipping: no usable adapter: %v", err)
	}
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(dev.Close)
	return dev
}

func encode(values []uint32) []byte {
	b := make([]byte, len(values)*4)
	for i, v := range values {
		binary.NativeEndian.PutUint32(b[i*4:], v)
	}
	return b
}

// mapStatus records the status a map callback fired with.
type mapStatus struct {
	fired  atomic.Bool
	status atomic.Int32
}

func (m *mapStatus) callback(s gpucore.MapStatus) {
	m.status.Store(int32(s))
	m.fired.Store(true)
}

func (m *mapStatus) wait(t *testing.T, poll func()) gpucore.MapStatus {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !m.fired.Load() {
		if time.Now().After(deadline) {
			t.Fatal("map callback never fired")
		}
		poll()
		time.Sleep(time.Millisecond)
	}
	return gpucore.MapStatus(m.status.Load())
}

// copyAndMap uploads values, copies them into a staging buffer and maps
// it for reading on dev. poll drives completion.
func copyAndMap(t *testing.T, dev gpucore.Device, values []uint32, poll func()) []uint32 {
	t.Helper()
	size := uint64(len(values) * 4)

	src, err := dev.CreateBufferInit(&gpucore.BufferDesc{
		Label: "src",
		Usage: gpucore.BufferUsageStorage | gpucore.BufferUsageCopySrc,
	}, encode(values))
	if err != nil {
		t.Fatalf("CreateBufferInit() error = %v", err)
	}
	defer dev.DestroyBuffer(src)
	dst, err := dev.CreateBuffer(&gpucore.BufferDesc{
		Label: "dst",
		Size:  size,
		Usage: gpucore.BufferUsageCopyDst | gpucore.BufferUsageMapRead,
	})
	if err != nil {
		t.Fatalf("CreateBuffer() error = %v", err)
	}
	defer dev.DestroyBuffer(dst)

	enc, err := dev.CreateCommandEncoder("copy")
	if err != nil {
		t.Fatalf("CreateCommandEncoder() error = %v", err)
	}
	if err := enc.CopyBufferToBuffer(src, 0, dst, 0, size); err != nil {
		t.Fatalf("CopyBufferToBuffer() error = %v", err)
	}
	cmds, err := enc.Finish()
	if err != nil {
		t.Fatalf("Finish() error = %v", err)
	}
	if err := dev.Submit(cmds); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	var ms mapStatus
	if err := dev.MapAsync(dst, gpucore.MapModeRead, 0, size, ms.callback); err != nil {
		t.Fatalf("MapAsync() error = %v", err)
	}
	if st := ms.wait(t, poll); st != gpucore.MapStatusSuccess {
		t.Fatalf("map resolved with %v", st)
	}
	if got := dev.MapState(dst); got != gpucore.MapStateMapped {
		t.Fatalf("MapState() = %v, want Mapped", got)
	}
	view, err := dev.MappedRange(dst, 0, size)
	if err != nil {
		t.Fatalf("MappedRange() error = %v", err)
	}
	out := make([]uint32, len(values))
	for i := range out {
		out[i] = binary.NativeEndian.Uint32(view[i*4:])
	}
	if err := dev.Unmap(dst); err != nil {
		t.Errorf("Unmap() error = %v", err)
	}
	return out
}

func TestOpen(t *testing.T) {
	dev := openDevice(t)
	if dev.Info().Name == "" {
		t.Error("Info().Name is empty")
	}
	if dev.ExternalPolling() {
		t.Error("owned device reports external polling")
	}
	if !dev.Features().Contains(gpucore.FeatureMappablePrimaryBuffers) {
		t.Error("Features() lacks MappablePrimaryBuffers")
	}
	if dev.Limits().MaxBufferSize == 0 {
		t.Error("Limits().MaxBufferSize = 0")
	}
	if got := dev.AdapterInfo().Name; got != dev.Info().Name {
		t.Errorf("AdapterInfo().Name = %q, want %q", got, dev.Info().Name)
	}
}

func TestCopyRoundTrip(t *testing.T) {
	dev := openDevice(t)
	in := gpuprobe.Sequence(100, 64)
	out := copyAndMap(t, dev, in, func() { dev.Poll(true) })
	if !slices.Equal(in, out) {
		t.Errorf("read back %v, want %v", out, in)
	}
}

func TestUnmap_CancelsPendingMap(t *testing.T) {
	dev := openDevice(t)
	buf, err := dev.CreateBuffer(&gpucore.BufferDesc{
		Size:  16,
		Usage: gpucore.BufferUsageCopyDst | gpucore.BufferUsageMapRead,
	})
	if err != nil {
		t.Fatalf("CreateBuffer() error = %v", err)
	}
	defer dev.DestroyBuffer(buf)

	var ms mapStatus
	if err := dev.MapAsync(buf, gpucore.MapModeRead, 0, 16, ms.callback); err != nil {
		t.Fatalf("MapAsync() error = %v", err)
	}
	if err := dev.MapAsync(buf, gpucore.MapModeRead, 0, 16, ms.callback); !errors.Is(err, gpucore.ErrMapAlreadyPending) {
		t.Errorf("second MapAsync() error = %v, want ErrMapAlreadyPending", err)
	}
	if err := dev.Unmap(buf); err != nil {
		t.Fatalf("Unmap() error = %v", err)
	}
	if !ms.fired.Load() || gpucore.MapStatus(ms.status.Load()) != gpucore.MapStatusCanceled {
		t.Errorf("pending map resolved with %v, want Canceled", gpucore.MapStatus(ms.status.Load()))
	}
}

func TestMapAsync_Rejected(t *testing.T) {
	dev := openDevice(t)
	buf, err := dev.CreateBuffer(&gpucore.BufferDesc{Size: 16, Usage: gpucore.BufferUsageStorage})
	if err != nil {
		t.Fatalf("CreateBuffer() error = %v", err)
	}
	defer dev.DestroyBuffer(buf)

	var ms mapStatus
	if err := dev.MapAsync(buf, gpucore.MapModeRead, 0, 16, ms.callback); err == nil {
		t.Fatal("MapAsync() on a storage-only buffer succeeded")
	}
	dev.Poll(true)
	if ms.fired.Load() {
		t.Error("callback fired for a rejected map")
	}
	if err := dev.MapAsync(99, gpucore.MapModeRead, 0, 16, ms.callback); !errors.Is(err, gpucore.ErrUnknownResource) {
		t.Errorf("MapAsync(unknown) error = %v, want ErrUnknownResource", err)
	}
}

func TestCreateBuffer_TooLarge(t *testing.T) {
	dev := openDevice(t)
	_, err := dev.CreateBuffer(&gpucore.BufferDesc{
		Size:  dev.Limits().MaxBufferSize + 4,
		Usage: gpucore.BufferUsageStorage,
	})
	if !errors.Is(err, gpucore.ErrResourceExhausted) {
		t.Errorf("CreateBuffer() error = %v, want ErrResourceExhausted", err)
	}
}

func TestCapture(t *testing.T) {
	dev := openDevice(t)
	if err := dev.StopCapture(); !errors.Is(err, webgpu.ErrCaptureNotStarted) {
		t.Errorf("StopCapture() without start = %v, want ErrCaptureNotStarted", err)
	}
	dev.StartCapture()
	if err := dev.StopCapture(); err != nil {
		t.Errorf("StopCapture() = %v", err)
	}
}

func TestFromProvider(t *testing.T) {
	owner := openDevice(t)
	shared, err := webgpu.FromProvider(owner)
	if err != nil {
		t.Fatalf("FromProvider() error = %v", err)
	}
	defer shared.Close()

	if !shared.ExternalPolling() {
		t.Error("shared device does not report external polling")
	}
	if shared.Wgpu() != owner.Wgpu() {
		t.Error("shared device wraps a different wgpu device")
	}

	in := gpuprobe.Sequence(7, 32)
	out := copyAndMap(t, shared, in, func() { owner.Poll(false) })
	if !slices.Equal(in, out) {
		t.Errorf("read back %v, want %v", out, in)
	}
}

func TestFromProvider_Rejects(t *testing.T) {
	if _, err := webgpu.FromProvider(nil); !errors.Is(err, gpucore.ErrDeviceCreationFailed) {
		t.Errorf("FromProvider(nil) error = %v", err)
	}
}

func TestProbe(t *testing.T) {
	dev := openDevice(t)
	res, err := gpuprobe.Run(context.Background(), dev)
	if gpuprobe.KindOf(err) == gpuprobe.KindShaderCompilation {
		t.Skipf("skipping: adapter cannot build the identity shader: %v", err)
	}
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !slices.Equal(res.Values, gpuprobe.Sequence(100, 64)) {
		t.Errorf("Values = %v", res.Values)
	}
}
