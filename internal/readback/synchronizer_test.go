package readback

import (
	"context"
	"encoding/binary"
	"errors"
	"reflect"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gogpu/gpuprobe/gpucore"
	"github.com/gogpu/gpuprobe/internal/simgpu"
)

// countingDevice counts Poll calls.
type countingDevice struct {
	*simgpu.Device
	polls *atomic.Int64
}

func (d countingDevice) Poll(wait bool) bool {
	d.polls.Add(1)
	return d.Device.Poll(wait)
}

func encode(vals []uint32) []byte {
	b := make([]byte, 4*len(vals))
	for i, v := range vals {
		binary.NativeEndian.PutUint32(b[i*4:], v)
	}
	return b
}

// stage creates a working buffer holding vals, a staging buffer and a
// finished command buffer copying one into the other.
func stage(t *testing.T, d *simgpu.Device, vals []uint32) (gpucore.BufferID, gpucore.CommandBufferID, uint64) {
	t.Helper()
	size := uint64(len(vals)) * 4
	working, err := d.CreateBufferInit(&gpucore.BufferDesc{
		Usage: gpucore.BufferUsageStorage | gpucore.BufferUsageCopySrc,
	}, encode(vals))
	if err != nil {
		t.Fatalf("CreateBufferInit: %v", err)
	}
	staging, err := d.CreateBuffer(&gpucore.BufferDesc{
		Label: "Dbg download buffer",
		Size:  size,
		Usage: gpucore.BufferUsageMapRead | gpucore.BufferUsageCopyDst,
	})
	if err != nil {
		t.Fatalf("CreateBuffer: %v", err)
	}
	enc, err := d.CreateCommandEncoder("enc")
	if err != nil {
		t.Fatalf("CreateCommandEncoder: %v", err)
	}
	if err := enc.CopyBufferToBuffer(working, 0, staging, 0, size); err != nil {
		t.Fatalf("CopyBufferToBuffer: %v", err)
	}
	cmd, err := enc.Finish()
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	return staging, cmd, size
}

func TestSynchronizer_RoundTrip(t *testing.T) {
	d := simgpu.New()
	defer d.Close()
	vals := []uint32{100, 101, 102, 103, 104, 105, 106, 107}
	staging, cmd, size := stage(t, d, vals)

	s := NewSynchronizer(d)
	if got := s.State(); got != StateIdle {
		t.Fatalf("initial State() = %v, want Idle", got)
	}
	if err := s.Submit(cmd); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if got := s.State(); got != StateSubmitted {
		t.Fatalf("State() = %v, want Submitted", got)
	}

	req, err := s.RequestMap(staging, 0, size)
	if err != nil {
		t.Fatalf("RequestMap() error = %v", err)
	}
	if got := s.State(); got != StateMapRequested {
		t.Fatalf("State() = %v, want MapRequested", got)
	}
	if got := req.Signal().Kind(); got != SignalPending {
		t.Errorf("Signal() = %v before polling, want Pending", got)
	}

	m, err := req.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if got := s.State(); got != StateMapped {
		t.Fatalf("State() = %v, want Mapped", got)
	}
	if got := req.Signal().Kind(); got != SignalReady {
		t.Errorf("Signal() = %v after Wait, want Ready", got)
	}
	if m.Len() != int(size) {
		t.Errorf("Len() = %d, want %d", m.Len(), size)
	}

	got, err := m.Decode()
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if !reflect.DeepEqual(got, vals) {
		t.Errorf("Decode() = %v, want %v", got, vals)
	}
	if st := s.State(); st != StateIdle {
		t.Errorf("State() after Decode = %v, want Idle", st)
	}
	if ms := d.MapState(staging); ms != gpucore.MapStateUnmapped {
		t.Errorf("MapState() after Decode = %v, want Unmapped", ms)
	}
	if s.Outstanding(staging) {
		t.Error("request still outstanding after Decode")
	}

	if _, err := m.Decode(); !errors.Is(err, ErrReleased) {
		t.Errorf("second Decode() error = %v, want ErrReleased", err)
	}
	if _, err := req.Wait(context.Background()); !errors.Is(err, ErrConsumed) {
		t.Errorf("second Wait() error = %v, want ErrConsumed", err)
	}
}

func TestSynchronizer_SecondRequestRejected(t *testing.T) {
	d := simgpu.New()
	defer d.Close()
	staging, cmd, size := stage(t, d, []uint32{1, 2})

	s := NewSynchronizer(d)
	if err := s.Submit(cmd); err != nil {
		t.Fatal(err)
	}
	req, err := s.RequestMap(staging, 0, size)
	if err != nil {
		t.Fatalf("RequestMap() error = %v", err)
	}
	if _, err := s.RequestMap(staging, 0, size); !errors.Is(err, ErrMapOutstanding) {
		t.Fatalf("second RequestMap() error = %v, want ErrMapOutstanding", err)
	}

	// The rejected request did not disturb the first.
	m, err := req.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if err := m.Release(); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if err := m.Release(); !errors.Is(err, ErrReleased) {
		t.Errorf("second Release() error = %v, want ErrReleased", err)
	}
}

func TestSynchronizer_OutOfOrder(t *testing.T) {
	d := simgpu.New()
	defer d.Close()
	staging, cmd, size := stage(t, d, []uint32{1})

	s := NewSynchronizer(d)
	if _, err := s.RequestMap(staging, 0, size); !errors.Is(err, ErrInvalidState) {
		t.Errorf("RequestMap before Submit error = %v, want ErrInvalidState", err)
	}
	if err := s.Submit(cmd); err != nil {
		t.Fatal(err)
	}
	if err := s.Submit(cmd); !errors.Is(err, ErrInvalidState) {
		t.Errorf("second Submit error = %v, want ErrInvalidState", err)
	}
}

func TestSynchronizer_SubmitError(t *testing.T) {
	d := simgpu.New()
	defer d.Close()
	s := NewSynchronizer(d)
	if err := s.Submit(12345); !errors.Is(err, gpucore.ErrUnknownResource) {
		t.Fatalf("Submit() error = %v, want ErrUnknownResource", err)
	}
	if got := s.State(); got != StateIdle {
		t.Errorf("State() = %v, want Idle", got)
	}
}

func TestSynchronizer_Failures(t *testing.T) {
	tests := []struct {
		name    string
		faults  simgpu.Faults
		ctx     func() (context.Context, context.CancelFunc)
		opts    []Option
		wantErr error
		wantCtx error
	}{
		{
			name:    "map resolves with error",
			faults:  simgpu.Faults{FailMaps: true},
			wantErr: gpucore.ErrMappingFailed,
		},
		{
			name:    "timeout",
			faults:  simgpu.Faults{NeverSignal: true},
			opts:    []Option{WithTimeout(20 * time.Millisecond)},
			wantErr: gpucore.ErrCompletionNeverSignaled,
			wantCtx: context.DeadlineExceeded,
		},
		{
			name:   "context cancelled",
			faults: simgpu.Faults{NeverSignal: true},
			ctx: func() (context.Context, context.CancelFunc) {
				ctx, cancel := context.WithCancel(context.Background())
				cancel()
				return ctx, func() {}
			},
			opts:    []Option{WithTimeout(0)},
			wantErr: gpucore.ErrCompletionNeverSignaled,
			wantCtx: context.Canceled,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := simgpu.New(simgpu.WithFaults(tt.faults))
			defer d.Close()
			staging, cmd, size := stage(t, d, []uint32{7, 8, 9, 10})

			ctx, cancel := context.Background(), context.CancelFunc(func() {})
			if tt.ctx != nil {
				ctx, cancel = tt.ctx()
			}
			defer cancel()

			s := NewSynchronizer(d, tt.opts...)
			if err := s.Submit(cmd); err != nil {
				t.Fatal(err)
			}
			req, err := s.RequestMap(staging, 0, size)
			if err != nil {
				t.Fatalf("RequestMap() error = %v", err)
			}
			m, err := req.Wait(ctx)
			if m != nil {
				t.Fatal("Wait() returned a mapped view on failure")
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Wait() error = %v, want %v", err, tt.wantErr)
			}
			if tt.wantCtx != nil && !errors.Is(err, tt.wantCtx) {
				t.Errorf("Wait() error = %v, want it to wrap %v", err, tt.wantCtx)
			}
			if got := s.State(); got != StateFailed {
				t.Errorf("State() = %v, want Failed", got)
			}
			if s.Outstanding(staging) {
				t.Error("request slot not released")
			}
			if ms := d.MapState(staging); ms != gpucore.MapStateUnmapped {
				t.Errorf("MapState() = %v, want Unmapped", ms)
			}
		})
	}
}

func TestSynchronizer_MapAsyncRejected(t *testing.T) {
	d := simgpu.New()
	defer d.Close()
	_, cmd, _ := stage(t, d, []uint32{1})
	notMappable, err := d.CreateBuffer(&gpucore.BufferDesc{Size: 4, Usage: gpucore.BufferUsageStorage})
	if err != nil {
		t.Fatal(err)
	}

	s := NewSynchronizer(d)
	if err := s.Submit(cmd); err != nil {
		t.Fatal(err)
	}
	_, err = s.RequestMap(notMappable, 0, 4)
	if !errors.Is(err, gpucore.ErrMappingFailed) || !errors.Is(err, gpucore.ErrInvalidUsage) {
		t.Fatalf("RequestMap() error = %v, want ErrMappingFailed wrapping ErrInvalidUsage", err)
	}
	if s.Outstanding(notMappable) {
		t.Error("rejected request left the slot occupied")
	}
}

func TestSynchronizer_ExternalPolling(t *testing.T) {
	d := simgpu.New(simgpu.WithAsyncCompletion())
	defer d.Close()
	vals := []uint32{5, 6, 7}
	staging, cmd, size := stage(t, d, vals)

	var polls atomic.Int64
	s := NewSynchronizer(countingDevice{Device: d, polls: &polls})
	if err := s.Submit(cmd); err != nil {
		t.Fatal(err)
	}
	req, err := s.RequestMap(staging, 0, size)
	if err != nil {
		t.Fatal(err)
	}
	m, err := req.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	got, err := m.Decode()
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if !reflect.DeepEqual(got, vals) {
		t.Errorf("Decode() = %v, want %v", got, vals)
	}
	if n := polls.Load(); n != 0 {
		t.Errorf("Wait polled %d times on a self-driving device, want 0", n)
	}
}

func TestSynchronizer_PollsWhenRequired(t *testing.T) {
	d := simgpu.New()
	defer d.Close()
	staging, cmd, size := stage(t, d, []uint32{1, 2, 3, 4})

	var polls atomic.Int64
	s := NewSynchronizer(countingDevice{Device: d, polls: &polls})
	_ = s.Submit(cmd)
	req, _ := s.RequestMap(staging, 0, size)
	m, err := req.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	defer m.Release()
	if polls.Load() == 0 {
		t.Error("Wait did not poll the device")
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateIdle, "Idle"},
		{StateSubmitted, "Submitted"},
		{StateMapRequested, "MapRequested"},
		{StateDevicePolling, "DevicePolling"},
		{StateSignalReceived, "SignalReceived"},
		{StateMapped, "Mapped"},
		{StateFailed, "Failed"},
		{State(99), "Unknown(99)"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}
