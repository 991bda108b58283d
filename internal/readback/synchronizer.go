// Package readback turns a submitted command sequence into host-readable
// data.
//
// A Synchronizer walks one round trip through the completion protocol:
// submit, request a read mapping of the staging buffer, drive the device
// until the map callback fires, then hand out a Mapped view. Mapped is the
// only way to reach the staging bytes, and Decode copies them out before
// the buffer is unmapped.
//
// The map callback and the waiter meet through a one-shot channel. The
// callback may fire inside Poll on the waiting goroutine or on a device
// goroutine; neither blocks.
package readback

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gogpu/gpuprobe/gpucore"
	"github.com/gogpu/gpuprobe/internal/probelog"
)

// Default wait parameters.
const (
	DefaultTimeout      = 5 * time.Second
	DefaultPollInterval = time.Millisecond
)

// Errors returned by the synchronizer.
var (
	// ErrMapOutstanding is returned by RequestMap when the buffer already
	// has an unresolved request.
	ErrMapOutstanding = errors.New("readback: map request already outstanding for buffer")

	// ErrInvalidState is returned when an operation is called out of order.
	ErrInvalidState = errors.New("readback: operation not valid in current state")

	// ErrConsumed is returned by a second Wait on the same request.
	ErrConsumed = errors.New("readback: completion signal already consumed")

	// ErrReleased is returned when a Mapped view is used after Decode or Release.
	ErrReleased = errors.New("readback: mapped view already released")
)

// Option configures a Synchronizer.
type Option func(*Synchronizer)

// WithTimeout bounds Wait. Zero disables the bound; the context still applies.
func WithTimeout(d time.Duration) Option {
	return func(s *Synchronizer) { s.timeout = d }
}

// WithPollInterval sets how often Wait drives the device.
func WithPollInterval(d time.Duration) Option {
	return func(s *Synchronizer) {
		if d > 0 {
			s.interval = d
		}
	}
}

// Synchronizer runs the completion protocol for one workload.
//
// Thread Safety:
// Methods may be called from any goroutine, but a round trip is a single
// sequential flow and is expected to be driven from one.
type Synchronizer struct {
	dev      gpucore.Device
	timeout  time.Duration
	interval time.Duration

	mu          sync.Mutex
	state       State
	outstanding map[gpucore.BufferID]*Request
}

// NewSynchronizer creates a synchronizer in StateIdle.
func NewSynchronizer(dev gpucore.Device, opts ...Option) *Synchronizer {
	s := &Synchronizer{
		dev:         dev,
		timeout:     DefaultTimeout,
		interval:    DefaultPollInterval,
		outstanding: make(map[gpucore.BufferID]*Request),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State returns the current protocol state.
func (s *Synchronizer) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Outstanding reports whether buf has an unresolved map request.
func (s *Synchronizer) Outstanding(buf gpucore.BufferID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.outstanding[buf]
	return ok
}

func (s *Synchronizer) setLocked(to State) {
	if s.state == to {
		return
	}
	probelog.Logger().Debug("readback: transition", "from", s.state, "to", to)
	s.state = to
}

func (s *Synchronizer) set(to State) {
	s.mu.Lock()
	s.setLocked(to)
	s.mu.Unlock()
}

// Submit hands finished command buffers to the queue without waiting.
func (s *Synchronizer) Submit(cmds ...gpucore.CommandBufferID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateIdle {
		return fmt.Errorf("%w: Submit in %v", ErrInvalidState, s.state)
	}
	if err := s.dev.Submit(cmds...); err != nil {
		return fmt.Errorf("readback: submit: %w", err)
	}
	s.setLocked(StateSubmitted)
	return nil
}

// RequestMap asks for a read mapping of [offset, offset+size) of buf.
// It returns immediately. Only one request per buffer may be outstanding.
func (s *Synchronizer) RequestMap(buf gpucore.BufferID, offset, size uint64) (*Request, error) {
	s.mu.Lock()
	if _, busy := s.outstanding[buf]; busy {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: buffer %d", ErrMapOutstanding, buf)
	}
	if s.state != StateSubmitted && s.state != StateMapRequested {
		st := s.state
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: RequestMap in %v", ErrInvalidState, st)
	}
	r := &Request{s: s, buf: buf, offset: offset, size: size, signal: newOneshot()}
	s.outstanding[buf] = r
	s.setLocked(StateMapRequested)
	s.mu.Unlock()

	// MapAsync may fire the callback before returning; the oneshot buffers it.
	err := s.dev.MapAsync(buf, gpucore.MapModeRead, offset, size, r.callback)
	if err != nil {
		s.mu.Lock()
		delete(s.outstanding, buf)
		s.setLocked(StateFailed)
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %w", gpucore.ErrMappingFailed, err)
	}
	probelog.Logger().Debug("readback: map requested", "buffer", buf, "offset", offset, "bytes", size)
	return r, nil
}

// release frees the outstanding slot held by r.
func (s *Synchronizer) release(r *Request) {
	s.mu.Lock()
	if s.outstanding[r.buf] == r {
		delete(s.outstanding, r.buf)
	}
	s.mu.Unlock()
}

// Request is one outstanding map request.
type Request struct {
	s      *Synchronizer
	buf    gpucore.BufferID
	offset uint64
	size   uint64
	signal *oneshot

	mu       sync.Mutex
	consumed bool
}

func (r *Request) callback(status gpucore.MapStatus) {
	if status == gpucore.MapStatusSuccess {
		r.signal.fire(Signal{kind: SignalReady})
		return
	}
	r.signal.fire(Signal{
		kind: SignalFailed,
		err:  fmt.Errorf("%w: map resolved with %v", gpucore.ErrMappingFailed, status),
	})
}

// Signal returns the request's completion signal without consuming it.
func (r *Request) Signal() Signal {
	return r.signal.peek()
}

// Wait drives the device until the map callback fires and returns the
// mapped view. Unless the device polls itself, Wait calls Poll between
// checks. A timeout or cancelled ctx returns ErrCompletionNeverSignaled
// and cancels the map. Wait consumes the signal; a second call fails.
func (r *Request) Wait(ctx context.Context) (*Mapped, error) {
	r.mu.Lock()
	if r.consumed {
		r.mu.Unlock()
		return nil, ErrConsumed
	}
	r.consumed = true
	r.mu.Unlock()

	s := r.s
	s.set(StateDevicePolling)

	var deadline <-chan time.Time
	if s.timeout > 0 {
		timer := time.NewTimer(s.timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	poll := !s.dev.ExternalPolling()
	var tick <-chan time.Time
	if poll {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	start := time.Now()
	for {
		if poll {
			s.dev.Poll(false)
		}
		select {
		case sig := <-r.signal.ch:
			return r.resolve(sig)
		case <-ctx.Done():
			return nil, r.abandon(ctx.Err(), time.Since(start))
		case <-deadline:
			return nil, r.abandon(context.DeadlineExceeded, time.Since(start))
		case <-tick:
		}
	}
}

func (r *Request) resolve(sig Signal) (*Mapped, error) {
	s := r.s
	if sig.kind != SignalReady {
		s.release(r)
		s.set(StateFailed)
		return nil, sig.err
	}
	s.set(StateSignalReceived)

	view, err := s.dev.MappedRange(r.buf, r.offset, r.size)
	if err != nil {
		if uerr := s.dev.Unmap(r.buf); uerr != nil {
			probelog.Logger().Warn("readback: unmap after failed range", "buffer", r.buf, "err", uerr)
		}
		s.release(r)
		s.set(StateFailed)
		return nil, fmt.Errorf("%w: %w", gpucore.ErrMappingFailed, err)
	}
	s.set(StateMapped)
	return &Mapped{r: r, view: view}, nil
}

// abandon cancels the pending map and frees the slot.
func (r *Request) abandon(cause error, waited time.Duration) error {
	s := r.s
	if err := s.dev.Unmap(r.buf); err != nil {
		probelog.Logger().Warn("readback: cancel pending map", "buffer", r.buf, "err", err)
	}
	s.release(r)
	s.set(StateFailed)
	return fmt.Errorf("%w: no signal for buffer %d after %v: %w",
		gpucore.ErrCompletionNeverSignaled, r.buf, waited.Round(time.Millisecond), cause)
}

// Mapped is a host-readable view of a staging buffer. It exists only
// after the map callback signalled success.
type Mapped struct {
	r *Request

	mu   sync.Mutex
	view []byte
}

// Len returns the number of mapped bytes, or 0 after release.
func (m *Mapped) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.view)
}

// Decode copies the mapped bytes out as native-endian u32 values, drops
// the view and unmaps the buffer, in that order. The synchronizer returns
// to StateIdle.
func (m *Mapped) Decode() ([]uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.view == nil {
		return nil, ErrReleased
	}
	values, derr := DecodeU32(m.view)
	if err := m.releaseLocked(); err != nil {
		return nil, err
	}
	if derr != nil {
		return nil, derr
	}
	return values, nil
}

// Release unmaps the buffer without reading it.
func (m *Mapped) Release() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.view == nil {
		return ErrReleased
	}
	return m.releaseLocked()
}

func (m *Mapped) releaseLocked() error {
	m.view = nil
	s := m.r.s
	err := s.dev.Unmap(m.r.buf)
	s.release(m.r)
	if err != nil {
		s.set(StateFailed)
		return fmt.Errorf("readback: unmap: %w", err)
	}
	s.set(StateIdle)
	return nil
}
