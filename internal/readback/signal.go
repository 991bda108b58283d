package readback

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// SignalKind tags a completion Signal.
type SignalKind int

const (
	// SignalPending means the map callback has not fired.
	SignalPending SignalKind = iota

	// SignalReady means the mapping succeeded.
	SignalReady

	// SignalFailed means the mapping resolved with an error.
	SignalFailed
)

// String returns the string representation of SignalKind.
func (k SignalKind) String() string {
	switch k {
	case SignalPending:
		return "Pending"
	case SignalReady:
		return "Ready"
	case SignalFailed:
		return "Failed"
	default:
		return fmt.Sprintf("Unknown(%d)", int(k))
	}
}

// Signal is the outcome of one map request.
type Signal struct {
	kind SignalKind
	err  error
}

// Kind returns the signal tag.
func (s Signal) Kind() SignalKind { return s.kind }

// Err returns the failure for SignalFailed and nil otherwise.
func (s Signal) Err() error { return s.err }

// String returns the string representation of Signal.
func (s Signal) String() string {
	if s.err != nil {
		return fmt.Sprintf("%v(%v)", s.kind, s.err)
	}
	return s.kind.String()
}

// oneshot carries exactly one Signal from the map callback to the waiter.
// fire never blocks, so the callback may run inside Poll on the waiting
// goroutine or on a device goroutine.
type oneshot struct {
	once sync.Once
	ch   chan Signal
	last atomic.Pointer[Signal]
}

func newOneshot() *oneshot {
	return &oneshot{ch: make(chan Signal, 1)}
}

// fire delivers s. Only the first call has an effect; it reports whether
// this call was the one delivered.
func (o *oneshot) fire(s Signal) bool {
	fired := false
	o.once.Do(func() {
		o.last.Store(&s)
		o.ch <- s
		fired = true
	})
	return fired
}

// peek returns the delivered signal without consuming it.
func (o *oneshot) peek() Signal {
	if s := o.last.Load(); s != nil {
		return *s
	}
	return Signal{kind: SignalPending}
}
