package readback

import "fmt"

// State is the position of a Synchronizer in the readback protocol.
//
// State Machine:
//
//	Idle -> Submit -> Submitted -> RequestMap -> MapRequested
//	MapRequested -> Wait -> DevicePolling -> callback -> SignalReceived -> Mapped
//	Mapped -> Decode/Release -> Idle
//	any failure -> Failed
type State int

const (
	// StateIdle means nothing is in flight.
	StateIdle State = iota

	// StateSubmitted means commands were handed to the queue.
	StateSubmitted

	// StateMapRequested means a host mapping was requested.
	StateMapRequested

	// StateDevicePolling means the waiter is driving the device.
	StateDevicePolling

	// StateSignalReceived means the map callback fired with success.
	StateSignalReceived

	// StateMapped means the staging bytes are host-readable.
	StateMapped

	// StateFailed means the round trip failed and the synchronizer is spent.
	StateFailed
)

// String returns the string representation of State.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateSubmitted:
		return "Submitted"
	case StateMapRequested:
		return "MapRequested"
	case StateDevicePolling:
		return "DevicePolling"
	case StateSignalReceived:
		return "SignalReceived"
	case StateMapped:
		return "Mapped"
	case StateFailed:
		return "Failed"
	default:
		return fmt.Sprintf("Unknown(%d)", int(s))
	}
}
