package gpucore

import "errors"

// Device-level failure classes. Implementations wrap these with
// fmt.Errorf("%w: ...") so callers can classify failures with errors.Is.
var (
	// ErrAdapterUnavailable is returned when no compatible adapter exists.
	ErrAdapterUnavailable = errors.New("gpucore: no compatible adapter")

	// ErrDeviceCreationFailed is returned when feature or limit negotiation
	// fails, or the device cannot be opened.
	ErrDeviceCreationFailed = errors.New("gpucore: device creation failed")

	// ErrResourceExhausted is returned when an allocation exceeds device
	// limits or the device runs out of memory.
	ErrResourceExhausted = errors.New("gpucore: device resources exhausted")

	// ErrShaderCompilation is returned when a shader or pipeline fails to build.
	ErrShaderCompilation = errors.New("gpucore: shader compilation failed")

	// ErrMappingFailed is returned when an async mapping resolves with an error.
	ErrMappingFailed = errors.New("gpucore: buffer mapping failed")

	// ErrCompletionNeverSignaled is returned when a mapping callback does not
	// fire before the caller's deadline.
	ErrCompletionNeverSignaled = errors.New("gpucore: completion never signaled")
)

// Validation errors.
var (
	// ErrUnknownResource is returned when an ID does not name a live resource.
	ErrUnknownResource = errors.New("gpucore: unknown resource id")

	// ErrInvalidBufferSize is returned for zero-sized or misaligned buffers.
	ErrInvalidBufferSize = errors.New("gpucore: invalid buffer size")

	// ErrInvalidUsage is returned when usage flags do not permit an operation.
	ErrInvalidUsage = errors.New("gpucore: buffer usage does not permit operation")

	// ErrFeatureMissing is returned when an operation needs a feature the
	// device was not created with.
	ErrFeatureMissing = errors.New("gpucore: required feature not enabled")

	// ErrMapAlreadyPending is returned when MapAsync is called on a buffer
	// with a mapping already in flight.
	ErrMapAlreadyPending = errors.New("gpucore: buffer mapping already pending")

	// ErrMapAlreadyMapped is returned when MapAsync is called on a mapped buffer.
	ErrMapAlreadyMapped = errors.New("gpucore: buffer is already mapped")

	// ErrNotMapped is returned when accessing bytes of an unmapped buffer.
	ErrNotMapped = errors.New("gpucore: buffer is not mapped")

	// ErrMapRange is returned when a map range is misaligned or out of bounds.
	ErrMapRange = errors.New("gpucore: invalid map range")

	// ErrBufferInUse is returned when a submission references a buffer that
	// is mapped or has a mapping pending.
	ErrBufferInUse = errors.New("gpucore: buffer is mapped and cannot be used by the GPU")

	// ErrEncoderFinished is returned when recording into a sealed encoder.
	ErrEncoderFinished = errors.New("gpucore: encoder already finished")

	// ErrPassOpen is returned when recording outside a pass while one is open,
	// or finishing an encoder with an open pass.
	ErrPassOpen = errors.New("gpucore: compute pass still open")

	// ErrPassEnded is returned when recording into an ended compute pass.
	ErrPassEnded = errors.New("gpucore: compute pass has already ended")

	// ErrCopyRange is returned when a buffer copy is misaligned or out of bounds.
	ErrCopyRange = errors.New("gpucore: copy range out of bounds")

	// ErrAlreadySubmitted is returned when a command buffer is submitted twice.
	ErrAlreadySubmitted = errors.New("gpucore: command buffer already submitted")
)
